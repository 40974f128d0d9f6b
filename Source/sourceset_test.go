package Source

import (
	"context"
	"errors"
	"math"
	"testing"

	"mosaic-platform/Pyramid"
	"mosaic-platform/logger"
)

// fakeProvider 可编排的测试数据源，按 key.String() 存放数据
type fakeProvider struct {
	name    string
	profile *Pyramid.Profile
	enabled bool
	images  map[string]*Pyramid.Image
	grids   map[string]*Pyramid.HeightField
	blocked map[string]bool
	deny    map[string]bool
	errKeys map[string]error

	imageCalls int
	gridCalls  int
}

func newFakeProvider(name string, profile *Pyramid.Profile) *fakeProvider {
	return &fakeProvider{
		name:    name,
		profile: profile,
		enabled: true,
		images:  make(map[string]*Pyramid.Image),
		grids:   make(map[string]*Pyramid.HeightField),
		blocked: make(map[string]bool),
		deny:    make(map[string]bool),
		errKeys: make(map[string]error),
	}
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Profile() *Pyramid.Profile { return f.profile }

func (f *fakeProvider) Enabled() bool { return f.enabled }

func (f *fakeProvider) MayHaveData(key Pyramid.TileKey) bool { return !f.deny[key.String()] }

func (f *fakeProvider) IsBlacklisted(key Pyramid.TileKey) bool { return f.blocked[key.String()] }

func (f *fakeProvider) FetchImage(ctx context.Context, key Pyramid.TileKey) (*Pyramid.Image, error) {
	f.imageCalls++
	if err := f.errKeys[key.String()]; err != nil {
		return nil, err
	}
	if img, ok := f.images[key.String()]; ok {
		return img, nil
	}
	return nil, ErrTileNotFound
}

func (f *fakeProvider) FetchHeightfield(ctx context.Context, key Pyramid.TileKey) (*Pyramid.HeightField, error) {
	f.gridCalls++
	if err := f.errKeys[key.String()]; err != nil {
		return nil, err
	}
	if grid, ok := f.grids[key.String()]; ok {
		return grid, nil
	}
	return nil, ErrTileNotFound
}

func (f *fakeProvider) putImage(key Pyramid.TileKey, data string) {
	f.images[key.String()] = &Pyramid.Image{Data: []byte(data), MIME: "image/png"}
}

// planeGrid 构造采样值为 lon+2*lat 的平面格网，双线性插值对它是精确的
func planeGrid(cols, rows uint32, extent Pyramid.GeoExtent) *Pyramid.HeightField {
	h := Pyramid.NewHeightField(cols, rows, extent)
	for r := uint32(0); r < rows; r++ {
		y := extent.MinY + extent.Height()*float64(r)/float64(rows-1)
		for c := uint32(0); c < cols; c++ {
			x := extent.MinX + extent.Width()*float64(c)/float64(cols-1)
			h.Set(c, r, float32(x+2*y))
		}
	}
	return h
}

func quietOptions() Options {
	return Options{Logger: &logger.NopLogger{}}
}

func TestNewSourceSetReconciliation(t *testing.T) {
	geo := Pyramid.GeodeticProfile()
	merc := Pyramid.MercatorProfile()

	tests := []struct {
		name     string
		images   []*fakeProvider
		override *Pyramid.Profile
		wantKept []string
		wantKind Pyramid.ProfileKind
	}{
		{
			// 经纬度工作剖面可以接纳墨卡托数据源
			name:     "geodetic working keeps mercator provider",
			images:   []*fakeProvider{newFakeProvider("a", geo), newFakeProvider("b", merc)},
			wantKept: []string{"a", "b"},
			wantKind: Pyramid.ProfileGeodetic,
		},
		{
			// 反方向不成立：墨卡托工作剖面丢弃经纬度数据源
			name:     "mercator working drops geodetic provider",
			images:   []*fakeProvider{newFakeProvider("a", merc), newFakeProvider("b", geo)},
			wantKept: []string{"a"},
			wantKind: Pyramid.ProfileMercator,
		},
		{
			// 显式覆盖先于数据源剖面生效
			name:     "override beats provider order",
			images:   []*fakeProvider{newFakeProvider("a", geo), newFakeProvider("b", merc)},
			override: merc,
			wantKept: []string{"b"},
			wantKind: Pyramid.ProfileMercator,
		},
		{
			// 未知剖面的数据源总是被丢弃
			name:     "unknown profile provider dropped",
			images:   []*fakeProvider{newFakeProvider("a", geo), newFakeProvider("b", Pyramid.UnknownProfile())},
			wantKept: []string{"a"},
			wantKind: Pyramid.ProfileGeodetic,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			providers := make([]TileProvider, len(tt.images))
			for i, p := range tt.images {
				providers[i] = p
			}
			opts := quietOptions()
			opts.ProfileOverride = tt.override

			set, err := NewSourceSet(providers, nil, opts)
			if err != nil {
				t.Fatalf("NewSourceSet() error = %v", err)
			}
			if !set.Valid() {
				t.Fatalf("Valid() = false, want true")
			}
			if got := set.WorkingProfile().Kind; got != tt.wantKind {
				t.Errorf("WorkingProfile().Kind = %v, want %v", got, tt.wantKind)
			}

			kept := set.ImageProviders()
			if len(kept) != len(tt.wantKept) {
				t.Fatalf("len(ImageProviders()) = %d, want %d", len(kept), len(tt.wantKept))
			}
			for i, name := range tt.wantKept {
				if kept[i].Name() != name {
					t.Errorf("ImageProviders()[%d].Name() = %q, want %q", i, kept[i].Name(), name)
				}
			}
		})
	}
}

func TestNewSourceSetProjectedEquality(t *testing.T) {
	// Projected 剖面只认结构相等，不参与任何替代
	extA := Pyramid.GeoExtent{MinX: 0, MinY: 0, MaxX: 1000, MaxY: 1000}
	extB := Pyramid.GeoExtent{MinX: 0, MinY: 0, MaxX: 2000, MaxY: 2000}
	projA := Pyramid.ProjectedProfile(extA, 1, 1, "EPSG:32650")
	projA2 := Pyramid.ProjectedProfile(extA, 1, 1, "EPSG:32650")
	projB := Pyramid.ProjectedProfile(extB, 1, 1, "EPSG:32651")

	set, err := NewSourceSet([]TileProvider{
		newFakeProvider("a", projA),
		newFakeProvider("same", projA2),
		newFakeProvider("other", projB),
		newFakeProvider("geo", Pyramid.GeodeticProfile()),
	}, nil, quietOptions())
	if err != nil {
		t.Fatalf("NewSourceSet() error = %v", err)
	}

	kept := set.ImageProviders()
	if len(kept) != 2 || kept[0].Name() != "a" || kept[1].Name() != "same" {
		names := make([]string, len(kept))
		for i, p := range kept {
			names[i] = p.Name()
		}
		t.Errorf("kept providers = %v, want [a same]", names)
	}
}

func TestNewSourceSetValidity(t *testing.T) {
	ext := Pyramid.GeoExtent{MinX: 0, MinY: 0, MaxX: 1000, MaxY: 1000}

	tests := []struct {
		name       string
		images     []TileProvider
		elevations []TileProvider
		opts       Options
		wantErr    error
	}{
		{
			name:    "zero providers",
			wantErr: ErrNoValidSources,
		},
		{
			// 有数据源但全部剖面未知：剖面无法确定
			name:    "all unknown profiles",
			images:  []TileProvider{newFakeProvider("a", Pyramid.UnknownProfile())},
			wantErr: ErrProfileUnresolved,
		},
		{
			// 平面投影剖面无法服务地心消费方
			name:    "projected with geocentric consumer",
			images:  []TileProvider{newFakeProvider("a", Pyramid.ProjectedProfile(ext, 1, 1, "EPSG:32650"))},
			opts:    Options{Geocentric: true},
			wantErr: ErrGeocentricProjected,
		},
		{
			// 过滤后一个不剩也算零数据源
			name:    "all dropped by override",
			images:  []TileProvider{newFakeProvider("a", Pyramid.GeodeticProfile())},
			opts:    Options{ProfileOverride: Pyramid.MercatorProfile()},
			wantErr: ErrNoValidSources,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			opts.Logger = &logger.NopLogger{}
			set, err := NewSourceSet(tt.images, tt.elevations, opts)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("NewSourceSet() error = %v, want %v", err, tt.wantErr)
			}
			if set == nil {
				t.Fatal("NewSourceSet() returned nil set")
			}
			if set.Valid() {
				t.Error("Valid() = true, want false")
			}
			if !errors.Is(set.Err(), tt.wantErr) {
				t.Errorf("Err() = %v, want %v", set.Err(), tt.wantErr)
			}
		})
	}
}

func TestInvalidSetNeverFetches(t *testing.T) {
	// 无效集合拒绝取数，不触碰任何数据源
	p := newFakeProvider("a", Pyramid.UnknownProfile())
	set, _ := NewSourceSet([]TileProvider{p}, nil, quietOptions())

	key := Pyramid.NewTileKey(2, 1, 1, Pyramid.GeodeticProfile())
	if _, _, err := set.FetchImage(context.Background(), key); !errors.Is(err, ErrInvalidSet) {
		t.Errorf("FetchImage() error = %v, want %v", err, ErrInvalidSet)
	}
	if _, err := set.FetchHeightfield(context.Background(), key, 9, 9); !errors.Is(err, ErrInvalidSet) {
		t.Errorf("FetchHeightfield() error = %v, want %v", err, ErrInvalidSet)
	}
	if p.imageCalls != 0 || p.gridCalls != 0 {
		t.Errorf("provider touched %d/%d times, want 0/0", p.imageCalls, p.gridCalls)
	}
}

func TestFetchImageSourceKey(t *testing.T) {
	geo := Pyramid.GeodeticProfile()
	key := Pyramid.NewTileKey(3, 5, 2, geo)
	ancestor, _ := key.AncestorAt(1)

	t.Run("direct hit", func(t *testing.T) {
		p := newFakeProvider("a", geo)
		p.putImage(key, "exact")
		set, _ := NewSourceSet([]TileProvider{p}, nil, quietOptions())

		img, srcKey, err := set.FetchImage(context.Background(), key)
		if err != nil {
			t.Fatalf("FetchImage() error = %v", err)
		}
		if !srcKey.Equals(key) {
			t.Errorf("sourceKey = %s, want %s", srcKey, key)
		}
		if string(img.Data) != "exact" {
			t.Errorf("payload = %q, want %q", img.Data, "exact")
		}
	})

	t.Run("fallback hit returns strict ancestor", func(t *testing.T) {
		p := newFakeProvider("a", geo)
		p.putImage(ancestor, "coarse")
		set, _ := NewSourceSet([]TileProvider{p}, nil, quietOptions())

		img, srcKey, err := set.FetchImage(context.Background(), key)
		if err != nil {
			t.Fatalf("FetchImage() error = %v", err)
		}
		if srcKey.Equals(key) {
			t.Error("sourceKey equals requested key, want a strict ancestor")
		}
		if !srcKey.IsAncestorOf(key) {
			t.Errorf("sourceKey %s is not an ancestor of %s", srcKey, key)
		}
		if string(img.Data) != "coarse" {
			t.Errorf("payload = %q, want %q", img.Data, "coarse")
		}
	})

	t.Run("total miss after root", func(t *testing.T) {
		p := newFakeProvider("a", geo)
		set, _ := NewSourceSet([]TileProvider{p}, nil, quietOptions())

		_, _, err := set.FetchImage(context.Background(), key)
		if !errors.Is(err, ErrTileNotFound) {
			t.Fatalf("FetchImage() error = %v, want %v", err, ErrTileNotFound)
		}
		// 走完 3,2,1,0 四层，每层一次
		if p.imageCalls != 4 {
			t.Errorf("provider called %d times, want 4", p.imageCalls)
		}
	})
}

func TestFetchImageBlacklistExactKeyOnly(t *testing.T) {
	// 黑名单只挡精确键，回退仍会尝试祖先
	geo := Pyramid.GeodeticProfile()
	key := Pyramid.NewTileKey(3, 5, 2, geo)
	parent, _ := key.Ancestor()

	p := newFakeProvider("a", geo)
	p.putImage(key, "exact")
	p.putImage(parent, "coarse")
	p.blocked[key.String()] = true
	set, _ := NewSourceSet([]TileProvider{p}, nil, quietOptions())

	img, srcKey, err := set.FetchImage(context.Background(), key)
	if err != nil {
		t.Fatalf("FetchImage() error = %v", err)
	}
	if !srcKey.Equals(parent) {
		t.Errorf("sourceKey = %s, want %s", srcKey, parent)
	}
	if string(img.Data) != "coarse" {
		t.Errorf("payload = %q, want %q", img.Data, "coarse")
	}
}

func TestFetchImageProviderErrorFallsBack(t *testing.T) {
	// 数据源的真实错误对回退而言等同于无数据
	geo := Pyramid.GeodeticProfile()
	key := Pyramid.NewTileKey(2, 2, 1, geo)
	parent, _ := key.Ancestor()

	p := newFakeProvider("a", geo)
	p.errKeys[key.String()] = errors.New("io broken")
	p.putImage(parent, "coarse")
	set, _ := NewSourceSet([]TileProvider{p}, nil, quietOptions())

	img, srcKey, err := set.FetchImage(context.Background(), key)
	if err != nil {
		t.Fatalf("FetchImage() error = %v", err)
	}
	if !srcKey.Equals(parent) || string(img.Data) != "coarse" {
		t.Errorf("got (%q, %s), want (%q, %s)", img.Data, srcKey, "coarse", parent)
	}
}

func TestFetchImageCancellation(t *testing.T) {
	// 取消要在第一次尝试之前就被发现，且与无数据可区分
	geo := Pyramid.GeodeticProfile()
	p := newFakeProvider("a", geo)
	p.putImage(Pyramid.NewTileKey(2, 2, 1, geo), "data")
	set, _ := NewSourceSet([]TileProvider{p}, nil, quietOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := set.FetchImage(ctx, Pyramid.NewTileKey(2, 2, 1, geo))
	if !errors.Is(err, ErrFetchCancelled) {
		t.Fatalf("FetchImage() error = %v, want %v", err, ErrFetchCancelled)
	}
	if errors.Is(err, ErrTileNotFound) {
		t.Error("cancelled fetch must not look like tile-not-found")
	}
	if p.imageCalls != 0 {
		t.Errorf("provider called %d times after cancel, want 0", p.imageCalls)
	}
}

func TestFetchImageMultiProviderOrder(t *testing.T) {
	// 第一个给出数据的数据源胜出，后面的不再尝试
	geo := Pyramid.GeodeticProfile()
	key := Pyramid.NewTileKey(1, 1, 0, geo)

	first := newFakeProvider("first", geo)
	second := newFakeProvider("second", geo)
	second.putImage(key, "from-second")
	third := newFakeProvider("third", geo)
	third.putImage(key, "from-third")

	set, _ := NewSourceSet([]TileProvider{first, second, third}, nil, quietOptions())
	img, _, err := set.FetchImage(context.Background(), key)
	if err != nil {
		t.Fatalf("FetchImage() error = %v", err)
	}
	if string(img.Data) != "from-second" {
		t.Errorf("payload = %q, want %q", img.Data, "from-second")
	}
	if third.imageCalls != 0 {
		t.Errorf("third provider called %d times, want 0", third.imageCalls)
	}
}

func TestFetchImageLayers(t *testing.T) {
	geo := Pyramid.GeodeticProfile()
	key := Pyramid.NewTileKey(1, 1, 0, geo)

	a := newFakeProvider("a", geo)
	a.putImage(key, "layer-a")
	b := newFakeProvider("b", geo)
	c := newFakeProvider("c", geo)
	c.putImage(key, "layer-c")

	set, _ := NewSourceSet([]TileProvider{a, b, c}, nil, quietOptions())
	layers, err := set.FetchImageLayers(context.Background(), key)
	if err != nil {
		t.Fatalf("FetchImageLayers() error = %v", err)
	}
	if len(layers) != 2 {
		t.Fatalf("len(layers) = %d, want 2", len(layers))
	}
	if layers[0].Provider != "a" || layers[1].Provider != "c" {
		t.Errorf("layer order = [%s %s], want [a c]", layers[0].Provider, layers[1].Provider)
	}
}

func TestFetchHeightfieldAlignment(t *testing.T) {
	geo := Pyramid.GeodeticProfile()
	// 请求 2 级瓦片，数据只在两层之上的 0 级根瓦片
	key := Pyramid.NewTileKey(2, 2, 1, geo)
	root, _ := key.AncestorAt(0)

	p := newFakeProvider("terrain", geo)
	p.grids[root.String()] = planeGrid(33, 33, root.Extent())
	set, _ := NewSourceSet(nil, []TileProvider{p}, quietOptions())

	grid, err := set.FetchHeightfield(context.Background(), key, 9, 9)
	if err != nil {
		t.Fatalf("FetchHeightfield() error = %v", err)
	}
	if grid.Cols != 9 || grid.Rows != 9 {
		t.Fatalf("grid size = %dx%d, want 9x9", grid.Cols, grid.Rows)
	}
	if !grid.Extent.Equals(key.Extent()) {
		t.Fatalf("grid extent = %s, want %s", grid.Extent, key.Extent())
	}

	// 平面函数经双线性抽取应保持精确
	for r := uint32(0); r < grid.Rows; r++ {
		y := grid.Extent.MinY + grid.Extent.Height()*float64(r)/float64(grid.Rows-1)
		for c := uint32(0); c < grid.Cols; c++ {
			x := grid.Extent.MinX + grid.Extent.Width()*float64(c)/float64(grid.Cols-1)
			want := x + 2*y
			got := float64(grid.At(c, r))
			if math.Abs(got-want) > 1e-3 {
				t.Fatalf("sample (%d,%d) = %v, want %v", c, r, got, want)
			}
		}
	}
}

func TestFetchHeightfieldDirectHitResampled(t *testing.T) {
	// 直接命中但分辨率不符时也要重采到请求分辨率
	geo := Pyramid.GeodeticProfile()
	key := Pyramid.NewTileKey(1, 1, 0, geo)

	p := newFakeProvider("terrain", geo)
	p.grids[key.String()] = planeGrid(17, 17, key.Extent())
	set, _ := NewSourceSet(nil, []TileProvider{p}, quietOptions())

	grid, err := set.FetchHeightfield(context.Background(), key, 9, 9)
	if err != nil {
		t.Fatalf("FetchHeightfield() error = %v", err)
	}
	if grid.Cols != 9 || grid.Rows != 9 {
		t.Errorf("grid size = %dx%d, want 9x9", grid.Cols, grid.Rows)
	}
	if !grid.Extent.Equals(key.Extent()) {
		t.Errorf("grid extent = %s, want %s", grid.Extent, key.Extent())
	}
}

func TestFetchHeightfieldDefaultSize(t *testing.T) {
	geo := Pyramid.GeodeticProfile()
	key := Pyramid.NewTileKey(1, 1, 0, geo)

	p := newFakeProvider("terrain", geo)
	p.grids[key.String()] = planeGrid(5, 5, key.Extent())
	set, _ := NewSourceSet(nil, []TileProvider{p}, quietOptions())

	grid, err := set.FetchHeightfield(context.Background(), key, 0, 0)
	if err != nil {
		t.Fatalf("FetchHeightfield() error = %v", err)
	}
	if grid.Cols != DefaultHeightfieldSize || grid.Rows != DefaultHeightfieldSize {
		t.Errorf("grid size = %dx%d, want %dx%d",
			grid.Cols, grid.Rows, DefaultHeightfieldSize, DefaultHeightfieldSize)
	}
}

func TestFetchHeightfieldMultiProvider(t *testing.T) {
	// 高程同样按顺序取第一个有数据的数据源
	geo := Pyramid.GeodeticProfile()
	key := Pyramid.NewTileKey(1, 1, 0, geo)

	empty := newFakeProvider("empty", geo)
	full := newFakeProvider("full", geo)
	full.grids[key.String()] = planeGrid(9, 9, key.Extent())

	set, _ := NewSourceSet(nil, []TileProvider{empty, full}, quietOptions())
	grid, err := set.FetchHeightfield(context.Background(), key, 9, 9)
	if err != nil {
		t.Fatalf("FetchHeightfield() error = %v", err)
	}
	if grid == nil {
		t.Fatal("FetchHeightfield() returned nil grid")
	}
	if empty.gridCalls == 0 {
		t.Error("first provider was never consulted")
	}
}

func TestFetchFromNamedProvider(t *testing.T) {
	geo := Pyramid.GeodeticProfile()
	key := Pyramid.NewTileKey(1, 1, 0, geo)

	a := newFakeProvider("a", geo)
	a.putImage(key, "layer-a")
	b := newFakeProvider("b", geo)
	b.putImage(key, "layer-b")
	set, _ := NewSourceSet([]TileProvider{a, b}, nil, quietOptions())

	img, srcKey, err := set.FetchImageFrom(context.Background(), "b", key)
	if err != nil {
		t.Fatalf("FetchImageFrom() error = %v", err)
	}
	if string(img.Data) != "layer-b" || !srcKey.Equals(key) {
		t.Errorf("got (%q, %s), want (%q, %s)", img.Data, srcKey, "layer-b", key)
	}

	if _, _, err := set.FetchImageFrom(context.Background(), "missing", key); err == nil {
		t.Error("FetchImageFrom() with unknown name should fail")
	}
}

func TestDisabledProviderSkipped(t *testing.T) {
	geo := Pyramid.GeodeticProfile()
	key := Pyramid.NewTileKey(1, 1, 0, geo)

	off := newFakeProvider("off", geo)
	off.enabled = false
	off.putImage(key, "should-not-see")
	on := newFakeProvider("on", geo)
	on.putImage(key, "visible")

	set, _ := NewSourceSet([]TileProvider{off, on}, nil, quietOptions())
	img, _, err := set.FetchImage(context.Background(), key)
	if err != nil {
		t.Fatalf("FetchImage() error = %v", err)
	}
	if string(img.Data) != "visible" {
		t.Errorf("payload = %q, want %q", img.Data, "visible")
	}
	if off.imageCalls != 0 {
		t.Errorf("disabled provider called %d times, want 0", off.imageCalls)
	}
}
