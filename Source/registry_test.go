package Source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"mosaic-platform/Pyramid"
	"mosaic-platform/config"
	"mosaic-platform/logger"
)

func buildCtx(store CacheStore) BuildContext {
	return BuildContext{Storage: store, Logger: &logger.NopLogger{}}
}

func TestDefaultRegistryDrivers(t *testing.T) {
	r := NewDefaultRegistry()
	got := r.Drivers()
	want := []string{DriverDir, DriverStore}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Drivers() = %v, want %v", got, want)
	}
}

func TestRegistryUnknownDriver(t *testing.T) {
	r := NewDefaultRegistry()
	_, err := r.Build(config.ProviderConfig{Name: "x", Driver: "nope"}, buildCtx(nil))
	if !errors.Is(err, ErrUnknownDriver) {
		t.Errorf("Build() error = %v, want %v", err, ErrUnknownDriver)
	}
}

func TestRegistryWrapsCache(t *testing.T) {
	r := NewDefaultRegistry()
	cfg := config.ProviderConfig{
		Name:     "imgs",
		Driver:   DriverDir,
		Profile:  "geodetic",
		Location: t.TempDir(),
		Cache:    true,
		Kinds:    []string{KindImage},
	}

	// 有存储时套缓存装饰器
	p, err := r.Build(cfg, buildCtx(newMemStore()))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if _, ok := p.(*CachedProvider); !ok {
		t.Errorf("Build() returned %T, want *CachedProvider", p)
	}

	// 没有存储时退化为裸数据源
	p, err = r.Build(cfg, buildCtx(nil))
	if err != nil {
		t.Fatalf("Build() without storage error = %v", err)
	}
	if _, ok := p.(*CachedProvider); ok {
		t.Error("Build() wrapped cache without storage")
	}
}

func TestRegistryCacheOnlyRequiresStorage(t *testing.T) {
	r := NewDefaultRegistry()
	cfg := config.ProviderConfig{
		Name:      "offline",
		Driver:    DriverDir,
		Location:  t.TempDir(),
		CacheOnly: true,
	}
	if _, err := r.Build(cfg, buildCtx(nil)); err == nil {
		t.Error("Build() cache-only without storage should fail")
	}
}

func TestRegistryBuildAllSplitsKinds(t *testing.T) {
	r := NewDefaultRegistry()
	dir := t.TempDir()
	cfgs := []config.ProviderConfig{
		{Name: "both", Driver: DriverDir, Profile: "geodetic", Location: dir,
			Kinds: []string{KindImage, KindHeightfield}},
		{Name: "imgonly", Driver: DriverDir, Profile: "geodetic", Location: dir},
	}

	images, elevations, err := r.BuildAll(cfgs, buildCtx(nil))
	if err != nil {
		t.Fatalf("BuildAll() error = %v", err)
	}
	if len(images) != 2 || len(elevations) != 1 {
		t.Errorf("BuildAll() split = %d images / %d elevations, want 2 / 1", len(images), len(elevations))
	}
	if images[0].Name() != "both" || images[1].Name() != "imgonly" {
		t.Errorf("image order = [%s %s], want [both imgonly]", images[0].Name(), images[1].Name())
	}
}

func TestDirProviderImageRoundTrip(t *testing.T) {
	geo := Pyramid.GeodeticProfile()
	key := Pyramid.NewTileKey(2, 1, 1, geo)
	root := t.TempDir()

	// 预置一块 png 瓦片文件
	tileDir := filepath.Join(root, KindImage, "2", "1")
	if err := os.MkdirAll(tileDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tileDir, "1.png"), []byte("png-bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := NewDirProvider(config.ProviderConfig{
		Name: "local", Driver: DriverDir, Profile: "geodetic", Location: root,
	}, buildCtx(nil))
	if err != nil {
		t.Fatalf("NewDirProvider() error = %v", err)
	}

	img, err := p.FetchImage(context.Background(), key)
	if err != nil {
		t.Fatalf("FetchImage() error = %v", err)
	}
	if string(img.Data) != "png-bytes" {
		t.Errorf("payload = %q, want %q", img.Data, "png-bytes")
	}
	if img.MIME != "image/png" {
		t.Errorf("MIME = %q, want image/png", img.MIME)
	}

	// 没有文件的键是干净的无数据
	miss := Pyramid.NewTileKey(2, 0, 0, geo)
	if _, err := p.FetchImage(context.Background(), miss); !errors.Is(err, ErrTileNotFound) {
		t.Errorf("FetchImage(miss) error = %v, want %v", err, ErrTileNotFound)
	}
}

func TestDirProviderHeightfieldRoundTrip(t *testing.T) {
	geo := Pyramid.GeodeticProfile()
	key := Pyramid.NewTileKey(1, 1, 0, geo)
	root := t.TempDir()

	grid := planeGrid(9, 9, key.Extent())
	tileDir := filepath.Join(root, KindHeightfield, "1", "1")
	if err := os.MkdirAll(tileDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tileDir, "0.hf"), Pyramid.EncodeHeightField(grid), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := NewDirProvider(config.ProviderConfig{
		Name: "terrain", Driver: DriverDir, Profile: "geodetic", Location: root,
		Kinds: []string{KindHeightfield},
	}, buildCtx(nil))
	if err != nil {
		t.Fatalf("NewDirProvider() error = %v", err)
	}

	got, err := p.FetchHeightfield(context.Background(), key)
	if err != nil {
		t.Fatalf("FetchHeightfield() error = %v", err)
	}
	if got.Cols != 9 || got.Rows != 9 {
		t.Errorf("grid size = %dx%d, want 9x9", got.Cols, got.Rows)
	}
	if !got.Extent.Equals(key.Extent()) {
		t.Errorf("grid extent = %s, want %s", got.Extent, key.Extent())
	}
}

func TestDirProviderIsCached(t *testing.T) {
	geo := Pyramid.GeodeticProfile()
	key := Pyramid.NewTileKey(2, 1, 1, geo)
	root := t.TempDir()

	p, err := NewDirProvider(config.ProviderConfig{
		Name: "local", Driver: DriverDir, Profile: "geodetic", Location: root,
	}, buildCtx(nil))
	if err != nil {
		t.Fatalf("NewDirProvider() error = %v", err)
	}

	dp := p.(*DirProvider)
	if dp.IsCached(key) {
		t.Error("IsCached() = true on empty dir, want false")
	}

	tileDir := filepath.Join(root, KindImage, "2", "1")
	os.MkdirAll(tileDir, 0755)
	os.WriteFile(filepath.Join(tileDir, "1.jpg"), []byte("x"), 0644)
	if !dp.IsCached(key) {
		t.Error("IsCached() = false with tile file present, want true")
	}
}

func TestStoreProviderRoundTrip(t *testing.T) {
	geo := Pyramid.GeodeticProfile()
	key := Pyramid.NewTileKey(2, 1, 1, geo)

	store := newMemStore()
	store.Put("seeded", KindImage, key, Pyramid.EncodeImage(&Pyramid.Image{Data: []byte("imagery"), MIME: "image/jpeg"}))

	p, err := NewStoreProvider(config.ProviderConfig{
		Name: "seeded", Driver: DriverStore, Profile: "mercator",
	}, buildCtx(store))
	if err != nil {
		t.Fatalf("NewStoreProvider() error = %v", err)
	}

	img, err := p.FetchImage(context.Background(), key)
	if err != nil {
		t.Fatalf("FetchImage() error = %v", err)
	}
	if string(img.Data) != "imagery" || img.MIME != "image/jpeg" {
		t.Errorf("got (%q, %s), want (imagery, image/jpeg)", img.Data, img.MIME)
	}

	miss := Pyramid.NewTileKey(3, 0, 0, geo)
	if _, err := p.FetchImage(context.Background(), miss); !errors.Is(err, ErrTileNotFound) {
		t.Errorf("FetchImage(miss) error = %v, want %v", err, ErrTileNotFound)
	}
}

func TestStoreProviderRequiresStorage(t *testing.T) {
	_, err := NewStoreProvider(config.ProviderConfig{Name: "x", Driver: DriverStore}, buildCtx(nil))
	if err == nil {
		t.Error("NewStoreProvider() without storage should fail")
	}
}

func TestStoreProviderBlacklistsOnReadError(t *testing.T) {
	geo := Pyramid.GeodeticProfile()
	key := Pyramid.NewTileKey(3, 2, 1, geo)

	store := newMemStore()
	p, err := NewStoreProvider(config.ProviderConfig{
		Name: "flaky", Driver: DriverStore, Profile: "geodetic",
	}, buildCtx(store))
	if err != nil {
		t.Fatalf("NewStoreProvider() error = %v", err)
	}

	// 后端故障是真实错误：包装为存储故障并拉黑该键
	store.getErr = errors.New("backend down")
	_, err = p.FetchImage(context.Background(), key)
	if !errors.Is(err, ErrCacheStore) {
		t.Fatalf("FetchImage() error = %v, want wrapping %v", err, ErrCacheStore)
	}
	if errors.Is(err, ErrTileNotFound) {
		t.Fatal("后端故障不应被当作干净的无数据")
	}
	if !p.IsBlacklisted(key) {
		t.Fatal("读取故障后该键应进入黑名单")
	}

	// 干净的无数据不拉黑
	store.getErr = nil
	miss := Pyramid.NewTileKey(3, 0, 0, geo)
	if _, err := p.FetchImage(context.Background(), miss); !errors.Is(err, ErrTileNotFound) {
		t.Fatalf("FetchImage(miss) error = %v, want %v", err, ErrTileNotFound)
	}
	if p.IsBlacklisted(miss) {
		t.Fatal("干净的无数据不应进入黑名单")
	}

	// 损坏的载荷同样拉黑
	corrupt := Pyramid.NewTileKey(3, 1, 1, geo)
	store.Put("flaky", KindHeightfield, corrupt, []byte("garbage"))
	hp, err := NewStoreProvider(config.ProviderConfig{
		Name: "flaky", Driver: DriverStore, Profile: "geodetic",
		Kinds: []string{KindHeightfield},
	}, buildCtx(store))
	if err != nil {
		t.Fatalf("NewStoreProvider() error = %v", err)
	}
	if _, err := hp.FetchHeightfield(context.Background(), corrupt); err == nil {
		t.Fatal("损坏载荷应当解码失败")
	}
	if !hp.IsBlacklisted(corrupt) {
		t.Fatal("损坏载荷的键应进入黑名单")
	}
}

func TestWalkSkipsBlacklistedExactKey(t *testing.T) {
	geo := Pyramid.GeodeticProfile()
	key := Pyramid.NewTileKey(2, 3, 1, geo)
	parent, _ := key.Ancestor()

	store := newMemStore()
	store.Put("flaky", KindImage, key, Pyramid.EncodeImage(&Pyramid.Image{Data: []byte("exact")}))
	store.Put("flaky", KindImage, parent, Pyramid.EncodeImage(&Pyramid.Image{Data: []byte("parent")}))

	p, err := NewStoreProvider(config.ProviderConfig{
		Name: "flaky", Driver: DriverStore, Profile: "geodetic",
	}, buildCtx(store))
	if err != nil {
		t.Fatalf("NewStoreProvider() error = %v", err)
	}

	// 先制造一次读取故障把精确键拉黑
	store.getErr = errors.New("backend down")
	if _, err := p.FetchImage(context.Background(), key); err == nil {
		t.Fatal("故障期间取数应当失败")
	}
	store.getErr = nil

	// 回退引擎跳过黑名单里的精确键，从祖先命中
	img, srcKey, err := WalkImage(context.Background(), p, key, &logger.NopLogger{})
	if err != nil {
		t.Fatalf("WalkImage() error = %v", err)
	}
	if !srcKey.Equals(parent) {
		t.Errorf("命中键 = %s, want 祖先 %s", srcKey, parent)
	}
	if string(img.Data) != "parent" {
		t.Errorf("载荷 = %q, want parent", img.Data)
	}
}

func TestProviderCoreCoverage(t *testing.T) {
	geo := Pyramid.GeodeticProfile()
	root := t.TempDir()

	p, err := NewDirProvider(config.ProviderConfig{
		Name: "ranged", Driver: DriverDir, Profile: "geodetic", Location: root,
		MinLevel: 2, MaxLevel: 4,
		Extent: []float64{0, 0, 90, 45},
	}, buildCtx(nil))
	if err != nil {
		t.Fatalf("NewDirProvider() error = %v", err)
	}

	tests := []struct {
		name string
		key  Pyramid.TileKey
		want bool
	}{
		// 级别越界必然无数据
		{"below min level", Pyramid.NewTileKey(1, 1, 0, geo), false},
		{"above max level", Pyramid.NewTileKey(5, 20, 10, geo), false},
		// 范围内东北象限的瓦片
		{"inside extent", Pyramid.NewTileKey(2, 4, 2, geo), true},
		// 西南象限在声明范围之外
		{"outside extent", Pyramid.NewTileKey(2, 1, 1, geo), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.MayHaveData(tt.key); got != tt.want {
				t.Errorf("MayHaveData(%s) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}

	// 未声明的载荷类型是干净的无数据
	if _, err := p.FetchHeightfield(context.Background(), Pyramid.NewTileKey(2, 4, 2, geo)); !errors.Is(err, ErrTileNotFound) {
		t.Errorf("FetchHeightfield() on imagery-only provider error = %v, want %v", err, ErrTileNotFound)
	}
}
