package Source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mosaic-platform/Pyramid"
	"mosaic-platform/logger"
	"mosaic-platform/metrics"
)

// DefaultHeightfieldSize 未指定分辨率时高程格网的边长（采样点数）
const DefaultHeightfieldSize = 33

// Options 数据源集合的构造选项
type Options struct {
	// ProfileOverride 显式指定工作剖面，优先于任何数据源自带的剖面
	ProfileOverride *Pyramid.Profile
	// Geocentric 为 true 表示消费方要做地心（曲面）渲染
	Geocentric bool
	// Logger 为空时使用全局日志器
	Logger logger.Logger
}

// LayerImage 逐数据源取图的单层结果
type LayerImage struct {
	Provider  string
	Image     *Pyramid.Image
	SourceKey Pyramid.TileKey
}

// SourceSet 一组剖面协调过的瓦片数据源。
// 构造完成后数据源列表不再变化，取数可以并发调用。
// 构造可能产出无效集合（validErr 非空），无效集合拒绝一切取数
type SourceSet struct {
	images     []TileProvider
	elevations []TileProvider
	working    *Pyramid.Profile
	validErr   error
	log        logger.Logger
}

// NewSourceSet 协调剖面并构造数据源集合。
// 集合总是非 nil，构造无效时同时返回对应错误，此时 Valid() 为 false。
// 剖面不相容的数据源被丢弃并记录诊断，只有最终没有任何存活数据源、
// 工作剖面无法确定、或平面剖面遇到地心消费方时集合才无效
// 参数:
//   - imageProviders: 候选影像数据源（有序）
//   - elevationProviders: 候选高程数据源（有序）
//   - opts: 构造选项
//
// 返回:
//   - *SourceSet: 数据源集合
//   - error: 集合无效时的原因
func NewSourceSet(imageProviders, elevationProviders []TileProvider, opts Options) (*SourceSet, error) {
	log := opts.Logger
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	// 第一遍：确定工作剖面。显式覆盖优先，否则取
	// 影像列表、再高程列表中第一个非未知剖面
	working := opts.ProfileOverride
	if working != nil && working.Kind == Pyramid.ProfileUnknown {
		working = nil
	}
	if working == nil {
		working = firstResolvedProfile(imageProviders)
	}
	if working == nil {
		working = firstResolvedProfile(elevationProviders)
	}

	s := &SourceSet{working: working, log: log}

	// 第二遍：按工作剖面重建保留列表，不在遍历中原地删除。
	// 剖面未定时无从过滤，原样保留以便报告更准确的错误
	if working != nil {
		s.images = filterCompatible(imageProviders, working, log)
		s.elevations = filterCompatible(elevationProviders, working, log)
	} else {
		s.images = append([]TileProvider(nil), imageProviders...)
		s.elevations = append([]TileProvider(nil), elevationProviders...)
	}

	switch {
	case len(s.images)+len(s.elevations) == 0:
		s.validErr = ErrNoValidSources
	case working == nil:
		s.validErr = ErrProfileUnresolved
	case working.Kind == Pyramid.ProfileProjected && opts.Geocentric:
		s.validErr = ErrGeocentricProjected
	}
	if s.validErr != nil {
		return s, s.validErr
	}
	return s, nil
}

// firstResolvedProfile 返回列表中第一个非未知剖面
func firstResolvedProfile(list []TileProvider) *Pyramid.Profile {
	for _, p := range list {
		prof := p.Profile()
		if prof != nil && prof.Kind != Pyramid.ProfileUnknown {
			return prof
		}
	}
	return nil
}

// filterCompatible 丢弃与工作剖面不相容的数据源。
// 先标记再重建，保留顺序
func filterCompatible(list []TileProvider, working *Pyramid.Profile, log logger.Logger) []TileProvider {
	drop := make([]bool, len(list))
	for i, p := range list {
		if !working.Accepts(p.Profile()) {
			drop[i] = true
		}
	}
	kept := make([]TileProvider, 0, len(list))
	for i, p := range list {
		if drop[i] {
			metrics.ProviderDrops.Inc()
			log.Warn("数据源 %s 被丢弃: %v (数据源剖面 %s, 工作剖面 %s)",
				p.Name(), ErrProfileIncompatible, p.Profile(), working)
			continue
		}
		kept = append(kept, p)
	}
	return kept
}

// Valid 返回集合是否可用
func (s *SourceSet) Valid() bool { return s.validErr == nil }

// Err 返回集合无效的原因，有效时为 nil
func (s *SourceSet) Err() error { return s.validErr }

// WorkingProfile 返回协调得到的工作剖面，未定时为 nil
func (s *SourceSet) WorkingProfile() *Pyramid.Profile { return s.working }

// ImageProviders 返回存活的影像数据源列表副本
func (s *SourceSet) ImageProviders() []TileProvider {
	return append([]TileProvider(nil), s.images...)
}

// ElevationProviders 返回存活的高程数据源列表副本
func (s *SourceSet) ElevationProviders() []TileProvider {
	return append([]TileProvider(nil), s.elevations...)
}

// FetchImage 取影像：依次尝试各影像数据源，返回第一个给出数据的结果。
// 每个数据源内部执行完整的祖先回退，命中键随影像一起返回；
// 取消立即中断并返回 ErrFetchCancelled
// 参数:
//   - ctx: 上下文
//   - key: 瓦片键
//
// 返回:
//   - *Pyramid.Image: 影像载荷
//   - Pyramid.TileKey: 实际命中的键（等于请求键或其祖先）
//   - error: 错误信息
func (s *SourceSet) FetchImage(ctx context.Context, key Pyramid.TileKey) (*Pyramid.Image, Pyramid.TileKey, error) {
	if s.validErr != nil {
		return nil, Pyramid.TileKey{}, fmt.Errorf("%w: %v", ErrInvalidSet, s.validErr)
	}
	start := time.Now()
	for _, p := range s.images {
		if !p.Enabled() {
			continue
		}
		img, srcKey, err := s.walkImage(ctx, p, key)
		if err == nil {
			metrics.FetchDuration.WithLabelValues(KindImage, "hit").Observe(time.Since(start).Seconds())
			return img, srcKey, nil
		}
		if errors.Is(err, ErrFetchCancelled) {
			metrics.FetchDuration.WithLabelValues(KindImage, "cancelled").Observe(time.Since(start).Seconds())
			return nil, Pyramid.TileKey{}, err
		}
	}
	metrics.FetchDuration.WithLabelValues(KindImage, "miss").Observe(time.Since(start).Seconds())
	return nil, Pyramid.TileKey{}, ErrTileNotFound
}

// FetchImageFrom 只从指定名称的影像数据源取图（含祖先回退）
// 参数:
//   - ctx: 上下文
//   - name: 数据源名称
//   - key: 瓦片键
//
// 返回:
//   - *Pyramid.Image: 影像载荷
//   - Pyramid.TileKey: 实际命中的键
//   - error: 错误信息
func (s *SourceSet) FetchImageFrom(ctx context.Context, name string, key Pyramid.TileKey) (*Pyramid.Image, Pyramid.TileKey, error) {
	if s.validErr != nil {
		return nil, Pyramid.TileKey{}, fmt.Errorf("%w: %v", ErrInvalidSet, s.validErr)
	}
	p := findProvider(s.images, name)
	if p == nil {
		return nil, Pyramid.TileKey{}, fmt.Errorf("影像数据源 %q 不存在", name)
	}
	return s.walkImage(ctx, p, key)
}

// FetchImageLayers 对每个启用的影像数据源各取一层，供上层叠加合成。
// 无数据的数据源被跳过，全部无数据时返回 ErrTileNotFound
// 参数:
//   - ctx: 上下文
//   - key: 瓦片键
//
// 返回:
//   - []LayerImage: 按数据源顺序的各层结果
//   - error: 错误信息
func (s *SourceSet) FetchImageLayers(ctx context.Context, key Pyramid.TileKey) ([]LayerImage, error) {
	if s.validErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSet, s.validErr)
	}
	var out []LayerImage
	for _, p := range s.images {
		if !p.Enabled() {
			continue
		}
		img, srcKey, err := s.walkImage(ctx, p, key)
		if err == nil {
			out = append(out, LayerImage{Provider: p.Name(), Image: img, SourceKey: srcKey})
			continue
		}
		if errors.Is(err, ErrFetchCancelled) {
			return nil, err
		}
	}
	if len(out) == 0 {
		return nil, ErrTileNotFound
	}
	return out, nil
}

// FetchHeightfield 取高程：依次尝试各高程数据源，返回第一个给出数据的结果。
// 与影像不同，返回的格网总是严格对齐请求键的范围与请求的分辨率：
// 命中祖先时按请求键在祖先中的归一化子区域做双线性抽取
// 参数:
//   - ctx: 上下文
//   - key: 瓦片键
//   - cols: 请求列数（0 表示 DefaultHeightfieldSize）
//   - rows: 请求行数（0 表示 DefaultHeightfieldSize）
//
// 返回:
//   - *Pyramid.HeightField: 对齐后的高程格网
//   - error: 错误信息
func (s *SourceSet) FetchHeightfield(ctx context.Context, key Pyramid.TileKey, cols, rows uint32) (*Pyramid.HeightField, error) {
	if s.validErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSet, s.validErr)
	}
	cols, rows = normalizeGridSize(cols, rows)
	start := time.Now()
	for _, p := range s.elevations {
		if !p.Enabled() {
			continue
		}
		grid, _, err := s.walkHeightfield(ctx, p, key, cols, rows)
		if err == nil {
			metrics.FetchDuration.WithLabelValues(KindHeightfield, "hit").Observe(time.Since(start).Seconds())
			return grid, nil
		}
		if errors.Is(err, ErrFetchCancelled) {
			metrics.FetchDuration.WithLabelValues(KindHeightfield, "cancelled").Observe(time.Since(start).Seconds())
			return nil, err
		}
	}
	metrics.FetchDuration.WithLabelValues(KindHeightfield, "miss").Observe(time.Since(start).Seconds())
	return nil, ErrTileNotFound
}

// FetchHeightfieldFrom 只从指定名称的高程数据源取格网（含祖先回退与对齐）
// 参数:
//   - ctx: 上下文
//   - name: 数据源名称
//   - key: 瓦片键
//   - cols: 请求列数（0 表示 DefaultHeightfieldSize）
//   - rows: 请求行数（0 表示 DefaultHeightfieldSize）
//
// 返回:
//   - *Pyramid.HeightField: 对齐后的高程格网
//   - Pyramid.TileKey: 实际命中的键
//   - error: 错误信息
func (s *SourceSet) FetchHeightfieldFrom(ctx context.Context, name string, key Pyramid.TileKey, cols, rows uint32) (*Pyramid.HeightField, Pyramid.TileKey, error) {
	if s.validErr != nil {
		return nil, Pyramid.TileKey{}, fmt.Errorf("%w: %v", ErrInvalidSet, s.validErr)
	}
	p := findProvider(s.elevations, name)
	if p == nil {
		return nil, Pyramid.TileKey{}, fmt.Errorf("高程数据源 %q 不存在", name)
	}
	cols, rows = normalizeGridSize(cols, rows)
	return s.walkHeightfield(ctx, p, key, cols, rows)
}

func (s *SourceSet) walkImage(ctx context.Context, p TileProvider, key Pyramid.TileKey) (*Pyramid.Image, Pyramid.TileKey, error) {
	return WalkImage(ctx, p, key, s.log)
}

func (s *SourceSet) walkHeightfield(ctx context.Context, p TileProvider, key Pyramid.TileKey, cols, rows uint32) (*Pyramid.HeightField, Pyramid.TileKey, error) {
	return WalkHeightfield(ctx, p, key, cols, rows, s.log)
}

// WalkImage 对单个数据源执行祖先回退取影像。
// 每次尝试前检查取消；黑名单只挡精确键，回退继续尝试祖先；
// 数据源的真实错误对回退而言等同于无数据。
// 回退串行向上，直到命中或根层也无数据
// 参数:
//   - ctx: 上下文
//   - p: 数据源
//   - key: 瓦片键
//   - log: 日志器，为空时使用全局日志器
//
// 返回:
//   - *Pyramid.Image: 影像载荷
//   - Pyramid.TileKey: 实际命中的键
//   - error: 错误信息
func WalkImage(ctx context.Context, p TileProvider, key Pyramid.TileKey, log logger.Logger) (*Pyramid.Image, Pyramid.TileKey, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	cur := key
	depth := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, Pyramid.TileKey{}, fmt.Errorf("%w: %v", ErrFetchCancelled, err)
		}
		if p.MayHaveData(cur) && !p.IsBlacklisted(cur) {
			img, err := p.FetchImage(ctx, cur)
			if err == nil {
				metrics.FallbackDepth.Observe(float64(depth))
				return img, cur, nil
			}
			if errors.Is(err, ErrFetchCancelled) {
				return nil, Pyramid.TileKey{}, err
			}
			if cerr := ctx.Err(); cerr != nil {
				return nil, Pyramid.TileKey{}, fmt.Errorf("%w: %v", ErrFetchCancelled, cerr)
			}
			if !errors.Is(err, ErrTileNotFound) {
				log.Warn("数据源 %s 取 %s 失败，按无数据回退: %v", p.Name(), cur, err)
			}
		}
		parent, ok := cur.Ancestor()
		if !ok {
			return nil, Pyramid.TileKey{}, ErrTileNotFound
		}
		cur = parent
		depth++
	}
}

// WalkHeightfield 与 WalkImage 相同的回退规则，命中后再做对齐抽取
// 参数:
//   - ctx: 上下文
//   - p: 数据源
//   - key: 瓦片键
//   - cols: 请求列数
//   - rows: 请求行数
//   - log: 日志器，为空时使用全局日志器
//
// 返回:
//   - *Pyramid.HeightField: 对齐到请求键与分辨率的格网
//   - Pyramid.TileKey: 实际命中的键
//   - error: 错误信息
func WalkHeightfield(ctx context.Context, p TileProvider, key Pyramid.TileKey, cols, rows uint32, log logger.Logger) (*Pyramid.HeightField, Pyramid.TileKey, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	cur := key
	depth := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, Pyramid.TileKey{}, fmt.Errorf("%w: %v", ErrFetchCancelled, err)
		}
		if p.MayHaveData(cur) && !p.IsBlacklisted(cur) {
			grid, err := p.FetchHeightfield(ctx, cur)
			if err == nil {
				metrics.FallbackDepth.Observe(float64(depth))
				aligned, aerr := alignHeightfield(grid, cur, key, cols, rows)
				if aerr != nil {
					return nil, Pyramid.TileKey{}, aerr
				}
				return aligned, cur, nil
			}
			if errors.Is(err, ErrFetchCancelled) {
				return nil, Pyramid.TileKey{}, err
			}
			if cerr := ctx.Err(); cerr != nil {
				return nil, Pyramid.TileKey{}, fmt.Errorf("%w: %v", ErrFetchCancelled, cerr)
			}
			if !errors.Is(err, ErrTileNotFound) {
				log.Warn("数据源 %s 取 %s 失败，按无数据回退: %v", p.Name(), cur, err)
			}
		}
		parent, ok := cur.Ancestor()
		if !ok {
			return nil, Pyramid.TileKey{}, ErrTileNotFound
		}
		cur = parent
		depth++
	}
}

// alignHeightfield 保证格网恰好覆盖请求键的范围与分辨率。
// 直接命中且分辨率一致时原样返回，否则做双线性抽取
func alignHeightfield(grid *Pyramid.HeightField, at, want Pyramid.TileKey, cols, rows uint32) (*Pyramid.HeightField, error) {
	if at.Equals(want) && grid.Cols == cols && grid.Rows == rows {
		return grid, nil
	}
	return grid.ExtractChild(at, want, cols, rows)
}

func normalizeGridSize(cols, rows uint32) (uint32, uint32) {
	if cols == 0 {
		cols = DefaultHeightfieldSize
	}
	if rows == 0 {
		rows = DefaultHeightfieldSize
	}
	return cols, rows
}

func findProvider(list []TileProvider, name string) TileProvider {
	for _, p := range list {
		if p.Name() == name {
			return p
		}
	}
	return nil
}
