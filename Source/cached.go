package Source

import (
	"context"
	"fmt"

	"mosaic-platform/Pyramid"
	"mosaic-platform/logger"
	"mosaic-platform/metrics"
)

// CacheOptions 缓存装饰器的行为配置
type CacheOptions struct {
	// CacheOnly 为 true 时从不回源，未命中直接按无数据返回（离线模式）
	CacheOnly bool
	// Kinds 该数据源参与缓存的载荷类型，空表示影像与高程都缓存
	Kinds []string
	// Logger 为空时使用全局日志器
	Logger logger.Logger
}

// CachedProvider 在任意数据源外再套一层持久缓存。
// 取数先按 (数据源名, 瓦片键) 查缓存，命中则不再调用内层数
// 据源；未命中回源成功后写回缓存。失败结果从不缓存，缓存后
// 端故障只记日志并按未命中处理，绝不让取数因缓存而失败。
type CachedProvider struct {
	inner     TileProvider
	store     CacheStore
	cacheOnly bool
	kinds     []string
	log       logger.Logger
}

var _ TileProvider = (*CachedProvider)(nil)

// NewCachedProvider 将 inner 包装为带持久缓存的数据源
func NewCachedProvider(inner TileProvider, store CacheStore, opts CacheOptions) *CachedProvider {
	log := opts.Logger
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	kinds := opts.Kinds
	if len(kinds) == 0 {
		kinds = []string{KindImage, KindHeightfield}
	}
	return &CachedProvider{
		inner:     inner,
		store:     store,
		cacheOnly: opts.CacheOnly,
		kinds:     kinds,
		log:       log,
	}
}

// Name 返回内层数据源的名称
func (c *CachedProvider) Name() string { return c.inner.Name() }

// Profile 返回内层数据源的剖面
func (c *CachedProvider) Profile() *Pyramid.Profile { return c.inner.Profile() }

// Enabled 返回内层数据源是否启用
func (c *CachedProvider) Enabled() bool { return c.inner.Enabled() }

// MayHaveData 委托内层数据源的覆盖判断
func (c *CachedProvider) MayHaveData(key Pyramid.TileKey) bool { return c.inner.MayHaveData(key) }

// IsBlacklisted 委托内层数据源的黑名单
func (c *CachedProvider) IsBlacklisted(key Pyramid.TileKey) bool { return c.inner.IsBlacklisted(key) }

// CacheOnly 返回是否处于仅缓存模式
func (c *CachedProvider) CacheOnly() bool { return c.cacheOnly }

// FetchImage 带缓存地取一块影像瓦片
func (c *CachedProvider) FetchImage(ctx context.Context, key Pyramid.TileKey) (*Pyramid.Image, error) {
	if payload, ok := c.lookup(KindImage, key); ok {
		img, err := Pyramid.DecodeImage(payload)
		if err == nil {
			return img, nil
		}
		// 缓存条目损坏，按未命中回源
		c.log.Warn("缓存影像条目损坏 %s/%s: %v", c.Name(), key, err)
	}

	if c.cacheOnly {
		return nil, ErrTileNotFound
	}

	img, err := c.inner.FetchImage(ctx, key)
	if err != nil {
		// 失败结果不写缓存，后续重试仍会回源
		return nil, err
	}
	c.storeBack(KindImage, key, Pyramid.EncodeImage(img))
	return img, nil
}

// FetchHeightfield 带缓存地取一块高程格网
func (c *CachedProvider) FetchHeightfield(ctx context.Context, key Pyramid.TileKey) (*Pyramid.HeightField, error) {
	if payload, ok := c.lookup(KindHeightfield, key); ok {
		grid, err := Pyramid.DecodeHeightField(payload)
		if err == nil {
			return grid, nil
		}
		c.log.Warn("缓存高程条目损坏 %s/%s: %v", c.Name(), key, err)
	}

	if c.cacheOnly {
		return nil, ErrTileNotFound
	}

	grid, err := c.inner.FetchHeightfield(ctx, key)
	if err != nil {
		return nil, err
	}
	c.storeBack(KindHeightfield, key, Pyramid.EncodeHeightField(grid))
	return grid, nil
}

// IsCached 判断该键在所有参与缓存的载荷类型下是否都已入库
func (c *CachedProvider) IsCached(key Pyramid.TileKey) bool {
	for _, kind := range c.kinds {
		ok, err := c.store.Exists(c.Name(), kind, key)
		if err != nil {
			c.log.Warn("缓存存在性查询失败 %s/%s: %v", c.Name(), key, err)
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}

// lookup 查缓存，只在命中时返回载荷。
// 后端故障按未命中处理（记录日志与指标），从不向上传播
func (c *CachedProvider) lookup(kind string, key Pyramid.TileKey) ([]byte, bool) {
	payload, hit, err := c.store.Get(c.Name(), kind, key)
	if err != nil {
		metrics.CacheErrors.Inc()
		metrics.CacheMisses.WithLabelValues(kind).Inc()
		c.log.Warn("缓存读取失败 %s/%s: %v", c.Name(), key, fmt.Errorf("%w: %v", ErrCacheStore, err))
		return nil, false
	}
	if !hit {
		metrics.CacheMisses.WithLabelValues(kind).Inc()
		return nil, false
	}
	metrics.CacheHits.WithLabelValues(kind).Inc()
	return payload, true
}

// storeBack 尽力写回缓存，失败不影响取数结果
func (c *CachedProvider) storeBack(kind string, key Pyramid.TileKey, payload []byte) {
	if err := c.store.Put(c.Name(), kind, key, payload); err != nil {
		metrics.CacheErrors.Inc()
		c.log.Warn("缓存写回失败 %s/%s: %v", c.Name(), key, fmt.Errorf("%w: %v", ErrCacheStore, err))
		return
	}
	metrics.CacheStores.WithLabelValues(kind).Inc()
}
