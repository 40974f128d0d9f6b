package Source

import (
	"context"
	"fmt"

	"mosaic-platform/Pyramid"
	"mosaic-platform/config"
)

// StoreProvider 从平台瓦片存储读取已入库数据的数据源。
// 只服务预取或外部导入写进存储的数据，从不主动回源
type StoreProvider struct {
	providerCore
	store CacheStore
}

var _ TileProvider = (*StoreProvider)(nil)

// NewStoreProvider 构造 store 驱动数据源
// 参数:
//   - cfg: 单个数据源配置
//   - bctx: 构造上下文（必须带有可用存储）
//
// 返回:
//   - TileProvider: 数据源实例
//   - error: 错误信息
func NewStoreProvider(cfg config.ProviderConfig, bctx BuildContext) (TileProvider, error) {
	if bctx.Storage == nil {
		return nil, fmt.Errorf("store 驱动需要可用的瓦片存储")
	}
	core, err := newProviderCore(cfg)
	if err != nil {
		return nil, err
	}
	return &StoreProvider{providerCore: core, store: bctx.Storage}, nil
}

// FetchImage 从存储读取一块影像瓦片
func (p *StoreProvider) FetchImage(ctx context.Context, key Pyramid.TileKey) (*Pyramid.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchCancelled, err)
	}
	if !p.servesKind(KindImage) {
		return nil, ErrTileNotFound
	}
	payload, hit, err := p.store.Get(p.name, KindImage, key)
	if err != nil {
		// 后端故障是真实错误，拉黑该键一段时间避免反复打到故障存储
		p.blacklist.Add(key)
		return nil, fmt.Errorf("读取瓦片存储失败: %w: %v", ErrCacheStore, err)
	}
	if !hit {
		return nil, ErrTileNotFound
	}
	img, err := Pyramid.DecodeImage(payload)
	if err != nil {
		p.blacklist.Add(key)
		return nil, err
	}
	return img, nil
}

// FetchHeightfield 从存储读取一块高程格网
func (p *StoreProvider) FetchHeightfield(ctx context.Context, key Pyramid.TileKey) (*Pyramid.HeightField, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchCancelled, err)
	}
	if !p.servesKind(KindHeightfield) {
		return nil, ErrTileNotFound
	}
	payload, hit, err := p.store.Get(p.name, KindHeightfield, key)
	if err != nil {
		p.blacklist.Add(key)
		return nil, fmt.Errorf("读取瓦片存储失败: %w: %v", ErrCacheStore, err)
	}
	if !hit {
		return nil, ErrTileNotFound
	}
	grid, err := Pyramid.DecodeHeightField(payload)
	if err != nil {
		p.blacklist.Add(key)
		return nil, err
	}
	return grid, nil
}

// IsCached 判断该键声明的所有载荷类型是否都已入库
func (p *StoreProvider) IsCached(key Pyramid.TileKey) bool {
	for kind := range p.kinds {
		ok, err := p.store.Exists(p.name, kind, key)
		if err != nil || !ok {
			return false
		}
	}
	return true
}
