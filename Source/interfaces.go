package Source

import (
	"context"

	"mosaic-platform/Pyramid"
)

// TileProvider 定义瓦片数据源的接口
// 数据源构造完成后是只读的，可以被并发取数
type TileProvider interface {
	// Name 返回数据源的稳定名称（缓存键的一部分）
	// 返回: 名称字符串
	Name() string

	// Profile 返回数据源自身的剖面
	// 返回: 剖面
	Profile() *Pyramid.Profile

	// Enabled 返回数据源是否启用
	// 返回: 是否启用
	Enabled() bool

	// MayHaveData 判断数据源是否可能持有该键的数据（覆盖范围与层级检查）
	// 参数: key - 瓦片键
	// 返回: 是否可能有数据
	MayHaveData(key Pyramid.TileKey) bool

	// FetchImage 取一块影像瓦片
	// 参数: ctx - 上下文, key - 瓦片键
	// 返回: 影像载荷, 错误信息（无数据时为 ErrTileNotFound）
	FetchImage(ctx context.Context, key Pyramid.TileKey) (*Pyramid.Image, error)

	// FetchHeightfield 取一块高程格网
	// 参数: ctx - 上下文, key - 瓦片键
	// 返回: 高程格网, 错误信息（无数据时为 ErrTileNotFound）
	FetchHeightfield(ctx context.Context, key Pyramid.TileKey) (*Pyramid.HeightField, error)

	// IsBlacklisted 判断该键是否在数据源的失败黑名单中
	// 参数: key - 瓦片键
	// 返回: 是否被拉黑
	IsBlacklisted(key Pyramid.TileKey) bool
}

// CacheStore 定义缓存装饰器消费的后端存储接口
// Get 的三态约定：命中 (payload, true, nil)，干净未命中
// (nil, false, nil)，后端故障 (nil, false, err)
type CacheStore interface {
	// Get 读取缓存载荷
	// 参数: provider - 数据源标识, kind - 载荷类型, key - 瓦片键
	// 返回: 载荷字节, 是否命中, 错误信息
	Get(provider, kind string, key Pyramid.TileKey) ([]byte, bool, error)

	// Put 写入缓存载荷
	// 参数: provider - 数据源标识, kind - 载荷类型, key - 瓦片键, payload - 载荷字节
	// 返回: 错误信息
	Put(provider, kind string, key Pyramid.TileKey, payload []byte) error

	// Exists 判断缓存中是否已有载荷
	// 参数: provider - 数据源标识, kind - 载荷类型, key - 瓦片键
	// 返回: 是否存在, 错误信息
	Exists(provider, kind string, key Pyramid.TileKey) (bool, error)
}

// CacheQuery 可选扩展接口：能回答某键是否已完整入库的数据源
type CacheQuery interface {
	// IsCached 判断该键的全部载荷是否都已在缓存或存储中
	// 参数: key - 瓦片键
	// 返回: 是否已入库
	IsCached(key Pyramid.TileKey) bool
}

// CacheModeQuery 可选扩展接口：能报告自身处于仅缓存模式的数据源
type CacheModeQuery interface {
	// CacheOnly 返回是否只读缓存、从不回源
	// 返回: 是否仅缓存
	CacheOnly() bool
}

// 载荷类型常量
const (
	KindImage       = "imagery"
	KindHeightfield = "terrain"
)
