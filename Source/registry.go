package Source

import (
	"fmt"
	"sort"
	"sync"

	"mosaic-platform/config"
	"mosaic-platform/logger"
)

// BuildContext 构造数据源时可用的外部资源。
// Storage 为空表示没有持久缓存可用
type BuildContext struct {
	Storage CacheStore
	Logger  logger.Logger
}

// ProviderCtor 按配置构造一个数据源
// 参数:
//   - cfg: 单个数据源配置
//   - bctx: 构造上下文
//
// 返回:
//   - TileProvider: 数据源实例
//   - error: 错误信息
type ProviderCtor func(cfg config.ProviderConfig, bctx BuildContext) (TileProvider, error)

// Registry 数据源驱动注册表。
// 由应用上下文持有并显式传递给需要构造数据源的组件，
// 不提供进程级的可变单例
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]ProviderCtor
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]ProviderCtor)}
}

// NewDefaultRegistry 创建注册表并预注册内置驱动（store 与 dir）
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(DriverStore, NewStoreProvider)
	r.Register(DriverDir, NewDirProvider)
	return r
}

// Register 注册一个驱动，重复注册以后者为准
func (r *Registry) Register(driver string, ctor ProviderCtor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[driver] = ctor
}

// Drivers 返回已注册驱动名的有序列表
func (r *Registry) Drivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build 按配置构造一个数据源。
// 配置要求缓存时在外面套上缓存装饰器；
// 仅缓存模式但没有可用存储属于配置错误
// 参数:
//   - cfg: 单个数据源配置
//   - bctx: 构造上下文
//
// 返回:
//   - TileProvider: 数据源实例（必要时已带缓存装饰）
//   - error: 错误信息
func (r *Registry) Build(cfg config.ProviderConfig, bctx BuildContext) (TileProvider, error) {
	r.mu.RLock()
	ctor, ok := r.drivers[cfg.Driver]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}

	p, err := ctor(cfg, bctx)
	if err != nil {
		return nil, fmt.Errorf("构造数据源 %q 失败: %w", cfg.Name, err)
	}

	if cfg.CacheOnly && bctx.Storage == nil {
		return nil, fmt.Errorf("数据源 %q 配置为仅缓存但没有可用存储", cfg.Name)
	}
	if (cfg.Cache || cfg.CacheOnly) && bctx.Storage != nil {
		p = NewCachedProvider(p, bctx.Storage, CacheOptions{
			CacheOnly: cfg.CacheOnly,
			Kinds:     cfg.Kinds,
			Logger:    bctx.Logger,
		})
	}
	return p, nil
}

// BuildAll 构造全部数据源并按载荷类型分组。
// 同时声明影像与高程的数据源会出现在两个列表中，
// 列表顺序与配置顺序一致
// 参数:
//   - cfgs: 数据源配置列表
//   - bctx: 构造上下文
//
// 返回:
//   - []TileProvider: 影像数据源列表
//   - []TileProvider: 高程数据源列表
//   - error: 错误信息
func (r *Registry) BuildAll(cfgs []config.ProviderConfig, bctx BuildContext) ([]TileProvider, []TileProvider, error) {
	var images, elevations []TileProvider
	for i := range cfgs {
		cfg := cfgs[i]
		p, err := r.Build(cfg, bctx)
		if err != nil {
			return nil, nil, err
		}
		kinds := cfg.Kinds
		if len(kinds) == 0 {
			kinds = []string{KindImage}
		}
		for _, kind := range kinds {
			switch kind {
			case KindImage:
				images = append(images, p)
			case KindHeightfield:
				elevations = append(elevations, p)
			default:
				return nil, nil, fmt.Errorf("数据源 %q 载荷类型不支持: %q", cfg.Name, kind)
			}
		}
	}
	return images, elevations, nil
}
