package bootstrap

import (
	"fmt"
	"os"
	"time"

	"mosaic-platform/Layers"
	"mosaic-platform/Pyramid"
	"mosaic-platform/Source"
	"mosaic-platform/Store"
	"mosaic-platform/config"
	"mosaic-platform/logger"
)

// Platform 命令行工具共用的运行时组件集
type Platform struct {
	Config  *config.Config
	Storage *Store.TileStorage
	Sources *Source.SourceSet
	Model   *Layers.Model
}

// Options 平台装配选项
type Options struct {
	// CacheOnly 为 true 时强制所有数据源只读缓存、从不回源
	CacheOnly bool
	// Logger 为空时使用全局日志器
	Logger logger.Logger
}

// Build 按配置装配存储、数据源集合与镶嵌图模型。
// 装配顺序：瓦片存储、数据源（按配置套缓存装饰）、剖面协调、
// 镶嵌图模型。任何一步失败都会把已打开的存储关掉再返回错误
// 参数:
//   - cfg: 项目配置
//   - opts: 装配选项
//
// 返回:
//   - *Platform: 组件集
//   - error: 错误信息
func Build(cfg *config.Config, opts Options) (*Platform, error) {
	log := opts.Logger
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	storage, err := Store.NewTileStorage(storeOptions(cfg, log))
	if err != nil {
		return nil, fmt.Errorf("打开瓦片存储失败: %w", err)
	}

	if opts.CacheOnly {
		for i := range cfg.Providers {
			cfg.Providers[i].CacheOnly = true
		}
	}

	registry := Source.NewDefaultRegistry()
	images, elevations, err := registry.BuildAll(cfg.Providers, Source.BuildContext{Storage: storage, Logger: log})
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("构建数据源失败: %w", err)
	}

	override, err := Pyramid.ProfileFromString(cfg.Mosaic.Profile)
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("解析工作剖面失败: %w", err)
	}
	sources, err := Source.NewSourceSet(images, elevations, Source.Options{
		ProfileOverride: override,
		Geocentric:      cfg.Mosaic.Geocentric,
		Logger:          log,
	})
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("数据源集合不可用: %w", err)
	}

	def, err := loadMosaic(cfg)
	if err != nil {
		storage.Close()
		return nil, err
	}
	model, err := Layers.BuildModel(def, providerIndex(images, elevations))
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("组装镶嵌图失败: %w", err)
	}

	return &Platform{Config: cfg, Storage: storage, Sources: sources, Model: model}, nil
}

// Close 拆除模型并关闭存储，把写缓冲里的余量刷进后端
func (p *Platform) Close() error {
	p.Model.Close()
	return p.Storage.Close()
}

// storeOptions 把配置里的存储段转换为存储构造选项
func storeOptions(cfg *config.Config, log logger.Logger) Store.Options {
	dir, err := config.ResolvePath(cfg.Store.Path)
	if err != nil {
		dir = cfg.Store.Path
	}
	return Store.Options{
		Backend:       Store.Backend(cfg.Store.Driver),
		Dir:           dir,
		RedisAddr:     cfg.Store.RedisAddr,
		RedisPassword: cfg.Store.RedisPassword,
		RedisDB:       cfg.Store.RedisDB,
		FlushInterval: time.Duration(cfg.Store.FlushInterval) * time.Second,
		QueueSize:     cfg.Store.QueueSize,
		Logger:        log,
	}
}

// loadMosaic 加载镶嵌图定义，文件缺失时按数据源配置合成缺省定义
func loadMosaic(cfg *config.Config) (*config.MosaicDefinition, error) {
	path := cfg.Mosaic.Definition
	if path != "" {
		if resolved, err := config.ResolvePath(path); err == nil {
			path = resolved
		}
		if _, err := os.Stat(path); err == nil {
			return config.LoadMosaicDefinition(path)
		}
	}
	return config.DefaultMosaicFromProviders(cfg.Providers), nil
}

// providerIndex 把数据源列表按名称建索引，供图层定义引用。
// 同名同源，重复出现时后者覆盖前者没有影响
func providerIndex(lists ...[]Source.TileProvider) map[string]Source.TileProvider {
	idx := make(map[string]Source.TileProvider)
	for _, list := range lists {
		for _, p := range list {
			idx[p.Name()] = p
		}
	}
	return idx
}
