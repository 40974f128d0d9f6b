package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// 默认查找路径
const (
	RootConfigPath   = "config.toml"
	FolderConfigPath = "config/config.toml"
)

// StoreConfig 瓦片缓存存储配置
type StoreConfig struct {
	Driver        string `toml:"driver"`
	Path          string `toml:"path"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	FlushInterval int    `toml:"flush_interval"`
	QueueSize     int    `toml:"queue_size"`
}

// ServerConfig 瓦片服务配置
type ServerConfig struct {
	Listen    string `toml:"listen"`
	CacheOnly bool   `toml:"cache_only"`
}

// SeedConfig 预取任务配置
type SeedConfig struct {
	Workers  int       `toml:"workers"`
	MinLevel int       `toml:"min_level"`
	MaxLevel int       `toml:"max_level"`
	Kinds    []string  `toml:"kinds"`
	Extent   []float64 `toml:"extent"`
}

// MosaicConfig 镶嵌图定义配置
type MosaicConfig struct {
	Definition string `toml:"definition"`
	Profile    string `toml:"profile"`
	Geocentric bool   `toml:"geocentric"`
}

// ProviderConfig 单个数据源配置
type ProviderConfig struct {
	Name      string    `toml:"name"`
	Driver    string    `toml:"driver"`
	Profile   string    `toml:"profile"`
	Location  string    `toml:"location"`
	Cache     bool      `toml:"cache"`
	CacheOnly bool      `toml:"cache_only"`
	Kinds     []string  `toml:"kinds"`
	MinLevel  int       `toml:"min_level"`
	MaxLevel  int       `toml:"max_level"`
	Extent    []float64 `toml:"extent"`
	Disabled  bool      `toml:"disabled"`
}

// Config 项目配置结构
type Config struct {
	Store     StoreConfig      `toml:"store"`
	Server    ServerConfig     `toml:"server"`
	Seed      SeedConfig       `toml:"seed"`
	Mosaic    MosaicConfig     `toml:"mosaic"`
	Providers []ProviderConfig `toml:"provider"`
}

var (
	loadOnce sync.Once
	loadErr  error
)

// Default 返回带缺省值的配置
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Driver:        "bbolt",
			Path:          "data/tiles",
			RedisAddr:     "127.0.0.1:6379",
			FlushInterval: 2,
			QueueSize:     1024,
		},
		Server: ServerConfig{
			Listen: ":8080",
		},
		Seed: SeedConfig{
			MaxLevel: 8,
			Kinds:    []string{"imagery", "terrain"},
		},
		Mosaic: MosaicConfig{
			Definition: "config/mosaic.yaml",
		},
	}
}

// Load 加载并校验合并后的项目配置
// 输出: *Config - 配置结构, error - 错误信息
func Load() (*Config, error) {
	cfg := Default()
	if err := LoadMergedInto(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadMergedInto 将项目根目录下的 config.toml 与 config/config.toml 合并后，解码到 out 指针。
// 合并策略：先加载 config/config.toml（作为默认值），再加载根目录 config.toml（作为覆盖）。
// 如果文件不存在则跳过。
func LoadMergedInto(out interface{}) error {
	// 先加载 config/config.toml（默认）
	if fileExists(FolderConfigPath) {
		if _, err := toml.DecodeFile(FolderConfigPath, out); err != nil {
			return fmt.Errorf("解析 %s 失败: %w", FolderConfigPath, err)
		}
	}
	// 根目录 config.toml 覆盖
	if fileExists(RootConfigPath) {
		if _, err := toml.DecodeFile(RootConfigPath, out); err != nil {
			return fmt.Errorf("解析 %s 失败: %w", RootConfigPath, err)
		}
	}
	return nil
}

// MustLoadMergedInto 与 LoadMergedInto 相同，但发生错误时 panic。
func MustLoadMergedInto(out interface{}) {
	loadOnce.Do(func() {
		loadErr = LoadMergedInto(out)
	})
	if loadErr != nil {
		panic(loadErr)
	}
}

// Validate 校验配置取值
// 输出: error - 错误信息
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "bbolt", "sqlite", "redis":
	default:
		return fmt.Errorf("store.driver 不支持: %q", c.Store.Driver)
	}
	if c.Store.Driver != "redis" && c.Store.Path == "" {
		return fmt.Errorf("store.path 不能为空")
	}
	if c.Store.QueueSize < 0 {
		return fmt.Errorf("store.queue_size 不能为负")
	}
	if c.Seed.MinLevel < 0 || c.Seed.MaxLevel < c.Seed.MinLevel {
		return fmt.Errorf("seed 级别范围无效: [%d, %d]", c.Seed.MinLevel, c.Seed.MaxLevel)
	}
	seen := make(map[string]bool, len(c.Providers))
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Name == "" {
			return fmt.Errorf("provider[%d].name 不能为空", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("provider 名称重复: %q", p.Name)
		}
		seen[p.Name] = true
		if p.Driver == "" {
			return fmt.Errorf("provider %q 缺少 driver", p.Name)
		}
		if p.MinLevel < 0 || (p.MaxLevel != 0 && p.MaxLevel < p.MinLevel) {
			return fmt.Errorf("provider %q 级别范围无效: [%d, %d]", p.Name, p.MinLevel, p.MaxLevel)
		}
		if len(p.Extent) != 0 && len(p.Extent) != 4 {
			return fmt.Errorf("provider %q extent 必须是 4 个数或留空", p.Name)
		}
	}
	return nil
}

// ResolvePath 如果传入相对路径，基于项目根目录返回绝对路径；若已是绝对路径则原样返回。
func ResolvePath(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
