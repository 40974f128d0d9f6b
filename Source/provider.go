package Source

import (
	"fmt"

	"mosaic-platform/Pyramid"
	"mosaic-platform/config"
)

// 内置驱动名
const (
	DriverStore = "store"
	DriverDir   = "dir"
)

// providerCore 内置驱动共享的身份与覆盖范围判断
type providerCore struct {
	name      string
	profile   *Pyramid.Profile
	enabled   bool
	kinds     map[string]bool
	minLevel  uint32
	maxLevel  uint32
	extent    *Pyramid.GeoExtent
	blacklist *Blacklist
}

// newProviderCore 从配置解析共享字段
func newProviderCore(cfg config.ProviderConfig) (providerCore, error) {
	prof, err := Pyramid.ProfileFromString(cfg.Profile)
	if err != nil {
		return providerCore{}, err
	}
	if prof == nil {
		prof = Pyramid.UnknownProfile()
	}

	kinds := make(map[string]bool, len(cfg.Kinds))
	if len(cfg.Kinds) == 0 {
		kinds[KindImage] = true
	}
	for _, kind := range cfg.Kinds {
		switch kind {
		case KindImage, KindHeightfield:
			kinds[kind] = true
		default:
			return providerCore{}, fmt.Errorf("载荷类型不支持: %q", kind)
		}
	}

	var ext *Pyramid.GeoExtent
	if len(cfg.Extent) == 4 {
		ext = &Pyramid.GeoExtent{
			MinX: cfg.Extent[0], MinY: cfg.Extent[1],
			MaxX: cfg.Extent[2], MaxY: cfg.Extent[3],
		}
	}

	return providerCore{
		name:      cfg.Name,
		profile:   prof,
		enabled:   !cfg.Disabled,
		kinds:     kinds,
		minLevel:  uint32(cfg.MinLevel),
		maxLevel:  uint32(cfg.MaxLevel),
		extent:    ext,
		blacklist: NewBlacklist(0),
	}, nil
}

// Name 返回数据源名称
func (c *providerCore) Name() string { return c.name }

// Profile 返回数据源剖面
func (c *providerCore) Profile() *Pyramid.Profile { return c.profile }

// Enabled 返回数据源是否启用
func (c *providerCore) Enabled() bool { return c.enabled }

// Blacklist 返回该数据源的临时黑名单
func (c *providerCore) Blacklist() *Blacklist { return c.blacklist }

// MayHaveData 覆盖范围判断：级别范围与空间范围之外的键必然无数据。
// 这是一个保守估计，返回 true 不保证真的有数据
func (c *providerCore) MayHaveData(key Pyramid.TileKey) bool {
	if !c.enabled {
		return false
	}
	if key.Level < c.minLevel {
		return false
	}
	if c.maxLevel != 0 && key.Level > c.maxLevel {
		return false
	}
	if c.extent != nil && key.Profile != nil && !c.extent.Intersects(key.Extent()) {
		return false
	}
	return true
}

// IsBlacklisted 该键是否在临时黑名单中（只判断精确键，不含祖先）
func (c *providerCore) IsBlacklisted(key Pyramid.TileKey) bool {
	return c.blacklist.IsBlocked(key)
}

// servesKind 是否提供该载荷类型
func (c *providerCore) servesKind(kind string) bool {
	return c.kinds[kind]
}
