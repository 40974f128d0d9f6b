package Layers

import (
	"fmt"

	"github.com/google/uuid"

	"mosaic-platform/Pyramid"
	"mosaic-platform/Source"
	"mosaic-platform/config"
)

// CachePolicy 图层的缓存策略
type CachePolicy int

const (
	// CacheDefault 正常读写缓存
	CacheDefault CachePolicy = iota
	// CacheOnly 仅从缓存读取，从不回源取数
	CacheOnly
	// CacheDisabled 完全不使用缓存
	CacheDisabled
)

// String 返回缓存策略的可读名称。
func (p CachePolicy) String() string {
	switch p {
	case CacheOnly:
		return "cache-only"
	case CacheDisabled:
		return "no-cache"
	default:
		return "default"
	}
}

// Layer 镶嵌图中的一个图层，把一个数据源和它在图中的呈现参数绑在一起。
// 构造之后字段不再修改，快照之间共享的是 *Layer 指针，修改图只会
// 增删和重排指针，因此读取 Layer 字段不需要加锁。
// 能力通过显式标志声明（Terrain、ElevationCapable），消费方查询标志
// 而不是对具体类型做断言。
type Layer struct {
	ID       string              // 图层唯一标识
	Name     string              // 图层名称，镶嵌图内唯一
	Kind     string              // 载荷类型，Source.KindImage 或 Source.KindHeightfield
	Provider Source.TileProvider // 底层数据源
	Enabled  bool                // 是否参与取数和状态查询
	Policy   CachePolicy         // 缓存策略
	Opacity  float64             // 影像合成时的不透明度，[0,1]
	MinLevel *uint32             // 最低有效级别，nil 表示未设置
	MaxLevel *uint32             // 最高有效级别，nil 表示未设置
	Extent   *Pyramid.GeoExtent  // 图层声明的有效范围，nil 表示全覆盖

	// Terrain 表示该图层参与瓦片地形金字塔
	Terrain bool
	// ElevationCapable 表示该图层能产出高程采样
	ElevationCapable bool
}

// NewLayer 按图层定义和已构建好的数据源创建图层。
// 缓存策略的推导顺序：定义里写了 no_cache 就禁用缓存；否则如果
// 数据源自身报告处于仅缓存模式，图层继承 cache-only；其余为默认。
// 参数:
//   - def: 图层定义
//   - provider: 图层绑定的数据源
//
// 返回:
//   - *Layer: 图层
//   - error: 错误信息
func NewLayer(def config.LayerDefinition, provider Source.TileProvider) (*Layer, error) {
	if provider == nil {
		return nil, fmt.Errorf("图层 %q 缺少数据源", def.Name)
	}
	switch def.Kind {
	case Source.KindImage, Source.KindHeightfield:
	default:
		return nil, fmt.Errorf("图层 %q 载荷类型不支持: %q", def.Name, def.Kind)
	}

	l := &Layer{
		ID:               uuid.NewString(),
		Name:             def.Name,
		Kind:             def.Kind,
		Provider:         provider,
		Enabled:          def.IsEnabled(),
		Opacity:          1.0,
		Terrain:          true,
		ElevationCapable: def.Kind == Source.KindHeightfield,
	}
	if def.NoCache {
		l.Policy = CacheDisabled
	} else if q, ok := provider.(Source.CacheModeQuery); ok && q.CacheOnly() {
		l.Policy = CacheOnly
	}
	if def.Opacity != nil {
		l.Opacity = *def.Opacity
	}
	if def.MinLevel != nil {
		v := uint32(*def.MinLevel)
		l.MinLevel = &v
	}
	if def.MaxLevel != nil {
		v := uint32(*def.MaxLevel)
		l.MaxLevel = &v
	}
	if len(def.Extent) == 4 {
		l.Extent = &Pyramid.GeoExtent{
			MinX: def.Extent[0],
			MinY: def.Extent[1],
			MaxX: def.Extent[2],
			MaxY: def.Extent[3],
		}
	}
	return l, nil
}

// MayHaveData 图层在精确键上有没有可能持有数据。
// 级别范围、声明范围和数据源自身的覆盖检查都要通过；
// 这是针对精确键的判断，回退取数另走逐级检查。
func (l *Layer) MayHaveData(key Pyramid.TileKey) bool {
	if !l.Enabled {
		return false
	}
	if l.MinLevel != nil && key.Level < *l.MinLevel {
		return false
	}
	if l.MaxLevel != nil && key.Level > *l.MaxLevel {
		return false
	}
	if !l.IntersectsKey(key) {
		return false
	}
	return l.Provider.MayHaveData(key)
}

// IntersectsKey 图层声明范围与键的范围是否相交。
// 未声明范围视为全覆盖。
func (l *Layer) IntersectsKey(key Pyramid.TileKey) bool {
	if l.Extent == nil || key.Profile == nil {
		return true
	}
	return l.Extent.Intersects(key.Extent())
}

// IsBlacklisted 数据源是否把该键拉黑了。
func (l *Layer) IsBlacklisted(key Pyramid.TileKey) bool {
	return l.Provider.IsBlacklisted(key)
}

// IsCached 该键的数据是否已经完整入库。
// 数据源不支持缓存查询时保守地返回 false。
func (l *Layer) IsCached(key Pyramid.TileKey) bool {
	if q, ok := l.Provider.(Source.CacheQuery); ok {
		return q.IsCached(key)
	}
	return false
}

// String 返回图层的简短描述，用于日志。
func (l *Layer) String() string {
	state := "enabled"
	if !l.Enabled {
		state = "disabled"
	}
	return fmt.Sprintf("%s[%s, %s, %s]", l.Name, l.Kind, l.Policy, state)
}
