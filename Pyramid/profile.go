package Pyramid

import (
	"fmt"
	"math"
	"strings"
)

// 金字塔常量
const (
	// 地球半径（米）
	EarthRadius = 6378137.0
	// 墨卡托投影的最大纬度（约85.05度）
	MaxMercatorLatitude = 85.05112878
	// 墨卡托投影的世界半宽（米）
	MercatorWorldHalf = math.Pi * EarthRadius
	// π
	Pi = math.Pi
	// 最大层级
	MaxLevel = 24
	// 默认瓦片尺寸（像素）
	DefaultTileSize = 256
	// 剖面范围比较的容差
	extentEpsilon = 1e-6
)

// ProfileKind 剖面类型
type ProfileKind int

const (
	ProfileUnknown   ProfileKind = iota // 未知剖面
	ProfileGeodetic                     // 全球经纬度剖面
	ProfileMercator                     // 全球球面墨卡托剖面
	ProfileProjected                    // 任意平面投影剖面
)

// String 返回剖面类型名称
func (k ProfileKind) String() string {
	switch k {
	case ProfileGeodetic:
		return "geodetic"
	case ProfileMercator:
		return "mercator"
	case ProfileProjected:
		return "projected"
	default:
		return "unknown"
	}
}

// Profile 描述一个瓦片金字塔的坐标系与切片方案
// 同一剖面下的瓦片键才可以互相寻址；不同剖面之间只有
// 显式的可替代关系（见 Accepts）
type Profile struct {
	Kind       ProfileKind // 剖面类型
	Extent     GeoExtent   // 剖面覆盖的总范围（剖面自身的坐标单位）
	RootTilesX uint32      // 0 级瓦片的列数
	RootTilesY uint32      // 0 级瓦片的行数
	TileW      uint32      // 单块瓦片的采样宽度
	TileH      uint32      // 单块瓦片的采样高度
	SRS        string      // 坐标系标识（仅作描述）
}

// GeodeticProfile 构造全球经纬度剖面（0 级为 2x1）
func GeodeticProfile() *Profile {
	return &Profile{
		Kind:       ProfileGeodetic,
		Extent:     GeoExtent{MinX: -180, MinY: -90, MaxX: 180, MaxY: 90},
		RootTilesX: 2,
		RootTilesY: 1,
		TileW:      DefaultTileSize,
		TileH:      DefaultTileSize,
		SRS:        "EPSG:4326",
	}
}

// MercatorProfile 构造全球球面墨卡托剖面（0 级为 1x1）
func MercatorProfile() *Profile {
	return &Profile{
		Kind:       ProfileMercator,
		Extent:     GeoExtent{MinX: -MercatorWorldHalf, MinY: -MercatorWorldHalf, MaxX: MercatorWorldHalf, MaxY: MercatorWorldHalf},
		RootTilesX: 1,
		RootTilesY: 1,
		TileW:      DefaultTileSize,
		TileH:      DefaultTileSize,
		SRS:        "EPSG:3857",
	}
}

// ProjectedProfile 构造任意平面投影剖面
func ProjectedProfile(extent GeoExtent, rootX, rootY uint32, srs string) *Profile {
	if rootX == 0 {
		rootX = 1
	}
	if rootY == 0 {
		rootY = 1
	}
	return &Profile{
		Kind:       ProfileProjected,
		Extent:     extent,
		RootTilesX: rootX,
		RootTilesY: rootY,
		TileW:      DefaultTileSize,
		TileH:      DefaultTileSize,
		SRS:        srs,
	}
}

// UnknownProfile 构造未知剖面（无切片方案，仅作占位）
func UnknownProfile() *Profile {
	return &Profile{Kind: ProfileUnknown}
}

// ProfileFromString 从配置字符串解析剖面
// 支持 "geodetic" 与 "mercator"，空串返回 nil 表示未指定
func ProfileFromString(s string) (*Profile, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return nil, nil
	case "geodetic", "epsg:4326", "wgs84":
		return GeodeticProfile(), nil
	case "mercator", "spherical-mercator", "epsg:3857", "epsg:900913":
		return MercatorProfile(), nil
	default:
		return nil, fmt.Errorf("unrecognized profile %q", s)
	}
}

// Equals 判断两个剖面是否结构相等
// 类型、总范围（容差内）与 0 级布局全部一致才算相等
func (p *Profile) Equals(o *Profile) bool {
	if p == nil || o == nil {
		return p == o
	}
	if p.Kind != o.Kind {
		return false
	}
	if p.Kind == ProfileUnknown {
		return true
	}
	return p.Extent.Equals(o.Extent) &&
		p.RootTilesX == o.RootTilesX &&
		p.RootTilesY == o.RootTilesY
}

// Accepts 判断以 p 为工作剖面时能否接纳剖面为 src 的数据源
// 可替代关系是非对称的：经纬度工作剖面可以接纳墨卡托数据源，
// 反过来不行；Projected 只认结构相等；Unknown 不接纳任何数据源
func (p *Profile) Accepts(src *Profile) bool {
	if p == nil || src == nil {
		return false
	}
	if src.Kind == ProfileUnknown {
		return false
	}
	if p.Equals(src) {
		return true
	}
	if p.Kind == ProfileGeodetic && src.Kind == ProfileMercator {
		return true
	}
	return false
}

// TilesWide 返回指定层级的瓦片列数
func (p *Profile) TilesWide(level uint32) uint32 {
	return p.RootTilesX << level
}

// TilesHigh 返回指定层级的瓦片行数
func (p *Profile) TilesHigh(level uint32) uint32 {
	return p.RootTilesY << level
}

// TileExtent 计算指定瓦片的范围
// 行号 0 位于剖面南端（底部），列号 0 位于西端
func (p *Profile) TileExtent(level, col, row uint32) GeoExtent {
	tw := p.Extent.Width() / float64(p.TilesWide(level))
	th := p.Extent.Height() / float64(p.TilesHigh(level))
	minX := p.Extent.MinX + float64(col)*tw
	minY := p.Extent.MinY + float64(row)*th
	return GeoExtent{MinX: minX, MinY: minY, MaxX: minX + tw, MaxY: minY + th}
}

// KeyAt 返回包含指定点的瓦片键
// x, y 使用剖面自身的坐标单位；点在剖面范围之外时返回 false
func (p *Profile) KeyAt(level uint32, x, y float64) (TileKey, bool) {
	if p.Kind == ProfileUnknown || !p.Extent.Contains(x, y) {
		return TileKey{}, false
	}
	wide := p.TilesWide(level)
	high := p.TilesHigh(level)
	col := uint32((x - p.Extent.MinX) / p.Extent.Width() * float64(wide))
	row := uint32((y - p.Extent.MinY) / p.Extent.Height() * float64(high))
	// 范围最大值落在最后一块瓦片内
	if col >= wide {
		col = wide - 1
	}
	if row >= high {
		row = high - 1
	}
	return NewTileKey(level, col, row, p), true
}

// KeysInExtent 枚举指定层级内与给定范围相交的全部瓦片键
// 按行优先顺序返回（自南向北、自西向东）
func (p *Profile) KeysInExtent(level uint32, e GeoExtent) []TileKey {
	if p.Kind == ProfileUnknown || !p.Extent.Intersects(e) {
		return nil
	}
	lo, ok := p.KeyAt(level, math.Max(e.MinX, p.Extent.MinX), math.Max(e.MinY, p.Extent.MinY))
	if !ok {
		return nil
	}
	hiX := math.Min(e.MaxX, p.Extent.MaxX)
	hiY := math.Min(e.MaxY, p.Extent.MaxY)
	hi, ok := p.KeyAt(level, hiX, hiY)
	if !ok {
		return nil
	}
	// 上边界恰好压在瓦片缝上时不计入下一行/列
	if hi.Col > lo.Col && p.TileExtent(level, hi.Col, hi.Row).MinX >= hiX-extentEpsilon {
		hi.Col--
	}
	if hi.Row > lo.Row && p.TileExtent(level, hi.Col, hi.Row).MinY >= hiY-extentEpsilon {
		hi.Row--
	}
	keys := make([]TileKey, 0, (hi.Col-lo.Col+1)*(hi.Row-lo.Row+1))
	for row := lo.Row; row <= hi.Row; row++ {
		for col := lo.Col; col <= hi.Col; col++ {
			keys = append(keys, NewTileKey(level, col, row, p))
		}
	}
	return keys
}

// String 返回剖面的描述串
func (p *Profile) String() string {
	if p == nil {
		return "<nil>"
	}
	if p.Kind == ProfileUnknown {
		return "unknown"
	}
	return fmt.Sprintf("%s[%dx%d @0 %s]", p.Kind, p.RootTilesX, p.RootTilesY, p.SRS)
}

// DegToRad 角度转弧度
func DegToRad(deg float64) float64 {
	return deg * Pi / 180.0
}

// RadToDeg 弧度转角度
func RadToDeg(rad float64) float64 {
	return rad * 180.0 / Pi
}

// LatLonToMeters 经纬度转球面墨卡托米制坐标
// lat: 纬度（度）
// lon: 经度（度）
// 返回：mx, my（米）
func LatLonToMeters(lat, lon float64) (mx, my float64) {
	if lat > MaxMercatorLatitude {
		lat = MaxMercatorLatitude
	}
	if lat < -MaxMercatorLatitude {
		lat = -MaxMercatorLatitude
	}
	mx = EarthRadius * DegToRad(lon)
	my = EarthRadius * math.Log(math.Tan(Pi/4+DegToRad(lat)/2))
	return mx, my
}

// MetersToLatLon 球面墨卡托米制坐标转经纬度
// mx, my: 米制坐标
// 返回：lat, lon（度）
func MetersToLatLon(mx, my float64) (lat, lon float64) {
	lon = RadToDeg(mx / EarthRadius)
	lat = RadToDeg(2*math.Atan(math.Exp(my/EarthRadius)) - Pi/2)
	return lat, lon
}
