package Pyramid

import (
	"fmt"
)

// 四叉树键位压缩常量
const (
	quadBits     = 2                         // 每层使用 2 bit
	quadBitMask  = 0x03                      // 象限位掩码
	totalBits    = 64                        // 总位数
	rootShift    = 8                         // 根索引所在字节
	levelBitMask = uint64(0xFF)              // 层级字节掩码
	rootBitMask  = uint64(0xFF) << rootShift // 根索引字节掩码
)

// quadOrder[右半][上半] 对应象限编号
// 编号规则（行号 0 在南端）：
//
//	c0  c1
//
// r1 [3] [2]
// r0 [0] [1]
var quadOrder = [2][2]uint32{{0, 3}, {1, 2}}

// quadColBit 象限编号对应的列位
var quadColBit = [4]uint32{0, 1, 1, 0}

// quadRowBit 象限编号对应的行位
var quadRowBit = [4]uint32{0, 0, 1, 1}

// TileKey 四叉树金字塔中一块瓦片的地址
// 由层级、列号、行号和所属剖面组成；值类型，可随意复制。
// 列号自西向东递增，行号自南向北递增
type TileKey struct {
	Level   uint32
	Col     uint32
	Row     uint32
	Profile *Profile
}

// NewTileKey 构造瓦片键
func NewTileKey(level, col, row uint32, p *Profile) TileKey {
	return TileKey{Level: level, Col: col, Row: row, Profile: p}
}

// Valid 校验键是否落在剖面的合法编号范围内
func (k TileKey) Valid() bool {
	if k.Profile == nil || k.Profile.Kind == ProfileUnknown || k.Level > MaxLevel {
		return false
	}
	return k.Col < k.Profile.TilesWide(k.Level) && k.Row < k.Profile.TilesHigh(k.Level)
}

// Ancestor 返回上一层级的祖先键
// 0 级没有祖先，此时返回 false
func (k TileKey) Ancestor() (TileKey, bool) {
	if k.Level == 0 {
		return TileKey{}, false
	}
	return TileKey{Level: k.Level - 1, Col: k.Col / 2, Row: k.Row / 2, Profile: k.Profile}, true
}

// AncestorAt 返回指定层级的祖先键
// level 必须不大于当前层级，否则返回 false
func (k TileKey) AncestorAt(level uint32) (TileKey, bool) {
	if level > k.Level {
		return TileKey{}, false
	}
	shift := k.Level - level
	return TileKey{Level: level, Col: k.Col >> shift, Row: k.Row >> shift, Profile: k.Profile}, true
}

// Child 返回第 quadrant 个子键（取值 0-3）
func (k TileKey) Child(quadrant uint32) TileKey {
	if quadrant > 3 {
		quadrant = 0
	}
	return TileKey{
		Level:   k.Level + 1,
		Col:     k.Col*2 + quadColBit[quadrant],
		Row:     k.Row*2 + quadRowBit[quadrant],
		Profile: k.Profile,
	}
}

// Quadrant 返回当前键是其父键的第几个孩子（0-3）
func (k TileKey) Quadrant() uint32 {
	if k.Level == 0 {
		return 0
	}
	return quadOrder[k.Col&1][k.Row&1]
}

// IsAncestorOf 判断 k 是否是 other 的祖先（包括自身）
func (k TileKey) IsAncestorOf(other TileKey) bool {
	if k.Level > other.Level {
		return false
	}
	shift := other.Level - k.Level
	return other.Col>>shift == k.Col && other.Row>>shift == k.Row
}

// Equals 判断两个键是否指向同一块瓦片
func (k TileKey) Equals(o TileKey) bool {
	if k.Level != o.Level || k.Col != o.Col || k.Row != o.Row {
		return false
	}
	if k.Profile == o.Profile {
		return true
	}
	return k.Profile.Equals(o.Profile)
}

// Extent 返回键覆盖的范围
func (k TileKey) Extent() GeoExtent {
	return k.Profile.TileExtent(k.Level, k.Col, k.Row)
}

// rootIndex 返回键所属 0 级根瓦片的序号（行优先）
func (k TileKey) rootIndex() uint32 {
	rootCol := k.Col >> k.Level
	rootRow := k.Row >> k.Level
	return rootRow*k.Profile.RootTilesX + rootCol
}

// QuadKey 转换为四叉树地址串
// 首字符是 0 级根瓦片序号，其后每层一个象限数字（0-3），
// 总长度为 Level+1；与 ParseQuadKey 互逆
func (k TileKey) QuadKey() string {
	root := k.rootIndex()
	result := make([]byte, k.Level+1)
	result[0] = byte('0' + root)

	// 根内的局部行列号
	mask := uint32(1)<<k.Level - 1
	col := k.Col & mask
	row := k.Row & mask

	for j := uint32(0); j < k.Level; j++ {
		right := (col >> (k.Level - j - 1)) & 0x01
		top := (row >> (k.Level - j - 1)) & 0x01
		result[j+1] = byte('0' + quadOrder[right][top])
	}
	return string(result)
}

// ParseQuadKey 从四叉树地址串解析瓦片键
func ParseQuadKey(s string, p *Profile) (TileKey, error) {
	if len(s) == 0 {
		return TileKey{}, fmt.Errorf("empty quadkey")
	}
	level := uint32(len(s) - 1)
	if level > MaxLevel {
		return TileKey{}, fmt.Errorf("quadkey %q exceeds max level %d", s, MaxLevel)
	}
	root := uint32(s[0] - '0')
	if p != nil && root >= p.RootTilesX*p.RootTilesY {
		return TileKey{}, fmt.Errorf("quadkey %q root %d out of range", s, root)
	}

	var col, row uint32
	for j := uint32(0); j < level; j++ {
		d := uint32(s[j+1] - '0')
		if d > 3 {
			return TileKey{}, fmt.Errorf("quadkey %q has invalid digit at %d", s, j+1)
		}
		col = col<<1 | quadColBit[d]
		row = row<<1 | quadRowBit[d]
	}

	rootX := uint32(1)
	if p != nil {
		rootX = p.RootTilesX
	}
	col += (root % rootX) << level
	row += (root / rootX) << level
	return TileKey{Level: level, Col: col, Row: row, Profile: p}, nil
}

// PackKey 压缩为 64 位存储键
// 高 48 位存象限路径（每层 2 bit，高位在前），第二低字节存
// 根瓦片序号，最低字节存层级；层级不超过 MaxLevel
func (k TileKey) PackKey() uint64 {
	level := k.Level
	if level > MaxLevel {
		level = MaxLevel
	}
	var path uint64
	mask := uint32(1)<<level - 1
	col := k.Col & mask
	row := k.Row & mask
	for j := uint32(0); j < level; j++ {
		right := (col >> (level - j - 1)) & 0x01
		top := (row >> (level - j - 1)) & 0x01
		path |= uint64(quadOrder[right][top]) << (totalBits - (j+1)*quadBits)
	}
	path |= uint64(k.rootIndex()) << rootShift
	path |= uint64(level)
	return path
}

// UnpackKey 从 64 位存储键还原瓦片键
func UnpackKey(v uint64, p *Profile) TileKey {
	level := uint32(v & levelBitMask)
	if level > MaxLevel {
		level = MaxLevel
	}
	root := uint32((v & rootBitMask) >> rootShift)

	var col, row uint32
	for j := uint32(0); j < level; j++ {
		d := uint32((v >> (totalBits - (j+1)*quadBits)) & quadBitMask)
		col = col<<1 | quadColBit[d]
		row = row<<1 | quadRowBit[d]
	}

	rootX := uint32(1)
	if p != nil {
		rootX = p.RootTilesX
	}
	col += (root % rootX) << level
	row += (root / rootX) << level
	return TileKey{Level: level, Col: col, Row: row, Profile: p}
}

// String 返回 "层级/列/行" 形式的描述串
func (k TileKey) String() string {
	return fmt.Sprintf("%d/%d/%d", k.Level, k.Col, k.Row)
}
