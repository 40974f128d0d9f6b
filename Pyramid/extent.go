package Pyramid

import (
	"fmt"
	"math"
)

// GeoExtent 轴对齐的地理范围，单位由所属剖面决定
type GeoExtent struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// Width 范围宽度
func (e GeoExtent) Width() float64 {
	return e.MaxX - e.MinX
}

// Height 范围高度
func (e GeoExtent) Height() float64 {
	return e.MaxY - e.MinY
}

// Center 范围中心点
func (e GeoExtent) Center() (x, y float64) {
	return (e.MinX + e.MaxX) / 2, (e.MinY + e.MaxY) / 2
}

// Contains 判断点是否落在范围内（含边界）
func (e GeoExtent) Contains(x, y float64) bool {
	return x >= e.MinX && x <= e.MaxX && y >= e.MinY && y <= e.MaxY
}

// Intersects 判断两个范围是否相交
func (e GeoExtent) Intersects(o GeoExtent) bool {
	return e.MinX <= o.MaxX && e.MaxX >= o.MinX &&
		e.MinY <= o.MaxY && e.MaxY >= o.MinY
}

// Equals 判断两个范围是否在容差内相等
func (e GeoExtent) Equals(o GeoExtent) bool {
	return math.Abs(e.MinX-o.MinX) < extentEpsilon &&
		math.Abs(e.MinY-o.MinY) < extentEpsilon &&
		math.Abs(e.MaxX-o.MaxX) < extentEpsilon &&
		math.Abs(e.MaxY-o.MaxY) < extentEpsilon
}

// NormalizedSub 计算 child 在 e 内的归一化子矩形
// 返回以 e 左下角为原点、按 e 宽高归一化的 (fx, fy, fw, fh)
func (e GeoExtent) NormalizedSub(child GeoExtent) (fx, fy, fw, fh float64) {
	fx = (child.MinX - e.MinX) / e.Width()
	fy = (child.MinY - e.MinY) / e.Height()
	fw = child.Width() / e.Width()
	fh = child.Height() / e.Height()
	return
}

// String 返回范围的描述串
func (e GeoExtent) String() string {
	return fmt.Sprintf("[%g,%g %g,%g]", e.MinX, e.MinY, e.MaxX, e.MaxY)
}
