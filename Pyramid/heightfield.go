package Pyramid

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// 高程格网的无数据哨兵值
	NoDataValue = float32(-9999)
	// 高程格网编码的 Magic
	heightFieldMagic = uint32(0x4D484631) // "MHF1"
	// 高程格网头部大小（magic + cols + rows + extent）
	heightFieldHeaderSize = 12 + 32
	// 单边最大采样数
	maxGridSide = 8192
)

// HeightField 规则高程格网
// 采样点均匀覆盖 Extent（含两端边界），行号 0 在南端，
// 列号 0 在西端；采样值单位为米
type HeightField struct {
	Cols    uint32
	Rows    uint32
	Samples []float32
	Extent  GeoExtent
}

// NewHeightField 构造指定尺寸的格网，采样值初始化为 0
func NewHeightField(cols, rows uint32, extent GeoExtent) *HeightField {
	return &HeightField{
		Cols:    cols,
		Rows:    rows,
		Samples: make([]float32, cols*rows),
		Extent:  extent,
	}
}

// Fill 将所有采样值设为 v
func (h *HeightField) Fill(v float32) {
	for i := range h.Samples {
		h.Samples[i] = v
	}
}

// At 读取指定行列的采样值
func (h *HeightField) At(col, row uint32) float32 {
	return h.Samples[row*h.Cols+col]
}

// Set 写入指定行列的采样值
func (h *HeightField) Set(col, row uint32, v float32) {
	h.Samples[row*h.Cols+col] = v
}

// Bilinear 在归一化位置 (u, v) 处做双线性插值采样
// u, v 取值 [0, 1]，(0, 0) 对应格网西南角；周围四个
// 格点中任何一个是无数据值时返回 NoDataValue
func (h *HeightField) Bilinear(u, v float64) float32 {
	if u < 0 {
		u = 0
	}
	if u > 1 {
		u = 1
	}
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}

	// 格点坐标与小数部分
	gx := u * float64(h.Cols-1)
	gy := v * float64(h.Rows-1)
	c0 := uint32(math.Floor(gx))
	r0 := uint32(math.Floor(gy))
	c1 := c0 + 1
	r1 := r0 + 1
	if c1 >= h.Cols {
		c1 = h.Cols - 1
	}
	if r1 >= h.Rows {
		r1 = h.Rows - 1
	}
	fx := gx - float64(c0)
	fy := gy - float64(r0)

	s00 := h.At(c0, r0)
	s10 := h.At(c1, r0)
	s01 := h.At(c0, r1)
	s11 := h.At(c1, r1)
	if s00 == NoDataValue || s10 == NoDataValue || s01 == NoDataValue || s11 == NoDataValue {
		return NoDataValue
	}

	top := float64(s00)*(1-fx) + float64(s10)*fx
	bottom := float64(s01)*(1-fx) + float64(s11)*fx
	return float32(top*(1-fy) + bottom*fy)
}

// ExtractChild 从祖先格网中提取子键覆盖的子格网
// h 必须是 ancestorKey 对应的格网。按键关系精确计算子键在
// 祖先内的归一化子矩形，再以 cols x rows 的目标分辨率做双
// 线性重采样；返回格网的范围恰好等于 childKey 的范围，
// 分辨率恒等于请求值，与实际提供数据的祖先层级无关
func (h *HeightField) ExtractChild(ancestorKey, childKey TileKey, cols, rows uint32) (*HeightField, error) {
	if !ancestorKey.IsAncestorOf(childKey) {
		return nil, fmt.Errorf("key %s is not an ancestor of %s", ancestorKey, childKey)
	}
	if cols < 2 || rows < 2 {
		return nil, fmt.Errorf("requested grid %dx%d too small", cols, rows)
	}

	// 子键在祖先内的归一化位置：层差为 d 时祖先被分为 2^d 份
	levelDiff := childKey.Level - ancestorKey.Level
	span := uint32(1) << levelDiff
	relCol := childKey.Col - ancestorKey.Col<<levelDiff
	relRow := childKey.Row - ancestorKey.Row<<levelDiff
	fx := float64(relCol) / float64(span)
	fy := float64(relRow) / float64(span)
	fw := 1.0 / float64(span)

	out := NewHeightField(cols, rows, childKey.Extent())
	for row := uint32(0); row < rows; row++ {
		v := fy + fw*float64(row)/float64(rows-1)
		for col := uint32(0); col < cols; col++ {
			u := fx + fw*float64(col)/float64(cols-1)
			out.Set(col, row, h.Bilinear(u, v))
		}
	}
	return out, nil
}

// EncodeHeightField 将格网编码为小端二进制载荷
func EncodeHeightField(h *HeightField) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, heightFieldMagic)
	binary.Write(buf, binary.LittleEndian, h.Cols)
	binary.Write(buf, binary.LittleEndian, h.Rows)
	binary.Write(buf, binary.LittleEndian, h.Extent.MinX)
	binary.Write(buf, binary.LittleEndian, h.Extent.MinY)
	binary.Write(buf, binary.LittleEndian, h.Extent.MaxX)
	binary.Write(buf, binary.LittleEndian, h.Extent.MaxY)
	binary.Write(buf, binary.LittleEndian, h.Samples)
	return buf.Bytes()
}

// DecodeHeightField 从二进制载荷解码格网
func DecodeHeightField(data []byte) (*HeightField, error) {
	if len(data) < heightFieldHeaderSize {
		return nil, fmt.Errorf("insufficient data for heightfield header")
	}
	reader := bytes.NewReader(data)

	var magic, cols, rows uint32
	binary.Read(reader, binary.LittleEndian, &magic)
	if magic != heightFieldMagic {
		return nil, fmt.Errorf("bad heightfield magic 0x%08X", magic)
	}
	binary.Read(reader, binary.LittleEndian, &cols)
	binary.Read(reader, binary.LittleEndian, &rows)
	if cols < 2 || rows < 2 || cols > maxGridSide || rows > maxGridSide {
		return nil, fmt.Errorf("invalid heightfield size %dx%d", cols, rows)
	}

	var extent GeoExtent
	binary.Read(reader, binary.LittleEndian, &extent.MinX)
	binary.Read(reader, binary.LittleEndian, &extent.MinY)
	binary.Read(reader, binary.LittleEndian, &extent.MaxX)
	binary.Read(reader, binary.LittleEndian, &extent.MaxY)

	want := int(cols) * int(rows) * 4
	if reader.Len() < want {
		return nil, fmt.Errorf("heightfield payload truncated: want %d bytes, have %d", want, reader.Len())
	}
	h := &HeightField{Cols: cols, Rows: rows, Extent: extent, Samples: make([]float32, cols*rows)}
	binary.Read(reader, binary.LittleEndian, h.Samples)
	return h, nil
}
