package Pyramid

import (
	"math"
	"testing"
)

func TestHeightField_Bilinear(t *testing.T) {
	extent := GeoExtent{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1}
	h := NewHeightField(2, 2, extent)
	h.Set(0, 0, 0)
	h.Set(1, 0, 10)
	h.Set(0, 1, 20)
	h.Set(1, 1, 30)

	// 1. 格点处取原值
	corners := []struct {
		u, v     float64
		expected float32
	}{
		{0, 0, 0}, {1, 0, 10}, {0, 1, 20}, {1, 1, 30},
	}
	for _, tt := range corners {
		if got := h.Bilinear(tt.u, tt.v); got != tt.expected {
			t.Errorf("Bilinear(%g, %g) = %g, want %g", tt.u, tt.v, got, tt.expected)
		}
	}

	// 2. 中心点为四角平均
	if got := h.Bilinear(0.5, 0.5); math.Abs(float64(got-15)) > 1e-6 {
		t.Errorf("Bilinear(0.5, 0.5) = %g, want 15", got)
	}

	// 3. 周围格点含无数据值时结果也是无数据
	h.Set(1, 1, NoDataValue)
	if got := h.Bilinear(0.75, 0.75); got != NoDataValue {
		t.Errorf("Bilinear near nodata = %g, want NoDataValue", got)
	}
}

func TestHeightField_ExtractChild(t *testing.T) {
	merc := MercatorProfile()
	ancestor := NewTileKey(3, 2, 5, merc)
	child := ancestor.Child(1).Child(2) // 相差两级的后代

	// 祖先格网采样一个线性斜面，双线性重采样应精确还原
	grid := NewHeightField(17, 17, ancestor.Extent())
	plane := func(u, v float64) float64 { return 100 + 40*u - 25*v }
	for row := uint32(0); row < grid.Rows; row++ {
		for col := uint32(0); col < grid.Cols; col++ {
			u := float64(col) / float64(grid.Cols-1)
			v := float64(row) / float64(grid.Rows-1)
			grid.Set(col, row, float32(plane(u, v)))
		}
	}

	out, err := grid.ExtractChild(ancestor, child, 9, 9)
	if err != nil {
		t.Fatalf("ExtractChild() error: %v", err)
	}

	// 1. 分辨率恒等于请求值
	if out.Cols != 9 || out.Rows != 9 {
		t.Fatalf("extracted grid is %dx%d, want 9x9", out.Cols, out.Rows)
	}

	// 2. 范围恰好等于子键的覆盖范围
	if !out.Extent.Equals(child.Extent()) {
		t.Fatalf("extracted extent = %s, want %s", out.Extent, child.Extent())
	}

	// 3. 采样值与斜面解析值一致（线性函数被双线性插值精确保持）
	levelDiff := child.Level - ancestor.Level
	span := float64(uint32(1) << levelDiff)
	relCol := float64(child.Col - ancestor.Col<<levelDiff)
	relRow := float64(child.Row - ancestor.Row<<levelDiff)
	for row := uint32(0); row < out.Rows; row++ {
		for col := uint32(0); col < out.Cols; col++ {
			u := (relCol + float64(col)/float64(out.Cols-1)) / span
			v := (relRow + float64(row)/float64(out.Rows-1)) / span
			want := plane(u, v)
			got := float64(out.At(col, row))
			if math.Abs(got-want) > 1e-3 {
				t.Fatalf("sample (%d,%d) = %g, want %g", col, row, got, want)
			}
		}
	}

	// 4. 非祖先关系应报错
	stranger := NewTileKey(3, 3, 5, merc)
	if _, err := grid.ExtractChild(stranger, child, 9, 9); err == nil {
		t.Error("ExtractChild() should reject a non-ancestor key")
	}
}

func TestHeightField_Codec(t *testing.T) {
	extent := GeoExtent{MinX: -180, MinY: -90, MaxX: 0, MaxY: 90}
	h := NewHeightField(5, 3, extent)
	for i := range h.Samples {
		h.Samples[i] = float32(i) * 1.5
	}
	h.Set(2, 1, NoDataValue)

	data := EncodeHeightField(h)
	back, err := DecodeHeightField(data)
	if err != nil {
		t.Fatalf("DecodeHeightField() error: %v", err)
	}
	if back.Cols != h.Cols || back.Rows != h.Rows {
		t.Fatalf("decoded size %dx%d, want %dx%d", back.Cols, back.Rows, h.Cols, h.Rows)
	}
	if !back.Extent.Equals(h.Extent) {
		t.Errorf("decoded extent = %s, want %s", back.Extent, h.Extent)
	}
	for i := range h.Samples {
		if back.Samples[i] != h.Samples[i] {
			t.Fatalf("sample %d = %g, want %g", i, back.Samples[i], h.Samples[i])
		}
	}

	// 残缺载荷应报错而不是崩溃
	if _, err := DecodeHeightField(data[:20]); err == nil {
		t.Error("DecodeHeightField() should reject truncated payload")
	}
	if _, err := DecodeHeightField([]byte("not a heightfield payload at all, not even close")); err == nil {
		t.Error("DecodeHeightField() should reject foreign payload")
	}
}
