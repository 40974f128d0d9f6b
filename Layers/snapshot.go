package Layers

import (
	"context"
	"errors"
	"fmt"

	"mosaic-platform/Pyramid"
	"mosaic-platform/Source"
	"mosaic-platform/metrics"
)

// Snapshot 单个消费方持有的图层快照。
// 快照本身不加锁：约定每个快照只被一个消费方（一个工作协程、一个
// 请求处理器）使用，与共享模型的交互全部收敛在 Sync 里。快照对
// 模型只是观察者，不拥有模型；模型被 Close 之后，快照在下一次
// Sync 时清空自己并报告一次变化，之后保持空状态，绝不会访问到
// 已经拆除的模型数据。
// 同步成功后快照会预先算好两个聚合量：启用地形图层的最高起始级别，
// 以及具备高程能力的图层子序列。
type Snapshot struct {
	model    *Model
	synced   bool
	revision int64
	layers   []*Layer

	highestMinLevel uint32
	elevLayers      []*Layer
}

// NewSnapshot 创建一个未挂接任何模型的空快照。
func NewSnapshot() *Snapshot {
	return &Snapshot{}
}

// Attach 把快照挂接到共享模型上，并回到未同步状态。
// 重复挂接会丢弃之前复制的内容。
func (s *Snapshot) Attach(m *Model) {
	s.model = m
	s.synced = false
	s.revision = 0
	s.layers = nil
	s.recompute()
}

// Release 强制快照回到未同步状态，丢弃已复制的图层列表。
// 模型挂接关系保留，下一次 Sync 会重新复制。
func (s *Snapshot) Release() {
	s.synced = false
	s.revision = 0
	s.layers = nil
	s.recompute()
}

// NeedsSync 快照是否落后于共享模型。
// 未同步过、或模型版本号与快照记录的版本号不同时为 true；
// 模型过期后，只要快照还残留着旧列表就为 true，清空一次后恢复 false。
func (s *Snapshot) NeedsSync() bool {
	if s.model == nil {
		return false
	}
	if !s.synced {
		return true
	}
	if s.model.Expired() {
		return len(s.layers) > 0
	}
	return s.model.Revision() != s.revision
}

// Sync 把快照同步到共享模型的当前状态。
// 列表副本和版本号在模型的同一把读锁内取得，两者永远对应同一个
// 状态。返回值表示这次同步是否真的改变了快照内容；内容没变时
// 这是一个幂等的空操作。模型已过期时清空列表并报告一次变化。
// 返回:
//   - bool: 快照内容是否发生变化
func (s *Snapshot) Sync() bool {
	if s.model == nil {
		return false
	}
	if s.model.Expired() {
		changed := !s.synced || len(s.layers) > 0
		s.synced = true
		s.revision = 0
		s.layers = nil
		if changed {
			s.recompute()
			metrics.SnapshotSyncs.Inc()
		}
		return changed
	}
	state := s.model.CopyState()
	changed := !s.synced || state.Revision != s.revision
	if changed {
		s.revision = state.Revision
		s.layers = state.Layers
		s.recompute()
		metrics.SnapshotSyncs.Inc()
	}
	s.synced = true
	return changed
}

// recompute 重新推导同步后的两个聚合量
func (s *Snapshot) recompute() {
	s.highestMinLevel = 0
	s.elevLayers = nil
	for _, l := range s.layers {
		if !l.Terrain {
			continue
		}
		if l.Enabled && l.MinLevel != nil && *l.MinLevel > s.highestMinLevel {
			s.highestMinLevel = *l.MinLevel
		}
		if l.ElevationCapable {
			s.elevLayers = append(s.elevLayers, l)
		}
	}
}

// Revision 快照复制时对应的模型版本号。
func (s *Snapshot) Revision() int64 {
	return s.revision
}

// Layers 返回快照持有的图层列表。
// 列表归快照所有，调用方不得修改；Layer 指针是共享的不可变对象。
func (s *Snapshot) Layers() []*Layer {
	return s.layers
}

// ContainsLayer 快照里是否含有指定 ID 的图层。
func (s *Snapshot) ContainsLayer(id string) bool {
	for _, l := range s.layers {
		if l.ID == id {
			return true
		}
	}
	return false
}

// HighestMinLevel 启用地形图层中最高的起始级别。
// 没有任何图层设置起始级别时为 0；消费方从这个级别开始细分
// 才能保证每个图层都可能有数据。
func (s *Snapshot) HighestMinLevel() uint32 {
	return s.highestMinLevel
}

// ElevationLayers 具备高程能力的地形图层子序列，保持镶嵌图顺序。
// 列表归快照所有，调用方不得修改。
func (s *Snapshot) ElevationLayers() []*Layer {
	return s.elevLayers
}

// IsCached 判断一个键在所有相关图层下是否都已经入库。
// 逐个检查启用的地形图层：仅缓存的图层数据天然现成，跳过；
// 禁用缓存的图层不可能整体入库，立即判否；在该键上不可能有数据
// 或被拉黑的图层不影响结论，跳过；其余图层必须自己报告已缓存。
func (s *Snapshot) IsCached(key Pyramid.TileKey) bool {
	for _, l := range s.layers {
		if !l.Terrain || !l.Enabled {
			continue
		}
		switch l.Policy {
		case CacheOnly:
			continue
		case CacheDisabled:
			return false
		}
		if !l.MayHaveData(key) || l.IsBlacklisted(key) {
			continue
		}
		if !l.IsCached(key) {
			return false
		}
	}
	return true
}

// PopulateHeightField 把所有高程图层的数据合成为一个键上的格网。
// 图层按镶嵌图顺序参与，后面图层的有效采样覆盖前面的；每个图层
// 内部仍然走祖先回退和双线性对齐，所以不同分辨率的数据源可以
// 混合参与。cols、rows 为 0 时使用缺省分辨率。
// 参数:
//   - ctx: 上下文，取消后立即中止
//   - key: 瓦片键
//   - cols: 目标格网列数
//   - rows: 目标格网行数
//
// 返回:
//   - *Pyramid.HeightField: 合成后的格网
//   - error: 没有任何图层给出数据时为 Source.ErrTileNotFound
func (s *Snapshot) PopulateHeightField(ctx context.Context, key Pyramid.TileKey, cols, rows uint32) (*Pyramid.HeightField, error) {
	if !key.Valid() {
		return nil, fmt.Errorf("瓦片键无效: %s", key)
	}
	if cols == 0 {
		cols = Source.DefaultHeightfieldSize
	}
	if rows == 0 {
		rows = Source.DefaultHeightfieldSize
	}

	out := Pyramid.NewHeightField(cols, rows, key.Extent())
	out.Fill(Pyramid.NoDataValue)
	resolved := false
	for _, l := range s.elevLayers {
		if !l.Enabled || !l.IntersectsKey(key) {
			continue
		}
		grid, _, err := Source.WalkHeightfield(ctx, l.Provider, key, cols, rows, nil)
		if err != nil {
			if errors.Is(err, Source.ErrFetchCancelled) {
				return nil, err
			}
			continue
		}
		for i, v := range grid.Samples {
			if v != Pyramid.NoDataValue {
				out.Samples[i] = v
			}
		}
		resolved = true
	}
	if !resolved {
		return nil, Source.ErrTileNotFound
	}
	return out, nil
}
