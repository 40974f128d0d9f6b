package Layers

import (
	"fmt"
	"sync"
	"sync/atomic"

	"mosaic-platform/Source"
	"mosaic-platform/config"
)

// Model 可变的共享图层集合，按绘制顺序持有图层（下层在前）。
// 每次结构性修改（增、删、重排）都会把版本号加一；快照通过
// CopyState 在同一把读锁内拿到列表副本和对应版本号，保证两者一致。
// Close 之后模型进入过期状态，挂在它上面的快照会在下一次同步时
// 清空自己，而不是访问已经释放的数据。
type Model struct {
	mu       sync.RWMutex
	name     string
	layers   []*Layer
	revision int64
	closed   atomic.Bool
}

// ModelState 一次一致读取的结果：图层列表副本和它对应的版本号。
type ModelState struct {
	Layers   []*Layer
	Revision int64
}

// NewModel 创建一个空的图层模型。
// 参数:
//   - name: 镶嵌图名称
//
// 返回:
//   - *Model: 图层模型
func NewModel(name string) *Model {
	return &Model{name: name, revision: 1}
}

// BuildModel 按镶嵌图定义构建模型，把每个图层定义和同名数据源绑定。
// 参数:
//   - def: 镶嵌图定义
//   - providers: 按名称索引的数据源表
//
// 返回:
//   - *Model: 图层模型
//   - error: 错误信息
func BuildModel(def *config.MosaicDefinition, providers map[string]Source.TileProvider) (*Model, error) {
	if def == nil {
		return nil, fmt.Errorf("镶嵌图定义为空")
	}
	m := NewModel(def.Name)
	for i := range def.Layers {
		ld := def.Layers[i]
		p, ok := providers[ld.Provider]
		if !ok {
			return nil, fmt.Errorf("图层 %q 引用了未知数据源 %q", ld.Name, ld.Provider)
		}
		layer, err := NewLayer(ld, p)
		if err != nil {
			return nil, err
		}
		m.layers = append(m.layers, layer)
	}
	return m, nil
}

// Name 返回镶嵌图名称。
func (m *Model) Name() string {
	return m.name
}

// Revision 返回当前版本号。
func (m *Model) Revision() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.revision
}

// Len 返回当前图层数量。
func (m *Model) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.layers)
}

// CopyState 在同一把读锁内复制图层列表并读取版本号。
// 返回的切片归调用方所有；Layer 指针本身是共享的不可变对象。
func (m *Model) CopyState() ModelState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	layers := make([]*Layer, len(m.layers))
	copy(layers, m.layers)
	return ModelState{Layers: layers, Revision: m.revision}
}

// AddLayer 把图层追加到列表末尾（最上层），版本号加一。
func (m *Model) AddLayer(l *Layer) {
	if l == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.layers = append(m.layers, l)
	m.revision++
}

// RemoveLayer 按 ID 移除图层。
// 找到并移除时版本号加一，返回 true；不存在时返回 false。
func (m *Model) RemoveLayer(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.layers {
		if l.ID == id {
			m.layers = append(m.layers[:i], m.layers[i+1:]...)
			m.revision++
			return true
		}
	}
	return false
}

// MoveLayer 把图层移动到新的位置，index 会被钳制到有效区间。
// 位置实际发生变化时版本号加一；图层不存在时返回 false。
func (m *Model) MoveLayer(id string, index int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	from := -1
	for i, l := range m.layers {
		if l.ID == id {
			from = i
			break
		}
	}
	if from < 0 {
		return false
	}
	if index < 0 {
		index = 0
	}
	if index >= len(m.layers) {
		index = len(m.layers) - 1
	}
	if index == from {
		return true
	}
	l := m.layers[from]
	m.layers = append(m.layers[:from], m.layers[from+1:]...)
	m.layers = append(m.layers[:index], append([]*Layer{l}, m.layers[index:]...)...)
	m.revision++
	return true
}

// Layer 按 ID 查找图层，找不到时返回 nil。
func (m *Model) Layer(id string) *Layer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.layers {
		if l.ID == id {
			return l
		}
	}
	return nil
}

// LayerByName 按名称查找图层，找不到时返回 nil。
func (m *Model) LayerByName(name string) *Layer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.layers {
		if l.Name == name {
			return l
		}
	}
	return nil
}

// Close 把模型标记为过期。之后挂在它上面的快照会在下一次
// 同步时清空自己。可以重复调用。
func (m *Model) Close() {
	m.closed.Store(true)
}

// Expired 模型是否已经被关闭。
func (m *Model) Expired() bool {
	return m.closed.Load()
}
