package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LayerDefinition 镶嵌图中单个图层的定义
// MinLevel/MaxLevel 为 nil 表示未设置（与 0 含义不同）
type LayerDefinition struct {
	Name     string    `yaml:"name"`
	Provider string    `yaml:"provider"`
	Kind     string    `yaml:"kind"`
	Enabled  *bool     `yaml:"enabled"`
	NoCache  bool      `yaml:"no_cache"`
	MinLevel *int      `yaml:"min_level"`
	MaxLevel *int      `yaml:"max_level"`
	Opacity  *float64  `yaml:"opacity"`
	Extent   []float64 `yaml:"extent"`
}

// IsEnabled 图层是否启用，未写 enabled 字段时默认为启用
func (l *LayerDefinition) IsEnabled() bool {
	return l.Enabled == nil || *l.Enabled
}

// MosaicDefinition 镶嵌图定义，按绘制顺序列出图层（下层在前）
type MosaicDefinition struct {
	Name   string            `yaml:"name"`
	Layers []LayerDefinition `yaml:"layers"`
}

// LoadMosaicDefinition 从 YAML 文件加载镶嵌图定义
// 输入: path - 定义文件路径
// 输出: *MosaicDefinition - 镶嵌图定义, error - 错误信息
func LoadMosaicDefinition(path string) (*MosaicDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取镶嵌图定义失败: %w", err)
	}
	return ParseMosaicDefinition(data)
}

// ParseMosaicDefinition 解析并校验镶嵌图定义
// 输入: data - YAML 内容
// 输出: *MosaicDefinition - 镶嵌图定义, error - 错误信息
func ParseMosaicDefinition(data []byte) (*MosaicDefinition, error) {
	var def MosaicDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("解析镶嵌图定义失败: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// DefaultMosaicFromProviders 在没有镶嵌图定义文件时，按数据源配置合成
// 一份缺省定义：每个数据源的每种载荷各生成一个图层，顺序与配置一致
func DefaultMosaicFromProviders(providers []ProviderConfig) *MosaicDefinition {
	def := &MosaicDefinition{Name: "default"}
	for i := range providers {
		p := &providers[i]
		if p.Disabled {
			continue
		}
		kinds := p.Kinds
		if len(kinds) == 0 {
			kinds = []string{"imagery"}
		}
		for _, kind := range kinds {
			def.Layers = append(def.Layers, LayerDefinition{
				Name:     p.Name + "-" + kind,
				Provider: p.Name,
				Kind:     kind,
			})
		}
	}
	return def
}

// Validate 校验镶嵌图定义
// 输出: error - 错误信息
func (m *MosaicDefinition) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("镶嵌图缺少 name")
	}
	seen := make(map[string]bool, len(m.Layers))
	for i := range m.Layers {
		l := &m.Layers[i]
		if l.Name == "" {
			return fmt.Errorf("layers[%d] 缺少 name", i)
		}
		if seen[l.Name] {
			return fmt.Errorf("图层名称重复: %q", l.Name)
		}
		seen[l.Name] = true
		if l.Provider == "" {
			return fmt.Errorf("图层 %q 缺少 provider", l.Name)
		}
		switch l.Kind {
		case "imagery", "terrain":
		default:
			return fmt.Errorf("图层 %q kind 不支持: %q", l.Name, l.Kind)
		}
		if l.MinLevel != nil && *l.MinLevel < 0 {
			return fmt.Errorf("图层 %q min_level 不能为负", l.Name)
		}
		if l.MinLevel != nil && l.MaxLevel != nil && *l.MaxLevel < *l.MinLevel {
			return fmt.Errorf("图层 %q 级别范围无效: [%d, %d]", l.Name, *l.MinLevel, *l.MaxLevel)
		}
		if l.Opacity != nil && (*l.Opacity < 0 || *l.Opacity > 1) {
			return fmt.Errorf("图层 %q opacity 必须在 [0,1] 内", l.Name)
		}
		if len(l.Extent) != 0 && len(l.Extent) != 4 {
			return fmt.Errorf("图层 %q extent 必须是 4 个数或留空", l.Name)
		}
	}
	return nil
}
