package Source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"mosaic-platform/Pyramid"
	"mosaic-platform/config"
)

// imageExts 影像文件按扩展名依次尝试
var imageExts = []string{".jpg", ".jpeg", ".png", ".webp", ".dds"}

// heightExt 高程文件使用平台网格编码
const heightExt = ".hf"

// DirProvider 从本地目录层级读取瓦片的数据源。
// 目录布局: <location>/<kind>/<level>/<col>/<row>.<ext>
type DirProvider struct {
	providerCore
	root string
}

var _ TileProvider = (*DirProvider)(nil)

// NewDirProvider 构造 dir 驱动数据源
// 参数:
//   - cfg: 单个数据源配置（location 为目录根）
//   - bctx: 构造上下文
//
// 返回:
//   - TileProvider: 数据源实例
//   - error: 错误信息
func NewDirProvider(cfg config.ProviderConfig, bctx BuildContext) (TileProvider, error) {
	if cfg.Location == "" {
		return nil, fmt.Errorf("dir 驱动需要 location")
	}
	root, err := config.ResolvePath(cfg.Location)
	if err != nil {
		return nil, err
	}
	core, err := newProviderCore(cfg)
	if err != nil {
		return nil, err
	}
	return &DirProvider{providerCore: core, root: root}, nil
}

// FetchImage 从目录读取一块影像瓦片
func (p *DirProvider) FetchImage(ctx context.Context, key Pyramid.TileKey) (*Pyramid.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchCancelled, err)
	}
	if !p.servesKind(KindImage) {
		return nil, ErrTileNotFound
	}
	for _, ext := range imageExts {
		data, err := os.ReadFile(p.tilePath(KindImage, key, ext))
		if err == nil {
			return &Pyramid.Image{Data: data, MIME: Pyramid.MIMEForExt(ext)}, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			// 文件存在但读不出来是真实错误，拉黑该键
			p.blacklist.Add(key)
			return nil, fmt.Errorf("读取影像文件失败: %w", err)
		}
	}
	return nil, ErrTileNotFound
}

// FetchHeightfield 从目录读取一块高程格网
func (p *DirProvider) FetchHeightfield(ctx context.Context, key Pyramid.TileKey) (*Pyramid.HeightField, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchCancelled, err)
	}
	if !p.servesKind(KindHeightfield) {
		return nil, ErrTileNotFound
	}
	data, err := os.ReadFile(p.tilePath(KindHeightfield, key, heightExt))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrTileNotFound
		}
		p.blacklist.Add(key)
		return nil, fmt.Errorf("读取高程文件失败: %w", err)
	}
	grid, err := Pyramid.DecodeHeightField(data)
	if err != nil {
		p.blacklist.Add(key)
		return nil, err
	}
	return grid, nil
}

// IsCached 判断该键声明的所有载荷类型在目录中是否都有文件
func (p *DirProvider) IsCached(key Pyramid.TileKey) bool {
	for kind := range p.kinds {
		if !p.hasFile(kind, key) {
			return false
		}
	}
	return true
}

func (p *DirProvider) hasFile(kind string, key Pyramid.TileKey) bool {
	if kind == KindHeightfield {
		_, err := os.Stat(p.tilePath(kind, key, heightExt))
		return err == nil
	}
	for _, ext := range imageExts {
		if _, err := os.Stat(p.tilePath(kind, key, ext)); err == nil {
			return true
		}
	}
	return false
}

// tilePath 拼出瓦片文件路径
func (p *DirProvider) tilePath(kind string, key Pyramid.TileKey, ext string) string {
	return filepath.Join(p.root, kind,
		strconv.FormatUint(uint64(key.Level), 10),
		strconv.FormatUint(uint64(key.Col), 10),
		strconv.FormatUint(uint64(key.Row), 10)+ext)
}
