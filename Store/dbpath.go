package Store

import (
	"os"
	"path"
	"strconv"

	"mosaic-platform/Pyramid"
)

// 数据库文件扩展名
const dbFileExt = ".tiledb"

// storagePath 根据数据源、载荷类型和瓦片键生成数据库文件路径
// 参数:
//
//	dir: 存储根目录
//	backend: 后端子目录("bbolt" 或 "sqlite")
//	provider: 数据源名称
//	kind: 载荷类型(imagery、terrain)
//	key: 瓦片键(决定分层和分片)
//
// 返回:
//
//	string: 完整的数据库文件路径
func storagePath(dir, backend, provider, kind string, key Pyramid.TileKey) string {
	base := path.Join(dir, backend, provider, kind)

	// 分片文件名取四叉树地址串的前 5 个字符（根序号加 4 层象限），
	// 即按 4 级祖先分片；长度不足则全取
	quad := key.QuadKey()
	if len(quad) > 5 {
		quad = quad[:5]
	}

	// 根据层级分层存放
	// 0-8 级数据量小，统一放在基础文件里；9-12 级和 13-16 级各归
	// 一个分组目录；17 级以上数据量巨大，每级独立目录
	level := key.Level
	var pathDir, fileName string
	switch {
	case level <= 8:
		pathDir = base
		fileName = "base" + dbFileExt
	case level <= 12:
		pathDir = path.Join(base, "8")
		fileName = quad + dbFileExt
	case level <= 16:
		pathDir = path.Join(base, "12")
		fileName = quad + dbFileExt
	default:
		pathDir = path.Join(base, strconv.FormatUint(uint64(level), 10))
		fileName = quad + dbFileExt
	}

	// 若目录不存在则创建
	_ = os.MkdirAll(pathDir, 0o755)
	return path.Join(pathDir, fileName)
}

// StoragePath 暴露 storagePath 供工具和测试使用
func StoragePath(dir, backend, provider, kind string, key Pyramid.TileKey) string {
	return storagePath(dir, backend, provider, kind, key)
}
