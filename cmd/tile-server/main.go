package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"mosaic-platform/Layers"
	"mosaic-platform/Pyramid"
	"mosaic-platform/Source"
	"mosaic-platform/cmd/internal/bootstrap"
	"mosaic-platform/cmd/internal/sysinfo"
	"mosaic-platform/config"
	"mosaic-platform/logger"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	plat *bootstrap.Platform

	// 快照是单消费者结构，接口处理函数共用一份时加锁
	snapMu sync.Mutex
	snap   *Layers.Snapshot

	startedAt = time.Now()
)

func main() {
	_ = godotenv.Load(".env")

	listen := flag.String("listen", "", "覆盖配置中的监听地址")
	dev := flag.Bool("dev", false, "开发模式日志（彩色、可读时间戳）")
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 2. 初始化日志
	zl, err := logger.NewZapLogger(logger.ZapOptions{Level: os.Getenv("LOG_LEVEL"), Development: *dev})
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	logger.SetGlobalLogger(zl)
	defer zl.Sync()

	// 3. 装配存储、数据源与镶嵌图。
	// 仅缓存模式下所有数据源都只读缓存、从不回源
	plat, err = bootstrap.Build(cfg, bootstrap.Options{CacheOnly: cfg.Server.CacheOnly, Logger: zl})
	if err != nil {
		log.Fatalf("装配平台组件失败: %v", err)
	}

	snap = Layers.NewSnapshot()
	snap.Attach(plat.Model)

	// 4. 注册路由
	http.HandleFunc("/api/health", handleHealth)
	http.HandleFunc("/api/profile", handleProfile)
	http.HandleFunc("/api/layers", handleLayers)
	http.HandleFunc("/api/stats", handleStats)
	http.HandleFunc("/tiles/", handleTiles)
	http.Handle("/metrics", promhttp.Handler())

	addr := cfg.Server.Listen
	if *listen != "" {
		addr = *listen
	}

	// 5. 启动服务器
	srv := &http.Server{Addr: addr}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("服务器启动失败: %v", err)
		}
	}()

	fmt.Printf("\n🚀 瓦片镶嵌服务已启动\n")
	fmt.Printf("📊 接口地址: http://localhost%s/api\n", addr)
	fmt.Printf("🗺️ 瓦片地址: http://localhost%s/tiles/{image|terrain}/{level}/{col}/{row}\n", addr)
	fmt.Printf("📈 指标地址: http://localhost%s/metrics\n", addr)
	fmt.Printf("⏰ 启动时间: %s\n\n", time.Now().Format("2006-01-02 15:04:05"))

	// 6. 等待中断信号后平滑退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务器...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := plat.Close(); err != nil {
		log.Printf("关闭存储失败: %v", err)
	}
	log.Println("服务器已关闭")
}

// 健康检查
func handleHealth(w http.ResponseWriter, r *http.Request) {
	setJSONHeaders(w)

	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "healthy",
		"time":    time.Now().Format(time.RFC3339),
		"uptime":  time.Since(startedAt).Round(time.Second).String(),
		"backend": string(plat.Storage.BackendName()),
	})
}

// 返回协调后的工作剖面
func handleProfile(w http.ResponseWriter, r *http.Request) {
	setJSONHeaders(w)

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	p := plat.Sources.WorkingProfile()
	writeSuccess(w, map[string]interface{}{
		"kind":       p.Kind.String(),
		"srs":        p.SRS,
		"extent":     []float64{p.Extent.MinX, p.Extent.MinY, p.Extent.MaxX, p.Extent.MaxY},
		"root_tiles": []uint32{p.RootTilesX, p.RootTilesY},
		"tile_size":  []uint32{p.TileW, p.TileH},
	})
}

// layerInfo 图层列表接口的单项输出
type layerInfo struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Kind      string  `json:"kind"`
	Provider  string  `json:"provider"`
	Enabled   bool    `json:"enabled"`
	Policy    string  `json:"policy"`
	Opacity   float64 `json:"opacity"`
	MinLevel  *uint32 `json:"min_level,omitempty"`
	MaxLevel  *uint32 `json:"max_level,omitempty"`
	Elevation bool    `json:"elevation"`
}

// 图层列表，返回前与模型同步一次
func handleLayers(w http.ResponseWriter, r *http.Request) {
	setJSONHeaders(w)

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapMu.Lock()
	snap.Sync()
	layers := snap.Layers()
	revision := snap.Revision()
	out := make([]layerInfo, 0, len(layers))
	for _, l := range layers {
		out = append(out, layerInfo{
			ID:        l.ID,
			Name:      l.Name,
			Kind:      l.Kind,
			Provider:  l.Provider.Name(),
			Enabled:   l.Enabled,
			Policy:    l.Policy.String(),
			Opacity:   l.Opacity,
			MinLevel:  l.MinLevel,
			MaxLevel:  l.MaxLevel,
			Elevation: l.ElevationCapable,
		})
	}
	snapMu.Unlock()

	writeSuccess(w, map[string]interface{}{
		"mosaic":   plat.Model.Name(),
		"revision": revision,
		"layers":   out,
	})
}

// 运行统计：系统资源、存储积压与取数剖面
func handleStats(w http.ResponseWriter, r *http.Request) {
	setJSONHeaders(w)

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// 采样间隔取 0，避免在请求里阻塞
	sys := sysinfo.Collect(plat.Config.Store.Path, 0)

	snapMu.Lock()
	snap.Sync()
	revision := snap.Revision()
	layerCount := len(snap.Layers())
	snapMu.Unlock()

	writeSuccess(w, map[string]interface{}{
		"system":        sys,
		"backend":       string(plat.Storage.BackendName()),
		"write_backlog": plat.Storage.Pending(),
		"profile":       plat.Sources.WorkingProfile().String(),
		"revision":      revision,
		"layers":        layerCount,
		"uptime":        time.Since(startedAt).Round(time.Second).String(),
	})
}

// 瓦片取数：/tiles/{image|terrain}/{level}/{col}/{row}
// 带 ?cached=1 时只回答该键是否已全部入库，不取数
func handleTiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/tiles/"), "/"), "/")
	if len(parts) != 4 {
		setJSONHeaders(w)
		writeError(w, http.StatusBadRequest, "路径格式应为 /tiles/{image|terrain}/{level}/{col}/{row}")
		return
	}

	kind := parts[0]
	if kind != "image" && kind != "terrain" {
		setJSONHeaders(w)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("载荷类型不支持: %q", kind))
		return
	}

	level, err1 := strconv.ParseUint(parts[1], 10, 32)
	col, err2 := strconv.ParseUint(parts[2], 10, 32)
	row, err3 := strconv.ParseUint(parts[3], 10, 32)
	if err1 != nil || err2 != nil || err3 != nil {
		setJSONHeaders(w)
		writeError(w, http.StatusBadRequest, "level/col/row 必须是非负整数")
		return
	}

	key := Pyramid.NewTileKey(uint32(level), uint32(col), uint32(row), plat.Sources.WorkingProfile())
	if !key.Valid() {
		setJSONHeaders(w)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("瓦片键超出剖面范围: %s", key))
		return
	}

	if r.URL.Query().Get("cached") == "1" {
		snapMu.Lock()
		snap.Sync()
		cached := snap.IsCached(key)
		snapMu.Unlock()
		setJSONHeaders(w)
		writeSuccess(w, map[string]interface{}{"key": key.String(), "cached": cached})
		return
	}

	switch kind {
	case "image":
		serveImageTile(w, r, key)
	case "terrain":
		serveTerrainTile(w, r, key)
	}
}

func serveImageTile(w http.ResponseWriter, r *http.Request, key Pyramid.TileKey) {
	img, srcKey, err := plat.Sources.FetchImage(r.Context(), key)
	if err != nil {
		writeTileError(w, err)
		return
	}

	mime := img.MIME
	if mime == "" {
		mime = Pyramid.SniffMIME(img.Data)
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("X-Tile-Source-Key", srcKey.String())
	w.Write(img.Data)
}

func serveTerrainTile(w http.ResponseWriter, r *http.Request, key Pyramid.TileKey) {
	var size uint64
	if s := r.URL.Query().Get("size"); s != "" {
		var err error
		size, err = strconv.ParseUint(s, 10, 32)
		if err != nil || size < 2 {
			setJSONHeaders(w)
			writeError(w, http.StatusBadRequest, "size 必须是不小于 2 的整数")
			return
		}
	}

	// 地形合成走图层快照：按镶嵌顺序叠加全部高程图层。
	// 快照是单消费者结构，取数期间不能占住共享快照，这里每个请求
	// 挂一个自己的快照
	local := Layers.NewSnapshot()
	local.Attach(plat.Model)
	local.Sync()
	grid, err := local.PopulateHeightField(r.Context(), key, uint32(size), uint32(size))
	if err != nil {
		writeTileError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Grid-Size", fmt.Sprintf("%dx%d", grid.Cols, grid.Rows))
	w.Write(Pyramid.EncodeHeightField(grid))
}

// writeTileError 把取数错误翻译成 HTTP 状态
func writeTileError(w http.ResponseWriter, err error) {
	setJSONHeaders(w)
	switch {
	case errors.Is(err, Source.ErrTileNotFound):
		writeError(w, http.StatusNotFound, "没有该瓦片的数据")
	case errors.Is(err, Source.ErrFetchCancelled):
		// 客户端多半已经断开，状态码只是尽力而为
		writeError(w, http.StatusRequestTimeout, "取数被取消")
	default:
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("取数失败: %v", err))
	}
}

// ===== 辅助函数 =====

func setJSONHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
}

func writeSuccess(w http.ResponseWriter, data interface{}) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"message": msg,
	})
}
