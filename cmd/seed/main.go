package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"mosaic-platform/Layers"
	"mosaic-platform/Pyramid"
	"mosaic-platform/Source"
	"mosaic-platform/cmd/internal/bootstrap"
	"mosaic-platform/config"
	"mosaic-platform/logger"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// 合成结果在存储里的数据源标识
const mosaicProviderName = "mosaic"

func main() {
	_ = godotenv.Load(".env")

	offline := flag.Bool("offline", false, "只用已有缓存合成，不回源取数")
	workers := flag.Int("workers", 0, "覆盖配置中的工作协程数")
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

	// 3. 校验载荷类型，空列表时两种都取
	kinds := cfg.Seed.Kinds
	if len(kinds) == 0 {
		kinds = []string{Source.KindImage, Source.KindHeightfield}
	}
	for _, k := range kinds {
		if k != Source.KindImage && k != Source.KindHeightfield {
			log.Fatalf("seed.kinds 不支持: %q", k)
		}
	}

	// 4. 装配存储、数据源与镶嵌图
	plat, err := bootstrap.Build(cfg, bootstrap.Options{CacheOnly: *offline, Logger: zl})
	if err != nil {
		log.Fatalf("装配平台组件失败: %v", err)
	}

	n := cfg.Seed.Workers
	if *workers > 0 {
		n = *workers
	}
	if n <= 0 {
		n = runtime.NumCPU()
	}

	jobID := uuid.NewString()
	profile := plat.Sources.WorkingProfile()
	extent := seedExtent(cfg, profile)

	fmt.Printf("\n🌍 瓦片预取任务已启动\n")
	fmt.Printf("🆔 任务标识: %s\n", jobID)
	fmt.Printf("📦 存储后端: %s  工作协程: %d\n", cfg.Store.Driver, n)
	fmt.Printf("🗺️ 工作剖面: %s  级别 [%d, %d]  载荷 %v\n", profile, cfg.Seed.MinLevel, cfg.Seed.MaxLevel, kinds)
	fmt.Printf("⏰ 启动时间: %s\n\n", time.Now().Format("2006-01-02 15:04:05"))

	// 起始级别低于图层声明的最高起始级别时给个提示
	probe := Layers.NewSnapshot()
	probe.Attach(plat.Model)
	probe.Sync()
	if hl := probe.HighestMinLevel(); uint32(cfg.Seed.MinLevel) < hl {
		zl.Warn("起始级别 %d 低于图层声明的最高起始级别 %d，低级别可能取不全", cfg.Seed.MinLevel, hl)
	}

	// 5. 跑预取，SIGINT 触发平滑中断
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	stats := runSeed(ctx, plat, kinds, extent, n)
	interrupted := ctx.Err() != nil

	// 6. 关闭存储以刷出写缓冲，再打汇总
	if err := plat.Close(); err != nil {
		zl.Error("关闭存储失败: %v", err)
	}
	stats.print(time.Since(start))
	if interrupted {
		fmt.Println("任务被中断，未处理完全部瓦片")
	}
}

// seedExtent 预取范围，配置未给时取整个剖面。
// 配置里的范围使用工作剖面自身的坐标单位
func seedExtent(cfg *config.Config, p *Pyramid.Profile) Pyramid.GeoExtent {
	if e := cfg.Seed.Extent; len(e) == 4 {
		return Pyramid.GeoExtent{MinX: e[0], MinY: e[1], MaxX: e[2], MaxY: e[3]}
	}
	return p.Extent
}

// runSeed 自低级别向高级别枚举范围内的瓦片键，交给工作协程处理。
// 取消后立即停止投递，已投递的键被快速丢弃
func runSeed(ctx context.Context, plat *bootstrap.Platform, kinds []string, extent Pyramid.GeoExtent, workers int) *seedStats {
	cfg := plat.Config
	profile := plat.Sources.WorkingProfile()
	stats := newSeedStats()

	keys := make(chan Pyramid.TileKey, workers*4)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seedWorker(ctx, plat, kinds, keys, stats)
		}()
	}

	// 进度汇报协程
	reportDone := make(chan struct{})
	go progressLoop(reportDone, stats, cfg.Store.Path)

enumerate:
	for level := cfg.Seed.MinLevel; level <= cfg.Seed.MaxLevel; level++ {
		for _, key := range profile.KeysInExtent(uint32(level), extent) {
			stats.addPlanned()
			select {
			case keys <- key:
			case <-ctx.Done():
				break enumerate
			}
		}
	}
	close(keys)
	wg.Wait()
	close(reportDone)
	return stats
}

// seedWorker 消费瓦片键：影像走数据源集合的首个命中，地形走图层
// 快照的叠加合成，结果都以 mosaic 身份入库
func seedWorker(ctx context.Context, plat *bootstrap.Platform, kinds []string, keys <-chan Pyramid.TileKey, stats *seedStats) {
	// 快照不加锁，每个工作协程持有自己的一份
	snap := Layers.NewSnapshot()
	snap.Attach(plat.Model)

	wantImage := false
	wantTerrain := false
	for _, k := range kinds {
		switch k {
		case Source.KindImage:
			wantImage = true
		case Source.KindHeightfield:
			wantTerrain = true
		}
	}

	for key := range keys {
		if ctx.Err() != nil {
			stats.recordAborted()
			continue
		}
		snap.Sync()
		if wantImage {
			seedImage(ctx, plat, key, stats)
		}
		if wantTerrain && ctx.Err() == nil {
			seedTerrain(ctx, plat, snap, key, stats)
		}
		stats.recordDone()
	}
}

// seedImage 预取一个键的影像。只有精确命中才值得入库，祖先回退的
// 结果渲染端本来就能即时复用，不占存储
func seedImage(ctx context.Context, plat *bootstrap.Platform, key Pyramid.TileKey, stats *seedStats) {
	if ok, err := plat.Storage.Exists(mosaicProviderName, Source.KindImage, key); err == nil && ok {
		stats.record(Source.KindImage, outcomeSkipped)
		return
	}

	img, srcKey, err := plat.Sources.FetchImage(ctx, key)
	switch {
	case err == nil && srcKey.Equals(key):
		if perr := plat.Storage.Put(mosaicProviderName, Source.KindImage, key, Pyramid.EncodeImage(img)); perr != nil {
			logger.Warn("影像 %s 入库失败: %v", key, perr)
			stats.record(Source.KindImage, outcomeFailed)
			return
		}
		stats.record(Source.KindImage, outcomeStored)
	case err == nil:
		stats.record(Source.KindImage, outcomeFallback)
	case errors.Is(err, Source.ErrFetchCancelled):
		stats.record(Source.KindImage, outcomeCancelled)
	case errors.Is(err, Source.ErrTileNotFound):
		stats.record(Source.KindImage, outcomeMissing)
	default:
		logger.Warn("影像 %s 取数失败: %v", key, err)
		stats.record(Source.KindImage, outcomeFailed)
	}
}

// seedTerrain 合成一个键的地形格网并入库。
// 合成结果总是对齐请求键，借用祖先数据也算有效产出
func seedTerrain(ctx context.Context, plat *bootstrap.Platform, snap *Layers.Snapshot, key Pyramid.TileKey, stats *seedStats) {
	if ok, err := plat.Storage.Exists(mosaicProviderName, Source.KindHeightfield, key); err == nil && ok {
		stats.record(Source.KindHeightfield, outcomeSkipped)
		return
	}

	grid, err := snap.PopulateHeightField(ctx, key, 0, 0)
	switch {
	case err == nil:
		if perr := plat.Storage.Put(mosaicProviderName, Source.KindHeightfield, key, Pyramid.EncodeHeightField(grid)); perr != nil {
			logger.Warn("地形 %s 入库失败: %v", key, perr)
			stats.record(Source.KindHeightfield, outcomeFailed)
			return
		}
		stats.record(Source.KindHeightfield, outcomeStored)
	case errors.Is(err, Source.ErrFetchCancelled):
		stats.record(Source.KindHeightfield, outcomeCancelled)
	case errors.Is(err, Source.ErrTileNotFound):
		stats.record(Source.KindHeightfield, outcomeMissing)
	default:
		logger.Warn("地形 %s 合成失败: %v", key, err)
		stats.record(Source.KindHeightfield, outcomeFailed)
	}
}
