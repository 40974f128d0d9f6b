package main

import (
	"fmt"
	"sync/atomic"
	"time"

	"mosaic-platform/cmd/internal/sysinfo"
	"mosaic-platform/logger"
	"mosaic-platform/metrics"
)

// 预取结果分类
const (
	outcomeStored    = "stored"
	outcomeSkipped   = "skipped"
	outcomeFallback  = "fallback"
	outcomeMissing   = "missing"
	outcomeFailed    = "failed"
	outcomeCancelled = "cancelled"
)

// seedStats 预取进度计数，全部用原子操作累加
type seedStats struct {
	planned   int64
	done      int64
	aborted   int64
	stored    int64
	skipped   int64
	fallback  int64
	missing   int64
	failed    int64
	cancelled int64
}

func newSeedStats() *seedStats {
	return &seedStats{}
}

// addPlanned 枚举出一个待处理的键
func (s *seedStats) addPlanned() {
	atomic.AddInt64(&s.planned, 1)
}

// recordDone 一个键处理完毕
func (s *seedStats) recordDone() {
	atomic.AddInt64(&s.done, 1)
}

// recordAborted 中断后丢弃一个未处理的键
func (s *seedStats) recordAborted() {
	atomic.AddInt64(&s.aborted, 1)
}

// record 记录一次取数结果并同步跳动指标
func (s *seedStats) record(kind, outcome string) {
	switch outcome {
	case outcomeStored:
		atomic.AddInt64(&s.stored, 1)
	case outcomeSkipped:
		atomic.AddInt64(&s.skipped, 1)
	case outcomeFallback:
		atomic.AddInt64(&s.fallback, 1)
	case outcomeMissing:
		atomic.AddInt64(&s.missing, 1)
	case outcomeFailed:
		atomic.AddInt64(&s.failed, 1)
	case outcomeCancelled:
		atomic.AddInt64(&s.cancelled, 1)
	}
	metrics.SeedTiles.WithLabelValues(kind, outcome).Inc()
}

// print 输出最终汇总
func (s *seedStats) print(elapsed time.Duration) {
	done := atomic.LoadInt64(&s.done)

	fmt.Println("\n=== 预取结果 ===")
	fmt.Printf("计划瓦片: %d\n", atomic.LoadInt64(&s.planned))
	fmt.Printf("处理完成: %d  丢弃: %d\n", done, atomic.LoadInt64(&s.aborted))
	fmt.Printf("入库: %d  已有跳过: %d  借用祖先: %d\n",
		atomic.LoadInt64(&s.stored), atomic.LoadInt64(&s.skipped), atomic.LoadInt64(&s.fallback))
	fmt.Printf("无数据: %d  失败: %d  取消: %d\n",
		atomic.LoadInt64(&s.missing), atomic.LoadInt64(&s.failed), atomic.LoadInt64(&s.cancelled))
	fmt.Printf("耗时: %v\n", elapsed.Round(time.Millisecond))
	if done > 0 && elapsed > 0 {
		fmt.Printf("速率: %.1f 瓦片/秒\n", float64(done)/elapsed.Seconds())
	}
}

// progressLoop 周期性打印进度与系统负载，直到 done 关闭
func progressLoop(done <-chan struct{}, stats *seedStats, diskPath string) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			sys := sysinfo.Collect(diskPath, 0)
			logger.Info("进度 %d/%d 入库 %d 跳过 %d 无数据 %d 失败 %d | CPU %.1f%% 内存 %s/%s 磁盘 %s/%s",
				atomic.LoadInt64(&stats.done), atomic.LoadInt64(&stats.planned),
				atomic.LoadInt64(&stats.stored), atomic.LoadInt64(&stats.skipped),
				atomic.LoadInt64(&stats.missing), atomic.LoadInt64(&stats.failed),
				sys.CPUUsagePercent,
				formatBytes(sys.MemoryUsedBytes), formatBytes(sys.MemoryTotalBytes),
				formatBytes(sys.DiskUsedBytes), formatBytes(sys.DiskTotalBytes))
		}
	}
}

// formatBytes 把字节数格式化成可读单位
func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
