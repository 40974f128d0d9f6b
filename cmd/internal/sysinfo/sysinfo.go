package sysinfo

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot 一次系统资源采样
type Snapshot struct {
	Hostname         string  `json:"hostname"`
	Platform         string  `json:"platform"`
	CPUCores         int     `json:"cpu_cores"`
	CPUUsagePercent  float64 `json:"cpu_usage_percent"`
	MemoryUsedBytes  uint64  `json:"memory_used_bytes"`
	MemoryTotalBytes uint64  `json:"memory_total_bytes"`
	DiskUsedBytes    uint64  `json:"disk_used_bytes"`
	DiskTotalBytes   uint64  `json:"disk_total_bytes"`
}

// Hostname 获取真实的主机名，取不到时返回 "unknown"
func Hostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}

// Platform 获取操作系统描述
func Platform() string {
	hostInfo, err := host.Info()
	if err != nil {
		return runtime.GOOS
	}
	return fmt.Sprintf("%s %s", hostInfo.Platform, hostInfo.PlatformVersion)
}

// CPUUsage 获取 CPU 使用率（百分比）
// interval 为 0 时返回自上次调用以来的使用率，不阻塞
func CPUUsage(interval time.Duration) (float64, error) {
	percentages, err := cpu.Percent(interval, false)
	if err != nil {
		return 0, err
	}
	if len(percentages) == 0 {
		return 0, fmt.Errorf("无法获取 CPU 使用率")
	}
	return percentages[0], nil
}

// MemoryUsage 获取内存使用情况
func MemoryUsage() (usedBytes, totalBytes uint64, err error) {
	vmStat, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}
	return vmStat.Used, vmStat.Total, nil
}

// DiskUsage 获取指定目录所在磁盘的使用情况
func DiskUsage(path string) (usedBytes, totalBytes uint64, err error) {
	usage, err := disk.Usage(path)
	if err != nil {
		// 目录可能还没创建，退回当前工作目录
		usage, err = disk.Usage(".")
		if err != nil {
			return 0, 0, err
		}
	}
	return usage.Used, usage.Total, nil
}

// Collect 汇总一次完整采样，单项失败不影响其它项
// 参数:
//   - diskPath: 磁盘统计的目标目录
//   - cpuInterval: CPU 采样时长，0 表示取自上次调用以来的值
//
// 返回:
//   - *Snapshot: 采样结果
func Collect(diskPath string, cpuInterval time.Duration) *Snapshot {
	info := &Snapshot{
		Hostname: Hostname(),
		Platform: Platform(),
		CPUCores: runtime.NumCPU(),
	}

	if usage, err := CPUUsage(cpuInterval); err == nil {
		info.CPUUsagePercent = usage
	}
	if used, total, err := MemoryUsage(); err == nil {
		info.MemoryUsedBytes = used
		info.MemoryTotalBytes = total
	}
	if used, total, err := DiskUsage(diskPath); err == nil {
		info.DiskUsedBytes = used
		info.DiskTotalBytes = total
	}
	return info
}
