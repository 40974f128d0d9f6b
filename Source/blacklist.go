package Source

import (
	"sync"
	"time"

	"mosaic-platform/Pyramid"
)

// Blacklist 负责管理暂时拉黑的瓦片键。
// 键在一次真实取数失败后加入黑名单，在超时时间内跳过对它的
// 重复昂贵尝试；超时后自动移除，可以被重新请求。只按精确键
// 记录，不会连带祖先或后代。
type Blacklist struct {
	mu      sync.RWMutex
	keys    map[uint64]time.Time // 存储压缩键和它被拉黑的时间
	timeout time.Duration        // 黑名单超时时间
}

// NewBlacklist 创建一个新的黑名单管理器。
// timeout 定义了键被屏蔽的持续时间。
func NewBlacklist(timeout time.Duration) *Blacklist {
	// 如果超时时间未设置或无效，则提供一个合理的默认值
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	return &Blacklist{
		keys:    make(map[uint64]time.Time),
		timeout: timeout,
	}
}

// Add 将一个键添加到黑名单中，并记录当前时间。
func (b *Blacklist) Add(key Pyramid.TileKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keys[key.PackKey()] = time.Now()
}

// Remove 从黑名单中移除一个键（手动移除，不等待超时）。
func (b *Blacklist) Remove(key Pyramid.TileKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.keys, key.PackKey())
}

// IsBlocked 检查一个键当前是否处于被屏蔽状态。
// 如果键在黑名单中且未超过超时时间，则返回true。
// 如果键已过期，此方法会将其懒删除，并返回false。
func (b *Blacklist) IsBlocked(key Pyramid.TileKey) bool {
	b.mu.Lock() // 需要写锁，因为可能会删除条目
	defer b.mu.Unlock()

	packed := key.PackKey()
	blockedAt, exists := b.keys[packed]
	if !exists {
		return false // 不在黑名单中
	}

	// 检查是否已过超时时间
	if time.Since(blockedAt) > b.timeout {
		// 键已过期，从黑名单中移除
		delete(b.keys, packed)
		return false // 不再被屏蔽
	}

	return true // 仍在屏蔽时间内
}

// Cleanup 遍历整个黑名单，移除所有已过期的键。
// 这个方法应该被定期调用，以防止黑名单无限增长。
func (b *Blacklist) Cleanup() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	cleanedCount := 0
	for key, blockedAt := range b.keys {
		if now.Sub(blockedAt) > b.timeout {
			delete(b.keys, key)
			cleanedCount++
		}
	}
	return cleanedCount
}

// Len 返回当前黑名单中未过期的键数量。
func (b *Blacklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	now := time.Now()
	for _, blockedAt := range b.keys {
		if now.Sub(blockedAt) <= b.timeout {
			count++
		}
	}
	return count
}
