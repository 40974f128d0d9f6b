package Store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"mosaic-platform/Pyramid"
	"mosaic-platform/logger"
)

// Backend 持久化后端类型
type Backend string

const (
	BackendBBolt  Backend = "bbolt"
	BackendSQLite Backend = "sqlite"
	BackendRedis  Backend = "redis"
)

// 写缓冲达到该条数立即落盘，不等定时器
const flushBatchSize = 256

// Options 瓦片存储配置
type Options struct {
	// 持久化后端选择（bbolt、sqlite 或 redis）
	Backend Backend
	// 本地后端的数据库根目录
	Dir string
	// Redis 地址（redis 后端用，为空使用 localhost:6379）
	RedisAddr string
	// Redis 密码
	RedisPassword string
	// Redis 数据库编号
	RedisDB int
	// 写缓冲的刷新间隔（默认 5 秒）
	FlushInterval time.Duration
	// 写缓冲队列容量，0 表示关闭写缓冲、改为同步写入
	QueueSize int
	// 日志器，为空时使用全局日志器
	Logger logger.Logger
}

// record 一条待落盘的瓦片记录
type record struct {
	key     Pyramid.TileKey
	payload []byte
}

// kvBackend 持久化后端的统一读写面。
// get 的三态返回区分"未命中"和"后端故障"：未命中时 (nil, false, nil)，
// 故障时返回错误
type kvBackend interface {
	get(provider, kind string, key Pyramid.TileKey) ([]byte, bool, error)
	put(provider, kind string, key Pyramid.TileKey, payload []byte) error
	putBatch(provider, kind string, records []record) error
	exists(provider, kind string, key Pyramid.TileKey) (bool, error)
	delete(provider, kind string, key Pyramid.TileKey) error
	close() error
}

// writeTask 写缓冲队列里的一个任务
type writeTask struct {
	provider string
	kind     string
	key      Pyramid.TileKey
	payload  []byte
}

// TileStorage 瓦片存储管理器。
// 按 (数据源, 载荷类型, 瓦片键) 组织读写，写入可以走内存写缓冲：
// 任务先进队列，后台协程按批落盘，同一个键的多次写入在批内合并。
// 写缓冲期间的读取可能短暂地查不到刚写入的键，调用方按普通的
// 缓存未命中处理即可。
type TileStorage struct {
	backend kvBackend
	name    Backend
	log     logger.Logger
	queue   chan writeTask
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// NewTileStorage 创建瓦片存储管理器
// 参数:
//   - opts: 存储配置
//
// 返回:
//   - *TileStorage: 存储管理器
//   - error: 错误信息
func NewTileStorage(opts Options) (*TileStorage, error) {
	var backend kvBackend
	var err error
	switch opts.Backend {
	case BackendBBolt:
		backend, err = newBoltStore(opts.Dir)
	case BackendSQLite:
		backend, err = newSQLiteStore(opts.Dir)
	case BackendRedis:
		backend, err = newRedisStore(opts.RedisAddr, opts.RedisPassword, opts.RedisDB)
	default:
		return nil, fmt.Errorf("不支持的后端类型: %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	ts := &TileStorage{
		backend: backend,
		name:    opts.Backend,
		log:     log,
	}

	// 启用写缓冲时启动后台落盘协程
	if opts.QueueSize > 0 {
		interval := opts.FlushInterval
		if interval <= 0 {
			interval = 5 * time.Second
		}
		ts.queue = make(chan writeTask, opts.QueueSize)
		ts.startFlushWorker(interval)
	}
	return ts, nil
}

// startFlushWorker 启动写缓冲落盘协程
func (ts *TileStorage) startFlushWorker(interval time.Duration) {
	ts.wg.Add(1)
	go func() {
		defer ts.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		// 同一个键的多次写入只保留最后一次
		batch := make(map[string]writeTask)

		flush := func() {
			if len(batch) == 0 {
				return
			}
			// 按 (数据源, 载荷类型) 分组批量落盘
			grouped := make(map[[2]string][]record)
			for _, task := range batch {
				gk := [2]string{task.provider, task.kind}
				grouped[gk] = append(grouped[gk], record{key: task.key, payload: task.payload})
			}
			for gk, records := range grouped {
				if err := ts.backend.putBatch(gk[0], gk[1], records); err != nil {
					ts.log.Error("写缓冲落盘失败 %s/%s (%d 条): %v", gk[0], gk[1], len(records), err)
				}
			}
			batch = make(map[string]writeTask)
		}

		for {
			select {
			case task, ok := <-ts.queue:
				if !ok {
					// 队列关闭，刷掉剩余数据后退出
					flush()
					return
				}
				batch[task.provider+":"+task.kind+":"+strconv.FormatUint(task.key.PackKey(), 16)] = task
				if len(batch) >= flushBatchSize {
					flush()
				}
			case <-ticker.C:
				flush()
			}
		}
	}()
}

// Get 读取一条瓦片记录
// 参数:
//   - provider: 数据源名称
//   - kind: 载荷类型
//   - key: 瓦片键
//
// 返回:
//   - []byte: 载荷数据
//   - bool: 是否命中
//   - error: 后端故障
func (ts *TileStorage) Get(provider, kind string, key Pyramid.TileKey) ([]byte, bool, error) {
	return ts.backend.get(provider, kind, key)
}

// Put 写入一条瓦片记录。
// 启用写缓冲时任务进队列异步落盘；队列满时退化为同步写入，
// 保证数据不丢。
// 参数:
//   - provider: 数据源名称
//   - kind: 载荷类型
//   - key: 瓦片键
//   - payload: 载荷数据
//
// 返回:
//   - error: 错误信息
func (ts *TileStorage) Put(provider, kind string, key Pyramid.TileKey, payload []byte) error {
	if ts.closed.Load() {
		return errors.New("存储已关闭")
	}
	if ts.queue != nil {
		select {
		case ts.queue <- writeTask{provider: provider, kind: kind, key: key, payload: payload}:
			return nil
		default:
		}
	}
	return ts.backend.put(provider, kind, key, payload)
}

// Exists 检查一条瓦片记录是否存在
// 参数:
//   - provider: 数据源名称
//   - kind: 载荷类型
//   - key: 瓦片键
//
// 返回:
//   - bool: 是否存在
//   - error: 后端故障
func (ts *TileStorage) Exists(provider, kind string, key Pyramid.TileKey) (bool, error) {
	return ts.backend.exists(provider, kind, key)
}

// Delete 删除一条瓦片记录。键不存在时视为删除成功。
func (ts *TileStorage) Delete(provider, kind string, key Pyramid.TileKey) error {
	return ts.backend.delete(provider, kind, key)
}

// Close 刷掉写缓冲里的剩余数据并关闭所有后端连接。
// 调用方需保证关闭时已没有并发写入；可以重复调用。
func (ts *TileStorage) Close() error {
	if ts.closed.Swap(true) {
		return nil
	}
	if ts.queue != nil {
		close(ts.queue)
		ts.wg.Wait()
	}
	return ts.backend.close()
}

// BackendName 当前使用的后端类型。
func (ts *TileStorage) BackendName() Backend {
	return ts.name
}

// Pending 写缓冲队列里尚未被落盘协程取走的任务数。
func (ts *TileStorage) Pending() int {
	if ts.queue == nil {
		return 0
	}
	return len(ts.queue)
}

// packKeyBytes 将瓦片键压缩并编码为 8 字节大端的存储主键
func packKeyBytes(key Pyramid.TileKey) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], key.PackKey())
	return buf[:]
}
