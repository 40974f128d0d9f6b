package Store

import (
	"errors"
	"os"
	"path"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"mosaic-platform/Pyramid"
)

// boltStore bbolt 后端，按分片路径维护一个连接池，避免重复打开
// 同一数据库文件
type boltStore struct {
	dir  string
	mu   sync.Mutex          // 保护连接池
	pool map[string]*bolt.DB // dbPath -> *bolt.DB
	opts *bolt.Options       // 打开参数
}

// newBoltStore 创建 bbolt 后端
func newBoltStore(dir string) (*boltStore, error) {
	if dir == "" {
		return nil, errors.New("存储目录不能为空")
	}
	return &boltStore{
		dir:  dir,
		pool: make(map[string]*bolt.DB),
		opts: &bolt.Options{Timeout: 2 * time.Second}, // 独占锁等待超时
	}, nil
}

// getOrOpen 获取或打开指定路径的 bbolt 数据库
func (s *boltStore) getOrOpen(dbPath string) (*bolt.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.pool[dbPath]; ok && db != nil {
		return db, nil
	}

	// 确保目录存在
	if err := os.MkdirAll(path.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}

	db, err := boltOpenOrRecover(dbPath, s.opts)
	if err != nil {
		return nil, err
	}
	s.pool[dbPath] = db
	return db, nil
}

// boltOpenOrRecover 打开数据库，必要时把损坏的文件挪走重建
func boltOpenOrRecover(dbPath string, opts *bolt.Options) (*bolt.DB, error) {
	// 文件不存在，直接正常创建
	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		return bolt.Open(dbPath, 0o600, opts)
	}

	// 第一次尝试正常打开
	db, err := bolt.Open(dbPath, 0o600, opts)
	if err == nil {
		return db, nil
	}

	// 打开失败认为可能损坏：先备份原文件，再新建
	backupPath := dbPath + ".corrupt." + time.Now().Format("20060102_150405")
	_ = os.Rename(dbPath, backupPath)
	return bolt.Open(dbPath, 0o600, opts)
}

func (s *boltStore) get(provider, kind string, key Pyramid.TileKey) ([]byte, bool, error) {
	db, err := s.getOrOpen(storagePath(s.dir, "bbolt", provider, kind, key))
	if err != nil {
		return nil, false, err
	}

	var payload []byte
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(kind))
		if b == nil {
			return nil
		}
		if v := b.Get(packKeyBytes(key)); v != nil {
			// 返回值只在事务内有效，必须复制
			payload = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if payload == nil {
		return nil, false, nil
	}
	return payload, true, nil
}

func (s *boltStore) put(provider, kind string, key Pyramid.TileKey, payload []byte) error {
	db, err := s.getOrOpen(storagePath(s.dir, "bbolt", provider, kind, key))
	if err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(kind))
		if err != nil {
			return err
		}
		return b.Put(packKeyBytes(key), payload)
	})
}

// putBatch 批量写入：先按分片路径分组（不同层级可能落在不同的
// 数据库文件），每个文件用单个事务写入
func (s *boltStore) putBatch(provider, kind string, records []record) error {
	if len(records) == 0 {
		return nil
	}

	grouped := make(map[string][]record)
	for _, r := range records {
		dbPath := storagePath(s.dir, "bbolt", provider, kind, r.key)
		grouped[dbPath] = append(grouped[dbPath], r)
	}

	for dbPath, group := range grouped {
		db, err := s.getOrOpen(dbPath)
		if err != nil {
			return err
		}
		err = db.Update(func(tx *bolt.Tx) error {
			b, err := tx.CreateBucketIfNotExists([]byte(kind))
			if err != nil {
				return err
			}
			for _, r := range group {
				if err := b.Put(packKeyBytes(r.key), r.payload); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *boltStore) exists(provider, kind string, key Pyramid.TileKey) (bool, error) {
	db, err := s.getOrOpen(storagePath(s.dir, "bbolt", provider, kind, key))
	if err != nil {
		return false, err
	}

	found := false
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(kind))
		if b == nil {
			return nil
		}
		found = b.Get(packKeyBytes(key)) != nil
		return nil
	})
	return found, err
}

func (s *boltStore) delete(provider, kind string, key Pyramid.TileKey) error {
	db, err := s.getOrOpen(storagePath(s.dir, "bbolt", provider, kind, key))
	if err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(kind))
		if b == nil {
			// 桶不存在，视为删除成功
			return nil
		}
		return b.Delete(packKeyBytes(key))
	})
}

// close 关闭所有已打开的数据库连接
func (s *boltStore) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for p, db := range s.pool {
		if db != nil {
			if err := db.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		delete(s.pool, p)
	}
	return firstErr
}
