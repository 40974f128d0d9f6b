package Store

import (
	"database/sql"
	"errors"
	"os"
	"path"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mosaic-platform/Pyramid"
)

// sqliteStore sqlite 后端，兼容独占打开的模式但对外共享连接
type sqliteStore struct {
	dir       string
	mu        sync.Mutex         // 保护连接池
	pool      map[string]*sql.DB // dbPath -> *sql.DB
	dsnExtras string             // 额外 DSN 参数
}

// newSQLiteStore 创建 sqlite 后端
func newSQLiteStore(dir string) (*sqliteStore, error) {
	if dir == "" {
		return nil, errors.New("存储目录不能为空")
	}
	return &sqliteStore{
		dir:       dir,
		pool:      make(map[string]*sql.DB),
		dsnExtras: "?_busy_timeout=2000&cache=shared&mode=rwc",
	}, nil
}

// initSchema 初始化瓦片表
func initSchema(db *sql.DB) error {
	// 启用 WAL 模式以提升并发读写性能
	// 某些环境可能不支持，失败不阻塞
	_, _ = db.Exec("PRAGMA journal_mode=WAL;")

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS tiles (
			tile_id BLOB PRIMARY KEY,
			level INTEGER NOT NULL,
			value BLOB NOT NULL
		);
	`)
	return err
}

// getOrOpen 获取或打开指定路径的 sqlite 数据库
func (s *sqliteStore) getOrOpen(dbPath string) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.pool[dbPath]; ok && db != nil {
		return db, nil
	}

	if err := os.MkdirAll(path.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}

	db, err := sqliteOpenOrRecover(dbPath, s.dsnExtras)
	if err != nil {
		return nil, err
	}

	db.SetConnMaxLifetime(0)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	_ = waitPing(db, 2*time.Second)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s.pool[dbPath] = db
	return db, nil
}

// sqliteOpenOrRecover 打开数据库，必要时把损坏的文件挪走重建
func sqliteOpenOrRecover(dbPath, dsnExtras string) (*sql.DB, error) {
	dsn := "file:" + dbPath + dsnExtras
	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		return sql.Open("sqlite3", dsn)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err == nil {
		if errPing := db.Ping(); errPing == nil {
			return db, nil
		}
		_ = db.Close()
	}

	backupPath := dbPath + ".corrupt." + time.Now().Format("20060102_150405")
	_ = os.Rename(dbPath, backupPath)
	return sql.Open("sqlite3", dsn)
}

// waitPing 在给定超时内轮询 Ping
func waitPing(db *sql.DB, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if err := db.Ping(); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("sqlite ping 超时")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func (s *sqliteStore) get(provider, kind string, key Pyramid.TileKey) ([]byte, bool, error) {
	db, err := s.getOrOpen(storagePath(s.dir, "sqlite", provider, kind, key))
	if err != nil {
		return nil, false, err
	}

	var payload []byte
	row := db.QueryRow(`SELECT value FROM tiles WHERE tile_id=?;`, packKeyBytes(key))
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return payload, true, nil
}

func (s *sqliteStore) put(provider, kind string, key Pyramid.TileKey, payload []byte) error {
	db, err := s.getOrOpen(storagePath(s.dir, "sqlite", provider, kind, key))
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		INSERT INTO tiles(tile_id, level, value) VALUES(?, ?, ?)
		ON CONFLICT(tile_id) DO UPDATE SET level=excluded.level, value=excluded.value;
	`, packKeyBytes(key), key.Level, payload)
	return err
}

// putBatch 批量写入：先按分片路径分组，每个文件用单个事务写入
func (s *sqliteStore) putBatch(provider, kind string, records []record) error {
	if len(records) == 0 {
		return nil
	}

	grouped := make(map[string][]record)
	for _, r := range records {
		dbPath := storagePath(s.dir, "sqlite", provider, kind, r.key)
		grouped[dbPath] = append(grouped[dbPath], r)
	}

	for dbPath, group := range grouped {
		db, err := s.getOrOpen(dbPath)
		if err != nil {
			return err
		}

		tx, err := db.Begin()
		if err != nil {
			return err
		}
		stmt, err := tx.Prepare(`
			INSERT INTO tiles(tile_id, level, value) VALUES(?, ?, ?)
			ON CONFLICT(tile_id) DO UPDATE SET level=excluded.level, value=excluded.value;
		`)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		for _, r := range group {
			if _, err := stmt.Exec(packKeyBytes(r.key), r.key.Level, r.payload); err != nil {
				_ = stmt.Close()
				_ = tx.Rollback()
				return err
			}
		}
		_ = stmt.Close()
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) exists(provider, kind string, key Pyramid.TileKey) (bool, error) {
	db, err := s.getOrOpen(storagePath(s.dir, "sqlite", provider, kind, key))
	if err != nil {
		return false, err
	}

	var one int
	row := db.QueryRow(`SELECT 1 FROM tiles WHERE tile_id=?;`, packKeyBytes(key))
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) delete(provider, kind string, key Pyramid.TileKey) error {
	db, err := s.getOrOpen(storagePath(s.dir, "sqlite", provider, kind, key))
	if err != nil {
		return err
	}
	_, err = db.Exec(`DELETE FROM tiles WHERE tile_id=?;`, packKeyBytes(key))
	return err
}

// close 关闭所有连接
func (s *sqliteStore) close() error {
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
