package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/iabetor/voicehub/internal/logger"
)

// DB 是统一的 SQLite 数据库连接。
// 任务表与模型事件表共用同一个数据库文件。
type DB struct {
	*sql.DB
	path string
}

// Open 打开或创建数据库。
// dbPath 为空时使用 ~/.voicehub/voicehub.db。
func Open(dbPath string) (*DB, error) {
	if dbPath == "" {
		home, _ := os.UserHomeDir()
		if home != "" {
			dbPath = filepath.Join(home, ".voicehub", "voicehub.db")
		} else {
			dbPath = "./voicehub.db"
		}
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("创建数据库目录失败: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	// 设置 WAL 模式（更好的并发性能）
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("设置 WAL 模式失败: %w", err)
	}
	// 并发写入时等待锁而不是立即返回 SQLITE_BUSY
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("设置 busy_timeout 失败: %w", err)
	}

	logger.Infof("[database] 数据库已打开: %s", dbPath)

	return &DB{DB: db, path: dbPath}, nil
}

// Path 返回数据库文件路径。
func (db *DB) Path() string {
	return db.path
}

// Migrate 运行数据库迁移。时间字段均为 Unix 毫秒。
func (db *DB) Migrate() error {
	migrations := []string{
		// 异步转写任务表
		`CREATE TABLE IF NOT EXISTS transcription_tasks (
			id TEXT PRIMARY KEY,
			model TEXT NOT NULL,
			status TEXT NOT NULL,
			result TEXT DEFAULT '',
			error TEXT DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		// 模型生命周期事件表
		`CREATE TABLE IF NOT EXISTS model_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			event TEXT NOT NULL,
			duration_ms INTEGER DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("数据库迁移失败: %w", err)
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON transcription_tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON transcription_tasks(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_model_events_created_at ON model_events(created_at)`,
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			logger.Warnf("[database] 创建索引失败: %v", err)
		}
	}

	logger.Info("[database] 数据库迁移完成")
	return nil
}

// Close 关闭数据库连接。
func (db *DB) Close() error {
	if db.DB != nil {
		return db.DB.Close()
	}
	return nil
}
