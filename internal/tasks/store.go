// Package tasks 管理异步转写任务：持久化在 SQLite，由有界的 worker 执行。
package tasks

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iabetor/voicehub/internal/database"
)

// ErrTaskNotFound 表示任务不存在或已过期清理。
var ErrTaskNotFound = errors.New("任务不存在")

// Status 任务状态。
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Task 是一条异步转写任务。
type Task struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	Status    Status    `json:"status"`
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store 是 transcription_tasks 表的读写封装。
type Store struct {
	db  *database.DB
	now func() time.Time
}

// NewStore 创建任务存储，db 需已完成迁移。
func NewStore(db *database.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Create 插入一条 processing 状态的任务。
func (s *Store) Create(id, model string) error {
	ts := s.now().UnixMilli()
	_, err := s.db.Exec(
		`INSERT INTO transcription_tasks (id, model, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, model, StatusProcessing, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("创建任务失败: %w", err)
	}
	return nil
}

// Complete 保存任务结果。
func (s *Store) Complete(id, result string) error {
	return s.finish(id, StatusCompleted, result, "")
}

// Fail 保存任务错误。
func (s *Store) Fail(id, message string) error {
	return s.finish(id, StatusFailed, "", message)
}

func (s *Store) finish(id string, status Status, result, message string) error {
	res, err := s.db.Exec(
		`UPDATE transcription_tasks SET status = ?, result = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, result, message, s.now().UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("更新任务失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// Get 查询任务。
func (s *Store) Get(id string) (*Task, error) {
	var (
		task               Task
		status             string
		result, message    sql.NullString
		createdAt, updated int64
	)
	err := s.db.QueryRow(
		`SELECT id, model, status, result, error, created_at, updated_at FROM transcription_tasks WHERE id = ?`, id,
	).Scan(&task.ID, &task.Model, &status, &result, &message, &createdAt, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("查询任务失败: %w", err)
	}

	task.Status = Status(status)
	task.Result = result.String
	task.Error = message.String
	task.CreatedAt = time.UnixMilli(createdAt)
	task.UpdatedAt = time.UnixMilli(updated)
	return &task, nil
}

// MarkInterrupted 将仍处于 processing 的任务标记为失败，用于进程重启后。
func (s *Store) MarkInterrupted() (int64, error) {
	res, err := s.db.Exec(
		`UPDATE transcription_tasks SET status = ?, error = ?, updated_at = ? WHERE status = ?`,
		StatusFailed, "interrupted", s.now().UnixMilli(), StatusProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("标记中断任务失败: %w", err)
	}
	return res.RowsAffected()
}

// Purge 删除 before 之前创建且已结束的任务。
func (s *Store) Purge(before time.Time) (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM transcription_tasks WHERE created_at < ? AND status != ?`,
		before.UnixMilli(), StatusProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("清理过期任务失败: %w", err)
	}
	return res.RowsAffected()
}
