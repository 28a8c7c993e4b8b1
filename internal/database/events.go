package database

import (
	"fmt"
	"time"

	"github.com/iabetor/voicehub/internal/logger"
	"github.com/iabetor/voicehub/internal/models"
)

// ModelEvent 是一条模型生命周期记录。
type ModelEvent struct {
	Name       string    `json:"name"`
	Event      string    `json:"event"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// EventLog 将模型加载、卸载事件写入 model_events 表。
type EventLog struct {
	db  *DB
	now func() time.Time
}

var _ models.Observer = (*EventLog)(nil)

// NewEventLog 创建事件日志。
func NewEventLog(db *DB) *EventLog {
	return &EventLog{db: db, now: time.Now}
}

// ModelLoaded 实现 models.Observer。
func (l *EventLog) ModelLoaded(name string, loadTime time.Duration) {
	l.record(name, string(models.EventLoaded), loadTime.Milliseconds())
}

// ModelRemoved 实现 models.Observer。
func (l *EventLog) ModelRemoved(name string, event models.Event) {
	l.record(name, string(event), 0)
}

func (l *EventLog) record(name, event string, durationMs int64) {
	_, err := l.db.Exec(
		`INSERT INTO model_events (name, event, duration_ms, created_at) VALUES (?, ?, ?, ?)`,
		name, event, durationMs, l.now().UnixMilli(),
	)
	if err != nil {
		logger.Warnf("[database] 记录模型事件失败 (%s %s): %v", event, name, err)
	}
}

// Recent 返回最近的 limit 条事件，按时间倒序。
func (l *EventLog) Recent(limit int) ([]ModelEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.Query(
		`SELECT name, event, duration_ms, created_at FROM model_events ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("查询模型事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]ModelEvent, 0)
	for rows.Next() {
		var (
			ev        ModelEvent
			createdAt int64
		)
		if err := rows.Scan(&ev.Name, &ev.Event, &ev.DurationMs, &createdAt); err != nil {
			return nil, fmt.Errorf("读取模型事件失败: %w", err)
		}
		ev.CreatedAt = time.UnixMilli(createdAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Prune 删除 before 之前的事件，返回删除条数。
func (l *EventLog) Prune(before time.Time) (int64, error) {
	res, err := l.db.Exec(`DELETE FROM model_events WHERE created_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("清理模型事件失败: %w", err)
	}
	return res.RowsAffected()
}
