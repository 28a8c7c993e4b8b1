package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/iabetor/voicehub/internal/logger"
)

// DefaultSubject 是任务结束事件的默认 NATS subject。
const DefaultSubject = "voicehub.tasks.finished"

// Event 是任务结束通知。
type Event struct {
	ID         string    `json:"task_id"`
	Model      string    `json:"model"`
	Status     Status    `json:"status"`
	FinishedAt time.Time `json:"finished_at"`
}

// Notifier 接收任务结束事件。
type Notifier interface {
	TaskFinished(event Event)
}

// NatsNotifier 将任务结束事件发布到 NATS。
type NatsNotifier struct {
	conn    *nats.Conn
	subject string
	owned   bool
}

// NewNatsNotifier 使用已有连接创建通知方。
func NewNatsNotifier(conn *nats.Conn, subject string) *NatsNotifier {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NatsNotifier{conn: conn, subject: subject}
}

// DialNatsNotifier 连接 NATS 并创建通知方，Close 时关闭连接。
func DialNatsNotifier(url, subject string) (*NatsNotifier, error) {
	conn, err := nats.Connect(url, nats.Name("voicehub"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("连接 NATS 失败: %w", err)
	}
	n := NewNatsNotifier(conn, subject)
	n.owned = true
	logger.Infof("[tasks] 任务事件将发布到 NATS %s (subject=%s)", url, n.subject)
	return n, nil
}

// TaskFinished 实现 Notifier。发布失败只记录日志。
func (n *NatsNotifier) TaskFinished(event Event) {
	if event.FinishedAt.IsZero() {
		event.FinishedAt = time.Now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		logger.Warnf("[tasks] 序列化任务事件失败: %v", err)
		return
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		logger.Warnf("[tasks] 发布任务事件失败: %v", err)
	}
}

// Close 刷新并关闭自有连接。
func (n *NatsNotifier) Close() {
	if !n.owned || n.conn == nil {
		return
	}
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
	}
}
