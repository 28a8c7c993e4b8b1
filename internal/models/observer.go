package models

import "time"

// Event 表示模型被移出驻留表的原因。
type Event string

const (
	EventLoaded   Event = "load"
	EventReleased Event = "release"
	EventEvicted  Event = "evict"
)

// Observer 接收模型生命周期事件。回调在锁外同步执行，应尽快返回。
type Observer interface {
	ModelLoaded(name string, loadTime time.Duration)
	ModelRemoved(name string, event Event)
}
