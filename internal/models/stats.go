package models

import (
	"sort"
	"time"

	"github.com/iabetor/voicehub/internal/logger"
)

// Stats 是驻留缓存的快照。
type Stats struct {
	Models   []string `json:"loaded_models"`
	Count    int      `json:"count"`
	MemoryMB float64  `json:"memory_mb"`
}

// EntryInfo 是单个驻留模型的详情。
type EntryInfo struct {
	Name       string        `json:"name"`
	LoadedAt   time.Time     `json:"loaded_at"`
	LastAccess time.Time     `json:"last_access"`
	LoadTime   time.Duration `json:"load_time"`
	Refs       int           `json:"refs"`
}

// Stats 返回驻留模型列表、数量与进程内存占用。
// 内存统计失败时 MemoryMB 为 0，不返回错误。
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	names := m.namesLocked()
	m.mu.Unlock()

	return Stats{
		Models:   names,
		Count:    len(names),
		MemoryMB: m.memoryMB(),
	}
}

func (m *Manager) memoryMB() (mb float64) {
	if m.memory == nil {
		return 0
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warnf("[models] 读取内存占用异常: %v", r)
			mb = 0
		}
	}()

	bytes, err := m.memory.CurrentMemoryBytes()
	if err != nil {
		logger.Debugf("[models] 读取内存占用失败: %v", err)
		return 0
	}
	return float64(bytes) / 1e6
}

// Entries 返回驻留模型详情，按名称排序。
func (m *Manager) Entries() []EntryInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]EntryInfo, 0, len(m.models))
	for name, e := range m.models {
		infos = append(infos, EntryInfo{
			Name:       name,
			LoadedAt:   e.loadedAt,
			LastAccess: e.lastAccess,
			LoadTime:   e.loadTime,
			Refs:       e.refs,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
