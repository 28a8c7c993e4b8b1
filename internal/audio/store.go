package audio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iabetor/voicehub/internal/logger"
)

// OutputEntry 是生成音频索引中的一条记录。
type OutputEntry struct {
	ID         string  `json:"id"`
	Model      string  `json:"model"`
	Text       string  `json:"text"`
	Size       int64   `json:"size"`
	Duration   float64 `json:"duration"`
	CreatedAt  string  `json:"created_at"`
	LastAccess string  `json:"last_access"`
}

// OutputStore 管理生成音频文件及其 JSON 索引，总大小超限时淘汰最久未访问的文件。
type OutputStore struct {
	mu      sync.RWMutex
	dir     string
	maxSize int64 // 字节，0 表示不限
	index   map[string]*OutputEntry
	now     func() time.Time
}

const outputIndexFile = "outputs_index.json"

// timeLayout 定长时间格式，保证按字符串比较即按时间先后。
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// NewOutputStore 创建输出目录管理器，maxSizeMB 为 0 表示不限容量。
func NewOutputStore(dir string, maxSizeMB int64) (*OutputStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	s := &OutputStore{
		dir:     dir,
		maxSize: maxSizeMB * 1024 * 1024,
		index:   make(map[string]*OutputEntry),
		now:     time.Now,
	}

	if err := s.loadIndex(); err != nil {
		logger.Warnf("[outputs] 加载输出索引失败（将使用空索引）: %v", err)
	}
	s.validateIndex()

	return s, nil
}

// Dir 返回输出目录。
func (s *OutputStore) Dir() string {
	return s.dir
}

// Save 将样本写为 WAV 文件并登记索引，返回记录。
func (s *OutputStore) Save(model, text string, samples []float32, sampleRate int) (*OutputEntry, error) {
	id := uuid.NewString()
	data := EncodeWAV(samples, sampleRate)

	path := s.filePath(id)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return nil, fmt.Errorf("写入音频文件失败: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("写入音频文件失败: %w", err)
	}

	now := s.now().UTC().Format(timeLayout)
	entry := &OutputEntry{
		ID:         id,
		Model:      model,
		Text:       truncate(text, 200),
		Size:       int64(len(data)),
		Duration:   Duration(samples, sampleRate),
		CreatedAt:  now,
		LastAccess: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.index[id] = entry
	s.evictLocked(id)
	if err := s.saveIndexLocked(); err != nil {
		logger.Warnf("[outputs] 保存输出索引失败: %v", err)
	}

	logger.Infof("[outputs] 已保存: %s (%s, %d bytes)", path, model, entry.Size)
	copied := *entry
	return &copied, nil
}

// Get 查找输出文件，命中时刷新访问时间。
func (s *OutputStore) Get(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.index[id]
	if !ok {
		return "", false
	}
	path := s.filePath(id)
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	entry.LastAccess = s.now().UTC().Format(timeLayout)
	return path, true
}

// List 返回所有记录，按创建时间倒序。
func (s *OutputStore) List() []OutputEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]OutputEntry, 0, len(s.index))
	for _, entry := range s.index {
		results = append(results, *entry)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt > results[j].CreatedAt
	})
	return results
}

// Delete 删除指定记录及文件。
func (s *OutputStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[id]; !ok {
		return false
	}
	if err := os.Remove(s.filePath(id)); err != nil && !os.IsNotExist(err) {
		logger.Warnf("[outputs] 删除文件失败: %s: %v", id, err)
		return false
	}
	delete(s.index, id)
	s.saveIndexLocked()
	return true
}

func (s *OutputStore) filePath(id string) string {
	return filepath.Join(s.dir, id+".wav")
}

func (s *OutputStore) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(s.dir, outputIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, &s.index)
}

// saveIndexLocked 持久化索引（调用方需持有锁）。
func (s *OutputStore) saveIndexLocked() error {
	data, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, outputIndexFile), data, 0644)
}

// validateIndex 移除本地文件已不存在的记录。
func (s *OutputStore) validateIndex() {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id := range s.index {
		if _, err := os.Stat(s.filePath(id)); err != nil {
			delete(s.index, id)
			removed++
		}
	}
	if removed > 0 {
		logger.Infof("[outputs] 索引校验：移除 %d 个无效条目", removed)
		s.saveIndexLocked()
	}
}

// evictLocked 总大小超限时按最久未访问淘汰，keep 为刚写入的记录，不参与淘汰。
func (s *OutputStore) evictLocked(keep string) {
	if s.maxSize <= 0 {
		return
	}

	var total int64
	entries := make([]*OutputEntry, 0, len(s.index))
	for _, e := range s.index {
		total += e.Size
		if e.ID != keep {
			entries = append(entries, e)
		}
	}
	if total <= s.maxSize {
		return
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastAccess < entries[j].LastAccess
	})

	for _, e := range entries {
		if total <= s.maxSize {
			break
		}
		if err := os.Remove(s.filePath(e.ID)); err != nil && !os.IsNotExist(err) {
			logger.Warnf("[outputs] 删除文件失败: %s: %v", e.ID, err)
			continue
		}
		total -= e.Size
		delete(s.index, e.ID)
		logger.Infof("[outputs] LRU 淘汰: %s (%s)", e.ID, e.Model)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
