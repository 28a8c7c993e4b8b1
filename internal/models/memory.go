package models

import (
	"os"

	"github.com/shirou/gopsutil/v4/process"
)

// MemoryReporter 报告当前进程的内存占用（字节）。
type MemoryReporter interface {
	CurrentMemoryBytes() (uint64, error)
}

// ProcessMemory 通过 gopsutil 读取当前进程 RSS。
// sherpa-onnx 模型分配在原生堆上，Go runtime 统计不到，因此按 RSS 计。
type ProcessMemory struct {
	pid int32
}

// NewProcessMemory 创建当前进程的内存统计。
func NewProcessMemory() *ProcessMemory {
	return &ProcessMemory{pid: int32(os.Getpid())}
}

// CurrentMemoryBytes 返回进程常驻内存。
func (p *ProcessMemory) CurrentMemoryBytes() (uint64, error) {
	proc, err := process.NewProcess(p.pid)
	if err != nil {
		return 0, err
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}

// MemoryFunc 将函数适配为 MemoryReporter。
type MemoryFunc func() (uint64, error)

// CurrentMemoryBytes 调用 f。
func (f MemoryFunc) CurrentMemoryBytes() (uint64, error) {
	return f()
}
