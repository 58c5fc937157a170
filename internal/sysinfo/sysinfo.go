package sysinfo

import (
	"context"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/sensors"
)

// Snapshot is one reading of host health.
type Snapshot struct {
	CPUPercent    float64  `json:"cpu_percent"`
	MemoryPercent float64  `json:"memory_percent"`
	DiskFree      uint64   `json:"disk_free"`
	DiskTotal     uint64   `json:"disk_total"`
	Temperature   *float64 `json:"temperature,omitempty"`
}

// Sampler reads live system metrics for the path it watches.
type Sampler struct {
	diskPath string
}

// NewSampler builds a sampler reporting disk usage for diskPath.
func NewSampler(diskPath string) *Sampler {
	if diskPath == "" {
		diskPath = "/"
	}
	return &Sampler{diskPath: diskPath}
}

// Sample takes a fresh reading. A partial failure returns the fields that
// could be read together with the first error encountered.
func (s *Sampler) Sample(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	var firstErr error

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		firstErr = fmt.Errorf("cpu percent: %w", err)
	} else if len(percents) > 0 {
		snap.CPUPercent = percents[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		if firstErr == nil {
			firstErr = fmt.Errorf("virtual memory: %w", err)
		}
	} else {
		snap.MemoryPercent = vm.UsedPercent
	}

	if usage, err := disk.UsageWithContext(ctx, s.diskPath); err != nil {
		if firstErr == nil {
			firstErr = fmt.Errorf("disk usage: %w", err)
		}
	} else {
		snap.DiskFree = usage.Free
		snap.DiskTotal = usage.Total
	}

	// Temperature sensors are absent on many boards; that is not an error.
	if temps, err := sensors.TemperaturesWithContext(ctx); err == nil {
		if t, ok := pickCPUTemperature(temps); ok {
			snap.Temperature = &t
		}
	}

	return snap, firstErr
}

// pickCPUTemperature prefers a CPU package sensor, falling back to the first
// reported reading.
func pickCPUTemperature(temps []sensors.TemperatureStat) (float64, bool) {
	for _, t := range temps {
		key := strings.ToLower(t.SensorKey)
		if strings.Contains(key, "coretemp") || strings.Contains(key, "k10temp") || strings.Contains(key, "cpu") {
			return t.Temperature, true
		}
	}
	if len(temps) > 0 {
		return temps[0].Temperature, true
	}
	return 0, false
}
