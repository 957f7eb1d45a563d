package pipeline

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"
)

// SystemMetrics tracks resource usage for worker pool monitoring
type SystemMetrics struct {
	WorkersActive int     `json:"workers_active"` // Workers currently executing jobs
	WorkersTotal  int     `json:"workers_total"`  // Total configured workers
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
	MemoryPercent float64 `json:"memory_percent"`
	JobsQueued    int     `json:"jobs_queued"`
	JobsRunning   int     `json:"jobs_running"`
}

// Rendering is the memory hog: ffmpeg plus decoded frames for a typical
// short-form video peak around 1.5GB per concurrent job.
const memoryPerWorkerGB = 1.5
const memoryBufferGB = 2.0

// calculateSafeWorkerCount recommends a worker count for the available memory.
func calculateSafeWorkerCount(availableGB float64) int {
	if availableGB < memoryBufferGB {
		return 1
	}

	recommended := int((availableGB - memoryBufferGB) / memoryPerWorkerGB)
	if recommended < 1 {
		return 1
	}
	if recommended > 16 {
		return 16
	}
	return recommended
}

func getMemoryStats() (total, available uint64, err error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}
	return vm.Total, vm.Available, nil
}

// GetSystemMetrics returns current system resource usage
func (wp *WorkerPool) GetSystemMetrics() SystemMetrics {
	total, available, err := getMemoryStats()

	var memUsedGB, memTotalGB, memPercent float64
	if err == nil && total > 0 {
		memTotalGB = float64(total) / 1024 / 1024 / 1024
		memUsedGB = float64(total-available) / 1024 / 1024 / 1024
		memPercent = (memUsedGB / memTotalGB) * 100
	}

	var queued, running int
	if stats, err := wp.jobs.Stats(); err == nil {
		for status, count := range stats {
			switch {
			case status == StatusQueued || status == StatusFailed:
				queued += count
			case Step(status).Valid():
				running += count
			}
		}
	}

	wp.mu.Lock()
	activeWorkers := wp.activeWorkers
	wp.mu.Unlock()

	return SystemMetrics{
		WorkersActive: activeWorkers,
		WorkersTotal:  wp.workers,
		MemoryUsedGB:  memUsedGB,
		MemoryTotalGB: memTotalGB,
		MemoryPercent: memPercent,
		JobsQueued:    queued,
		JobsRunning:   running,
	}
}

// checkMemoryPressure validates worker count against available memory.
// Returns a warning message if the count may be too high, empty string if OK.
func (wp *WorkerPool) checkMemoryPressure() string {
	total, available, err := getMemoryStats()
	if err != nil {
		return "" // Can't check, assume OK
	}

	availableGB := float64(available) / 1024 / 1024 / 1024
	totalGB := float64(total) / 1024 / 1024 / 1024
	recommended := calculateSafeWorkerCount(availableGB)

	if wp.workers > recommended {
		return fmt.Sprintf(
			"Worker count (%d) exceeds recommended (%d) for available memory (%.1f/%.1fGB). "+
				"Consider reducing workers to prevent render failures under memory pressure.",
			wp.workers, recommended, totalGB-availableGB, totalGB)
	}

	return ""
}
