// Package sysmon samples host resource usage alongside pipeline
// throughput counters and writes periodic JSON snapshots.
package sysmon

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Snapshot is one monitoring sample.
type Snapshot struct {
	Timestamp        time.Time `json:"timestamp"`
	CPUPercent       float64   `json:"cpu_percent"`
	MemoryPercent    float64   `json:"memory_percent"`
	ProcessRSSBytes  uint64    `json:"process_rss_bytes"`
	LogsProcessed    uint64    `json:"logs_processed"`
	AnomaliesFlagged uint64    `json:"anomalies_flagged"`
	AvgProcessMicros uint64    `json:"avg_process_micros"`
}

// Monitor owns the counters the pipeline increments and the sampling
// loop that persists snapshots.
type Monitor struct {
	metricsDir string
	interval   time.Duration

	logsProcessed    atomic.Uint64
	anomaliesFlagged atomic.Uint64
	processedMicros  atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(metricsDir string, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Monitor{metricsDir: metricsDir, interval: interval}
}

// RecordProcessed accounts one processed log entry and its latency.
func (m *Monitor) RecordProcessed(d time.Duration) {
	m.logsProcessed.Add(1)
	m.processedMicros.Add(uint64(d.Microseconds()))
}

// RecordAnomaly accounts one flagged entry.
func (m *Monitor) RecordAnomaly() {
	m.anomaliesFlagged.Add(1)
}

// Sample collects one snapshot without persisting it.
func (m *Monitor) Sample(ctx context.Context) Snapshot {
	s := Snapshot{
		Timestamp:        time.Now(),
		LogsProcessed:    m.logsProcessed.Load(),
		AnomaliesFlagged: m.anomaliesFlagged.Load(),
	}
	if s.LogsProcessed > 0 {
		s.AvgProcessMicros = m.processedMicros.Load() / s.LogsProcessed
	}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		s.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.MemoryPercent = vm.UsedPercent
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if info, err := proc.MemoryInfoWithContext(ctx); err == nil {
			s.ProcessRSSBytes = info.RSS
		}
	}
	return s
}

// Start launches the sampling loop. It is a no-op when already running.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return nil
	}

	if err := os.MkdirAll(m.metricsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.run(ctx)
	log.Printf("System monitor started (interval %s, metrics in %s)", m.interval, m.metricsDir)
	return nil
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := m.Sample(ctx)
			if err := m.persist(snap); err != nil {
				log.Printf("Failed to persist metrics snapshot: %v", err)
			}
		}
	}
}

func (m *Monitor) persist(s Snapshot) error {
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	name := fmt.Sprintf("metrics-%s.json", s.Timestamp.UTC().Format("20060102T150405"))
	return os.WriteFile(filepath.Join(m.metricsDir, name), raw, 0o644)
}

// Stop halts the sampling loop and waits for it to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Printf("System monitor stopped")
}
