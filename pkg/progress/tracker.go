// Package progress periodically reports per-file completion throughput
// and ETA for one upload or download run through logrus.
package progress

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Tracker accumulates completed-file/byte counts for one upload or
// download run and can periodically log a throughput/ETA summary.
type Tracker struct {
	totalFiles     int64
	totalBytes     int64
	doneFiles      atomic.Int64
	doneBytes      atomic.Int64
	failedFiles    atomic.Int64
	startTime      time.Time
	lastUpdateTime time.Time
	transferSpeeds []float64
	mu             sync.Mutex
}

// NewTracker creates a tracker for a run of totalFiles files summing to
// totalBytes bytes (both may be 0 if unknown up front).
func NewTracker(totalFiles, totalBytes int64) *Tracker {
	now := time.Now()
	return &Tracker{
		totalFiles:     totalFiles,
		totalBytes:     totalBytes,
		startTime:      now,
		lastUpdateTime: now,
		transferSpeeds: make([]float64, 0, 10),
	}
}

// Complete records one file's completion (or failure) and its size.
func (t *Tracker) Complete(fileSize int64, success bool) {
	now := time.Now()

	if success {
		t.doneFiles.Add(1)
		t.doneBytes.Add(fileSize)
	} else {
		t.failedFiles.Add(1)
	}

	t.mu.Lock()
	elapsed := now.Sub(t.lastUpdateTime).Seconds()
	if elapsed > 0 && fileSize > 0 {
		speed := float64(fileSize) / elapsed
		t.transferSpeeds = append(t.transferSpeeds, speed)
		if len(t.transferSpeeds) > 10 {
			t.transferSpeeds = t.transferSpeeds[1:]
		}
	}
	t.lastUpdateTime = now
	t.mu.Unlock()
}

// Stats is a snapshot of run progress.
type Stats struct {
	ProgressPct   float64
	DoneFiles     int64
	TotalFiles    int64
	DoneBytes     int64
	TotalBytes    int64
	FailedFiles   int64
	Elapsed       time.Duration
	ThroughputBps float64
	ETA           time.Duration
	ETAKnown      bool
}

// Snapshot returns the current Stats.
func (t *Tracker) Snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	doneFiles := t.doneFiles.Load()
	doneBytes := t.doneBytes.Load()
	failedFiles := t.failedFiles.Load()
	elapsed := time.Since(t.startTime)

	var avgSpeed float64
	if len(t.transferSpeeds) > 0 {
		var sum float64
		for _, speed := range t.transferSpeeds {
			sum += speed
		}
		avgSpeed = sum / float64(len(t.transferSpeeds))
	}

	var eta time.Duration
	etaKnown := avgSpeed > 0
	if etaKnown {
		remaining := t.totalBytes - doneBytes
		eta = time.Duration(float64(remaining) / avgSpeed * float64(time.Second))
	}

	progressPct := 0.0
	if t.totalFiles > 0 {
		progressPct = float64(doneFiles) / float64(t.totalFiles) * 100
	}

	return Stats{
		ProgressPct:   progressPct,
		DoneFiles:     doneFiles,
		TotalFiles:    t.totalFiles,
		DoneBytes:     doneBytes,
		TotalBytes:    t.totalBytes,
		FailedFiles:   failedFiles,
		Elapsed:       elapsed,
		ThroughputBps: avgSpeed,
		ETA:           eta,
		ETAKnown:      etaKnown,
	}
}

// LogPeriodic logs one Snapshot at the given interval until stop is
// closed. Intended to run in its own goroutine for the lifetime of a
// pipeline run.
func (t *Tracker) LogPeriodic(log *logrus.Entry, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s := t.Snapshot()
			fields := logrus.Fields{
				"progress_pct":  s.ProgressPct,
				"done_files":    s.DoneFiles,
				"total_files":   s.TotalFiles,
				"done_bytes":    s.DoneBytes,
				"total_bytes":   s.TotalBytes,
				"failed_files":  s.FailedFiles,
				"elapsed":       s.Elapsed.String(),
				"throughput_Bs": s.ThroughputBps,
			}
			if s.ETAKnown {
				fields["eta"] = s.ETA.String()
			}
			log.WithFields(fields).Info("s3ar: progress")
		}
	}
}
