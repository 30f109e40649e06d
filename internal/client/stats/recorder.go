// Package stats keeps the data-transfer statistics the tunnel service
// reports and formats them for display.
package stats

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"tunnelsync/internal/client/state"
)

// Snapshot is the latest reported statistics plus derived speeds
type Snapshot struct {
	ConnectedTime      time.Time
	TotalBytesSent     int64
	TotalBytesReceived int64
	SpeedSent          int64 // bytes per second
	SpeedReceived      int64 // bytes per second
	Uptime             time.Duration
	SlowBuckets        []int64
	FastBuckets        []int64
	UpdatedAt          time.Time
}

// Recorder is the sink for DATA_TRANSFER_STATS reports. Safe for
// concurrent use.
type Recorder struct {
	mu       sync.Mutex
	last     state.DataTransferStats
	lastAt   time.Time
	hasLast  bool
	speedIn  int64
	speedOut int64
	now      func() time.Time
}

// NewRecorder creates an empty Recorder
func NewRecorder() *Recorder {
	return &Recorder{now: time.Now}
}

// Record stores a report and updates the transfer speed from the byte
// deltas since the previous one
func (r *Recorder) Record(s state.DataTransferStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if r.hasLast {
		elapsed := now.Sub(r.lastAt).Seconds()
		// counters reset when the service restarts the engine
		reset := s.TotalBytesSent < r.last.TotalBytesSent || s.TotalBytesReceived < r.last.TotalBytesReceived
		switch {
		case reset:
			r.speedIn, r.speedOut = 0, 0
		case elapsed >= 0.1:
			r.speedOut = int64(float64(s.TotalBytesSent-r.last.TotalBytesSent) / elapsed)
			r.speedIn = int64(float64(s.TotalBytesReceived-r.last.TotalBytesReceived) / elapsed)
		}
	}

	r.last = s
	r.lastAt = now
	r.hasLast = true
}

// Snapshot returns the latest statistics. ok is false before the first
// report.
func (r *Recorder) Snapshot() (snap Snapshot, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.hasLast {
		return Snapshot{}, false
	}

	snap = Snapshot{
		ConnectedTime:      r.last.ConnectedTime,
		TotalBytesSent:     r.last.TotalBytesSent,
		TotalBytesReceived: r.last.TotalBytesReceived,
		SpeedSent:          r.speedOut,
		SpeedReceived:      r.speedIn,
		SlowBuckets:        append([]int64(nil), r.last.SlowBuckets...),
		FastBuckets:        append([]int64(nil), r.last.FastBuckets...),
		UpdatedAt:          r.lastAt,
	}
	if !r.last.ConnectedTime.IsZero() {
		snap.Uptime = r.now().Sub(r.last.ConnectedTime)
	}
	return snap, true
}

// Reset forgets every report
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = state.DataTransferStats{}
	r.lastAt = time.Time{}
	r.hasLast = false
	r.speedIn, r.speedOut = 0, 0
}

// FormatBytes formats bytes to human readable string
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return formatFloat(float64(bytes)/float64(GB)) + " GB"
	case bytes >= MB:
		return formatFloat(float64(bytes)/float64(MB)) + " MB"
	case bytes >= KB:
		return formatFloat(float64(bytes)/float64(KB)) + " KB"
	default:
		return strconv.FormatInt(bytes, 10) + " B"
	}
}

// FormatSpeed formats speed (bytes per second) to human readable string
func FormatSpeed(bytesPerSec int64) string {
	if bytesPerSec <= 0 {
		return "0 B/s"
	}
	return FormatBytes(bytesPerSec) + "/s"
}

// FormatDuration formats an uptime as 1h02m03s, 2m03s or 3s
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)
	h := int64(d / time.Hour)
	m := int64(d % time.Hour / time.Minute)
	s := int64(d % time.Minute / time.Second)

	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

func formatFloat(f float64) string {
	switch {
	case f >= 100:
		return strconv.FormatInt(int64(f), 10)
	case f >= 10:
		return strconv.FormatFloat(float64(int64(f*10))/10, 'f', 1, 64)
	default:
		return strconv.FormatFloat(float64(int64(f*100))/100, 'f', 2, 64)
	}
}
