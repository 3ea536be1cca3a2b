package core

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// listenerBuffer is the channel capacity of each progress subscriber.
const listenerBuffer = 10

// ProgressHub is an in-process ProgressSink that fans events out to
// per-job and global subscribers. Sends never block: a subscriber that
// falls behind misses events.
type ProgressHub struct {
	mu     sync.RWMutex
	jobs   map[string][]chan ProgressEvent
	global []chan ProgressEvent
	last   map[string]ProgressEvent
}

// NewProgressHub creates an empty hub.
func NewProgressHub() *ProgressHub {
	return &ProgressHub{
		jobs: make(map[string][]chan ProgressEvent),
		last: make(map[string]ProgressEvent),
	}
}

// Publish delivers ev to the job's subscribers and to global subscribers.
func (h *ProgressHub) Publish(ev ProgressEvent) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.last[ev.JobID] = ev
	for _, ch := range h.jobs[ev.JobID] {
		select {
		case ch <- ev:
		default:
		}
	}
	for _, ch := range h.global {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel receiving the events of one job. The most
// recent event, if any, is delivered immediately. The channel is closed by
// Close(jobID) or by calling the returned cancel function.
func (h *ProgressHub) Subscribe(jobID string) (<-chan ProgressEvent, func()) {
	ch := make(chan ProgressEvent, listenerBuffer)

	h.mu.Lock()
	h.jobs[jobID] = append(h.jobs[jobID], ch)
	if ev, ok := h.last[jobID]; ok {
		ch <- ev
	}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		listeners := h.jobs[jobID]
		if i := slices.Index(listeners, ch); i >= 0 {
			h.jobs[jobID] = slices.Delete(listeners, i, i+1)
			close(ch)
		}
	}
}

// SubscribeAll returns a channel receiving every job's events.
func (h *ProgressHub) SubscribeAll() (<-chan ProgressEvent, func()) {
	ch := make(chan ProgressEvent, listenerBuffer)

	h.mu.Lock()
	h.global = append(h.global, ch)
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if i := slices.Index(h.global, ch); i >= 0 {
			h.global = slices.Delete(h.global, i, i+1)
			close(ch)
		}
	}
}

// Close closes every subscriber of jobID and forgets its last event.
func (h *ProgressHub) Close(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.jobs[jobID] {
		close(ch)
	}
	delete(h.jobs, jobID)
	delete(h.last, jobID)
}

// Last returns the most recent event published for jobID.
func (h *ProgressHub) Last(jobID string) (ProgressEvent, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ev, ok := h.last[jobID]
	return ev, ok
}

// MultiSink publishes every event to each of sinks in order.
func MultiSink(sinks ...ProgressSink) ProgressSink {
	return SinkFunc(func(ev ProgressEvent) {
		for _, s := range sinks {
			if s != nil {
				s.Publish(ev)
			}
		}
	})
}

// LogSink writes events to logger.
func LogSink(logger *slog.Logger) ProgressSink {
	return SinkFunc(func(ev ProgressEvent) {
		attrs := []any{"job_id", ev.JobID, "user", ev.Username}
		switch ev.Subtype {
		case EventChunk:
			logger.Info("import chunk committed",
				append(attrs, "chunk", fmt.Sprintf("%d/%d", ev.CurrentChunk, ev.TotalChunks), "bytes_read", ev.BytesRead)...)
		case EventEnd:
			logger.Info("import finished", append(attrs, "duration", ev.Duration)...)
		case EventError:
			logger.Warn("import row failed", append(attrs, "error", ev.Text)...)
		default:
			logger.Info("import started", attrs...)
		}
	})
}

// event builders

func beginEvent(job *ImportJob) ProgressEvent {
	return ProgressEvent{
		Type:     statusMessageType,
		Subtype:  EventBegin,
		JobID:    job.ID,
		Username: job.Username,
		Time:     time.Now(),
	}
}

func chunkEvent(job *ImportJob, seq, total int, bytesRead int64) ProgressEvent {
	return ProgressEvent{
		Type:         statusMessageType,
		Subtype:      EventChunk,
		JobID:        job.ID,
		Username:     job.Username,
		CurrentChunk: seq,
		TotalChunks:  total,
		BytesRead:    bytesRead,
		Time:         time.Now(),
	}
}

func endEvent(job *ImportJob, elapsed time.Duration, bytesRead int64) ProgressEvent {
	return ProgressEvent{
		Type:      statusMessageType,
		Subtype:   EventEnd,
		JobID:     job.ID,
		Username:  job.Username,
		Duration:  FormatDuration(elapsed),
		Elapsed:   elapsed,
		BytesRead: bytesRead,
		Time:      time.Now(),
	}
}

func errorEvent(job *ImportJob, err error, rowText string) ProgressEvent {
	text := err.Error()
	if rowText != "" {
		text += ": " + rowText
	}
	return ProgressEvent{
		Type:     errorMessageType,
		Subtype:  EventError,
		JobID:    job.ID,
		Username: job.Username,
		Title:    "CSV import error",
		Text:     text,
		Time:     time.Now(),
	}
}

// FormatDuration renders elapsed seconds with two decimals: "1.25s".
func FormatDuration(d time.Duration) string {
	return fmt.Sprintf("%.2fs", d.Seconds())
}
