// Package eventlog records what the views received so a session can be
// replayed offline through a fresh world.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	EventBufferSize    = 1024                   // Circular buffer size
	MaxEventsPerSec    = 2000                   // Global rate limit
	MaxEventsPerView   = 200                    // Per-view rate limit per second
	BatchFlushSize     = 64                     // Events per batch write
	BatchFlushInterval = 100 * time.Millisecond // How often to flush
	ViewLimiterCleanup = 5 * time.Minute        // Cleanup interval for view limiters
)

// Log provides bounded, rate-limited event logging with backpressure
type Log struct {
	// Circular buffer
	buffer    [EventBufferSize]Event
	writeHead uint64 // atomic - producer position
	readHead  uint64 // atomic - consumer position
	bufMu     sync.Mutex

	// Rate limiting so a flooding feed cannot fill the disk
	globalLimiter *rate.Limiter
	viewLimiters  sync.Map // map[uint32]*viewLimiterEntry

	// Async writer
	writerWg sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	// File output
	filePath string
	out      io.WriteCloser
	fileMu   sync.Mutex

	// Stats
	droppedCount uint64 // atomic
	totalCount   uint64 // atomic
}

// viewLimiterEntry tracks per-view rate limiting
type viewLimiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// New creates a new bounded event log
func New() *Log {
	return &Log{
		globalLimiter: rate.NewLimiter(MaxEventsPerSec, MaxEventsPerSec/10),
		stopChan:      make(chan struct{}),
	}
}

// Start opens filePath for append and begins the async writer goroutine
func (el *Log) Start(filePath string) error {
	if filePath == "" {
		return el.StartWriter(nil)
	}
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	el.filePath = filePath
	return el.StartWriter(file)
}

// StartWriter begins the async writer goroutine writing to out
func (el *Log) StartWriter(out io.WriteCloser) error {
	if el.running.Load() {
		return nil
	}
	el.out = out
	el.running.Store(true)
	el.writerWg.Add(2)
	go el.writerLoop()
	go el.cleanupLoop()
	return nil
}

// Stop flushes pending events and closes the output
func (el *Log) Stop() {
	el.stopOnce.Do(func() {
		if !el.running.Load() {
			return
		}
		el.running.Store(false)
		close(el.stopChan)
		el.writerWg.Wait()

		el.fileMu.Lock()
		if el.out != nil {
			el.out.Close()
		}
		el.fileMu.Unlock()
	})
}

// Emit adds an event with rate limiting.
// Returns false if rate limited, buffer full or not running.
func (el *Log) Emit(event Event) bool {
	if !el.running.Load() {
		return false
	}

	if !el.globalLimiter.Allow() {
		atomic.AddUint64(&el.droppedCount, 1)
		return false
	}
	if event.View != 0 && !el.getViewLimiter(event.View).Allow() {
		atomic.AddUint64(&el.droppedCount, 1)
		return false
	}

	el.bufMu.Lock()
	head := atomic.AddUint64(&el.writeHead, 1)
	tail := atomic.LoadUint64(&el.readHead)
	if head-tail > EventBufferSize {
		// drop the oldest event, the writer is behind
		atomic.AddUint64(&el.readHead, 1)
		atomic.AddUint64(&el.droppedCount, 1)
	}
	event.Sequence = head
	el.buffer[(head-1)%EventBufferSize] = event
	el.bufMu.Unlock()

	atomic.AddUint64(&el.totalCount, 1)
	return true
}

// EmitSimple is a convenience method to emit an event with automatic creation
func (el *Log) EmitSimple(eventType EventType, now time.Time, view uint32, payload interface{}) bool {
	return el.Emit(NewEvent(eventType, now, view, payload))
}

// getViewLimiter returns/creates a per-view rate limiter
func (el *Log) getViewLimiter(view uint32) *rate.Limiter {
	if entry, ok := el.viewLimiters.Load(view); ok {
		e := entry.(*viewLimiterEntry)
		e.lastUsed = time.Now()
		return e.limiter
	}

	entry := &viewLimiterEntry{
		limiter:  rate.NewLimiter(MaxEventsPerView, MaxEventsPerView/10),
		lastUsed: time.Now(),
	}
	actual, _ := el.viewLimiters.LoadOrStore(view, entry)
	return actual.(*viewLimiterEntry).limiter
}

// writerLoop batches and writes events asynchronously
func (el *Log) writerLoop() {
	defer el.writerWg.Done()

	ticker := time.NewTicker(BatchFlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, BatchFlushSize)
	for {
		select {
		case <-el.stopChan:
			for {
				batch = el.collectBatch(batch[:0])
				if len(batch) == 0 {
					return
				}
				el.flushBatch(batch)
			}
		case <-ticker.C:
			batch = el.collectBatch(batch[:0])
			if len(batch) > 0 {
				el.flushBatch(batch)
			}
		}
	}
}

// cleanupLoop removes stale view limiters
func (el *Log) cleanupLoop() {
	defer el.writerWg.Done()

	ticker := time.NewTicker(ViewLimiterCleanup)
	defer ticker.Stop()

	for {
		select {
		case <-el.stopChan:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-ViewLimiterCleanup)
			el.viewLimiters.Range(func(key, value interface{}) bool {
				if value.(*viewLimiterEntry).lastUsed.Before(cutoff) {
					el.viewLimiters.Delete(key)
				}
				return true
			})
		}
	}
}

// collectBatch reads available events from the circular buffer
func (el *Log) collectBatch(batch []Event) []Event {
	el.bufMu.Lock()
	defer el.bufMu.Unlock()

	head := atomic.LoadUint64(&el.writeHead)
	tail := atomic.LoadUint64(&el.readHead)
	for i := tail; i < head && len(batch) < BatchFlushSize; i++ {
		batch = append(batch, el.buffer[i%EventBufferSize])
	}
	if len(batch) > 0 {
		atomic.AddUint64(&el.readHead, uint64(len(batch)))
	}
	return batch
}

// flushBatch writes events as newline-delimited JSON
func (el *Log) flushBatch(batch []Event) {
	el.fileMu.Lock()
	defer el.fileMu.Unlock()

	if el.out == nil {
		return
	}
	for _, event := range batch {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		el.out.Write(append(data, '\n'))
	}
}

// GetStats returns counters for monitoring
func (el *Log) GetStats() map[string]interface{} {
	head := atomic.LoadUint64(&el.writeHead)
	tail := atomic.LoadUint64(&el.readHead)

	return map[string]interface{}{
		"total":   atomic.LoadUint64(&el.totalCount),
		"dropped": atomic.LoadUint64(&el.droppedCount),
		"pending": head - tail,
		"running": el.running.Load(),
		"path":    el.filePath,
	}
}

// Running reports whether the writer has been started and not stopped
func (el *Log) Running() bool {
	return el.running.Load()
}

// GetDroppedCount returns the number of dropped events
func (el *Log) GetDroppedCount() uint64 {
	return atomic.LoadUint64(&el.droppedCount)
}

// Read parses a newline-delimited event log
func Read(r io.Reader) ([]Event, error) {
	var events []Event
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return events, fmt.Errorf("event log line %d: %w", line, err)
		}
		events = append(events, e)
	}
	if err := sc.Err(); err != nil {
		return events, fmt.Errorf("read event log: %w", err)
	}
	return events, nil
}
