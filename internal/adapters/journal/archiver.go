// Package journal archives committed conversion records into immutable JSON
// segments on a blob store. Archival is asynchronous and best effort: the
// ledger itself stays authoritative, segments exist for offline audit.
package journal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"cruciblecore/internal/blob"
	"cruciblecore/pkg/domain"
)

// SegmentStatus describes the lifecycle stage of an archived segment.
type SegmentStatus string

const (
	SegmentStatusQueued    SegmentStatus = "queued"
	SegmentStatusSucceeded SegmentStatus = "succeeded"
	SegmentStatusFailed    SegmentStatus = "failed"
)

const defaultBatchSize = 64

// Entry is a single journal line inside a segment.
type Entry struct {
	ID         string                  `json:"id"`
	Conversion domain.ConversionRecord `json:"conversion"`
	RecordedAt time.Time               `json:"recorded_at"`
}

// Segment tracks one archived batch of journal entries.
type Segment struct {
	ID        string        `json:"id"`
	Key       string        `json:"key"`
	Entries   int           `json:"entries"`
	SizeBytes int64         `json:"size_bytes"`
	Status    SegmentStatus `json:"status"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

type segmentPayload struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Entries   []Entry   `json:"entries"`
}

type segmentTask struct {
	id      string
	entries []Entry
}

// Archiver batches journal entries and writes them to a blob store
// asynchronously. Entries are flushed when a batch fills or on Flush.
type Archiver struct {
	store     blob.Store
	prefix    string
	batchSize int

	queue chan segmentTask

	mu       sync.RWMutex
	pending  []Entry
	segments map[string]*Segment
	order    []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	nowFn func() time.Time
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithBatchSize overrides the number of entries per segment.
func WithBatchSize(n int) Option {
	return func(a *Archiver) {
		if n > 0 {
			a.batchSize = n
		}
	}
}

// WithPrefix overrides the key prefix segments are written under.
func WithPrefix(prefix string) Option {
	return func(a *Archiver) {
		if prefix != "" {
			a.prefix = prefix
		}
	}
}

// NewArchiver constructs a journal archiver writing to store.
func NewArchiver(store blob.Store, opts ...Option) *Archiver {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Archiver{
		store:     store,
		prefix:    "journal",
		batchSize: defaultBatchSize,
		queue:     make(chan segmentTask, 32),
		segments:  make(map[string]*Segment),
		ctx:       ctx,
		cancel:    cancel,
		nowFn:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start begins processing queued segments.
func (a *Archiver) Start() {
	a.wg.Add(1)
	go a.loop()
}

// Stop flushes any buffered entries, signals the worker to halt after
// draining the queue, and waits for completion.
func (a *Archiver) Stop(ctx context.Context) error {
	if err := a.Flush(ctx); err != nil {
		return err
	}
	a.cancel()
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Archiver) loop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.ctx.Done():
			// Drain whatever was queued before shutdown.
			for {
				select {
				case task := <-a.queue:
					a.process(task)
				default:
					return
				}
			}
		case task := <-a.queue:
			a.process(task)
		}
	}
}

// Record buffers a conversion for archival. The filled batch, if any, is
// queued for the background worker; Record never blocks on blob IO.
func (a *Archiver) Record(_ context.Context, conversion domain.ConversionRecord) error {
	entry := Entry{ID: uuid.NewString(), Conversion: conversion, RecordedAt: a.nowFn()}
	a.mu.Lock()
	a.pending = append(a.pending, entry)
	var task *segmentTask
	if len(a.pending) >= a.batchSize {
		task = a.rotateLocked()
	}
	a.mu.Unlock()
	if task == nil {
		return nil
	}
	return a.enqueue(*task)
}

// Flush queues any buffered entries as a partial segment.
func (a *Archiver) Flush(_ context.Context) error {
	a.mu.Lock()
	task := a.rotateLocked()
	a.mu.Unlock()
	if task == nil {
		return nil
	}
	return a.enqueue(*task)
}

// rotateLocked cuts the pending buffer into a queued segment. Caller holds mu.
func (a *Archiver) rotateLocked() *segmentTask {
	if len(a.pending) == 0 {
		return nil
	}
	entries := a.pending
	a.pending = nil
	id := uuid.NewString()
	a.segments[id] = &Segment{ID: id, Entries: len(entries), Status: SegmentStatusQueued, CreatedAt: a.nowFn()}
	a.order = append(a.order, id)
	return &segmentTask{id: id, entries: entries}
}

func (a *Archiver) enqueue(task segmentTask) error {
	select {
	case a.queue <- task:
		return nil
	default:
		a.fail(task.id, "journal queue full")
		return fmt.Errorf("journal queue full")
	}
}

func (a *Archiver) process(task segmentTask) {
	created := a.nowFn()
	payload, err := json.Marshal(segmentPayload{ID: task.id, CreatedAt: created, Entries: task.entries})
	if err != nil {
		a.fail(task.id, fmt.Sprintf("encode segment: %v", err))
		return
	}
	key := fmt.Sprintf("%s/%s/segment-%s.json", a.prefix, created.Format("2006/01/02"), task.id)
	// Writes must survive shutdown: segments drained after Stop still need a
	// live context for the blob backend.
	info, err := a.store.Put(context.WithoutCancel(a.ctx), key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"entries": fmt.Sprintf("%d", len(task.entries))},
	})
	if err != nil {
		a.fail(task.id, fmt.Sprintf("store segment: %v", err))
		return
	}
	a.mu.Lock()
	if seg, ok := a.segments[task.id]; ok {
		seg.Status = SegmentStatusSucceeded
		seg.Key = info.Key
		seg.SizeBytes = info.Size
		seg.Error = ""
	}
	a.mu.Unlock()
}

func (a *Archiver) fail(id, reason string) {
	a.mu.Lock()
	if seg, ok := a.segments[id]; ok {
		seg.Status = SegmentStatusFailed
		seg.Error = reason
	}
	a.mu.Unlock()
}

// Segment returns a snapshot of one tracked segment.
func (a *Archiver) Segment(id string) (Segment, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	seg, ok := a.segments[id]
	if !ok {
		return Segment{}, false
	}
	return *seg, true
}

// Segments returns snapshots of all tracked segments in creation order.
func (a *Archiver) Segments() []Segment {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Segment, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, *a.segments[id])
	}
	return out
}

// PendingEntries reports how many entries are buffered but not yet queued.
func (a *Archiver) PendingEntries() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.pending)
}
