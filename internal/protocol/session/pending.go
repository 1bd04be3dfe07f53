package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/osdkctl/internal/protocol/frame"
)

var ErrDuplicateRequest = errors.New("session: duplicate request id")

// ResolveStatus reports what the table did with one inbound response frame.
type ResolveStatus int

const (
	ResolveMatched ResolveStatus = iota
	// ResolveUnknown means no live request owns the id (late or duplicate frame).
	ResolveUnknown
	// ResolveUnexpected means the id is live but the frame kind is not the awaited one.
	ResolveUnexpected
)

func (s ResolveStatus) String() string {
	switch s {
	case ResolveMatched:
		return "matched"
	case ResolveUnknown:
		return "unknown"
	case ResolveUnexpected:
		return "unexpected"
	default:
		return "invalid"
	}
}

// PendingRequest tracks one in-flight request awaiting its response frames.
type PendingRequest struct {
	RequestID uint64
	Kind      uint32
	Expect    []uint32
	IssuedAt  time.Time
	Deadline  time.Time

	stage int
	slot  chan frame.Frame
}

// PendingView is a read-only copy of a table entry.
type PendingView struct {
	RequestID uint64
	Kind      uint32
	Stage     int
	Stages    int
	IssuedAt  time.Time
	Deadline  time.Time
}

// NewPendingRequest builds an entry whose slot can hold every expected response without blocking.
func NewPendingRequest(id uint64, kind uint32, expect []uint32, issuedAt, deadline time.Time) *PendingRequest {
	if len(expect) == 0 {
		expect = []uint32{kind}
	}
	stages := make([]uint32, len(expect))
	copy(stages, expect)
	return &PendingRequest{
		RequestID: id,
		Kind:      kind,
		Expect:    stages,
		IssuedAt:  issuedAt,
		Deadline:  deadline,
		slot:      make(chan frame.Frame, len(stages)),
	}
}

// Slot delivers matched frames in stage order.
func (p *PendingRequest) Slot() <-chan frame.Frame {
	return p.slot
}

// Table maps request ids to pending requests.
type Table struct {
	mu    sync.Mutex
	items map[uint64]*PendingRequest
}

func NewTable() *Table {
	return &Table{
		items: make(map[uint64]*PendingRequest),
	}
}

func (t *Table) Insert(p *PendingRequest) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.items[p.RequestID]; ok {
		return ErrDuplicateRequest
	}
	t.items[p.RequestID] = p
	return nil
}

// Resolve hands f to the request that owns f.Header.RequestID. A nack matches
// any stage and ends the request. A corrupt frame ends it only when its kind is
// the one the current stage awaits, since a damaged header may name a live id
// that belongs to another request. The entry is removed after its final stage,
// so later frames for the same id resolve as unknown.
func (t *Table) Resolve(f frame.Frame) ResolveStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.items[f.Header.RequestID]
	if !ok || p.stage >= len(p.Expect) {
		return ResolveUnknown
	}
	failed := f.IsNack() || f.IsCorrupt()
	if !f.IsNack() && f.Header.Kind != p.Expect[p.stage] {
		return ResolveUnexpected
	}
	p.slot <- f
	p.stage++
	if failed || p.stage == len(p.Expect) {
		delete(t.items, p.RequestID)
	}
	return ResolveMatched
}

// Remove deletes id and reports whether this call removed it.
func (t *Table) Remove(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.items[id]; !ok {
		return false
	}
	delete(t.items, id)
	return true
}

func (t *Table) SetDeadline(id uint64, deadline time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.items[id]
	if !ok {
		return false
	}
	p.Deadline = deadline
	return true
}

func (t *Table) Get(id uint64) (PendingView, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.items[id]
	if !ok {
		return PendingView{}, false
	}
	return viewOf(p), true
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

func (t *Table) List() []PendingView {
	t.mu.Lock()
	out := make([]PendingView, 0, len(t.items))
	for _, p := range t.items {
		out = append(out, viewOf(p))
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].RequestID < out[j].RequestID
	})
	return out
}

func viewOf(p *PendingRequest) PendingView {
	return PendingView{
		RequestID: p.RequestID,
		Kind:      p.Kind,
		Stage:     p.stage,
		Stages:    len(p.Expect),
		IssuedAt:  p.IssuedAt,
		Deadline:  p.Deadline,
	}
}
