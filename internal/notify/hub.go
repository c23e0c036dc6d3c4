package notify

import (
	"sort"
	"sync"
	"time"

	"trustroom/internal/domain"
)

const (
	defaultSubscriberBuffer = 64
	defaultGapTimeout       = 2 * time.Second
)

// CaseChange is published to live viewers after every committed write.
// Version is the case version after the write.
type CaseChange struct {
	CaseID      string        `json:"caseId"`
	Version     int64         `json:"version"`
	Status      domain.Status `json:"status"`
	CurrentStep int           `json:"currentStep"`
	Action      string        `json:"action"`
	At          time.Time     `json:"at"`
}

type Subscription struct {
	id     int
	caseID string
	ch     chan CaseChange
}

func (s *Subscription) Ch() <-chan CaseChange { return s.ch }

type caseSeq struct {
	last    int64
	pending map[int64]CaseChange
	timer   *time.Timer
}

// Hub fans case changes out to live subscribers. Changes of one case are
// delivered in version order: early arrivals wait for the missing versions
// until GapTimeout passes, and versions at or below the last delivered one
// are dropped. Cases are independent of each other.
type Hub struct {
	GapTimeout time.Duration

	mu     sync.Mutex
	subs   map[string]map[int]*Subscription
	seqs   map[string]*caseSeq
	nextID int
}

func NewHub(gapTimeout time.Duration) *Hub {
	if gapTimeout <= 0 {
		gapTimeout = defaultGapTimeout
	}
	return &Hub{
		GapTimeout: gapTimeout,
		subs:       make(map[string]map[int]*Subscription),
		seqs:       make(map[string]*caseSeq),
	}
}

func (h *Hub) Subscribe(caseID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub := &Subscription{id: h.nextID, caseID: caseID, ch: make(chan CaseChange, defaultSubscriberBuffer)}
	if h.subs[caseID] == nil {
		h.subs[caseID] = make(map[int]*Subscription)
	}
	h.subs[caseID][sub.id] = sub
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subs[sub.caseID]
	if _, ok := subs[sub.id]; !ok {
		return
	}
	delete(subs, sub.id)
	close(sub.ch)
	if len(subs) == 0 {
		delete(h.subs, sub.caseID)
		h.dropSeq(sub.caseID)
	}
}

// Publish never blocks. Changes for cases nobody watches are discarded.
func (h *Hub) Publish(change CaseChange) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.subs[change.CaseID]) == 0 {
		return
	}
	seq := h.seqs[change.CaseID]
	if seq == nil {
		seq = &caseSeq{last: change.Version - 1, pending: make(map[int64]CaseChange)}
		h.seqs[change.CaseID] = seq
	}
	if change.Version <= seq.last {
		return
	}
	if change.Version != seq.last+1 {
		seq.pending[change.Version] = change
		if seq.timer == nil {
			caseID := change.CaseID
			seq.timer = time.AfterFunc(h.GapTimeout, func() { h.flushGap(caseID) })
		}
		return
	}
	h.deliver(change)
	seq.last = change.Version
	h.drain(seq)
}

func (h *Hub) SubscriberCount(caseID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[caseID])
}

// drain delivers pending changes that are now contiguous. Caller holds mu.
func (h *Hub) drain(seq *caseSeq) {
	for {
		next, ok := seq.pending[seq.last+1]
		if !ok {
			break
		}
		delete(seq.pending, next.Version)
		h.deliver(next)
		seq.last = next.Version
	}
	if len(seq.pending) == 0 && seq.timer != nil {
		seq.timer.Stop()
		seq.timer = nil
	}
}

// flushGap gives up on missing versions and delivers what is pending in
// order.
func (h *Hub) flushGap(caseID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	seq := h.seqs[caseID]
	if seq == nil {
		return
	}
	seq.timer = nil
	versions := make([]int64, 0, len(seq.pending))
	for v := range seq.pending {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	for _, v := range versions {
		if v <= seq.last {
			delete(seq.pending, v)
			continue
		}
		h.deliver(seq.pending[v])
		delete(seq.pending, v)
		seq.last = v
	}
}

// deliver sends without blocking. A subscriber with a full buffer misses the
// change. Caller holds mu.
func (h *Hub) deliver(change CaseChange) {
	for _, sub := range h.subs[change.CaseID] {
		select {
		case sub.ch <- change:
		default:
		}
	}
}

func (h *Hub) dropSeq(caseID string) {
	if seq := h.seqs[caseID]; seq != nil && seq.timer != nil {
		seq.timer.Stop()
	}
	delete(h.seqs, caseID)
}
