package session

import (
	"context"
	"sync"

	"github.com/AnTengye/contractrisk/model"
	"github.com/AnTengye/contractrisk/pkg/logger"
	"github.com/AnTengye/contractrisk/service"
)

// CounterOfferRequester generates alternative wording for a clause
type CounterOfferRequester interface {
	RequestCounterOffer(ctx context.Context, clauseID string) (*model.CounterOffer, error)
}

// NegotiationStatus is the state of one clause's counter-offer
type NegotiationStatus string

const (
	NegotiationIdle       NegotiationStatus = "idle"
	NegotiationRequesting NegotiationStatus = "requesting"
	NegotiationReady      NegotiationStatus = "ready"
	NegotiationFailed     NegotiationStatus = "failed"
)

// Negotiation is the counter-offer state shown next to a clause
type Negotiation struct {
	Status NegotiationStatus   `json:"status"`
	Offer  *model.CounterOffer `json:"counter_offer,omitempty"`
	Error  string              `json:"error,omitempty"`
}

type negotiationEntry struct {
	Negotiation
	seq uint64
}

// NegotiationTracker keeps independent counter-offer state per clause. At most one
// request per clause is in flight; a clause's result never touches another clause.
type NegotiationTracker struct {
	mu         sync.Mutex
	ctx        context.Context
	requester  CounterOfferRequester
	documentID string
	entries    map[string]*negotiationEntry
	cancels    map[uint64]context.CancelFunc
	seq        uint64
	closed     bool

	inflight sync.WaitGroup
}

func NewNegotiationTracker(ctx context.Context, requester CounterOfferRequester) *NegotiationTracker {
	return &NegotiationTracker{
		ctx:       ctx,
		requester: requester,
		entries:   make(map[string]*negotiationEntry),
		cancels:   make(map[uint64]context.CancelFunc),
	}
}

// Bind points the tracker at a document. Switching documents drops all clause state.
func (t *NegotiationTracker) Bind(documentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.documentID == documentID {
		return
	}
	t.documentID = documentID
	t.clear()
}

// DocumentID returns the document the tracker is bound to
func (t *NegotiationTracker) DocumentID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.documentID
}

// Request starts generating a counter-offer for clauseID. It reports false when a
// request for the clause is already in flight or the tracker is closed.
func (t *NegotiationTracker) Request(clauseID string) bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	e := t.entries[clauseID]
	if e != nil && e.Status == NegotiationRequesting {
		t.mu.Unlock()
		return false
	}
	if e == nil {
		e = &negotiationEntry{}
		t.entries[clauseID] = e
	}
	t.seq++
	seq := t.seq
	e.seq = seq
	e.Status = NegotiationRequesting
	e.Error = ""

	ctx, cancel := context.WithCancel(t.ctx)
	t.cancels[seq] = cancel
	t.inflight.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.inflight.Done()
		defer cancel()
		offer, err := t.requester.RequestCounterOffer(ctx, clauseID)
		t.complete(clauseID, seq, offer, err)
	}()
	return true
}

// State returns the negotiation state of a clause, idle if never requested
func (t *NegotiationTracker) State(clauseID string) Negotiation {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[clauseID]; ok {
		return e.Negotiation
	}
	return Negotiation{Status: NegotiationIdle}
}

// Snapshot returns the state of every clause with a negotiation
func (t *NegotiationTracker) Snapshot() map[string]Negotiation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Negotiation, len(t.entries))
	for id, e := range t.entries {
		out[id] = e.Negotiation
	}
	return out
}

// Reset returns a clause to idle. A result still in flight for it is dropped.
func (t *NegotiationTracker) Reset(clauseID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[clauseID]
	if !ok {
		return
	}
	if cancel, ok := t.cancels[e.seq]; ok {
		cancel()
		delete(t.cancels, e.seq)
	}
	delete(t.entries, clauseID)
}

// Close cancels every in-flight request and refuses new ones
func (t *NegotiationTracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.clear()
}

func (t *NegotiationTracker) complete(clauseID string, seq uint64, offer *model.CounterOffer, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.cancels, seq)

	e, ok := t.entries[clauseID]
	if t.closed || !ok || e.seq != seq || e.Status != NegotiationRequesting {
		logger.Debug(t.ctx, "dropping stale counter-offer result", "clause_id", clauseID)
		return
	}
	if err != nil {
		logger.Warn(t.ctx, "counter-offer failed", "clause_id", clauseID, "error", err)
		e.Status = NegotiationFailed
		e.Offer = nil
		e.Error = service.UserMessage(err)
		return
	}
	e.Status = NegotiationReady
	e.Offer = offer
}

// clear must be called with mu held
func (t *NegotiationTracker) clear() {
	for seq, cancel := range t.cancels {
		cancel()
		delete(t.cancels, seq)
	}
	t.entries = make(map[string]*negotiationEntry)
}

func (t *NegotiationTracker) wait() {
	t.inflight.Wait()
}
