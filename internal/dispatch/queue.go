package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"wyckoff-signal-engine/internal/signals"
)

// Message is the delivery-boundary payload for one approved signal. The
// sequence number is monotonic per symbol so downstream consumers can detect
// missed messages.
type Message struct {
	Sequence   uint64         `json:"sequence_number"`
	Symbol     string         `json:"symbol"`
	Signal     signals.Signal `json:"signal"`
	CampaignID uuid.UUID      `json:"campaign_id"`
	ApprovedAt time.Time      `json:"approved_at"`
}

// Queue is the bounded multi-producer/single-consumer hand-off between
// symbol workers and the external delivery boundary. Producers block when
// the queue is full: approved signals are never dropped.
type Queue struct {
	ch chan Message

	mu   sync.Mutex
	seqs map[string]uint64
}

// NewQueue creates a bounded queue. Size must be at least 1.
func NewQueue(size int) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{
		ch:   make(chan Message, size),
		seqs: make(map[string]uint64),
	}
}

// Push enqueues an approved signal, assigning the symbol's next sequence
// number. Blocks under backpressure; returns the context error on cancel.
func (q *Queue) Push(ctx context.Context, sig *signals.Signal) (Message, error) {
	q.mu.Lock()
	q.seqs[sig.Symbol]++
	msg := Message{
		Sequence:   q.seqs[sig.Symbol],
		Symbol:     sig.Symbol,
		Signal:     *sig,
		ApprovedAt: time.Now(),
	}
	if sig.CampaignID != nil {
		msg.CampaignID = *sig.CampaignID
	}
	q.mu.Unlock()

	select {
	case q.ch <- msg:
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Messages returns the consumer side of the queue.
func (q *Queue) Messages() <-chan Message {
	return q.ch
}

// Depth reports how many messages are waiting for the consumer.
func (q *Queue) Depth() int {
	return len(q.ch)
}

// LastSequence reports the most recently assigned sequence for a symbol.
func (q *Queue) LastSequence(symbol string) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.seqs[symbol]
}

// Close ends the queue once all producers have stopped.
func (q *Queue) Close() {
	close(q.ch)
}
