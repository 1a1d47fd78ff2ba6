package bus

import (
	"errors"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
)

// DefaultHistorySize bounds the retained message history.
const DefaultHistorySize = 500

// ErrMissingType is returned when a message is published without a type.
var ErrMissingType = errors.New("bus: message missing type")

// mailbox holds the queued messages for a single worker. The queue has its
// own lock so consumers draining it never contend with the bus lock.
type mailbox struct {
	mu     sync.Mutex
	queue  []Message
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (m *mailbox) enqueue(msg Message) {
	m.mu.Lock()
	m.queue = append(m.queue, msg)
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil
	}
	out := m.queue
	m.queue = nil
	return out
}

// Bus is an in-process publish/subscribe transport with per-worker mailboxes
// and a bounded history ring. Publishing is synchronous: Publish returns
// after every matching mailbox has received a copy, but it never waits for
// consumers to drain.
type Bus struct {
	mu            sync.Mutex
	mailboxes     map[string]*mailbox
	subscriptions map[string]map[string]struct{}
	history       []Message
	historyHead   int
	historyLen    int
	seq           uint64
}

// Option configures a Bus.
type Option func(*Bus)

// WithHistorySize overrides the history ring capacity.
func WithHistorySize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.history = make([]Message, n)
		}
	}
}

// New constructs an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		mailboxes:     make(map[string]*mailbox),
		subscriptions: make(map[string]map[string]struct{}),
		history:       make([]Message, DefaultHistorySize),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers the message types a worker wants to receive. Calling it
// again replaces the worker's filter; the mailbox and anything already queued
// in it are left untouched.
func (b *Bus) Subscribe(workerID string, types ...string) {
	b.mu.Lock()
	filter := make(map[string]struct{}, len(types))
	for _, t := range types {
		filter[t] = struct{}{}
	}
	b.subscriptions[workerID] = filter
	if _, ok := b.mailboxes[workerID]; !ok {
		b.mailboxes[workerID] = newMailbox()
	}
	b.mu.Unlock()
	logx.Infof("[bus] %s subscribed: %v", workerID, types)
}

// Publish assigns the next sequence number, records the message in history
// and delivers a copy to every subscribed mailbox except the sender's.
// Having no matching subscriber is a normal, silent outcome.
func (b *Bus) Publish(msg Message) error {
	if msg.Type == "" {
		return ErrMissingType
	}
	if msg.To == "" {
		msg.To = Broadcast
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	b.mu.Lock()
	b.seq++
	msg.Seq = b.seq
	b.appendHistory(msg)

	var targets []*mailbox
	for workerID, filter := range b.subscriptions {
		if workerID == msg.From {
			continue
		}
		if msg.To != Broadcast && msg.To != workerID {
			continue
		}
		if _, ok := filter[msg.Type]; !ok {
			continue
		}
		targets = append(targets, b.mailboxes[workerID])
	}
	b.mu.Unlock()

	for _, mb := range targets {
		mb.enqueue(msg)
	}
	return nil
}

// Receive blocks up to timeout for at least one message addressed to the
// worker, then drains and returns everything queued without further waiting.
// An empty result is normal, not an error.
func (b *Bus) Receive(workerID string, timeout time.Duration) []Message {
	b.mu.Lock()
	mb := b.mailboxes[workerID]
	b.mu.Unlock()
	if mb == nil {
		return nil
	}

	if msgs := mb.drain(); len(msgs) > 0 {
		return msgs
	}
	if timeout <= 0 {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-mb.notify:
		return mb.drain()
	case <-timer.C:
		return mb.drain()
	}
}

// History returns a most-recent-first snapshot of retained messages,
// optionally filtered by type. limit <= 0 returns everything retained.
func (b *Bus) History(limit int, typeFilter string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Message, 0, b.historyLen)
	for i := 0; i < b.historyLen; i++ {
		idx := (b.historyHead - 1 - i + len(b.history)) % len(b.history)
		msg := b.history[idx]
		if typeFilter != "" && msg.Type != typeFilter {
			continue
		}
		out = append(out, msg)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Seq reports the sequence number of the most recently published message.
func (b *Bus) Seq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

func (b *Bus) appendHistory(msg Message) {
	b.history[b.historyHead] = msg
	b.historyHead = (b.historyHead + 1) % len(b.history)
	if b.historyLen < len(b.history) {
		b.historyLen++
	}
}
