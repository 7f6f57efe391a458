package delivery

import (
	"context"
	"sync"
	"time"

	"remindd/internal/store"
	logx "remindd/pkg/logx"
)

// Sent is one recorded mock delivery.
type Sent struct {
	RecipientID string
	Address     string
	Message     Message
}

// Mock logs sends instead of performing them. It backs the "mock" channel
// driver and doubles as the test channel: failures can be injected per
// recipient to exercise fallback and failure paths.
type Mock struct {
	log logx.Logger

	mu   sync.Mutex
	sent []Sent
	fail map[string]error
}

func NewMock(log logx.Logger) *Mock {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Mock{log: log, fail: make(map[string]error)}
}

func (m *Mock) Name() string { return "mock" }

// FailFor makes every send to the recipient return err. A nil err clears it.
func (m *Mock) FailFor(recipientID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, recipientID)
		return
	}
	m.fail[recipientID] = err
}

func (m *Mock) Send(ctx context.Context, rec store.Recipient, msg Message) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[rec.ID]; err != nil {
		return Outcome{}, err
	}
	m.sent = append(m.sent, Sent{RecipientID: rec.ID, Address: rec.Address, Message: msg})
	m.log.Info("mock delivery",
		logx.String("recipient", rec.ID),
		logx.String("category", msg.Category),
		logx.String("title", msg.Title))
	return Outcome{Method: MethodMock, At: time.Now().UTC()}, nil
}

// SentMessages returns a copy of everything delivered so far.
func (m *Mock) SentMessages() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sent, len(m.sent))
	copy(out, m.sent)
	return out
}
