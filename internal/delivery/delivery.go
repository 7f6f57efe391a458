package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"remindd/internal/store"
)

// Delivery method labels reported in Outcome and logs.
const (
	MethodRich = "rich"
	MethodText = "text"
	MethodMock = "mock"
)

// Message is a rendered alert ready for a channel.
type Message struct {
	Category string
	Title    string
	Body     string
}

// Outcome reports how a message actually went out. Method may differ from the
// primary when a fallback leg handled the send.
type Outcome struct {
	Method string
	At     time.Time
}

// Channel delivers messages to recipients. Implementations resolve the
// recipient's Address themselves and should honor ctx cancellation.
type Channel interface {
	Name() string
	Send(ctx context.Context, rec store.Recipient, msg Message) (Outcome, error)
}

// Chain tries channels in order and returns the first successful outcome.
// A later leg only runs after every earlier leg has failed.
type Chain []Channel

func (c Chain) Name() string { return "chain" }

func (c Chain) Send(ctx context.Context, rec store.Recipient, msg Message) (Outcome, error) {
	if len(c) == 0 {
		return Outcome{}, errors.New("delivery chain is empty")
	}
	var errs []error
	for _, ch := range c {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		out, err := ch.Send(ctx, rec, msg)
		if err == nil {
			return out, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
	}
	return Outcome{}, errors.Join(errs...)
}

// RateLimited wraps a channel with a global sends-per-second cap. Send blocks
// until a token is available or ctx is cancelled.
func RateLimited(ch Channel, perSec int) Channel {
	if perSec <= 0 {
		return ch
	}
	return &limited{
		inner: ch,
		lim:   rate.NewLimiter(rate.Limit(perSec), perSec),
	}
}

type limited struct {
	inner Channel
	lim   *rate.Limiter
}

func (l *limited) Name() string { return l.inner.Name() }

func (l *limited) Send(ctx context.Context, rec store.Recipient, msg Message) (Outcome, error) {
	if err := l.lim.Wait(ctx); err != nil {
		return Outcome{}, err
	}
	return l.inner.Send(ctx, rec, msg)
}
