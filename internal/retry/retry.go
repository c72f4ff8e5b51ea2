package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"listwatch/pkg/logx"
)

// Kind classifies a transient transport failure.
type Kind int

const (
	KindTimeout Kind = iota
	KindConnection
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnection:
		return "connection"
	default:
		return "other"
	}
}

// StatusError reports a non-2xx HTTP response. It is retryable (KindOther).
type StatusError struct {
	Status int
	URL    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Status, e.URL)
}

// Classify maps a transport error to its retry classification.
func Classify(err error) Kind {
	var se *StatusError
	if errors.As(err, &se) {
		return KindOther
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	for _, errno := range []syscall.Errno{
		syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ECONNABORTED,
		syscall.EHOSTUNREACH, syscall.ENETUNREACH, syscall.EPIPE,
	} {
		if errors.Is(err, errno) {
			return KindConnection
		}
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return KindConnection
	}
	return KindOther
}

// Policy maps a failure classification to the delay before the next attempt.
// There is no attempt limit: the caller either succeeds or keeps retrying
// until its context is cancelled.
type Policy struct {
	Timeout    time.Duration
	Connection time.Duration
	Other      time.Duration
}

// Default returns the tiered delays used at the fetch and notify boundaries:
// short for timeouts, longer for connection failures and everything else
// (non-2xx statuses, malformed responses).
func Default() Policy {
	return Policy{
		Timeout:    1500 * time.Millisecond,
		Connection: 5 * time.Second,
		Other:      5 * time.Second,
	}
}

// Delay returns the classification and wait for one failed attempt.
func (p Policy) Delay(err error) (Kind, time.Duration) {
	k := Classify(err)
	switch k {
	case KindTimeout:
		return k, p.Timeout
	case KindConnection:
		return k, p.Connection
	default:
		return k, p.Other
	}
}

// Do runs op until it succeeds or ctx is cancelled. Every failed attempt is
// logged with its cause, classification, and the chosen delay. Transport
// errors never escape; the only possible non-nil return is ctx.Err().
func (p Policy) Do(ctx context.Context, log logx.Logger, what string, op func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		kind, delay := p.Delay(err)
		log.Warn("retrying",
			logx.String("op", what),
			logx.String("kind", kind.String()),
			logx.Int("attempt", attempt),
			logx.Duration("delay", delay),
			logx.Err(err),
		)

		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return ctx.Err()
		case <-tmr.C:
		}
	}
}
