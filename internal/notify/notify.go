// Package notify dispatches outbound messages to the configured recipients.
package notify

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"listwatch/internal/retry"
	"listwatch/pkg/logx"
)

// Sender delivers one text message to one recipient.
type Sender interface {
	SendText(ctx context.Context, recipient int64, text string) error
}

type Config struct {
	Recipients []int64
	RatePerSec int
}

// Notifier sends a message to an ordered recipient list, one recipient at a
// time. Each send is retried indefinitely on transient failure, so delivery
// is at-least-once with no dedup: a crash mid-fanout can resend to recipients
// that were already reached. A shared token bucket paces sends so concurrent
// workers stay within the messaging API's rate limits.
type Notifier struct {
	sender Sender
	policy retry.Policy
	log    logx.Logger

	mu         sync.Mutex
	recipients []int64
	limiter    *rate.Limiter
}

func New(sender Sender, policy retry.Policy, cfg Config, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	n := &Notifier{sender: sender, policy: policy, log: log}
	n.Apply(cfg)
	return n
}

// Apply swaps the recipient list and rate limit at runtime.
func (n *Notifier) Apply(cfg Config) {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	n.mu.Lock()
	n.recipients = append([]int64(nil), cfg.Recipients...)
	n.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	n.mu.Unlock()
}

// Notify sends message to every recipient in list order. It returns only on
// full success or context cancellation.
func (n *Notifier) Notify(ctx context.Context, message string) error {
	n.mu.Lock()
	recipients := append([]int64(nil), n.recipients...)
	lim := n.limiter
	n.mu.Unlock()

	for _, r := range recipients {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return err
			}
		}
		log := n.log.With(logx.Int64("recipient", r))
		err := n.policy.Do(ctx, log, "notify", func(ctx context.Context) error {
			return n.sender.SendText(ctx, r, message)
		})
		if err != nil {
			return err
		}
		log.Debug("notification sent")
	}
	return nil
}
