// Package watch runs the long-lived poll loops: one Worker per listing
// source and one BoardWatcher per notice board.
package watch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"listwatch/internal/market"
	"listwatch/internal/storage"
	"listwatch/pkg/logx"
)

// Fetcher is the transport capability a loop polls with. Fetch blocks until
// a payload is obtained or ctx is cancelled; it never returns a transport
// error.
type Fetcher interface {
	Fetch(ctx context.Context, name, url string) (payload []byte, fetchedAt int64, err error)
}

// Notifier fans one message out to every configured recipient.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Worker owns one source and drives its poll → canonicalize → diff →
// notify → persist loop. knownItems is touched by nobody else and is only
// advanced after a successful append, so a crash can duplicate a
// notification but never lose a detected item.
type Worker struct {
	source   market.Source
	parse    market.ParseFunc
	fetcher  Fetcher
	store    storage.Store
	notifier Notifier
	loc      *time.Location
	interval time.Duration

	// statusEvery is the cycle count between info-level status lines;
	// every cycle still logs at debug.
	statusEvery int

	log   logx.Logger
	known map[string]struct{}
}

type WorkerOptions struct {
	Interval    time.Duration
	StatusEvery int
	Location    *time.Location
}

func NewWorker(src market.Source, parse market.ParseFunc, fetcher Fetcher, store storage.Store, notifier Notifier, opts WorkerOptions, log logx.Logger) *Worker {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.StatusEvery <= 0 {
		opts.StatusEvery = 500
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Worker{
		source:      src,
		parse:       parse,
		fetcher:     fetcher,
		store:       store,
		notifier:    notifier,
		loc:         opts.Location,
		interval:    opts.Interval,
		statusEvery: opts.StatusEvery,
		log:         log.With(logx.String("source", src.Name)),
	}
}

// Run blocks until ctx is cancelled. A payload schema mismatch skips the
// cycle and keeps polling; persistence failures are returned so the caller's
// restart policy decides what happens next.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.bootstrap(ctx); err != nil {
		return err
	}
	for cycle := 1; ; cycle++ {
		if err := w.cycle(ctx, cycle); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var se *market.SchemaError
			if errors.As(err, &se) {
				w.log.Error("payload schema mismatch; skipping cycle", logx.Err(se))
			} else {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.interval):
		}
	}
}

// bootstrap seeds knownItems: from the persisted store when one exists,
// otherwise from a first live snapshot which is persisted in full with zero
// notifications.
func (w *Worker) bootstrap(ctx context.Context) error {
	ok, err := w.store.Exists(ctx)
	if err != nil {
		return err
	}
	if ok {
		known, err := w.store.Load(ctx)
		if err != nil {
			return err
		}
		w.known = known
		w.log.Info("state loaded", logx.Int("items", len(known)))
		return nil
	}

	items, at, err := w.poll(ctx)
	if err != nil {
		return err
	}
	if err := w.store.Bootstrap(ctx, items, at); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			known, lerr := w.store.Load(ctx)
			if lerr != nil {
				return lerr
			}
			w.known = known
			return nil
		}
		return err
	}
	w.known = toSet(items)
	w.log.Info("store bootstrapped", logx.Int("items", len(w.known)), logx.Int64("observed_at", at))
	return nil
}

func (w *Worker) cycle(ctx context.Context, n int) error {
	items, at, err := w.poll(ctx)
	if err != nil {
		return err
	}

	if n%w.statusEvery == 0 {
		w.log.Info("status", logx.Int("items", len(items)), logx.Int64("observed_at", at))
	} else {
		w.log.Debug("polled", logx.Int("items", len(items)))
	}

	// Set difference in payload order, deduplicated: removals are not
	// tracked, only appearances matter.
	var fresh []string
	seen := map[string]struct{}{}
	for _, it := range items {
		if _, known := w.known[it]; known {
			continue
		}
		if _, dup := seen[it]; dup {
			continue
		}
		seen[it] = struct{}{}
		fresh = append(fresh, it)
	}
	if len(fresh) == 0 {
		return nil
	}

	// Notify before persisting: a crash between the two re-detects and
	// re-sends, but a persisted item has always been announced.
	for _, it := range fresh {
		msg := market.Render(w.source.Name, it, at, w.loc)
		if err := w.notifier.Notify(ctx, msg); err != nil {
			return err
		}
		w.log.Info("new listing", logx.String("item", it), logx.Int64("observed_at", at))
	}
	if err := w.store.Append(ctx, fresh, at); err != nil {
		return fmt.Errorf("append: %w", err)
	}
	for _, it := range fresh {
		w.known[it] = struct{}{}
	}
	return nil
}

func (w *Worker) poll(ctx context.Context) ([]string, int64, error) {
	payload, at, err := w.fetcher.Fetch(ctx, w.source.Name, w.source.URL)
	if err != nil {
		return nil, 0, err
	}
	items, err := w.parse(payload)
	if err != nil {
		return nil, 0, err
	}
	return items, at, nil
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		out[it] = struct{}{}
	}
	return out
}
