// Package digest sends a scheduled summary of how many listings each source
// tracks. Pure side effect: it never influences the poll loops.
package digest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"listwatch/internal/storage"
	"listwatch/pkg/logx"
)

type Notifier interface {
	Notify(ctx context.Context, message string) error
}

type Service struct {
	cron     *cron.Cron
	stores   map[string]storage.Store
	notifier Notifier
	log      logx.Logger
}

func New(schedule string, loc *time.Location, stores map[string]storage.Store, notifier Notifier, log logx.Logger) (*Service, error) {
	if loc == nil {
		loc = time.UTC
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cron:     cron.New(cron.WithLocation(loc)),
		stores:   stores,
		notifier: notifier,
		log:      log,
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("digest schedule: %w", err)
	}
	return s, nil
}

func (s *Service) Start() { s.cron.Start() }

func (s *Service) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Service) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	names := make([]string, 0, len(s.stores))
	for name := range s.stores {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("listing digest:")
	for _, name := range names {
		n, err := s.stores[name].Count(ctx)
		if err != nil {
			s.log.Warn("digest count failed", logx.String("source", name), logx.Err(err))
			continue
		}
		fmt.Fprintf(&b, "\n- %s: %d markets tracked", name, n)
	}

	if err := s.notifier.Notify(ctx, b.String()); err != nil {
		s.log.Warn("digest send failed", logx.Err(err))
		return
	}
	s.log.Info("digest sent", logx.Int("sources", len(names)))
}
