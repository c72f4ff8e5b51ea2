package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"listwatch/internal/market"
	"listwatch/pkg/logx"
)

// Board is one monitored notice board.
type Board struct {
	Name     string
	URL      string
	Interval time.Duration
}

// BoardWatcher runs the same loop shape as Worker but diffs a
// notice-id → title map instead of an item set, so it reports edited notices
// as well as new ones. State is a whole-map snapshot replaced atomically.
type BoardWatcher struct {
	board    Board
	fetcher  Fetcher
	notifier Notifier
	loc      *time.Location

	statePath string
	log       logx.Logger
	known     map[string]string
}

func NewBoardWatcher(board Board, fetcher Fetcher, notifier Notifier, dataDir string, loc *time.Location, log logx.Logger) *BoardWatcher {
	if board.Interval <= 0 {
		board.Interval = 30 * time.Second
	}
	if loc == nil {
		loc = time.UTC
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &BoardWatcher{
		board:     board,
		fetcher:   fetcher,
		notifier:  notifier,
		loc:       loc,
		statePath: filepath.Join(dataDir, board.Name+".board.json"),
		log:       log.With(logx.String("board", board.Name)),
	}
}

// Run blocks until ctx is cancelled. Schema mismatches skip the cycle.
func (b *BoardWatcher) Run(ctx context.Context) error {
	if err := b.bootstrap(ctx); err != nil {
		return err
	}
	for {
		if err := b.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var se *market.SchemaError
			if errors.As(err, &se) {
				b.log.Error("payload schema mismatch; skipping cycle", logx.Err(se))
			} else {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.board.Interval):
		}
	}
}

func (b *BoardWatcher) bootstrap(ctx context.Context) error {
	known, err := b.loadState()
	if err != nil {
		return err
	}
	if known != nil {
		b.known = known
		b.log.Info("state loaded", logx.Int("notices", len(known)))
		return nil
	}

	notices, _, err := b.poll(ctx)
	if err != nil {
		return err
	}
	if err := b.saveState(notices); err != nil {
		return err
	}
	b.known = notices
	b.log.Info("board bootstrapped", logx.Int("notices", len(notices)))
	return nil
}

func (b *BoardWatcher) cycle(ctx context.Context) error {
	notices, at, err := b.poll(ctx)
	if err != nil {
		return err
	}

	type change struct {
		id, title string
		edited    bool
	}
	var changes []change
	for id, title := range notices {
		old, ok := b.known[id]
		switch {
		case !ok:
			changes = append(changes, change{id: id, title: title})
		case old != title:
			changes = append(changes, change{id: id, title: title, edited: true})
		}
	}
	if len(changes) == 0 {
		return nil
	}

	ts := time.UnixMilli(at).In(b.loc).Format("15:04:05 02.01.2006")
	for _, c := range changes {
		verb := "posted on"
		if c.edited {
			verb = "updated on"
		}
		msg := fmt.Sprintf("%q %s %s (%s)", c.title, verb, b.board.Name, ts)
		if err := b.notifier.Notify(ctx, msg); err != nil {
			return err
		}
		b.log.Info("notice change", logx.String("id", c.id), logx.Bool("edited", c.edited))
	}

	// Persist the full snapshot only after every change was announced,
	// matching the listing worker's notify-before-persist ordering.
	if err := b.saveState(notices); err != nil {
		return err
	}
	b.known = notices
	return nil
}

func (b *BoardWatcher) poll(ctx context.Context) (map[string]string, int64, error) {
	payload, at, err := b.fetcher.Fetch(ctx, b.board.Name, b.board.URL)
	if err != nil {
		return nil, 0, err
	}
	notices, err := parseNotices(payload)
	if err != nil {
		return nil, 0, err
	}
	return notices, at, nil
}

// parseNotices reads a notice listing: an array of objects each carrying an
// "id" (string or number) and a "title".
func parseNotices(payload []byte) (map[string]string, error) {
	var rows []map[string]json.RawMessage
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, &market.SchemaError{Kind: "board", Reason: "expected array of notices: " + err.Error()}
	}
	out := make(map[string]string, len(rows))
	for i, row := range rows {
		rawID, ok := row["id"]
		if !ok {
			return nil, &market.SchemaError{Kind: "board", Reason: fmt.Sprintf("notice %d: missing id field", i)}
		}
		var id string
		if err := json.Unmarshal(rawID, &id); err != nil {
			var num json.Number
			if err := json.Unmarshal(rawID, &num); err != nil {
				return nil, &market.SchemaError{Kind: "board", Reason: fmt.Sprintf("notice %d: id is neither string nor number", i)}
			}
			id = num.String()
		}
		rawTitle, ok := row["title"]
		if !ok {
			return nil, &market.SchemaError{Kind: "board", Reason: fmt.Sprintf("notice %d: missing title field", i)}
		}
		var title string
		if err := json.Unmarshal(rawTitle, &title); err != nil {
			return nil, &market.SchemaError{Kind: "board", Reason: fmt.Sprintf("notice %d: title is not a string", i)}
		}
		out[id] = title
	}
	return out, nil
}

// loadState returns nil (no error) when no snapshot exists yet.
func (b *BoardWatcher) loadState() (map[string]string, error) {
	data, err := os.ReadFile(b.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("corrupt board state %s: %w", b.statePath, err)
	}
	if m == nil {
		m = map[string]string{}
	}
	return m, nil
}

func (b *BoardWatcher) saveState(m map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(b.statePath), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := b.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, b.statePath); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
