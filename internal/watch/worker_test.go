package watch

import (
	"context"
	"errors"
	"testing"
	"time"

	"listwatch/internal/market"
	"listwatch/internal/storage"
	"listwatch/pkg/logx"
)

type fetchStep struct {
	payload string
	at      int64
}

type fakeFetcher struct {
	steps []fetchStep
	i     int
}

func (f *fakeFetcher) Fetch(ctx context.Context, name, url string) ([]byte, int64, error) {
	step := f.steps[f.i]
	if f.i < len(f.steps)-1 {
		f.i++
	}
	return []byte(step.payload), step.at, nil
}

type fakeNotifier struct {
	messages []string
	onNotify func(message string)
}

func (f *fakeNotifier) Notify(ctx context.Context, message string) error {
	if f.onNotify != nil {
		f.onNotify(message)
	}
	f.messages = append(f.messages, message)
	return nil
}

func newTestWorker(t *testing.T, fetcher Fetcher, notifier Notifier) (*Worker, storage.Store) {
	t.Helper()
	st, err := storage.Open(storage.Config{Dir: t.TempDir()}, "alpha", logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	parse, err := market.Parser("upbit")
	if err != nil {
		t.Fatalf("parser: %v", err)
	}
	w := NewWorker(
		market.Source{Name: "alpha", Kind: "upbit", URL: "http://alpha.test"},
		parse, fetcher, st, notifier,
		WorkerOptions{Interval: time.Millisecond, StatusEvery: 1000, Location: time.UTC},
		logx.Nop(),
	)
	return w, st
}

func TestBootstrapFreshStore(t *testing.T) {
	ctx := context.Background()
	fn := &fakeNotifier{}
	w, st := newTestWorker(t, &fakeFetcher{steps: []fetchStep{
		{payload: `[{"market":"X-Y"},{"market":"A-B"}]`, at: 1000},
	}}, fn)

	if err := w.bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if len(fn.messages) != 0 {
		t.Fatalf("bootstrap must not notify, got %v", fn.messages)
	}
	n, _ := st.Count(ctx)
	if n != 2 {
		t.Fatalf("expected 2 persisted records, got %d", n)
	}
	if len(w.known) != 2 {
		t.Fatalf("expected 2 known items, got %v", w.known)
	}
}

func TestBootstrapExistingStore(t *testing.T) {
	ctx := context.Background()
	fn := &fakeNotifier{}
	w, st := newTestWorker(t, &fakeFetcher{steps: []fetchStep{
		{payload: `[{"market":"SHOULD-NOT-FETCH"}]`, at: 9999},
	}}, fn)

	if err := st.Bootstrap(ctx, []string{"X-Y", "A-B"}, 1000); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	if err := w.bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if _, ok := w.known["X-Y"]; !ok {
		t.Fatalf("expected persisted state loaded, got %v", w.known)
	}
	if _, ok := w.known["SHOULD-NOT-FETCH"]; ok {
		t.Fatal("bootstrap fetched although a store existed")
	}
}

func TestCycleDetectsNewListing(t *testing.T) {
	ctx := context.Background()
	ff := &fakeFetcher{steps: []fetchStep{
		{payload: `[{"market":"X-Y"},{"market":"A-B"}]`, at: 1000},
		{payload: `[{"market":"X-Y"},{"market":"A-B"},{"market":"C-D"}]`, at: 2000},
	}}

	var w *Worker
	var st storage.Store
	fn := &fakeNotifier{}
	// Notification must precede persistence: at send time the store still
	// holds only the bootstrap records.
	fn.onNotify = func(string) {
		n, err := st.Count(ctx)
		if err != nil {
			t.Errorf("count during notify: %v", err)
		}
		if n != 2 {
			t.Errorf("store mutated before notification: %d records", n)
		}
	}
	w, st = newTestWorker(t, ff, fn)

	if err := w.bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := w.cycle(ctx, 1); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	want := market.Render("alpha", "C-D", 2000, time.UTC)
	if len(fn.messages) != 1 || fn.messages[0] != want {
		t.Fatalf("messages = %v, want [%q]", fn.messages, want)
	}
	n, _ := st.Count(ctx)
	if n != 3 {
		t.Fatalf("expected 3 persisted records, got %d", n)
	}
	if _, ok := w.known["C-D"]; !ok {
		t.Fatalf("knownItems not adopted after append: %v", w.known)
	}

	// State union invariant: store contents equal knownItems exactly.
	persisted, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(persisted) != len(w.known) {
		t.Fatalf("store/known diverged: %v vs %v", persisted, w.known)
	}
	for it := range w.known {
		if _, ok := persisted[it]; !ok {
			t.Fatalf("item %s known but not persisted", it)
		}
	}
}

func TestCycleNoChange(t *testing.T) {
	ctx := context.Background()
	ff := &fakeFetcher{steps: []fetchStep{
		{payload: `[{"market":"X-Y"},{"market":"A-B"}]`, at: 1000},
		{payload: `[{"market":"A-B"}]`, at: 2000}, // subset: no diff, no removal tracking
	}}
	fn := &fakeNotifier{}
	w, st := newTestWorker(t, ff, fn)

	if err := w.bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := w.cycle(ctx, 1); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(fn.messages) != 0 {
		t.Fatalf("subset snapshot must not notify, got %v", fn.messages)
	}
	n, _ := st.Count(ctx)
	if n != 2 {
		t.Fatalf("subset snapshot must not persist, got %d records", n)
	}
}

func TestCycleSchemaErrorSkips(t *testing.T) {
	ctx := context.Background()
	ff := &fakeFetcher{steps: []fetchStep{
		{payload: `[{"market":"X-Y"}]`, at: 1000},
		{payload: `{"unexpected":"shape"}`, at: 2000},
	}}
	fn := &fakeNotifier{}
	w, st := newTestWorker(t, ff, fn)

	if err := w.bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	err := w.cycle(ctx, 1)
	var se *market.SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
	if len(fn.messages) != 0 {
		t.Fatalf("schema error must not notify, got %v", fn.messages)
	}
	n, _ := st.Count(ctx)
	if n != 1 {
		t.Fatalf("schema error must not persist, got %d records", n)
	}
}

func TestRunRecoversFromSchemaError(t *testing.T) {
	ff := &fakeFetcher{steps: []fetchStep{
		{payload: `[{"market":"X-Y"}]`, at: 1000},
		{payload: `{"unexpected":"shape"}`, at: 1500},
		{payload: `[{"market":"X-Y"},{"market":"C-D"}]`, at: 2000},
	}}
	fn := &fakeNotifier{}
	w, _ := newTestWorker(t, ff, fn)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := w.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run should only stop on cancellation, got %v", err)
	}
	// The bad cycle was skipped; the following one detected C-D.
	if len(fn.messages) != 1 {
		t.Fatalf("expected 1 notification after recovery, got %v", fn.messages)
	}
}
