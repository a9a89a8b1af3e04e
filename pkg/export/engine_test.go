package export

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prayosha-panchal-glean/CloudwatchLogExportAWSS3/pkg/watermark"
)

type fakeSource struct {
	latest     int64
	latestOK   bool
	latestErr  error
	created    int64
	createdOK  bool
	createdErr error

	taskID    string
	exportErr error
	exports   []struct{ from, to int64 }
}

func (f *fakeSource) LatestActivity(ctx context.Context) (int64, bool, error) {
	return f.latest, f.latestOK, f.latestErr
}

func (f *fakeSource) CreationTime(ctx context.Context) (int64, bool, error) {
	return f.created, f.createdOK, f.createdErr
}

func (f *fakeSource) StartExport(ctx context.Context, from, to int64) (string, error) {
	f.exports = append(f.exports, struct{ from, to int64 }{from, to})
	if f.exportErr != nil {
		return "", f.exportErr
	}
	return f.taskID, nil
}

type failingStore struct {
	loadErr error
	saveErr error
	inner   *watermark.MemoryStore
}

func (s *failingStore) Load(ctx context.Context, sourceID string) (int64, error) {
	if s.loadErr != nil {
		return 0, s.loadErr
	}
	return s.inner.Load(ctx, sourceID)
}

func (s *failingStore) Save(ctx context.Context, sourceID string, millis int64) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.inner.Save(ctx, sourceID, millis)
}

func fixedNow() time.Time {
	return time.UnixMilli(1700000000000)
}

func newEngine(store watermark.Store, src SourceAPI) *Engine {
	return &Engine{
		SourceID:   "/aws/lambda/app",
		Watermarks: store,
		Source:     src,
		Now:        fixedNow,
	}
}

// No watermark, recent activity: export from the 24h fallback up to now-1.
func TestFirstExportUsesFallbackWindow(t *testing.T) {
	now := fixedNow().UnixMilli()
	store := watermark.NewMemoryStore()
	src := &fakeSource{latest: now - 10*time.Minute.Milliseconds(), latestOK: true, taskID: "task-1"}

	res := newEngine(store, src).Run(context.Background())

	if res.Outcome != OutcomeExported {
		t.Fatalf("expected exported got %s (err %v)", res.Outcome, res.Err)
	}
	wantFrom := now - 24*time.Hour.Milliseconds()
	if res.From != wantFrom {
		t.Fatalf("expected from %d got %d", wantFrom, res.From)
	}
	if res.To != now-1 {
		t.Fatalf("expected to %d got %d", now-1, res.To)
	}
	stored, err := store.Load(context.Background(), "/aws/lambda/app")
	if err != nil {
		t.Fatalf("Load after export: %v", err)
	}
	if stored != now-1 {
		t.Fatalf("watermark should advance to %d, got %d", now-1, stored)
	}
}

// No watermark but the source's creation time is known: start there.
func TestFirstExportPrefersCreationTime(t *testing.T) {
	now := fixedNow().UnixMilli()
	created := now - 72*time.Hour.Milliseconds()
	store := watermark.NewMemoryStore()
	src := &fakeSource{
		latest: now - 1000, latestOK: true,
		created: created, createdOK: true,
		taskID: "task-1",
	}

	res := newEngine(store, src).Run(context.Background())

	if res.Outcome != OutcomeExported {
		t.Fatalf("expected exported got %s", res.Outcome)
	}
	if res.From != created {
		t.Fatalf("expected from=creation time %d, got %d", created, res.From)
	}
}

// Watermark equals the latest activity: nothing new, skip, no request.
func TestSkipWhenNoNewerActivity(t *testing.T) {
	now := fixedNow().UnixMilli()
	t0 := now - time.Hour.Milliseconds()
	store := watermark.NewMemoryStore()
	if err := store.Save(context.Background(), "/aws/lambda/app", t0); err != nil {
		t.Fatalf("seed: %v", err)
	}
	src := &fakeSource{latest: t0, latestOK: true}

	res := newEngine(store, src).Run(context.Background())

	if res.Outcome != OutcomeSkipped {
		t.Fatalf("expected skipped got %s", res.Outcome)
	}
	if len(src.exports) != 0 {
		t.Fatalf("no export request expected, got %d", len(src.exports))
	}
	stored, _ := store.Load(context.Background(), "/aws/lambda/app")
	if stored != t0 {
		t.Fatalf("watermark must not move on skip: want %d got %d", t0, stored)
	}
}

// Newer activity past the watermark: export [watermark, now-1).
func TestExportFromWatermark(t *testing.T) {
	now := fixedNow().UnixMilli()
	t0 := now - time.Hour.Milliseconds()
	store := watermark.NewMemoryStore()
	if err := store.Save(context.Background(), "/aws/lambda/app", t0); err != nil {
		t.Fatalf("seed: %v", err)
	}
	src := &fakeSource{latest: t0 + 1000, latestOK: true, taskID: "task-2"}

	res := newEngine(store, src).Run(context.Background())

	if res.Outcome != OutcomeExported {
		t.Fatalf("expected exported got %s", res.Outcome)
	}
	if res.From != t0 || res.To != now-1 {
		t.Fatalf("expected window [%d, %d) got [%d, %d)", t0, now-1, res.From, res.To)
	}
	if res.TaskID != "task-2" {
		t.Fatalf("expected task-2 got %s", res.TaskID)
	}
	stored, _ := store.Load(context.Background(), "/aws/lambda/app")
	if stored != now-1 {
		t.Fatalf("watermark should be %d got %d", now-1, stored)
	}
}

// Rejected export request: failed, watermark untouched.
func TestExportRequestRejected(t *testing.T) {
	now := fixedNow().UnixMilli()
	t0 := now - time.Hour.Milliseconds()
	store := watermark.NewMemoryStore()
	if err := store.Save(context.Background(), "/aws/lambda/app", t0); err != nil {
		t.Fatalf("seed: %v", err)
	}
	src := &fakeSource{latest: now - 1000, latestOK: true, exportErr: errors.New("LimitExceededException")}

	res := newEngine(store, src).Run(context.Background())

	if res.Outcome != OutcomeFailed {
		t.Fatalf("expected failed got %s", res.Outcome)
	}
	if res.Partial {
		t.Fatal("rejected request is not a partial failure")
	}
	stored, _ := store.Load(context.Background(), "/aws/lambda/app")
	if stored != t0 {
		t.Fatalf("watermark must not move on rejected export: want %d got %d", t0, stored)
	}
}

// Probe failure is a skip, not an error, and issues no request.
func TestProbeFailureSkips(t *testing.T) {
	store := watermark.NewMemoryStore()
	if err := store.Save(context.Background(), "/aws/lambda/app", fixedNow().UnixMilli()-1000); err != nil {
		t.Fatalf("seed: %v", err)
	}
	src := &fakeSource{latestErr: errors.New("throttled")}

	res := newEngine(store, src).Run(context.Background())

	if res.Outcome != OutcomeSkipped {
		t.Fatalf("expected skipped got %s", res.Outcome)
	}
	if len(src.exports) != 0 {
		t.Fatal("no export request expected after probe failure")
	}
}

// Watermark at or past now-1 (clock skew, rapid re-invocation): skip.
func TestEmptyWindowSkips(t *testing.T) {
	now := fixedNow().UnixMilli()
	for _, mark := range []int64{now - 1, now, now + 5000} {
		store := watermark.NewMemoryStore()
		if err := store.Save(context.Background(), "/aws/lambda/app", mark); err != nil {
			t.Fatalf("seed: %v", err)
		}
		src := &fakeSource{latest: now + 10000, latestOK: true}

		res := newEngine(store, src).Run(context.Background())

		if res.Outcome != OutcomeSkipped {
			t.Fatalf("watermark %d: expected skipped got %s", mark, res.Outcome)
		}
		if len(src.exports) != 0 {
			t.Fatalf("watermark %d: no export request expected", mark)
		}
	}
}

// Corrupt/unreadable watermark falls back to the 24h window instead of
// failing the invocation.
func TestStoreReadErrorFallsBack(t *testing.T) {
	now := fixedNow().UnixMilli()
	store := &failingStore{
		loadErr: &watermark.StoreError{Op: "read", Err: errors.New("corrupt record")},
		inner:   watermark.NewMemoryStore(),
	}
	src := &fakeSource{latest: now - 1000, latestOK: true, taskID: "task-3"}

	res := newEngine(store, src).Run(context.Background())

	if res.Outcome != OutcomeExported {
		t.Fatalf("expected exported got %s (err %v)", res.Outcome, res.Err)
	}
	if res.From != now-24*time.Hour.Milliseconds() {
		t.Fatalf("expected 24h fallback from, got %d", res.From)
	}
}

// An unreadable record must not widen the window to the source's full
// history: the 24h default applies even when the creation time is known.
func TestStoreReadErrorIgnoresCreationTime(t *testing.T) {
	now := fixedNow().UnixMilli()
	store := &failingStore{
		loadErr: &watermark.StoreError{Op: "read", Err: errors.New("corrupt record")},
		inner:   watermark.NewMemoryStore(),
	}
	src := &fakeSource{
		latest: now - 1000, latestOK: true,
		created: now - 90*24*time.Hour.Milliseconds(), createdOK: true,
		taskID: "task-5",
	}

	res := newEngine(store, src).Run(context.Background())

	if res.Outcome != OutcomeExported {
		t.Fatalf("expected exported got %s (err %v)", res.Outcome, res.Err)
	}
	if want := now - 24*time.Hour.Milliseconds(); res.From != want {
		t.Fatalf("expected default window from %d, got %d", want, res.From)
	}
}

// Export accepted but watermark write failed: failed with partial marker.
func TestPartialFailureSurfaced(t *testing.T) {
	store := &failingStore{
		saveErr: &watermark.StoreError{Op: "write", Err: errors.New("access denied")},
		inner:   watermark.NewMemoryStore(),
	}
	src := &fakeSource{latest: fixedNow().UnixMilli() - 1000, latestOK: true, taskID: "task-4"}

	res := newEngine(store, src).Run(context.Background())

	if res.Outcome != OutcomeFailed {
		t.Fatalf("expected failed got %s", res.Outcome)
	}
	if !res.Partial {
		t.Fatal("expected partial marker when export succeeded but bookkeeping failed")
	}
	if res.TaskID != "task-4" {
		t.Fatalf("partial result should carry the task id, got %q", res.TaskID)
	}
}

// Two invocations with no new activity in between: skipped both times,
// watermark identical throughout.
func TestIdempotentSkips(t *testing.T) {
	now := fixedNow().UnixMilli()
	t0 := now - time.Hour.Milliseconds()
	store := watermark.NewMemoryStore()
	if err := store.Save(context.Background(), "/aws/lambda/app", t0); err != nil {
		t.Fatalf("seed: %v", err)
	}
	src := &fakeSource{latest: t0, latestOK: true}
	engine := newEngine(store, src)

	for i := 0; i < 2; i++ {
		res := engine.Run(context.Background())
		if res.Outcome != OutcomeSkipped {
			t.Fatalf("run %d: expected skipped got %s", i, res.Outcome)
		}
		stored, _ := store.Load(context.Background(), "/aws/lambda/app")
		if stored != t0 {
			t.Fatalf("run %d: watermark changed to %d", i, stored)
		}
	}
}

// Across a sequence of successful exports the watermark never decreases.
func TestWatermarkMonotonic(t *testing.T) {
	store := watermark.NewMemoryStore()
	src := &fakeSource{latestOK: true, taskID: "task"}

	base := time.UnixMilli(1700000000000)
	var prev int64
	for i := 0; i < 5; i++ {
		tick := base.Add(time.Duration(i) * 15 * time.Minute)
		src.latest = tick.UnixMilli() - 1000
		engine := newEngine(store, src)
		engine.Now = func() time.Time { return tick }

		res := engine.Run(context.Background())
		if res.Outcome != OutcomeExported {
			t.Fatalf("tick %d: expected exported got %s", i, res.Outcome)
		}
		stored, err := store.Load(context.Background(), "/aws/lambda/app")
		if err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		if stored < prev {
			t.Fatalf("tick %d: watermark regressed from %d to %d", i, prev, stored)
		}
		prev = stored
	}
}
