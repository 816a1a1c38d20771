package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/polypulse/pulse/internal/store"
)

// fakeStore implements Store in memory.
type fakeStore struct {
	signals    map[uint]*store.Signal
	tiers      map[int64]string
	disabled   map[int64]bool
	tokens     map[int64][]string
	jobs       []store.NotificationJob
	enqueueErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		signals:  make(map[uint]*store.Signal),
		tiers:    make(map[int64]string),
		disabled: make(map[int64]bool),
		tokens:   make(map[int64][]string),
	}
}

func (f *fakeStore) Signal(id uint) (*store.Signal, error) {
	sig, ok := f.signals[id]
	if !ok {
		return nil, store.ErrSignalNotFound
	}
	return sig, nil
}

func (f *fakeStore) ResolveTier(userID int64, _ time.Time) string {
	if tier, ok := f.tiers[userID]; ok {
		return tier
	}
	return store.TierFree
}

func (f *fakeStore) NotificationsEnabled(userID int64) bool {
	return !f.disabled[userID]
}

func (f *fakeStore) PushTokens(userID int64) ([]string, error) {
	return f.tokens[userID], nil
}

func (f *fakeStore) UsersWithTokens() ([]int64, error) {
	var ids []int64
	for id, tokens := range f.tokens {
		if len(tokens) > 0 {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeStore) EnqueueJob(job *store.NotificationJob) error {
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	f.jobs = append(f.jobs, *job)
	return nil
}

func (f *fakeStore) ClaimDueJobs(now time.Time, limit int) ([]store.NotificationJob, error) {
	var due, rest []store.NotificationJob
	for _, j := range f.jobs {
		if len(due) < limit && !j.DeliverAt.After(now) {
			due = append(due, j)
		} else {
			rest = append(rest, j)
		}
	}
	f.jobs = rest
	return due, nil
}

// fakeSink records deliveries.
type fakeSink struct {
	calls []fakeDelivery
	err   error
}

type fakeDelivery struct {
	tokens []string
	title  string
}

func (f *fakeSink) Deliver(_ context.Context, tokens []string, title, _ string, _ map[string]string) (int, error) {
	f.calls = append(f.calls, fakeDelivery{tokens: tokens, title: title})
	if f.err != nil {
		return 0, f.err
	}
	return len(tokens), nil
}

const grace = 300 * time.Second

func newTestDispatcher(st Store, sink Sink, queueEnabled bool) (*Dispatcher, time.Time) {
	d := NewDispatcher(st, sink, grace, queueEnabled, 100)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	return d, now
}

func TestDispatchUnknownSignal(t *testing.T) {
	fs := newFakeStore()
	d, _ := newTestDispatcher(fs, &fakeSink{}, true)

	outcome, err := d.Dispatch(context.Background(), 1, 42)
	if outcome != OutcomeNotFound {
		t.Errorf("expected not_found, got %s", outcome)
	}
	if !errors.Is(err, store.ErrSignalNotFound) {
		t.Errorf("expected ErrSignalNotFound, got %v", err)
	}
}

func TestDispatchDisabledPreference(t *testing.T) {
	fs := newFakeStore()
	fs.signals[1] = &store.Signal{ID: 1, RequiredTier: store.TierFree}
	fs.tokens[7] = []string{"tok"}
	fs.disabled[7] = true
	sink := &fakeSink{}
	d, _ := newTestDispatcher(fs, sink, true)

	outcome, err := d.Dispatch(context.Background(), 7, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeSkipped {
		t.Errorf("expected skipped, got %s", outcome)
	}
	if len(sink.calls) != 0 {
		t.Error("sink must not be contacted for a disabled preference")
	}
}

func TestDispatchNoTokens(t *testing.T) {
	fs := newFakeStore()
	fs.signals[1] = &store.Signal{ID: 1, RequiredTier: store.TierFree}
	sink := &fakeSink{}
	d, _ := newTestDispatcher(fs, sink, false)

	outcome, err := d.Dispatch(context.Background(), 7, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeNoTokens {
		t.Errorf("expected no_tokens, got %s", outcome)
	}
	if len(sink.calls) != 0 {
		t.Error("sink must never be called without tokens")
	}
	if len(fs.jobs) != 0 {
		t.Error("nothing should be queued without tokens")
	}
}

func TestDispatchLockedIsDelayedByGrace(t *testing.T) {
	fs := newFakeStore()
	fs.signals[1] = &store.Signal{ID: 1, RequiredTier: store.TierPro}
	fs.tokens[7] = []string{"tok"}
	// user 7 has no entitlement, resolves to free
	d, now := newTestDispatcher(fs, &fakeSink{}, true)

	outcome, err := d.Dispatch(context.Background(), 7, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeDelayed {
		t.Errorf("expected delayed, got %s", outcome)
	}
	if len(fs.jobs) != 1 {
		t.Fatalf("expected 1 queued job, got %d", len(fs.jobs))
	}
	want := now.Add(grace)
	if !fs.jobs[0].DeliverAt.Equal(want) {
		t.Errorf("expected deliver_at %v, got %v", want, fs.jobs[0].DeliverAt)
	}
}

func TestDispatchProUserIsImmediate(t *testing.T) {
	fs := newFakeStore()
	fs.signals[1] = &store.Signal{ID: 1, RequiredTier: store.TierPro}
	fs.tokens[7] = []string{"tok"}
	fs.tiers[7] = store.TierPro
	d, now := newTestDispatcher(fs, &fakeSink{}, true)

	outcome, err := d.Dispatch(context.Background(), 7, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeQueued {
		t.Errorf("expected queued, got %s", outcome)
	}
	if !fs.jobs[0].DeliverAt.Equal(now) {
		t.Errorf("expected immediate deliver_at, got %v", fs.jobs[0].DeliverAt)
	}
}

func TestDispatchFreeSignalNotLocked(t *testing.T) {
	fs := newFakeStore()
	fs.signals[1] = &store.Signal{ID: 1, RequiredTier: store.TierFree}
	fs.tokens[7] = []string{"tok"}
	d, _ := newTestDispatcher(fs, &fakeSink{}, true)

	outcome, _ := d.Dispatch(context.Background(), 7, 1)
	if outcome != OutcomeQueued {
		t.Errorf("free signal to free user should be queued immediately, got %s", outcome)
	}
}

func TestDispatchWithoutQueue(t *testing.T) {
	fs := newFakeStore()
	fs.signals[1] = &store.Signal{ID: 1, Title: "hello", RequiredTier: store.TierFree}
	fs.signals[2] = &store.Signal{ID: 2, RequiredTier: store.TierPro}
	fs.tokens[7] = []string{"tok-a", "tok-b"}
	sink := &fakeSink{}
	d, _ := newTestDispatcher(fs, sink, false)

	outcome, err := d.Dispatch(context.Background(), 7, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeSent {
		t.Errorf("expected sent, got %s", outcome)
	}
	if len(sink.calls) != 1 || len(sink.calls[0].tokens) != 2 {
		t.Fatalf("expected one delivery to two tokens, got %+v", sink.calls)
	}

	// Locked content without a queue is reported delayed and dropped.
	outcome, _ = d.Dispatch(context.Background(), 7, 2)
	if outcome != OutcomeDelayed {
		t.Errorf("expected delayed, got %s", outcome)
	}
	if len(sink.calls) != 1 {
		t.Error("locked dispatch without queue must not reach the sink")
	}
	if len(fs.jobs) != 0 {
		t.Error("no jobs should exist without a queue backend")
	}
}

func TestDrainDeliversOnlyDueJobs(t *testing.T) {
	fs := newFakeStore()
	fs.signals[1] = &store.Signal{ID: 1, Title: "due"}
	fs.tokens[7] = []string{"tok"}
	sink := &fakeSink{}
	d, now := newTestDispatcher(fs, sink, true)

	fs.jobs = []store.NotificationJob{
		{ID: "a", UserID: 7, SignalID: 1, DeliverAt: now.Add(-time.Second)},
		{ID: "b", UserID: 7, SignalID: 1, DeliverAt: now},
		{ID: "c", UserID: 7, SignalID: 1, DeliverAt: now.Add(time.Minute)},
	}

	n, err := d.Drain(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 claimed jobs, got %d", n)
	}
	if len(sink.calls) != 2 {
		t.Errorf("expected 2 deliveries, got %d", len(sink.calls))
	}
	if len(fs.jobs) != 1 || fs.jobs[0].ID != "c" {
		t.Errorf("expected only the future job to remain, got %+v", fs.jobs)
	}
}

func TestDrainNeverRedeliversFailedJob(t *testing.T) {
	fs := newFakeStore()
	fs.signals[1] = &store.Signal{ID: 1}
	fs.tokens[7] = []string{"tok"}
	sink := &fakeSink{err: errors.New("transport down")}
	d, now := newTestDispatcher(fs, sink, true)

	fs.jobs = []store.NotificationJob{
		{ID: "a", UserID: 7, SignalID: 1, DeliverAt: now.Add(-time.Second)},
	}

	if _, err := d.Drain(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.calls) != 1 {
		t.Fatalf("expected one attempt, got %d", len(sink.calls))
	}

	// A second drain finds nothing: the failed job was claimed, not re-queued.
	n, _ := d.Drain(context.Background())
	if n != 0 {
		t.Errorf("expected empty queue on second drain, got %d jobs", n)
	}
	if len(sink.calls) != 1 {
		t.Error("failed job must not be retried")
	}
}

func TestDispatchEnqueueFailureIsNotQueued(t *testing.T) {
	fs := newFakeStore()
	fs.signals[1] = &store.Signal{ID: 1, RequiredTier: store.TierFree}
	fs.tokens[7] = []string{"tok"}
	fs.enqueueErr = errors.New("queue unavailable")
	sink := &fakeSink{}
	d, _ := newTestDispatcher(fs, sink, true)

	outcome, err := d.Dispatch(context.Background(), 7, 1)
	if err == nil {
		t.Fatal("expected the enqueue error to surface")
	}
	if outcome != OutcomeFailed {
		t.Errorf("a failed enqueue must not report success, got %s", outcome)
	}
	if len(fs.jobs) != 0 {
		t.Error("no job should be recorded")
	}
	if len(sink.calls) != 0 {
		t.Error("sink must not be contacted")
	}
}

func TestBroadcastCountsFailures(t *testing.T) {
	fs := newFakeStore()
	fs.signals[1] = &store.Signal{ID: 1, RequiredTier: store.TierFree}
	fs.tokens[1] = []string{"tok"}
	fs.tokens[2] = []string{"tok"}
	fs.enqueueErr = errors.New("queue unavailable")
	d, _ := newTestDispatcher(fs, &fakeSink{}, true)

	result, err := d.Broadcast(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Failed != 2 || result.Queued != 0 {
		t.Errorf("failed enqueues must tally as failed, not queued: %+v", result)
	}
}

func TestBroadcastTalliesOutcomes(t *testing.T) {
	fs := newFakeStore()
	fs.signals[1] = &store.Signal{ID: 1, RequiredTier: store.TierPro}
	fs.tokens[1] = []string{"tok"} // free user, delayed
	fs.tokens[2] = []string{"tok"} // pro user, queued
	fs.tokens[3] = []string{"tok"} // disabled, skipped
	fs.tiers[2] = store.TierPro
	fs.disabled[3] = true
	d, _ := newTestDispatcher(fs, &fakeSink{}, true)

	result, err := d.Broadcast(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Delayed != 1 || result.Queued != 1 || result.Skipped != 1 {
		t.Errorf("unexpected tallies: %+v", result)
	}
}
