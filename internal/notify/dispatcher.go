// Package notify decides how and when signals reach users. Delivery timing
// depends on the user's entitlement tier: content above the user's tier is
// held back for a grace window so a paywall prompt has time to convert
// before the notification spoils the content.
package notify

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/polypulse/pulse/internal/store"
)

// Outcome is the result of one dispatch decision.
type Outcome string

const (
	OutcomeSent     Outcome = "sent"      // delivered synchronously
	OutcomeQueued   Outcome = "queued"    // enqueued for immediate delivery
	OutcomeDelayed  Outcome = "delayed"   // held back by the tier grace window
	OutcomeSkipped  Outcome = "skipped"   // user disabled notifications
	OutcomeNoTokens Outcome = "no_tokens" // user has no registered devices
	OutcomeNotFound Outcome = "not_found" // unknown signal
	OutcomeFailed   Outcome = "failed"    // storage or queue error, nothing delivered
)

// Store is the persistence surface the dispatcher needs. *store.Store
// satisfies it; tests substitute fakes.
type Store interface {
	Signal(id uint) (*store.Signal, error)
	ResolveTier(userID int64, now time.Time) string
	NotificationsEnabled(userID int64) bool
	PushTokens(userID int64) ([]string, error)
	UsersWithTokens() ([]int64, error)
	EnqueueJob(job *store.NotificationJob) error
	ClaimDueJobs(now time.Time, limit int) ([]store.NotificationJob, error)
}

// Dispatcher routes signals to users, immediately or via the delayed queue.
type Dispatcher struct {
	store        Store
	sink         Sink
	grace        time.Duration
	queueEnabled bool
	drainBatch   int
	now          func() time.Time
}

func NewDispatcher(st Store, sink Sink, grace time.Duration, queueEnabled bool, drainBatch int) *Dispatcher {
	return &Dispatcher{
		store:        st,
		sink:         sink,
		grace:        grace,
		queueEnabled: queueEnabled,
		drainBatch:   drainBatch,
		now:          time.Now,
	}
}

// Dispatch routes one signal to one user.
//
// A signal whose required tier exceeds the user's current tier is "locked":
// its delivery is pushed out by the grace window. When the queue backend is
// enabled every dispatch goes through the queue with a computed deliver-at
// time, keeping "send now" and "send later" on a single code path. Without
// the queue, immediate dispatches go out synchronously and delayed ones are
// reported as delayed but never retried - an accepted degradation.
func (d *Dispatcher) Dispatch(ctx context.Context, userID int64, signalID uint) (Outcome, error) {
	sig, err := d.store.Signal(signalID)
	if errors.Is(err, store.ErrSignalNotFound) {
		return OutcomeNotFound, err
	}
	if err != nil {
		return OutcomeFailed, err
	}

	if !d.store.NotificationsEnabled(userID) {
		return OutcomeSkipped, nil
	}

	tokens, err := d.store.PushTokens(userID)
	if err != nil {
		return OutcomeFailed, err
	}
	if len(tokens) == 0 {
		return OutcomeNoTokens, nil
	}

	now := d.now()
	tier := d.store.ResolveTier(userID, now)
	locked := sig.RequiredTier != store.TierFree && tier != store.TierPro

	delay := time.Duration(0)
	if locked {
		delay = d.grace
	}

	if d.queueEnabled {
		job := &store.NotificationJob{
			UserID:    userID,
			SignalID:  signalID,
			DeliverAt: now.Add(delay),
		}
		if err := d.store.EnqueueJob(job); err != nil {
			return OutcomeFailed, err
		}
		if locked {
			return OutcomeDelayed, nil
		}
		return OutcomeQueued, nil
	}

	if locked {
		return OutcomeDelayed, nil
	}
	d.deliver(ctx, userID, sig, tokens)
	return OutcomeSent, nil
}

// BroadcastResult tallies per-user outcomes of a broadcast.
type BroadcastResult struct {
	Queued   int
	Delayed  int
	Sent     int
	Skipped  int
	NoTokens int
	Failed   int
}

// Broadcast dispatches one signal to every user holding at least one push
// token, applying the same per-user tier decision as Dispatch.
func (d *Dispatcher) Broadcast(ctx context.Context, signalID uint) (BroadcastResult, error) {
	var result BroadcastResult

	if _, err := d.store.Signal(signalID); err != nil {
		return result, err
	}

	users, err := d.store.UsersWithTokens()
	if err != nil {
		return result, err
	}

	for _, userID := range users {
		outcome, err := d.Dispatch(ctx, userID, signalID)
		if err != nil {
			log.Warn().Err(err).Int64("user", userID).Msg("Broadcast dispatch failed")
		}
		switch outcome {
		case OutcomeQueued:
			result.Queued++
		case OutcomeDelayed:
			result.Delayed++
		case OutcomeSent:
			result.Sent++
		case OutcomeSkipped:
			result.Skipped++
		case OutcomeNoTokens:
			result.NoTokens++
		case OutcomeFailed:
			result.Failed++
		}
	}

	log.Info().
		Uint("signal", signalID).
		Int("queued", result.Queued).
		Int("delayed", result.Delayed).
		Int("sent", result.Sent).
		Int("skipped", result.Skipped).
		Int("no_tokens", result.NoTokens).
		Int("failed", result.Failed).
		Msg("Broadcast complete")
	return result, nil
}

// Drain claims due jobs from the queue and attempts delivery for each.
// Claiming removes a job for good: one that fails during delivery is logged
// and dropped, never re-inserted. Returns the number of jobs claimed.
func (d *Dispatcher) Drain(ctx context.Context) (int, error) {
	jobs, err := d.store.ClaimDueJobs(d.now(), d.drainBatch)
	if err != nil {
		return 0, err
	}

	for _, job := range jobs {
		sig, err := d.store.Signal(job.SignalID)
		if err != nil {
			log.Warn().Err(err).Str("job", job.ID).Msg("Queued signal vanished, dropping job")
			continue
		}
		if !d.store.NotificationsEnabled(job.UserID) {
			continue
		}
		tokens, err := d.store.PushTokens(job.UserID)
		if err != nil || len(tokens) == 0 {
			continue
		}
		d.deliver(ctx, job.UserID, sig, tokens)
	}

	if len(jobs) > 0 {
		log.Debug().Int("jobs", len(jobs)).Msg("Notification queue drained")
	}
	return len(jobs), nil
}

// deliver pushes one signal to one user's devices. Transport failures are
// logged, never propagated.
func (d *Dispatcher) deliver(ctx context.Context, userID int64, sig *store.Signal, tokens []string) {
	data := map[string]string{
		"signalId": strconv.FormatUint(uint64(sig.ID), 10),
		"tier":     sig.RequiredTier,
	}
	n, err := d.sink.Deliver(ctx, tokens, sig.Title, sig.Body, data)
	if err != nil {
		log.Error().Err(err).Int64("user", userID).Uint("signal", sig.ID).Msg("Push delivery failed")
		return
	}
	log.Debug().Int64("user", userID).Uint("signal", sig.ID).Int("delivered", n).Msg("Push delivered")
}
