// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/checkin/lib/clock"
	"github.com/bureau-foundation/checkin/lib/ref"
	"github.com/bureau-foundation/checkin/lib/render"
	"github.com/bureau-foundation/checkin/lib/store"
	"github.com/bureau-foundation/checkin/lib/streak"
)

// RepostSuppression is how young an existing cycle must be to block a
// new post. Less than 24h so that clock drift, DST transitions, and
// admin time changes cannot silently skip a day; more than the longest
// plausible same-minute tick overlap so a single trigger never posts
// twice.
const RepostSuppression = 20 * time.Hour

// Announcer performs the external side effects of opening a cycle.
// The production implementation is the Matrix session adapter; tests
// use a fake. All three calls have unbounded latency and therefore run
// with no store lock held.
type Announcer interface {
	// SendAnnouncement posts the daily prompt and returns its event ID.
	SendAnnouncement(ctx context.Context, room ref.RoomID, body string) (ref.EventID, error)

	// CreateResponseThread opens the response thread under the prompt
	// message and returns the thread root event ID.
	CreateResponseThread(ctx context.Context, room ref.RoomID, prompt ref.EventID, name string) (ref.EventID, error)

	// Notify pings the mentioned users in the response thread.
	Notify(ctx context.Context, room ref.RoomID, thread ref.EventID, body string, mentions []ref.UserID) error
}

// Options configures a Scheduler. The zero value is production-ready
// except for Logger.
type Options struct {
	// Clock drives the tick loop and timestamps cycles. Defaults to
	// clock.Real().
	Clock clock.Clock

	// TickInterval is the sweep resolution. Defaults to one minute —
	// the due check matches on whole minutes, so a finer interval buys
	// nothing.
	TickInterval time.Duration

	// AnnounceTimeout bounds each community's announce side effects so
	// one stuck homeserver call cannot stall that community's tick
	// processing indefinitely. Defaults to 30 seconds.
	AnnounceTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Scheduler owns the daily posting decision for every community in the
// store. Exactly one Scheduler runs per process; cycle writes for a
// community are totally ordered through it.
type Scheduler struct {
	store     *store.Store
	engine    *streak.Engine
	announcer Announcer

	clock           clock.Clock
	tickInterval    time.Duration
	announceTimeout time.Duration
	logger          *slog.Logger
}

// New creates a Scheduler over the shared store and engine.
func New(st *store.Store, engine *streak.Engine, announcer Announcer, options Options) *Scheduler {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.TickInterval <= 0 {
		options.TickInterval = time.Minute
	}
	if options.AnnounceTimeout <= 0 {
		options.AnnounceTimeout = 30 * time.Second
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Scheduler{
		store:           st,
		engine:          engine,
		announcer:       announcer,
		clock:           options.Clock,
		tickInterval:    options.TickInterval,
		announceTimeout: options.AnnounceTimeout,
		logger:          options.Logger,
	}
}

// Run executes the tick loop until ctx is cancelled. There is no other
// terminal state: an interrupted due cycle is simply retried or
// suppressed correctly on the next tick, so shutdown needs no
// partial-cycle cleanup.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", "tick_interval", s.tickInterval)

	ticker := s.clock.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep evaluates every community once against the current time.
// Exported so tests (and a hypothetical "post now" admin action) can
// drive single sweeps without the loop.
func (s *Scheduler) Sweep(ctx context.Context) {
	now := s.clock.Now()
	for _, config := range s.store.Snapshot() {
		if err := s.processCommunity(ctx, config, now); err != nil {
			// One community's failure must not stop the sweep; the
			// community stays due and is retried next tick.
			s.logger.Error("cycle open failed",
				"community", config.CommunityID, "error", err)
		}
	}
}

// processCommunity opens a new cycle for one community if it is due
// and not suppressed.
func (s *Scheduler) processCommunity(ctx context.Context, config store.CommunityConfig, now time.Time) error {
	if config.AnnounceRoomID.IsZero() {
		return nil // scheduling disabled until an announce room is set
	}

	due, err := isDue(config.DailyTime, config.Timezone, now)
	if err != nil {
		return fmt.Errorf("resolving local time: %w", err)
	}
	if !due {
		return nil
	}

	if cycle, ok := s.store.Cycle(config.CommunityID); ok {
		if now.Sub(cycle.PostedAt) < RepostSuppression {
			s.logger.Debug("cycle already posted recently",
				"community", config.CommunityID, "posted_at", cycle.PostedAt)
			return nil
		}
	}

	community := config.CommunityID
	s.logger.Info("opening daily cycle",
		"community", community, "room", config.AnnounceRoomID)

	// Phase 1: close out the previous cycle. The resets must be
	// durable before the new cycle exists, so a crash between the two
	// cannot skip them.
	s.engine.ResetMissed(community, store.DateOf(now.UTC()))
	if err := s.store.Persist(); err != nil {
		s.logger.Error("persisting after maintenance",
			"community", community, "error", err)
	}

	// Phase 2: announce. No store lock is held across these calls;
	// the participant list is an owned copy.
	active := s.store.ActiveParticipants(community)
	mentions := make([]ref.UserID, len(active))
	for i, participant := range active {
		mentions[i] = participant.UserID
	}

	announceCtx, cancel := context.WithTimeout(ctx, s.announceTimeout)
	defer cancel()

	messageID, err := s.announcer.SendAnnouncement(announceCtx, config.AnnounceRoomID, render.DailyPrompt(active))
	if err != nil {
		return fmt.Errorf("sending announcement: %w", err)
	}
	threadID, err := s.announcer.CreateResponseThread(announceCtx, config.AnnounceRoomID, messageID, render.ThreadName(now))
	if err != nil {
		return fmt.Errorf("creating response thread: %w", err)
	}
	if len(mentions) > 0 {
		if err := s.announcer.Notify(announceCtx, config.AnnounceRoomID, threadID, render.PingMessage(mentions), mentions); err != nil {
			return fmt.Errorf("notifying participants: %w", err)
		}
	}

	// Phase 3: record the cycle. Only now does suppression engage;
	// any failure above left no record, so the next due tick retries.
	s.store.SetCycle(store.Cycle{
		CommunityID: community,
		RoomID:      config.AnnounceRoomID,
		MessageID:   messageID,
		ThreadID:    threadID,
		PostedAt:    now.UTC(),
	})
	if err := s.store.Persist(); err != nil {
		s.logger.Error("persisting new cycle",
			"community", community, "error", err)
	}

	s.logger.Info("daily cycle opened",
		"community", community, "message", messageID, "thread", threadID,
		"participants", len(mentions))
	return nil
}

// isDue reports whether now falls in the same minute as the configured
// local post time. Level-triggered: every tick inside that minute
// reports due, so callers rely on re-post suppression for exactly-once
// posting.
func isDue(dailyTime, timezone string, now time.Time) (bool, error) {
	hour, minute, err := ParseDailyTime(dailyTime)
	if err != nil {
		return false, err
	}
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return false, fmt.Errorf("loading timezone %q: %w", timezone, err)
	}

	local := now.In(location)
	return local.Hour()*60+local.Minute() == hour*60+minute, nil
}

// ParseDailyTime parses a 24-hour "HH:MM" wall-clock time. The command
// layer uses it to validate configuration at write time, so the
// scheduler never sees a malformed value.
func ParseDailyTime(value string) (hour, minute int, err error) {
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, fmt.Errorf("daily time must be 24-hour HH:MM: %w", err)
	}
	return parsed.Hour(), parsed.Minute(), nil
}
