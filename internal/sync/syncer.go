package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flavordex/flavorsync/internal/model"
	"github.com/flavordex/flavorsync/internal/remote"
)

// ErrAuthDisabled is reported when a cycle is skipped because an earlier
// cycle's credentials were rejected.
var ErrAuthDisabled = errors.New("sync disabled until credentials are confirmed")

// Stats tracks what a single sync cycle did.
type Stats struct {
	CategoriesPushed int
	EntriesPushed    int
	DeletionsPushed  int
	Rejected         int
	CategoriesPulled int
	EntriesPulled    int
	Deleted          int
	Skipped          int
	PhotosHashed     int
	TombstonesPurged int
	Errors           int
}

// Result is the outcome of [Syncer.Sync].
type Result struct {
	// Completed is true when the whole cycle ran and the session was closed.
	Completed bool
	// PhotoSyncRequested is set when a merged entry carried photos, so a
	// photo pass should follow.
	PhotoSyncRequested bool
	Stats              Stats
	// Err is the reason the cycle did not complete, for logging.
	Err error
}

// Policy controls the reaction to rejected credentials.
type Policy struct {
	// StartReauthAttempts is how many times StartSync is retried with
	// refreshed credentials after an authorization failure.
	StartReauthAttempts int
	// DisableOnAuthFailure stops future cycles after an unrecovered
	// authorization failure until [Engine.ResetAuth] is called.
	DisableOnAuthFailure bool
}

// DefaultPolicy re-authenticates once at session start and disables sync on
// any other authorization failure.
var DefaultPolicy = Policy{StartReauthAttempts: 1, DisableOnAuthFailure: true}

// Syncer performs one metadata sync cycle. It holds no state between calls;
// the scheduler passes a [State] in and stores the one returned.
type Syncer struct {
	store  LocalStore
	remote Remote
	thumbs Thumbnails
	policy Policy
	log    *slog.Logger
	now    func() int64
}

// NewSyncer creates a Syncer. thumbs may be nil.
func NewSyncer(store LocalStore, rem Remote, thumbs Thumbnails, logger *slog.Logger) *Syncer {
	return &Syncer{
		store:  store,
		remote: rem,
		thumbs: thumbs,
		policy: DefaultPolicy,
		log:    logger,
		now:    model.NowMillis,
	}
}

// SetPolicy replaces the authorization failure policy.
func (s *Syncer) SetPolicy(p Policy) {
	s.policy = p
}

// SetClock replaces the millisecond clock used for age conversion.
func (s *Syncer) SetClock(now func() int64) {
	s.now = now
}

// Sync runs one cycle: start a session, push local changes, pull and merge
// remote changes, end the session. Errors never escape; the returned Result
// reports whether the cycle completed, and the returned State carries the
// updated bookkeeping.
func (s *Syncer) Sync(ctx context.Context, st State) (State, Result) {
	var res Result
	st.LastAttempt = time.UnixMilli(s.now())

	if st.AuthDisabled {
		s.log.Warn("sync skipped: credentials were rejected; run reset-auth after fixing them")
		res.Err = ErrAuthDisabled
		return st, res
	}

	session, err := s.startSession(ctx)
	if err == nil {
		err = s.cycle(ctx, session, &res)
	}
	if err != nil {
		if errors.Is(err, remote.ErrUnauthorized) && s.policy.DisableOnAuthFailure {
			st.AuthDisabled = true
			s.log.Error("credentials rejected, disabling sync", "error", err)
		} else {
			s.log.Error("sync cycle did not complete", "error", err)
		}
		st.FailureCount++
		res.Err = err
		return st, res
	}

	res.Completed = true
	st.LastSync = time.UnixMilli(s.now())
	st.FailureCount = 0
	s.log.Info("sync complete",
		"categories_pushed", res.Stats.CategoriesPushed,
		"entries_pushed", res.Stats.EntriesPushed,
		"deletions_pushed", res.Stats.DeletionsPushed,
		"categories_pulled", res.Stats.CategoriesPulled,
		"entries_pulled", res.Stats.EntriesPulled,
		"deleted", res.Stats.Deleted,
		"errors", res.Stats.Errors,
	)
	return st, res
}

// startSession opens a session, refreshing credentials after an
// authorization failure up to the policy's attempt count.
func (s *Syncer) startSession(ctx context.Context) (remote.Session, error) {
	session, err := s.remote.StartSync(ctx)
	for attempt := 0; errors.Is(err, remote.ErrUnauthorized) && attempt < s.policy.StartReauthAttempts; attempt++ {
		s.log.Info("session start unauthorized, refreshing credentials", "attempt", attempt+1)
		if rerr := s.remote.RefreshCredentials(ctx); rerr != nil {
			return "", fmt.Errorf("%w: %v", remote.ErrUnauthorized, rerr)
		}
		session, err = s.remote.StartSync(ctx)
	}
	if err != nil {
		return "", fmt.Errorf("starting sync session: %w", err)
	}
	return session, nil
}

func (s *Syncer) cycle(ctx context.Context, session remote.Session, res *Result) error {
	changes, err := s.extract(ctx, &res.Stats)
	if err != nil {
		return err
	}
	if err := s.push(ctx, session, changes, &res.Stats); err != nil {
		return err
	}
	if err := s.pull(ctx, session, res); err != nil {
		return err
	}
	if err := s.remote.EndSync(ctx, session); err != nil {
		return fmt.Errorf("ending sync session: %w", err)
	}
	return nil
}
