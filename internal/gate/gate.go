// Package gate enforces entitlements on the client side so access decisions
// keep working while the entitlement service is unreachable.
package gate

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/smallbiznis/entitlementd/internal/clock"
	"github.com/smallbiznis/entitlementd/internal/entitlement/domain"
	"github.com/smallbiznis/entitlementd/internal/entitlement/engine"
)

var (
	ErrInvalidUser       = errors.New("invalid_user")
	ErrInvalidCacheDir   = errors.New("invalid_cache_dir")
	ErrInvalidServer     = errors.New("invalid_server")
	ErrCorruptCache      = errors.New("corrupt_cache")
	ErrRemoteUnavailable = errors.New("remote_unavailable")
)

type Gate struct {
	store    LocalStore
	remote   Remote
	clock    clock.Clock
	cooldown time.Duration
	log      *zap.Logger
}

type Option func(*Gate)

func WithClock(c clock.Clock) Option {
	return func(g *Gate) {
		if c != nil {
			g.clock = c
		}
	}
}

// WithCooldown sets the minimum time between two server round trips for
// the same user.
func WithCooldown(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.cooldown = d
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(g *Gate) {
		if log != nil {
			g.log = log
		}
	}
}

// New builds a gate. remote may be nil for offline-only checks.
func New(store LocalStore, remote Remote, opts ...Option) *Gate {
	g := &Gate{
		store:    store,
		remote:   remote,
		clock:    clock.SystemClock{},
		cooldown: engine.DefaultPollCooldown,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.Named("gate")
	return g
}

// Check returns the effective status for userID. Local expiry is enforced
// before anything else; a failing server never changes the cached state.
func (g *Gate) Check(ctx context.Context, userID string) (domain.Status, error) {
	rec, err := g.check(ctx, userID)
	return rec.Status, err
}

// IsPremium reports whether userID may use paid features right now.
func (g *Gate) IsPremium(ctx context.Context, userID string) bool {
	rec, err := g.check(ctx, userID)
	if err != nil {
		g.log.Warn("entitlement check failed", zap.String("user_id", userID), zap.Error(err))
	}
	return rec.IsPremium
}

// Status evaluates the cached record without contacting the server.
func (g *Gate) Status(userID string) (domain.Record, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Record{}, ErrInvalidUser
	}
	entry, err := g.load(userID)
	if err != nil {
		return domain.NewRecord(userID), err
	}
	return g.enforce(userID, entry)
}

func (g *Gate) check(ctx context.Context, userID string) (domain.Record, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Record{}, ErrInvalidUser
	}

	entry, err := g.load(userID)
	if err != nil {
		return domain.NewRecord(userID), err
	}
	rec, err := g.enforce(userID, entry)
	if err != nil {
		return rec, err
	}
	entry.Record = rec

	now := g.clock.Now()
	if g.remote == nil || engine.ShouldSkipPoll(entry.CheckedAt, g.cooldown, now) {
		return rec, nil
	}

	fresh, err := g.remote.Reconcile(ctx, userID)
	if err != nil {
		g.log.Warn("entitlement server unreachable, trusting last known state",
			zap.String("user_id", userID),
			zap.String("status", string(rec.Status)),
			zap.Error(err),
		)
		return rec, nil
	}

	// The server enforces expiry too, but its clock is not ours.
	fresh = engine.Enforce(fresh, now).State
	fresh.UserID = userID
	entry.Record = fresh
	entry.CheckedAt = &now
	if err := g.store.Save(userID, *entry); err != nil {
		return fresh, err
	}
	return fresh, nil
}

func (g *Gate) load(userID string) (*Entry, error) {
	entry, err := g.store.Load(userID)
	if err != nil {
		if errors.Is(err, ErrCorruptCache) {
			g.log.Warn("discarding unreadable entitlement cache", zap.String("user_id", userID), zap.Error(err))
			return &Entry{Record: domain.NewRecord(userID)}, nil
		}
		return nil, err
	}
	if entry == nil {
		return &Entry{Record: domain.NewRecord(userID)}, nil
	}
	return entry, nil
}

// enforce revokes a lapsed premium flag and persists the revocation so it
// survives a restart without network.
func (g *Gate) enforce(userID string, entry *Entry) (domain.Record, error) {
	revocation := engine.Enforce(entry.Record, g.clock.Now())
	if !revocation.ShouldRevoke {
		return entry.Record, nil
	}
	g.log.Info("premium access expired locally",
		zap.String("user_id", userID),
		zap.Timep("expires_at", entry.Record.ExpiresAt),
	)
	entry.Record = revocation.State
	if err := g.store.Save(userID, *entry); err != nil {
		return revocation.State, err
	}
	return revocation.State, nil
}
