// Package hitl implements the human-in-the-loop pause/resume engine: the
// pause decision policy, at-most-once resume tokens with TTL, and the
// storage backends that hold suspended loop state.
package hitl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

// DefaultTTL bounds how long a resume token stays redeemable.
const DefaultTTL = 5 * time.Minute

// ErrNotFound means the token does not exist, was already redeemed, or
// expired. Callers cannot distinguish the three; that is deliberate.
var ErrNotFound = errors.New("hitl: token not found")

// ShouldPause applies the decision policy for one tool call.
func ShouldPause(level models.HitlLevel, spec *models.ToolSpec) bool {
	switch level {
	case models.HitlAutonomous:
		return false
	case models.HitlCautious:
		return spec != nil && spec.RequiresConfirmation
	case models.HitlParanoid:
		return true
	default: // standard
		if spec == nil {
			return false
		}
		switch spec.Method() {
		case "POST", "PUT", "PATCH", "DELETE":
			return true
		}
		return false
	}
}

// expiredSweeper is implemented by backends that need periodic cleanup.
type expiredSweeper interface {
	DeleteExpired(ctx context.Context) error
}

// Engine persists paused loop state under single-use resume tokens.
type Engine struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
	cron   *cron.Cron
	now    func() time.Time
}

// NewEngine creates an engine over the given backend. SQL backends get a
// five-minute cron sweep for expired rows; cleanup failure is logged, never
// fatal.
func NewEngine(store Store, ttl time.Duration, logger *slog.Logger) *Engine {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{store: store, ttl: ttl, logger: logger, now: time.Now}

	if sweeper, ok := store.(expiredSweeper); ok {
		e.cron = cron.New()
		e.cron.AddFunc("@every 5m", func() {
			if err := sweeper.DeleteExpired(context.Background()); err != nil {
				logger.Warn("hitl cleanup failed", "error", err)
			}
		})
		e.cron.Start()
	}
	return e
}

// TTL returns the engine's configured token lifetime.
func (e *Engine) TTL() time.Duration {
	return e.ttl
}

// Pause stores the suspended state and returns its resume token.
func (e *Engine) Pause(ctx context.Context, state *models.PausedState) (string, error) {
	if state == nil {
		return "", errors.New("hitl: state is nil")
	}
	if state.CreatedAt.IsZero() {
		state.CreatedAt = e.now()
	}
	data, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("hitl: encode state: %w", err)
	}
	token := uuid.NewString()
	if err := e.store.Put(ctx, token, data, e.now().Add(e.ttl)); err != nil {
		return "", fmt.Errorf("hitl: store pause: %w", err)
	}
	return token, nil
}

// Resume redeems a token. The stored entry is deleted before the expiry
// check so a token yields its state to at most one caller, even when it has
// already expired.
func (e *Engine) Resume(ctx context.Context, token string) (*models.PausedState, error) {
	data, expiresAt, err := e.store.Take(ctx, token)
	if err != nil {
		return nil, err
	}
	if expiresAt.Before(e.now()) {
		return nil, ErrNotFound
	}
	var state models.PausedState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("hitl: decode state: %w", err)
	}
	return &state, nil
}

// Close stops background cleanup and the backend.
func (e *Engine) Close() error {
	if e.cron != nil {
		e.cron.Stop()
	}
	return e.store.Close()
}
