package game

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/park285/xiangqi-live/internal/apperr"
	"github.com/park285/xiangqi-live/internal/domain"
	"github.com/park285/xiangqi-live/internal/msgcat"
	"github.com/park285/xiangqi-live/internal/obslog"
	"github.com/park285/xiangqi-live/internal/store"
)

type staticErr string

func (e staticErr) Error() string { return string(e) }

const errContended = staticErr("session update kept conflicting")

type commitFunc func(ctx context.Context, s *domain.Session) (*domain.Session, error)

// mutate reads the session, applies fn and commits with a version check, retrying on
// conflict. fn returns false when there is nothing to write; it must be safe to rerun.
func (c *Coordinator) mutate(ctx context.Context, id string, fn func(*domain.Session) (bool, error), commit commitFunc) (*domain.Session, error) {
	for attempt := 1; attempt <= c.cfg.MaxCASRetries; attempt++ {
		s, err := c.load(ctx, id)
		if err != nil {
			return nil, err
		}
		changed, err := fn(s)
		if err != nil {
			return nil, err
		}
		if !changed {
			return s, nil
		}
		out, err := commit(ctx, s)
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, store.ErrVersionConflict):
			obslog.L().Debug("session_cas_retry", zap.String("game_id", id), zap.Int("attempt", attempt))
			continue
		case errors.Is(err, store.ErrNotFound):
			return nil, apperr.NotFound(c.text(msgcat.ErrGameNotFound, map[string]any{"ID": id}, "Game ID "+id+" not found."))
		default:
			return nil, apperr.Internal(err, "update session")
		}
	}
	obslog.L().Error("session_cas_exhausted", zap.String("game_id", id), zap.Int("attempts", c.cfg.MaxCASRetries))
	return nil, apperr.Internal(errContended, "update session")
}
