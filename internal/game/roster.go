package game

import (
	"context"
	"errors"

	"github.com/park285/xiangqi-live/internal/apperr"
	"github.com/park285/xiangqi-live/internal/domain"
	"github.com/park285/xiangqi-live/internal/fanout"
	"github.com/park285/xiangqi-live/internal/store"
	"github.com/park285/xiangqi-live/pkg/gamedto"
)

// Roster returns [red, black] details with nil for an empty seat, or an empty list when
// nobody is seated.
func (c *Coordinator) Roster(ctx context.Context, s *domain.Session) ([]*gamedto.PlayerDetails, error) {
	if s.Red == nil && s.Black == nil {
		return []*gamedto.PlayerDetails{}, nil
	}
	out := make([]*gamedto.PlayerDetails, 0, 2)
	for _, seat := range []*domain.Seat{s.Red, s.Black} {
		if seat == nil {
			out = append(out, nil)
			continue
		}
		d, err := c.details(ctx, seat.UserID)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (c *Coordinator) sendRoster(ctx context.Context, target fanout.Target, s *domain.Session) error {
	roster, err := c.Roster(ctx, s)
	if err != nil {
		return err
	}
	c.send(ctx, target, gamedto.UsersListEvent{Type: gamedto.GameUsersList, Data: roster}, "")
	return nil
}

func (c *Coordinator) details(ctx context.Context, userID int64) (*gamedto.PlayerDetails, error) {
	u, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(err, "load user")
	}
	stats, err := c.store.GetPlayer(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Internal(err, "load player")
	}
	return gamedto.NewPlayerDetails(u, stats), nil
}
