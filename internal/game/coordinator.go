// Package game holds the session business logic: seating, moves, in-game chat and
// termination, with every state change persisted before it is broadcast.
package game

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/xiangqi-live/internal/apperr"
	"github.com/park285/xiangqi-live/internal/chatcache"
	"github.com/park285/xiangqi-live/internal/domain"
	"github.com/park285/xiangqi-live/internal/fanout"
	"github.com/park285/xiangqi-live/internal/msgcat"
	"github.com/park285/xiangqi-live/internal/obslog"
	"github.com/park285/xiangqi-live/internal/store"
	"github.com/park285/xiangqi-live/pkg/gamedto"
)

// Broadcaster is the part of fanout.Hub the coordinator needs.
type Broadcaster interface {
	Join(ctx context.Context, group, connID string) error
	Leave(ctx context.Context, group, connID string) error
	Send(ctx context.Context, target fanout.Target, payload any, exclude string) error
}

type Config struct {
	RatingDelta   float64
	MaxCASRetries int
	ChatPageSize  int
}

type Coordinator struct {
	store store.Store
	chat  *chatcache.Cache
	hub   Broadcaster
	cat   *msgcat.Catalog
	cfg   Config
	now   func() time.Time
}

func NewCoordinator(st store.Store, chat *chatcache.Cache, hub Broadcaster, cat *msgcat.Catalog, cfg Config) *Coordinator {
	if cfg.RatingDelta == 0 {
		cfg.RatingDelta = 20
	}
	if cfg.MaxCASRetries <= 0 {
		cfg.MaxCASRetries = 5
	}
	if cfg.ChatPageSize <= 0 {
		cfg.ChatPageSize = chatcache.DefaultPageSize
	}
	return &Coordinator{store: st, chat: chat, hub: hub, cat: cat, cfg: cfg, now: time.Now}
}

// RoomGroup is the fanout group and chat room of a session.
func RoomGroup(sessionID string) string { return "game_" + sessionID }

type joinOutcome struct {
	side    domain.Side
	viewer  bool
	rejoin  bool
	started bool
}

// Join seats the caller in the first free side, or adds them as a viewer when both seats
// are taken, then subscribes the connection to the session room.
func (c *Coordinator) Join(ctx context.Context, p *domain.Peer, req gamedto.JoinRequest) error {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		return apperr.Validation(c.text(msgcat.ErrGameIDRequired, nil, "Game ID is required."))
	}
	if _, err := c.store.GetOrCreatePlayer(ctx, &p.User); err != nil {
		return apperr.Internal(err, "get or create player")
	}

	var out joinOutcome
	sess, err := c.mutate(ctx, id, func(s *domain.Session) (bool, error) {
		out = joinOutcome{}
		if side, ok := s.SideOf(p.User.ID); ok {
			out.side, out.rejoin = side, true
			return false, nil
		}
		if s.RoleFor() == domain.RoleViewer || s.Status.Terminal() {
			out.viewer = true
			if !s.AddViewer(p.User.ID) {
				return false, nil
			}
			s.UpdatedAt = c.now()
			return true, nil
		}
		side, _ := s.Seat(domain.Seat{UserID: p.User.ID, Username: p.User.Username})
		out.side = side
		if s.Full() && s.Status == domain.StatusWaiting {
			s.Status = domain.StatusActive
			out.started = true
		}
		s.UpdatedAt = c.now()
		return true, nil
	}, c.store.UpdateSession)
	if err != nil {
		return err
	}

	room := RoomGroup(sess.ID)
	if p.Joined() && p.SessionID != sess.ID {
		if err := c.hub.Leave(ctx, RoomGroup(p.SessionID), p.ConnID); err != nil {
			obslog.L().Warn("game_room_leave_error", zap.String("conn_id", p.ConnID), zap.Error(err))
		}
	}
	// the seat is already stored; a missed subscription only costs live updates
	if err := c.hub.Join(ctx, room, p.ConnID); err != nil {
		obslog.L().Error("game_room_join_error", zap.String("game_id", sess.ID), zap.String("conn_id", p.ConnID), zap.Error(err))
	}
	p.SessionID = sess.ID
	if out.viewer {
		p.Role, p.Side = domain.RoleViewer, ""
	} else {
		p.Role, p.Side = domain.RolePlayer, out.side
	}

	obslog.L().Info("game_join",
		zap.String("game_id", sess.ID),
		zap.Int64("user_id", p.User.ID),
		zap.String("role", string(p.Role)),
		zap.String("side", string(p.Side)),
		zap.Bool("started", out.started),
	)

	switch {
	case out.viewer:
		details, err := c.details(ctx, p.User.ID)
		if err != nil {
			return err
		}
		c.send(ctx, fanout.ToGroup(room), gamedto.ViewerJoinedEvent{Type: gamedto.GameViewerJoin, Data: details}, "")
		return c.sendRoster(ctx, fanout.ToConn(p.ConnID), sess)
	case out.rejoin:
		return c.sendRoster(ctx, fanout.ToConn(p.ConnID), sess)
	case out.started:
		msg := c.text(msgcat.GameStarted, map[string]any{"ID": sess.ID}, "The game "+sess.ID+" has started!")
		c.send(ctx, fanout.ToGroup(room), gamedto.MessageEvent{Type: gamedto.GameStart, Message: msg}, "")
		return c.sendRoster(ctx, fanout.ToGroup(room), sess)
	}
	return nil
}

// Move records a move by the side to move and relays it to the rest of the room.
func (c *Coordinator) Move(ctx context.Context, p *domain.Peer, req gamedto.MoveRequest) error {
	if !p.Joined() {
		return apperr.Unauthorized(c.text(msgcat.ErrJoinFirst, nil, "Join a game first."))
	}
	fen, player, move := strings.TrimSpace(req.FEN), strings.TrimSpace(req.Player), strings.TrimSpace(req.Move)
	if fen == "" || player == "" || move == "" || req.ThinkingTime == nil || *req.ThinkingTime < 0 {
		return apperr.Validation(c.text(msgcat.ErrMoveInvalid, nil, "Invalid move data received."))
	}
	if !p.Seated() {
		return apperr.Unauthorized(c.text(msgcat.ErrNotSeated, nil, "Only seated players can do that."))
	}
	thinking := *req.ThinkingTime

	now := c.now()
	sess, err := c.mutate(ctx, p.SessionID, func(s *domain.Session) (bool, error) {
		if s.Status.Terminal() {
			return false, apperr.Validation(c.text(msgcat.ErrGameOver, map[string]any{"ID": s.ID}, "Game is already over."))
		}
		if s.Status != domain.StatusActive {
			return false, apperr.Validation(c.text(msgcat.ErrNotStarted, map[string]any{"ID": s.ID}, "Game has not started yet."))
		}
		side, ok := s.SideOf(p.User.ID)
		if !ok {
			return false, apperr.Unauthorized(c.text(msgcat.ErrNotSeated, nil, "Only seated players can do that."))
		}
		if side != s.Turn {
			return false, apperr.Validation(c.text(msgcat.ErrNotYourTurn, nil, "It is not your turn."))
		}
		s.ApplyMove(fen, move, thinking, now)
		return true, nil
	}, c.store.UpdateSession)
	if err != nil {
		return err
	}

	obslog.L().Info("game_move",
		zap.String("game_id", sess.ID),
		zap.Int64("user_id", p.User.ID),
		zap.String("move", move),
		zap.Int("thinking_time", thinking),
		zap.Int("ply", len(sess.Moves)),
	)
	c.send(ctx, fanout.ToGroup(RoomGroup(sess.ID)), gamedto.MoveEvent{
		Type:               gamedto.GameMove,
		UserID:             p.User.ID,
		Timestamp:          gamedto.Timestamp(now),
		FEN:                fen,
		Move:               move,
		Player:             player,
		RedTimeRemaining:   sess.RedTimeRemaining,
		BlackTimeRemaining: sess.BlackTimeRemaining,
		ServerTime:         gamedto.ServerTime(now),
	}, p.ConnID)
	return nil
}

// Chat stores a room message and relays it to everyone else in the room.
func (c *Coordinator) Chat(ctx context.Context, p *domain.Peer, req gamedto.ChatRequest) error {
	if !p.Joined() {
		return apperr.Unauthorized(c.text(msgcat.ErrJoinFirst, nil, "Join a game first."))
	}
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return apperr.Validation(c.text(msgcat.ErrChatEmpty, nil, "No message provided."))
	}
	room := RoomGroup(p.SessionID)
	saved, err := c.chat.Append(ctx, &domain.ChatMessage{
		Room:     room,
		SenderID: p.User.ID,
		Sender:   p.User.Username,
		Content:  text,
	})
	if err != nil {
		return apperr.Internal(err, "append game chat")
	}
	c.send(ctx, fanout.ToGroup(room), gamedto.GameChatEvent{
		Type:      gamedto.GameChat,
		Username:  p.User.Username,
		Message:   saved.Content,
		Timestamp: gamedto.Timestamp(saved.Timestamp),
	}, p.ConnID)
	return nil
}

// End terminates the session with losing_player as the loser and the opposite seat as
// the winner, updating both players' stats together with the session.
func (c *Coordinator) End(ctx context.Context, p *domain.Peer, req gamedto.EndRequest) error {
	if !p.Joined() {
		return apperr.Unauthorized(c.text(msgcat.ErrJoinFirst, nil, "Join a game first."))
	}
	loserName := strings.TrimSpace(req.LosingPlayer)
	if loserName == "" {
		return apperr.Validation(c.text(msgcat.ErrEndNoLoser, nil, "Invalid data: No losing username provided."))
	}
	if !p.Seated() {
		return apperr.Unauthorized(c.text(msgcat.ErrNotSeated, nil, "Only seated players can do that."))
	}

	loser, err := c.playerNamed(ctx, loserName, msgcat.ErrLoserNotFound, "Losing player not found.")
	if err != nil {
		return err
	}

	var winner *domain.PlayerStats
	sess, err := c.mutate(ctx, p.SessionID, func(s *domain.Session) (bool, error) {
		if s.Status.Terminal() {
			return false, apperr.Validation(c.text(msgcat.ErrGameOver, map[string]any{"ID": s.ID}, "Game is already over."))
		}
		if _, ok := s.SideOf(p.User.ID); !ok {
			return false, apperr.Unauthorized(c.text(msgcat.ErrNotSeated, nil, "Only seated players can do that."))
		}
		side, ok := s.SideOf(loser.UserID)
		if !ok {
			return false, apperr.NotFound(c.text(msgcat.ErrWinnerNotFound, nil, "Winning player not found."))
		}
		w := s.SeatAt(side.Opponent())
		if w == nil {
			return false, apperr.NotFound(c.text(msgcat.ErrWinnerNotFound, nil, "Winning player not found."))
		}
		var err error
		if winner, err = c.playerNamed(ctx, w.Username, msgcat.ErrWinnerNotFound, "Winning player not found."); err != nil {
			return false, err
		}
		s.Status = domain.StatusCompleted
		s.UpdatedAt = c.now()
		return true, nil
	}, func(ctx context.Context, s *domain.Session) (*domain.Session, error) {
		return c.store.FinishSession(ctx, s, domain.Result{WinnerID: winner.UserID, LoserID: loser.UserID, Delta: c.cfg.RatingDelta})
	})
	if err != nil {
		return err
	}

	obslog.L().Info("game_end",
		zap.String("game_id", sess.ID),
		zap.String("winner", winner.Username),
		zap.String("loser", loser.Username),
		zap.Float64("delta", c.cfg.RatingDelta),
	)
	c.send(ctx, fanout.ToGroup(RoomGroup(sess.ID)), gamedto.MessageEvent{Type: gamedto.GameEndSuccess, Message: winner.Username}, "")
	return nil
}

// Get sends the caller a snapshot of the session. Without an id it uses the joined one.
func (c *Coordinator) Get(ctx context.Context, p *domain.Peer, req gamedto.GetRequest) error {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = p.SessionID
	}
	if id == "" {
		return apperr.Validation(c.text(msgcat.ErrGameIDRequired, nil, "Game ID is required."))
	}
	sess, err := c.load(ctx, id)
	if err != nil {
		return err
	}
	c.send(ctx, fanout.ToConn(p.ConnID), gamedto.GetSuccessEvent{Type: gamedto.GameGetSuccess, Data: gamedto.NewSessionSnapshot(sess)}, "")
	return nil
}

// ChatHistory sends the caller one page of the room chat, oldest first.
func (c *Coordinator) ChatHistory(ctx context.Context, p *domain.Peer, req gamedto.HistoryRequest) error {
	if !p.Joined() {
		return apperr.Unauthorized(c.text(msgcat.ErrJoinFirst, nil, "Join a game first."))
	}
	size := req.PageSize
	if size <= 0 || size > c.cfg.ChatPageSize {
		size = c.cfg.ChatPageSize
	}
	page, err := c.chat.Page(ctx, RoomGroup(p.SessionID), req.BeforeID, size)
	if err != nil {
		return apperr.Internal(err, "game chat page")
	}
	c.send(ctx, fanout.ToConn(p.ConnID), gamedto.HistoryEvent{Type: gamedto.GameChatHistory, Data: gamedto.NewChatEntries(page)}, "")
	return nil
}

// Create starts a new waiting session with the given clock.
func (c *Coordinator) Create(ctx context.Context, id string, clockSec int) (*domain.Session, error) {
	sess, err := c.store.CreateSession(ctx, domain.NewSession(id, clockSec, c.now()))
	if err != nil {
		return nil, apperr.Internal(err, "create session")
	}
	obslog.L().Info("game_create", zap.String("game_id", sess.ID), zap.Int("clock_sec", clockSec))
	return sess, nil
}

func (c *Coordinator) load(ctx context.Context, id string) (*domain.Session, error) {
	sess, err := c.store.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound(c.text(msgcat.ErrGameNotFound, map[string]any{"ID": id}, "Game ID "+id+" not found."))
	}
	if err != nil {
		return nil, apperr.Internal(err, "load session")
	}
	return sess, nil
}

// playerNamed resolves a username to its player record; a missing one is NotFound with the given text.
func (c *Coordinator) playerNamed(ctx context.Context, username, key, fallback string) (*domain.PlayerStats, error) {
	stats, err := c.store.GetPlayerByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound(c.text(key, nil, fallback))
	}
	if err != nil {
		return nil, apperr.Internal(err, "load player")
	}
	return stats, nil
}

// send delivers best effort; a failed fanout never undoes a persisted change.
func (c *Coordinator) send(ctx context.Context, target fanout.Target, payload any, exclude string) {
	if err := c.hub.Send(ctx, target, payload, exclude); err != nil {
		obslog.L().Warn("game_send_error", zap.String("target", target.String()), zap.Error(err))
	}
}

func (c *Coordinator) text(key string, data any, fallback string) string {
	return c.cat.Text(key, data, fallback)
}
