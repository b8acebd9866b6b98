// Package store is the durable data access layer: sessions, users, player stats and chat.
package store

import (
	"context"

	"github.com/park285/xiangqi-live/internal/domain"
)

type staticErr string

func (e staticErr) Error() string { return string(e) }

const (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = staticErr("store: not found")
	// ErrVersionConflict is returned when a session changed since it was read.
	ErrVersionConflict = staticErr("store: version conflict")
)

type SessionStore interface {
	CreateSession(ctx context.Context, s *domain.Session) (*domain.Session, error)
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	// UpdateSession writes s if the stored version still equals s.Version and returns the
	// stored copy with the version bumped.
	UpdateSession(ctx context.Context, s *domain.Session) (*domain.Session, error)
	// FinishSession is UpdateSession plus the stats update for res, applied atomically.
	FinishSession(ctx context.Context, s *domain.Session, res domain.Result) (*domain.Session, error)
}

type UserStore interface {
	GetUser(ctx context.Context, id int64) (*domain.User, error)
}

type PlayerStore interface {
	GetOrCreatePlayer(ctx context.Context, u *domain.User) (*domain.PlayerStats, error)
	GetPlayer(ctx context.Context, userID int64) (*domain.PlayerStats, error)
	GetPlayerByUsername(ctx context.Context, username string) (*domain.PlayerStats, error)
}

type ChatStore interface {
	// AppendChat assigns the id and timestamp of msg.
	AppendChat(ctx context.Context, msg *domain.ChatMessage) (*domain.ChatMessage, error)
	// ChatPage returns up to limit messages of room with id < beforeID (or the newest when
	// beforeID <= 0), newest first.
	ChatPage(ctx context.Context, room string, beforeID int64, limit int) ([]*domain.ChatMessage, error)
}

// Store is everything the server persists.
type Store interface {
	SessionStore
	UserStore
	PlayerStore
	ChatStore
	Close() error
}
