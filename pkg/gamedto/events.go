package gamedto

import (
	"time"

	"github.com/park285/xiangqi-live/internal/domain"
)

type ErrorEvent struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
}

func NewError(msg string) ErrorEvent { return ErrorEvent{Type: Error, Message: msg} }

type MessageEvent struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
}

// UsersListEvent carries [red, black]; an empty seat is null. No seats gives an empty list.
type UsersListEvent struct {
	Type EventType        `json:"type"`
	Data []*PlayerDetails `json:"data"`
}

type ViewerJoinedEvent struct {
	Type EventType      `json:"type"`
	Data *PlayerDetails `json:"data"`
}

type MoveEvent struct {
	Type               EventType `json:"type"`
	UserID             int64     `json:"user_id"`
	Timestamp          string    `json:"timestamp"`
	FEN                string    `json:"fen"`
	Move               string    `json:"move"`
	Player             string    `json:"player"`
	RedTimeRemaining   int       `json:"red_time_remaining"`
	BlackTimeRemaining int       `json:"black_time_remaining"`
	ServerTime         float64   `json:"server_time"`
}

type GameChatEvent struct {
	Type      EventType `json:"type"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp string    `json:"timestamp"`
}

type ChatMessageEvent struct {
	Type      EventType `json:"type"`
	UserID    int64     `json:"user_id"`
	Message   string    `json:"message"`
	Timestamp string    `json:"timestamp"`
}

type ProfileEvent struct {
	Type    EventType         `json:"type"`
	Message map[string]string `json:"message"`
}

type GetSuccessEvent struct {
	Type EventType        `json:"type"`
	Data *SessionSnapshot `json:"data"`
}

type HistoryEvent struct {
	Type EventType    `json:"type"`
	Data []*ChatEntry `json:"data"`
}

// PlayerDetails is one roster entry.
type PlayerDetails struct {
	ID             int64   `json:"id"`
	Username       string  `json:"username"`
	Country        string  `json:"country"`
	ProfilePicture string  `json:"profile_picture"`
	Rating         float64 `json:"rating"`
}

func NewPlayerDetails(u *domain.User, stats *domain.PlayerStats) *PlayerDetails {
	if u == nil {
		return nil
	}
	d := &PlayerDetails{
		ID:             u.ID,
		Username:       u.Username,
		Country:        u.Country,
		ProfilePicture: u.ProfilePicture,
		Rating:         u.SkillRating,
	}
	if stats != nil {
		d.Rating = stats.Rating
	}
	if d.Rating <= 0 {
		d.Rating = domain.DefaultRating
	}
	return d
}

// SessionSnapshot is the client view of a session.
type SessionSnapshot struct {
	GameID             string   `json:"game_id"`
	RedPlayer          *string  `json:"red_player"`
	BlackPlayer        *string  `json:"black_player"`
	FEN                string   `json:"fen"`
	InitialFEN         string   `json:"initial_fen"`
	Moves              []string `json:"moves"`
	Turn               string   `json:"turn"`
	Status             string   `json:"status"`
	RedTimeRemaining   int      `json:"red_time_remaining"`
	BlackTimeRemaining int      `json:"black_time_remaining"`
	ViewerCount        int      `json:"viewer_count"`
	StartedAt          string   `json:"started_at"`
	LastUpdated        string   `json:"last_updated"`
}

func NewSessionSnapshot(s *domain.Session) *SessionSnapshot {
	if s == nil {
		return nil
	}
	snap := &SessionSnapshot{
		GameID:             s.ID,
		FEN:                s.FEN,
		InitialFEN:         s.InitialFEN,
		Moves:              make([]string, 0, len(s.Moves)),
		Turn:               string(s.Turn),
		Status:             s.Status.Public(),
		RedTimeRemaining:   s.RedTimeRemaining,
		BlackTimeRemaining: s.BlackTimeRemaining,
		ViewerCount:        len(s.Viewers),
		StartedAt:          Timestamp(s.StartedAt),
		LastUpdated:        Timestamp(s.UpdatedAt),
	}
	for _, m := range s.Moves {
		snap.Moves = append(snap.Moves, m.Notation)
	}
	if s.Red != nil {
		name := s.Red.Username
		snap.RedPlayer = &name
	}
	if s.Black != nil {
		name := s.Black.Username
		snap.BlackPlayer = &name
	}
	return snap
}

// ChatEntry is one line of a history page.
type ChatEntry struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func NewChatEntries(msgs []*domain.ChatMessage) []*ChatEntry {
	out := make([]*ChatEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, &ChatEntry{
			ID:        m.ID,
			UserID:    m.SenderID,
			Username:  m.Sender,
			Message:   m.Content,
			Timestamp: Timestamp(m.Timestamp),
		})
	}
	return out
}

// Timestamp formats t the way every outbound event does.
func Timestamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

// ServerTime is t as fractional unix seconds.
func ServerTime(t time.Time) float64 { return float64(t.UnixNano()) / 1e9 }
