package domain

import (
	"slices"
	"time"
)

// DefaultFEN is the xiangqi start position with red to move.
const DefaultFEN = "rnbakabnr/9/1c5c1/p1p1p1p1p/9/9/P1P1P1P1P/1C5C1/9/RNBAKABNR r"

// Side identifies a seat. Red moves first.
type Side string

const (
	Red   Side = "red"
	Black Side = "black"
)

// Opponent returns the other side.
func (s Side) Opponent() Side {
	if s == Red {
		return Black
	}
	return Red
}

// Status is the session lifecycle state.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusDraw      Status = "draw"
	StatusAbandoned Status = "abandoned"
)

// Terminal reports whether no further mutation is allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusDraw, StatusAbandoned:
		return true
	}
	return false
}

// Public is the status as reported to clients; waiting and active are both "ongoing".
func (s Status) Public() string {
	switch s {
	case StatusWaiting, StatusActive:
		return "ongoing"
	}
	return string(s)
}

// Seat is the occupant of one side.
type Seat struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// Move is one accepted move with the clock charge it carried.
type Move struct {
	Side         Side      `json:"side"`
	Notation     string    `json:"move"`
	ThinkingTime int       `json:"thinking_time"`
	At           time.Time `json:"at"`
}

// Session is the authoritative state of one game.
type Session struct {
	ID                 string    `json:"id"`
	FEN                string    `json:"fen"`
	InitialFEN         string    `json:"initial_fen"`
	Moves              []Move    `json:"moves"`
	Turn               Side      `json:"turn"`
	Status             Status    `json:"status"`
	RedTimeRemaining   int       `json:"red_time_remaining"`
	BlackTimeRemaining int       `json:"black_time_remaining"`
	Red                *Seat     `json:"red_player,omitempty"`
	Black              *Seat     `json:"black_player,omitempty"`
	Viewers            []int64   `json:"viewers"`
	Version            int64     `json:"version"`
	StartedAt          time.Time `json:"started_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// NewSession builds a waiting session at the start position with equal clocks.
func NewSession(id string, clockSec int, now time.Time) *Session {
	return &Session{
		ID:                 id,
		FEN:                DefaultFEN,
		InitialFEN:         DefaultFEN,
		Moves:              []Move{},
		Turn:               Red,
		Status:             StatusWaiting,
		RedTimeRemaining:   clockSec,
		BlackTimeRemaining: clockSec,
		Viewers:            []int64{},
		StartedAt:          now,
		UpdatedAt:          now,
	}
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Moves = slices.Clone(s.Moves)
	cp.Viewers = slices.Clone(s.Viewers)
	if s.Red != nil {
		r := *s.Red
		cp.Red = &r
	}
	if s.Black != nil {
		b := *s.Black
		cp.Black = &b
	}
	return &cp
}

// SeatAt returns the occupant of side, or nil.
func (s *Session) SeatAt(side Side) *Seat {
	if side == Red {
		return s.Red
	}
	return s.Black
}

// SideOf returns the side held by userID.
func (s *Session) SideOf(userID int64) (Side, bool) {
	if s.Red != nil && s.Red.UserID == userID {
		return Red, true
	}
	if s.Black != nil && s.Black.UserID == userID {
		return Black, true
	}
	return "", false
}

// SideOfUsername resolves a seat by the occupant's username.
func (s *Session) SideOfUsername(username string) (Side, bool) {
	if s.Red != nil && s.Red.Username == username {
		return Red, true
	}
	if s.Black != nil && s.Black.Username == username {
		return Black, true
	}
	return "", false
}

// Full reports whether both seats are taken.
func (s *Session) Full() bool { return s.Red != nil && s.Black != nil }

// RoleFor is the role a joining user would get: viewer iff both seats are occupied.
func (s *Session) RoleFor() Role {
	if s.Full() {
		return RoleViewer
	}
	return RolePlayer
}

// Seat places seat into the first free side, red before black. It never overwrites.
func (s *Session) Seat(seat Seat) (Side, bool) {
	switch {
	case s.Red == nil:
		s.Red = &seat
		return Red, true
	case s.Black == nil:
		s.Black = &seat
		return Black, true
	}
	return "", false
}

// AddViewer adds userID to the viewer set; false if already present.
func (s *Session) AddViewer(userID int64) bool {
	if slices.Contains(s.Viewers, userID) {
		return false
	}
	s.Viewers = append(s.Viewers, userID)
	slices.Sort(s.Viewers)
	return true
}

// ApplyMove records a move by the side to move: it stores the new board, charges the
// mover's clock and flips the turn.
func (s *Session) ApplyMove(fen, notation string, thinkingTime int, now time.Time) {
	mover := s.Turn
	s.FEN = fen
	s.Moves = append(s.Moves, Move{Side: mover, Notation: notation, ThinkingTime: thinkingTime, At: now})
	if mover == Red {
		s.RedTimeRemaining -= thinkingTime
	} else {
		s.BlackTimeRemaining -= thinkingTime
	}
	s.Turn = mover.Opponent()
	s.UpdatedAt = now
}

// Role is a connection's relationship to the session it joined.
type Role string

const (
	RoleUnassigned Role = ""
	RolePlayer     Role = "player"
	RoleViewer     Role = "viewer"
)
