package domain

import "time"

// DefaultRating is used when a user has no skill rating on their profile.
const DefaultRating = 600.0

// User is an account as the gateway sees it.
type User struct {
	ID             int64
	Username       string
	Active         bool
	Country        string
	ProfilePicture string
	SkillRating    float64
}

// PlayerStats is the per-user game record. It changes only when a session terminates.
type PlayerStats struct {
	UserID      int64
	Username    string
	GamesPlayed int
	GamesWon    int
	GamesLost   int
	GamesDrawn  int
	Rating      float64
	UpdatedAt   time.Time
}

// Result describes a finished game for the stats update.
type Result struct {
	WinnerID int64
	LoserID  int64
	Delta    float64
}

// ChatMessage is one persisted line of chat. IDs grow monotonically.
type ChatMessage struct {
	ID        int64     `json:"id"`
	Room      string    `json:"room"`
	SenderID  int64     `json:"sender_id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
