package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/xiangqi-live/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

type repository struct {
	db *sql.DB
}

// NewRepository opens the Postgres-backed Store.
func NewRepository(databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &repository{db: db}, nil
}

// EnsureSchema applies the bundled schema. Statements are idempotent.
func EnsureSchema(ctx context.Context, s Store) error {
	r, ok := s.(*repository)
	if !ok {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (r *repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

const sessionColumns = `id, fen, initial_fen, moves, turn, status,
	red_time_remaining, black_time_remaining,
	red_user_id, red_username, black_user_id, black_username,
	viewers, version, started_at, updated_at`

func (r *repository) CreateSession(ctx context.Context, s *domain.Session) (*domain.Session, error) {
	if s == nil {
		return nil, fmt.Errorf("nil session payload")
	}
	args, err := sessionArgs(s)
	if err != nil {
		return nil, err
	}
	const q = `INSERT INTO games (` + sessionColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,1,$14,$15)`
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return nil, fmt.Errorf("insert game: %w", err)
	}
	out := s.Clone()
	out.Version = 1
	return out, nil
}

func (r *repository) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM games WHERE id = $1`, id)
	return scanSession(row)
}

func (r *repository) UpdateSession(ctx context.Context, s *domain.Session) (*domain.Session, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	out, err := updateSessionTx(ctx, tx, s)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit session: %w", err)
	}
	return out, nil
}

func (r *repository) FinishSession(ctx context.Context, s *domain.Session, res domain.Result) (*domain.Session, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	out, err := updateSessionTx(ctx, tx, s)
	if err != nil {
		return nil, err
	}
	const win = `UPDATE players SET games_played = games_played + 1, games_won = games_won + 1,
		rating = rating + $2, updated_at = NOW() WHERE user_id = $1`
	const lose = `UPDATE players SET games_played = games_played + 1, games_lost = games_lost + 1,
		rating = rating - $2, updated_at = NOW() WHERE user_id = $1`
	if err := execOne(ctx, tx, win, res.WinnerID, res.Delta); err != nil {
		return nil, fmt.Errorf("update winner: %w", err)
	}
	if err := execOne(ctx, tx, lose, res.LoserID, res.Delta); err != nil {
		return nil, fmt.Errorf("update loser: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit finish: %w", err)
	}
	return out, nil
}

func updateSessionTx(ctx context.Context, tx *sql.Tx, s *domain.Session) (*domain.Session, error) {
	args, err := sessionArgs(s)
	if err != nil {
		return nil, err
	}
	args = append(args, s.Version)
	const q = `UPDATE games SET
		fen = $2, initial_fen = $3, moves = $4, turn = $5, status = $6,
		red_time_remaining = $7, black_time_remaining = $8,
		red_user_id = $9, red_username = $10, black_user_id = $11, black_username = $12,
		viewers = $13, started_at = $14, updated_at = $15, version = version + 1
		WHERE id = $1 AND version = $16`
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("update game: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM games WHERE id = $1)`, s.ID).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, ErrNotFound
		}
		return nil, ErrVersionConflict
	}
	out := s.Clone()
	out.Version = s.Version + 1
	return out, nil
}

func execOne(ctx context.Context, tx *sql.Tx, q string, args ...any) error {
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func sessionArgs(s *domain.Session) ([]any, error) {
	moves, err := json.Marshal(s.Moves)
	if err != nil {
		return nil, fmt.Errorf("marshal moves: %w", err)
	}
	viewers, err := json.Marshal(s.Viewers)
	if err != nil {
		return nil, fmt.Errorf("marshal viewers: %w", err)
	}
	var redID, blackID sql.NullInt64
	var redName, blackName sql.NullString
	if s.Red != nil {
		redID = sql.NullInt64{Int64: s.Red.UserID, Valid: true}
		redName = sql.NullString{String: s.Red.Username, Valid: true}
	}
	if s.Black != nil {
		blackID = sql.NullInt64{Int64: s.Black.UserID, Valid: true}
		blackName = sql.NullString{String: s.Black.Username, Valid: true}
	}
	return []any{
		s.ID, s.FEN, s.InitialFEN, string(moves), string(s.Turn), string(s.Status),
		s.RedTimeRemaining, s.BlackTimeRemaining,
		redID, redName, blackID, blackName,
		string(viewers), s.StartedAt, s.UpdatedAt,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		s                  domain.Session
		moves, viewers     []byte
		turn, status       string
		redID, blackID     sql.NullInt64
		redName, blackName sql.NullString
	)
	err := row.Scan(&s.ID, &s.FEN, &s.InitialFEN, &moves, &turn, &status,
		&s.RedTimeRemaining, &s.BlackTimeRemaining,
		&redID, &redName, &blackID, &blackName,
		&viewers, &s.Version, &s.StartedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.Turn = domain.Side(turn)
	s.Status = domain.Status(status)
	if err := json.Unmarshal(moves, &s.Moves); err != nil {
		return nil, fmt.Errorf("decode moves: %w", err)
	}
	if err := json.Unmarshal(viewers, &s.Viewers); err != nil {
		return nil, fmt.Errorf("decode viewers: %w", err)
	}
	if s.Moves == nil {
		s.Moves = []domain.Move{}
	}
	if s.Viewers == nil {
		s.Viewers = []int64{}
	}
	if redID.Valid {
		s.Red = &domain.Seat{UserID: redID.Int64, Username: redName.String}
	}
	if blackID.Valid {
		s.Black = &domain.Seat{UserID: blackID.Int64, Username: blackName.String}
	}
	return &s, nil
}

func (r *repository) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	const q = `SELECT id, username, is_active, country, profile_picture, skill_rating FROM users WHERE id = $1`
	var u domain.User
	err := r.db.QueryRowContext(ctx, q, id).Scan(&u.ID, &u.Username, &u.Active, &u.Country, &u.ProfilePicture, &u.SkillRating)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *repository) GetOrCreatePlayer(ctx context.Context, u *domain.User) (*domain.PlayerStats, error) {
	if u == nil {
		return nil, ErrNotFound
	}
	rating := u.SkillRating
	if rating <= 0 {
		rating = domain.DefaultRating
	}
	const q = `INSERT INTO players (user_id, username, rating) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, q, u.ID, u.Username, rating); err != nil {
		return nil, fmt.Errorf("upsert player: %w", err)
	}
	return r.GetPlayer(ctx, u.ID)
}

const playerColumns = `user_id, username, games_played, games_won, games_lost, games_drawn, rating, updated_at`

func (r *repository) GetPlayer(ctx context.Context, userID int64) (*domain.PlayerStats, error) {
	return scanPlayer(r.db.QueryRowContext(ctx, `SELECT `+playerColumns+` FROM players WHERE user_id = $1`, userID))
}

func (r *repository) GetPlayerByUsername(ctx context.Context, username string) (*domain.PlayerStats, error) {
	return scanPlayer(r.db.QueryRowContext(ctx, `SELECT `+playerColumns+` FROM players WHERE username = $1 LIMIT 1`, username))
}

func scanPlayer(row rowScanner) (*domain.PlayerStats, error) {
	var p domain.PlayerStats
	err := row.Scan(&p.UserID, &p.Username, &p.GamesPlayed, &p.GamesWon, &p.GamesLost, &p.GamesDrawn, &p.Rating, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repository) AppendChat(ctx context.Context, msg *domain.ChatMessage) (*domain.ChatMessage, error) {
	if msg == nil {
		return nil, fmt.Errorf("nil chat payload")
	}
	const q = `INSERT INTO chat_messages (room, sender_id, sender_name, content)
		VALUES ($1, $2, $3, $4) RETURNING id, created_at`
	out := *msg
	if err := r.db.QueryRowContext(ctx, q, msg.Room, msg.SenderID, msg.Sender, msg.Content).Scan(&out.ID, &out.Timestamp); err != nil {
		return nil, fmt.Errorf("insert chat: %w", err)
	}
	return &out, nil
}

func (r *repository) ChatPage(ctx context.Context, room string, beforeID int64, limit int) ([]*domain.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, room, sender_id, sender_name, content, created_at FROM chat_messages WHERE room = $1`
	args := []any{room}
	if beforeID > 0 {
		q += ` AND id < $2 ORDER BY id DESC LIMIT $3`
		args = append(args, beforeID, limit)
	} else {
		q += ` ORDER BY id DESC LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query chat: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.ChatMessage, 0, limit)
	for rows.Next() {
		var m domain.ChatMessage
		if err := rows.Scan(&m.ID, &m.Room, &m.SenderID, &m.Sender, &m.Content, &m.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
