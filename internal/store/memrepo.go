package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/park285/xiangqi-live/internal/domain"
)

// memrepo is a development-only in-memory store used when no DB is configured.
type memrepo struct {
	mu sync.RWMutex

	nextChatID int64

	sessions map[string]*domain.Session
	users    map[int64]*domain.User
	players  map[int64]*domain.PlayerStats
	chat     map[string][]*domain.ChatMessage // room -> ascending by id
	now      func() time.Time
}

// Memory is the in-memory Store. SeedUser makes accounts known to it.
type Memory interface {
	Store
	SeedUser(u domain.User)
}

func NewMemoryStore() Memory {
	return &memrepo{
		sessions: make(map[string]*domain.Session),
		users:    make(map[int64]*domain.User),
		players:  make(map[int64]*domain.PlayerStats),
		chat:     make(map[string][]*domain.ChatMessage),
		now:      time.Now,
	}
}

func (m *memrepo) Close() error { return nil }

func (m *memrepo) SeedUser(u domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := u
	m.users[u.ID] = &cp
}

func (m *memrepo) CreateSession(ctx context.Context, s *domain.Session) (*domain.Session, error) {
	if s == nil || strings.TrimSpace(s.ID) == "" {
		return nil, ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := s.Clone()
	cp.Version = 1
	m.sessions[cp.ID] = cp
	return cp.Clone(), nil
}

func (m *memrepo) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *memrepo) UpdateSession(ctx context.Context, s *domain.Session) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.casLocked(s)
}

func (m *memrepo) FinishSession(ctx context.Context, s *domain.Session, res domain.Result) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	winner, ok := m.players[res.WinnerID]
	if !ok {
		return nil, ErrNotFound
	}
	loser, ok := m.players[res.LoserID]
	if !ok {
		return nil, ErrNotFound
	}
	out, err := m.casLocked(s)
	if err != nil {
		return nil, err
	}
	now := m.now()
	winner.GamesPlayed++
	winner.GamesWon++
	winner.Rating += res.Delta
	winner.UpdatedAt = now
	loser.GamesPlayed++
	loser.GamesLost++
	loser.Rating -= res.Delta
	loser.UpdatedAt = now
	return out, nil
}

func (m *memrepo) casLocked(s *domain.Session) (*domain.Session, error) {
	cur, ok := m.sessions[s.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if cur.Version != s.Version {
		return nil, ErrVersionConflict
	}
	cp := s.Clone()
	cp.Version = cur.Version + 1
	m.sessions[cp.ID] = cp
	return cp.Clone(), nil
}

func (m *memrepo) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memrepo) GetOrCreatePlayer(ctx context.Context, u *domain.User) (*domain.PlayerStats, error) {
	if u == nil {
		return nil, ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[u.ID]
	if !ok {
		rating := u.SkillRating
		if rating <= 0 {
			rating = domain.DefaultRating
		}
		p = &domain.PlayerStats{UserID: u.ID, Username: u.Username, Rating: rating, UpdatedAt: m.now()}
		m.players[u.ID] = p
	}
	cp := *p
	return &cp, nil
}

func (m *memrepo) GetPlayer(ctx context.Context, userID int64) (*domain.PlayerStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.players[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memrepo) GetPlayerByUsername(ctx context.Context, username string) (*domain.PlayerStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.players {
		if p.Username == username {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memrepo) AppendChat(ctx context.Context, msg *domain.ChatMessage) (*domain.ChatMessage, error) {
	if msg == nil {
		return nil, ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextChatID++
	cp := *msg
	cp.ID = m.nextChatID
	if cp.Timestamp.IsZero() {
		cp.Timestamp = m.now()
	}
	m.chat[cp.Room] = append(m.chat[cp.Room], &cp)
	out := cp
	return &out, nil
}

func (m *memrepo) ChatPage(ctx context.Context, room string, beforeID int64, limit int) ([]*domain.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.chat[room]
	// first index with id >= beforeID; everything before it qualifies
	end := len(list)
	if beforeID > 0 {
		end = sort.Search(len(list), func(i int) bool { return list[i].ID >= beforeID })
	}
	out := make([]*domain.ChatMessage, 0, limit)
	for i := end - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		cp := *list[i]
		out = append(out, &cp)
	}
	return out, nil
}
