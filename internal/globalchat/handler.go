// Package globalchat is the lobby-wide chat: presence, profile cache and messages.
package globalchat

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/xiangqi-live/internal/apperr"
	"github.com/park285/xiangqi-live/internal/chatcache"
	"github.com/park285/xiangqi-live/internal/domain"
	"github.com/park285/xiangqi-live/internal/fanout"
	"github.com/park285/xiangqi-live/internal/game"
	"github.com/park285/xiangqi-live/internal/msgcat"
	"github.com/park285/xiangqi-live/internal/obslog"
	"github.com/park285/xiangqi-live/pkg/gamedto"
)

const (
	PresenceKey = "connected_chat_users"
	Group       = "global_chat"
)

func profileKey(userID int64) string { return "user_profile:" + strconv.FormatInt(userID, 10) }

type Config struct {
	Room       string
	ProfileTTL time.Duration
	PageSize   int
}

type Handler struct {
	rdb  *redis.Client
	chat *chatcache.Cache
	hub  game.Broadcaster
	cat  *msgcat.Catalog
	cfg  Config
}

func NewHandler(rdb *redis.Client, chat *chatcache.Cache, hub game.Broadcaster, cat *msgcat.Catalog, cfg Config) *Handler {
	if strings.TrimSpace(cfg.Room) == "" {
		cfg.Room = "global"
	}
	if cfg.ProfileTTL <= 0 {
		cfg.ProfileTTL = 180 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = chatcache.DefaultPageSize
	}
	return &Handler{rdb: rdb, chat: chat, hub: hub, cat: cat, cfg: cfg}
}

// Join caches the caller's profile, marks them online and announces them to the chat.
func (h *Handler) Join(ctx context.Context, p *domain.Peer) error {
	profile, err := h.profile(ctx, &p.User)
	if err != nil {
		return apperr.Internal(err, "cache chat profile")
	}
	if err := h.hub.Join(ctx, Group, p.ConnID); err != nil {
		return apperr.Internal(err, "join chat group")
	}
	p.InChat = true
	obslog.L().Info("chat_join", zap.Int64("user_id", p.User.ID), zap.String("conn_id", p.ConnID))
	h.send(ctx, fanout.ToGroup(Group), gamedto.ProfileEvent{Type: gamedto.ChatUserProfile, Message: profile}, "")
	return nil
}

// profile reads the cached profile or stores a fresh one, refreshing the TTL either way.
func (h *Handler) profile(ctx context.Context, u *domain.User) (map[string]string, error) {
	key := profileKey(u.ID)
	cached, err := h.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	profile := cached
	if len(profile) == 0 {
		profile = map[string]string{
			"id":              strconv.FormatInt(u.ID, 10),
			"username":        u.Username,
			"country":         u.Country,
			"profile_picture": u.ProfilePicture,
		}
	}
	pipe := h.rdb.TxPipeline()
	if len(cached) == 0 {
		fields := make(map[string]any, len(profile))
		for k, v := range profile {
			fields[k] = v
		}
		pipe.HSet(ctx, key, fields)
	}
	pipe.Expire(ctx, key, h.cfg.ProfileTTL)
	pipe.SAdd(ctx, PresenceKey, u.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return profile, nil
}

// Message stores a lobby message and relays it to everyone else in the chat.
func (h *Handler) Message(ctx context.Context, p *domain.Peer, req gamedto.ChatRequest) error {
	if !p.InChat {
		return apperr.Unauthorized(h.cat.Text(msgcat.ErrChatJoinFirst, nil, "Join the chat first."))
	}
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return apperr.Validation(h.cat.Text(msgcat.ErrChatEmpty, nil, "No message provided."))
	}
	saved, err := h.chat.Append(ctx, &domain.ChatMessage{
		Room:     h.cfg.Room,
		SenderID: p.User.ID,
		Sender:   p.User.Username,
		Content:  text,
	})
	if err != nil {
		return apperr.Internal(err, "append lobby chat")
	}
	h.send(ctx, fanout.ToGroup(Group), gamedto.ChatMessageEvent{
		Type:      gamedto.ChatMessage,
		UserID:    p.User.ID,
		Message:   saved.Content,
		Timestamp: gamedto.Timestamp(saved.Timestamp),
	}, p.ConnID)
	return nil
}

// Leave marks the caller offline and stops chat delivery to the connection.
func (h *Handler) Leave(ctx context.Context, p *domain.Peer) error {
	if !p.InChat {
		return nil
	}
	if err := h.rdb.SRem(ctx, PresenceKey, p.User.ID).Err(); err != nil {
		return apperr.Internal(err, "drop chat presence")
	}
	if err := h.hub.Leave(ctx, Group, p.ConnID); err != nil {
		return apperr.Internal(err, "leave chat group")
	}
	p.InChat = false
	obslog.L().Info("chat_leave", zap.Int64("user_id", p.User.ID), zap.String("conn_id", p.ConnID))
	return nil
}

// History sends the caller one page of lobby chat, oldest first.
func (h *Handler) History(ctx context.Context, p *domain.Peer, req gamedto.HistoryRequest) error {
	size := req.PageSize
	if size <= 0 || size > h.cfg.PageSize {
		size = h.cfg.PageSize
	}
	page, err := h.chat.Page(ctx, h.cfg.Room, req.BeforeID, size)
	if err != nil {
		return apperr.Internal(err, "lobby chat page")
	}
	h.send(ctx, fanout.ToConn(p.ConnID), gamedto.HistoryEvent{Type: gamedto.ChatHistory, Data: gamedto.NewChatEntries(page)}, "")
	return nil
}

// Disconnect drops presence for a connection that went away without chat.leave.
// Group membership is released by the hub.
func (h *Handler) Disconnect(ctx context.Context, p *domain.Peer) {
	if !p.InChat {
		return
	}
	if err := h.rdb.SRem(ctx, PresenceKey, p.User.ID).Err(); err != nil {
		obslog.L().Warn("chat_presence_error", zap.Int64("user_id", p.User.ID), zap.Error(err))
	}
	p.InChat = false
}

func (h *Handler) send(ctx context.Context, target fanout.Target, payload any, exclude string) {
	if err := h.hub.Send(ctx, target, payload, exclude); err != nil {
		obslog.L().Warn("chat_send_error", zap.String("target", target.String()), zap.Error(err))
	}
}
