// Package router decodes inbound frames and dispatches them by type. It is the outer
// error boundary: every failure becomes one error event for the calling connection.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/xiangqi-live/internal/apperr"
	"github.com/park285/xiangqi-live/internal/domain"
	"github.com/park285/xiangqi-live/internal/fanout"
	"github.com/park285/xiangqi-live/internal/msgcat"
	"github.com/park285/xiangqi-live/internal/obslog"
	"github.com/park285/xiangqi-live/pkg/gamedto"
)

type GameHandler interface {
	Join(ctx context.Context, p *domain.Peer, req gamedto.JoinRequest) error
	Move(ctx context.Context, p *domain.Peer, req gamedto.MoveRequest) error
	Chat(ctx context.Context, p *domain.Peer, req gamedto.ChatRequest) error
	End(ctx context.Context, p *domain.Peer, req gamedto.EndRequest) error
	Get(ctx context.Context, p *domain.Peer, req gamedto.GetRequest) error
	ChatHistory(ctx context.Context, p *domain.Peer, req gamedto.HistoryRequest) error
}

type ChatHandler interface {
	Join(ctx context.Context, p *domain.Peer) error
	Message(ctx context.Context, p *domain.Peer, req gamedto.ChatRequest) error
	Leave(ctx context.Context, p *domain.Peer) error
	History(ctx context.Context, p *domain.Peer, req gamedto.HistoryRequest) error
}

type Sender interface {
	Send(ctx context.Context, target fanout.Target, payload any, exclude string) error
}

// Frame is a decoded inbound frame. Payload fields sit next to "type" in Raw.
type Frame struct {
	Type gamedto.EventType
	Raw  json.RawMessage
}

type staticErr string

func (e staticErr) Error() string { return string(e) }

const errMalformed = staticErr("malformed frame")

// Parse reads the type tag of a frame.
func Parse(raw []byte) (Frame, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	return Frame{Type: gamedto.EventType(strings.TrimSpace(head.Type)), Raw: raw}, nil
}

type Router struct {
	game GameHandler
	chat ChatHandler
	out  Sender
	cat  *msgcat.Catalog
}

func New(game GameHandler, chat ChatHandler, out Sender, cat *msgcat.Catalog) *Router {
	return &Router{game: game, chat: chat, out: out, cat: cat}
}

// Dispatch runs the handler for one frame to completion and reports any failure to the
// caller only.
func (r *Router) Dispatch(ctx context.Context, p *domain.Peer, raw []byte) {
	var typ gamedto.EventType
	defer func() {
		if rec := recover(); rec != nil {
			r.fail(ctx, p, typ, apperr.Internal(fmt.Errorf("panic: %v", rec), "handler panic"))
		}
	}()

	frame, err := Parse(raw)
	if err != nil {
		r.fail(ctx, p, "", apperr.Validation(r.cat.Text(msgcat.ErrMalformed, nil, "Malformed event.")))
		return
	}
	typ = frame.Type
	if err := r.route(ctx, p, frame); err != nil {
		r.fail(ctx, p, typ, err)
	}
}

func (r *Router) route(ctx context.Context, p *domain.Peer, f Frame) error {
	switch f.Type {
	case gamedto.GameJoin:
		req, err := decode[gamedto.JoinRequest](r, f)
		if err != nil {
			return err
		}
		return r.game.Join(ctx, p, req)
	case gamedto.GameMove:
		var req gamedto.MoveRequest
		if err := json.Unmarshal(f.Raw, &req); err != nil {
			return apperr.Validation(r.cat.Text(msgcat.ErrMoveInvalid, nil, "Invalid move data received."))
		}
		return r.game.Move(ctx, p, req)
	case gamedto.GameChat:
		req, err := decode[gamedto.ChatRequest](r, f)
		if err != nil {
			return err
		}
		return r.game.Chat(ctx, p, req)
	case gamedto.GameEnd:
		req, err := decode[gamedto.EndRequest](r, f)
		if err != nil {
			return err
		}
		return r.game.End(ctx, p, req)
	case gamedto.GameGet:
		req, err := decode[gamedto.GetRequest](r, f)
		if err != nil {
			return err
		}
		return r.game.Get(ctx, p, req)
	case gamedto.GameChatHistory:
		req, err := decode[gamedto.HistoryRequest](r, f)
		if err != nil {
			return err
		}
		return r.game.ChatHistory(ctx, p, req)
	case gamedto.ChatJoin:
		return r.chat.Join(ctx, p)
	case gamedto.ChatMessage:
		req, err := decode[gamedto.ChatRequest](r, f)
		if err != nil {
			return err
		}
		return r.chat.Message(ctx, p, req)
	case gamedto.ChatLeave:
		return r.chat.Leave(ctx, p)
	case gamedto.ChatHistory:
		req, err := decode[gamedto.HistoryRequest](r, f)
		if err != nil {
			return err
		}
		return r.chat.History(ctx, p, req)
	default:
		return apperr.Validation(r.cat.Text(msgcat.ErrUnsupported, map[string]any{"Type": string(f.Type)}, "Unsupported event: "+string(f.Type)))
	}
}

func decode[T any](r *Router, f Frame) (T, error) {
	var req T
	if err := json.Unmarshal(f.Raw, &req); err != nil {
		return req, apperr.Validation(r.cat.Text(msgcat.ErrInvalidPayload, map[string]any{"Type": string(f.Type)}, "Invalid data."))
	}
	return req, nil
}

func (r *Router) fail(ctx context.Context, p *domain.Peer, typ gamedto.EventType, err error) {
	msg, public := apperr.Public(err)
	if public {
		obslog.L().Info("event_rejected",
			zap.String("conn_id", p.ConnID),
			zap.String("type", string(typ)),
			zap.String("kind", string(apperr.KindOf(err))),
			zap.String("message", msg),
		)
	} else {
		obslog.L().Error("event_failed",
			zap.String("conn_id", p.ConnID),
			zap.Int64("user_id", p.User.ID),
			zap.String("type", string(typ)),
			zap.Error(err),
		)
		msg = r.cat.Text(msgcat.ErrGeneric, nil, "An unexpected error occurred.")
	}
	if serr := r.out.Send(ctx, fanout.ToConn(p.ConnID), gamedto.NewError(msg), ""); serr != nil {
		obslog.L().Warn("error_send_failed", zap.String("conn_id", p.ConnID), zap.Error(serr))
	}
}
