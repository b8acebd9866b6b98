// Package fanout delivers payloads to single connections or named groups of
// connections, locally and through a Bus to the other server processes.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	groupPrefix = "fanout.group."
	connPrefix  = "fanout.conn."
)

// Deliverer is the local end of a connection. Deliver must not block.
type Deliverer interface {
	Deliver(payload []byte) bool
}

// Target names a single connection or a group.
type Target struct {
	group string
	conn  string
}

func ToConn(id string) Target    { return Target{conn: id} }
func ToGroup(name string) Target { return Target{group: name} }
func (t Target) IsGroup() bool   { return t.group != "" }
func (t Target) String() string {
	if t.IsGroup() {
		return "group:" + t.group
	}
	return "conn:" + t.conn
}

type envelope struct {
	Node    string          `json:"node"`
	Exclude string          `json:"exclude,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Hub tracks local connections and group memberships. Members on this process are
// delivered to directly; the same payload is published once on the bus for the others.
type Hub struct {
	bus    Bus
	node   string
	logger *zap.Logger

	mu       sync.RWMutex
	conns    map[string]Deliverer
	groups   map[string]map[string]struct{}
	memberOf map[string]map[string]struct{}

	// subMu orders every group Subscribe/Unsubscribe; subscribed is guarded by it.
	subMu      sync.Mutex
	subscribed map[string]bool
}

type HubOption func(*Hub)

func WithLogger(l *zap.Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

func WithNodeID(id string) HubOption {
	return func(h *Hub) {
		if strings.TrimSpace(id) != "" {
			h.node = id
		}
	}
}

func NewHub(bus Bus, opts ...HubOption) *Hub {
	h := &Hub{
		bus:      bus,
		node:     uuid.NewString(),
		logger:   zap.NewNop(),
		conns:    make(map[string]Deliverer),
		groups:   make(map[string]map[string]struct{}),
		memberOf: make(map[string]map[string]struct{}),

		subscribed: make(map[string]bool),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func groupTopic(name string) string { return groupPrefix + name }
func connTopic(id string) string    { return connPrefix + id }

// Register makes a connection addressable by id from any process. On error the
// connection is not registered.
func (h *Hub) Register(ctx context.Context, connID string, d Deliverer) error {
	h.mu.Lock()
	h.conns[connID] = d
	h.mu.Unlock()
	if err := h.bus.Subscribe(ctx, connTopic(connID)); err != nil {
		h.mu.Lock()
		delete(h.conns, connID)
		h.mu.Unlock()
		return fmt.Errorf("subscribe conn topic: %w", err)
	}
	return nil
}

// Unregister releases every group membership of the connection and forgets it.
func (h *Hub) Unregister(ctx context.Context, connID string) {
	for _, g := range h.GroupsOf(connID) {
		if err := h.Leave(ctx, g, connID); err != nil {
			h.logger.Warn("fanout_leave_error", zap.String("group", g), zap.String("conn_id", connID), zap.Error(err))
		}
	}
	h.mu.Lock()
	delete(h.conns, connID)
	delete(h.memberOf, connID)
	h.mu.Unlock()
	if err := h.bus.Unsubscribe(ctx, connTopic(connID)); err != nil {
		h.logger.Warn("fanout_unsubscribe_error", zap.String("conn_id", connID), zap.Error(err))
	}
}

// Join adds connID to group. Joining twice is a no-op.
func (h *Hub) Join(ctx context.Context, group, connID string) error {
	h.mu.Lock()
	members, ok := h.groups[group]
	if !ok {
		members = make(map[string]struct{})
		h.groups[group] = members
	}
	if _, dup := members[connID]; dup {
		h.mu.Unlock()
		return nil
	}
	members[connID] = struct{}{}
	if h.memberOf[connID] == nil {
		h.memberOf[connID] = make(map[string]struct{})
	}
	h.memberOf[connID][group] = struct{}{}
	h.mu.Unlock()

	return h.syncGroup(ctx, group)
}

// Leave removes connID from group. Leaving a group one is not in is a no-op.
func (h *Hub) Leave(ctx context.Context, group, connID string) error {
	h.mu.Lock()
	members, ok := h.groups[group]
	if !ok {
		h.mu.Unlock()
		return nil
	}
	if _, in := members[connID]; !in {
		h.mu.Unlock()
		return nil
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.groups, group)
	}
	if gs := h.memberOf[connID]; gs != nil {
		delete(gs, group)
	}
	h.mu.Unlock()

	return h.syncGroup(ctx, group)
}

// syncGroup subscribes the process to the group topic while the group has local members
// and unsubscribes it once the group is empty. Membership is read after subMu is taken,
// so the last call to finish leaves the subscription matching the current members.
func (h *Hub) syncGroup(ctx context.Context, group string) error {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	h.mu.RLock()
	want := len(h.groups[group]) > 0
	h.mu.RUnlock()
	if want == h.subscribed[group] {
		return nil
	}

	topic := groupTopic(group)
	if want {
		if err := h.bus.Subscribe(ctx, topic); err != nil {
			return fmt.Errorf("subscribe group topic: %w", err)
		}
		h.subscribed[group] = true
		return nil
	}
	if err := h.bus.Unsubscribe(ctx, topic); err != nil {
		return fmt.Errorf("unsubscribe group topic: %w", err)
	}
	delete(h.subscribed, group)
	return nil
}

// Send delivers payload to the target, skipping the connection named by exclude.
// Delivery is best effort: a full connection buffer drops the payload for that connection.
func (h *Hub) Send(ctx context.Context, target Target, payload any, exclude string) error {
	data, err := encode(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	if !target.IsGroup() {
		if target.conn == exclude {
			return nil
		}
		h.mu.RLock()
		d, local := h.conns[target.conn]
		h.mu.RUnlock()
		if local {
			h.deliver(target.conn, d, data)
			return nil
		}
		return h.publish(ctx, connTopic(target.conn), exclude, data)
	}

	h.deliverGroup(target.group, exclude, data)
	return h.publish(ctx, groupTopic(target.group), exclude, data)
}

func (h *Hub) publish(ctx context.Context, topic, exclude string, data []byte) error {
	raw, err := json.Marshal(envelope{Node: h.node, Exclude: exclude, Payload: data})
	if err != nil {
		return err
	}
	if err := h.bus.Publish(ctx, topic, raw); err != nil {
		h.logger.Warn("fanout_publish_error", zap.String("topic", topic), zap.Error(err))
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (h *Hub) deliverGroup(group, exclude string, data []byte) {
	type target struct {
		id string
		d  Deliverer
	}
	h.mu.RLock()
	members := h.groups[group]
	targets := make([]target, 0, len(members))
	for id := range members {
		if id == exclude {
			continue
		}
		if d, ok := h.conns[id]; ok {
			targets = append(targets, target{id: id, d: d})
		}
	}
	h.mu.RUnlock()
	for _, t := range targets {
		h.deliver(t.id, t.d, data)
	}
}

func (h *Hub) deliver(connID string, d Deliverer, data []byte) {
	if !d.Deliver(data) {
		h.logger.Warn("fanout_drop", zap.String("conn_id", connID))
	}
}

// Run consumes the bus until ctx ends or the bus closes.
func (h *Hub) Run(ctx context.Context) error {
	msgs := h.bus.Messages()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-msgs:
			if !ok {
				return nil
			}
			h.dispatch(m)
		}
	}
}

func (h *Hub) dispatch(m Message) {
	var env envelope
	if err := json.Unmarshal(m.Data, &env); err != nil {
		h.logger.Warn("fanout_decode_error", zap.String("topic", m.Topic), zap.Error(err))
		return
	}
	if env.Node == h.node {
		return
	}
	switch {
	case strings.HasPrefix(m.Topic, groupPrefix):
		h.deliverGroup(strings.TrimPrefix(m.Topic, groupPrefix), env.Exclude, env.Payload)
	case strings.HasPrefix(m.Topic, connPrefix):
		id := strings.TrimPrefix(m.Topic, connPrefix)
		if id == env.Exclude {
			return
		}
		h.mu.RLock()
		d, ok := h.conns[id]
		h.mu.RUnlock()
		if ok {
			h.deliver(id, d, env.Payload)
		}
	}
}

// GroupsOf lists the groups a local connection belongs to.
func (h *Hub) GroupsOf(connID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.memberOf[connID]))
	for g := range h.memberOf[connID] {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// Close closes the bus.
func (h *Hub) Close() error { return h.bus.Close() }

func encode(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(v)
	}
}
