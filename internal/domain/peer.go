package domain

// Peer is the state of one live connection. Only the connection's read loop touches it,
// so it needs no locking.
type Peer struct {
	ConnID    string
	User      User
	SessionID string
	Role      Role
	Side      Side
	InChat    bool
}

// Joined reports whether the peer has joined a game session.
func (p *Peer) Joined() bool { return p != nil && p.SessionID != "" }

// Seated reports whether the peer holds a seat in its session.
func (p *Peer) Seated() bool { return p.Joined() && p.Role == RolePlayer && p.Side != "" }
