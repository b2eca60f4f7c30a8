package collab

import (
	"errors"
	"sync"
)

var (
	// ErrUnknownConnection indicates the connection id is not registered.
	ErrUnknownConnection = errors.New("collab: unknown connection")
	// ErrNotJoined indicates the connection has not joined the workspace.
	ErrNotJoined = errors.New("collab: connection not joined to workspace")
)

// Sender delivers an outbound event to one connection. Implementations must
// be safe for concurrent use and must not block indefinitely.
type Sender interface {
	Send(event Event) error
}

// Conn is one authenticated socket. A user may hold several at once.
type Conn struct {
	ID     string
	UserID string
	sender Sender

	// joined maps workspace id to the authenticated role. Guarded by the
	// owning registry's mutex.
	joined map[string]string
}

// NewConn constructs a connection bound to a sender.
func NewConn(id, userID string, sender Sender) *Conn {
	return &Conn{ID: id, UserID: userID, sender: sender, joined: make(map[string]string)}
}

// Send delivers an event to this connection.
func (c *Conn) Send(event Event) error {
	return c.sender.Send(event)
}

// Registry maps users to their open connections and connections to the
// workspaces they have joined. All mutation goes through its mutex so the
// membership index stays consistent under concurrent events.
type Registry struct {
	mu        sync.RWMutex
	conns     map[string]*Conn            // connection id -> connection
	userConns map[string]map[string]*Conn // user id -> connection id -> connection
	roomConns map[string]map[string]*Conn // workspace id -> connection id -> connection
}

// NewRegistry constructs an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:     make(map[string]*Conn),
		userConns: make(map[string]map[string]*Conn),
		roomConns: make(map[string]map[string]*Conn),
	}
}

// Register adds a connection for its user.
func (r *Registry) Register(conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID] = conn
	if _, ok := r.userConns[conn.UserID]; !ok {
		r.userConns[conn.UserID] = make(map[string]*Conn)
	}
	r.userConns[conn.UserID][conn.ID] = conn
}

// Unregister removes a connection and reports cleanup obligations: the
// workspaces in which the user is no longer present on any connection, and
// whether this was the user's last connection overall. Unknown ids are a
// no-op so teardown can run twice safely.
func (r *Registry) Unregister(connID string) (userID string, departedWorkspaces []string, lastConnection bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return "", nil, false
	}
	delete(r.conns, connID)

	for workspaceID := range conn.joined {
		if r.removeFromRoomLocked(conn, workspaceID) {
			departedWorkspaces = append(departedWorkspaces, workspaceID)
		}
	}
	conn.joined = make(map[string]string)

	userConns := r.userConns[conn.UserID]
	delete(userConns, connID)
	if len(userConns) == 0 {
		delete(r.userConns, conn.UserID)
		lastConnection = true
	}
	return conn.UserID, departedWorkspaces, lastConnection
}

// Join records the connection in a workspace room with the given role and
// reports whether this is the user's first presence in that room.
func (r *Registry) Join(connID, workspaceID, role string) (firstForUser bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return false, ErrUnknownConnection
	}

	firstForUser = !r.userInRoomLocked(conn.UserID, workspaceID)

	if _, ok := r.roomConns[workspaceID]; !ok {
		r.roomConns[workspaceID] = make(map[string]*Conn)
	}
	r.roomConns[workspaceID][connID] = conn
	conn.joined[workspaceID] = role
	return firstForUser, nil
}

// Leave removes the connection from a workspace room and reports whether the
// user is now absent from that room entirely.
func (r *Registry) Leave(connID, workspaceID string) (lastForUser bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return false, ErrUnknownConnection
	}
	if _, joined := conn.joined[workspaceID]; !joined {
		return false, ErrNotJoined
	}
	delete(conn.joined, workspaceID)
	return r.removeFromRoomLocked(conn, workspaceID), nil
}

// removeFromRoomLocked detaches the connection from a room and reports
// whether the user has no other connection left in it. Caller holds the mutex.
func (r *Registry) removeFromRoomLocked(conn *Conn, workspaceID string) bool {
	room := r.roomConns[workspaceID]
	if room == nil {
		return false
	}
	delete(room, conn.ID)
	if len(room) == 0 {
		delete(r.roomConns, workspaceID)
		return true
	}
	return !r.userInRoomLocked(conn.UserID, workspaceID)
}

func (r *Registry) userInRoomLocked(userID, workspaceID string) bool {
	for _, other := range r.roomConns[workspaceID] {
		if other.UserID == userID {
			return true
		}
	}
	return false
}

// Role returns the authenticated role for a joined connection, or ErrNotJoined.
func (r *Registry) Role(connID, workspaceID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[connID]
	if !ok {
		return "", ErrUnknownConnection
	}
	role, joined := conn.joined[workspaceID]
	if !joined {
		return "", ErrNotJoined
	}
	return role, nil
}

// RoomConns returns a snapshot of the connections joined to a workspace.
func (r *Registry) RoomConns(workspaceID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.roomConns[workspaceID]
	snapshot := make([]*Conn, 0, len(room))
	for _, conn := range room {
		snapshot = append(snapshot, conn)
	}
	return snapshot
}

// AllConns returns a snapshot of every registered connection.
func (r *Registry) AllConns() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make([]*Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		snapshot = append(snapshot, conn)
	}
	return snapshot
}

// MembersPresent returns the distinct user ids currently joined to a
// workspace on at least one connection.
func (r *Registry) MembersPresent(workspaceID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	members := make([]string, 0)
	for _, conn := range r.roomConns[workspaceID] {
		if _, ok := seen[conn.UserID]; ok {
			continue
		}
		seen[conn.UserID] = struct{}{}
		members = append(members, conn.UserID)
	}
	return members
}
