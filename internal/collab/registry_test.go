package collab

import (
	"errors"
	"testing"
)

func TestRegistryJoinReportsFirstPresence(t *testing.T) {
	registry := NewRegistry()
	first := NewConn("conn-1", "user-1", &fakeSender{})
	second := NewConn("conn-2", "user-1", &fakeSender{})
	registry.Register(first)
	registry.Register(second)

	firstForUser, err := registry.Join("conn-1", "ws-1", "member")
	if err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	if !firstForUser {
		t.Fatal("expected first join to report first presence")
	}

	firstForUser, err = registry.Join("conn-2", "ws-1", "member")
	if err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	if firstForUser {
		t.Fatal("expected second connection of same user to not report first presence")
	}
}

func TestRegistryLeaveReportsLastPresence(t *testing.T) {
	registry := NewRegistry()
	first := NewConn("conn-1", "user-1", &fakeSender{})
	second := NewConn("conn-2", "user-1", &fakeSender{})
	registry.Register(first)
	registry.Register(second)
	if _, err := registry.Join("conn-1", "ws-1", "member"); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	if _, err := registry.Join("conn-2", "ws-1", "member"); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}

	lastForUser, err := registry.Leave("conn-1", "ws-1")
	if err != nil {
		t.Fatalf("unexpected leave error: %v", err)
	}
	if lastForUser {
		t.Fatal("user still has another connection in the room")
	}

	lastForUser, err = registry.Leave("conn-2", "ws-1")
	if err != nil {
		t.Fatalf("unexpected leave error: %v", err)
	}
	if !lastForUser {
		t.Fatal("expected final leave to report last presence")
	}
}

func TestRegistryLeaveWithoutJoinFails(t *testing.T) {
	registry := NewRegistry()
	registry.Register(NewConn("conn-1", "user-1", &fakeSender{}))

	if _, err := registry.Leave("conn-1", "ws-1"); !errors.Is(err, ErrNotJoined) {
		t.Fatalf("expected ErrNotJoined, got %v", err)
	}
	if _, err := registry.Leave("ghost", "ws-1"); !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("expected ErrUnknownConnection, got %v", err)
	}
}

func TestRegistryUnregisterCleansMembership(t *testing.T) {
	registry := NewRegistry()
	conn := NewConn("conn-1", "user-1", &fakeSender{})
	registry.Register(conn)
	if _, err := registry.Join("conn-1", "ws-1", "member"); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	if _, err := registry.Join("conn-1", "ws-2", "member"); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}

	userID, departed, lastConnection := registry.Unregister("conn-1")
	if userID != "user-1" {
		t.Fatalf("unexpected user id %s", userID)
	}
	if len(departed) != 2 {
		t.Fatalf("expected 2 departed workspaces, got %d", len(departed))
	}
	if !lastConnection {
		t.Fatal("expected last connection to be reported")
	}
	if members := registry.MembersPresent("ws-1"); len(members) != 0 {
		t.Fatalf("expected no members present, got %v", members)
	}
	if conns := registry.AllConns(); len(conns) != 0 {
		t.Fatalf("expected no registered connections, got %d", len(conns))
	}
}

func TestRegistryUnregisterKeepsRoomsWithOtherConnections(t *testing.T) {
	registry := NewRegistry()
	tabOne := NewConn("conn-1", "user-1", &fakeSender{})
	tabTwo := NewConn("conn-2", "user-1", &fakeSender{})
	registry.Register(tabOne)
	registry.Register(tabTwo)
	if _, err := registry.Join("conn-1", "ws-1", "member"); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	if _, err := registry.Join("conn-2", "ws-1", "member"); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}

	_, departed, lastConnection := registry.Unregister("conn-1")
	if len(departed) != 0 {
		t.Fatalf("expected no departed workspaces, got %v", departed)
	}
	if lastConnection {
		t.Fatal("user still has an open connection")
	}
	if members := registry.MembersPresent("ws-1"); len(members) != 1 || members[0] != "user-1" {
		t.Fatalf("expected user-1 still present, got %v", members)
	}
}

func TestRegistryUnregisterUnknownIsNoOp(t *testing.T) {
	registry := NewRegistry()
	userID, departed, lastConnection := registry.Unregister("ghost")
	if userID != "" || departed != nil || lastConnection {
		t.Fatalf("expected no-op, got %q %v %v", userID, departed, lastConnection)
	}
}

func TestRegistryRole(t *testing.T) {
	registry := NewRegistry()
	registry.Register(NewConn("conn-1", "user-1", &fakeSender{}))
	if _, err := registry.Join("conn-1", "ws-1", "admin"); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}

	role, err := registry.Role("conn-1", "ws-1")
	if err != nil {
		t.Fatalf("unexpected role error: %v", err)
	}
	if role != "admin" {
		t.Fatalf("unexpected role %s", role)
	}

	if _, err := registry.Role("conn-1", "ws-2"); !errors.Is(err, ErrNotJoined) {
		t.Fatalf("expected ErrNotJoined, got %v", err)
	}
}
