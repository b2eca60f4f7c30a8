package collab

import "testing"

func TestBroadcastExcludesEveryConnectionOfUser(t *testing.T) {
	registry := NewRegistry()
	broadcaster := NewBroadcaster(registry, nil)

	senderTabOne := &fakeSender{}
	senderTabTwo := &fakeSender{}
	senderOther := &fakeSender{}
	for _, pair := range []struct {
		conn   *Conn
		sender *fakeSender
	}{
		{NewConn("conn-1", "user-a", senderTabOne), senderTabOne},
		{NewConn("conn-2", "user-a", senderTabTwo), senderTabTwo},
		{NewConn("conn-3", "user-b", senderOther), senderOther},
	} {
		registry.Register(pair.conn)
		if _, err := registry.Join(pair.conn.ID, "ws-1", "member"); err != nil {
			t.Fatalf("unexpected join error: %v", err)
		}
	}

	broadcaster.Broadcast("ws-1", Event{Type: EventOrderLock}, "user-a")

	if senderTabOne.count() != 0 || senderTabTwo.count() != 0 {
		t.Fatal("expected all of user-a's connections to be excluded")
	}
	if senderOther.count() != 1 {
		t.Fatalf("expected user-b to receive the event, got %d", senderOther.count())
	}
}

func TestBroadcastReachesOnlyJoinedConnections(t *testing.T) {
	registry := NewRegistry()
	broadcaster := NewBroadcaster(registry, nil)

	joined := &fakeSender{}
	outside := &fakeSender{}
	connJoined := NewConn("conn-1", "user-a", joined)
	connOutside := NewConn("conn-2", "user-b", outside)
	registry.Register(connJoined)
	registry.Register(connOutside)
	if _, err := registry.Join("conn-1", "ws-1", "member"); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}

	broadcaster.Broadcast("ws-1", Event{Type: EventChatMessage}, "")

	if joined.count() != 1 {
		t.Fatalf("expected joined connection to receive the event, got %d", joined.count())
	}
	if outside.count() != 0 {
		t.Fatal("connection outside the room must not receive the event")
	}
}

func TestBroadcastAllIgnoresRooms(t *testing.T) {
	registry := NewRegistry()
	broadcaster := NewBroadcaster(registry, nil)

	inRoom := &fakeSender{}
	lonely := &fakeSender{}
	registry.Register(NewConn("conn-1", "user-a", inRoom))
	registry.Register(NewConn("conn-2", "user-b", lonely))
	if _, err := registry.Join("conn-1", "ws-1", "member"); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}

	broadcaster.BroadcastAll(Event{Type: EventHeartbeat})

	if inRoom.count() != 1 || lonely.count() != 1 {
		t.Fatalf("expected every connection to receive the heartbeat, got %d and %d",
			inRoom.count(), lonely.count())
	}
}
