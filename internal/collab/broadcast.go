package collab

import "go.uber.org/zap"

// Broadcaster multicasts events to workspace rooms. Send failures are
// logged and skipped; a slow or dead connection never blocks the others.
type Broadcaster struct {
	registry *Registry
	logger   *zap.Logger
}

// NewBroadcaster constructs a broadcaster over the registry.
func NewBroadcaster(registry *Registry, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{registry: registry, logger: logger}
}

// Broadcast delivers the event to every connection joined to the workspace.
// When excludeUserID is non-empty, every connection belonging to that user is
// skipped, not just the one that triggered the event.
func (b *Broadcaster) Broadcast(workspaceID string, event Event, excludeUserID string) {
	for _, conn := range b.registry.RoomConns(workspaceID) {
		if excludeUserID != "" && conn.UserID == excludeUserID {
			continue
		}
		if err := conn.Send(event); err != nil {
			b.logger.Debug("broadcast send failed",
				zap.String("workspace_id", workspaceID),
				zap.String("conn_id", conn.ID),
				zap.String("event", event.Type),
				zap.Error(err))
		}
	}
}

// BroadcastAll delivers the event to every registered connection regardless
// of workspace, used for coordinator liveness heartbeats.
func (b *Broadcaster) BroadcastAll(event Event) {
	for _, conn := range b.registry.AllConns() {
		if err := conn.Send(event); err != nil {
			b.logger.Debug("broadcast send failed",
				zap.String("conn_id", conn.ID),
				zap.String("event", event.Type),
				zap.Error(err))
		}
	}
}
