package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opStoreNew       = "store.new"
	opUpsertPresence = "store.upsert_presence"
	opListPresence   = "store.list_presence"
	opSaveLock       = "store.save_lock"
	opClearLock      = "store.clear_lock"
	opActiveLocks    = "store.active_locks"
	opAppendEdit     = "store.append_edit"
	opSaveChat       = "store.save_chat_message"
	opRecordActivity = "store.record_activity"
	opRecentActivity = "store.recent_activity"
)

// StoreConfig describes the dependencies for the durable store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Store is the durable system of record for presence, locks, edits, chat,
// and activity. The coordinator awaits these writes before broadcasting.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewStore constructs the store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newStoreError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{db: cfg.Database, clock: clock, idProvider: cfg.IDProvider, logger: logger}, nil
}

// UpsertPresence writes the presence snapshot for a (user, workspace) pair.
func (s *Store) UpsertPresence(ctx context.Context, record PresenceRecord) error {
	if record.LastActivitySeconds == 0 {
		record.LastActivitySeconds = s.clock().UTC().Unix()
	}
	if err := s.db.WithContext(ctx).Save(&record).Error; err != nil {
		s.logger.Error("presence upsert failed", zap.String("user_id", record.UserID),
			zap.String("workspace_id", record.WorkspaceID), zap.Error(err))
		return newStoreError(opUpsertPresence, "save_failed", err)
	}
	return nil
}

// ListPresence returns the persisted presence rows for a workspace.
func (s *Store) ListPresence(ctx context.Context, workspaceID string) ([]PresenceRecord, error) {
	var records []PresenceRecord
	err := s.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("user_id").
		Find(&records).Error
	if err != nil {
		return nil, newStoreError(opListPresence, "query_failed", err)
	}
	return records, nil
}

// SaveLock mirrors a granted or renewed lock into the store.
func (s *Store) SaveLock(ctx context.Context, record OrderLockRecord) error {
	if err := s.db.WithContext(ctx).Save(&record).Error; err != nil {
		s.logger.Error("lock mirror save failed", zap.String("order_id", record.OrderID), zap.Error(err))
		return newStoreError(opSaveLock, "save_failed", err)
	}
	return nil
}

// ClearLock removes the mirrored lock row for an order, if present.
func (s *Store) ClearLock(ctx context.Context, orderID string) error {
	if err := s.db.WithContext(ctx).Delete(&OrderLockRecord{}, "order_id = ?", orderID).Error; err != nil {
		s.logger.Error("lock mirror clear failed", zap.String("order_id", orderID), zap.Error(err))
		return newStoreError(opClearLock, "delete_failed", err)
	}
	return nil
}

// ActiveLocks returns mirrored locks whose expiry is still in the future,
// used to warm the in-memory lock table on process start.
func (s *Store) ActiveLocks(ctx context.Context, now time.Time) ([]OrderLockRecord, error) {
	var records []OrderLockRecord
	err := s.db.WithContext(ctx).
		Where("expires_at_s > ?", now.UTC().Unix()).
		Find(&records).Error
	if err != nil {
		return nil, newStoreError(opActiveLocks, "query_failed", err)
	}
	return records, nil
}

// AppendEdit persists one field-level edit, assigning the next version for
// the order inside a transaction. The returned record carries the assigned
// version and edit id.
func (s *Store) AppendEdit(ctx context.Context, record OrderEditRecord) (OrderEditRecord, error) {
	editID, err := s.idProvider.NewID()
	if err != nil {
		return OrderEditRecord{}, newStoreError(opAppendEdit, "id_generation_failed", err)
	}
	record.EditID = editID
	record.AppliedAtSeconds = s.clock().UTC().Unix()

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var latest OrderEditRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("order_id = ?", record.OrderID).
			Order("version DESC").
			Take(&latest).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			record.Version = 1
		case err != nil:
			return newStoreError(opAppendEdit, "version_select_failed", err)
		default:
			record.Version = latest.Version + 1
		}
		if err := tx.Create(&record).Error; err != nil {
			return newStoreError(opAppendEdit, "insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logger.Error("edit append failed", zap.String("order_id", record.OrderID), zap.Error(txErr))
		return OrderEditRecord{}, txErr
	}
	return record, nil
}

// SaveChatMessage persists a chat message and returns it with id and
// timestamp assigned.
func (s *Store) SaveChatMessage(ctx context.Context, record ChatMessageRecord) (ChatMessageRecord, error) {
	messageID, err := s.idProvider.NewID()
	if err != nil {
		return ChatMessageRecord{}, newStoreError(opSaveChat, "id_generation_failed", err)
	}
	record.MessageID = messageID
	record.SentAtSeconds = s.clock().UTC().Unix()
	if record.MessageType == "" {
		record.MessageType = "text"
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logger.Error("chat message save failed", zap.String("workspace_id", record.WorkspaceID), zap.Error(err))
		return ChatMessageRecord{}, newStoreError(opSaveChat, "insert_failed", err)
	}
	return record, nil
}

// RecordActivity appends an activity feed row. Callers treat failures as
// non-fatal; the error is returned for logging only.
func (s *Store) RecordActivity(ctx context.Context, record ActivityRecord) error {
	activityID, err := s.idProvider.NewID()
	if err != nil {
		return newStoreError(opRecordActivity, "id_generation_failed", err)
	}
	record.ActivityID = activityID
	record.OccurredAtSeconds = s.clock().UTC().Unix()
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return newStoreError(opRecordActivity, "insert_failed", err)
	}
	return nil
}

// RecentActivity returns the newest activity rows for a workspace.
func (s *Store) RecentActivity(ctx context.Context, workspaceID string, limit int) ([]ActivityRecord, error) {
	if limit <= 0 {
		return nil, newStoreError(opRecentActivity, "invalid_limit", fmt.Errorf("limit %d", limit))
	}
	var records []ActivityRecord
	err := s.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("occurred_at_s DESC, activity_id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, newStoreError(opRecentActivity, "query_failed", err)
	}
	return records, nil
}
