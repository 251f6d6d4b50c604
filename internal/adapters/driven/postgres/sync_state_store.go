package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.SyncStateStore = (*SyncStateStore)(nil)

var syncStatesTable = table{
	name: "sync_states",
	key:  "collection_name",
	columns: []string{
		"collection_name", "status", "cursor", "batch_limit", "repeat_hours", "last_batch_count",
		"stats", "error", "last_sync_at", "next_sync_at", "started_at", "completed_at",
	},
}

// SyncStateStore keeps one batch sync cursor row per collection.
type SyncStateStore struct {
	db *DB
}

func NewSyncStateStore(db *DB) *SyncStateStore {
	return &SyncStateStore{db: db}
}

func (s *SyncStateStore) Save(ctx context.Context, st *domain.SyncState) error {
	stats, err := json.Marshal(st.Stats)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, syncStatesTable.upsertSQL(),
		st.CollectionName, string(st.Status), st.Cursor, st.BatchLimit, st.RepeatHours, st.LastBatchCount,
		stats, st.Error,
		NullTime(st.LastSyncAt), NullTime(st.NextSyncAt), NullTime(st.StartedAt), NullTime(st.CompletedAt))
	if err != nil {
		return &domain.PersistenceError{Op: "save sync state", Err: err}
	}
	return nil
}

// Get returns ErrNotFound until the collection has synced once.
func (s *SyncStateStore) Get(ctx context.Context, collection string) (*domain.SyncState, error) {
	return scanSyncState(s.db.QueryRowContext(ctx, syncStatesTable.selectSQL("collection_name = $1"), collection))
}

func (s *SyncStateStore) List(ctx context.Context) ([]*domain.SyncState, error) {
	rows, err := s.db.QueryContext(ctx, syncStatesTable.selectSQL("")+" ORDER BY collection_name")
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list sync states", Err: err}
	}
	return collect(rows, scanSyncState)
}

// Delete is a no-op for a collection that never synced.
func (s *SyncStateStore) Delete(ctx context.Context, collection string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_states WHERE collection_name = $1`, collection); err != nil {
		return &domain.PersistenceError{Op: "delete sync state", Err: err}
	}
	return nil
}

func scanSyncState(row rowScanner) (*domain.SyncState, error) {
	st := new(domain.SyncState)
	var (
		stats              []byte
		lastSync, nextSync sql.NullTime
		started, completed sql.NullTime
	)
	err := row.Scan(&st.CollectionName, &st.Status, &st.Cursor, &st.BatchLimit, &st.RepeatHours, &st.LastBatchCount,
		&stats, &st.Error, &lastSync, &nextSync, &started, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, &domain.PersistenceError{Op: "scan sync state", Err: err}
	}
	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &st.Stats); err != nil {
			return nil, &domain.PersistenceError{Op: "decode sync stats", Err: err}
		}
	}
	st.LastSyncAt, st.NextSyncAt = TimePtr(lastSync), TimePtr(nextSync)
	st.StartedAt, st.CompletedAt = TimePtr(started), TimePtr(completed)
	return st, nil
}
