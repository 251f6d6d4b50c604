package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driving"
)

// Verify interface compliance
var _ driving.RecordChangeService = (*RecordChangeRouter)(nil)

// Change outcomes reported to metrics
const (
	changeOutcomeQueued   = "queued"
	changeOutcomeApplied  = "applied"
	changeOutcomeFailed   = "failed"
	changeOutcomeUnlinked = "unlinked"
)

// RecordChangeRouter propagates single record changes to every collection
// linked to the record's type, either inline or through the task queue.
type RecordChangeRouter struct {
	collections driving.CollectionService
	types       *domain.RecordTypeRegistry
	records     driven.RecordSource
	mapper      *DocumentMapper
	remote      RemoteClients
	queue       driven.TaskQueue
	metrics     driven.SyncMetrics
	logger      *slog.Logger
}

// RecordChangeRouterConfig holds dependencies for RecordChangeRouter.
type RecordChangeRouterConfig struct {
	Collections driving.CollectionService
	Types       *domain.RecordTypeRegistry
	Records     driven.RecordSource
	Mapper      *DocumentMapper
	Remote      RemoteClients
	TaskQueue   driven.TaskQueue
	Metrics     driven.SyncMetrics // optional
	Logger      *slog.Logger
}

// NewRecordChangeRouter creates a RecordChangeRouter.
func NewRecordChangeRouter(cfg RecordChangeRouterConfig) *RecordChangeRouter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = driven.NopSyncMetrics{}
	}
	types := cfg.Types
	if types == nil {
		types = domain.NewRecordTypeRegistry()
	}
	return &RecordChangeRouter{
		collections: cfg.Collections,
		types:       types,
		records:     cfg.Records,
		mapper:      cfg.Mapper,
		remote:      cfg.Remote,
		queue:       cfg.TaskQueue,
		metrics:     metrics,
		logger:      logger,
	}
}

// HandleLifecycle maps a lifecycle event to a change and routes it.
// Events that need no remote action return false without error.
func (r *RecordChangeRouter) HandleLifecycle(ctx context.Context, event domain.LifecycleEvent) (bool, error) {
	if err := event.Validate(); err != nil {
		return false, err
	}
	rt, err := r.types.Get(event.RecordType)
	if err != nil {
		return false, err
	}

	kind := domain.ChangeKindFor(event.Lifecycle, rt.SupportsPublishing)
	if kind == domain.ChangeKindNone {
		r.logger.Debug("lifecycle event needs no index change",
			"record_type", event.RecordType,
			"record_id", event.RecordID,
			"lifecycle", event.Lifecycle,
		)
		return false, nil
	}

	var record domain.Record = &domain.Row{ID: event.RecordID, Type: event.RecordType}
	if kind == domain.ChangeKindUpsert && event.Synchronous {
		record, err = r.records.Get(ctx, event.RecordType, event.RecordID)
		if errors.Is(err, domain.ErrNotFound) {
			r.logger.Info("record is not eligible for indexing",
				"record_type", event.RecordType,
				"record_id", event.RecordID,
			)
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("load record %s#%d: %w", event.RecordType, event.RecordID, err)
		}
	}
	return r.Route(ctx, record, kind, event.Synchronous), nil
}

// Route propagates a change for record. An asynchronous change is queued as a
// task and Route reports whether enqueueing succeeded. A synchronous change is
// applied to every linked collection that exists remotely, and Route reports
// whether all of them succeeded.
func (r *RecordChangeRouter) Route(ctx context.Context, record domain.Record, kind domain.ChangeKind, synchronous bool) bool {
	logger := r.logger.With("record_type", record.RecordType(), "record_id", record.RecordID(), "kind", kind)

	linked, err := r.collections.LinkedCollections(ctx, record.RecordType())
	if err != nil {
		logger.Error("failed to list linked collections", "error", err)
		r.metrics.ObserveChange(kind, changeOutcomeFailed)
		return false
	}
	if len(linked) == 0 {
		logger.Info("record type is not linked to any collection")
		r.metrics.ObserveChange(kind, changeOutcomeUnlinked)
		return false
	}

	if !synchronous {
		task := domain.NewRecordTask(kind, record.RecordType(), record.RecordID())
		if err := r.queue.Enqueue(ctx, task); err != nil {
			logger.Error("failed to queue record change", "error", err)
			r.metrics.ObserveChange(kind, changeOutcomeFailed)
			return false
		}
		logger.Debug("record change queued", "task_id", task.ID)
		r.metrics.ObserveChange(kind, changeOutcomeQueued)
		return true
	}

	ok := r.apply(ctx, record, kind, linked, nil)
	if ok {
		r.metrics.ObserveChange(kind, changeOutcomeApplied)
	} else {
		r.metrics.ObserveChange(kind, changeOutcomeFailed)
	}
	return ok
}

// ProcessUpsert handles a queued upsert. Remote failures are logged and the
// task still completes; only a malformed payload returns an error.
func (r *RecordChangeRouter) ProcessUpsert(ctx context.Context, task *domain.Task) error {
	recordType, id, err := task.RecordRef()
	if err != nil {
		return fmt.Errorf("upsert task %s: %w", task.ID, err)
	}

	record, err := r.records.Get(ctx, recordType, id)
	if errors.Is(err, domain.ErrNotFound) {
		task.AddMessage(fmt.Sprintf("Record %s#%d is no longer eligible for indexing", recordType, id))
		return nil
	}
	if err != nil {
		task.AddMessage(fmt.Sprintf("Failed to load record %s#%d: %s", recordType, id, err))
		r.logger.Error("failed to load record for upsert", "record_type", recordType, "record_id", id, "error", err)
		return nil
	}
	r.process(ctx, task, record, domain.ChangeKindUpsert)
	return nil
}

// ProcessDelete handles a queued delete. Remote failures are logged and the
// task still completes; only a malformed payload returns an error.
func (r *RecordChangeRouter) ProcessDelete(ctx context.Context, task *domain.Task) error {
	recordType, id, err := task.RecordRef()
	if err != nil {
		return fmt.Errorf("delete task %s: %w", task.ID, err)
	}
	r.process(ctx, task, &domain.Row{ID: id, Type: recordType}, domain.ChangeKindDelete)
	return nil
}

func (r *RecordChangeRouter) process(ctx context.Context, task *domain.Task, record domain.Record, kind domain.ChangeKind) {
	linked, err := r.collections.LinkedCollections(ctx, record.RecordType())
	if err != nil {
		task.AddMessage(fmt.Sprintf("Failed to list linked collections: %s", err))
		r.logger.Error("failed to list linked collections", "record_type", record.RecordType(), "error", err)
		r.metrics.ObserveChange(kind, changeOutcomeFailed)
		return
	}
	if len(linked) == 0 {
		task.AddMessage(fmt.Sprintf("No collection is linked to %s", record.RecordType()))
		r.metrics.ObserveChange(kind, changeOutcomeUnlinked)
		return
	}
	if r.apply(ctx, record, kind, linked, task) {
		r.metrics.ObserveChange(kind, changeOutcomeApplied)
	} else {
		r.metrics.ObserveChange(kind, changeOutcomeFailed)
	}
}

// apply runs the change against each linked collection that exists remotely.
func (r *RecordChangeRouter) apply(ctx context.Context, record domain.Record, kind domain.ChangeKind, linked []*domain.Collection, task *domain.Task) bool {
	note := func(format string, args ...any) {
		if task != nil {
			task.AddMessage(fmt.Sprintf(format, args...))
		}
	}
	id := domain.IDString(record)
	logger := r.logger.With("record_type", record.RecordType(), "record_id", id, "kind", kind)

	client, err := r.remote.Default()
	if err != nil {
		logger.Error("remote store unavailable", "error", err)
		note("Remote store unavailable: %s", err)
		return false
	}

	ok := true
	for _, collection := range linked {
		exists, err := client.CollectionExists(ctx, collection.Name)
		if err != nil {
			r.logRemoteError(logger, collection.Name, kind, err)
			note("Collection %s: %s", collection.Name, err)
			ok = false
			continue
		}
		if !exists {
			logger.Info("remote collection does not exist, skipping", "collection", collection.Name)
			continue
		}

		switch kind {
		case domain.ChangeKindUpsert:
			err = r.upsert(ctx, client, collection, record)
		case domain.ChangeKindDelete:
			err = client.DeleteDocument(ctx, collection.Name, id)
		default:
			err = fmt.Errorf("%w: unknown change kind %q", domain.ErrInvalidInput, kind)
		}
		if err != nil {
			r.logRemoteError(logger, collection.Name, kind, err)
			if kind == domain.ChangeKindDelete && errors.Is(err, domain.ErrNotFound) {
				note("Document %s was not in %s", id, collection.Name)
				continue
			}
			note("Failed to %s %s in %s: %s", kind, id, collection.Name, err)
			ok = false
			continue
		}
		note("Applied %s of %s to %s", kind, id, collection.Name)
	}
	return ok
}

func (r *RecordChangeRouter) upsert(ctx context.Context, client driven.RemoteStore, collection *domain.Collection, record domain.Record) error {
	schema, err := collection.Schema()
	if err != nil {
		return err
	}
	doc, err := r.mapper.Build(record, schema.Fields)
	if err != nil {
		return err
	}
	if doc.IsEmpty() {
		return fmt.Errorf("%w: record %s has no data", domain.ErrMalformed, domain.IDString(record))
	}
	return client.Upsert(ctx, collection.Name, doc)
}

// logRemoteError logs a non-fatal remote failure at a level matching its cause.
func (r *RecordChangeRouter) logRemoteError(logger *slog.Logger, collection string, kind domain.ChangeKind, err error) {
	switch {
	case errors.Is(err, domain.ErrMalformed):
		logger.Warn("remote store rejected the change", "collection", collection, "error", err)
	case errors.Is(err, domain.ErrNotFound) && kind == domain.ChangeKindDelete:
		logger.Info("document already absent", "collection", collection, "error", err)
	default:
		logger.Error("remote change failed", "collection", collection, "error", err)
	}
}
