package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driving"
)

// Verify interface compliance
var _ driving.ImportService = (*BatchSyncEngine)(nil)

// BatchSyncEngine exports bounded slices of a collection's records to the remote store.
type BatchSyncEngine struct {
	records     driven.RecordSource
	types       *domain.RecordTypeRegistry
	mapper      *DocumentMapper
	collections driving.CollectionService
	remote      RemoteClients
	metrics     driven.SyncMetrics
	logger      *slog.Logger
}

// BatchSyncEngineConfig holds dependencies for the engine.
type BatchSyncEngineConfig struct {
	Records     driven.RecordSource
	Types       *domain.RecordTypeRegistry
	Mapper      *DocumentMapper
	Collections driving.CollectionService
	Remote      RemoteClients
	Metrics     driven.SyncMetrics // optional
	Logger      *slog.Logger
}

// NewBatchSyncEngine creates a BatchSyncEngine.
func NewBatchSyncEngine(cfg BatchSyncEngineConfig) *BatchSyncEngine {
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
	return &BatchSyncEngine{
		records:     cfg.Records,
		types:       types,
		mapper:      cfg.Mapper,
		collections: cfg.Collections,
		remote:      cfg.Remote,
		metrics:     metrics,
		logger:      logger,
	}
}

// RunBatch exports records [offset, offset+limit) of the eligible set in the given order.
// Count in the result is the slice size, which drives cursor advancement.
// Per-document import failures are tallied; only a failed bulk call is an error.
func (e *BatchSyncEngine) RunBatch(ctx context.Context, collection *domain.Collection, dir driven.SortDirection, limit, offset int) (domain.BatchResult, error) {
	start := time.Now()
	var result domain.BatchResult

	if limit <= 0 {
		limit = domain.DefaultBatchLimit
	}
	if dir == "" {
		dir = driven.SortAsc
	}
	if _, err := e.types.Get(collection.RecordType); err != nil {
		return result, fmt.Errorf("collection %s: the linked record type is invalid: %w", collection.Name, err)
	}
	schema, err := collection.Schema()
	if err != nil {
		return result, err
	}

	records, err := e.records.List(ctx, driven.RecordQuery{
		RecordType: collection.RecordType,
		SortField:  domain.FieldID,
		Direction:  dir,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return result, fmt.Errorf("list records: %w", err)
	}
	result.Count = len(records)
	if result.Count == 0 {
		e.logger.Info("no more documents found", "collection", collection.Name, "offset", offset)
		return result, nil
	}

	docs := make([]*domain.Document, 0, len(records))
	for _, record := range records {
		doc, err := e.mapper.Build(record, schema.Fields)
		if err != nil {
			return result, fmt.Errorf("map record %d: %w", record.RecordID(), err)
		}
		if doc.IsEmpty() {
			result.Skipped++
			e.logger.Warn("skip record as empty data",
				"collection", collection.Name,
				"record_id", record.RecordID(),
				"record_type", record.RecordType(),
			)
			continue
		}
		if data, err := json.Marshal(doc); err == nil {
			result.Bytes += len(data)
		}
		docs = append(docs, doc)
	}

	e.logger.Info("batch importing",
		"collection", collection.Name,
		"count", len(docs),
		"offset", offset,
	)
	if len(docs) == 0 {
		e.metrics.ObserveBatch(collection.Name, result, time.Since(start))
		return result, nil
	}

	client, err := e.remote.Default()
	if err != nil {
		return result, err
	}
	items, err := client.Import(ctx, collection.Name, docs)
	if err != nil {
		return result, fmt.Errorf("import into %s: %w", collection.Name, err)
	}

	for _, item := range items {
		if item.Success {
			result.Successes = append(result.Successes, item)
			continue
		}
		if item.Error == "" {
			item.Error = "(not set)"
		}
		result.Failures = append(result.Failures, item)
		e.logger.Warn("batch import document failed",
			"collection", collection.Name,
			"id", item.ID,
			"error", item.Error,
		)
	}

	e.logger.Info("batch import result",
		"collection", collection.Name,
		"success", len(result.Successes),
		"errors", len(result.Failures),
	)
	e.metrics.ObserveBatch(collection.Name, result, time.Since(start))
	return result, nil
}

// Import runs batches in ascending id order from offset 0 until one returns no records.
// progress, when set, is called after every batch with the running total.
func (e *BatchSyncEngine) Import(ctx context.Context, name string, limit int, progress func(domain.BatchResult, int)) (*domain.ImportReport, error) {
	if limit <= 0 {
		limit = domain.DefaultBatchLimit
	}
	collection, err := e.collections.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("the collection '%s' cannot be found: %w", name, err)
	}
	if err := e.collections.EnsureRemote(ctx, collection); err != nil {
		return nil, err
	}

	started := time.Now()
	report := &domain.ImportReport{Collection: name}
	for offset := 0; ; offset += limit {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		batch, err := e.RunBatch(ctx, collection, driven.SortAsc, limit, offset)
		if err != nil {
			report.Duration = time.Since(started)
			return report, err
		}
		report.Total += batch.Count
		report.Bytes += batch.Bytes
		report.Skipped += batch.Skipped
		report.Successes = append(report.Successes, batch.Successes...)
		report.Failures = append(report.Failures, batch.Failures...)
		if progress != nil {
			progress(batch, report.Total)
		}
		if batch.Count == 0 {
			break
		}
		report.Batches++
	}
	report.Duration = time.Since(started)
	return report, nil
}
