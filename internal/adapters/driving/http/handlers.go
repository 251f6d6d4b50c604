package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/swaggo/swag"

	"github.com/custodia-labs/sercha-typesense/internal/adapters/driving/http/docs"
	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driven"
)

// Reindex runs are one-shot batches of this size
const reindexBatchLimit = 100

// ErrorResponse represents an API error response
// @Description API error response
type ErrorResponse struct {
	Error string `json:"error" example:"invalid request body"`
}

// ReadyResponse reports the health of each dependency
// @Description Readiness response
type ReadyResponse struct {
	Status string            `json:"status" example:"ready"`
	Checks map[string]string `json:"checks"`
}

// CollectionRequest creates or updates a collection descriptor
// @Description Collection create or update request
type CollectionRequest struct {
	RecordType string `json:"record_type" example:"Page"`
	// Metadata is the schema, as a JSON object or a JSON encoded string
	Metadata json.RawMessage `json:"metadata" swaggertype:"object"`
	Enabled  *bool           `json:"enabled,omitempty"`
}

// SyncRequest starts a sync run
// @Description Sync run request
type SyncRequest struct {
	RepeatHours int `json:"repeat_hours" example:"24"`
	Limit       int `json:"limit" example:"100"`
}

// ChangeResponse reports whether a record change was queued or applied
// @Description Record change response
type ChangeResponse struct {
	Routed bool `json:"routed"`
}

// Health endpoints

// handleHealth godoc
// @Summary      Health check
// @Description  Returns the liveness status of the API
// @Tags         Health
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady godoc
// @Summary      Readiness check
// @Description  Checks the database, the task queue and the remote store
// @Tags         Health
// @Produce      json
// @Success      200  {object}  ReadyResponse
// @Failure      503  {object}  ReadyResponse
// @Router       /ready [get]
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := ReadyResponse{Status: "ready", Checks: make(map[string]string, len(s.checks))}
	status := http.StatusOK
	for name, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, status, resp)
}

// handleVersion godoc
// @Summary      Get API version
// @Tags         Health
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /version [get]
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) handleSwaggerDoc(w http.ResponseWriter, r *http.Request) {
	doc, err := swag.ReadDoc(docs.SwaggerInfo.InstanceName())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "api documentation unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(doc))
}

// Auth endpoints

// handleLogin godoc
// @Summary      Login
// @Description  Authenticate a configured principal to receive a JWT token
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        request  body      domain.LoginRequest  true  "Login credentials"
// @Success      200      {object}  domain.LoginResponse
// @Failure      400      {object}  ErrorResponse
// @Failure      401      {object}  ErrorResponse
// @Router       /auth/login [post]
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.authService.Authenticate(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "username and password are required")
		case errors.Is(err, domain.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		default:
			s.writeServiceError(w, r, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Collection endpoints

// handleListCollections godoc
// @Summary      List collections
// @Tags         Collections
// @Produce      json
// @Success      200  {array}   domain.Collection
// @Security     BearerAuth
// @Router       /collections [get]
func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	collections, err := s.collectionService.List(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if collections == nil {
		collections = []*domain.Collection{}
	}
	writeJSON(w, http.StatusOK, collections)
}

// handleCreateCollection godoc
// @Summary      Create collection
// @Description  Validates the schema metadata and stores a new descriptor named after the schema
// @Tags         Collections
// @Accept       json
// @Produce      json
// @Param        request  body      CollectionRequest  true  "Collection"
// @Success      201      {object}  domain.Collection
// @Failure      400      {object}  ErrorResponse
// @Failure      409      {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /collections [post]
func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	req, metadata, ok := decodeCollectionRequest(w, r)
	if !ok {
		return
	}
	collection := &domain.Collection{
		RecordType: req.RecordType,
		Metadata:   metadata,
		Enabled:    req.Enabled == nil || *req.Enabled,
	}
	if err := s.collectionService.Save(r.Context(), collection); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, collection)
}

// handleGetCollection godoc
// @Summary      Get collection
// @Tags         Collections
// @Produce      json
// @Param        name  path      string  true  "Collection name"
// @Success      200   {object}  domain.Collection
// @Failure      404   {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /collections/{name} [get]
func (s *Server) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	collection, err := s.collectionService.Get(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, collection)
}

// handleUpdateCollection godoc
// @Summary      Update collection
// @Description  Replaces the record type and schema metadata. Statically configured collections are read-only.
// @Tags         Collections
// @Accept       json
// @Produce      json
// @Param        name     path      string             true  "Collection name"
// @Param        request  body      CollectionRequest  true  "Collection"
// @Success      200      {object}  domain.Collection
// @Failure      400      {object}  ErrorResponse
// @Failure      403      {object}  ErrorResponse
// @Failure      404      {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /collections/{name} [put]
func (s *Server) handleUpdateCollection(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	existing, err := s.collectionService.Get(r.Context(), name)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if existing.FromConfig {
		writeError(w, http.StatusForbidden, "collection is defined in static configuration")
		return
	}

	req, metadata, ok := decodeCollectionRequest(w, r)
	if !ok {
		return
	}
	schema, err := s.collectionService.ValidateMetadata(metadata)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if schema.Name != name {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("schema name %q does not match collection %q", schema.Name, name))
		return
	}

	existing.RecordType = req.RecordType
	existing.Metadata = metadata
	if req.Enabled != nil {
		existing.Enabled = *req.Enabled
	}
	if err := s.collectionService.Save(r.Context(), existing); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

// handleDeleteCollection godoc
// @Summary      Delete collection
// @Description  Deletes the remote collection and the descriptor
// @Tags         Collections
// @Param        name  path  string  true  "Collection name"
// @Success      204
// @Failure      403  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /collections/{name} [delete]
func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	existing, err := s.collectionService.Get(r.Context(), name)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if existing.FromConfig {
		writeError(w, http.StatusForbidden, "collection is defined in static configuration")
		return
	}
	if err := s.collectionService.Delete(r.Context(), name); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEnableCollection godoc
// @Summary      Enable collection
// @Tags         Collections
// @Param        name  path  string  true  "Collection name"
// @Success      204
// @Failure      404  {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /collections/{name}/enable [post]
func (s *Server) handleEnableCollection(w http.ResponseWriter, r *http.Request) {
	s.setEnabled(w, r, true)
}

// handleDisableCollection godoc
// @Summary      Disable collection
// @Tags         Collections
// @Param        name  path  string  true  "Collection name"
// @Success      204
// @Failure      404  {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /collections/{name}/disable [post]
func (s *Server) handleDisableCollection(w http.ResponseWriter, r *http.Request) {
	s.setEnabled(w, r, false)
}

func (s *Server) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	if err := s.collectionService.SetEnabled(r.Context(), r.PathValue("name"), enabled); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sync endpoints

// handleReindex godoc
// @Summary      Reindex collection
// @Description  Queues a one-shot sync from the first record
// @Tags         Sync
// @Produce      json
// @Param        name  path      string  true  "Collection name"
// @Success      202   {object}  domain.Task
// @Failure      404   {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /collections/{name}/reindex [post]
func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	task, err := s.syncService.Enqueue(r.Context(), r.PathValue("name"), 0, reindexBatchLimit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, task)
}

// handleStartSync godoc
// @Summary      Start sync run
// @Description  Queues a sync run, optionally repeating every repeat_hours
// @Tags         Sync
// @Accept       json
// @Produce      json
// @Param        name     path      string       true   "Collection name"
// @Param        request  body      SyncRequest  false  "Run options"
// @Success      202      {object}  domain.Task
// @Failure      400      {object}  ErrorResponse
// @Failure      404      {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /collections/{name}/sync [post]
func (s *Server) handleStartSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.RepeatHours < 0 || req.Limit < 0 {
		writeError(w, http.StatusBadRequest, "repeat_hours and limit must not be negative")
		return
	}
	task, err := s.syncService.Enqueue(r.Context(), r.PathValue("name"), req.RepeatHours, req.Limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, task)
}

// handleGetSyncState godoc
// @Summary      Get sync state
// @Tags         Sync
// @Produce      json
// @Param        name  path      string  true  "Collection name"
// @Success      200   {object}  domain.SyncState
// @Failure      404   {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /collections/{name}/sync [get]
func (s *Server) handleGetSyncState(w http.ResponseWriter, r *http.Request) {
	state, err := s.syncService.GetSyncState(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleRetrySync godoc
// @Summary      Retry failed sync
// @Description  Resumes a failed run from its recorded cursor
// @Tags         Sync
// @Produce      json
// @Param        name  path      string  true  "Collection name"
// @Success      202   {object}  domain.Task
// @Failure      400   {object}  ErrorResponse  "Sync has not failed"
// @Failure      404   {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /collections/{name}/sync/retry [post]
func (s *Server) handleRetrySync(w http.ResponseWriter, r *http.Request) {
	task, err := s.syncService.Retry(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, task)
}

// handleListSyncStates godoc
// @Summary      List sync states
// @Tags         Sync
// @Produce      json
// @Success      200  {array}  domain.SyncState
// @Security     BearerAuth
// @Router       /sync-states [get]
func (s *Server) handleListSyncStates(w http.ResponseWriter, r *http.Request) {
	states, err := s.syncService.ListSyncStates(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if states == nil {
		states = []*domain.SyncState{}
	}
	writeJSON(w, http.StatusOK, states)
}

// handleListCollectionTasks godoc
// @Summary      List sync tasks of a collection
// @Tags         Sync
// @Produce      json
// @Param        name    path   string  true   "Collection name"
// @Param        status  query  string  false  "Task status"
// @Param        limit   query  int     false  "Maximum tasks"  default(50)
// @Param        offset  query  int     false  "Tasks to skip"
// @Success      200     {array}  domain.Task
// @Security     BearerAuth
// @Router       /collections/{name}/tasks [get]
func (s *Server) handleListCollectionTasks(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tasks, err := s.taskQueue.ListTasks(r.Context(), driven.TaskFilter{
		Collection: r.PathValue("name"),
		Status:     domain.TaskStatus(r.URL.Query().Get("status")),
		Type:       domain.TaskTypeSyncCollection,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []*domain.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// Task endpoints

// handleGetTask godoc
// @Summary      Get task
// @Description  Returns a queued task with its message log
// @Tags         Tasks
// @Produce      json
// @Param        id   path      string  true  "Task ID"
// @Success      200  {object}  domain.Task
// @Failure      404  {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /tasks/{id} [get]
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.taskQueue.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleCancelTask godoc
// @Summary      Cancel task
// @Description  Fails a task that no worker has claimed yet
// @Tags         Tasks
// @Param        id   path  string  true  "Task ID"
// @Success      204
// @Failure      404  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /tasks/{id} [delete]
func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	if err := s.taskQueue.CancelTask(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleQueueStats godoc
// @Summary      Queue statistics
// @Tags         Tasks
// @Produce      json
// @Success      200  {object}  driven.QueueStats
// @Security     BearerAuth
// @Router       /queue/stats [get]
func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.taskQueue.Stats(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Record change endpoints

// handleRecordChange godoc
// @Summary      Record lifecycle event
// @Description  Maps a record lifecycle event to an upsert or delete and routes it to linked collections
// @Tags         Records
// @Accept       json
// @Produce      json
// @Param        request  body      domain.LifecycleEvent  true  "Lifecycle event"
// @Success      202      {object}  ChangeResponse
// @Failure      400      {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /records/changes [post]
func (s *Server) handleRecordChange(w http.ResponseWriter, r *http.Request) {
	var event domain.LifecycleEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	routed, err := s.changeService.HandleLifecycle(r.Context(), event)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ChangeResponse{Routed: routed})
}

// Search endpoints

// handleSearch godoc
// @Summary      Search a collection
// @Description  Runs a term query, or a wildcard field query when fields are given
// @Tags         Search
// @Accept       json
// @Produce      json
// @Param        request  body      domain.SearchRequest  true  "Search request"
// @Success      200      {object}  domain.SearchResult
// @Failure      400      {object}  ErrorResponse
// @Failure      404      {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /search [post]
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req domain.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Collection == "" {
		writeError(w, http.StatusBadRequest, "collection is required")
		return
	}
	result, err := s.searchService.Search(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleSearchKey godoc
// @Summary      Scoped search key
// @Description  Returns a search key restricted to the default result fields
// @Tags         Search
// @Produce      json
// @Success      200  {object}  map[string]string
// @Failure      503  {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /search/key [get]
func (s *Server) handleSearchKey(w http.ResponseWriter, r *http.Request) {
	key, err := s.searchService.ScopedKey(r.Context(), nil)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key})
}

// Helper functions

// decodeCollectionRequest reads a CollectionRequest and returns its metadata as
// a JSON string. It writes the error response itself when decoding fails.
func decodeCollectionRequest(w http.ResponseWriter, r *http.Request) (CollectionRequest, string, bool) {
	var req CollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, "", false
	}
	if req.RecordType == "" {
		writeError(w, http.StatusBadRequest, "record_type is required")
		return req, "", false
	}
	if len(req.Metadata) == 0 {
		writeError(w, http.StatusBadRequest, "metadata is required")
		return req, "", false
	}
	var encoded string
	if err := json.Unmarshal(req.Metadata, &encoded); err == nil {
		return req, encoded, true
	}
	return req, string(req.Metadata), true
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}

// writeServiceError maps domain errors to HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrSyncInProgress),
		errors.Is(err, domain.ErrTaskNotPending):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrMalformed),
		errors.Is(err, domain.ErrUnknownRecordType):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrInvalidCredentials),
		errors.Is(err, domain.ErrTokenInvalid), errors.Is(err, domain.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
