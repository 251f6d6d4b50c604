package domain

import "fmt"

// ChangeKind is the remote action a record change requires
type ChangeKind string

const (
	ChangeKindNone   ChangeKind = ""
	ChangeKindUpsert ChangeKind = "upsert"
	ChangeKindDelete ChangeKind = "delete"
)

// Lifecycle is a record lifecycle event raised by the system that owns the records
type Lifecycle string

const (
	LifecycleWrite            Lifecycle = "write"
	LifecyclePublish          Lifecycle = "publish"
	LifecyclePublishRecursive Lifecycle = "publish_recursive"
	LifecycleUnpublish        Lifecycle = "unpublish"
	LifecycleBeforeDelete     Lifecycle = "before_delete"
)

// Valid reports whether the lifecycle event is known.
func (l Lifecycle) Valid() bool {
	switch l {
	case LifecycleWrite, LifecyclePublish, LifecyclePublishRecursive, LifecycleUnpublish, LifecycleBeforeDelete:
		return true
	}
	return false
}

// ChangeKindFor maps a lifecycle event to a remote action.
// Types that support publishing only change the index on publish and unpublish.
func ChangeKindFor(lifecycle Lifecycle, supportsPublishing bool) ChangeKind {
	if supportsPublishing {
		switch lifecycle {
		case LifecyclePublish, LifecyclePublishRecursive:
			return ChangeKindUpsert
		case LifecycleUnpublish:
			return ChangeKindDelete
		}
		return ChangeKindNone
	}
	switch lifecycle {
	case LifecycleWrite:
		return ChangeKindUpsert
	case LifecycleBeforeDelete:
		return ChangeKindDelete
	}
	return ChangeKindNone
}

// LifecycleEvent is an inbound notification about a record
type LifecycleEvent struct {
	RecordID    int64     `json:"record_id"`
	RecordType  string    `json:"record_type"`
	Lifecycle   Lifecycle `json:"lifecycle"`
	Synchronous bool      `json:"synchronous,omitempty"`
}

// Validate checks the event carries a record reference and a known lifecycle.
func (e LifecycleEvent) Validate() error {
	if e.RecordID <= 0 {
		return fmt.Errorf("%w: record_id must be positive", ErrInvalidInput)
	}
	if e.RecordType == "" {
		return fmt.Errorf("%w: record_type is required", ErrInvalidInput)
	}
	if !e.Lifecycle.Valid() {
		return fmt.Errorf("%w: unknown lifecycle %q", ErrInvalidInput, e.Lifecycle)
	}
	return nil
}

// RecordChangeEvent is the transient signal produced by the change router
type RecordChangeEvent struct {
	RecordID    int64      `json:"record_id"`
	RecordType  string     `json:"record_type"`
	Kind        ChangeKind `json:"kind"`
	Synchronous bool       `json:"synchronous"`
}
