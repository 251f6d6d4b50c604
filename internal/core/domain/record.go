package domain

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// StorageKind describes how a record field is stored locally.
type StorageKind string

const (
	StorageText     StorageKind = "text"
	StorageHTML     StorageKind = "html"
	StorageDate     StorageKind = "date"
	StorageDatetime StorageKind = "datetime"
	StorageInt      StorageKind = "int"
	StorageFloat    StorageKind = "float"
	StorageBool     StorageKind = "bool"
	StorageJSON     StorageKind = "json"
)

// IsTemporal reports whether the kind holds a date or timestamp.
func (k StorageKind) IsTemporal() bool {
	return k == StorageDate || k == StorageDatetime
}

// StoredValue is a raw field value together with its storage kind.
type StoredValue struct {
	Kind  StorageKind
	Value any
}

// Record is a locally stored row that can be indexed.
type Record interface {
	RecordID() int64
	RecordType() string
	// StoredField returns the stored value for name. ok is false when the
	// record has no stored field of that name.
	StoredField(name string) (StoredValue, bool)
}

// FieldFunc derives a document value from a record.
type FieldFunc func(r Record) any

// FieldOverrider is implemented by records that override the value of specific fields.
type FieldOverrider interface {
	FieldOverride(name string) (FieldFunc, bool)
}

// FieldAccessor is implemented by records that expose computed fields.
type FieldAccessor interface {
	FieldAccessor(name string) (FieldFunc, bool)
}

// Row is the generic Record loaded from a record source.
type Row struct {
	ID     int64
	Type   string
	Fields map[string]StoredValue
}

var _ Record = (*Row)(nil)

func (r *Row) RecordID() int64    { return r.ID }
func (r *Row) RecordType() string { return r.Type }

func (r *Row) StoredField(name string) (StoredValue, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// IDString returns the record identifier in the form used for document ids.
func IDString(r Record) string {
	return strconv.FormatInt(r.RecordID(), 10)
}

// TimeValue extracts a time from a stored date/datetime value.
// ok is false for unset or unparseable values.
func TimeValue(v StoredValue) (time.Time, bool) {
	switch t := v.Value.(type) {
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, !t.IsZero()
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	case []byte:
		return TimeValue(StoredValue{Kind: v.Kind, Value: string(t)})
	}
	return time.Time{}, false
}

// StoredColumn maps a record field to a column in the record's table.
type StoredColumn struct {
	Field  string      `yaml:"field" json:"field"`
	Column string      `yaml:"column" json:"column"`
	Kind   StorageKind `yaml:"kind" json:"kind"`
}

// RecordType describes a kind of local record and how to load it.
type RecordType struct {
	Name    string
	Parents []string // nearest first
	Table   string
	// LiveTable holds the published view for types that support publishing.
	LiveTable string
	// SupportsPublishing tags types with a draft/published lifecycle.
	SupportsPublishing bool
	// ShowInSearchColumn excludes rows where it is false, when set.
	ShowInSearchColumn string
	// ClassColumn restricts shared tables to this type and its subtypes.
	ClassColumn string
	Columns     []StoredColumn
	// ResultDataFields are copied into the search result data field.
	ResultDataFields []string
	Overrides        map[string]FieldFunc
	Accessors        map[string]FieldFunc
}

// Column returns the stored column for a field.
func (t *RecordType) Column(field string) (StoredColumn, bool) {
	for _, c := range t.Columns {
		if c.Field == field {
			return c, true
		}
	}
	return StoredColumn{}, false
}

// SourceTable returns the table holding indexable rows.
func (t *RecordType) SourceTable() string {
	if t.SupportsPublishing && t.LiveTable != "" {
		return t.LiveTable
	}
	return t.Table
}

// BaseRecordTypes are generic roots never used to link records to collections.
var BaseRecordTypes = map[string]bool{
	"Record":     true,
	"DataObject": true,
	"SiteTree":   true,
}

// RecordTypeRegistry holds known record types. It is built at startup and read-only afterwards.
type RecordTypeRegistry struct {
	types map[string]*RecordType
}

// NewRecordTypeRegistry creates a registry from the given types.
func NewRecordTypeRegistry(types ...*RecordType) *RecordTypeRegistry {
	r := &RecordTypeRegistry{types: make(map[string]*RecordType, len(types))}
	for _, t := range types {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a record type.
func (r *RecordTypeRegistry) Register(t *RecordType) {
	r.types[t.Name] = t
}

// Get returns a record type by name.
func (r *RecordTypeRegistry) Get(name string) (*RecordType, error) {
	t, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRecordType, name)
	}
	return t, nil
}

// Names returns the registered type names in sorted order.
func (r *RecordTypeRegistry) Names() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Ancestry returns the type itself followed by its ancestors, excluding base types.
func (r *RecordTypeRegistry) Ancestry(name string) []string {
	var out []string
	seen := map[string]bool{}
	queue := []string{name}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if seen[current] {
			continue
		}
		seen[current] = true
		if !BaseRecordTypes[current] {
			out = append(out, current)
		}
		if t, ok := r.types[current]; ok {
			queue = append(queue, t.Parents...)
		}
	}
	return out
}

// Descendants returns the type itself and every registered type that inherits from it.
func (r *RecordTypeRegistry) Descendants(name string) []string {
	var out []string
	for _, candidate := range r.Names() {
		for _, ancestor := range r.Ancestry(candidate) {
			if ancestor == name {
				out = append(out, candidate)
				break
			}
		}
	}
	return out
}

// IsLinked reports whether a record of recordType feeds a collection linked to linkedType.
func (r *RecordTypeRegistry) IsLinked(recordType, linkedType string) bool {
	if BaseRecordTypes[linkedType] {
		return false
	}
	for _, ancestor := range r.Ancestry(recordType) {
		if ancestor == linkedType {
			return true
		}
	}
	return false
}
