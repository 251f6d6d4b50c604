package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Collection describes one searchable collection and the record type that feeds it.
type Collection struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	RecordType string    `json:"record_type"`
	Enabled    bool      `json:"enabled"`
	FromConfig bool      `json:"from_config"`
	Metadata   string    `json:"metadata"` // pretty printed schema JSON
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewCollection creates an enabled collection descriptor.
func NewCollection(name, recordType string) *Collection {
	now := time.Now()
	return &Collection{
		ID:         GenerateID(),
		Name:       name,
		RecordType: recordType,
		Enabled:    true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// HasMetadata reports whether schema metadata has been recorded.
func (c *Collection) HasMetadata() bool {
	return strings.TrimSpace(c.Metadata) != ""
}

// Schema decodes the stored metadata. It does not validate it.
func (c *Collection) Schema() (*CollectionSchema, error) {
	if !c.HasMetadata() {
		return nil, &SchemaValidationError{Reason: "collection has no metadata"}
	}
	var schema CollectionSchema
	if err := json.Unmarshal([]byte(c.Metadata), &schema); err != nil {
		return nil, &SchemaValidationError{Reason: err.Error()}
	}
	return &schema, nil
}

// FieldType is a remote store field type.
type FieldType string

const (
	FieldTypeString      FieldType = "string"
	FieldTypeStringArray FieldType = "string[]"
	FieldTypeInt32       FieldType = "int32"
	FieldTypeInt64       FieldType = "int64"
	FieldTypeFloat       FieldType = "float"
	FieldTypeBool        FieldType = "bool"
	FieldTypeObject      FieldType = "object"
	FieldTypeObjectArray FieldType = "object[]"
)

// IsStringType reports whether values of this type are full-text searchable.
func (t FieldType) IsStringType() bool {
	return t == FieldTypeString || t == FieldTypeStringArray
}

// FieldSpec is one field of a collection schema.
type FieldSpec struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Facet    bool      `json:"facet,omitempty"`
	Optional bool      `json:"optional,omitempty"`
	// Index is nil when unset, which the remote store treats as true.
	Index *bool `json:"index,omitempty"`
}

// Indexed reports whether the field is indexed, defaulting to true.
func (f FieldSpec) Indexed() bool {
	return f.Index == nil || *f.Index
}

// CollectionSchema is the validated form of a collection's metadata.
type CollectionSchema struct {
	Name                string      `json:"name"`
	Fields              []FieldSpec `json:"fields"`
	TokenSeparators     []string    `json:"token_separators,omitempty"`
	SymbolsToIndex      []string    `json:"symbols_to_index,omitempty"`
	DefaultSortingField string      `json:"default_sorting_field,omitempty"`
}

// MetadataKeys is the allow-list of top-level metadata keys.
var MetadataKeys = []string{
	"name",
	"fields",
	"token_separators",
	"symbols_to_index",
	"default_sorting_field",
}

// QueryByFields returns the indexed string fields, quoting names that contain a backtick.
func (s *CollectionSchema) QueryByFields() []string {
	var fields []string
	for _, f := range s.Fields {
		if !f.Type.IsStringType() || !f.Indexed() {
			continue
		}
		name := f.Name
		if strings.Contains(name, "`") {
			name = "`" + name + "`"
		}
		fields = append(fields, name)
	}
	return fields
}

// WithDefaultFields returns the schema fields with the default document fields prepended,
// as sent to the remote store when creating the collection. The id field is implicit
// there and fields the schema redeclares keep the schema's definition.
func (s *CollectionSchema) WithDefaultFields() []FieldSpec {
	declared := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		declared[f.Name] = true
	}
	out := make([]FieldSpec, 0, len(s.Fields)+len(DefaultFieldSpecs()))
	for _, f := range DefaultFieldSpecs() {
		if f.Name != FieldID && !declared[f.Name] {
			out = append(out, f)
		}
	}
	return append(out, s.Fields...)
}

// Default document fields present in every collection.
const (
	FieldID           = "id"
	FieldClassName    = "ClassName"
	FieldLastEdited   = "LastEdited"
	FieldCreated      = "Created"
	FieldResultData   = "TypesenseSearchResultData"
	FieldTitle        = "Title"
	FieldShowInSearch = "ShowInSearch"
)

// DefaultFieldSpecs returns the fields every document carries.
func DefaultFieldSpecs() []FieldSpec {
	noIndex := false
	return []FieldSpec{
		{Name: FieldID, Type: FieldTypeInt64},
		{Name: FieldClassName, Type: FieldTypeString, Facet: true},
		{Name: FieldLastEdited, Type: FieldTypeInt64},
		{Name: FieldCreated, Type: FieldTypeInt64},
		{Name: FieldResultData, Type: FieldTypeObjectArray, Index: &noIndex},
	}
}

// StaticCollection is a collection declared in configuration rather than created by an administrator.
type StaticCollection struct {
	Name       string `yaml:"name" json:"name"`
	RecordType string `yaml:"record_type" json:"record_type"`
	// Metadata is the schema JSON
	Metadata string `yaml:"-" json:"metadata"`
}
