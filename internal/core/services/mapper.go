package services

import (
	"fmt"
	"log/slog"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driven"
)

// DocumentMapper turns records into outbound documents.
type DocumentMapper struct {
	types       *domain.RecordTypeRegistry
	normalisers driven.NormaliserRegistry
	logger      *slog.Logger
}

// DocumentMapperConfig holds dependencies for the mapper.
type DocumentMapperConfig struct {
	Types       *domain.RecordTypeRegistry
	Normalisers driven.NormaliserRegistry
	Logger      *slog.Logger
}

// NewDocumentMapper creates a DocumentMapper.
func NewDocumentMapper(cfg DocumentMapperConfig) *DocumentMapper {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	types := cfg.Types
	if types == nil {
		types = domain.NewRecordTypeRegistry()
	}
	return &DocumentMapper{
		types:       types,
		normalisers: cfg.Normalisers,
		logger:      logger,
	}
}

// Build maps a record using the default fields followed by specs.
func (m *DocumentMapper) Build(record domain.Record, specs []domain.FieldSpec) (*domain.Document, error) {
	fields := append(domain.DefaultFieldSpecs(), specs...)
	return m.BuildFields(record, fields)
}

// BuildFields maps a record using exactly the given specs.
// A repeated field name keeps its first position and takes the last value.
func (m *DocumentMapper) BuildFields(record domain.Record, specs []domain.FieldSpec) (*domain.Document, error) {
	doc := domain.NewDocument()
	for i, spec := range specs {
		if spec.Name == "" {
			return nil, &domain.MissingFieldNameError{Index: i}
		}
		doc.Set(spec.Name, m.value(record, spec))
	}
	if !doc.IsEmpty() {
		doc.Set(domain.FieldID, domain.IDString(record))
	}
	return doc, nil
}

func (m *DocumentMapper) value(record domain.Record, spec domain.FieldSpec) any {
	if spec.Name == domain.FieldID {
		return domain.IDString(record)
	}

	value := m.resolve(record, spec.Name)

	stored, ok := record.StoredField(spec.Name)
	if !ok {
		return value
	}
	if stored.Kind.IsTemporal() && spec.Type == domain.FieldTypeInt64 {
		t, ok := domain.TimeValue(stored)
		if !ok || t.Unix() <= 0 {
			return nil
		}
		return t.Unix()
	}
	if plain, ok := m.normalise(stored); ok {
		return plain
	}
	return value
}

// resolve applies override, then accessor, then the stored value.
func (m *DocumentMapper) resolve(record domain.Record, name string) any {
	rt, _ := m.types.Get(record.RecordType())

	if fn, ok := lookupOverride(record, rt, name); ok {
		return fn(record)
	}
	if fn, ok := lookupAccessor(record, rt, name); ok {
		return fn(record)
	}
	if stored, ok := record.StoredField(name); ok {
		return stored.Value
	}

	switch name {
	case domain.FieldClassName:
		return record.RecordType()
	case domain.FieldResultData:
		return m.resultData(record, rt)
	}
	return nil
}

func lookupOverride(record domain.Record, rt *domain.RecordType, name string) (domain.FieldFunc, bool) {
	if rt != nil {
		if fn, ok := rt.Overrides[name]; ok && fn != nil {
			return fn, true
		}
	}
	if o, ok := record.(domain.FieldOverrider); ok {
		return o.FieldOverride(name)
	}
	return nil, false
}

func lookupAccessor(record domain.Record, rt *domain.RecordType, name string) (domain.FieldFunc, bool) {
	if rt != nil {
		if fn, ok := rt.Accessors[name]; ok && fn != nil {
			return fn, true
		}
	}
	if a, ok := record.(domain.FieldAccessor); ok {
		return a.FieldAccessor(name)
	}
	return nil, false
}

// resultData is a single entry holding the fields needed to render a search result.
func (m *DocumentMapper) resultData(record domain.Record, rt *domain.RecordType) []map[string]any {
	fields := []string{domain.FieldTitle}
	if rt != nil && len(rt.ResultDataFields) > 0 {
		fields = rt.ResultDataFields
	}
	entry := make(map[string]any, len(fields))
	for _, f := range fields {
		stored, ok := record.StoredField(f)
		if !ok {
			continue
		}
		if plain, ok := m.normalise(stored); ok {
			entry[f] = plain
			continue
		}
		entry[f] = stored.Value
	}
	return []map[string]any{entry}
}

// normalise flattens a stored value when its kind maps to a normaliser.
// It reports false when the value should be indexed as resolved.
func (m *DocumentMapper) normalise(stored domain.StoredValue) (any, bool) {
	if m.normalisers == nil {
		return nil, false
	}
	n, mimeType := m.normalisers.ForStorage(stored.Kind)
	if n == nil {
		if mimeType != "" {
			m.logger.Warn("no normaliser registered", "kind", stored.Kind, "mime_type", mimeType)
		}
		return stored.Value, mimeType != ""
	}
	if stored.Value == nil {
		return nil, true
	}
	var raw string
	switch s := stored.Value.(type) {
	case string:
		raw = s
	case []byte:
		raw = string(s)
	default:
		raw = fmt.Sprint(s)
	}
	return n.Normalise(raw, mimeType), true
}
