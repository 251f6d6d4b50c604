package mocks

import (
	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driven"
)

// MockNormaliser echoes content unless NormaliseFn is set.
type MockNormaliser struct {
	NormaliseFn func(content string, mimeType string) string
	Types       []string
}

func NewMockNormaliser() *MockNormaliser {
	return &MockNormaliser{}
}

func (m *MockNormaliser) Normalise(content string, mimeType string) string {
	if m.NormaliseFn != nil {
		return m.NormaliseFn(content, mimeType)
	}
	return content
}

func (m *MockNormaliser) SupportedTypes() []string {
	if len(m.Types) > 0 {
		return m.Types
	}
	return []string{"text/html"}
}

func (m *MockNormaliser) Priority() int { return 100 }

// MockNormaliserRegistry serves one normaliser for every lookup.
// Requested records the storage kinds passed to ForStorage.
type MockNormaliserRegistry struct {
	Requested    []domain.StorageKind
	ForStorageFn func(kind domain.StorageKind) (driven.Normaliser, string)
	normaliser   driven.Normaliser
}

func NewMockNormaliserRegistry() *MockNormaliserRegistry {
	return &MockNormaliserRegistry{normaliser: NewMockNormaliser()}
}

// ForStorage maps html storage to text/html and leaves other kinds alone.
func (m *MockNormaliserRegistry) ForStorage(kind domain.StorageKind) (driven.Normaliser, string) {
	m.Requested = append(m.Requested, kind)
	if m.ForStorageFn != nil {
		return m.ForStorageFn(kind)
	}
	if kind != domain.StorageHTML {
		return nil, ""
	}
	return m.normaliser, "text/html"
}

func (m *MockNormaliserRegistry) Get(string) driven.Normaliser {
	return m.normaliser
}

func (m *MockNormaliserRegistry) Register(normaliser driven.Normaliser) {
	m.normaliser = normaliser
}

func (m *MockNormaliserRegistry) List() []string {
	if m.normaliser == nil {
		return nil
	}
	return m.normaliser.SupportedTypes()
}

// SetNormaliser sets the normaliser every lookup returns.
func (m *MockNormaliserRegistry) SetNormaliser(n driven.Normaliser) {
	m.normaliser = n
}
