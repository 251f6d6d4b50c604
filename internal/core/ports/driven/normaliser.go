package driven

import "github.com/custodia-labs/sercha-typesense/internal/core/domain"

// Normaliser turns stored rich content into the plain text that is indexed.
type Normaliser interface {
	// Normalise converts content of the given MIME type.
	Normalise(content string, mimeType string) string

	// SupportedTypes lists exact MIME types or "major/*" and "*/*" patterns.
	SupportedTypes() []string

	// Priority breaks ties between normalisers for the same type. Higher wins.
	Priority() int
}

// NormaliserRegistry resolves normalisers for stored record fields.
type NormaliserRegistry interface {
	// ForStorage returns the normaliser for a storage kind together with the
	// MIME type to pass to it. A nil normaliser means the value is indexed as stored.
	ForStorage(kind domain.StorageKind) (Normaliser, string)

	// Get returns the best normaliser for a MIME type, or nil.
	Get(mimeType string) Normaliser

	// Register adds a normaliser.
	Register(normaliser Normaliser)

	// List returns the registered MIME types and patterns, sorted.
	List() []string
}
