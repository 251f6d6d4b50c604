package normalisers

import (
	"sort"
	"strings"
	"sync"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.NormaliserRegistry = (*Registry)(nil)

const (
	MIMETypeHTML  = "text/html"
	MIMETypePlain = "text/plain"
	anyType       = "*/*"
)

// Registry indexes normalisers by the MIME types they declare. A lookup tries the
// exact type, then "major/*", then "*/*", and takes the highest priority found.
type Registry struct {
	mu      sync.RWMutex
	byType  map[string][]driven.Normaliser
	storage map[domain.StorageKind]string
}

// NewRegistry creates a registry with no normalisers. HTML storage maps to text/html.
func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[string][]driven.Normaliser),
		storage: map[domain.StorageKind]string{
			domain.StorageHTML: MIMETypeHTML,
		},
	}
}

// DefaultRegistry registers the HTML normaliser and the plain text fallback.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&PlaintextNormaliser{})
	r.Register(&HTMLNormaliser{})
	return r
}

func (r *Registry) Register(n driven.Normaliser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range n.SupportedTypes() {
		key := baseType(t)
		list := append(r.byType[key], n)
		sort.SliceStable(list, func(i, j int) bool { return list[i].Priority() > list[j].Priority() })
		r.byType[key] = list
	}
}

// MapStorage routes a storage kind through the normaliser for mimeType.
// An empty mimeType removes the mapping.
func (r *Registry) MapStorage(kind domain.StorageKind, mimeType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if mimeType == "" {
		delete(r.storage, kind)
		return
	}
	r.storage[kind] = baseType(mimeType)
}

func (r *Registry) ForStorage(kind domain.StorageKind) (driven.Normaliser, string) {
	r.mu.RLock()
	mimeType, ok := r.storage[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, ""
	}
	return r.Get(mimeType), mimeType
}

func (r *Registry) Get(mimeType string) driven.Normaliser {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best driven.Normaliser
	for _, key := range lookupKeys(baseType(mimeType)) {
		list := r.byType[key]
		if len(list) > 0 && (best == nil || list[0].Priority() > best.Priority()) {
			best = list[0]
		}
	}
	return best
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.byType))
	for t := range r.byType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// baseType lowercases a MIME type and drops parameters such as charset.
func baseType(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// lookupKeys lists the index keys that can serve mimeType, most specific first.
func lookupKeys(mimeType string) []string {
	keys := []string{mimeType}
	if major, _, ok := strings.Cut(mimeType, "/"); ok && major != "*" {
		keys = append(keys, major+"/*")
	}
	if mimeType != anyType {
		keys = append(keys, anyType)
	}
	return keys
}

// PlaintextNormaliser unifies line endings and trims. It serves any type nothing
// more specific claims.
type PlaintextNormaliser struct{}

func (n *PlaintextNormaliser) Normalise(content string, _ string) string {
	return strings.TrimSpace(strings.NewReplacer("\r\n", "\n", "\r", "\n").Replace(content))
}

func (n *PlaintextNormaliser) SupportedTypes() []string {
	return []string{MIMETypePlain, anyType}
}

func (n *PlaintextNormaliser) Priority() int { return 1 }
