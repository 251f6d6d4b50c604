package normalisers

import (
	"reflect"
	"sync"
	"testing"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driven"
)

type stubNormaliser struct {
	tag      string
	types    []string
	priority int
}

func (s *stubNormaliser) Normalise(content string, _ string) string { return s.tag + ":" + content }
func (s *stubNormaliser) SupportedTypes() []string                  { return s.types }
func (s *stubNormaliser) Priority() int                             { return s.priority }

func TestRegistry_GetLookupOrder(t *testing.T) {
	exact := &stubNormaliser{tag: "exact", types: []string{"text/markdown"}, priority: 20}
	family := &stubNormaliser{tag: "family", types: []string{"text/*"}, priority: 10}
	fallback := &stubNormaliser{tag: "any", types: []string{"*/*"}, priority: 1}

	r := NewRegistry()
	r.Register(fallback)
	r.Register(family)
	r.Register(exact)

	tests := []struct {
		mimeType string
		want     driven.Normaliser
	}{
		{"text/markdown", exact},
		{"TEXT/Markdown; charset=utf-8", exact},
		{"text/csv", family},
		{"application/json", fallback},
		{"", fallback},
	}
	for _, tt := range tests {
		t.Run(tt.mimeType, func(t *testing.T) {
			if got := r.Get(tt.mimeType); got != tt.want {
				t.Errorf("Get(%q) = %v, want %v", tt.mimeType, got, tt.want)
			}
		})
	}
}

func TestRegistry_PriorityBeatsSpecificity(t *testing.T) {
	weak := &stubNormaliser{tag: "weak", types: []string{"text/html"}, priority: 5}
	strong := &stubNormaliser{tag: "strong", types: []string{"text/*"}, priority: 60}

	r := NewRegistry()
	r.Register(weak)
	r.Register(strong)

	if got := r.Get("text/html"); got != strong {
		t.Errorf("expected higher priority wildcard to win, got %v", got)
	}
}

func TestRegistry_SameTypeKeepsHighestFirst(t *testing.T) {
	low := &stubNormaliser{tag: "low", types: []string{"text/html"}, priority: 2}
	high := &stubNormaliser{tag: "high", types: []string{"text/html"}, priority: 70}

	r := NewRegistry()
	r.Register(high)
	r.Register(low)

	if got := r.Get("text/html"); got != high {
		t.Errorf("expected %v, got %v", high, got)
	}
}

func TestRegistry_EmptyReturnsNil(t *testing.T) {
	r := NewRegistry()
	if got := r.Get("text/html"); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
	if n, mimeType := r.ForStorage(domain.StorageHTML); n != nil || mimeType != MIMETypeHTML {
		t.Errorf("expected mapped type without normaliser, got %v %q", n, mimeType)
	}
}

func TestRegistry_ForStorage(t *testing.T) {
	r := DefaultRegistry()

	n, mimeType := r.ForStorage(domain.StorageHTML)
	if mimeType != MIMETypeHTML {
		t.Fatalf("expected %s, got %q", MIMETypeHTML, mimeType)
	}
	if _, ok := n.(*HTMLNormaliser); !ok {
		t.Fatalf("expected HTML normaliser, got %T", n)
	}
	if got := n.Normalise("<p>Fish &amp; Chips</p>", mimeType); got != "Fish & Chips" {
		t.Errorf("unexpected text %q", got)
	}

	for _, kind := range []domain.StorageKind{domain.StorageText, domain.StorageInt, domain.StorageJSON} {
		if n, mimeType := r.ForStorage(kind); n != nil || mimeType != "" {
			t.Errorf("%s: expected no normaliser, got %v %q", kind, n, mimeType)
		}
	}
}

func TestRegistry_MapStorage(t *testing.T) {
	r := DefaultRegistry()

	r.MapStorage(domain.StorageText, "Text/Plain")
	n, mimeType := r.ForStorage(domain.StorageText)
	if mimeType != MIMETypePlain {
		t.Errorf("expected lowercased type, got %q", mimeType)
	}
	if _, ok := n.(*PlaintextNormaliser); !ok {
		t.Errorf("expected plain text normaliser, got %T", n)
	}

	r.MapStorage(domain.StorageHTML, "")
	if n, _ := r.ForStorage(domain.StorageHTML); n != nil {
		t.Errorf("expected html mapping removed, got %T", n)
	}
}

func TestRegistry_List(t *testing.T) {
	want := []string{"*/*", "application/xhtml+xml", MIMETypeHTML, MIMETypePlain}
	if got := DefaultRegistry().List(); !reflect.DeepEqual(got, want) {
		t.Errorf("List() = %v, want %v", got, want)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := DefaultRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Register(&stubNormaliser{tag: "x", types: []string{"text/x-custom"}, priority: 10})
		}()
		go func() {
			defer wg.Done()
			_, _ = r.ForStorage(domain.StorageHTML)
		}()
	}
	wg.Wait()
	if r.Get("text/x-custom") == nil {
		t.Error("expected custom normaliser registered")
	}
}

func TestLookupKeys(t *testing.T) {
	tests := map[string][]string{
		"text/html": {"text/html", "text/*", "*/*"},
		"text/*":    {"text/*", "text/*", "*/*"},
		"*/*":       {"*/*"},
		"garbage":   {"garbage", "*/*"},
	}
	for in, want := range tests {
		if got := lookupKeys(in); !reflect.DeepEqual(got, want) {
			t.Errorf("lookupKeys(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPlaintextNormaliser(t *testing.T) {
	n := &PlaintextNormaliser{}
	tests := map[string]string{
		"hello world":      "hello world",
		"a\r\nb\rc":        "a\nb\nc",
		"  padded text \n": "padded text",
	}
	for in, want := range tests {
		if got := n.Normalise(in, MIMETypePlain); got != want {
			t.Errorf("Normalise(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHTMLNormaliser(t *testing.T) {
	n := &HTMLNormaliser{}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain text untouched", "Hello world", "Hello world"},
		{"tags stripped", "<p>Hello <strong>world</strong></p>", "Hello world"},
		{"entities decoded", "Fish &amp; Chips &lt;3 caf&eacute;", "Fish & Chips <3 café"},
		{"script and style dropped", "<style>p{}</style><p>Text</p><script>alert(1)</script>", "Text"},
		{"blocks become lines", "<h1>Title</h1><p>First</p><p>Second</p>", "Title\nFirst\nSecond"},
		{"line breaks", "one<br/>two", "one\ntwo"},
		{"whitespace collapsed", "<p>  lots   of\tspace&nbsp;here </p>", "lots of space here"},
		{"shortcodes kept", "<p>[embed id=1]</p>", "[embed id=1]"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := n.Normalise(tt.input, MIMETypeHTML); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}

	if n.Priority() <= (&PlaintextNormaliser{}).Priority() {
		t.Error("expected HTML normaliser to outrank the fallback")
	}
}
