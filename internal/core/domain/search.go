package domain

const (
	// DefaultPerPage is the page size when none is requested
	DefaultPerPage = 10
	// MaxPerPage is the largest page size the remote store accepts
	MaxPerPage = 250
)

// SearchRequest is a query against one collection.
// Either Term or Fields is set; Fields builds a wildcard filter per field.
type SearchRequest struct {
	Collection string            `json:"collection"`
	Term       string            `json:"term,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	Start      int               `json:"start"`
	PerPage    int               `json:"per_page"`
	// Scope is merged under the derived parameters
	Scope map[string]string `json:"scope,omitempty"`
}

// SearchParams are the parameters sent to the remote store
type SearchParams struct {
	Q        string `json:"q"`
	QueryBy  string `json:"query_by"`
	FilterBy string `json:"filter_by,omitempty"`
	Page     int    `json:"page"`
	PerPage  int    `json:"per_page"`
	// Extra holds scope parameters with no dedicated field
	Extra map[string]string `json:"extra,omitempty"`
}

// SearchHit is one matched document
type SearchHit struct {
	Document  map[string]any `json:"document"`
	TextMatch int64          `json:"text_match,omitempty"`
	// Highlight mirrors Document with matched tokens marked
	Highlight  map[string]any `json:"highlight,omitempty"`
	Highlights []Highlight    `json:"highlights,omitempty"`
}

// Highlight is the matched portion of one field
type Highlight struct {
	Field         string   `json:"field"`
	Snippet       string   `json:"snippet,omitempty"`
	Snippets      []string `json:"snippets,omitempty"`
	Value         string   `json:"value,omitempty"`
	Values        []string `json:"values,omitempty"`
	MatchedTokens []any    `json:"matched_tokens,omitempty"`
	Indices       []int    `json:"indices,omitempty"`
}

// SearchResult represents the result of a search query
type SearchResult struct {
	Collection string       `json:"collection"`
	Found      int          `json:"found"`
	Page       int          `json:"page"`
	PerPage    int          `json:"per_page"`
	Hits       []*SearchHit `json:"hits"`
}

// APIKey is a key as reported by the remote store
type APIKey struct {
	ID          int64    `json:"id"`
	ValuePrefix string   `json:"value_prefix"`
	Description string   `json:"description,omitempty"`
	Actions     []string `json:"actions"`
	Collections []string `json:"collections"`
}

// SearchOnlyAction is the only action a search key may carry
const SearchOnlyAction = "documents:search"

// DefaultSearchScope restricts scoped keys to result rendering fields
func DefaultSearchScope() map[string]any {
	return map[string]any{
		"include_fields": FieldTitle + "," + FieldResultData,
	}
}
