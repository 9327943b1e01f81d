package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultCell       ResultType = "cell"
	ResultResolution ResultType = "resolution"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	Text     string     `json:"text"`
	TeamID   string     `json:"teamId"`
	MemberID string     `json:"memberId"`
	Username string     `json:"username"`
	Source   string     `json:"source,omitempty"`
}

// Query describes a search request. TeamID scopes every search; results
// never cross teams.
type Query struct {
	Text       string
	TeamID     string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexCells(cells []CellRecord) error
	IndexResolutions(resolutions []ResolutionRecord) error
}

// CellRecord is the data we index for a card cell. Cell text is fixed at
// generation, so records are written once.
type CellRecord struct {
	ID       string `json:"id"`
	TeamID   string `json:"teamId"`
	MemberID string `json:"memberId"`
	Username string `json:"username"`
	Text     string `json:"text"`
	Source   string `json:"source"`
}

// ResolutionRecord is the data we index for a provided resolution.
type ResolutionRecord struct {
	ID       string `json:"id"`
	TeamID   string `json:"teamId"`
	MemberID string `json:"memberId"`
	Username string `json:"username"`
	Body     string `json:"body"`
}
