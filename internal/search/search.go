package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultItem     ResultType = "item"
	ResultActivity ResultType = "activity"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	ProjectID  string     `json:"projectId,omitempty"`
	QAItemID   string     `json:"qaItemId,omitempty"`
	ItemNumber string     `json:"itemNumber,omitempty"`
	Status     string     `json:"status,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text            string
	FilterType      ResultType // empty = all types
	FilterProjectID string
	Limit           int
	Offset          int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ItemRecord is the data we index for a QA item.
type ItemRecord struct {
	ID          string `json:"id"`
	ItemNumber  string `json:"itemNumber"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ProjectID   string `json:"projectId"`
	Status      string `json:"status"`
	Severity    string `json:"severity"`
	Discipline  string `json:"discipline"`
}

// ActivityRecord is the data we index for an activity log entry.
type ActivityRecord struct {
	ID           string `json:"id"`
	Description  string `json:"description"`
	ActivityType string `json:"activityType"`
	ProjectID    string `json:"projectId"`
	QAItemID     string `json:"qaItemId"`
	ItemNumber   string `json:"itemNumber"`
}
