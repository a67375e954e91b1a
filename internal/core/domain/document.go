package domain

// Metadata is the scalar key/value map a vector collection stores next to
// each document. Values are kept as strings; the ingestion side is
// responsible for rendering numbers and dates.
type Metadata map[string]string

func (m Metadata) Get(key string) string {
	if m == nil {
		return ""
	}
	return m[key]
}

// Document is one immutable unit of a vector collection: the raw text body
// plus its metadata. The embedding vector is owned by the index, not by us.
type Document struct {
	ID       string
	Text     string
	Metadata Metadata
}

// QueryResult is the native shape a vector index returns for a ranked
// search: three parallel slices.
type QueryResult struct {
	Documents []string
	Metadatas []Metadata
	Distances []float64
}

func (r QueryResult) Len() int { return len(r.Documents) }

// Append keeps the three slices parallel.
func (r *QueryResult) Append(doc string, meta Metadata, distance float64) {
	r.Documents = append(r.Documents, doc)
	r.Metadatas = append(r.Metadatas, meta)
	r.Distances = append(r.Distances, distance)
}

// GetResult is an unordered fetch (no ranking, no distances).
type GetResult struct {
	IDs       []string
	Documents []string
	Metadatas []Metadata
}

func (r GetResult) Len() int { return len(r.Documents) }

// Where is an equality predicate on a single metadata field. A zero Where
// means "no filter".
type Where struct {
	Key   string
	Value string
}

func (w Where) IsZero() bool { return w.Key == "" }
