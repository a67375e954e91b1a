package chroma

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jks-lab/ragchat/internal/core/domain"
	"github.com/jks-lab/ragchat/internal/infrastructure/resilience"
)

// Client talks to one Chroma collection over the REST API and implements
// ports.VectorIndex. The collection is resolved by name on first use and
// created when missing.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
	executor   *resilience.Executor

	resolveMu    sync.Mutex
	collectionID string
}

type Options struct {
	HTTPTimeout        time.Duration
	ResilienceExecutor *resilience.Executor
}

func New(baseURL, collection string, options Options) *Client {
	timeout := options.HTTPTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: timeout},
		executor:   options.ResilienceExecutor,
	}
}

func (c *Client) Name() string { return c.collection }

func (c *Client) Query(ctx context.Context, embedding []float32, topK int, where domain.Where) (domain.QueryResult, error) {
	id, err := c.resolveCollection(ctx)
	if err != nil {
		return domain.QueryResult{}, err
	}

	payload := map[string]any{
		"query_embeddings": [][]float32{embedding},
		"n_results":        topK,
		"include":          []string{"documents", "metadatas", "distances"},
	}
	if !where.IsZero() {
		payload["where"] = map[string]any{where.Key: where.Value}
	}

	var response struct {
		Documents [][]string         `json:"documents"`
		Metadatas [][]map[string]any `json:"metadatas"`
		Distances [][]float64        `json:"distances"`
	}
	err = c.execute(ctx, "chroma.query", func(ctx context.Context) error {
		return c.postJSON(ctx, fmt.Sprintf("/api/v1/collections/%s/query", id), payload, &response, "query")
	})
	if err != nil {
		return domain.QueryResult{}, err
	}

	var out domain.QueryResult
	if len(response.Documents) == 0 {
		return out, nil
	}
	docs := response.Documents[0]
	for i, doc := range docs {
		var meta domain.Metadata
		if len(response.Metadatas) > 0 && i < len(response.Metadatas[0]) {
			meta = toMetadata(response.Metadatas[0][i])
		}
		distance := 0.0
		if len(response.Distances) > 0 && i < len(response.Distances[0]) {
			distance = response.Distances[0][i]
		}
		out.Append(doc, meta, distance)
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, where domain.Where, limit int) (domain.GetResult, error) {
	payload := map[string]any{
		"include": []string{"documents", "metadatas"},
	}
	if !where.IsZero() {
		payload["where"] = map[string]any{where.Key: where.Value}
	}
	if limit > 0 {
		payload["limit"] = limit
	}
	return c.get(ctx, payload)
}

// GetContains is Chroma's where_document $contains lookup, used for
// keyword augmentation.
func (c *Client) GetContains(ctx context.Context, substring string, limit int) (domain.GetResult, error) {
	payload := map[string]any{
		"include":        []string{"documents", "metadatas"},
		"where_document": map[string]any{"$contains": substring},
	}
	if limit > 0 {
		payload["limit"] = limit
	}
	return c.get(ctx, payload)
}

func (c *Client) get(ctx context.Context, payload map[string]any) (domain.GetResult, error) {
	id, err := c.resolveCollection(ctx)
	if err != nil {
		return domain.GetResult{}, err
	}

	var response struct {
		IDs       []string         `json:"ids"`
		Documents []string         `json:"documents"`
		Metadatas []map[string]any `json:"metadatas"`
	}
	err = c.execute(ctx, "chroma.get", func(ctx context.Context) error {
		return c.postJSON(ctx, fmt.Sprintf("/api/v1/collections/%s/get", id), payload, &response, "get")
	})
	if err != nil {
		return domain.GetResult{}, err
	}

	out := domain.GetResult{IDs: response.IDs, Documents: response.Documents}
	out.Metadatas = make([]domain.Metadata, 0, len(response.Metadatas))
	for _, raw := range response.Metadatas {
		out.Metadatas = append(out.Metadatas, toMetadata(raw))
	}
	return out, nil
}

func (c *Client) Count(ctx context.Context) (int, error) {
	id, err := c.resolveCollection(ctx)
	if err != nil {
		return 0, err
	}

	var count int
	err = c.execute(ctx, "chroma.count", func(ctx context.Context) error {
		return c.getJSON(ctx, fmt.Sprintf("/api/v1/collections/%s/count", id), &count, "count")
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (c *Client) Upsert(ctx context.Context, docID string, embedding []float32, document string, metadata domain.Metadata) error {
	id, err := c.resolveCollection(ctx)
	if err != nil {
		return err
	}

	meta := map[string]any{}
	for k, v := range metadata {
		meta[k] = v
	}
	payload := map[string]any{
		"ids":        []string{docID},
		"embeddings": [][]float32{embedding},
		"documents":  []string{document},
		"metadatas":  []map[string]any{meta},
	}
	return c.execute(ctx, "chroma.upsert", func(ctx context.Context) error {
		return c.postJSON(ctx, fmt.Sprintf("/api/v1/collections/%s/upsert", id), payload, nil, "upsert")
	})
}

func (c *Client) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	id, err := c.resolveCollection(ctx)
	if err != nil {
		return err
	}
	payload := map[string]any{"ids": ids}
	return c.execute(ctx, "chroma.delete", func(ctx context.Context) error {
		return c.postJSON(ctx, fmt.Sprintf("/api/v1/collections/%s/delete", id), payload, nil, "delete")
	})
}

func (c *Client) execute(ctx context.Context, operation string, call func(context.Context) error) error {
	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, operation, call, classifyChromaError)
	} else {
		err = call(ctx)
	}
	return wrapTemporaryIfNeeded(operation, err)
}

// resolveCollection maps the collection name to its server-side ID once,
// creating the collection when it does not exist yet.
func (c *Client) resolveCollection(ctx context.Context) (string, error) {
	c.resolveMu.Lock()
	defer c.resolveMu.Unlock()
	if c.collectionID != "" {
		return c.collectionID, nil
	}

	payload := map[string]any{
		"name":          c.collection,
		"get_or_create": true,
		"metadata":      map[string]any{"hnsw:space": "cosine"},
	}
	var response struct {
		ID string `json:"id"`
	}
	err := c.execute(ctx, "chroma.resolve_collection", func(ctx context.Context) error {
		return c.postJSON(ctx, "/api/v1/collections", payload, &response, "resolve collection")
	})
	if err != nil {
		return "", err
	}
	if response.ID == "" {
		return "", fmt.Errorf("chroma resolve collection: empty id for %q", c.collection)
	}
	c.collectionID = response.ID
	return c.collectionID, nil
}

func toMetadata(raw map[string]any) domain.Metadata {
	if raw == nil {
		return nil
	}
	meta := make(domain.Metadata, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			meta[k] = s
			continue
		}
		meta[k] = fmt.Sprintf("%v", v)
	}
	return meta
}
