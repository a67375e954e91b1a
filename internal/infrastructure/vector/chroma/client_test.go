package chroma

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jks-lab/ragchat/internal/core/domain"
)

func newTestServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/collections" {
			_, _ = w.Write([]byte(`{"id":"col-1","name":"test"}`))
			return
		}
		handler(w, r)
	}))
}

func TestQueryFlattensNestedResponse(t *testing.T) {
	var captured map[string]any
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/collections/col-1/query" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{
			"documents": [["doc one", "doc two"]],
			"metadatas": [[{"issue_id": 12, "subject": "로그인"}, {"issue_id": "34"}]],
			"distances": [[0.1, 0.4]]
		}`))
	})
	defer server.Close()

	client := New(server.URL, "test", Options{})
	res, err := client.Query(context.Background(), []float32{0.5}, 2, domain.Where{Key: "hospital", Value: "01"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Len() != 2 {
		t.Fatalf("len = %d", res.Len())
	}
	if res.Metadatas[0].Get("issue_id") != "12" {
		t.Errorf("numeric metadata not stringified: %q", res.Metadatas[0].Get("issue_id"))
	}
	if res.Distances[1] != 0.4 {
		t.Errorf("distances = %v", res.Distances)
	}

	where, _ := captured["where"].(map[string]any)
	if where["hospital"] != "01" {
		t.Errorf("where = %v", captured["where"])
	}
	if captured["n_results"].(float64) != 2 {
		t.Errorf("n_results = %v", captured["n_results"])
	}
}

func TestGetContainsSendsWhereDocument(t *testing.T) {
	var captured map[string]any
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/collections/col-1/get" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"ids":["a"],"documents":["resnet50 실험"],"metadatas":[{"issue_id":"7"}]}`))
	})
	defer server.Close()

	client := New(server.URL, "test", Options{})
	res, err := client.GetContains(context.Background(), "resnet50", 5)
	if err != nil {
		t.Fatalf("GetContains: %v", err)
	}
	if res.Len() != 1 || res.Metadatas[0].Get("issue_id") != "7" {
		t.Errorf("result = %+v", res)
	}

	wd, _ := captured["where_document"].(map[string]any)
	if wd["$contains"] != "resnet50" {
		t.Errorf("where_document = %v", captured["where_document"])
	}
	if captured["limit"].(float64) != 5 {
		t.Errorf("limit = %v", captured["limit"])
	}
}

func TestCountResolvesCollectionOnce(t *testing.T) {
	resolves := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/collections":
			resolves++
			_, _ = w.Write([]byte(`{"id":"col-9"}`))
		case "/api/v1/collections/col-9/count":
			_, _ = w.Write([]byte(`42`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := New(server.URL, "test", Options{})
	for i := 0; i < 3; i++ {
		count, err := client.Count(context.Background())
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		if count != 42 {
			t.Errorf("count = %d", count)
		}
	}
	if resolves != 1 {
		t.Errorf("collection resolved %d times", resolves)
	}
}

func TestErrorsCarryResponseBody(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "dimension mismatch", http.StatusBadRequest)
	})
	defer server.Close()

	client := New(server.URL, "test", Options{})
	_, err := client.Query(context.Background(), []float32{0.5}, 1, domain.Where{})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); !strings.Contains(got, "dimension mismatch") {
		t.Errorf("error = %q", got)
	}
}

func TestTemporaryErrorsAreWrapped(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})
	defer server.Close()

	client := New(server.URL, "test", Options{})
	_, err := client.Query(context.Background(), []float32{0.5}, 1, domain.Where{})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Errorf("err = %v, want temporary kind", err)
	}
}
