package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jks-lab/ragchat/internal/core/domain"
	"github.com/jks-lab/ragchat/internal/core/ports"
)

func TestEmbedSendsTaskType(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":embedContent") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Errorf("api key header = %q", r.Header.Get("x-goog-api-key"))
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"embedding":{"values":[0.1,0.2,0.3]}}`))
	}))
	defer server.Close()

	client := New("test-key", Options{BaseURL: server.URL})
	vector, err := client.Embed(context.Background(), "질문입니다", ports.TaskQuery)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vector) != 3 {
		t.Errorf("vector length = %d", len(vector))
	}
	if captured["taskType"] != "RETRIEVAL_QUERY" {
		t.Errorf("taskType = %v", captured["taskType"])
	}

	if _, err := client.Embed(context.Background(), "문서", ports.TaskDocument); err != nil {
		t.Fatalf("Embed document: %v", err)
	}
	if captured["taskType"] != "RETRIEVAL_DOCUMENT" {
		t.Errorf("taskType = %v", captured["taskType"])
	}
}

func TestGenerateJoinsTextParts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "gemini-2.5-pro:generateContent") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"첫 부분 "},{"text":"둘째 부분"}]}}]}`))
	}))
	defer server.Close()

	client := New("k", Options{BaseURL: server.URL})
	text, err := client.Generate(context.Background(), "질문")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "첫 부분 둘째 부분" {
		t.Errorf("text = %q", text)
	}
}

func TestGenerateWithCodeExecutionCollectsCharts(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "gemini-3-flash-preview:generateContent") {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[
			{"text":"연령 분포입니다."},
			{"inlineData":{"mimeType":"image/png","data":"aWNvbg=="}}
		]}}]}`))
	}))
	defer server.Close()

	client := New("k", Options{BaseURL: server.URL})
	result, err := client.GenerateWithCodeExecution(context.Background(), "차트 그려줘")
	if err != nil {
		t.Fatalf("GenerateWithCodeExecution: %v", err)
	}
	if result.Text != "연령 분포입니다." {
		t.Errorf("text = %q", result.Text)
	}
	if len(result.Charts) != 1 || result.Charts[0].MimeType != "image/png" {
		t.Errorf("charts = %+v", result.Charts)
	}

	tools, _ := captured["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("tools = %v", captured["tools"])
	}
	tool, _ := tools[0].(map[string]any)
	if _, ok := tool["codeExecution"]; !ok {
		t.Errorf("code execution tool missing: %v", tool)
	}
}

func TestRetryableStatusWrappedAsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"quota exceeded"}}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := New("k", Options{BaseURL: server.URL})
	_, err := client.Generate(context.Background(), "질문")
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Errorf("err = %v, want temporary", err)
	}
	if !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("error lost response body: %v", err)
	}
}
