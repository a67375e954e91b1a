package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jks-lab/ragchat/internal/core/domain"
	"github.com/jks-lab/ragchat/internal/core/ports"
	"github.com/jks-lab/ragchat/internal/infrastructure/resilience"
)

const (
	DefaultBaseURL    = "https://generativelanguage.googleapis.com"
	DefaultGenModel   = "gemini-2.5-pro"
	DefaultCodeModel  = "gemini-3-flash-preview"
	DefaultEmbedModel = "gemini-embedding-001"
)

// Client calls the Gemini REST API. One client serves both engines; the
// question-answering and code-execution paths use different models.
type Client struct {
	baseURL    string
	apiKey     string
	genModel   string
	codeModel  string
	embedModel string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	BaseURL            string
	GenModel           string
	CodeModel          string
	EmbedModel         string
	HTTPTimeout        time.Duration
	ResilienceExecutor *resilience.Executor
}

func New(apiKey string, options Options) *Client {
	baseURL := options.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	genModel := options.GenModel
	if genModel == "" {
		genModel = DefaultGenModel
	}
	codeModel := options.CodeModel
	if codeModel == "" {
		codeModel = DefaultCodeModel
	}
	embedModel := options.EmbedModel
	if embedModel == "" {
		embedModel = DefaultEmbedModel
	}
	timeout := options.HTTPTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		genModel:   genModel,
		codeModel:  codeModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: timeout},
		executor:   options.ResilienceExecutor,
	}
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type content struct {
	Parts []part `json:"parts"`
	Role  string `json:"role,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Embed builds one vector. The task hint maps onto Gemini's taskType so
// queries and documents land in compatible embedding spaces.
func (c *Client) Embed(ctx context.Context, text string, task ports.TaskHint) ([]float32, error) {
	taskType := "RETRIEVAL_DOCUMENT"
	if task == ports.TaskQuery {
		taskType = "RETRIEVAL_QUERY"
	}

	payload := map[string]any{
		"model":    "models/" + c.embedModel,
		"content":  content{Parts: []part{{Text: text}}},
		"taskType": taskType,
	}
	var response struct {
		Embedding struct {
			Values []float32 `json:"values"`
		} `json:"embedding"`
	}
	err := c.execute(ctx, "gemini.embed", func(ctx context.Context) error {
		return c.postJSON(ctx, c.modelPath(c.embedModel, "embedContent"), payload, &response, "embed")
	})
	if err != nil {
		return nil, err
	}
	if len(response.Embedding.Values) == 0 {
		return nil, fmt.Errorf("gemini embed: empty embedding")
	}
	return response.Embedding.Values, nil
}

func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"contents": []content{{Parts: []part{{Text: prompt}}, Role: "user"}},
	}
	var response generateResponse
	err := c.execute(ctx, "gemini.generate", func(ctx context.Context) error {
		return c.postJSON(ctx, c.modelPath(c.genModel, "generateContent"), payload, &response, "generate")
	})
	if err != nil {
		return "", err
	}
	text, _ := splitParts(response)
	if text == "" {
		return "", fmt.Errorf("gemini generate: empty response")
	}
	return text, nil
}

// GenerateWithCodeExecution runs the prompt with the code execution tool
// enabled and collects inline image parts as chart artifacts.
func (c *Client) GenerateWithCodeExecution(ctx context.Context, prompt string) (*ports.GenerateResult, error) {
	payload := map[string]any{
		"contents": []content{{Parts: []part{{Text: prompt}}, Role: "user"}},
		"tools":    []map[string]any{{"codeExecution": map[string]any{}}},
	}
	var response generateResponse
	err := c.execute(ctx, "gemini.generate_code", func(ctx context.Context) error {
		return c.postJSON(ctx, c.modelPath(c.codeModel, "generateContent"), payload, &response, "generate with code execution")
	})
	if err != nil {
		return nil, err
	}

	text, charts := splitParts(response)
	return &ports.GenerateResult{Text: text, Charts: charts}, nil
}

// splitParts joins the text parts and pulls out inline images. Code
// execution responses interleave text, executable code and rendered
// charts; only the text and images reach the user.
func splitParts(response generateResponse) (string, []domain.Chart) {
	var texts []string
	var charts []domain.Chart
	for _, candidate := range response.Candidates {
		for _, p := range candidate.Content.Parts {
			if p.Text != "" {
				texts = append(texts, p.Text)
			}
			if p.InlineData != nil && strings.HasPrefix(p.InlineData.MimeType, "image/") {
				charts = append(charts, domain.Chart{
					MimeType: p.InlineData.MimeType,
					Data:     p.InlineData.Data,
				})
			}
		}
	}
	return strings.TrimSpace(strings.Join(texts, "")), charts
}

func (c *Client) modelPath(model, method string) string {
	return fmt.Sprintf("/v1beta/models/%s:%s", model, method)
}

func (c *Client) execute(ctx context.Context, operation string, call func(context.Context) error) error {
	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, operation, call, classifyGeminiError)
	} else {
		err = call(ctx)
	}
	return wrapTemporaryIfNeeded(operation, err)
}
