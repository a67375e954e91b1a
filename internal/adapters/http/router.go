package httpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jks-lab/ragchat/internal/core/domain"
	"github.com/jks-lab/ragchat/internal/core/ports"
	"github.com/jks-lab/ragchat/internal/observability/metrics"
)

const healthCountTimeout = 2 * time.Second

// Router is the HTTP transport over the chat service and the conversation
// memory read model. Indexes are probed for document counts on /health.
type Router struct {
	service string
	chat    ports.ChatService
	memory  ports.ConversationMemory
	indexes map[string]ports.VectorIndex
	metrics *metrics.HTTPServerMetrics
	logger  *slog.Logger

	rateLimitRPS   float64
	rateLimitBurst int
	maxConcurrent  int
}

type RouterOptions struct {
	Service        string
	Chat           ports.ChatService
	Memory         ports.ConversationMemory
	Indexes        map[string]ports.VectorIndex
	Metrics        *metrics.HTTPServerMetrics
	Logger         *slog.Logger
	RateLimitRPS   float64
	RateLimitBurst int
	MaxConcurrent  int
}

func NewRouter(opts RouterOptions) *Router {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Router{
		service:        opts.Service,
		chat:           opts.Chat,
		memory:         opts.Memory,
		indexes:        opts.Indexes,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		rateLimitRPS:   opts.RateLimitRPS,
		rateLimitBurst: opts.RateLimitBurst,
		maxConcurrent:  opts.MaxConcurrent,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat", rt.chatHandler)
	mux.HandleFunc("/reset", rt.resetHandler)
	mux.HandleFunc("/health", rt.health)
	mux.HandleFunc("/users", rt.listUsers)
	mux.HandleFunc("/users/", rt.deleteUser)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(rt.service, handler)
	}
	if rt.maxConcurrent > 0 {
		handler = backpressureMiddleware(handler, rt.maxConcurrent, backpressureWait)
	}
	if rt.rateLimitRPS > 0 {
		handler = rateLimitMiddleware(handler, rt.rateLimitRPS, rt.rateLimitBurst)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) chatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	start := time.Now()
	answer, err := rt.chat.Chat(r.Context(), req)
	if err != nil {
		status := mapErrorToHTTPStatus(err)
		rt.logger.Warn("chat request failed",
			slog.String("request_id", requestIDFromContext(r.Context())),
			slog.Int("status", status),
			slog.String("error", err.Error()))
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordChatObservation(rt.service, answer.Engine,
			len(answer.Sources), len(answer.Charts), time.Since(start))
	}
	writeJSON(w, http.StatusOK, answer)
}

func (rt *Router) resetHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		UserName string `json:"user_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	if err := rt.chat.Reset(r.Context(), req.UserName); err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "user_name": req.UserName})
}

// health reports per-collection document counts. A count failure degrades
// the status instead of failing the endpoint.
func (rt *Router) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	status := "ok"
	documents := make(map[string]int, len(rt.indexes))
	for name, index := range rt.indexes {
		ctx, cancel := context.WithTimeout(r.Context(), healthCountTimeout)
		count, err := index.Count(ctx)
		cancel()
		if err != nil {
			rt.logger.Warn("health count failed",
				slog.String("collection", name), slog.String("error", err.Error()))
			status = "degraded"
			count = -1
		}
		documents[name] = count
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"documents": documents,
	})
}

func (rt *Router) listUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if rt.memory == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "conversation memory is not configured"})
		return
	}

	users, err := rt.memory.Users(r.Context())
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	if users == nil {
		users = []domain.UserInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users, "count": len(users)})
}

func (rt *Router) deleteUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if rt.memory == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "conversation memory is not configured"})
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/users/")
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}
	if name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user name is required"})
		return
	}

	deleted, err := rt.memory.DeleteUser(r.Context(), name)
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	if deleted == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no conversations found for user"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_name":             name,
		"deleted_conversations": deleted,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
