package ports

import (
	"context"
	"time"

	"github.com/jks-lab/ragchat/internal/core/domain"
)

// VectorIndex is one vector collection: semantic query plus the exact and
// substring lookups the retrieval layer needs.
type VectorIndex interface {
	Query(ctx context.Context, embedding []float32, topK int, where domain.Where) (domain.QueryResult, error)
	Get(ctx context.Context, where domain.Where, limit int) (domain.GetResult, error)
	GetContains(ctx context.Context, substring string, limit int) (domain.GetResult, error)
	Count(ctx context.Context) (int, error)
	Upsert(ctx context.Context, id string, embedding []float32, document string, metadata domain.Metadata) error
	Delete(ctx context.Context, ids []string) error
}

// TaskHint tells the embedding backend what the vector will be used for.
type TaskHint string

const (
	TaskQuery    TaskHint = "retrieval_query"
	TaskDocument TaskHint = "retrieval_document"
)

// Embedder builds vectors for queries and documents.
type Embedder interface {
	Embed(ctx context.Context, text string, task TaskHint) ([]float32, error)
}

// GenerateResult carries the model text plus any inline chart artifacts
// produced during tool-assisted generation.
type GenerateResult struct {
	Text   string
	Charts []domain.Chart
}

// Generator produces the final user-facing answer.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateWithCodeExecution(ctx context.Context, prompt string) (*GenerateResult, error)
}

// ConversationMemory stores question/answer turns with semantic recall.
type ConversationMemory interface {
	Append(ctx context.Context, sessionID string, turn domain.Turn) error
	Search(ctx context.Context, sessionID, query string, topK int) ([]domain.MemoryTurn, error)
	Summary(ctx context.Context, sessionID string) (domain.HistorySummary, error)
	Users(ctx context.Context) ([]domain.UserInfo, error)
	DeleteUser(ctx context.Context, userName string) (int, error)
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// SessionStore persists chat sessions between requests.
type SessionStore interface {
	Load(ctx context.Context, sessionID string) (*domain.Session, error)
	Save(ctx context.Context, session *domain.Session) error
	Delete(ctx context.Context, sessionID string) error
}

// TurnQueue publishes/consumes recorded conversation turns.
type TurnQueue interface {
	PublishTurnRecorded(ctx context.Context, record domain.TurnRecord) error
	SubscribeTurnRecorded(ctx context.Context, handler func(context.Context, domain.TurnRecord) error) error
}
