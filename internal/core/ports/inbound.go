package ports

import (
	"context"

	"github.com/jks-lab/ragchat/internal/core/domain"
)

// ChatService is the inbound contract for answering a user question.
type ChatService interface {
	Chat(ctx context.Context, req domain.ChatRequest) (domain.Answer, error)
	Reset(ctx context.Context, userName string) error
}

// MemoryReader is the inbound read model over stored conversations.
type MemoryReader interface {
	Summary(ctx context.Context, sessionID string) (domain.HistorySummary, error)
	Users(ctx context.Context) ([]domain.UserInfo, error)
}

// MemoryAdmin removes a user's stored conversations.
type MemoryAdmin interface {
	DeleteUser(ctx context.Context, userName string) (int, error)
}
