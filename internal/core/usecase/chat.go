package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jks-lab/ragchat/internal/core/domain"
	"github.com/jks-lab/ragchat/internal/core/ports"
)

// MaxSessionTurns bounds the in-session history carried between requests;
// long-term recall lives in conversation memory, not here.
const MaxSessionTurns = 10

// ChatUseCase is the inbound chat surface: validate, route, run the chosen
// engine, persist the turn.
type ChatUseCase struct {
	router   *Router
	engines  map[domain.EngineID]*Engine
	sessions ports.SessionStore
	memory   ports.ConversationMemory
	logger   *slog.Logger
	now      func() time.Time
	onRoute  func(engine domain.EngineID, reason string)
}

func NewChatUseCase(
	router *Router,
	engines map[domain.EngineID]*Engine,
	sessions ports.SessionStore,
	memory ports.ConversationMemory,
	logger *slog.Logger,
) *ChatUseCase {
	return &ChatUseCase{
		router:   router,
		engines:  engines,
		sessions: sessions,
		memory:   memory,
		logger:   logger,
		now:      time.Now,
	}
}

// ObserveRoutes registers a callback invoked on every routing decision,
// used for metrics.
func (uc *ChatUseCase) ObserveRoutes(fn func(engine domain.EngineID, reason string)) {
	uc.onRoute = fn
}

// Chat answers one question for one user. Validation failures leave no
// trace: no session is created, nothing is stored.
func (uc *ChatUseCase) Chat(ctx context.Context, req domain.ChatRequest) (domain.Answer, error) {
	const op = "usecase.ChatUseCase.Chat"

	question := strings.TrimSpace(req.Question)
	userName := strings.TrimSpace(req.UserName)
	if question == "" {
		return domain.Answer{}, domain.WrapError(domain.ErrInvalidInput, op, errors.New("question is required"))
	}
	if userName == "" {
		return domain.Answer{}, domain.WrapError(domain.ErrInvalidInput, op, errors.New("user_name is required"))
	}

	session, err := uc.loadOrCreateSession(ctx, userName)
	if err != nil {
		return domain.Answer{}, domain.WrapError(domain.ErrTemporary, op, err)
	}

	engineID, reason := uc.router.Route(ctx, question, session)
	if uc.onRoute != nil {
		uc.onRoute(engineID, reason)
	}
	engine, ok := uc.engines[engineID]
	if !ok {
		return domain.Answer{}, domain.WrapError(domain.ErrEngineUnavailable, op,
			fmt.Errorf("engine %q is not mounted", engineID))
	}
	uc.logger.Info("question routed",
		slog.String("user", userName),
		slog.String("engine", string(engineID)),
		slog.String("reason", reason))

	answer, err := engine.Run(ctx, question, session, req.TopK)
	if err != nil {
		return domain.Answer{}, err
	}
	answer.Engine = string(engineID)

	uc.recordTurn(ctx, session, engineID, question, answer.Text)
	return answer, nil
}

// Reset drops the user's in-session state. Long-term memory survives.
func (uc *ChatUseCase) Reset(ctx context.Context, userName string) error {
	const op = "usecase.ChatUseCase.Reset"
	userName = strings.TrimSpace(userName)
	if userName == "" {
		return domain.WrapError(domain.ErrInvalidInput, op, errors.New("user_name is required"))
	}
	if err := uc.sessions.Delete(ctx, domain.SessionIDForUser(userName)); err != nil {
		return domain.WrapError(domain.ErrTemporary, op, err)
	}
	return nil
}

func (uc *ChatUseCase) loadOrCreateSession(ctx context.Context, userName string) (*domain.Session, error) {
	id := domain.SessionIDForUser(userName)
	session, err := uc.sessions.Load(ctx, id)
	if err != nil {
		if !domain.IsKind(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("load session %s: %w", id, err)
		}
		session = &domain.Session{ID: id, UserName: userName}
	}
	return session, nil
}

// recordTurn persists the exchange. Memory and session failures are logged
// and swallowed: the user already has the answer.
func (uc *ChatUseCase) recordTurn(ctx context.Context, session *domain.Session, engineID domain.EngineID, question, answer string) {
	turn := domain.Turn{
		Question:  question,
		Answer:    answer,
		Index:     session.TurnIndex,
		CreatedAt: uc.now(),
	}
	if uc.memory != nil {
		if err := uc.memory.Append(ctx, session.ID, turn); err != nil {
			uc.logger.Warn("memory append failed",
				slog.String("session", session.ID), slog.String("error", err.Error()))
		}
	}

	session.RecordTurn(turn, MaxSessionTurns)
	session.LastEngine = engineID
	if err := uc.sessions.Save(ctx, session); err != nil {
		uc.logger.Warn("session save failed",
			slog.String("session", session.ID), slog.String("error", err.Error()))
	}
}
