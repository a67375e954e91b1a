// Package memory is the long-term conversation store: question/answer
// turns embedded into a dedicated vector collection with a TTL, searchable
// by semantic similarity within a session.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/jks-lab/ragchat/internal/core/domain"
	"github.com/jks-lab/ragchat/internal/core/ports"
)

const (
	// DefaultTTL keeps conversations for thirty days.
	DefaultTTL = 30 * 24 * time.Hour

	// DefaultMaxRelevant bounds semantic history search results.
	DefaultMaxRelevant = 3

	summaryAnswerPreview = 100
)

// Store implements ports.ConversationMemory over a vector collection.
// Reads degrade to empty results and writes are best effort: conversation
// memory must never fail a chat request.
type Store struct {
	index    ports.VectorIndex
	embedder ports.Embedder
	queue    ports.TurnQueue // optional fast path; nil persists inline
	logger   *slog.Logger

	ttl         time.Duration
	maxRelevant int
	now         func() time.Time
}

type Option func(*Store)

// WithQueue routes Append through the turn queue instead of writing
// inline; a worker consumes the events and calls Persist.
func WithQueue(queue ports.TurnQueue) Option {
	return func(s *Store) { s.queue = queue }
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(index ports.VectorIndex, embedder ports.Embedder, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		index:       index,
		embedder:    embedder,
		logger:      logger,
		ttl:         DefaultTTL,
		maxRelevant: DefaultMaxRelevant,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append records one finished turn. With a queue configured the record is
// published and persisted by the worker; otherwise it is written inline.
// Failures are logged, never returned as chat failures.
func (s *Store) Append(ctx context.Context, sessionID string, turn domain.Turn) error {
	record := domain.TurnRecord{
		SessionID: sessionID,
		TurnIndex: turn.Index,
		Question:  turn.Question,
		Answer:    turn.Answer,
		CreatedAt: s.now(),
	}

	if s.queue != nil {
		err := s.queue.PublishTurnRecorded(ctx, record)
		if err == nil {
			return nil
		}
		s.logger.Warn("turn publish failed, persisting inline",
			slog.String("session_id", sessionID), slog.String("error", err.Error()))
	}

	if err := s.Persist(ctx, record); err != nil {
		s.logger.Error("conversation persist failed",
			slog.String("session_id", sessionID), slog.String("error", err.Error()))
	}
	return nil
}

// Persist embeds and upserts one turn record. Called inline by Append or
// by the worker consuming the turn queue.
func (s *Store) Persist(ctx context.Context, record domain.TurnRecord) error {
	text := fmt.Sprintf("Q: %s\nA: %s", record.Question, record.Answer)
	embedding, err := s.embedder.Embed(ctx, text, ports.TaskDocument)
	if err != nil {
		return fmt.Errorf("embed turn: %w", err)
	}

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	id := fmt.Sprintf("%s_%d", record.SessionID, createdAt.UnixMicro())

	meta := domain.Metadata{
		"session_id": record.SessionID,
		"turn_index": strconv.Itoa(record.TurnIndex),
		"timestamp":  createdAt.Format(time.RFC3339),
		"question":   record.Question,
		"answer":     record.Answer,
		"ttl_expire": createdAt.Add(s.ttl).Format(time.RFC3339),
	}

	if err := s.index.Upsert(ctx, id, embedding, text, meta); err != nil {
		return fmt.Errorf("upsert turn: %w", err)
	}
	s.logger.Debug("conversation saved", slog.String("id", id))
	return nil
}

// Search finds stored turns of the session relevant to the question.
// Any failure yields an empty result.
func (s *Store) Search(ctx context.Context, sessionID, query string, topK int) ([]domain.MemoryTurn, error) {
	if topK <= 0 {
		topK = s.maxRelevant
	}

	count, err := s.index.Count(ctx)
	if err != nil || count == 0 {
		return nil, nil
	}

	embedding, err := s.embedder.Embed(ctx, query, ports.TaskQuery)
	if err != nil {
		s.logger.Warn("history embed failed", slog.String("error", err.Error()))
		return nil, nil
	}

	res, err := s.index.Query(ctx, embedding, topK, domain.Where{Key: "session_id", Value: sessionID})
	if err != nil {
		s.logger.Warn("history search failed", slog.String("error", err.Error()))
		return nil, nil
	}

	turns := make([]domain.MemoryTurn, 0, res.Len())
	for i, meta := range res.Metadatas {
		turn := domain.MemoryTurn{
			Question:  meta.Get("question"),
			Answer:    meta.Get("answer"),
			Timestamp: meta.Get("timestamp"),
		}
		if idx, err := strconv.Atoi(meta.Get("turn_index")); err == nil {
			turn.TurnIndex = idx
		}
		if i < len(res.Distances) {
			turn.Relevance = 1 - res.Distances[i]
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// Summary groups stored turns by session. An empty sessionID summarizes
// every session.
func (s *Store) Summary(ctx context.Context, sessionID string) (domain.HistorySummary, error) {
	where := domain.Where{}
	if sessionID != "" {
		where = domain.Where{Key: "session_id", Value: sessionID}
	}

	res, err := s.index.Get(ctx, where, 0)
	if err != nil {
		s.logger.Warn("history summary failed", slog.String("error", err.Error()))
		return domain.HistorySummary{}, nil
	}

	bySession := map[string]*domain.SessionSummary{}
	for _, meta := range res.Metadatas {
		sid := meta.Get("session_id")
		if sid == "" {
			sid = "Unknown"
		}
		summary, ok := bySession[sid]
		if !ok {
			summary = &domain.SessionSummary{SessionID: sid}
			bySession[sid] = summary
		}

		answer := meta.Get("answer")
		if runes := []rune(answer); len(runes) > summaryAnswerPreview {
			answer = string(runes[:summaryAnswerPreview]) + "..."
		}
		turn := domain.MemoryTurn{
			Question:  meta.Get("question"),
			Answer:    answer,
			Timestamp: meta.Get("timestamp"),
		}
		if idx, err := strconv.Atoi(meta.Get("turn_index")); err == nil {
			turn.TurnIndex = idx
		}
		summary.Turns = append(summary.Turns, turn)
		summary.Count++

		ts := meta.Get("timestamp")
		if summary.FirstTimestamp == "" || ts < summary.FirstTimestamp {
			summary.FirstTimestamp = ts
		}
		if ts > summary.LastTimestamp {
			summary.LastTimestamp = ts
		}
	}

	out := domain.HistorySummary{
		TotalTurns:    len(res.Metadatas),
		TotalSessions: len(bySession),
	}
	for _, summary := range bySession {
		sort.Slice(summary.Turns, func(i, j int) bool {
			return summary.Turns[i].TurnIndex < summary.Turns[j].TurnIndex
		})
		out.Sessions = append(out.Sessions, *summary)
	}
	sort.Slice(out.Sessions, func(i, j int) bool {
		return out.Sessions[i].LastTimestamp > out.Sessions[j].LastTimestamp
	})
	return out, nil
}

// Users lists the distinct users behind the stored sessions, most
// recently active first.
func (s *Store) Users(ctx context.Context) ([]domain.UserInfo, error) {
	count, err := s.index.Count(ctx)
	if err != nil || count == 0 {
		return nil, nil
	}

	res, err := s.index.Get(ctx, domain.Where{}, 0)
	if err != nil {
		s.logger.Warn("user list failed", slog.String("error", err.Error()))
		return nil, nil
	}

	byUser := map[string]*domain.UserInfo{}
	for _, meta := range res.Metadatas {
		sid := meta.Get("session_id")
		if len(sid) <= len(domain.SessionIDPrefix) || sid[:len(domain.SessionIDPrefix)] != domain.SessionIDPrefix {
			continue
		}
		name := sid[len(domain.SessionIDPrefix):]
		info, ok := byUser[name]
		if !ok {
			info = &domain.UserInfo{UserName: name}
			byUser[name] = info
		}
		info.TotalTurns++

		ts := meta.Get("timestamp")
		if info.FirstSeen == "" || ts < info.FirstSeen {
			info.FirstSeen = ts
		}
		if ts > info.LastSeen {
			info.LastSeen = ts
		}
	}

	users := make([]domain.UserInfo, 0, len(byUser))
	for _, info := range byUser {
		users = append(users, *info)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].LastSeen > users[j].LastSeen
	})
	return users, nil
}

// DeleteUser removes every stored turn of one user and reports how many
// records were deleted.
func (s *Store) DeleteUser(ctx context.Context, userName string) (int, error) {
	sessionID := domain.SessionIDForUser(userName)

	res, err := s.index.Get(ctx, domain.Where{Key: "session_id", Value: sessionID}, 0)
	if err != nil {
		return 0, domain.WrapError(domain.ErrTemporary, "memory.DeleteUser", err)
	}
	if len(res.IDs) == 0 {
		return 0, nil
	}

	if err := s.index.Delete(ctx, res.IDs); err != nil {
		return 0, domain.WrapError(domain.ErrTemporary, "memory.DeleteUser", err)
	}
	s.logger.Info("user conversations deleted",
		slog.String("user", userName), slog.Int("count", len(res.IDs)))
	return len(res.IDs), nil
}

// SweepExpired deletes every turn whose ttl_expire lies before now.
// Run by the worker, not the request path.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.index.Get(ctx, domain.Where{}, 0)
	if err != nil {
		return 0, domain.WrapError(domain.ErrTemporary, "memory.SweepExpired", err)
	}

	var expired []string
	for i, meta := range res.Metadatas {
		raw := meta.Get("ttl_expire")
		if raw == "" {
			continue
		}
		expireAt, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			continue
		}
		if expireAt.Before(now) && i < len(res.IDs) {
			expired = append(expired, res.IDs[i])
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}

	if err := s.index.Delete(ctx, expired); err != nil {
		return 0, domain.WrapError(domain.ErrTemporary, "memory.SweepExpired", err)
	}
	s.logger.Info("expired conversations swept", slog.Int("count", len(expired)))
	return len(expired), nil
}
