package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/jks-lab/ragchat/internal/core/classify"
	"github.com/jks-lab/ragchat/internal/core/domain"
)

type stubSessions struct {
	sessions map[string]*domain.Session
	saveErr  error
	deletes  []string
}

func newStubSessions() *stubSessions {
	return &stubSessions{sessions: map[string]*domain.Session{}}
}

func (s *stubSessions) Load(_ context.Context, id string) (*domain.Session, error) {
	session, ok := s.sessions[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "stub.Load", errors.New(id))
	}
	copied := *session
	return &copied, nil
}

func (s *stubSessions) Save(_ context.Context, session *domain.Session) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	copied := *session
	s.sessions[session.ID] = &copied
	return nil
}

func (s *stubSessions) Delete(_ context.Context, id string) error {
	s.deletes = append(s.deletes, id)
	delete(s.sessions, id)
	return nil
}

func newTestChat(t *testing.T, issuesIndex, crfIndex *stubIndex, gen *stubGenerator, mem *stubMemory) (*ChatUseCase, *stubSessions) {
	t.Helper()
	classifier := classify.New(classify.DefaultHospitals())
	issues := newTestEngine(domain.EngineIssues, issuesIndex, gen, mem)
	crfEngine := newTestEngine(domain.EngineCRF, crfIndex, gen, mem)
	router := NewRouter(classifier, issues, crfEngine, 0, testLogger())
	sessions := newStubSessions()
	uc := NewChatUseCase(router, map[domain.EngineID]*Engine{
		domain.EngineIssues: issues,
		domain.EngineCRF:    crfEngine,
	}, sessions, mem, testLogger())
	return uc, sessions
}

func TestChatRejectsBlankInput(t *testing.T) {
	uc, sessions := newTestChat(t, &stubIndex{}, &stubIndex{}, &stubGenerator{}, &stubMemory{})

	tests := []struct {
		name string
		req  domain.ChatRequest
	}{
		{"empty question", domain.ChatRequest{Question: "  ", UserName: "kim"}},
		{"empty user", domain.ChatRequest{Question: "이슈 알려줘", UserName: ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := uc.Chat(context.Background(), tt.req)
			if !domain.IsKind(err, domain.ErrInvalidInput) {
				t.Fatalf("err = %v, want invalid input", err)
			}
		})
	}
	if len(sessions.sessions) != 0 {
		t.Errorf("validation failure created a session")
	}
}

func TestChatRoutesAndRecordsTurn(t *testing.T) {
	issuesIndex := &stubIndex{
		getResult: domain.GetResult{
			Documents: []string{"로그인 실패 원인 분석"},
			Metadatas: []domain.Metadata{{"issue_id": "12", "subject": "로그인 오류"}},
		},
	}
	gen := &stubGenerator{answer: "이슈 #12는 로그인 오류입니다."}
	mem := &stubMemory{}
	uc, sessions := newTestChat(t, issuesIndex, &stubIndex{}, gen, mem)

	var routedEngine domain.EngineID
	var routedReason string
	uc.ObserveRoutes(func(engine domain.EngineID, reason string) {
		routedEngine = engine
		routedReason = reason
	})

	answer, err := uc.Chat(context.Background(), domain.ChatRequest{Question: "#12 이슈 알려줘", UserName: "kim"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if answer.Text != gen.answer {
		t.Errorf("answer = %q", answer.Text)
	}
	if answer.Engine != string(domain.EngineIssues) {
		t.Errorf("answer engine = %q", answer.Engine)
	}
	if routedEngine != domain.EngineIssues || routedReason != "explicit_keyword" {
		t.Errorf("route observation = %s/%s", routedEngine, routedReason)
	}

	session, ok := sessions.sessions["user_kim"]
	if !ok {
		t.Fatal("session not saved")
	}
	if session.LastEngine != domain.EngineIssues {
		t.Errorf("last engine = %s", session.LastEngine)
	}
	if len(session.History) != 1 || session.History[0].Question != "#12 이슈 알려줘" {
		t.Errorf("history = %+v", session.History)
	}
	if session.TurnIndex != 1 {
		t.Errorf("turn index = %d", session.TurnIndex)
	}
	if mem.appends != 1 {
		t.Errorf("memory appends = %d", mem.appends)
	}
}

func TestChatSurvivesPersistenceFailures(t *testing.T) {
	issuesIndex := &stubIndex{
		getResult: domain.GetResult{
			Documents: []string{"이슈 본문"},
			Metadatas: []domain.Metadata{{"issue_id": "3", "subject": "버그"}},
		},
	}
	gen := &stubGenerator{answer: "답변"}
	mem := &stubMemory{appendErr: errors.New("memory down")}
	uc, sessions := newTestChat(t, issuesIndex, &stubIndex{}, gen, mem)
	sessions.saveErr = errors.New("store down")

	answer, err := uc.Chat(context.Background(), domain.ChatRequest{Question: "#3 이슈", UserName: "kim"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if answer.Text != "답변" {
		t.Errorf("answer = %q", answer.Text)
	}
}

func TestChatTrimsSessionHistory(t *testing.T) {
	issuesIndex := &stubIndex{
		getResult: domain.GetResult{
			Documents: []string{"이슈 본문"},
			Metadatas: []domain.Metadata{{"issue_id": "9", "subject": "작업"}},
		},
	}
	gen := &stubGenerator{answer: "답변"}
	uc, sessions := newTestChat(t, issuesIndex, &stubIndex{}, gen, &stubMemory{})

	for i := 0; i < MaxSessionTurns+3; i++ {
		if _, err := uc.Chat(context.Background(), domain.ChatRequest{Question: "#9 이슈 상태", UserName: "kim"}); err != nil {
			t.Fatalf("Chat %d: %v", i, err)
		}
	}

	session := sessions.sessions["user_kim"]
	if len(session.History) != MaxSessionTurns {
		t.Errorf("history length = %d, want %d", len(session.History), MaxSessionTurns)
	}
	if session.TurnIndex != MaxSessionTurns+3 {
		t.Errorf("turn index = %d", session.TurnIndex)
	}
}

func TestChatUnmountedEngine(t *testing.T) {
	classifier := classify.New(classify.DefaultHospitals())
	issues := newTestEngine(domain.EngineIssues, &stubIndex{}, &stubGenerator{}, nil)
	crfEngine := newTestEngine(domain.EngineCRF, &stubIndex{}, &stubGenerator{}, nil)
	router := NewRouter(classifier, issues, crfEngine, 0, testLogger())
	uc := NewChatUseCase(router, map[domain.EngineID]*Engine{
		domain.EngineIssues: issues,
	}, newStubSessions(), nil, testLogger())

	_, err := uc.Chat(context.Background(), domain.ChatRequest{Question: "유방암 환자 기록 보여줘", UserName: "kim"})
	if !domain.IsKind(err, domain.ErrEngineUnavailable) {
		t.Fatalf("err = %v, want engine unavailable", err)
	}
}

func TestResetDeletesSessionOnly(t *testing.T) {
	uc, sessions := newTestChat(t, &stubIndex{}, &stubIndex{}, &stubGenerator{}, &stubMemory{})
	sessions.sessions["user_kim"] = &domain.Session{ID: "user_kim", UserName: "kim"}

	if err := uc.Reset(context.Background(), "kim"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if len(sessions.deletes) != 1 || sessions.deletes[0] != "user_kim" {
		t.Errorf("deletes = %v", sessions.deletes)
	}

	if err := uc.Reset(context.Background(), "  "); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Errorf("blank user err = %v", err)
	}
}
