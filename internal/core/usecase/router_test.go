package usecase

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/jks-lab/ragchat/internal/core/classify"
	"github.com/jks-lab/ragchat/internal/core/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProbe struct {
	distance float64
	calls    int
}

func (f *fakeProbe) Proximity(context.Context, string) float64 {
	f.calls++
	return f.distance
}

func TestRouteExplicitIssueID(t *testing.T) {
	issues := &fakeProbe{}
	crf := &fakeProbe{}
	r := NewRouter(classify.New(nil), issues, crf, 0, testLogger())

	engine, reason := r.Route(context.Background(), "이슈 #123 상태가 뭐야?", &domain.Session{})
	if engine != domain.EngineIssues {
		t.Errorf("engine = %s, want issues", engine)
	}
	if reason != "explicit_keyword" {
		t.Errorf("reason = %s", reason)
	}
	if issues.calls+crf.calls != 0 {
		t.Error("explicit routing must not touch the collections")
	}
}

func TestRouteExplicitCRFKeyword(t *testing.T) {
	r := NewRouter(classify.New(nil), &fakeProbe{}, &fakeProbe{}, 0, testLogger())

	engine, _ := r.Route(context.Background(), "세브란스 환자 몇 명이야?", &domain.Session{})
	if engine != domain.EngineCRF {
		t.Errorf("engine = %s, want crf", engine)
	}
}

func TestRouteFollowUpSticksToLastEngine(t *testing.T) {
	issues := &fakeProbe{}
	crf := &fakeProbe{}
	r := NewRouter(classify.New(nil), issues, crf, 0, testLogger())

	session := &domain.Session{LastEngine: domain.EngineCRF}
	engine, reason := r.Route(context.Background(), "차이는?", session)
	if engine != domain.EngineCRF {
		t.Errorf("engine = %s, want crf", engine)
	}
	if reason != "follow_up_context" {
		t.Errorf("reason = %s", reason)
	}
	if issues.calls+crf.calls != 0 {
		t.Error("follow-up routing must not embed anything")
	}
}

func TestRouteEmbeddingComparison(t *testing.T) {
	cases := []struct {
		name       string
		issuesDist float64
		crfDist    float64
		lastEngine domain.EngineID
		want       domain.EngineID
		reason     string
	}{
		{name: "crf clearly closer", issuesDist: 0.5, crfDist: 0.3, want: domain.EngineCRF, reason: "embedding_distance"},
		{name: "issues clearly closer", issuesDist: 0.2, crfDist: 0.4, want: domain.EngineIssues, reason: "embedding_distance"},
		{name: "tie keeps crf context", issuesDist: 0.30, crfDist: 0.31, lastEngine: domain.EngineCRF, want: domain.EngineCRF, reason: "sticky_session"},
		{name: "tie without context defaults to issues", issuesDist: 0.30, crfDist: 0.31, want: domain.EngineIssues, reason: "default"},
		{name: "crf probe failure", issuesDist: 0.9, crfDist: math.Inf(1), want: domain.EngineIssues, reason: "embedding_distance"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRouter(classify.New(nil),
				&fakeProbe{distance: tc.issuesDist},
				&fakeProbe{distance: tc.crfDist},
				0.05, testLogger())

			session := &domain.Session{LastEngine: tc.lastEngine}
			engine, reason := r.Route(context.Background(), "오늘 제일 중요한 안건 알려줘", session)
			if engine != tc.want {
				t.Errorf("engine = %s, want %s", engine, tc.want)
			}
			if reason != tc.reason {
				t.Errorf("reason = %s, want %s", reason, tc.reason)
			}
		})
	}
}

func TestRouteDegradedSingleDomain(t *testing.T) {
	r := NewRouter(classify.New(nil), &fakeProbe{}, nil, 0, testLogger())

	engine, reason := r.Route(context.Background(), "세브란스 환자 몇 명이야?", &domain.Session{})
	if engine != domain.EngineIssues {
		t.Errorf("engine = %s, want issues when crf is absent", engine)
	}
	if reason != "crf_unavailable" {
		t.Errorf("reason = %s", reason)
	}
}
