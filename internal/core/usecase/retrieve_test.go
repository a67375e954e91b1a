package usecase

import (
	"context"
	"testing"

	"github.com/jks-lab/ragchat/internal/core/domain"
)

func TestBoostByVersionTokens(t *testing.T) {
	res := domain.QueryResult{
		Documents: []string{"릴리스 노트 본문", "v2.1.0 학습 결과 정리", "기타 문서"},
		Metadatas: []domain.Metadata{
			{"issue_id": "1", "subject": "old release"},
			{"issue_id": "2", "subject": "resnet50 v2.1.0 결과", "version": "v2.1.0"},
			{"issue_id": "3", "subject": "misc"},
		},
		Distances: []float64{0.1, 0.4, 0.2},
	}

	boosted := boostByVersionTokens(res, []string{"v2.1.0"})
	// 0.6 base + 0.9 for subject, version and body hits beats 0.9 and 0.8.
	if boosted.Metadatas[0].Get("issue_id") != "2" {
		t.Errorf("top result = %s, want issue 2", boosted.Metadatas[0].Get("issue_id"))
	}
	if boosted.Len() != 3 {
		t.Errorf("boost changed result count: %d", boosted.Len())
	}
}

func TestSortByRecency(t *testing.T) {
	res := domain.QueryResult{
		Documents: []string{"old", "unparseable", "new"},
		Metadatas: []domain.Metadata{
			{"issue_id": "1", "updated_on": "2024-01-05T10:00:00"},
			{"issue_id": "2", "updated_on": "언젠가"},
			{"issue_id": "3", "created_on": "2026-03-01"},
		},
		Distances: []float64{0.1, 0.2, 0.3},
	}

	sorted := sortByRecency(res)
	got := []string{
		sorted.Metadatas[0].Get("issue_id"),
		sorted.Metadatas[1].Get("issue_id"),
		sorted.Metadatas[2].Get("issue_id"),
	}
	want := []string{"3", "1", "2"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestFilterByKeywordsKeepsOriginalWhenNothingMatches(t *testing.T) {
	res := domain.QueryResult{
		Documents: []string{"doc a", "doc b"},
		Metadatas: []domain.Metadata{{"subject": "alpha"}, {"subject": "beta"}},
		Distances: []float64{0.1, 0.2},
	}

	filtered := filterByKeywords(res, []string{"beta"})
	if filtered.Len() != 1 || filtered.Metadatas[0].Get("subject") != "beta" {
		t.Errorf("filtered = %+v", filtered.Metadatas)
	}

	unfiltered := filterByKeywords(res, []string{"gamma"})
	if unfiltered.Len() != 2 {
		t.Errorf("empty filter result must keep the originals, got %d", unfiltered.Len())
	}
}

func TestModelKeywordsUseSubjectVocabulary(t *testing.T) {
	index := &stubIndex{
		count: 2,
		getResult: domain.GetResult{
			Documents: []string{"doc", "doc"},
			Metadatas: []domain.Metadata{
				{"issue_id": "1", "subject": "resnet50-baseline 학습"},
				{"issue_id": "2", "subject": "yolo_v8 평가"},
			},
		},
	}
	engine := newTestEngine(domain.EngineIssues, index, &stubGenerator{}, nil)

	keywords := engine.modelKeywords(context.Background(), "resnet50 결과 알려줘")
	if len(keywords) == 0 {
		t.Fatal("no keywords extracted")
	}
	found := false
	for _, kw := range keywords {
		if kw == "resnet50" {
			found = true
		}
	}
	if !found {
		t.Errorf("keywords = %v, want resnet50", keywords)
	}

	if kws := engine.modelKeywords(context.Background(), "없는 모델 이름"); len(kws) != 0 {
		t.Errorf("unknown tokens matched: %v", kws)
	}
}

func TestAugmentWithKeywordMatches(t *testing.T) {
	index := &stubIndex{
		containsResult: domain.GetResult{
			Documents: []string{"resnet50 실험 기록", "resnet50 중복"},
			Metadatas: []domain.Metadata{
				{"issue_id": "20", "subject": "resnet50 exp"},
				{"issue_id": "10", "subject": "중복 이슈"},
			},
		},
	}
	engine := newTestEngine(domain.EngineIssues, index, &stubGenerator{}, nil)

	res := domain.QueryResult{
		Documents: []string{"관련 없는 문서"},
		Metadatas: []domain.Metadata{{"issue_id": "10", "subject": "다른 주제"}},
		Distances: []float64{0.3},
	}

	augmented := engine.augmentWithKeywordMatches(context.Background(), res, []string{"resnet50"})
	if augmented.Len() != 2 {
		t.Fatalf("len = %d, want original + one deduped match", augmented.Len())
	}
	last := augmented.Len() - 1
	if augmented.Metadatas[last].Get("issue_id") != "20" {
		t.Errorf("appended = %s", augmented.Metadatas[last].Get("issue_id"))
	}
	if augmented.Distances[last] != 1.0 {
		t.Errorf("filler distance = %f", augmented.Distances[last])
	}
}

func TestAugmentSkippedWhenResultsAlreadyMatch(t *testing.T) {
	index := &stubIndex{
		containsResult: domain.GetResult{
			Documents: []string{"extra"},
			Metadatas: []domain.Metadata{{"issue_id": "99"}},
		},
	}
	engine := newTestEngine(domain.EngineIssues, index, &stubGenerator{}, nil)

	res := domain.QueryResult{
		Documents: []string{"resnet50 학습 로그"},
		Metadatas: []domain.Metadata{{"issue_id": "1", "subject": "resnet50"}},
		Distances: []float64{0.1},
	}
	if out := engine.augmentWithKeywordMatches(context.Background(), res, []string{"resnet50"}); out.Len() != 1 {
		t.Errorf("augmentation ran despite existing match: %d", out.Len())
	}
}

func TestKeywordVocabularyInvalidatedByCount(t *testing.T) {
	index := &stubIndex{
		count: 1,
		getResult: domain.GetResult{
			Documents: []string{"doc"},
			Metadatas: []domain.Metadata{{"issue_id": "1", "subject": "resnet50"}},
		},
	}
	engine := newTestEngine(domain.EngineIssues, index, &stubGenerator{}, nil)

	engine.keywordVocabulary(context.Background())
	engine.keywordVocabulary(context.Background())
	if index.gets != 1 {
		t.Fatalf("vocabulary rebuilt with stable count: gets = %d", index.gets)
	}

	index.count = 2
	engine.keywordVocabulary(context.Background())
	if index.gets != 2 {
		t.Errorf("vocabulary not rebuilt after count change: gets = %d", index.gets)
	}
}
