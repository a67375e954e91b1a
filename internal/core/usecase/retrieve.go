package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jks-lab/ragchat/internal/core/domain"
	"github.com/jks-lab/ragchat/internal/core/ports"
)

// TopKDefaults is the adaptive retrieval depth per question shape.
// RecentFloor always wins: recency sorting needs a wide candidate set.
type TopKDefaults struct {
	General     int
	Technical   int
	Version     int
	CRF         int
	RecentFloor int
}

func DefaultTopK() TopKDefaults {
	return TopKDefaults{General: 10, Technical: 15, Version: 30, CRF: 50, RecentFloor: 100}
}

// determineTopK applies the caller override, the per-shape defaults and
// the recent-query floor, in that order.
func (e *Engine) determineTopK(question string, override int, recent bool) int {
	topK := override
	if topK <= 0 {
		switch {
		case e.id == domain.EngineCRF:
			topK = e.topK.CRF
		case e.classifier.IsVersionOrComparisonQuery(question):
			topK = e.topK.Version
		case e.classifier.IsTechnicalQuery(question):
			topK = e.topK.Technical
		default:
			topK = e.topK.General
		}
	}
	if recent && topK < e.topK.RecentFloor {
		topK = e.topK.RecentFloor
	}
	return topK
}

// buildSearchText folds recent conversation context into the embedded
// query. History turns from the other domain are dropped, and answers are
// included only when they carry this domain's vocabulary.
func (e *Engine) buildSearchText(question string, history []domain.Turn) string {
	if e.id == domain.EngineCRF {
		question = e.classifier.NormalizeHospitalNames(question)
	}
	if len(history) == 0 {
		return question
	}

	recent := history
	if len(recent) > e.cfg.RecentTurnsToInclude {
		recent = recent[len(recent)-e.cfg.RecentTurnsToInclude:]
	}

	parts := []string{question}
	for _, turn := range recent {
		if turn.Question != "" {
			switch e.id {
			case domain.EngineCRF:
				if e.classifier.IsCRFQuery(turn.Question) {
					parts = append(parts, e.classifier.NormalizeHospitalNames(turn.Question))
				}
			default:
				if !e.classifier.IsCRFQuery(turn.Question) {
					parts = append(parts, turn.Question)
				}
			}
		}
		if turn.Answer != "" && e.answerCarriesDomain(turn.Answer) {
			parts = append(parts, truncate(turn.Answer, 200))
		}
	}
	return strings.Join(parts, " ")
}

func (e *Engine) answerCarriesDomain(answer string) bool {
	matched := false
	for _, kw := range e.cfg.AnswerKeywords {
		if strings.Contains(answer, kw) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	for _, kw := range e.cfg.AnswerExcludeKeywords {
		if strings.Contains(answer, kw) {
			return false
		}
	}
	return true
}

// directLookup resolves explicit identifiers (issue numbers or CRF record
// IDs) straight from the collection. Results come back with zero distance;
// an empty result falls through to vector search.
func (e *Engine) directLookup(ctx context.Context, question string) domain.QueryResult {
	var key string
	var ids []string
	switch e.id {
	case domain.EngineIssues:
		key, ids = "issue_id", e.classifier.ExtractIssueIDs(question)
	case domain.EngineCRF:
		key, ids = "record_id", e.classifier.ExtractRecordIDs(question)
	}
	if len(ids) == 0 {
		return domain.QueryResult{}
	}
	e.logger.Info("explicit identifier lookup", slog.String("key", key), slog.Any("ids", ids))

	var out domain.QueryResult
	for _, id := range ids {
		res, err := e.index.Get(ctx, domain.Where{Key: key, Value: id}, 0)
		if err != nil {
			e.logger.Warn("direct lookup failed", slog.String("id", id), slog.String("error", err.Error()))
			continue
		}
		for i, doc := range res.Documents {
			var meta domain.Metadata
			if i < len(res.Metadatas) {
				meta = res.Metadatas[i]
			}
			out.Append(doc, meta, 0)
		}
	}
	if out.Len() == 0 {
		e.logger.Info("no direct match, falling back to vector search")
	}
	return out
}

// search runs the vector query (with the CRF hospital filter when the
// question names a hospital) unless a direct lookup already resolved.
func (e *Engine) search(ctx context.Context, question string, history []domain.Turn, direct domain.QueryResult, topK int) (domain.QueryResult, error) {
	if direct.Len() > 0 {
		return direct, nil
	}

	searchText := e.buildSearchText(question, history)
	embedding, err := e.embedder.Embed(ctx, searchText, ports.TaskQuery)
	if err != nil {
		return domain.QueryResult{}, fmt.Errorf("embed query: %w", err)
	}

	where := domain.Where{}
	if e.id == domain.EngineCRF {
		if code := e.classifier.HospitalCode(question); code != "" {
			where = domain.Where{Key: "hospital", Value: code}
		}
	}

	res, err := e.index.Query(ctx, embedding, topK, where)
	if err != nil {
		return domain.QueryResult{}, fmt.Errorf("vector search: %w", err)
	}
	return res, nil
}

// postProcess reorders and augments the candidates: issue-domain keyword
// augmentation and filtering, version-token boosting, recency sorting.
func (e *Engine) postProcess(ctx context.Context, res domain.QueryResult, question string, recent bool) domain.QueryResult {
	if e.id == domain.EngineIssues {
		keywords := e.modelKeywords(ctx, question)
		if len(keywords) > 0 {
			res = e.augmentWithKeywordMatches(ctx, res, keywords)
			res = filterByKeywords(res, keywords)
		}
	}

	if tokens := e.classifier.ExtractVersionTokens(question); len(tokens) > 0 && res.Len() > 0 {
		res = boostByVersionTokens(res, tokens)
	}

	if recent {
		res = sortByRecency(res)
	}
	return res
}

// keywordCache holds the model vocabulary mined from issue subjects. It is
// keyed by the collection size: a changed count invalidates the cache, and
// a redundant rebuild under contention is harmless.
type keywordCache struct {
	mu       sync.Mutex
	keywords map[string]bool
	count    int
	valid    bool
}

// modelKeywords returns the question tokens that appear in the issue
// subject vocabulary.
func (e *Engine) modelKeywords(ctx context.Context, question string) []string {
	cache := e.keywordVocabulary(ctx)
	if len(cache) == 0 {
		return nil
	}

	found := map[string]bool{}
	for _, token := range e.classifier.ModelTokens(question) {
		key := strings.ToLower(token)
		if cache[key] {
			found[key] = true
		}
		for _, part := range splitCompound(token) {
			partKey := strings.ToLower(part)
			if len(part) > 2 && cache[partKey] {
				found[partKey] = true
			}
		}
	}

	out := make([]string, 0, len(found))
	for kw := range found {
		out = append(out, kw)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) keywordVocabulary(ctx context.Context) map[string]bool {
	count, err := e.index.Count(ctx)
	if err != nil {
		count = -1
	}

	e.keywords.mu.Lock()
	defer e.keywords.mu.Unlock()

	if e.keywords.valid && (count < 0 || e.keywords.count == count) {
		return e.keywords.keywords
	}

	res, err := e.index.Get(ctx, domain.Where{}, 0)
	if err != nil {
		e.logger.Warn("keyword vocabulary rebuild failed", slog.String("error", err.Error()))
		e.keywords.keywords = map[string]bool{}
		e.keywords.valid = true
		return e.keywords.keywords
	}

	vocab := map[string]bool{}
	for _, meta := range res.Metadatas {
		subject := meta.Get("subject")
		for _, token := range e.classifier.ModelTokens(subject) {
			vocab[strings.ToLower(token)] = true
			for _, part := range splitCompound(token) {
				if len(part) > 2 && !e.classifier.IsVersionToken(part) {
					vocab[strings.ToLower(part)] = true
				}
			}
		}
	}

	e.keywords.keywords = vocab
	e.keywords.count = count
	e.keywords.valid = true
	e.logger.Info("keyword vocabulary rebuilt",
		slog.Int("keywords", len(vocab)), slog.Int("collection_count", count))
	return vocab
}

func splitCompound(token string) []string {
	return strings.FieldsFunc(token, func(r rune) bool {
		return r == '-' || r == '_'
	})
}

// augmentWithKeywordMatches adds substring matches from the collection for
// keywords the vector candidates missed, deduplicated by issue_id and
// scored with a filler distance of 1.0.
func (e *Engine) augmentWithKeywordMatches(ctx context.Context, res domain.QueryResult, keywords []string) domain.QueryResult {
	if containsKeywords(res, keywords) {
		return res
	}

	seen := map[string]bool{}
	for _, meta := range res.Metadatas {
		if id := meta.Get("issue_id"); id != "" {
			seen[id] = true
		}
	}

	added := 0
	for _, keyword := range keywords {
		extra, err := e.index.GetContains(ctx, keyword, e.cfg.KeywordLimit)
		if err != nil {
			e.logger.Warn("keyword augmentation failed",
				slog.String("keyword", keyword), slog.String("error", err.Error()))
			continue
		}
		for i, doc := range extra.Documents {
			var meta domain.Metadata
			if i < len(extra.Metadatas) {
				meta = extra.Metadatas[i]
			}
			if id := meta.Get("issue_id"); id != "" {
				if seen[id] {
					continue
				}
				seen[id] = true
			}
			res.Append(doc, meta, 1.0)
			added++
		}
	}
	if added > 0 {
		e.logger.Info("keyword augmentation", slog.Int("added", added))
	}
	return res
}

func containsKeywords(res domain.QueryResult, keywords []string) bool {
	for i, doc := range res.Documents {
		subject := ""
		if i < len(res.Metadatas) {
			subject = strings.ToLower(res.Metadatas[i].Get("subject"))
		}
		docLower := strings.ToLower(doc)
		for _, kw := range keywords {
			if strings.Contains(subject, kw) || strings.Contains(docLower, kw) {
				return true
			}
		}
	}
	return false
}

// filterByKeywords keeps only keyword-matching candidates, unless that
// would empty the result set.
func filterByKeywords(res domain.QueryResult, keywords []string) domain.QueryResult {
	var matched domain.QueryResult
	for i, doc := range res.Documents {
		var meta domain.Metadata
		if i < len(res.Metadatas) {
			meta = res.Metadatas[i]
		}
		subject := strings.ToLower(meta.Get("subject"))
		docLower := strings.ToLower(doc)
		for _, kw := range keywords {
			if strings.Contains(subject, kw) || strings.Contains(docLower, kw) {
				matched.Append(doc, meta, res.Distances[i])
				break
			}
		}
	}
	if matched.Len() == 0 {
		return res
	}
	return matched
}

// boostByVersionTokens re-scores candidates as (1-distance) + 0.3 per
// version-token hit across subject, version metadata and body, descending.
func boostByVersionTokens(res domain.QueryResult, tokens []string) domain.QueryResult {
	type scored struct {
		score float64
		idx   int
	}
	items := make([]scored, res.Len())
	for i := range res.Documents {
		var meta domain.Metadata
		if i < len(res.Metadatas) {
			meta = res.Metadatas[i]
		}
		score := 1 - res.Distances[i]
		subject := strings.ToLower(meta.Get("subject"))
		version := strings.ToLower(meta.Get("version"))
		docLower := strings.ToLower(res.Documents[i])
		for _, token := range tokens {
			if strings.Contains(subject, token) {
				score += 0.3
			}
			if strings.Contains(version, token) {
				score += 0.3
			}
			if strings.Contains(docLower, token) {
				score += 0.3
			}
		}
		items[i] = scored{score: score, idx: i}
	}
	sort.SliceStable(items, func(a, b int) bool { return items[a].score > items[b].score })

	return reorder(res, items, func(s scored) int { return s.idx })
}

// sortByRecency orders candidates by updated_on/created_on, newest first,
// unparseable timestamps last; ties keep their retrieval order.
func sortByRecency(res domain.QueryResult) domain.QueryResult {
	type dated struct {
		ts  time.Time
		ok  bool
		idx int
	}
	items := make([]dated, res.Len())
	for i := range res.Documents {
		item := dated{idx: i}
		if i < len(res.Metadatas) {
			raw := res.Metadatas[i].Get("updated_on")
			if raw == "" {
				raw = res.Metadatas[i].Get("created_on")
			}
			if ts, err := parseTimestamp(raw); err == nil {
				item.ts, item.ok = ts, true
			}
		}
		items[i] = item
	}
	sort.SliceStable(items, func(a, b int) bool {
		if items[a].ok != items[b].ok {
			return items[a].ok
		}
		return items[a].ts.After(items[b].ts)
	})

	return reorder(res, items, func(d dated) int { return d.idx })
}

func reorder[T any](res domain.QueryResult, items []T, idx func(T) int) domain.QueryResult {
	var out domain.QueryResult
	for _, item := range items {
		i := idx(item)
		var meta domain.Metadata
		if i < len(res.Metadatas) {
			meta = res.Metadatas[i]
		}
		out.Append(res.Documents[i], meta, res.Distances[i])
	}
	return out
}

func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", value)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
