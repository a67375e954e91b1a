package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jks-lab/ragchat/internal/core/classify"
	"github.com/jks-lab/ragchat/internal/core/crf"
	"github.com/jks-lab/ragchat/internal/core/domain"
	"github.com/jks-lab/ragchat/internal/core/ports"
)

// NotFoundAnswer is returned verbatim when retrieval yields nothing; the
// HTTP layer still reports 200 in that case.
const NotFoundAnswer = "관련 정보를 찾을 수 없습니다."

const (
	maxSources     = 5
	previewRunes   = 200
	chartsFallback = "차트가 생성되었습니다."
)

var (
	issueMentionPattern = regexp.MustCompile(`#(\d+)`)
	pathNoPattern       = regexp.MustCompile(`병리번호\s*:\s*(\S+)`)
)

// EngineConfig tunes one engine's retrieval and prompting behavior.
type EngineConfig struct {
	// ContextLimit caps how many documents reach the prompt. Zero means
	// unlimited; the clinical corpus wants every matching record.
	ContextLimit int
	// PromptHistoryTurns is how many recent turns the prompt shows.
	PromptHistoryTurns int
	// RecentTurnsToInclude is how many recent turns feed the search text.
	RecentTurnsToInclude int
	// SearchHistoryThreshold is the minimum in-session history length
	// before long-term memory is searched for relevant past turns.
	SearchHistoryThreshold int
	// MaxRelevantHistory caps the semantic-recall results.
	MaxRelevantHistory int
	// AnswerKeywords gates which past answers join the search text; an
	// answer must contain one of these and none of the exclusions.
	AnswerKeywords        []string
	AnswerExcludeKeywords []string
	// KeywordLimit bounds substring augmentation per keyword.
	KeywordLimit int
	// StatsChunkChars splits oversized statistics reports before the
	// code-execution calls.
	StatsChunkChars int
	// IssueBaseURL builds issue citation links.
	IssueBaseURL string
}

func DefaultIssuesConfig(baseURL string) EngineConfig {
	return EngineConfig{
		ContextLimit:           15,
		PromptHistoryTurns:     3,
		RecentTurnsToInclude:   2,
		SearchHistoryThreshold: 2,
		MaxRelevantHistory:     3,
		AnswerKeywords:         []string{"이슈", "#", "버전", "개발", "수정", "오류", "issue", "version"},
		AnswerExcludeKeywords:  []string{"환자", "병원", "CRF"},
		KeywordLimit:           5,
		IssueBaseURL:           baseURL,
	}
}

func DefaultCRFConfig() EngineConfig {
	return EngineConfig{
		ContextLimit:           0,
		PromptHistoryTurns:     3,
		RecentTurnsToInclude:   2,
		SearchHistoryThreshold: 2,
		MaxRelevantHistory:     3,
		AnswerKeywords:         []string{"환자", "병원", "CRF", "진단", "수술", "통계", "유방암"},
		AnswerExcludeKeywords:  []string{"이슈", "redmine"},
		KeywordLimit:           5,
		StatsChunkChars:        80000,
	}
}

// Engine answers questions over one corpus. The issue and clinical engines
// share this type; behavior differences hang off the EngineID and config.
type Engine struct {
	id         domain.EngineID
	index      ports.VectorIndex
	embedder   ports.Embedder
	generator  ports.Generator
	memory     ports.ConversationMemory
	classifier *classify.Classifier
	topK       TopKDefaults
	cfg        EngineConfig
	keywords   keywordCache
	logger     *slog.Logger
}

func NewEngine(
	id domain.EngineID,
	index ports.VectorIndex,
	embedder ports.Embedder,
	generator ports.Generator,
	memory ports.ConversationMemory,
	classifier *classify.Classifier,
	topK TopKDefaults,
	cfg EngineConfig,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		id:         id,
		index:      index,
		embedder:   embedder,
		generator:  generator,
		memory:     memory,
		classifier: classifier,
		topK:       topK,
		cfg:        cfg,
		logger:     logger.With(slog.String("engine", string(id))),
	}
}

func (e *Engine) ID() domain.EngineID { return e.id }

// Proximity is the router probe: top-1 embedding distance of the question
// against this collection, +Inf when the probe fails so a broken engine
// never wins a routing comparison.
func (e *Engine) Proximity(ctx context.Context, question string) float64 {
	embedding, err := e.embedder.Embed(ctx, question, ports.TaskQuery)
	if err != nil {
		e.logger.Warn("proximity probe embed failed", slog.String("error", err.Error()))
		return math.Inf(1)
	}
	res, err := e.index.Query(ctx, embedding, 1, domain.Where{})
	if err != nil || res.Len() == 0 {
		if err != nil {
			e.logger.Warn("proximity probe query failed", slog.String("error", err.Error()))
		}
		return math.Inf(1)
	}
	return res.Distances[0]
}

// Run dispatches one question. Special question classes (small talk,
// history, dataset metadata, statistics) short-circuit before retrieval.
func (e *Engine) Run(ctx context.Context, question string, session *domain.Session, topKOverride int) (domain.Answer, error) {
	const op = "usecase.Engine.Run"

	sessionID := ""
	var history []domain.Turn
	if session != nil {
		sessionID = session.ID
		history = session.History
	}

	switch {
	case e.classifier.IsGeneralConversation(question):
		return e.handleGeneral(ctx, question)
	case e.classifier.IsHistoryQuery(question):
		return e.handleHistory(ctx, question, sessionID)
	}
	if e.id == domain.EngineCRF {
		switch {
		case e.classifier.IsMetadataQuery(question):
			return e.handleMetadata(ctx, question)
		case e.classifier.IsStatisticsQuery(question):
			return e.handleStatistics(ctx, question)
		}
	}

	direct := e.directLookup(ctx, question)
	recent := e.classifier.IsRecentQuery(question)
	topK := e.determineTopK(question, topKOverride, recent)

	res, err := e.search(ctx, question, history, direct, topK)
	if err != nil {
		return domain.Answer{}, domain.WrapError(domain.ErrTemporary, op, err)
	}
	if res.Len() == 0 {
		return domain.Answer{Text: NotFoundAnswer, Sources: []domain.Source{}, Question: question}, nil
	}

	res = e.postProcess(ctx, res, question, recent)
	if e.cfg.ContextLimit > 0 && res.Len() > e.cfg.ContextLimit {
		res = reorder(res, seq(e.cfg.ContextLimit), func(i int) int { return i })
	}

	relevant := e.relevantHistory(ctx, sessionID, question, history)
	prompt := answerPrompt(e.id, question,
		e.formatContext(res),
		formatHistoryText(history, e.cfg.PromptHistoryTurns),
		formatRelevantHistory(relevant))

	text, err := e.generator.Generate(ctx, prompt)
	if err != nil {
		return domain.Answer{}, domain.WrapError(domain.ErrTemporary, op, err)
	}

	return domain.Answer{
		Text:     text,
		Sources:  e.sources(res, text),
		Question: question,
	}, nil
}

func (e *Engine) handleGeneral(ctx context.Context, question string) (domain.Answer, error) {
	text, err := e.generator.Generate(ctx, generalPrompt(question))
	if err != nil {
		return domain.Answer{}, domain.WrapError(domain.ErrTemporary, "usecase.Engine.handleGeneral", err)
	}
	return domain.Answer{Text: text, Sources: []domain.Source{}, Question: question}, nil
}

// handleHistory renders the stored conversation log directly, no LLM call.
func (e *Engine) handleHistory(ctx context.Context, question, sessionID string) (domain.Answer, error) {
	if e.memory == nil || sessionID == "" {
		return domain.Answer{Text: "저장된 대화 이력이 없습니다.", Sources: []domain.Source{}, Question: question}, nil
	}
	summary, err := e.memory.Summary(ctx, sessionID)
	if err != nil {
		return domain.Answer{}, domain.WrapError(domain.ErrTemporary, "usecase.Engine.handleHistory", err)
	}
	if summary.TotalTurns == 0 {
		return domain.Answer{Text: "저장된 대화 이력이 없습니다.", Sources: []domain.Source{}, Question: question}, nil
	}

	var b strings.Builder
	for _, sess := range summary.Sessions {
		fmt.Fprintf(&b, "**세션 대화 이력 (%s)**\n", sess.SessionID)
		fmt.Fprintf(&b, "총 %d개의 대화가 저장되어 있습니다.\n", sess.Count)
		fmt.Fprintf(&b, "기간: %s ~ %s\n\n", clipTimestamp(sess.FirstTimestamp), clipTimestamp(sess.LastTimestamp))
		for i, turn := range sess.Turns {
			fmt.Fprintf(&b, "%d. %s\n", i+1, turn.Question)
		}
		b.WriteString("\n")
	}
	return domain.Answer{
		Text:          strings.TrimRight(b.String(), "\n"),
		Sources:       []domain.Source{},
		Question:      question,
		DocumentCount: summary.TotalTurns,
	}, nil
}

// handleMetadata answers dataset-shape questions from metadata alone.
func (e *Engine) handleMetadata(ctx context.Context, question string) (domain.Answer, error) {
	const op = "usecase.Engine.handleMetadata"
	res, err := e.index.Get(ctx, domain.Where{}, 0)
	if err != nil {
		return domain.Answer{}, domain.WrapError(domain.ErrTemporary, op, err)
	}
	if res.Len() == 0 {
		return domain.Answer{Text: NotFoundAnswer, Sources: []domain.Source{}, Question: question}, nil
	}
	meta := crf.BuildDatasetMeta(res.Documents, res.Metadatas)
	return domain.Answer{
		Text:          crf.FormatDatasetMeta(meta),
		Sources:       []domain.Source{},
		Question:      question,
		DocumentCount: res.Len(),
	}, nil
}

// handleStatistics aggregates the corpus locally, then asks the generator
// (with code execution enabled) to explain and chart the numbers. Large
// reports are chunked and the text parts concatenated.
func (e *Engine) handleStatistics(ctx context.Context, question string) (domain.Answer, error) {
	const op = "usecase.Engine.handleStatistics"

	code := e.classifier.HospitalCode(question)
	where := domain.Where{}
	if code != "" {
		where = domain.Where{Key: "hospital", Value: code}
	}
	res, err := e.index.Get(ctx, where, 0)
	if err != nil {
		return domain.Answer{}, domain.WrapError(domain.ErrTemporary, op, err)
	}
	if res.Len() == 0 {
		return domain.Answer{Text: NotFoundAnswer, Sources: []domain.Source{}, Question: question}, nil
	}

	if err := crf.ValidateCorpus(res.Documents); err != nil {
		e.logger.Warn("crf corpus failed label validation", slog.String("error", err.Error()))
	}

	snapshot := crf.Calculate(res.Documents, res.Metadatas, code)
	report := crf.FormatSnapshot(snapshot)

	var texts []string
	var charts []domain.Chart
	for _, chunk := range chunkString(report, e.cfg.StatsChunkChars) {
		result, err := e.generator.GenerateWithCodeExecution(ctx, statisticsPrompt(snapshot.HospitalName, chunk, question))
		if err != nil {
			return domain.Answer{}, domain.WrapError(domain.ErrTemporary, op, err)
		}
		if result.Text != "" {
			texts = append(texts, result.Text)
		}
		charts = append(charts, result.Charts...)
	}

	text := strings.Join(texts, "\n\n")
	if text == "" {
		text = chartsFallback
	}
	return domain.Answer{
		Text:          text,
		Sources:       []domain.Source{},
		Question:      question,
		DocumentCount: res.Len(),
		Charts:        charts,
	}, nil
}

// relevantHistory pulls semantically related past turns once the current
// session is long enough to need them. Recall failures degrade to none.
func (e *Engine) relevantHistory(ctx context.Context, sessionID, question string, history []domain.Turn) []domain.MemoryTurn {
	if e.memory == nil || sessionID == "" || len(history) < e.cfg.SearchHistoryThreshold {
		return nil
	}
	turns, err := e.memory.Search(ctx, sessionID, question, e.cfg.MaxRelevantHistory)
	if err != nil {
		e.logger.Warn("relevant history search failed", slog.String("error", err.Error()))
		return nil
	}
	return turns
}

func (e *Engine) formatContext(res domain.QueryResult) string {
	var b strings.Builder
	for i, doc := range res.Documents {
		var meta domain.Metadata
		if i < len(res.Metadatas) {
			meta = res.Metadatas[i]
		}
		if i > 0 {
			b.WriteString("\n\n")
		}
		switch e.id {
		case domain.EngineCRF:
			fmt.Fprintf(&b, "[CRF %s | 병원 %s | 시트 %s]\n%s",
				meta.Get("record_id"),
				crf.HospitalName(meta.Get("hospital")),
				meta.Get("sheet"),
				doc)
		default:
			fmt.Fprintf(&b, "[이슈 #%s - %s]\n%s",
				meta.Get("issue_id"), meta.Get("subject"), doc)
		}
	}
	return b.String()
}

// sources builds citations. For issues, answers that mention #N explicitly
// cite exactly those issues; otherwise the top candidates are cited.
func (e *Engine) sources(res domain.QueryResult, answer string) []domain.Source {
	if e.id == domain.EngineCRF {
		return e.crfSources(res)
	}
	return e.issueSources(res, answer)
}

func (e *Engine) issueSources(res domain.QueryResult, answer string) []domain.Source {
	mentioned := map[string]bool{}
	for _, m := range issueMentionPattern.FindAllStringSubmatch(answer, -1) {
		id := strings.TrimLeft(m[1], "0")
		if id == "" {
			id = "0"
		}
		mentioned[id] = true
	}

	var out []domain.Source
	seen := map[string]bool{}
	build := func(i int) domain.Source {
		meta := domain.Metadata{}
		if i < len(res.Metadatas) && res.Metadatas[i] != nil {
			meta = res.Metadatas[i]
		}
		src := domain.Source{
			IssueID:        meta.Get("issue_id"),
			Subject:        meta.Get("subject"),
			Distance:       res.Distances[i],
			ContentPreview: preview(res.Documents[i]),
		}
		if e.cfg.IssueBaseURL != "" && src.IssueID != "" {
			src.URL = fmt.Sprintf("%s/issues/%s", strings.TrimRight(e.cfg.IssueBaseURL, "/"), src.IssueID)
		}
		return src
	}

	if len(mentioned) > 0 {
		for i := range res.Documents {
			var id string
			if i < len(res.Metadatas) {
				id = res.Metadatas[i].Get("issue_id")
			}
			if id == "" || !mentioned[id] || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, build(i))
		}
		if len(out) > 0 {
			sort.Slice(out, func(a, b int) bool {
				na, _ := strconv.Atoi(out[a].IssueID)
				nb, _ := strconv.Atoi(out[b].IssueID)
				return na < nb
			})
			return out
		}
	}

	for i := range res.Documents {
		if len(out) >= maxSources {
			break
		}
		out = append(out, build(i))
	}
	return out
}

func (e *Engine) crfSources(res domain.QueryResult) []domain.Source {
	var out []domain.Source
	for i := range res.Documents {
		if len(out) >= maxSources {
			break
		}
		meta := domain.Metadata{}
		if i < len(res.Metadatas) && res.Metadatas[i] != nil {
			meta = res.Metadatas[i]
		}
		src := domain.Source{
			RecordID:       meta.Get("record_id"),
			Hospital:       crf.HospitalName(meta.Get("hospital")),
			Sheet:          meta.Get("sheet"),
			Distance:       res.Distances[i],
			ContentPreview: preview(res.Documents[i]),
		}
		if m := pathNoPattern.FindStringSubmatch(res.Documents[i]); m != nil {
			src.PathNo = m[1]
		}
		if row := meta.Get("row_index"); row != "" {
			if n, err := strconv.Atoi(row); err == nil {
				src.RowIndex = n
			}
		}
		out = append(out, src)
	}
	return out
}

func preview(doc string) string {
	runes := []rune(doc)
	if len(runes) <= previewRunes {
		return doc
	}
	return string(runes[:previewRunes]) + "..."
}

func clipTimestamp(ts string) string {
	if len(ts) > 19 {
		return ts[:19]
	}
	return ts
}

func chunkString(s string, size int) []string {
	if size <= 0 || len(s) <= size {
		return []string{s}
	}
	var chunks []string
	runes := []rune(s)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
