package usecase

import (
	"context"
	"log/slog"

	"github.com/jks-lab/ragchat/internal/core/classify"
	"github.com/jks-lab/ragchat/internal/core/domain"
)

// DefaultSimilarityThreshold is the minimum top-1 distance gap before the
// router trusts an embedding comparison over session context.
const DefaultSimilarityThreshold = 0.05

// proximityProbe reports how close a question sits to one collection:
// the top-1 embedding distance, +Inf when the probe cannot answer.
type proximityProbe interface {
	Proximity(ctx context.Context, question string) float64
}

// Router decides which domain engine answers a question. The crf probe is
// nil when the clinical collection was not mounted; the service then runs
// in single-domain mode.
type Router struct {
	classifier *classify.Classifier
	issues     proximityProbe
	crf        proximityProbe
	threshold  float64
	logger     *slog.Logger
}

func NewRouter(classifier *classify.Classifier, issues, crf proximityProbe, threshold float64, logger *slog.Logger) *Router {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &Router{
		classifier: classifier,
		issues:     issues,
		crf:        crf,
		threshold:  threshold,
		logger:     logger,
	}
}

// Route picks an engine. Explicit keywords win, then session continuity
// for follow-ups, then an embedding-distance comparison, then the issues
// default. The returned reason is for logs and metrics.
func (r *Router) Route(ctx context.Context, question string, session *domain.Session) (domain.EngineID, string) {
	isIssues := len(r.classifier.ExtractIssueIDs(question)) > 0 || r.classifier.IsIssuesQuery(question)
	if isIssues {
		return domain.EngineIssues, "explicit_keyword"
	}

	if r.crf == nil {
		r.logger.Warn("crf engine unavailable, single-domain routing",
			slog.String("question", question))
		return domain.EngineIssues, "crf_unavailable"
	}

	if r.classifier.IsCRFQuery(question) {
		return domain.EngineCRF, "explicit_keyword"
	}

	var lastEngine domain.EngineID
	if session != nil {
		lastEngine = session.LastEngine
	}
	if lastEngine != "" && r.classifier.IsFollowUp(question) {
		return lastEngine, "follow_up_context"
	}

	crfDist := r.crf.Proximity(ctx, question)
	issuesDist := r.issues.Proximity(ctx, question)
	r.logger.Info("ambiguous question, comparing collections",
		slog.Float64("crf_distance", crfDist),
		slog.Float64("issues_distance", issuesDist))

	switch {
	case crfDist < issuesDist-r.threshold:
		return domain.EngineCRF, "embedding_distance"
	case issuesDist < crfDist-r.threshold:
		return domain.EngineIssues, "embedding_distance"
	case lastEngine == domain.EngineCRF:
		return domain.EngineCRF, "sticky_session"
	default:
		return domain.EngineIssues, "default"
	}
}
