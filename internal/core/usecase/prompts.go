package usecase

import (
	"fmt"
	"strings"

	"github.com/jks-lab/ragchat/internal/core/domain"
)

// Prompt templates for the two corpora. Answers follow the question's
// language, so the instructions state that explicitly rather than fixing
// Korean or English.

const generalPromptTemplate = `당신은 이슈 트래커와 임상 CRF 데이터를 다루는 친절한 어시스턴트입니다.
아래 질문은 일상적인 대화입니다. 문서 검색 없이 짧고 자연스럽게 답변하세요.
질문이 한국어면 한국어로, 영어면 영어로 답변합니다.

질문: %s

답변:`

const issuesPromptTemplate = `당신은 소프트웨어 이슈 트래커(Redmine) 데이터를 기반으로 답변하는 어시스턴트입니다.
아래 검색된 이슈 문서만 근거로 답변하세요. 문서에 없는 내용은 추측하지 말고 모른다고 답하세요.
이슈를 언급할 때는 반드시 #이슈번호 형식을 사용하세요.
질문이 한국어면 한국어로, 영어면 영어로 답변합니다.

%s%s[검색된 이슈]
%s

질문: %s

답변:`

const crfPromptTemplate = `당신은 유방암 임상 CRF(Case Report Form) 데이터를 기반으로 답변하는 어시스턴트입니다.
아래 검색된 환자 기록만 근거로 답변하세요. 기록에 없는 내용은 추측하지 말고 모른다고 답하세요.
환자 개인을 식별할 수 있는 정보는 그대로 인용하되, 기록 범위를 벗어난 의학적 조언은 하지 마세요.
질문이 한국어면 한국어로, 영어면 영어로 답변합니다.

%s%s[검색된 CRF 기록]
%s

질문: %s

답변:`

const statisticsPromptTemplate = `당신은 유방암 임상 CRF 데이터 통계를 분석하고 시각화하는 어시스턴트입니다.
아래는 %s 데이터에서 집계한 통계입니다. 이 수치만 근거로 질문에 답변하세요.
질문이 분포나 비율을 묻는 경우, 코드 실행 도구로 matplotlib 차트를 생성하세요.
차트 제목과 축 레이블은 한국어로 작성하고, 수치는 통계 그대로 사용하세요.

[통계 데이터]
%s

질문: %s

답변:`

func generalPrompt(question string) string {
	return fmt.Sprintf(generalPromptTemplate, question)
}

func answerPrompt(engine domain.EngineID, question, context, historyText, relevantText string) string {
	template := issuesPromptTemplate
	if engine == domain.EngineCRF {
		template = crfPromptTemplate
	}
	history := ""
	if historyText != "" {
		history = "[최근 대화]\n" + historyText + "\n\n"
	}
	relevant := ""
	if relevantText != "" {
		relevant = "[관련 과거 대화]\n" + relevantText + "\n\n"
	}
	return fmt.Sprintf(template, history, relevant, context, question)
}

func statisticsPrompt(hospitalName, statistics, question string) string {
	return fmt.Sprintf(statisticsPromptTemplate, hospitalName, statistics, question)
}

func formatHistoryText(history []domain.Turn, maxTurns int) string {
	if len(history) == 0 {
		return ""
	}
	if maxTurns > 0 && len(history) > maxTurns {
		history = history[len(history)-maxTurns:]
	}
	var b strings.Builder
	for _, turn := range history {
		fmt.Fprintf(&b, "사용자: %s\n", turn.Question)
		fmt.Fprintf(&b, "어시스턴트: %s\n", truncate(turn.Answer, 200))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatRelevantHistory(turns []domain.MemoryTurn) string {
	if len(turns) == 0 {
		return ""
	}
	var b strings.Builder
	for _, turn := range turns {
		fmt.Fprintf(&b, "Q: %s\nA: %s\n", turn.Question, truncate(turn.Answer, 200))
	}
	return strings.TrimRight(b.String(), "\n")
}
