package classify

import "regexp"

// Tag is one classification outcome. Tags are not mutually exclusive;
// callers impose precedence.
type Tag string

const (
	TagGeneralChat  Tag = "general_chat"
	TagHistoryQuery Tag = "history_query"
	TagMetadata     Tag = "metadata_query"
	TagStatistics   Tag = "statistics_query"
	TagSample       Tag = "sample_query"
	TagConditional  Tag = "conditional_query"
	TagVersion      Tag = "version_query"
	TagTechnical    Tag = "technical_query"
	TagRecent       Tag = "recent_query"
	TagFollowUp     Tag = "follow_up"
	TagIssues       Tag = "issues_domain"
	TagCRF          Tag = "crf_domain"
)

// Identifier and token extraction patterns. IDs force direct lookup, so
// these are kept separate from the tag tables.
var (
	issueIDPattern      = regexp.MustCompile(`(?i)issue\s*#?(\d+)|이슈\s*#?(\d+)|#(\d+)`)
	crfRecordPattern    = regexp.MustCompile(`(?i)(BC_\d+_\d+)`)
	versionTokenPattern = regexp.MustCompile(`(?i)(v?\d+\.\d+(?:\.\d+)?)`)
	versionOnlyPattern  = regexp.MustCompile(`(?i)^v?\d+(?:\.\d+)+$`)
	modelTokenPattern   = regexp.MustCompile(`[A-Za-z][A-Za-z0-9_-]{2,}`)
)

// The question vocabulary below is corpus data: the deployed user base asks
// in Korean and English, so the patterns carry both.

var generalConversationPatterns = compileAll([]string{
	`^(안녕|안녕하세요|하이|헬로|hi|hello|hey)[\?!.\s]*$`,
	`^(감사|고마워|고맙습니다|땡큐|thanks?|thx)[\?!.\s]*$`,
	`(내일|다음주|이번주|미래|계획|뭐하지|할까)`,
	`(날씨|맛집|카페|커피|영화|주식|코인|여행|연애|쇼핑)`,
	`((코드|스크립트|프로그램).*(작성|만들|짜|생성))|((작성|만들|짜|생성).*(코드|스크립트|프로그램))`,
	`^(이거|그거|저거|그것|성능)$`,
})

var historyQueryPatterns = compileAll([]string{
	`과거\s*(대화|질문|내용|이력|히스토리)`,
	`(대화|질문)\s*(목록|리스트|내역|이력)`,
	`전에\s*(물어본|질문한|했던)`,
	`이전\s*(대화|질문)`,
	`history|past\s*conversation`,
	`저장된\s*대화`,
	`대화\s*몇\s*개`,
})

var followUpPatterns = compileAll([]string{
	`^(각|전체|모든|모두)\s*(병원|데이터)`,
	`병원\s*별`,
	`비교`,
	`차이`,
	`^(그것|그거|저것|저거|이것|이거)`,
	`^(어떻게|왜|언제|어디)`,
	`(가능|되|할\s*수\s*있)`,
	`^(네|예|응|ㅇㅇ|yes)`,
	`^(더|추가|다른)`,
})

var versionComparisonPatterns = compileAll([]string{
	`\b0\.\d`,
	`\bv\d`,
	`ver`,
	`version`,
	`버전`,
	`전체`,
	`목록`,
	`비교`,
	`차이`,
	`모든`,
	`최신`,
	`이전`,
	`변경`,
	`업데이트`,
})

var technicalQueryPatterns = compileAll([]string{
	`pytorch`,
	`tensorflow`,
	`cuda`,
	`framework`,
	`환경`,
	`설정`,
	`config`,
	`파라미터`,
	`하이퍼파라미터`,
	`gpu`,
	`cpu`,
	`메모리`,
	`배치`,
	`epoch`,
	`optimizer`,
	`learning.?rate`,
	`loss`,
	`metric`,
	`데이터셋`,
	`dataset`,
	`모델 구조`,
	`architecture`,
})

var issuesQueryPatterns = compileAll([]string{
	`\bredmine\b`,
	`이슈`,
	`issue`,
	`\b모델\b`,
	`\bmodel\b`,
	`실험`,
	`experiment`,
	`학습`,
	`train`,
	`training`,
	`테스트`,
	`test`,
	`평가`,
	`evaluation`,
	`결과`,
	`result`,
	`성능`,
	`performance`,
	`정확도`,
	`accuracy`,
	`f1[_\s-]?score`,
	`auc`,
	`auroc`,
	`\bmap\b`,
	`recall`,
	`precision`,
})

var crfBasePatterns = compileAll([]string{
	`\bcrf\b`,
	`breast`,
	`유방`,
	`임상\s*데이터`,
	`환자`,
	`병원명`,
	`병원코드`,
	`병원번호`,
	`병리번호`,
	`수술연월일`,
	`진단명`,
	`record[_\s-]?id`,
	`bc_\d+_\d+`,
	`통합\s*데이터`,
	`코딩\s*설명`,
	`항목\s*용어`,
	`case\s*no`,
	`path\s*no`,
	`serial\s*no`,
})

var crfHospitalCodePatterns = compileAll([]string{
	`병원\s*01`,
	`병원\s*02`,
	`병원\s*03`,
	`병원\s*04`,
	`병원\s*05`,
	`병원\s*06`,
	`병원\s*07`,
})

var crfMedicalPatterns = compileAll([]string{
	`her2`,
	`ihc`,
	`fish`,
	`\ber\b`,
	`\bpr\b`,
	`림프절`,
	`전이`,
	`병기`,
	`stage`,
	`grade`,
	`조직학적`,
	`면역조직화학`,
	`수용체`,
	`양성|음성`,
	`판독`,
})

var crfFieldPatterns = compileAll([]string{
	`follow[_\s-]?up`,
	`\bf[\s/.-]?u\b`,
	`followup`,
	`\bajcc\b`,
	`\bng\b`,
	`\bhg\b`,
	`\bdcis\b`,
	`\blcis\b`,
	`allred\s*score`,
	`\bki[-\s]?67\b`,
	`\bsish\b`,
	`neoadjuvant`,
	`adjuvant`,
	`\bctx\b`,
	`\brtx\b`,
	`\bbrca\b`,
	`mutation`,
	`\brcb\b`,
	`재발`,
	`recurrence`,
	`axillary`,
	`겨드랑이`,
	`절제연`,
	`margin`,
	`침윤`,
	`invasion`,
})

var metadataQueryPatterns = compileAll([]string{
	`어떤\s*병원`,
	`병원별\s*데이터\s*수`,
	`(가장\s*)?(오래된|최신|최근).*수술.*날짜`,
	`어떤\s*항목`,
	`데이터\s*수집\s*기간`,
	`필드|컬럼|column|field`,
})

var statisticsQueryPatterns = compileAll([]string{
	`통계`,
	`몇\s*(명|건|개)`,
	`총\s*(환자|데이터|수)`,
	`평균`,
	`분포`,
	`비율`,
	`현황`,
	`요약`,
	`전체`,
	`모든`,
	`all`,
	`summary`,
	`count`,
	`수집한\s*데이터`,
	`데이터\s*현황`,
	`(er|pr|her2).*(양성|음성)`,
	`ki[-\s]?67.*\d+%?`,
	`폐경\s*(전|후).*(호르몬|er|pr|양성)`,
	`(세브란스|계명대|분당차|강남세브란스|강남차|단국대|이화여대|이대목동)\s*(병원)?\s*(은|는|의)\??$`,
	`(세브란스|계명대|분당차|강남세브란스|강남차|단국대|이화여대|이대목동|병원\s*0[1-7]).*(있어|있나요|있습니까|있는지)`,
	`(데이터|환자|record|기록|자료).*(있어|있나요|있습니까|있는지)`,
	`(있어|있나요|있습니까|있는지)`,
})

var sampleQueryPatterns = compileAll([]string{
	`사례`,
	`케이스`,
	`case`,
	`\d+\s*개\s*만`,
	`\d+\s*건\s*만`,
	`몇\s*개\s*만`,
	`몇\s*건\s*만`,
	`상위\s*\d+`,
})

var conditionalQueryPatterns = compileAll([]string{
	`\d+\s*%?\s*(이상|초과|보다\s*큰|이하|미만)`,
	`[<>]=?\s*\d`,
})

var recentQueryPatterns = compileAll([]string{
	`최신|최근|가장\s*새로운|latest|recent`,
})

func compileAll(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(`(?i)`+p))
	}
	return out
}
