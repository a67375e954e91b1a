// Package classify holds the stateless question classifier: predicate
// functions over precompiled regular-expression tables, plus the token
// extractors (issue IDs, record IDs, version tokens, hospital codes) the
// routing and retrieval layers depend on.
//
// All pattern tables are compiled once at package init and never mutated,
// so a single Classifier is safe for concurrent use.
package classify

import (
	"regexp"
	"sort"
	"strings"
)

// Hospital maps an informal hospital name to its corpus code.
type Hospital struct {
	Name string `yaml:"name"`
	Code string `yaml:"code"`
}

// DefaultHospitals is the deployed hospital vocabulary. Longer names must
// win over their substrings (강남세브란스 before 세브란스), which Matching
// enforces by sorting on name length.
func DefaultHospitals() []Hospital {
	return []Hospital{
		{Name: "세브란스", Code: "01"},
		{Name: "계명대", Code: "02"},
		{Name: "분당차", Code: "03"},
		{Name: "강남세브란스", Code: "04"},
		{Name: "강남차", Code: "05"},
		{Name: "단국대", Code: "06"},
		{Name: "이화여대", Code: "07"},
		{Name: "이대목동", Code: "07"},
	}
}

// Classifier answers "which tags apply to this question" and extracts
// identifiers. It carries no per-question state.
type Classifier struct {
	hospitals        []Hospital // longest name first
	hospitalPatterns []*regexp.Regexp
}

func New(hospitals []Hospital) *Classifier {
	if len(hospitals) == 0 {
		hospitals = DefaultHospitals()
	}
	ordered := make([]Hospital, len(hospitals))
	copy(ordered, hospitals)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i].Name) > len(ordered[j].Name)
	})

	namePatterns := make([]*regexp.Regexp, 0, len(ordered))
	for _, h := range ordered {
		namePatterns = append(namePatterns, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(h.Name)))
	}

	return &Classifier{
		hospitals:        ordered,
		hospitalPatterns: namePatterns,
	}
}

// Tags returns every applicable tag. Precedence between tags is the
// caller's concern; the only precedence baked in here is the
// statistics-vs-metadata/sample exclusion the corpus requires.
func (c *Classifier) Tags(question string) map[Tag]bool {
	tags := make(map[Tag]bool)
	checks := []struct {
		tag Tag
		ok  bool
	}{
		{TagGeneralChat, c.IsGeneralConversation(question)},
		{TagHistoryQuery, c.IsHistoryQuery(question)},
		{TagMetadata, c.IsMetadataQuery(question)},
		{TagStatistics, c.IsStatisticsQuery(question)},
		{TagSample, c.IsSampleQuery(question)},
		{TagConditional, c.IsConditionalQuery(question)},
		{TagVersion, c.IsVersionOrComparisonQuery(question)},
		{TagTechnical, c.IsTechnicalQuery(question)},
		{TagRecent, c.IsRecentQuery(question)},
		{TagFollowUp, c.IsFollowUp(question)},
		{TagIssues, c.IsIssuesQuery(question)},
		{TagCRF, c.IsCRFQuery(question)},
	}
	for _, check := range checks {
		if check.ok {
			tags[check.tag] = true
		}
	}
	return tags
}

func (c *Classifier) IsGeneralConversation(question string) bool {
	return anyMatch(generalConversationPatterns, strings.ToLower(strings.TrimSpace(question)))
}

func (c *Classifier) IsHistoryQuery(question string) bool {
	return anyMatch(historyQueryPatterns, question)
}

func (c *Classifier) IsMetadataQuery(question string) bool {
	return anyMatch(metadataQueryPatterns, question)
}

// IsStatisticsQuery is deliberately subordinate to metadata and sample
// classification: "show me a few cases" mentions 통계-adjacent words but
// must go through the search path, not the aggregate path.
func (c *Classifier) IsStatisticsQuery(question string) bool {
	if c.IsMetadataQuery(question) {
		return false
	}
	if c.IsSampleQuery(question) {
		return false
	}
	return anyMatch(statisticsQueryPatterns, question)
}

func (c *Classifier) IsSampleQuery(question string) bool {
	return anyMatch(sampleQueryPatterns, question)
}

func (c *Classifier) IsConditionalQuery(question string) bool {
	return anyMatch(conditionalQueryPatterns, question)
}

func (c *Classifier) IsVersionOrComparisonQuery(question string) bool {
	return anyMatch(versionComparisonPatterns, question)
}

func (c *Classifier) IsTechnicalQuery(question string) bool {
	return anyMatch(technicalQueryPatterns, question)
}

func (c *Classifier) IsRecentQuery(question string) bool {
	return anyMatch(recentQueryPatterns, question)
}

func (c *Classifier) IsFollowUp(question string) bool {
	return anyMatch(followUpPatterns, question)
}

func (c *Classifier) IsIssuesQuery(question string) bool {
	return anyMatch(issuesQueryPatterns, question)
}

// IsCRFQuery matches the full clinical vocabulary: base terms, hospital
// names and codes, medical markers, and CRF field names.
func (c *Classifier) IsCRFQuery(question string) bool {
	if anyMatch(crfBasePatterns, question) ||
		anyMatch(crfHospitalCodePatterns, question) ||
		anyMatch(crfMedicalPatterns, question) ||
		anyMatch(crfFieldPatterns, question) {
		return true
	}
	return anyMatch(c.hospitalPatterns, question)
}

// ExtractIssueIDs pulls issue numbers ("issue #123", "이슈 123", "#123").
// Leading zeros are normalized away; duplicates removed, order preserved.
func (c *Classifier) ExtractIssueIDs(question string) []string {
	matches := issueIDPattern.FindAllStringSubmatch(question, -1)
	seen := make(map[string]bool)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		for _, group := range m[1:] {
			if group == "" {
				continue
			}
			id := strings.TrimLeft(group, "0")
			if id == "" {
				id = "0"
			}
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

// ExtractRecordIDs pulls structured CRF record codes (BC_<n>_<n>),
// normalized to upper case.
func (c *Classifier) ExtractRecordIDs(question string) []string {
	matches := crfRecordPattern.FindAllString(question, -1)
	seen := make(map[string]bool)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		id := strings.ToUpper(m)
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// ExtractVersionTokens returns each version-like token in both its bare
// and v-prefixed spelling, so "v1.2" also matches documents that say "1.2".
func (c *Classifier) ExtractVersionTokens(text string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, 4)
	add := func(token string) {
		if !seen[token] {
			seen[token] = true
			out = append(out, token)
		}
	}
	for _, m := range versionTokenPattern.FindAllString(text, -1) {
		token := strings.ToLower(m)
		add(token)
		if strings.HasPrefix(token, "v") {
			add(token[1:])
		} else {
			add("v" + token)
		}
	}
	return out
}

// IsVersionToken reports whether the whole token is a version string
// (used to keep versions out of the model-keyword vocabulary).
func (c *Classifier) IsVersionToken(token string) bool {
	return versionOnlyPattern.MatchString(token)
}

// ModelTokens returns the alphanumeric candidate tokens in a text,
// excluding pure version strings. Hyphen/underscore compounds also yield
// their long-enough parts.
func (c *Classifier) ModelTokens(text string) []string {
	out := make([]string, 0, 8)
	for _, token := range modelTokenPattern.FindAllString(text, -1) {
		if c.IsVersionToken(token) {
			continue
		}
		out = append(out, token)
	}
	return out
}

// HospitalCode extracts a hospital code from informal hospital names in
// the question. Whitespace inside names is ignored; longest names win.
func (c *Classifier) HospitalCode(question string) string {
	compact := strings.ReplaceAll(question, " ", "")
	for _, h := range c.hospitals {
		if strings.Contains(compact, strings.ReplaceAll(h.Name, " ", "")) {
			return h.Code
		}
	}
	return ""
}

// NormalizeHospitalNames appends the corpus code after each informal
// hospital name so the embedded search text carries both spellings.
func (c *Classifier) NormalizeHospitalNames(text string) string {
	out := text
	for _, h := range c.hospitals {
		if strings.Contains(out, h.Name) {
			out = strings.ReplaceAll(out, h.Name, h.Name+" "+h.Code)
		}
	}
	return out
}

// HospitalName resolves a code back to its display name.
func (c *Classifier) HospitalName(code string) string {
	for _, h := range c.hospitals {
		if h.Code == code {
			return h.Name
		}
	}
	return "병원 " + code
}

func anyMatch(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
