// Package crf extracts structured clinical fields from "label: value"
// breast-cancer case report documents and aggregates them into corpus
// statistics. The field vocabulary is fixed by the source workbooks, so
// all patterns live in an immutable table compiled at package init.
package crf

import "regexp"

// Field names double as accumulator routing keys in Calculate.
const (
	fieldAge                 = "age_at_diagnosis"
	fieldTumorSize           = "tumor_size_mm"
	fieldER                  = "er_status"
	fieldPR                  = "pr_status"
	fieldHER2                = "her2_status"
	fieldAJCCStage           = "ajcc_stage"
	fieldNG                  = "nuclear_grade"
	fieldHG                  = "histologic_grade"
	fieldKi67                = "ki67_li"
	fieldLymphNode           = "lymph_node_involvement"
	fieldLymphNodeCount      = "lymph_node_count"
	fieldTCategory           = "t_category"
	fieldNCategory           = "n_category"
	fieldMCategory           = "m_category"
	fieldHistologicType      = "histologic_type"
	fieldSurgeryType         = "surgery_type"
	fieldAxillaryRecurrence  = "axillary_ln_recurrence"
	fieldSurgerySiteRecur    = "surgery_site_recurrence"
	fieldDistantMetastasis   = "distant_metastasis"
	fieldSurvival            = "survival_status"
	fieldTumorLocation       = "tumor_location"
	fieldTumorNumber         = "tumor_number"
	fieldHER2IHC             = "her2_ihc"
	fieldDCISLCIS            = "dcis_lcis"
	fieldMitoticRate         = "mitotic_rate"
	fieldAdjuvantEndocrine   = "adjuvant_endocrine"
	fieldAdjuvantRTx         = "adjuvant_rtx"
	fieldNeoadjuvantCTx      = "neoadjuvant_ctx"
	fieldNeoadjuvantResponse = "neoadjuvant_response"
	fieldSurgeryDate         = "surgery_date"
	fieldFollowupDate        = "last_followup_date"
)

// field binds a corpus label pattern to its value domain. values maps the
// coded capture to a display label; nil means the raw capture is kept.
type field struct {
	name    string
	pattern *regexp.Regexp
	values  map[string]string
}

// fieldTable is the full extraction vocabulary, one entry per workbook
// column the statistics engine understands. Order matters only for the
// Allred section boundaries resolved separately in extract.go.
var fieldTable = []field{
	{name: fieldAge, pattern: regexp.MustCompile(`나이\s*\(진단시\)\s*:\s*(\d+)`)},
	{name: fieldTumorSize, pattern: regexp.MustCompile(`암\s*size\s*\(mm\)_장경\s*:\s*(\d+(?:\.\d+)?)`)},
	{name: fieldER, pattern: regexp.MustCompile(`ER\s*\(-/\+\)\s*:\s*([01])`)},
	{name: fieldPR, pattern: regexp.MustCompile(`PR\s*\(-/\+\)\s*:\s*([01])`)},
	{name: fieldHER2, pattern: regexp.MustCompile(`HER2\s*\(-/\+\)\s*:\s*([01])`)},
	{
		name:    fieldAJCCStage,
		pattern: regexp.MustCompile(`(?i)AJCC\s*stage\s*\(8판\)\s*:\s*(\d+)`),
		values:  map[string]string{"1": "Stage I", "2": "Stage II", "3": "Stage III", "4": "Stage IV"},
	},
	{
		name:    fieldNG,
		pattern: regexp.MustCompile(`NG\s*\(1/2/3\)\s*:\s*([123])`),
		values:  map[string]string{"1": "Grade 1", "2": "Grade 2", "3": "Grade 3"},
	},
	{
		name:    fieldHG,
		pattern: regexp.MustCompile(`HG\s*\(1/2/3/4\)\s*:\s*([1234])`),
		values:  map[string]string{"1": "Grade 1", "2": "Grade 2", "3": "Grade 3", "4": "Grade 4"},
	},
	{name: fieldKi67, pattern: regexp.MustCompile(`(?i)KI-67\s*LI\s*\(%\)\s*:\s*(\d+(?:\.\d+)?)`)},
	{name: fieldLymphNode, pattern: regexp.MustCompile(`림프절\s*전이여부_수술당시.*?:\s*([0123])`)},
	{name: fieldLymphNodeCount, pattern: regexp.MustCompile(`전이\s*림프절\s*개수_수술당시\s*:\s*(\d+)`)},
	{name: fieldTCategory, pattern: regexp.MustCompile(`T\s*category\s*:\s*(\d+)`)},
	{name: fieldNCategory, pattern: regexp.MustCompile(`N\s*category\s*:\s*(\d+)`)},
	{
		name:    fieldMCategory,
		pattern: regexp.MustCompile(`M\s*category.*?:\s*([01])`),
		values:  map[string]string{"0": "M0", "1": "M1"},
	},
	{
		name:    fieldHistologicType,
		pattern: regexp.MustCompile(`진단명\s*\(histologic\s*type.*?\)\s*:\s*:\s*([1234])`),
		values:  map[string]string{"1": "Ductal", "2": "Lobular", "3": "Mucinous", "4": "Other"},
	},
	{
		name:    fieldSurgeryType,
		pattern: regexp.MustCompile(`수술명\s*\(partial/total\)\s*:\s*([12])`),
		values:  map[string]string{"1": "Partial mastectomy", "2": "Total mastectomy"},
	},
	{name: fieldAxillaryRecurrence, pattern: regexp.MustCompile(`Axillary\s*LN\s*재발\s*여부\s*\(0/1\)\s*:\s*([01])`)},
	{name: fieldSurgerySiteRecur, pattern: regexp.MustCompile(`수술부위\s*재발여부\s*\(0/1\)\s*:\s*([01])`)},
	{name: fieldDistantMetastasis, pattern: regexp.MustCompile(`다른\s*장기로\s*전이\s*여부\s*\(0/1\)\s*:\s*([01])`)},
	{name: fieldSurvival, pattern: regexp.MustCompile(`이\s*질병으로\s*사망여부.*?:\s*([012])`)},
	{
		name:    fieldTumorLocation,
		pattern: regexp.MustCompile(`암의\s*위치\s*\(Rt\./Lt\./Both\)\s*:\s*([123])`),
		values:  map[string]string{"1": "Right", "2": "Left", "3": "Both"},
	},
	{
		name:    fieldTumorNumber,
		pattern: regexp.MustCompile(`암의\s*개수\s*\(single/multiple\)\s*:\s*([12])`),
		values:  map[string]string{"1": "Single", "2": "Multiple"},
	},
	{
		name:    fieldHER2IHC,
		pattern: regexp.MustCompile(`HER2_IHC\s*\(0/\+1/\s*\+2/\s*\+3\)\s*:\s*([0123])`),
		values:  map[string]string{"0": "IHC 0", "1": "IHC 1+", "2": "IHC 2+", "3": "IHC 3+"},
	},
	{
		name:    fieldDCISLCIS,
		pattern: regexp.MustCompile(`DCIS\s*or\s*LCIS\s*여부.*?:\s*([012])`),
		values: map[string]string{
			"0": "No DCIS/LCIS",
			"1": "DCIS/LCIS present, EIC(-)",
			"2": "DCIS/LCIS present, EIC(+)",
		},
	},
	{
		name:    fieldMitoticRate,
		pattern: regexp.MustCompile(`HG_score\s*3\s*\(Mitotic\s*Rate\)\s*\(1/2/3/4\)\s*:\s*([1234])`),
		values:  map[string]string{"1": "Score 1", "2": "Score 2", "3": "Score 3", "4": "Score 4"},
	},
	{name: fieldAdjuvantEndocrine, pattern: regexp.MustCompile(`(?i)adjuvant\s*Endocrine/Hormonal\s*Tx\s*:\s*([012])`)},
	{name: fieldAdjuvantRTx, pattern: regexp.MustCompile(`(?i)adjuvant\s*RTx\s*:\s*([012])`)},
	{
		name:    fieldNeoadjuvantCTx,
		pattern: regexp.MustCompile(`(?i)neoadjuvantCTx\s*\(0:무,\s*1:유\)\s*:\s*([01])`),
		values:  map[string]string{"0": "무", "1": "유"},
	},
	{name: fieldNeoadjuvantResponse, pattern: regexp.MustCompile(`(?i)neoadjuvantCTx\s*response_MP.*?:\s*([0-6])`)},
	{name: fieldSurgeryDate, pattern: regexp.MustCompile(`수술연월일\s*:\s*(\d{4}-\d{2}-\d{2})`)},
	{name: fieldFollowupDate, pattern: regexp.MustCompile(`(?i)Last\s*F/U\s*날짜.*?:\s*(\d{4}-\d{2}-\d{2})`)},
}

// Allred scores share the literal label "스코어 계산 필요" under both the
// ER and PR sections, so they are resolved by section boundaries rather
// than through the field table.
var (
	erSectionPattern    = regexp.MustCompile(`ER\s*\(-/\+\)`)
	prSectionPattern    = regexp.MustCompile(`PR\s*\(-/\+\)`)
	her2SectionPattern  = regexp.MustCompile(`HER2`)
	ki67SectionPattern  = regexp.MustCompile(`(?i)KI-67`)
	allredScorePattern  = regexp.MustCompile(`스코어\s*계산\s*필요\s*:\s*(\d+)`)
	labelLinePattern    = regexp.MustCompile(`(?m)^([^:\n]{1,80}?)\s*:\s*\S`)
	metaSurgeryDateKeys = []string{"수술연월일", "surgery_date"}
)

// hospitalNames resolves corpus hospital codes for display.
var hospitalNames = map[string]string{
	"01": "세브란스",
	"02": "계명대",
	"03": "분당차",
	"04": "강남세브란스",
	"05": "강남차",
	"06": "단국대",
	"07": "이화여대",
}

// HospitalName returns the display name for a corpus hospital code.
func HospitalName(code string) string {
	if name, ok := hospitalNames[code]; ok {
		return name
	}
	return "병원 " + code
}
