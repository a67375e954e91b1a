package crf

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jks-lab/ragchat/internal/core/domain"
)

// FormatSnapshot renders a snapshot as the Korean report text handed to the
// language model. Sections whose fields never appeared are omitted.
func FormatSnapshot(snap Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== %s CRF 데이터 통계 ===\n", snap.HospitalName)
	fmt.Fprintf(&b, "\n총 환자 수: %d명\n", snap.TotalPatients)
	fmt.Fprintf(&b, "총 문서 수: %d개", snap.TotalDocuments)

	if snap.Age.Count > 0 {
		b.WriteString("\n\n진단 시 나이:")
		fmt.Fprintf(&b, "\n  - 평균: %v세", snap.Age.Mean)
		fmt.Fprintf(&b, "\n  - 범위: %v세 ~ %v세", snap.Age.Min, snap.Age.Max)
		fmt.Fprintf(&b, "\n  - 데이터 수: %d명", snap.Age.Count)
	}

	if snap.TumorSize.Count > 0 {
		b.WriteString("\n\n암 크기 (장경):")
		fmt.Fprintf(&b, "\n  - 평균: %v mm", snap.TumorSize.Mean)
		fmt.Fprintf(&b, "\n  - 범위: %v mm ~ %v mm", snap.TumorSize.Min, snap.TumorSize.Max)
		fmt.Fprintf(&b, "\n  - 데이터 수: %d명", snap.TumorSize.Count)
	}

	writeRatio(&b, "ER (Estrogen Receptor)", snap.ER)
	writeRatio(&b, "PR (Progesterone Receptor)", snap.PR)
	writeRatio(&b, "HER2", snap.HER2)

	writeDistribution(&b, "AJCC Stage 분포", snap.StageDistribution)
	writeDistribution(&b, "Nuclear Grade (NG) 분포", snap.NGDistribution)
	writeDistribution(&b, "Histologic Grade (HG) 분포", snap.HGDistribution)

	if snap.Ki67.Count > 0 {
		b.WriteString("\n\nKi-67 증식 지표:")
		fmt.Fprintf(&b, "\n  - 평균: %v%%", snap.Ki67.Mean)
		fmt.Fprintf(&b, "\n  - 범위: %v%% ~ %v%%", snap.Ki67.Min, snap.Ki67.Max)
		fmt.Fprintf(&b, "\n  - 데이터 수: %d명", snap.Ki67.Count)
	}
	if len(snap.Ki67Thresholds) > 0 {
		b.WriteString("\n\nKi-67 임계값별 통계:")
		for _, th := range snap.Ki67Thresholds {
			fmt.Fprintf(&b, "\n  - %d%% 이상: %d명 (%v%%)", th.Threshold, th.Count, th.Percentage)
		}
	}

	if snap.LymphNode.Total > 0 {
		ln := snap.LymphNode
		b.WriteString("\n\n림프절 전이:")
		fmt.Fprintf(&b, "\n  - 전이 있음: %d명 (%v%%)", ln.Positive, ln.Percentage)
		fmt.Fprintf(&b, "\n  - 전이 없음: %d명", ln.Negative())
		fmt.Fprintf(&b, "\n  - 총 데이터: %d명", ln.Total)
		if ln.HasCounts {
			fmt.Fprintf(&b, "\n  - 평균 전이 개수: %v개 (최대: %d개)", ln.MeanCount, ln.MaxCount)
		}
	}

	if snap.TNM != nil {
		writeDistribution(&b, "T category (종양 크기)", snap.TNM["T"])
		writeDistribution(&b, "N category (림프절)", snap.TNM["N"])
		writeDistribution(&b, "M category (원격 전이)", snap.TNM["M"])
	}

	writeDistribution(&b, "조직학적 타입", snap.HistologicTypes)
	writeDistribution(&b, "수술 방법", snap.SurgeryTypes)

	if len(snap.BiomarkerCombos) > 0 {
		b.WriteString("\n\n바이오마커 조합 통계:")
		for _, label := range sortedKeys(comboCounts(snap.BiomarkerCombos)) {
			combo := snap.BiomarkerCombos[label]
			fmt.Fprintf(&b, "\n  - %s: %d명 (%v%%)", label, combo.Count, combo.Percentage)
		}
	}

	if len(snap.HospitalCounts) > 0 {
		b.WriteString("\n\n병원별 건수:")
		for _, code := range sortedKeys(snap.HospitalCounts) {
			fmt.Fprintf(&b, "\n  - 병원 %s: %d명", code, snap.HospitalCounts[code])
		}
	}

	if len(snap.SurgeryYears) > 0 {
		b.WriteString("\n\n수술 연도 분포:")
		years := make([]int, 0, len(snap.SurgeryYears))
		for year := range snap.SurgeryYears {
			years = append(years, year)
		}
		sort.Ints(years)
		for _, year := range years {
			fmt.Fprintf(&b, "\n  - %d: %d명", year, snap.SurgeryYears[year])
		}
	}

	writeDistribution(&b, "Stage x NG 분포", snap.StageNG)
	writeDistribution(&b, "Stage x HG 분포", snap.StageHG)

	if snap.Recurrence.TotalPatients > 0 {
		rec := snap.Recurrence
		b.WriteString("\n\n재발 현황:")
		fmt.Fprintf(&b, "\n  - Axillary LN 재발: %d명", rec.AxillaryLN)
		fmt.Fprintf(&b, "\n  - 수술 부위 재발: %d명", rec.SurgerySite)
		fmt.Fprintf(&b, "\n  - 원격 전이: %d명", rec.DistantMetastasis)
		fmt.Fprintf(&b, "\n  - 총 재발 환자: %d명 (%v%%)", rec.TotalWithRecurrence, rec.RecurrenceRate)
	}

	if snap.Survival.Total > 0 {
		surv := snap.Survival
		b.WriteString("\n\n생존 현황:")
		fmt.Fprintf(&b, "\n  - 생존: %d명 (%v%%)", surv.Alive, surv.SurvivalRate)
		fmt.Fprintf(&b, "\n  - 질병으로 사망: %d명", surv.DeadFromDisease)
		fmt.Fprintf(&b, "\n  - 기타 사망: %d명", surv.DeadFromOther)
		fmt.Fprintf(&b, "\n  - 총 데이터: %d명", surv.Total)
	}

	writeDistribution(&b, "암의 위치", snap.TumorLocations)
	writeDistribution(&b, "암의 개수", snap.TumorNumbers)
	writeDistribution(&b, "HER2 IHC 등급", snap.HER2IHC)
	writeDistribution(&b, "DCIS/LCIS 여부", snap.DCISLCIS)
	writeDistribution(&b, "Mitotic Rate (HG score 3)", snap.MitoticRates)

	writeScore(&b, "ER Allred Score", snap.ERAllred)
	writeScore(&b, "PR Allred Score", snap.PRAllred)

	writeTreatment(&b, "보조 호르몬 치료", snap.AdjuvantEndocrine)
	writeTreatment(&b, "보조 방사선 치료", snap.AdjuvantRTx)
	writeDistribution(&b, "수술 전 항암 치료", snap.NeoadjuvantCTx)
	writeDistribution(&b, "수술 전 항암 치료 반응", snap.NeoadjuvantResponse)

	if snap.Followup.Count > 0 {
		fu := snap.Followup
		b.WriteString("\n\n추적 관찰 기간:")
		fmt.Fprintf(&b, "\n  - 평균: %v년 (%v개월)", fu.MeanYears, fu.MeanMonths)
		fmt.Fprintf(&b, "\n  - 범위: %v년 ~ %v년", round1(float64(fu.MinDays)/365.25), round1(float64(fu.MaxDays)/365.25))
		fmt.Fprintf(&b, "\n  - 데이터 수: %d명", fu.Count)
	}

	return b.String()
}

func writeRatio(b *strings.Builder, title string, r RatioStat) {
	if r.Total == 0 {
		return
	}
	fmt.Fprintf(b, "\n\n%s:", title)
	fmt.Fprintf(b, "\n  - Positive: %d명 (%v%%)", r.Positive, r.Percentage)
	fmt.Fprintf(b, "\n  - Negative: %d명", r.Negative())
	fmt.Fprintf(b, "\n  - 총 데이터: %d명", r.Total)
}

func writeDistribution(b *strings.Builder, title string, dist map[string]int) {
	if len(dist) == 0 {
		return
	}
	fmt.Fprintf(b, "\n\n%s:", title)
	for _, key := range sortedKeys(dist) {
		fmt.Fprintf(b, "\n  - %s: %d명", key, dist[key])
	}
}

func writeScore(b *strings.Builder, title string, s RangeStat) {
	if s.Count == 0 {
		return
	}
	fmt.Fprintf(b, "\n\n%s:", title)
	fmt.Fprintf(b, "\n  - 평균: %v", s.Mean)
	fmt.Fprintf(b, "\n  - 범위: %v ~ %v", s.Min, s.Max)
	fmt.Fprintf(b, "\n  - 데이터 수: %d명", s.Count)
}

func writeTreatment(b *strings.Builder, title string, t TreatmentStat) {
	if t.Total == 0 {
		return
	}
	fmt.Fprintf(b, "\n\n%s:", title)
	fmt.Fprintf(b, "\n  - 치료 받음: %d명", t.TreatmentYes)
	fmt.Fprintf(b, "\n  - 치료 안 받음: %d명", t.NoTreatment)
	fmt.Fprintf(b, "\n  - 총 데이터: %d명", t.Total)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func comboCounts(combos map[string]ComboStat) map[string]int {
	out := make(map[string]int, len(combos))
	for k, v := range combos {
		out[k] = v.Count
	}
	return out
}

// HospitalCount describes one hospital's presence in the corpus.
type HospitalCount struct {
	Code  string
	Count int
}

// CollectionPeriod bounds the surgery dates found in the corpus.
type CollectionPeriod struct {
	Earliest  time.Time
	Latest    time.Time
	TotalDays int
}

// RecordIDRange bounds the record identifiers found in the corpus.
type RecordIDRange struct {
	First string
	Last  string
	Total int
}

// DatasetMeta is the corpus-level summary used to answer metadata
// questions without retrieval.
type DatasetMeta struct {
	TotalRecords    int
	Hospitals       map[string]HospitalCount // display name keyed
	Period          *CollectionPeriod
	RecordIDs       *RecordIDRange
	AvailableFields []string
}

// BuildDatasetMeta summarizes the whole corpus: hospital tallies, surgery
// date span, record-ID range, and the field labels present in the text.
func BuildDatasetMeta(documents []string, metadatas []domain.Metadata) DatasetMeta {
	meta := DatasetMeta{TotalRecords: len(documents)}
	if len(documents) == 0 {
		return meta
	}

	hospitalCounts := map[string]int{}
	fieldSet := map[string]bool{}
	var recordIDs []string
	var earliest, latest time.Time

	for i, doc := range documents {
		var dm domain.Metadata
		if i < len(metadatas) {
			dm = metadatas[i]
		}

		code := dm.Get("hospital")
		if code == "" {
			code = "Unknown"
		}
		hospitalCounts[code]++

		if id := dm.Get("record_id"); id != "" {
			recordIDs = append(recordIDs, id)
		}

		for _, key := range metaSurgeryDateKeys {
			raw := dm.Get(key)
			if raw == "" {
				continue
			}
			if len(raw) > 10 {
				raw = raw[:10]
			}
			if t, err := time.Parse("2006-01-02", raw); err == nil {
				if earliest.IsZero() || t.Before(earliest) {
					earliest = t
				}
				if latest.IsZero() || t.After(latest) {
					latest = t
				}
			}
			break
		}

		for _, m := range labelLinePattern.FindAllStringSubmatch(doc, -1) {
			label := strings.TrimSpace(m[1])
			if label != "" {
				fieldSet[label] = true
			}
		}
	}

	meta.Hospitals = make(map[string]HospitalCount, len(hospitalCounts))
	for code, count := range hospitalCounts {
		meta.Hospitals[HospitalName(code)] = HospitalCount{Code: code, Count: count}
	}

	if !earliest.IsZero() {
		meta.Period = &CollectionPeriod{
			Earliest:  earliest,
			Latest:    latest,
			TotalDays: int(latest.Sub(earliest).Hours() / 24),
		}
	}

	if len(recordIDs) > 0 {
		sorted := append([]string(nil), recordIDs...)
		sort.Strings(sorted)
		unique := map[string]bool{}
		for _, id := range recordIDs {
			unique[id] = true
		}
		meta.RecordIDs = &RecordIDRange{First: sorted[0], Last: sorted[len(sorted)-1], Total: len(unique)}
	}

	meta.AvailableFields = make([]string, 0, len(fieldSet))
	for f := range fieldSet {
		meta.AvailableFields = append(meta.AvailableFields, f)
	}
	sort.Strings(meta.AvailableFields)

	return meta
}

// maxFieldsShown caps the field listing in the metadata report.
const maxFieldsShown = 30

// FormatDatasetMeta renders the metadata summary for the language model.
func FormatDatasetMeta(meta DatasetMeta) string {
	var b strings.Builder
	b.WriteString("=== CRF Breast 데이터셋 메타 정보 ===\n")
	fmt.Fprintf(&b, "\n총 레코드 수: %d개", meta.TotalRecords)

	if len(meta.Hospitals) > 0 {
		fmt.Fprintf(&b, "\n\n수집 병원 목록 (%d개):", len(meta.Hospitals))
		names := make([]string, 0, len(meta.Hospitals))
		for name := range meta.Hospitals {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			info := meta.Hospitals[name]
			fmt.Fprintf(&b, "\n  - %s (코드: %s): %d개 레코드", name, info.Code, info.Count)
		}
	}

	if meta.Period != nil {
		b.WriteString("\n\n데이터 수집 기간:")
		fmt.Fprintf(&b, "\n  - 가장 오래된 수술일: %s", meta.Period.Earliest.Format("2006-01-02"))
		fmt.Fprintf(&b, "\n  - 가장 최신 수술일: %s", meta.Period.Latest.Format("2006-01-02"))
		fmt.Fprintf(&b, "\n  - 총 수집 기간: 약 %d일", meta.Period.TotalDays)
	}

	if meta.RecordIDs != nil {
		b.WriteString("\n\nRecord ID 범위:")
		fmt.Fprintf(&b, "\n  - 첫 번째: %s", meta.RecordIDs.First)
		fmt.Fprintf(&b, "\n  - 마지막: %s", meta.RecordIDs.Last)
		fmt.Fprintf(&b, "\n  - 고유 환자 수: %d명", meta.RecordIDs.Total)
	}

	if len(meta.AvailableFields) > 0 {
		fmt.Fprintf(&b, "\n\n사용 가능한 데이터 필드 (%d개):", len(meta.AvailableFields))
		shown := meta.AvailableFields
		if len(shown) > maxFieldsShown {
			shown = shown[:maxFieldsShown]
		}
		for _, f := range shown {
			fmt.Fprintf(&b, "\n  - %s", f)
		}
		if len(meta.AvailableFields) > maxFieldsShown {
			fmt.Fprintf(&b, "\n  ...총 %d개 필드 중 %d개만 표시", len(meta.AvailableFields), maxFieldsShown)
		}
	}

	return b.String()
}

// validateSampleSize bounds how many documents ValidateCorpus inspects.
const validateSampleSize = 20

// ValidateCorpus spot-checks that documents still carry the labels the
// field table expects, catching encoding drift after a re-ingestion. It
// returns an input error when fewer than half of the sampled documents
// match any known field.
func ValidateCorpus(documents []string) error {
	const op = "crf.ValidateCorpus"
	if len(documents) == 0 {
		return nil
	}

	sample := documents
	if len(sample) > validateSampleSize {
		step := len(documents) / validateSampleSize
		sample = make([]string, 0, validateSampleSize)
		for i := 0; i < len(documents) && len(sample) < validateSampleSize; i += step {
			sample = append(sample, documents[i])
		}
	}

	matched := 0
	for _, doc := range sample {
		for _, f := range fieldTable {
			if f.pattern.MatchString(doc) {
				matched++
				break
			}
		}
	}

	if matched*2 < len(sample) {
		return domain.WrapError(domain.ErrInvalidInput, op,
			fmt.Errorf("only %d of %d sampled documents carry known field labels", matched, len(sample)))
	}
	return nil
}
