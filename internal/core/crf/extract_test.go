package crf

import (
	"reflect"
	"strings"
	"testing"

	"github.com/jks-lab/ragchat/internal/core/domain"
)

const sampleDoc = `record_id: BC_02_0001
병원명: 계명대
나이 (진단시): 63
수술연월일: 2015-10-23 00:00:00
암의 위치 (Rt./Lt./Both): 2
암의 개수 (single/multiple): 1
암 size (mm)_장경: 19
진단명 (histologic type: ductal/ lobular/ mucinous/ other): : 1
수술명 (partial/total): 2
AJCC stage (8판): 1
T category: 1
N category: 0
M category (수술당시 원격전이여부_0: pM0, 1: pM1): 0
NG (1/2/3): 2
HG (1/2/3/4): 1
HG_score 3 (Mitotic Rate) (1/2/3/4): 4
DCIS or LCIS 여부 (0: no DCIS/LCIS, 1: DCIS/LCIS present, EIC(-), 2: DCIS/LCIS present, EIC(+)), : 2
림프절 전이여부_수술당시 (0: No, 1: Yes_SN, 2: Yes_nonSN, 3: Yes_SN+nonSN): 0
전이 림프절 개수_수술당시: 0
ER (-/+): 1
스코어 계산 필요: 7
PR (-/+): 0
스코어 계산 필요: 5
KI-67 LI (%): 12
HER2 (-/+): 0
HER2_IHC (0/+1/ +2/ +3): 1
neoadjuvantCTx (0:무, 1:유): 0
adjuvant Endocrine/Hormonal Tx: 2
adjuvant RTx : 0
Axillary LN 재발 여부 (0/1): 0
수술부위 재발여부 (0/1): 0
다른 장기로 전이 여부 (0/1): 0
이 질병으로 사망여부 (0:생존/ 1:사망/ 2:다른이유로사망): 0
Last F/U 날짜 (연-월-일): 2020-09-25 00:00:00`

func sampleMeta() domain.Metadata {
	return domain.Metadata{
		"record_id": "BC_02_0001",
		"hospital":  "02",
		"수술연월일":     "2015-10-23",
	}
}

func TestCalculateSingleDocument(t *testing.T) {
	snap := Calculate([]string{sampleDoc}, []domain.Metadata{sampleMeta()}, "02")

	if snap.HospitalName != "계명대" {
		t.Errorf("HospitalName = %q, want 계명대", snap.HospitalName)
	}
	if snap.TotalPatients != 1 || snap.TotalDocuments != 1 {
		t.Errorf("totals = %d patients / %d documents, want 1/1", snap.TotalPatients, snap.TotalDocuments)
	}

	if snap.Age != (RangeStat{Mean: 63, Min: 63, Max: 63, Count: 1}) {
		t.Errorf("Age = %+v", snap.Age)
	}
	if snap.TumorSize.Mean != 19 {
		t.Errorf("TumorSize.Mean = %v, want 19", snap.TumorSize.Mean)
	}

	if snap.ER != (RatioStat{Positive: 1, Total: 1, Percentage: 100}) {
		t.Errorf("ER = %+v", snap.ER)
	}
	if snap.PR != (RatioStat{Positive: 0, Total: 1, Percentage: 0}) {
		t.Errorf("PR = %+v", snap.PR)
	}
	if snap.HER2.Positive != 0 || snap.HER2.Total != 1 {
		t.Errorf("HER2 = %+v", snap.HER2)
	}

	wantCombos := map[string]int{
		"er_positive":               1,
		"pr_positive":               0,
		"her2_positive":             0,
		"er_pr_positive":            0,
		"hr_positive_her2_negative": 1,
		"triple_negative":           0,
	}
	for key, want := range wantCombos {
		if got := snap.BiomarkerCombos[key].Count; got != want {
			t.Errorf("combo %s = %d, want %d", key, got, want)
		}
	}

	if snap.StageDistribution["Stage I"] != 1 {
		t.Errorf("StageDistribution = %v", snap.StageDistribution)
	}
	if snap.StageNG["Stage I | Grade 2"] != 1 {
		t.Errorf("StageNG = %v", snap.StageNG)
	}
	if snap.StageHG["Stage I | Grade 1"] != 1 {
		t.Errorf("StageHG = %v", snap.StageHG)
	}

	if snap.Ki67.Mean != 12 {
		t.Errorf("Ki67.Mean = %v, want 12", snap.Ki67.Mean)
	}
	// 12 clears the 10% cutoff only.
	wantThresholds := []ThresholdStat{
		{Threshold: 10, Count: 1, Percentage: 100},
		{Threshold: 20, Count: 0, Percentage: 0},
		{Threshold: 30, Count: 0, Percentage: 0},
	}
	if !reflect.DeepEqual(snap.Ki67Thresholds, wantThresholds) {
		t.Errorf("Ki67Thresholds = %+v", snap.Ki67Thresholds)
	}

	if snap.LymphNode.Total != 1 || snap.LymphNode.Positive != 0 || snap.LymphNode.HasCounts {
		t.Errorf("LymphNode = %+v", snap.LymphNode)
	}

	if snap.TNM["T"]["T1"] != 1 || snap.TNM["N"]["N0"] != 1 || snap.TNM["M"]["M0"] != 1 {
		t.Errorf("TNM = %v", snap.TNM)
	}

	if snap.HistologicTypes["Ductal"] != 1 {
		t.Errorf("HistologicTypes = %v", snap.HistologicTypes)
	}
	if snap.SurgeryTypes["Total mastectomy"] != 1 {
		t.Errorf("SurgeryTypes = %v", snap.SurgeryTypes)
	}

	if snap.Survival != (SurvivalStat{Alive: 1, Total: 1, SurvivalRate: 100}) {
		t.Errorf("Survival = %+v", snap.Survival)
	}
	if snap.Recurrence.TotalPatients != 1 || snap.Recurrence.TotalWithRecurrence != 0 {
		t.Errorf("Recurrence = %+v", snap.Recurrence)
	}

	if snap.HospitalCounts["02"] != 1 {
		t.Errorf("HospitalCounts = %v", snap.HospitalCounts)
	}
	if snap.SurgeryYears[2015] != 1 {
		t.Errorf("SurgeryYears = %v", snap.SurgeryYears)
	}

	if snap.TumorLocations["Left"] != 1 || snap.TumorNumbers["Single"] != 1 {
		t.Errorf("tumor location/number = %v / %v", snap.TumorLocations, snap.TumorNumbers)
	}
	if snap.HER2IHC["IHC 1+"] != 1 {
		t.Errorf("HER2IHC = %v", snap.HER2IHC)
	}
	if snap.DCISLCIS["DCIS/LCIS present, EIC(+)"] != 1 {
		t.Errorf("DCISLCIS = %v", snap.DCISLCIS)
	}
	if snap.MitoticRates["Score 4"] != 1 {
		t.Errorf("MitoticRates = %v", snap.MitoticRates)
	}

	// The ER section score ends at the PR label; the PR score ends at KI-67.
	if snap.ERAllred.Mean != 7 || snap.ERAllred.Count != 1 {
		t.Errorf("ERAllred = %+v", snap.ERAllred)
	}
	if snap.PRAllred.Mean != 5 || snap.PRAllred.Count != 1 {
		t.Errorf("PRAllred = %+v", snap.PRAllred)
	}

	if snap.AdjuvantEndocrine != (TreatmentStat{NoTreatment: 0, TreatmentYes: 1, Total: 1}) {
		t.Errorf("AdjuvantEndocrine = %+v", snap.AdjuvantEndocrine)
	}
	if snap.AdjuvantRTx != (TreatmentStat{NoTreatment: 1, TreatmentYes: 0, Total: 1}) {
		t.Errorf("AdjuvantRTx = %+v", snap.AdjuvantRTx)
	}
	if snap.NeoadjuvantCTx["무"] != 1 {
		t.Errorf("NeoadjuvantCTx = %v", snap.NeoadjuvantCTx)
	}
	if len(snap.NeoadjuvantResponse) != 0 {
		t.Errorf("NeoadjuvantResponse = %v, want empty for response 0", snap.NeoadjuvantResponse)
	}

	if snap.Followup.Count != 1 || snap.Followup.MinDays != snap.Followup.MaxDays {
		t.Errorf("Followup = %+v", snap.Followup)
	}
	if snap.Followup.MinDays < 1700 || snap.Followup.MinDays > 1900 {
		t.Errorf("Followup.MinDays = %d, want roughly five years", snap.Followup.MinDays)
	}
}

func TestCalculateIsDeterministic(t *testing.T) {
	docs := []string{sampleDoc, sampleDoc}
	metas := []domain.Metadata{sampleMeta(), sampleMeta()}

	first := Calculate(docs, metas, "")
	second := Calculate(docs, metas, "")
	if !reflect.DeepEqual(first, second) {
		t.Error("repeated Calculate over the same input diverged")
	}
}

func TestCalculateUniquePatientsBoundedByDocuments(t *testing.T) {
	// Two chunks of the same record count as one patient.
	docs := []string{sampleDoc, sampleDoc}
	metas := []domain.Metadata{sampleMeta(), sampleMeta()}

	snap := Calculate(docs, metas, "")
	if snap.TotalPatients != 1 {
		t.Errorf("TotalPatients = %d, want 1 for duplicated record_id", snap.TotalPatients)
	}
	if snap.TotalDocuments != 2 {
		t.Errorf("TotalDocuments = %d, want 2", snap.TotalDocuments)
	}
	if snap.TotalPatients > snap.TotalDocuments {
		t.Error("unique patients exceed document count")
	}
}

func TestCalculateEmptyCorpus(t *testing.T) {
	snap := Calculate(nil, nil, "")
	if snap.TotalPatients != 0 || snap.TotalDocuments != 0 {
		t.Errorf("empty corpus produced %+v", snap)
	}
	if snap.HospitalName != "전체 병원" {
		t.Errorf("HospitalName = %q", snap.HospitalName)
	}
	// Formatting over the zero snapshot must not panic.
	if out := FormatSnapshot(snap); !strings.Contains(out, "총 환자 수: 0명") {
		t.Errorf("FormatSnapshot(zero) = %q", out)
	}
}

func TestCalculateSkipsMalformedValues(t *testing.T) {
	doc := "나이 (진단시): abc\nER (-/+): 9\n암 size (mm)_장경: "
	snap := Calculate([]string{doc}, []domain.Metadata{{}}, "")
	if snap.Age.Count != 0 {
		t.Errorf("Age.Count = %d, want 0", snap.Age.Count)
	}
	if snap.ER.Total != 0 {
		t.Errorf("ER.Total = %d, want 0", snap.ER.Total)
	}
}

func TestFormatSnapshotSections(t *testing.T) {
	snap := Calculate([]string{sampleDoc}, []domain.Metadata{sampleMeta()}, "02")
	out := FormatSnapshot(snap)

	for _, want := range []string{
		"=== 계명대 CRF 데이터 통계 ===",
		"총 환자 수: 1명",
		"진단 시 나이:",
		"ER (Estrogen Receptor):",
		"바이오마커 조합 통계:",
		"Ki-67 임계값별 통계:",
		"수술 연도 분포:",
		"추적 관찰 기간:",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("FormatSnapshot missing %q", want)
		}
	}
}

func TestBuildDatasetMeta(t *testing.T) {
	docs := []string{sampleDoc, sampleDoc}
	metas := []domain.Metadata{
		{"record_id": "BC_02_0001", "hospital": "02", "수술연월일": "2015-10-23"},
		{"record_id": "BC_01_0002", "hospital": "01", "수술연월일": "2018-01-05"},
	}

	meta := BuildDatasetMeta(docs, metas)
	if meta.TotalRecords != 2 {
		t.Errorf("TotalRecords = %d, want 2", meta.TotalRecords)
	}
	if got := meta.Hospitals["계명대"]; got.Code != "02" || got.Count != 1 {
		t.Errorf("Hospitals[계명대] = %+v", got)
	}
	if meta.Period == nil || meta.Period.Earliest.Year() != 2015 || meta.Period.Latest.Year() != 2018 {
		t.Errorf("Period = %+v", meta.Period)
	}
	if meta.RecordIDs == nil || meta.RecordIDs.First != "BC_01_0002" || meta.RecordIDs.Total != 2 {
		t.Errorf("RecordIDs = %+v", meta.RecordIDs)
	}
	if len(meta.AvailableFields) == 0 {
		t.Error("AvailableFields is empty")
	}

	out := FormatDatasetMeta(meta)
	if !strings.Contains(out, "총 레코드 수: 2개") || !strings.Contains(out, "수집 병원 목록") {
		t.Errorf("FormatDatasetMeta = %q", out)
	}
}

func TestValidateCorpus(t *testing.T) {
	if err := ValidateCorpus(nil); err != nil {
		t.Errorf("empty corpus: %v", err)
	}
	if err := ValidateCorpus([]string{sampleDoc}); err != nil {
		t.Errorf("well-formed corpus: %v", err)
	}

	garbage := []string{"lorem ipsum", "no labels here", "still nothing"}
	err := ValidateCorpus(garbage)
	if err == nil {
		t.Fatal("expected validation error for label-free corpus")
	}
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Errorf("error kind = %v, want ErrInvalidInput", err)
	}
}
