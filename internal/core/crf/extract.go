package crf

import (
	"math"
	"strconv"
	"time"

	"github.com/jks-lab/ragchat/internal/core/domain"
)

// RangeStat summarizes a numeric field.
type RangeStat struct {
	Mean  float64
	Min   float64
	Max   float64
	Count int
}

// RatioStat summarizes a positive/negative marker.
type RatioStat struct {
	Positive   int
	Total      int
	Percentage float64
}

func (r RatioStat) Negative() int { return r.Total - r.Positive }

// ThresholdStat counts values at or above a Ki-67 cutoff.
type ThresholdStat struct {
	Threshold  int
	Count      int
	Percentage float64
}

// ComboStat is one biomarker combination tally.
type ComboStat struct {
	Count      int
	Percentage float64
}

// LymphNodeStat extends the involvement ratio with metastatic node counts.
type LymphNodeStat struct {
	RatioStat
	MeanCount float64
	MaxCount  int
	HasCounts bool
}

// RecurrenceStat tallies the three recurrence fields.
type RecurrenceStat struct {
	AxillaryLN          int
	SurgerySite         int
	DistantMetastasis   int
	TotalWithRecurrence int
	TotalPatients       int
	RecurrenceRate      float64
}

// SurvivalStat tallies the disease-death field.
type SurvivalStat struct {
	Alive           int
	DeadFromDisease int
	DeadFromOther   int
	Total           int
	SurvivalRate    float64
}

// TreatmentStat tallies a 0/1/2-coded treatment field, where both nonzero
// codes mean the treatment was given.
type TreatmentStat struct {
	NoTreatment  int
	TreatmentYes int
	Total        int
}

// FollowupStat summarizes surgery-to-last-follow-up periods.
type FollowupStat struct {
	MeanDays   float64
	MeanMonths float64
	MeanYears  float64
	MinDays    int
	MaxDays    int
	Count      int
}

// Snapshot is the full derived statistics for one slice of the CRF corpus.
// Zero-valued sections mean the underlying field never appeared.
type Snapshot struct {
	TotalPatients  int
	TotalDocuments int
	HospitalCode   string
	HospitalName   string

	Age       RangeStat
	TumorSize RangeStat

	ER              RatioStat
	PR              RatioStat
	HER2            RatioStat
	BiomarkerCombos map[string]ComboStat

	StageDistribution map[string]int
	NGDistribution    map[string]int
	HGDistribution    map[string]int
	StageNG           map[string]int
	StageHG           map[string]int

	Ki67           RangeStat
	Ki67Thresholds []ThresholdStat

	LymphNode LymphNodeStat
	TNM       map[string]map[string]int

	HistologicTypes map[string]int
	SurgeryTypes    map[string]int

	Recurrence RecurrenceStat
	Survival   SurvivalStat

	HospitalCounts map[string]int
	SurgeryYears   map[int]int

	TumorLocations      map[string]int
	TumorNumbers        map[string]int
	HER2IHC             map[string]int
	DCISLCIS            map[string]int
	MitoticRates        map[string]int
	ERAllred            RangeStat
	PRAllred            RangeStat
	AdjuvantEndocrine   TreatmentStat
	AdjuvantRTx         TreatmentStat
	NeoadjuvantCTx      map[string]int
	NeoadjuvantResponse map[string]int
	Followup            FollowupStat
}

// ki67Cutoffs are the clinically interesting proliferation thresholds.
var ki67Cutoffs = []int{10, 20, 30}

// Calculate extracts every known field from the documents in a single pass
// and aggregates the result. Missing or malformed fields are skipped, never
// errors: the corpus mixes hand-entered workbook rows of varying quality.
func Calculate(documents []string, metadatas []domain.Metadata, hospitalCode string) Snapshot {
	snap := Snapshot{
		TotalDocuments: len(documents),
		HospitalCode:   hospitalCode,
		HospitalName:   "전체 병원",
	}
	if hospitalCode != "" {
		snap.HospitalName = HospitalName(hospitalCode)
	}

	var acc accumulator
	acc.init()

	for i, doc := range documents {
		var meta domain.Metadata
		if i < len(metadatas) {
			meta = metadatas[i]
		}
		acc.consume(doc, meta)
	}

	acc.fill(&snap)
	return snap
}

type accumulator struct {
	records map[string]bool

	ages       []float64
	tumorSizes []float64
	ki67Values []float64

	erPositive, erTotal     int
	prPositive, prTotal     int
	her2Positive, her2Total int
	combos                  map[string]int

	stages, ngGrades, hgGrades counter
	stageNG, stageHG           counter

	lymphPositive, lymphTotal int
	lymphCounts               []int

	tCats, nCats, mCats counter

	histologicTypes, surgeryTypes counter

	axillaryRecurrence, surgerySiteRecurrence, distantMetastasis, recurrenceTotal int

	alive, deadFromDisease, deadFromOther, survivalTotal int

	hospitalCounts counter
	surgeryYears   map[int]int

	tumorLocations, tumorNumbers, her2IHC, dcisLCIS, mitoticRates counter
	erAllred, prAllred                                            []float64

	adjEndocrine, adjRTx counter
	neoCTx, neoResponse  counter

	followupDays []int
}

type counter map[string]int

func (c counter) add(key string) { c[key]++ }

func (a *accumulator) init() {
	a.records = make(map[string]bool)
	a.combos = make(map[string]int)
	a.stages = counter{}
	a.ngGrades = counter{}
	a.hgGrades = counter{}
	a.stageNG = counter{}
	a.stageHG = counter{}
	a.tCats = counter{}
	a.nCats = counter{}
	a.mCats = counter{}
	a.histologicTypes = counter{}
	a.surgeryTypes = counter{}
	a.hospitalCounts = counter{}
	a.surgeryYears = make(map[int]int)
	a.tumorLocations = counter{}
	a.tumorNumbers = counter{}
	a.her2IHC = counter{}
	a.dcisLCIS = counter{}
	a.mitoticRates = counter{}
	a.adjEndocrine = counter{}
	a.adjRTx = counter{}
	a.neoCTx = counter{}
	a.neoResponse = counter{}
}

// consume extracts all fields from one document.
func (a *accumulator) consume(doc string, meta domain.Metadata) {
	if id := meta.Get("record_id"); id != "" {
		a.records[id] = true
	}
	if hosp := meta.Get("hospital"); hosp != "" {
		a.hospitalCounts.add(hosp)
	}
	for _, key := range metaSurgeryDateKeys {
		if date := meta.Get(key); len(date) >= 4 {
			if year, err := strconv.Atoi(date[:4]); err == nil {
				a.surgeryYears[year]++
			}
			break
		}
	}

	var erVal, prVal, her2Val string
	var stageVal, ngVal, hgVal string
	var surgeryDate, followupDate time.Time

	for _, f := range fieldTable {
		m := f.pattern.FindStringSubmatch(doc)
		if m == nil {
			continue
		}
		raw := m[1]
		display := raw
		if f.values != nil {
			if mapped, ok := f.values[raw]; ok {
				display = mapped
			}
		}

		switch f.name {
		case fieldAge:
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				a.ages = append(a.ages, v)
			}
		case fieldTumorSize:
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				a.tumorSizes = append(a.tumorSizes, v)
			}
		case fieldER:
			a.erTotal++
			erVal = raw
			if raw == "1" {
				a.erPositive++
			}
		case fieldPR:
			a.prTotal++
			prVal = raw
			if raw == "1" {
				a.prPositive++
			}
		case fieldHER2:
			a.her2Total++
			her2Val = raw
			if raw == "1" {
				a.her2Positive++
			}
		case fieldAJCCStage:
			if f.values[raw] == "" {
				display = "Stage " + raw
			}
			a.stages.add(display)
			stageVal = display
		case fieldNG:
			a.ngGrades.add(display)
			ngVal = display
		case fieldHG:
			a.hgGrades.add(display)
			hgVal = display
		case fieldKi67:
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				a.ki67Values = append(a.ki67Values, v)
			}
		case fieldLymphNode:
			a.lymphTotal++
			if raw != "0" {
				a.lymphPositive++
			}
		case fieldLymphNodeCount:
			if v, err := strconv.Atoi(raw); err == nil && v > 0 {
				a.lymphCounts = append(a.lymphCounts, v)
			}
		case fieldTCategory:
			a.tCats.add("T" + raw)
		case fieldNCategory:
			a.nCats.add("N" + raw)
		case fieldMCategory:
			a.mCats.add(display)
		case fieldHistologicType:
			a.histologicTypes.add(display)
		case fieldSurgeryType:
			a.surgeryTypes.add(display)
		case fieldAxillaryRecurrence:
			a.recurrenceTotal++
			if raw == "1" {
				a.axillaryRecurrence++
			}
		case fieldSurgerySiteRecur:
			if raw == "1" {
				a.surgerySiteRecurrence++
			}
		case fieldDistantMetastasis:
			if raw == "1" {
				a.distantMetastasis++
			}
		case fieldSurvival:
			a.survivalTotal++
			switch raw {
			case "0":
				a.alive++
			case "1":
				a.deadFromDisease++
			case "2":
				a.deadFromOther++
			}
		case fieldTumorLocation:
			a.tumorLocations.add(display)
		case fieldTumorNumber:
			a.tumorNumbers.add(display)
		case fieldHER2IHC:
			a.her2IHC.add(display)
		case fieldDCISLCIS:
			a.dcisLCIS.add(display)
		case fieldMitoticRate:
			a.mitoticRates.add(display)
		case fieldAdjuvantEndocrine:
			a.adjEndocrine.add(raw)
		case fieldAdjuvantRTx:
			a.adjRTx.add(raw)
		case fieldNeoadjuvantCTx:
			a.neoCTx.add(display)
		case fieldNeoadjuvantResponse:
			if raw != "0" {
				a.neoResponse.add("Response " + raw)
			}
		case fieldSurgeryDate:
			if t, err := time.Parse("2006-01-02", raw); err == nil {
				surgeryDate = t
			}
		case fieldFollowupDate:
			if t, err := time.Parse("2006-01-02", raw); err == nil {
				followupDate = t
			}
		}
	}

	// Biomarker combinations require all three markers on the same record.
	if erVal != "" && prVal != "" && her2Val != "" {
		erPos := erVal == "1"
		prPos := prVal == "1"
		her2Pos := her2Val == "1"
		a.comboAdd("er_positive", erPos)
		a.comboAdd("pr_positive", prPos)
		a.comboAdd("her2_positive", her2Pos)
		a.comboAdd("er_pr_positive", erPos && prPos)
		a.comboAdd("hr_positive_her2_negative", (erPos || prPos) && !her2Pos)
		a.comboAdd("triple_negative", !erPos && !prPos && !her2Pos)
	}

	if stageVal != "" && ngVal != "" {
		a.stageNG.add(stageVal + " | " + ngVal)
	}
	if stageVal != "" && hgVal != "" {
		a.stageHG.add(stageVal + " | " + hgVal)
	}

	a.consumeAllred(doc)

	if !surgeryDate.IsZero() && followupDate.After(surgeryDate) {
		a.followupDays = append(a.followupDays, int(followupDate.Sub(surgeryDate).Hours()/24))
	}
}

func (a *accumulator) comboAdd(key string, hit bool) {
	if hit {
		a.combos[key]++
	} else if _, ok := a.combos[key]; !ok {
		a.combos[key] = 0
	}
}

// consumeAllred pulls the ER and PR Allred scores. Both share the literal
// label "스코어 계산 필요", so the document is sliced at the ER/PR status
// labels and each slice searched independently.
func (a *accumulator) consumeAllred(doc string) {
	erLoc := erSectionPattern.FindStringIndex(doc)
	prLoc := prSectionPattern.FindStringIndex(doc)

	if erLoc != nil {
		end := len(doc)
		if prLoc != nil && prLoc[0] > erLoc[0] {
			end = prLoc[0]
		}
		if m := allredScorePattern.FindStringSubmatch(doc[erLoc[0]:end]); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				a.erAllred = append(a.erAllred, v)
			}
		}
	}

	if prLoc != nil {
		rest := doc[prLoc[0]:]
		end := len(rest)
		if loc := ki67SectionPattern.FindStringIndex(rest); loc != nil && loc[0] < end {
			end = loc[0]
		}
		if loc := her2SectionPattern.FindStringIndex(rest); loc != nil && loc[0] > 0 && loc[0] < end {
			end = loc[0]
		}
		if m := allredScorePattern.FindStringSubmatch(rest[:end]); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				a.prAllred = append(a.prAllred, v)
			}
		}
	}
}

// fill folds the accumulated values into the snapshot.
func (a *accumulator) fill(snap *Snapshot) {
	snap.TotalPatients = len(a.records)

	snap.Age = rangeStat(a.ages)
	snap.TumorSize = rangeStat(a.tumorSizes)
	snap.Ki67 = rangeStat(a.ki67Values)

	snap.ER = ratioStat(a.erPositive, a.erTotal)
	snap.PR = ratioStat(a.prPositive, a.prTotal)
	snap.HER2 = ratioStat(a.her2Positive, a.her2Total)

	if len(a.combos) > 0 {
		base := snap.TotalPatients
		if base == 0 {
			base = snap.TotalDocuments
		}
		snap.BiomarkerCombos = make(map[string]ComboStat, len(a.combos))
		for key, count := range a.combos {
			combo := ComboStat{Count: count}
			if base > 0 {
				combo.Percentage = round1(float64(count) / float64(base) * 100)
			}
			snap.BiomarkerCombos[key] = combo
		}
	}

	snap.StageDistribution = mapOrNil(a.stages)
	snap.NGDistribution = mapOrNil(a.ngGrades)
	snap.HGDistribution = mapOrNil(a.hgGrades)
	snap.StageNG = mapOrNil(a.stageNG)
	snap.StageHG = mapOrNil(a.stageHG)

	if len(a.ki67Values) > 0 {
		for _, cutoff := range ki67Cutoffs {
			above := 0
			for _, v := range a.ki67Values {
				if v >= float64(cutoff) {
					above++
				}
			}
			snap.Ki67Thresholds = append(snap.Ki67Thresholds, ThresholdStat{
				Threshold:  cutoff,
				Count:      above,
				Percentage: round1(float64(above) / float64(len(a.ki67Values)) * 100),
			})
		}
	}

	if a.lymphTotal > 0 {
		snap.LymphNode.RatioStat = ratioStat(a.lymphPositive, a.lymphTotal)
		if len(a.lymphCounts) > 0 {
			sum, maxCount := 0, 0
			for _, c := range a.lymphCounts {
				sum += c
				if c > maxCount {
					maxCount = c
				}
			}
			snap.LymphNode.HasCounts = true
			snap.LymphNode.MeanCount = round1(float64(sum) / float64(len(a.lymphCounts)))
			snap.LymphNode.MaxCount = maxCount
		}
	}

	if len(a.tCats)+len(a.nCats)+len(a.mCats) > 0 {
		snap.TNM = make(map[string]map[string]int, 3)
		if len(a.tCats) > 0 {
			snap.TNM["T"] = a.tCats
		}
		if len(a.nCats) > 0 {
			snap.TNM["N"] = a.nCats
		}
		if len(a.mCats) > 0 {
			snap.TNM["M"] = a.mCats
		}
	}

	snap.HistologicTypes = mapOrNil(a.histologicTypes)
	snap.SurgeryTypes = mapOrNil(a.surgeryTypes)

	if a.recurrenceTotal > 0 {
		total := a.axillaryRecurrence + a.surgerySiteRecurrence + a.distantMetastasis
		snap.Recurrence = RecurrenceStat{
			AxillaryLN:          a.axillaryRecurrence,
			SurgerySite:         a.surgerySiteRecurrence,
			DistantMetastasis:   a.distantMetastasis,
			TotalWithRecurrence: total,
			TotalPatients:       a.recurrenceTotal,
		}
		if total > 0 {
			snap.Recurrence.RecurrenceRate = round1(float64(total) / float64(a.recurrenceTotal) * 100)
		}
	}

	if a.survivalTotal > 0 {
		snap.Survival = SurvivalStat{
			Alive:           a.alive,
			DeadFromDisease: a.deadFromDisease,
			DeadFromOther:   a.deadFromOther,
			Total:           a.survivalTotal,
			SurvivalRate:    round1(float64(a.alive) / float64(a.survivalTotal) * 100),
		}
	}

	snap.HospitalCounts = mapOrNil(a.hospitalCounts)
	if len(a.surgeryYears) > 0 {
		snap.SurgeryYears = a.surgeryYears
	}

	snap.TumorLocations = mapOrNil(a.tumorLocations)
	snap.TumorNumbers = mapOrNil(a.tumorNumbers)
	snap.HER2IHC = mapOrNil(a.her2IHC)
	snap.DCISLCIS = mapOrNil(a.dcisLCIS)
	snap.MitoticRates = mapOrNil(a.mitoticRates)
	snap.ERAllred = rangeStat(a.erAllred)
	snap.PRAllred = rangeStat(a.prAllred)

	snap.AdjuvantEndocrine = treatmentStat(a.adjEndocrine)
	snap.AdjuvantRTx = treatmentStat(a.adjRTx)
	snap.NeoadjuvantCTx = mapOrNil(a.neoCTx)
	snap.NeoadjuvantResponse = mapOrNil(a.neoResponse)

	if len(a.followupDays) > 0 {
		sum, minDays, maxDays := 0, a.followupDays[0], a.followupDays[0]
		for _, d := range a.followupDays {
			sum += d
			if d < minDays {
				minDays = d
			}
			if d > maxDays {
				maxDays = d
			}
		}
		mean := float64(sum) / float64(len(a.followupDays))
		snap.Followup = FollowupStat{
			MeanDays:   round1(mean),
			MeanMonths: round1(mean / 30.44),
			MeanYears:  round1(mean / 365.25),
			MinDays:    minDays,
			MaxDays:    maxDays,
			Count:      len(a.followupDays),
		}
	}
}

func rangeStat(values []float64) RangeStat {
	if len(values) == 0 {
		return RangeStat{}
	}
	sum, minV, maxV := 0.0, values[0], values[0]
	for _, v := range values {
		sum += v
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	return RangeStat{
		Mean:  round1(sum / float64(len(values))),
		Min:   minV,
		Max:   maxV,
		Count: len(values),
	}
}

func ratioStat(positive, total int) RatioStat {
	if total == 0 {
		return RatioStat{}
	}
	return RatioStat{
		Positive:   positive,
		Total:      total,
		Percentage: round1(float64(positive) / float64(total) * 100),
	}
}

func treatmentStat(c counter) TreatmentStat {
	total := 0
	for _, v := range c {
		total += v
	}
	if total == 0 {
		return TreatmentStat{}
	}
	return TreatmentStat{
		NoTreatment:  c["0"],
		TreatmentYes: c["1"] + c["2"],
		Total:        total,
	}
}

func mapOrNil(c counter) map[string]int {
	if len(c) == 0 {
		return nil
	}
	return c
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
