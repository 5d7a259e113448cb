// Package discharge implements the discharge date recommendation engine.
// Given patients flagged as dischargeable it proposes, per patient, a ranked
// short-list of candidate discharge dates balancing DPC length-of-stay norms,
// bed-capacity pressure, weekday restrictions and schedule-fluctuation limits.
package discharge

import "time"

// Patient is one hospitalized patient as supplied by the caller for a single
// recommendation run. Date fields are raw strings and parsed leniently; a
// patient whose dates do not parse yields an empty candidate list, never an
// error.
type Patient struct {
	Key                string `json:"patient_key"`
	Ward               string `json:"ward"`
	DPCCode            string `json:"dpc_code"`
	AdmDate            string `json:"adm_date"`
	LOSToday           *int   `json:"los_today,omitempty"`
	NursingAcuity      string `json:"nursing_acuity,omitempty"`
	EstDischargeDate   string `json:"est_discharge_date"`
	DischargeReadyFlag string `json:"discharge_ready_flag"`
	NotesFlag          string `json:"notes_flag,omitempty"`
}

// FlagInAdjustment is the literal discharge_ready_flag value marking a
// patient whose discharge coordination is still in progress.
const FlagInAdjustment = "調整中"

// WardAll is the sentinel ward key used as a fallback constraints entry and
// as the ward for patients with no ward assigned.
const WardAll = "ALL"

// DPCEntry holds the expected length-of-stay bounds for one DPC case-type.
type DPCEntry struct {
	Name   string `json:"dpc_name"`
	StdLOS int    `json:"L_std"`
	MaxLOS int    `json:"L_max"`
}

// DefaultDPCEntry is used when a patient's dpc_code is not in the master.
func DefaultDPCEntry() DPCEntry {
	return DPCEntry{StdLOS: 14, MaxLOS: 30}
}

// ScoringWeights are the named multipliers of the total score.
type ScoringWeights struct {
	DPC     float64 `json:"w_dpc"`
	Cap     float64 `json:"w_cap"`
	Adj     float64 `json:"w_adj"`
	Weekday float64 `json:"w_wk"`
	Dev     float64 `json:"w_dev"`
}

// DefaultScoringWeights returns the weights used when a ward's constraint
// row carries none.
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{DPC: 40, Cap: 35, Adj: 10, Weekday: 10, Dev: 5}
}

// RiskParams holds the two occupancy thresholds of the capacity score.
type RiskParams struct {
	CapTh1 float64 `json:"cap_th1"`
	CapTh2 float64 `json:"cap_th2"`
}

// DefaultRiskParams returns the built-in occupancy thresholds.
func DefaultRiskParams() RiskParams {
	return RiskParams{CapTh1: 0.85, CapTh2: 0.95}
}

// WardConstraints describes one ward's discharge policy. Pointer sub-fields
// distinguish "absent, use fallback" from an explicit zero value.
type WardConstraints struct {
	Beds                    int                `json:"beds"`
	TargetOccupancy         float64            `json:"target_occupancy"`
	HardNoDischargeWeekdays []string           `json:"hard_no_discharge_weekdays"`
	WeekdayWeights          map[string]float64 `json:"weekday_weights"`
	ERAvg                   float64            `json:"ER_avg"`
	ScoringWeights          *ScoringWeights    `json:"scoring_weights"`
	RiskParams              *RiskParams        `json:"risk_params"`
	FluctuationLimit        *int               `json:"fluctuation_limit"`
}

// DefaultWardConstraints is the degrade-gracefully constraint set applied
// when the caller supplies no constraints table at all. The weight, risk
// and fluctuation fields stay nil so the flat settings fallback remains
// reachable during scoring.
func DefaultWardConstraints() WardConstraints {
	return WardConstraints{
		TargetOccupancy: 0.85,
	}
}

// DefaultFluctuationLimit is the tolerated offset, in days, from the
// estimated discharge date before the escalating penalty applies.
const DefaultFluctuationLimit = 3

// HardNGWeekday is the hard_ng_reason set on candidates whose weekday is in
// the ward's forbidden-discharge list.
const HardNGWeekday = "曜日制約違反"

// Settings is the flat key-value fallback consulted when a ward constraint
// row lacks scoring weights or risk thresholds.
type Settings map[string]float64

// Candidate is one scored candidate discharge date. Candidates are derived
// per invocation and never cached.
//
// The original system also referenced an acuity sub-score (F_acu) on the
// candidate record without ever computing it; it is omitted here pending
// product clarification and contributes nothing to ScoreTotal.
type Candidate struct {
	Date    time.Time `json:"-"`
	DateISO string    `json:"date_iso"`

	FDpc         float64 `json:"F_dpc"`
	FCap         float64 `json:"F_cap"`
	FOps         float64 `json:"F_ops"`
	FEr          float64 `json:"F_er"`
	PRisk        float64 `json:"P_risk"`
	PHard        float64 `json:"P_hard"`
	PFluctuation float64 `json:"P_fluctuation"`

	OccupancyRate float64 `json:"occupancy_rate"`
	LOS           int     `json:"los"`

	ScoreTotal    float64 `json:"score_total"`
	HardNGReason  string  `json:"hard_ng_reason"`
	OffsetFromEst int     `json:"offset_from_est"`
	Weekday       string  `json:"weekday"`
}

// Rationale is the short human-readable explanation derived from a
// patient's best candidate.
type Rationale struct {
	DPC     string `json:"dpc"`
	Cap     string `json:"cap"`
	Weekday string `json:"weekday"`
	Note    string `json:"note"`
}

// Recommendation is the per-patient output of one run.
type Recommendation struct {
	PatientKey string       `json:"patient_key"`
	Ward       string       `json:"ward"`
	DPCCode    string       `json:"dpc_code"`
	Candidates []Candidate  `json:"candidates"`
	Top        []Candidate  `json:"top"`
	Rationale  Rationale    `json:"rationale"`
	SkipReason string       `json:"skip_reason,omitempty"`
}
