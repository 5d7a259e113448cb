// Package integration exercises the full pipeline from raw planning
// tables through parsing and scoring to the JSON payload the bed board
// receives.
package integration

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/wardops/go-dde/internal/domain/discharge"
	"github.com/wardops/go-dde/internal/tabular"
)

// wardTables builds the four sheets a planner exports for ward 3F:
// flat settings, the DPC reference, per-ward constraints with JSON
// sub-cells, and the patient list. The reference date 2025-01-10 is a
// Friday; 2025-01-12 is the Sunday inside the candidate window.
func wardTables() (settings, dpc, constraints, patients tabular.Table) {
	settings = tabular.Table{
		{"【スコアリング設定】", ""},
		{"w_dpc", 40},
		{"w_cap", 35},
		{"cap_th1", 0.85},
		{"cap_th2", 0.95},
	}
	dpc = tabular.Table{
		{"dpc_code", "dpc_name", "L_std", "L_max"},
		{"D001", "肺炎", 14, 30},
		{"D002", "大腿骨骨折", 21, 45},
	}
	constraints = tabular.Table{
		{"ward", "beds", "target_occupancy", "hard_no_discharge_weekdays", "weekday_weights", "ER_avg", "scoring_weights", "risk_params", "fluctuation_limit"},
		{"3F", 45, 0.90, "日", `{"日":10,"土":6}`, 1.5, "", "", ""},
	}
	patients = tabular.Table{
		{"patient_key", "ward", "dpc_code", "adm_date", "est_discharge_date", "discharge_ready_flag"},
		{"P-001", "3F", "D001", "2025-01-01", "2025-01-15", ""},
		{"P-002", "3F", "D001", "2025-01-01", "2025-01-15", "調整中"},
		{"P-003", "3F", "D001", "2025-01-01", "未定", ""},
		{"P-004", "9F", "D001", "2025-01-01", "2025-01-15", ""},
	}
	return
}

// runWard scores the ward with flat 80% occupancy except a congested
// 96% on 2025-01-16.
func runWard(t *testing.T) []discharge.Recommendation {
	t.Helper()

	settings, dpc, constraints, patients := wardTables()

	forecast := map[string]float64{}
	for day := 8; day <= 22; day++ {
		forecast[fmt.Sprintf("2025-01-%02d", day)] = 0.80
	}
	forecast["2025-01-16"] = 0.96

	recs, err := discharge.BuildRecommendations(
		tabular.ParsePatients(patients, 0),
		discharge.Options{
			DPCMaster:   tabular.ParseDPCMaster(dpc, 0),
			Constraints: tabular.ParseConstraints(constraints, 0),
			Settings:    tabular.NumericSettings(tabular.ParseSettings(settings)),
			AsOf:        "2025-01-10",
			Occupancy:   discharge.ForecastProvider(forecast, 0.85),
		},
	)
	if err != nil {
		t.Fatalf("BuildRecommendations: %v", err)
	}
	return recs
}

func candidateOn(rec discharge.Recommendation, iso string) *discharge.Candidate {
	for i := range rec.Candidates {
		if rec.Candidates[i].DateISO == iso {
			return &rec.Candidates[i]
		}
	}
	return nil
}

func TestWardRunPreservesPatientOrder(t *testing.T) {
	recs := runWard(t)

	if len(recs) != 4 {
		t.Fatalf("len(recs) = %d, want 4", len(recs))
	}
	for i, key := range []string{"P-001", "P-002", "P-003", "P-004"} {
		if recs[i].PatientKey != key {
			t.Fatalf("recs[%d] = %s, want %s", i, recs[i].PatientKey, key)
		}
	}
}

func TestWardRunScoresAndRanks(t *testing.T) {
	recs := runWard(t)
	p1 := recs[0]

	// Window is est±7 minus days on or before the as-of date.
	if len(p1.Candidates) != 12 {
		t.Fatalf("len(candidates) = %d, want 12", len(p1.Candidates))
	}
	for _, c := range p1.Candidates {
		if c.DateISO <= "2025-01-10" {
			t.Errorf("candidate %s is not after the as-of date", c.DateISO)
		}
	}

	// The congested day wins: full capacity relief beats the estimate.
	if len(p1.Top) != 3 {
		t.Fatalf("len(top) = %d, want 3", len(p1.Top))
	}
	if p1.Top[0].DateISO != "2025-01-16" {
		t.Errorf("top date = %s, want 2025-01-16", p1.Top[0].DateISO)
	}
	if p1.Top[0].ScoreTotal != 2344.5 {
		t.Errorf("top score = %v, want 2344.5", p1.Top[0].ScoreTotal)
	}
	if p1.Top[1].DateISO != "2025-01-15" || p1.Top[1].ScoreTotal != 1845.0 {
		t.Errorf("second = %s / %v, want 2025-01-15 / 1845.0", p1.Top[1].DateISO, p1.Top[1].ScoreTotal)
	}
	if p1.Top[2].DateISO != "2025-01-14" || p1.Top[2].ScoreTotal != 1844.5 {
		t.Errorf("third = %s / %v, want 2025-01-14 / 1844.5", p1.Top[2].DateISO, p1.Top[2].ScoreTotal)
	}

	est := candidateOn(p1, "2025-01-15")
	if est == nil {
		t.Fatal("estimate date missing from candidates")
	}
	if est.FDpc != 100 || est.FCap != 20 || est.LOS != 14 {
		t.Errorf("estimate scores = F_dpc %v, F_cap %v, los %d; want 100, 20, 14", est.FDpc, est.FCap, est.LOS)
	}
	if est.FEr != 6 {
		t.Errorf("F_er = %v, want 6", est.FEr)
	}
}

func TestWardRunEnforcesSundayBlock(t *testing.T) {
	recs := runWard(t)
	p1 := recs[0]

	sunday := candidateOn(p1, "2025-01-12")
	if sunday == nil {
		t.Fatal("Sunday missing from candidates")
	}
	if sunday.HardNGReason != "曜日制約違反" {
		t.Errorf("hard_ng_reason = %q, want 曜日制約違反", sunday.HardNGReason)
	}
	for _, c := range p1.Top {
		if c.DateISO == "2025-01-12" {
			t.Error("hard-blocked Sunday appeared in top candidates")
		}
	}

	// Saturday is penalized but not blocked.
	saturday := candidateOn(p1, "2025-01-11")
	if saturday == nil {
		t.Fatal("Saturday missing from candidates")
	}
	if saturday.HardNGReason != "" {
		t.Errorf("Saturday hard_ng_reason = %q, want empty", saturday.HardNGReason)
	}
	if saturday.PHard != 6 {
		t.Errorf("Saturday P_hard = %v, want 6", saturday.PHard)
	}
}

func TestWardRunFlagsAdjustmentPatients(t *testing.T) {
	recs := runWard(t)
	p1, p2 := recs[0], recs[1]

	// Identical dates, so the adjustment flag costs a flat 100 per day.
	c1 := candidateOn(p1, "2025-01-15")
	c2 := candidateOn(p2, "2025-01-15")
	if c1 == nil || c2 == nil {
		t.Fatal("estimate date missing from candidates")
	}
	if got := c1.ScoreTotal - c2.ScoreTotal; got != 100 {
		t.Errorf("adjustment penalty = %v, want 100", got)
	}
	if c2.PRisk != 100 {
		t.Errorf("P_risk = %v, want 100", c2.PRisk)
	}
	if p2.Rationale.Note != "退院調整中のため要確認" {
		t.Errorf("note = %q, want 退院調整中のため要確認", p2.Rationale.Note)
	}
	if p1.Rationale.Note != "" {
		t.Errorf("unexpected note on P-001: %q", p1.Rationale.Note)
	}
}

func TestWardRunRationale(t *testing.T) {
	recs := runWard(t)
	r := recs[0].Rationale

	if r.DPC != "期間I/II内" {
		t.Errorf("dpc rationale = %q, want 期間I/II内", r.DPC)
	}
	if r.Cap != "逼迫緩和効果高" {
		t.Errorf("cap rationale = %q, want 逼迫緩和効果高", r.Cap)
	}
	if r.Weekday != "平日" {
		t.Errorf("weekday rationale = %q, want 平日", r.Weekday)
	}
}

func TestWardRunReportsSkips(t *testing.T) {
	recs := runWard(t)

	p3 := recs[2]
	if p3.SkipReason != discharge.SkipUnparseableDates {
		t.Errorf("P-003 skip = %q, want %q", p3.SkipReason, discharge.SkipUnparseableDates)
	}
	if len(p3.Candidates) != 0 {
		t.Errorf("P-003 has %d candidates, want none", len(p3.Candidates))
	}

	// 9F has no constraint row and the table carries no ALL fallback.
	p4 := recs[3]
	if p4.SkipReason != discharge.SkipNoWardConstraint {
		t.Errorf("P-004 skip = %q, want %q", p4.SkipReason, discharge.SkipNoWardConstraint)
	}
}

func TestWardRunJSONPayload(t *testing.T) {
	recs := runWard(t)

	raw, err := json.Marshal(recs)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	payload := string(raw)

	for _, key := range []string{
		`"patient_key"`, `"score_total"`, `"hard_ng_reason"`,
		`"F_dpc"`, `"F_cap"`, `"P_hard"`, `"offset_from_est"`, `"rationale"`,
	} {
		if !strings.Contains(payload, key) {
			t.Errorf("payload missing %s", key)
		}
	}

	// Skip reason is omitted for scored patients.
	var decoded []map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := decoded[0]["skip_reason"]; ok {
		t.Error("scored patient carries skip_reason")
	}
	if decoded[2]["skip_reason"] != discharge.SkipUnparseableDates {
		t.Errorf("skip_reason = %v", decoded[2]["skip_reason"])
	}
}
