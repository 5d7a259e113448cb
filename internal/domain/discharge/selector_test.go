package discharge

import "testing"

func TestPickTopOrdering(t *testing.T) {
	candidates := []Candidate{
		{DateISO: "2025-01-11", ScoreTotal: 50, OffsetFromEst: -1},
		{DateISO: "2025-01-12", ScoreTotal: 80, OffsetFromEst: 0},
		{DateISO: "2025-01-13", ScoreTotal: 80, OffsetFromEst: 1},
		{DateISO: "2025-01-14", ScoreTotal: 95, OffsetFromEst: 2, HardNGReason: HardNGWeekday},
		{DateISO: "2025-01-15", ScoreTotal: 60, OffsetFromEst: 3},
	}

	top := PickTop(candidates, 3)
	if len(top) != 3 {
		t.Fatalf("top length = %d, want 3", len(top))
	}
	// the hard-NG 95 must not appear even though it scores highest
	for _, c := range top {
		if c.HardNGReason != "" {
			t.Errorf("hard-NG candidate %s in top", c.DateISO)
		}
	}
	// ties keep original offset order (stable sort)
	if top[0].DateISO != "2025-01-12" || top[1].DateISO != "2025-01-13" {
		t.Errorf("tie order broken: %s, %s", top[0].DateISO, top[1].DateISO)
	}
	for i := 1; i < len(top); i++ {
		if top[i].ScoreTotal > top[i-1].ScoreTotal {
			t.Errorf("scores not non-increasing at %d", i)
		}
	}
}

func TestPickTopClamp(t *testing.T) {
	candidates := []Candidate{
		{ScoreTotal: 10},
		{ScoreTotal: 20, HardNGReason: HardNGWeekday},
	}
	if got := PickTop(candidates, 5); len(got) != 1 {
		t.Errorf("top length = %d, want min(topN, viable) = 1", len(got))
	}
}

func TestPickTopEmptyOutcomes(t *testing.T) {
	if got := PickTop(nil, 3); len(got) != 0 {
		t.Errorf("nil input: got %d candidates", len(got))
	}
	allBlocked := []Candidate{
		{ScoreTotal: 10, HardNGReason: HardNGWeekday},
		{ScoreTotal: 20, HardNGReason: HardNGWeekday},
	}
	if got := PickTop(allBlocked, 3); len(got) != 0 {
		t.Errorf("all hard-NG: got %d candidates, want none", len(got))
	}
}

func TestPickTopDefaultN(t *testing.T) {
	candidates := make([]Candidate, 6)
	for i := range candidates {
		candidates[i] = Candidate{ScoreTotal: float64(i)}
	}
	if got := PickTop(candidates, 0); len(got) != DefaultTopN {
		t.Errorf("default topN: got %d, want %d", len(got), DefaultTopN)
	}
}

func TestBuildRationale(t *testing.T) {
	p := Patient{Key: "P-001"}

	r := BuildRationale(p, []Candidate{{FDpc: 100, FCap: 80, PHard: 0}})
	if r.DPC != "期間I/II内" || r.Cap != "逼迫緩和効果高" || r.Weekday != "平日" || r.Note != "" {
		t.Errorf("unexpected rationale: %+v", r)
	}

	r = BuildRationale(p, []Candidate{{FDpc: 30, FCap: 20, PHard: 6}})
	if r.DPC != "期間超過" || r.Cap != "逼迫緩和効果中" || r.Weekday != "週末" {
		t.Errorf("unexpected rationale: %+v", r)
	}

	p.DischargeReadyFlag = FlagInAdjustment
	r = BuildRationale(p, []Candidate{{FDpc: 100, FCap: 80}})
	if r.Note != "退院調整中のため要確認" {
		t.Errorf("expected adjustment note, got %q", r.Note)
	}

	if r := BuildRationale(p, nil); r != (Rationale{}) {
		t.Errorf("expected empty rationale with no top candidate, got %+v", r)
	}
}
