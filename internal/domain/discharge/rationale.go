package discharge

// BuildRationale derives the short explanation for a patient's best
// candidate. With no top candidate it returns an all-empty rationale.
func BuildRationale(p Patient, top []Candidate) Rationale {
	if len(top) == 0 {
		return Rationale{}
	}
	best := top[0]

	r := Rationale{}
	if best.FDpc >= 70 {
		r.DPC = "期間I/II内"
	} else {
		r.DPC = "期間超過"
	}
	if best.FCap >= 70 {
		r.Cap = "逼迫緩和効果高"
	} else {
		r.Cap = "逼迫緩和効果中"
	}
	if best.PHard == 0 {
		r.Weekday = "平日"
	} else {
		r.Weekday = "週末"
	}
	if p.DischargeReadyFlag == FlagInAdjustment {
		r.Note = "退院調整中のため要確認"
	}
	return r
}
