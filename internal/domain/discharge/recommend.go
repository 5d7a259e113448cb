package discharge

// Options tunes one recommendation run.
type Options struct {
	DPCMaster   map[string]DPCEntry
	Constraints map[string]WardConstraints
	Settings    Settings

	// AsOf is the reference "today" for the run, ISO or slash formatted.
	// Empty means the current local date. A non-empty value that fails to
	// parse aborts the whole batch with *ErrBadAsOfDate.
	AsOf string

	Occupancy  OccupancyProvider
	TopN       int
	WindowDays int
}

// Skip reasons reported on recommendations whose patient could not be
// scored. The batch always continues past them.
const (
	SkipUnparseableDates = "est_discharge_date or adm_date unparseable"
	SkipNoWardConstraint = "no constraints for ward and no ALL fallback"
)

// BuildRecommendations normalizes length-of-stay once for the batch, then
// scores, ranks and explains each patient independently. Output order
// matches input order and patients never interact; any per-patient anomaly
// degrades to an empty top list rather than failing the run.
func BuildRecommendations(patients []Patient, opts Options) ([]Recommendation, error) {
	asOf, err := ResolveAsOf(opts.AsOf)
	if err != nil {
		return nil, err
	}

	normalized := NormalizeLOS(patients, asOf)

	scoreOpts := ScoreOptions{
		DPCMaster:   opts.DPCMaster,
		Constraints: opts.Constraints,
		Settings:    opts.Settings,
		AsOf:        asOf,
		Occupancy:   opts.Occupancy,
		WindowDays:  opts.WindowDays,
	}

	recs := make([]Recommendation, len(normalized))
	for i, p := range normalized {
		recs[i] = Recommend(p, scoreOpts, opts.TopN)
	}
	return recs, nil
}

// Recommend scores a single already-normalized patient. It is the
// per-patient unit of work used by concurrent callers; invocations share no
// state.
func Recommend(p Patient, opts ScoreOptions, topN int) Recommendation {
	rec := Recommendation{
		PatientKey: p.Key,
		Ward:       p.Ward,
		DPCCode:    p.DPCCode,
	}

	if _, ok := ResolveConstraints(opts.Constraints, p.Ward); !ok {
		rec.SkipReason = SkipNoWardConstraint
		return rec
	}

	candidates := GenerateCandidates(p, opts)
	if candidates == nil {
		if _, ok := ParseFlexibleDate(p.EstDischargeDate); !ok {
			rec.SkipReason = SkipUnparseableDates
		} else if _, ok := ParseFlexibleDate(p.AdmDate); !ok {
			rec.SkipReason = SkipUnparseableDates
		}
	}

	rec.Candidates = candidates
	rec.Top = PickTop(candidates, topN)
	rec.Rationale = BuildRationale(p, rec.Top)
	return rec
}
