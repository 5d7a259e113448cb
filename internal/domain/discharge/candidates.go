package discharge

import (
	"math"
	"time"
)

// DefaultWindowDays is the half-width of the candidate search window around
// the estimated discharge date (15 candidate days total).
const DefaultWindowDays = 7

// ScoreOptions carries the reference data and tuning for scoring one
// patient. Zero values select the built-in defaults.
type ScoreOptions struct {
	DPCMaster   map[string]DPCEntry
	Constraints map[string]WardConstraints
	Settings    Settings
	AsOf        time.Time
	Occupancy   OccupancyProvider
	WindowDays  int
}

// ResolveConstraints resolves a ward to its constraint set, falling back to
// the WardAll entry. The second return is false when neither entry exists
// in a non-nil constraints table; scoring for such a patient is undefined
// and the orchestrator reports it. A nil table degrades to the built-in
// defaults instead.
func ResolveConstraints(constraints map[string]WardConstraints, ward string) (WardConstraints, bool) {
	if ward == "" {
		ward = WardAll
	}
	if constraints == nil {
		return DefaultWardConstraints(), true
	}
	if c, ok := constraints[ward]; ok {
		return c, true
	}
	if c, ok := constraints[WardAll]; ok {
		return c, true
	}
	return WardConstraints{}, false
}

// GenerateCandidates enumerates the closed offset window
// [-WindowDays, +WindowDays] around the patient's estimated discharge date
// and scores each day. Candidates on or before the as-of date are skipped
// outright. An unparseable est_discharge_date or adm_date yields an empty
// list, which callers treat as a reportable outcome rather than an error.
func GenerateCandidates(p Patient, opts ScoreOptions) []Candidate {
	est, okEst := ParseFlexibleDate(p.EstDischargeDate)
	adm, okAdm := ParseFlexibleDate(p.AdmDate)
	if !okEst || !okAdm {
		return nil
	}

	constraints, ok := ResolveConstraints(opts.Constraints, p.Ward)
	if !ok {
		return nil
	}

	window := opts.WindowDays
	if window <= 0 {
		window = DefaultWindowDays
	}
	occupancy := opts.Occupancy
	if occupancy == nil {
		occupancy = ConstantProvider(DefaultOccupancyFallback)
	}

	dpc := DefaultDPCEntry()
	if e, ok := opts.DPCMaster[p.DPCCode]; ok {
		dpc = e
	}

	weights := resolveWeights(constraints, opts.Settings)
	risk := resolveRisk(constraints, opts.Settings)
	fluctLimit := int(settingOr(opts.Settings, "fluctuation_limit", DefaultFluctuationLimit))
	if constraints.FluctuationLimit != nil {
		fluctLimit = *constraints.FluctuationLimit
	}

	candidates := make([]Candidate, 0, 2*window+1)
	for offset := -window; offset <= window; offset++ {
		date := midnight(est.AddDate(0, 0, offset))

		// No past or same-day discharge is ever offered.
		if !date.After(opts.AsOf) {
			continue
		}

		los := ceilDays(adm, date)

		var fDpc float64
		switch {
		case los <= dpc.StdLOS:
			fDpc = 100
		case los <= dpc.MaxLOS:
			fDpc = 70
		default:
			fDpc = 30
		}

		occupancyRate := occupancy(date)
		var fCap float64
		switch {
		case occupancyRate >= risk.CapTh2:
			fCap = 100
		case occupancyRate >= risk.CapTh1:
			fCap = 70
		default:
			fCap = math.Round((1 - occupancyRate) * 100)
		}

		weekday := WeekdayName(date)
		pHard := weekdayPenalty(date.Weekday(), constraints.WeekdayWeights)

		var pRisk float64
		if p.DischargeReadyFlag == FlagInAdjustment {
			pRisk = 100
		}

		deviation := offset
		if deviation < 0 {
			deviation = -deviation
		}
		fOps := float64(deviation * 2)

		var pFluct float64
		if deviation > fluctLimit {
			pFluct = float64((deviation - fluctLimit) * 5)
		}

		// Informational only; deliberately absent from the total.
		fEr := math.Round((1 - occupancyRate) * constraints.ERAvg * 20)

		total := weights.DPC*(fDpc/100)*40 +
			weights.Cap*(fCap/100)*35 -
			weights.Adj*(pRisk/100)*10 -
			weights.Weekday*pHard -
			weights.Dev*(fOps/100)*5 -
			pFluct

		var hardNG string
		if containsWeekday(constraints.HardNoDischargeWeekdays, weekday) {
			hardNG = HardNGWeekday
		}

		candidates = append(candidates, Candidate{
			Date:          date,
			DateISO:       FormatISODate(date),
			FDpc:          fDpc,
			FCap:          fCap,
			FOps:          fOps,
			FEr:           fEr,
			PRisk:         pRisk,
			PHard:         pHard,
			PFluctuation:  pFluct,
			OccupancyRate: occupancyRate,
			LOS:           los,
			ScoreTotal:    math.Round(total*10) / 10,
			HardNGReason:  hardNG,
			OffsetFromEst: offset,
			Weekday:       weekday,
		})
	}

	return candidates
}

// weekdayPenalty returns the hard weekday penalty: the configured weight
// for Sunday/Saturday, defaulting to 10 and 6, and 0 for all other days.
func weekdayPenalty(day time.Weekday, weights map[string]float64) float64 {
	switch day {
	case time.Sunday:
		if v, ok := weights[WeekdayNames[0]]; ok {
			return v
		}
		return 10
	case time.Saturday:
		if v, ok := weights[WeekdayNames[6]]; ok {
			return v
		}
		return 6
	default:
		return 0
	}
}

func containsWeekday(list []string, name string) bool {
	for _, v := range list {
		if v == name {
			return true
		}
	}
	return false
}

// resolveWeights prefers the ward's scoring weights, then the flat settings
// fallback, then the built-in defaults, per field.
func resolveWeights(c WardConstraints, s Settings) ScoringWeights {
	if c.ScoringWeights != nil {
		return *c.ScoringWeights
	}
	return ScoringWeights{
		DPC:     settingOr(s, "w_dpc", 40),
		Cap:     settingOr(s, "w_cap", 35),
		Adj:     settingOr(s, "w_adj", 10),
		Weekday: settingOr(s, "w_wk", 10),
		Dev:     settingOr(s, "w_dev", 5),
	}
}

func resolveRisk(c WardConstraints, s Settings) RiskParams {
	if c.RiskParams != nil {
		return *c.RiskParams
	}
	return RiskParams{
		CapTh1: settingOr(s, "cap_th1", 0.85),
		CapTh2: settingOr(s, "cap_th2", 0.95),
	}
}

func settingOr(s Settings, key string, def float64) float64 {
	if v, ok := s[key]; ok {
		return v
	}
	return def
}
