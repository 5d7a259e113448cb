package discharge

import (
	"fmt"
	"time"
)

// ErrBadAsOfDate reports an explicitly supplied as-of date that failed to
// parse. It is fatal to the whole batch call; the engine never silently
// substitutes "today" for a malformed value.
type ErrBadAsOfDate struct {
	Value string
}

func (e *ErrBadAsOfDate) Error() string {
	return fmt.Sprintf("as-of date must be yyyy-MM-dd or yyyy/MM/dd: %q", e.Value)
}

// ResolveAsOf resolves the reference "today" for a run. An empty value
// means the current local date at midnight; a non-empty value must parse.
func ResolveAsOf(asOf string) (time.Time, error) {
	if asOf == "" {
		return midnight(time.Now()), nil
	}
	d, ok := ParseFlexibleDate(asOf)
	if !ok {
		return time.Time{}, &ErrBadAsOfDate{Value: asOf}
	}
	return d, nil
}

// NormalizeLOS fills in each patient's current length-of-stay relative to
// the as-of date. A supplied los_today is used verbatim; otherwise it is
// max(0, asOf - adm_date) in whole days, and 0 when the admission date does
// not parse. The input slice is never mutated.
func NormalizeLOS(patients []Patient, asOf time.Time) []Patient {
	out := make([]Patient, len(patients))
	for i, p := range patients {
		if p.LOSToday != nil {
			v := *p.LOSToday
			p.LOSToday = &v
			out[i] = p
			continue
		}
		los := 0
		if adm, ok := ParseFlexibleDate(p.AdmDate); ok {
			if d := DaysBetween(adm, asOf); d > 0 {
				los = d
			}
		}
		p.LOSToday = &los
		out[i] = p
	}
	return out
}

// DefaultEstDischarge fills a blank est_discharge_date with the admission
// date, matching how ward staff enter fresh admissions before a target
// date exists. The input slice is never mutated.
func DefaultEstDischarge(patients []Patient) []Patient {
	out := make([]Patient, len(patients))
	for i, p := range patients {
		if p.EstDischargeDate == "" {
			p.EstDischargeDate = p.AdmDate
		}
		out[i] = p
	}
	return out
}
