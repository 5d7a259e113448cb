package discharge

import "time"

// OccupancyProvider maps a calendar date to a projected bed-occupancy
// ratio in [0,1]. The engine performs no forecasting itself; providers are
// injected by the caller and expected to be pure and non-blocking. Remote
// lookups belong behind a service-side client that resolves failures before
// the engine ever sees them.
type OccupancyProvider func(date time.Time) float64

// DefaultOccupancyFallback is the ratio assumed when no forecast is
// available for a date.
const DefaultOccupancyFallback = 0.85

// ForecastProvider builds a provider from a forecast map keyed by ISO date
// ("YYYY-MM-DD"), falling back to the given constant for absent dates.
func ForecastProvider(forecast map[string]float64, fallback float64) OccupancyProvider {
	return func(date time.Time) float64 {
		if v, ok := forecast[FormatISODate(date)]; ok {
			return v
		}
		return fallback
	}
}

// ConstantProvider always returns the same ratio. Used as the default when
// the caller injects nothing.
func ConstantProvider(rate float64) OccupancyProvider {
	return func(time.Time) float64 { return rate }
}
