// Package tabular converts generic 2-D tables (settings, DPC master, ward
// constraints, patient rows) into the engine's typed records. Parsing is
// deliberately lenient: unknown or missing columns default instead of
// erroring, and malformed JSON sub-fields fall back to built-in defaults.
// This mirrors the spreadsheet-shaped inputs the surrounding application
// hands the engine.
package tabular

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/wardops/go-dde/internal/domain/discharge"
)

// Row is one ordered row of cell values as decoded from JSON or a sheet
// export; cells may be strings, numbers, nested objects or nil.
type Row = []any

// Table is an ordered sequence of rows, usually with a header row first.
type Table = []Row

// commentMarkers start rows that carry annotations rather than data.
var commentMarkers = []string{"【", "["}

var weekdaySepRe = regexp.MustCompile(`[,、\s]+`)

// ParseSettings converts a two-column key/value table into a flat settings
// map. Rows with an empty key or a comment marker are skipped.
func ParseSettings(rows Table) map[string]any {
	settings := make(map[string]any)
	for _, r := range rows {
		if len(r) == 0 {
			continue
		}
		key := strings.TrimSpace(CellString(r, 0))
		if key == "" || isCommentKey(key) {
			continue
		}
		var v any
		if len(r) > 1 {
			v = r[1]
		}
		settings[key] = v
	}
	return settings
}

// NumericSettings projects a settings map down to its numeric entries, the
// shape the engine consults as a per-field fallback.
func NumericSettings(settings map[string]any) discharge.Settings {
	out := make(discharge.Settings, len(settings))
	for k, v := range settings {
		if f, ok := cellFloat(v); ok {
			out[k] = f
		}
	}
	return out
}

// ParseDPCMaster converts a headered table into the DPC reference map.
// Rows without a dpc_code are dropped; absent bounds default to 14/30.
func ParseDPCMaster(rows Table, headerRow int) map[string]discharge.DPCEntry {
	header, body := splitHeader(rows, headerRow)
	cCode := columnIndex(header, "dpc_code")
	cName := columnIndex(header, "dpc_name")
	cStd := columnIndex(header, "L_std")
	cMax := columnIndex(header, "L_max")

	master := make(map[string]discharge.DPCEntry)
	for _, r := range body {
		code := strings.TrimSpace(CellString(r, cCode))
		if code == "" || isCommentKey(code) {
			continue
		}
		master[code] = discharge.DPCEntry{
			Name:   CellString(r, cName),
			StdLOS: int(cellFloatOr(r, cStd, 14)),
			MaxLOS: int(cellFloatOr(r, cMax, 30)),
		}
	}
	return master
}

// ParseConstraints converts a headered table into per-ward constraint
// records. The JSON-encoded sub-fields (weekday_weights, scoring_weights,
// risk_params) parse leniently; a malformed cell keeps the built-in default
// object rather than aborting the table.
func ParseConstraints(rows Table, headerRow int) map[string]discharge.WardConstraints {
	header, body := splitHeader(rows, headerRow)
	cWard := columnIndex(header, "ward")
	cBeds := columnIndex(header, "beds")
	cTarget := columnIndex(header, "target_occupancy")
	cHardNo := columnIndex(header, "hard_no_discharge_weekdays")
	cWkWeights := columnIndex(header, "weekday_weights")
	cERAvg := columnIndex(header, "ER_avg")
	cScoreW := columnIndex(header, "scoring_weights")
	cRisk := columnIndex(header, "risk_params")
	cFluct := columnIndex(header, "fluctuation_limit")

	constraints := make(map[string]discharge.WardConstraints)
	for _, r := range body {
		ward := strings.TrimSpace(CellString(r, cWard))
		if ward == "" || isCommentKey(ward) {
			continue
		}

		wkWeights := map[string]float64{}
		decodeJSONCell(cell(r, cWkWeights), &wkWeights)

		c := discharge.WardConstraints{
			Beds:                    int(cellFloatOr(r, cBeds, 0)),
			TargetOccupancy:         cellFloatOr(r, cTarget, 0.85),
			HardNoDischargeWeekdays: SplitWeekdayList(cell(r, cHardNo)),
			WeekdayWeights:          wkWeights,
			ERAvg:                   cellFloatOr(r, cERAvg, 0),
		}

		// An absent or broken cell leaves the pointer nil so scoring
		// falls through to the flat settings, then built-in defaults.
		weights := discharge.DefaultScoringWeights()
		if decodeJSONCell(cell(r, cScoreW), &weights) {
			c.ScoringWeights = &weights
		}
		risk := discharge.DefaultRiskParams()
		if decodeJSONCell(cell(r, cRisk), &risk) {
			c.RiskParams = &risk
		}
		if f, ok := cellFloat(cell(r, cFluct)); ok {
			limit := int(f)
			c.FluctuationLimit = &limit
		}
		constraints[ward] = c
	}
	return constraints
}

// ParsePatients converts a headered table into patient records. Rows
// without a patient_key are dropped silently.
func ParsePatients(rows Table, headerRow int) []discharge.Patient {
	header, body := splitHeader(rows, headerRow)
	cKey := columnIndex(header, "patient_key")
	cWard := columnIndex(header, "ward")
	cDPC := columnIndex(header, "dpc_code")
	cAdm := columnIndex(header, "adm_date")
	cLOS := columnIndex(header, "los_today")
	cAcuity := columnIndex(header, "nursing_acuity")
	cEst := columnIndex(header, "est_discharge_date")
	cReady := columnIndex(header, "discharge_ready_flag")
	cNotes := columnIndex(header, "notes_flag")

	var out []discharge.Patient
	for _, r := range body {
		key := strings.TrimSpace(CellString(r, cKey))
		if key == "" || isCommentKey(key) {
			continue
		}
		p := discharge.Patient{
			Key:                key,
			Ward:               strings.TrimSpace(CellString(r, cWard)),
			DPCCode:            strings.TrimSpace(CellString(r, cDPC)),
			AdmDate:            strings.TrimSpace(CellString(r, cAdm)),
			NursingAcuity:      strings.TrimSpace(CellString(r, cAcuity)),
			EstDischargeDate:   strings.TrimSpace(CellString(r, cEst)),
			DischargeReadyFlag: strings.TrimSpace(CellString(r, cReady)),
			NotesFlag:          strings.TrimSpace(CellString(r, cNotes)),
		}
		if f, ok := cellFloat(cell(r, cLOS)); ok {
			los := int(f)
			p.LOSToday = &los
		}
		out = append(out, p)
	}
	return out
}

// SplitWeekdayList normalizes the forbidden-weekday cell, which may be an
// explicit list or a string separated by commas, whitespace or Japanese
// commas.
func SplitWeekdayList(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case []any:
		var out []string
		for _, e := range val {
			if s := strings.TrimSpace(anyString(e)); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		var out []string
		for _, e := range val {
			if s := strings.TrimSpace(e); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		var out []string
		for _, s := range weekdaySepRe.Split(anyString(val), -1) {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
}

// CellString returns the cell at idx rendered as a string, or "" when the
// column is absent.
func CellString(r Row, idx int) string {
	return anyString(cell(r, idx))
}

func splitHeader(rows Table, headerRow int) (Row, Table) {
	if headerRow < 0 || headerRow >= len(rows) {
		return nil, nil
	}
	return rows[headerRow], rows[headerRow+1:]
}

func columnIndex(header Row, name string) int {
	for i, h := range header {
		if strings.TrimSpace(anyString(h)) == name {
			return i
		}
	}
	return -1
}

func isCommentKey(key string) bool {
	for _, m := range commentMarkers {
		if strings.HasPrefix(key, m) {
			return true
		}
	}
	return false
}

func cell(r Row, idx int) any {
	if idx < 0 || idx >= len(r) {
		return nil
	}
	return r[idx]
}

func anyString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func cellFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func cellFloatOr(r Row, idx int, def float64) float64 {
	if f, ok := cellFloat(cell(r, idx)); ok {
		return f
	}
	return def
}

// decodeJSONCell unmarshals a cell into target, which arrives pre-filled
// with defaults so absent keys keep them. The cell may be a JSON string or
// an already-decoded object. It reports whether the cell held usable JSON;
// a blank or malformed cell leaves target untouched so the caller's
// fallback chain stays engaged.
func decodeJSONCell(v any, target any) bool {
	var raw []byte
	switch val := v.(type) {
	case nil:
		return false
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return false
		}
		raw = []byte(s)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return false
		}
		raw = b
	}
	return json.Unmarshal(raw, target) == nil
}
