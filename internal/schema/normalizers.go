package schema

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Normalizer rewrites a raw cell before it is parsed.
type Normalizer func(string) string

var (
	normalizers   = make(map[string]Normalizer)
	normalizersMu sync.RWMutex
)

func init() {
	RegisterNormalizer("trim", strings.TrimSpace)
	RegisterNormalizer("upper", func(s string) string { return strings.ToUpper(strings.TrimSpace(s)) })
	RegisterNormalizer("lower", func(s string) string { return strings.ToLower(strings.TrimSpace(s)) })
	RegisterNormalizer("title", normalizeTitle)
	RegisterNormalizer("us_state", NormalizeUSState)
}

// RegisterNormalizer makes fn available to catalog files under name.
// Panics if name is already registered.
func RegisterNormalizer(name string, fn Normalizer) {
	normalizersMu.Lock()
	defer normalizersMu.Unlock()

	if _, exists := normalizers[name]; exists {
		panic(fmt.Sprintf("normalizer already registered: %s", name))
	}
	normalizers[name] = fn
}

// LookupNormalizer returns the normalizer registered under name.
func LookupNormalizer(name string) (Normalizer, bool) {
	normalizersMu.RLock()
	defer normalizersMu.RUnlock()

	fn, ok := normalizers[name]
	return fn, ok
}

// NormalizerNames returns registered names, sorted.
func NormalizerNames() []string {
	normalizersMu.RLock()
	defer normalizersMu.RUnlock()

	names := make([]string, 0, len(normalizers))
	for name := range normalizers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var titleCaser = cases.Title(language.English)

func normalizeTitle(s string) string {
	return titleCaser.String(strings.ToLower(strings.TrimSpace(s)))
}

// usStates maps US state names to their postal codes.
var usStates = map[string]string{
	"alabama":        "AL",
	"alaska":         "AK",
	"arizona":        "AZ",
	"arkansas":       "AR",
	"california":     "CA",
	"colorado":       "CO",
	"connecticut":    "CT",
	"delaware":       "DE",
	"florida":        "FL",
	"georgia":        "GA",
	"hawaii":         "HI",
	"idaho":          "ID",
	"illinois":       "IL",
	"indiana":        "IN",
	"iowa":           "IA",
	"kansas":         "KS",
	"kentucky":       "KY",
	"louisiana":      "LA",
	"maine":          "ME",
	"maryland":       "MD",
	"massachusetts":  "MA",
	"michigan":       "MI",
	"minnesota":      "MN",
	"mississippi":    "MS",
	"missouri":       "MO",
	"montana":        "MT",
	"nebraska":       "NE",
	"nevada":         "NV",
	"new hampshire":  "NH",
	"new jersey":     "NJ",
	"new mexico":     "NM",
	"new york":       "NY",
	"north carolina": "NC",
	"north dakota":   "ND",
	"ohio":           "OH",
	"oklahoma":       "OK",
	"oregon":         "OR",
	"pennsylvania":   "PA",
	"rhode island":   "RI",
	"south carolina": "SC",
	"south dakota":   "SD",
	"tennessee":      "TN",
	"texas":          "TX",
	"utah":           "UT",
	"vermont":        "VT",
	"virginia":       "VA",
	"washington":     "WA",
	"west virginia":  "WV",
	"wisconsin":      "WI",
	"wyoming":        "WY",
}

var usStateCodes = func() map[string]bool {
	codes := make(map[string]bool, len(usStates))
	for _, code := range usStates {
		codes[code] = true
	}
	return codes
}()

// NormalizeUSState converts state names to postal codes. Codes and
// unrecognized values come back trimmed, codes upper-cased.
func NormalizeUSState(s string) string {
	s = strings.TrimSpace(s)
	if code, ok := usStates[strings.ToLower(s)]; ok {
		return code
	}
	if upper := strings.ToUpper(s); usStateCodes[upper] {
		return upper
	}
	return s
}
