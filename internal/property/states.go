package property

import "strings"

var stateCodes = map[string]string{
	"alabama": "al", "alaska": "ak", "arizona": "az", "arkansas": "ar",
	"california": "ca", "colorado": "co", "connecticut": "ct", "delaware": "de",
	"district of columbia": "dc", "florida": "fl", "georgia": "ga", "hawaii": "hi",
	"idaho": "id", "illinois": "il", "indiana": "in", "iowa": "ia",
	"kansas": "ks", "kentucky": "ky", "louisiana": "la", "maine": "me",
	"maryland": "md", "massachusetts": "ma", "michigan": "mi", "minnesota": "mn",
	"mississippi": "ms", "missouri": "mo", "montana": "mt", "nebraska": "ne",
	"nevada": "nv", "new hampshire": "nh", "new jersey": "nj", "new mexico": "nm",
	"new york": "ny", "north carolina": "nc", "north dakota": "nd", "ohio": "oh",
	"oklahoma": "ok", "oregon": "or", "pennsylvania": "pa", "puerto rico": "pr",
	"rhode island": "ri", "south carolina": "sc", "south dakota": "sd", "tennessee": "tn",
	"texas": "tx", "utah": "ut", "vermont": "vt", "virgin islands": "vi",
	"virginia": "va", "washington": "wa", "west virginia": "wv", "wisconsin": "wi",
	"wyoming": "wy", "guam": "gu",
}

var stateNames = func() map[string]string {
	m := make(map[string]string, len(stateCodes))
	for name, code := range stateCodes {
		m[code] = name
	}
	return m
}()

// StateVariants returns the lower-cased spellings a state may be stored
// under: the full name and the two-letter code.
func StateVariants(s string) []string {
	key := strings.ToLower(strings.TrimSpace(s))
	if code, ok := stateCodes[key]; ok {
		return []string{key, code}
	}
	if name, ok := stateNames[key]; ok {
		return []string{name, key}
	}
	return []string{key}
}
