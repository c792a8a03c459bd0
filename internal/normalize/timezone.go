package normalize

import (
	"strings"
	"time"
	_ "time/tzdata" // embedded zoneinfo so minimal hosts still resolve venue zones
)

// Windows zone names show up in calendars exported from Outlook/Exchange.
var windowsToIANA = map[string]string{
	"Pacific Standard Time":        "America/Los_Angeles",
	"Mountain Standard Time":       "America/Denver",
	"US Mountain Standard Time":    "America/Phoenix",
	"Central Standard Time":        "America/Chicago",
	"Eastern Standard Time":        "America/New_York",
	"Atlantic Standard Time":       "America/Halifax",
	"Alaskan Standard Time":        "America/Anchorage",
	"Hawaiian Standard Time":       "Pacific/Honolulu",
	"GMT Standard Time":            "Europe/London",
	"W. Europe Standard Time":      "Europe/Berlin",
	"Central Europe Standard Time": "Europe/Budapest",
	"Romance Standard Time":        "Europe/Paris",
	"China Standard Time":          "Asia/Shanghai",
	"Tokyo Standard Time":          "Asia/Tokyo",
	"India Standard Time":          "Asia/Kolkata",
	"AUS Eastern Standard Time":    "Australia/Sydney",
}

// ResolveZone maps a zone name onto a location. Windows names are tried
// after IANA names. When neither resolves, fallback is returned together
// with ok=false so callers can report the degraded result.
func ResolveZone(name string, fallback *time.Location) (loc *time.Location, ok bool) {
	name = strings.TrimSpace(name)
	if name != "" {
		if l, err := time.LoadLocation(name); err == nil {
			return l, true
		}
		if iana, found := windowsToIANA[name]; found {
			if l, err := time.LoadLocation(iana); err == nil {
				return l, true
			}
		}
	}
	if fallback == nil {
		fallback = time.UTC
	}
	return fallback, false
}
