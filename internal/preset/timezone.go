package preset

import (
	"os"
	"time"
)

// FallbackTimezone is used when nothing else resolves
const FallbackTimezone = "UTC"

// ValidTimezone reports whether name is a loadable IANA identifier
func ValidTimezone(name string) bool {
	if name == "" {
		return false
	}
	_, err := time.LoadLocation(name)
	return err == nil
}

// DetectTimezone returns the environment's timezone: TZ, then the process zone, then UTC
func DetectTimezone() string {
	if tz := os.Getenv("TZ"); ValidTimezone(tz) {
		return tz
	}
	if name := time.Local.String(); name != "Local" && ValidTimezone(name) {
		return name
	}
	return FallbackTimezone
}

// ResolveTimezone returns the first valid candidate in priority order,
// falling back to detect (DetectTimezone when nil).
func ResolveTimezone(detect func() string, candidates ...string) string {
	for _, candidate := range candidates {
		if ValidTimezone(candidate) {
			return candidate
		}
	}
	if detect == nil {
		detect = DetectTimezone
	}
	if tz := detect(); ValidTimezone(tz) {
		return tz
	}
	return FallbackTimezone
}

// Location loads name, falling back to UTC
func Location(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil || name == "" {
		return time.UTC
	}
	return loc
}
