package featureflags

import (
	"os"
	"strings"
)

// Enabled reports whether the named flag is switched on through the
// environment. A flag "redis_l2" reads FLAG_REDIS_L2; any of 1/true/yes/on
// (case-insensitive) enables it, everything else leaves it off.
func Enabled(name string) bool {
	v := os.Getenv("FLAG_" + strings.ToUpper(name))
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
