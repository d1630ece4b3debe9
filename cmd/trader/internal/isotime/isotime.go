// Package isotime parses the broker's ISO-8601 timestamps into fractional
// unix seconds. The feed emits both zoned ("2020-10-12T14:50:00Z") and
// naive-UTC ("2020-10-12T14:48:46.604253") forms.
package isotime

import (
	"fmt"
	"time"
)

const naiveLayout = "2006-01-02T15:04:05.999999999"

// Parse converts an ISO-8601 string to fractional unix seconds, UTC.
func Parse(s string) (float64, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, err = time.ParseInLocation(naiveLayout, s, time.UTC)
		if err != nil {
			return 0, fmt.Errorf("parse iso timestamp %q: %w", s, err)
		}
	}
	return float64(t.UnixNano()) / float64(time.Second), nil
}
