// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import (
	"fmt"
	"time"
)

// sentinelDate is used to anchor time-of-day-only timestamps so that
// time.Time ordering and formatting keep working without inventing a
// real date. The wire format never carries a date; wrap-around across
// midnight is not reconstructed, matching the original instrumentation.
var sentinelDate = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)

// TimeOfDay is a timestamp with no date component, as emitted by the
// instrumentation log's "[HH:MM:SS.ffffff]" prefix.
type TimeOfDay struct {
	time.Time
}

// ParseTimeOfDay parses the "HH:MM:SS.ffffff" representation used in the
// log prefix.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04:05.000000", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("schema: invalid time-of-day %q: %w", s, err)
	}
	y, m, d := sentinelDate.Date()
	return TimeOfDay{
		Time: time.Date(y, m, d,
			t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC),
	}, nil
}

func (t TimeOfDay) String() string {
	return t.Time.Format("15:04:05.000000")
}
