package domain

import (
	"fmt"
	"time"
)

type Period string

const (
	PeriodAll   Period = "all"
	PeriodYear  Period = "year"
	PeriodMonth Period = "month"
	PeriodWeek  Period = "week"
)

// Periods is ordered from the least to the most frequently refreshed tier.
var Periods = []Period{PeriodAll, PeriodYear, PeriodMonth, PeriodWeek}

func ParsePeriod(raw string) (Period, error) {
	for _, p := range Periods {
		if string(p) == raw {
			return p, nil
		}
	}

	return "", fmt.Errorf("unknown period: %q", raw)
}

// NextDue returns the earliest moment a tier fetched at last may be fetched
// again.
func (p Period) NextDue(last time.Time) time.Time {
	switch p {
	case PeriodAll:
		return last.AddDate(1, 0, 0)
	case PeriodYear:
		return last.AddDate(0, 1, 0)
	case PeriodMonth:
		return last.AddDate(0, 0, 7)
	case PeriodWeek:
		return last.AddDate(0, 0, 1)
	default:
		return last
	}
}

func (p Period) order() int {
	for i, candidate := range Periods {
		if candidate == p {
			return i
		}
	}

	return len(Periods)
}
