package domain

import (
	"errors"
	"time"
)

const (
	MinPriority = 0
	MaxPriority = 2
)

type Subscription struct {
	ID            string
	Name          string
	Priority      int
	LastFetchedAt map[Period]*time.Time
	PostCount     int
}

func NewSubscription(id string, name string) Subscription {
	return Subscription{
		ID:            id,
		Name:          name,
		LastFetchedAt: make(map[Period]*time.Time, len(Periods)),
	}
}

func (s *Subscription) NeedsUpdate(p Period, now time.Time) bool {
	last := s.LastFetchedAt[p]
	if last == nil {
		return true
	}

	return !p.NextDue(*last).After(now)
}

// NextUpdate returns the tier to fetch next and when it becomes due. Tiers
// that were never fetched are due immediately, least frequent first.
func (s *Subscription) NextUpdate(now time.Time) (Period, time.Time) {
	for _, p := range Periods {
		if s.LastFetchedAt[p] == nil {
			return p, now
		}
	}

	return s.earliestDue(Periods)
}

// NextMostFrequentUpdate is a cheap hint for "upcoming" displays. It only
// considers the week tier, plus the month tier at the lowest priority.
func (s *Subscription) NextMostFrequentUpdate(now time.Time) (Period, time.Time) {
	candidates := []Period{PeriodWeek}
	if s.Priority == MinPriority {
		candidates = []Period{PeriodMonth, PeriodWeek}
	}

	for _, p := range candidates {
		if s.LastFetchedAt[p] == nil {
			return p, now
		}
	}

	return s.earliestDue(candidates)
}

func (s *Subscription) earliestDue(periods []Period) (Period, time.Time) {
	var (
		best    Period
		bestDue time.Time
	)

	for _, p := range periods {
		due := p.NextDue(*s.LastFetchedAt[p])
		if best == "" || due.Before(bestDue) || (due.Equal(bestDue) && p.order() < best.order()) {
			best = p
			bestDue = due
		}
	}

	return best, bestDue
}

func (s *Subscription) FetchCount() int {
	return 2 + s.Priority*2
}

// SetPriority changes the fetch volume. Raising the priority forgets every
// watermark so the next pass re-fetches all tiers.
func (s *Subscription) SetPriority(priority int) (bool, error) {
	if priority < MinPriority || priority > MaxPriority {
		return false, errors.New("priority out of range")
	}

	raised := priority > s.Priority
	s.Priority = priority

	if raised {
		s.ResetWatermarks()
	}

	return raised, nil
}

func (s *Subscription) ResetWatermarks() {
	s.LastFetchedAt = make(map[Period]*time.Time, len(Periods))
}

func (s *Subscription) SetWatermark(p Period, at time.Time) {
	if s.LastFetchedAt == nil {
		s.LastFetchedAt = make(map[Period]*time.Time, len(Periods))
	}

	s.LastFetchedAt[p] = &at
}
