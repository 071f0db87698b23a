package services

import (
	"time"

	"coinledger/internal/store"
)

const dateLayout = "2006-01-02"

// RangePolicy turns the optional start and end arguments of a history query
// into a half-open time window.
type RangePolicy interface {
	Window(start, end string) (store.TimeRange, error)
}

// CalendarDays reads YYYY-MM-DD dates in Location (UTC when nil). Both ends
// are inclusive at day granularity, so end maps to midnight of the next day
// as an exclusive bound.
type CalendarDays struct {
	Location *time.Location
}

func (p CalendarDays) Window(start, end string) (store.TimeRange, error) {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	var window store.TimeRange
	if start != "" {
		from, err := time.ParseInLocation(dateLayout, start, loc)
		if err != nil {
			return store.TimeRange{}, ErrInvalidQuery
		}
		window.From = &from
	}
	if end != "" {
		day, err := time.ParseInLocation(dateLayout, end, loc)
		if err != nil {
			return store.TimeRange{}, ErrInvalidQuery
		}
		until := day.AddDate(0, 0, 1)
		window.Until = &until
	}
	if window.From != nil && window.Until != nil && !window.From.Before(*window.Until) {
		return store.TimeRange{}, ErrInvalidQuery
	}
	return window, nil
}
