package reports

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPeriod is returned for malformed period parameters.
var ErrInvalidPeriod = errors.New("invalid report period")

const (
	PeriodDaily   = "daily"
	PeriodMonthly = "monthly"
	PeriodRange   = "range"
)

// Period selects a window of days. Dates are YYYY-MM-DD and months YYYY-MM,
// all in UTC.
type Period struct {
	Kind     string `json:"period"`
	Day      string `json:"day"`
	Month    string `json:"month"`
	DateFrom string `json:"dateFrom"`
	DateTo   string `json:"dateTo"`
}

// TimeRange is a half-open interval [From, To).
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Range resolves the period. A nil range with a nil error means no time
// filter: the kind is empty or its parameters are missing.
func (p Period) Range() (*TimeRange, error) {
	switch p.Kind {
	case PeriodDaily:
		if p.Day == "" {
			return nil, nil
		}
		day, err := parseDay(p.Day)
		if err != nil {
			return nil, err
		}
		return &TimeRange{From: day, To: day.AddDate(0, 0, 1)}, nil

	case PeriodMonthly:
		if p.Month == "" {
			return nil, nil
		}
		month, err := time.Parse("2006-01", p.Month)
		if err != nil {
			return nil, fmt.Errorf("%w: month %q", ErrInvalidPeriod, p.Month)
		}
		return &TimeRange{From: month, To: month.AddDate(0, 1, 0)}, nil

	case PeriodRange:
		if p.DateFrom == "" || p.DateTo == "" {
			return nil, nil
		}
		from, err := parseDay(p.DateFrom)
		if err != nil {
			return nil, err
		}
		to, err := parseDay(p.DateTo)
		if err != nil {
			return nil, err
		}
		if to.Before(from) {
			return nil, fmt.Errorf("%w: dateTo before dateFrom", ErrInvalidPeriod)
		}
		return &TimeRange{From: from, To: to.AddDate(0, 0, 1)}, nil

	case "":
		return nil, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidPeriod, p.Kind)
}

func parseDay(s string) (time.Time, error) {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrInvalidPeriod, s)
	}
	return d, nil
}

// AgeOn returns the age in whole years at now. A zero dob yields 0.
func AgeOn(dob, now time.Time) int {
	if dob.IsZero() {
		return 0
	}
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	return age
}
