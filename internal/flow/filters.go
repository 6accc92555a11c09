package flow

import (
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/pdfqa/internal/backend"
)

// YearShape is the kind of year constraint.
type YearShape int

const (
	SingleYearShape YearShape = iota + 1
	YearRangeShape
	PastYearsShape
)

// YearConstraint restricts answers to publications from certain years. Only
// the fields for its Shape are meaningful.
type YearConstraint struct {
	Shape YearShape
	Year  int
	Start int
	End   int
	Past  int
}

func SingleYear(y int) *YearConstraint { return &YearConstraint{Shape: SingleYearShape, Year: y} }

func YearRange(start, end int) *YearConstraint {
	return &YearConstraint{Shape: YearRangeShape, Start: start, End: end}
}

func PastYears(n int) *YearConstraint { return &YearConstraint{Shape: PastYearsShape, Past: n} }

// Filters weight answers by recency. The zero value sends no filters.
type Filters struct {
	// Alpha trades relevance (1) against recency (0).
	Alpha *float64
	Year  *YearConstraint
}

// WithAlpha returns f with the weighting coefficient set.
func (f Filters) WithAlpha(a float64) Filters {
	f.Alpha = &a
	return f
}

// WithYear returns f with y as its only year constraint.
func (f Filters) WithYear(y *YearConstraint) Filters {
	f.Year = y
	return f
}

// Validate checks ranges against the calendar year of now.
func (f Filters) Validate(now time.Time) error {
	if f.Alpha != nil && (*f.Alpha < 0 || *f.Alpha > 1) {
		return fmt.Errorf("alpha %v outside [0,1]", *f.Alpha)
	}
	if f.Year == nil {
		return nil
	}
	current := now.Year()
	y := f.Year
	switch y.Shape {
	case SingleYearShape:
		if y.Year <= 0 || y.Year > current {
			return fmt.Errorf("year %d must be between 1 and %d", y.Year, current)
		}
	case YearRangeShape:
		if y.Start <= 0 || y.End > current {
			return fmt.Errorf("year range %d-%d must end no later than %d", y.Start, y.End, current)
		}
		if y.Start > y.End {
			return fmt.Errorf("year range start %d is after end %d", y.Start, y.End)
		}
	case PastYearsShape:
		if y.Past <= 0 {
			return fmt.Errorf("past years must be positive, got %d", y.Past)
		}
	default:
		return errors.New("unknown year constraint")
	}
	return nil
}

// Wire converts f to the backend request shape.
func (f Filters) Wire() backend.Filters {
	var w backend.Filters
	if f.Alpha != nil {
		a := *f.Alpha
		w.Alpha = &a
	}
	if f.Year == nil {
		return w
	}
	switch f.Year.Shape {
	case SingleYearShape:
		y := f.Year.Year
		w.Year = &y
	case YearRangeShape:
		w.YearRange = &backend.YearRange{StartYear: f.Year.Start, EndYear: f.Year.End}
	case PastYearsShape:
		p := f.Year.Past
		w.PastYears = &p
	}
	return w
}
