// Package window converts local schedule intents into the UTC datetime pairs
// the FSM expects.
package window

import (
	"math"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/domain"
)

// ExternalLayout is the FSM datetime format. Values are always UTC.
const ExternalLayout = "2006-01-02 15:04:05"

// Defaults for slot boundaries, in local wall-clock time.
var (
	DefaultDayStart        = domain.Clock{Hour: 8}
	DefaultEndOfBusiness   = domain.Clock{Hour: 17}
	InspectionStart        = domain.Clock{Hour: 8}
	InspectionEnd          = domain.Clock{Hour: 16}
	DefaultWorkdayHours    = 8.0
	defaultSingleSlotHours = 8.0
)

// fallbackOffsets covers common US zone abbreviations for hosts where the
// tz database cannot resolve the requested zone.
var fallbackOffsets = map[string]int{
	"EST":  -5,
	"EDT":  -4,
	"CST":  -6,
	"CDT":  -5,
	"MST":  -7,
	"MDT":  -6,
	"PST":  -8,
	"PDT":  -7,
	"AKST": -9,
	"AKDT": -8,
	"HST":  -10,
}

// Request describes the window to compute.
type Request struct {
	Category     domain.Category
	Date         string
	StartTime    string
	EndTime      string
	DurationDays float64
	Timezone     string
}

// RequestFromIntent lifts the window fields out of a schedule intent.
func RequestFromIntent(intent domain.ScheduleIntent) Request {
	return Request{
		Category:     intent.Category,
		Date:         intent.Date,
		StartTime:    intent.StartTime,
		EndTime:      intent.EndTime,
		DurationDays: intent.DurationDays,
		Timezone:     intent.Timezone,
	}
}

// Result is a computed window.
type Result struct {
	Start    time.Time
	End      time.Time
	Location *time.Location
	// ZoneFallback is set when the abbreviation table supplied the offset.
	ZoneFallback bool
}

// StartString formats the start in the FSM layout.
func (r Result) StartString() string { return r.Start.UTC().Format(ExternalLayout) }

// EndString formats the end in the FSM layout.
func (r Result) EndString() string { return r.End.UTC().Format(ExternalLayout) }

// Calculator computes schedule windows.
type Calculator struct {
	defaultTimezone string
}

// NewCalculator creates a calculator that uses defaultTimezone when a
// request carries none.
func NewCalculator(defaultTimezone string) *Calculator {
	return &Calculator{defaultTimezone: defaultTimezone}
}

// Compute produces the UTC window for a request.
func (c *Calculator) Compute(req Request) (Result, error) {
	if !req.Category.IsValid() {
		return Result{}, errors.Wrapf(domain.ErrInvalidIntent, "unknown category %q", req.Category)
	}
	day, err := time.Parse(domain.DateLayout, req.Date)
	if err != nil {
		return Result{}, errors.Wrapf(domain.ErrInvalidIntent, "date %q must be YYYY-MM-DD", req.Date)
	}

	tz := req.Timezone
	if tz == "" {
		tz = c.defaultTimezone
	}
	loc, fallback, err := ResolveLocation(tz)
	if err != nil {
		return Result{}, err
	}

	var startClock, endClock domain.Clock
	endDay := day

	switch req.Category {
	case domain.CategoryInspection:
		// Slot selection only picks the inspector; the window is fixed.
		startClock, endClock = InspectionStart, InspectionEnd

	case domain.CategorySurvey:
		startClock, err = clockOr(req.StartTime, DefaultDayStart)
		if err != nil {
			return Result{}, err
		}
		if req.EndTime != "" {
			endClock, err = clockOr(req.EndTime, DefaultEndOfBusiness)
			if err != nil {
				return Result{}, err
			}
		} else {
			hours := req.DurationDays * DefaultWorkdayHours
			if hours <= 0 {
				hours = defaultSingleSlotHours
			}
			endClock = addHours(startClock, hours)
		}

	case domain.CategoryConstruction:
		startClock, err = clockOr(req.StartTime, DefaultDayStart)
		if err != nil {
			return Result{}, err
		}
		endClock = DefaultEndOfBusiness
		endDay = EndDate(day, req.DurationDays)
	}

	start := LocalToUTC(day, startClock, loc)
	end := LocalToUTC(endDay, endClock, loc)
	if !end.After(start) {
		return Result{}, errors.Wrapf(domain.ErrInvalidIntent,
			"window end %s is not after start %s", end.Format(ExternalLayout), start.Format(ExternalLayout))
	}

	return Result{Start: start, End: end, Location: loc, ZoneFallback: fallback}, nil
}

// LocalToUTC converts a local calendar date and clock to UTC using the zone
// offset in force at that instant, so daylight-saving transitions are honoured
// per date. Hour overflow rolls the date forward across month and year ends.
func LocalToUTC(day time.Time, clock domain.Clock, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour, clock.Minute, clock.Second, 0, loc).UTC()
}

// ResolveLocation loads an IANA zone. When the tz database cannot resolve it,
// a small US abbreviation table is consulted before giving up.
func ResolveLocation(name string) (*time.Location, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false, errors.Wrap(domain.ErrInvalidIntent, "timezone is required")
	}
	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc, false, nil
	}
	if hours, ok := fallbackOffsets[strings.ToUpper(name)]; ok {
		return time.FixedZone(strings.ToUpper(name), hours*3600), true, nil
	}
	return nil, false, errors.Wrapf(domain.ErrInvalidIntent, "unknown timezone %q", name)
}

// EndDate walks forward from start over ceil(durationDays)-1 business days.
// Durations at or below one day end on the start date.
func EndDate(start time.Time, durationDays float64) time.Time {
	days := int(math.Ceil(durationDays))
	if days < 1 {
		days = 1
	}
	return AddBusinessDays(start, days-1)
}

// AddBusinessDays moves n weekdays forward from day, never counting
// Saturdays or Sundays.
func AddBusinessDays(day time.Time, n int) time.Time {
	d := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	for n > 0 {
		d = d.AddDate(0, 0, 1)
		if IsBusinessDay(d) {
			n--
		}
	}
	return d
}

// IsBusinessDay reports Monday through Friday.
func IsBusinessDay(d time.Time) bool {
	wd := d.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

func clockOr(s string, def domain.Clock) (domain.Clock, error) {
	if s == "" {
		return def, nil
	}
	c, err := domain.ParseClock(s)
	if err != nil {
		return domain.Clock{}, errors.Wrapf(domain.ErrInvalidIntent, "clock time %q must be HH:MM", s)
	}
	return c, nil
}

func addHours(c domain.Clock, hours float64) domain.Clock {
	total := c.Minutes() + int(math.Round(hours*60))
	return domain.Clock{Hour: total / 60, Minute: total % 60}
}
