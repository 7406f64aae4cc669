// Package clock centralizes wall-clock and timezone arithmetic. Business
// logic never touches time.Now or time.LoadLocation directly; the
// scheduler asks this service whether a send is allowed and when the
// next window opens.
package clock

import (
	"fmt"
	"math"
	"time"

	"github.com/cadencehq/cadence/pkg/models"
)

// Regulatory send window for sms and voice, local time. Always on.
const (
	ComplianceStartHour = 8
	ComplianceEndHour   = 21
)

// Service answers time questions. The now function is injectable for
// tests.
type Service struct {
	nowFn func() time.Time
}

// New creates a Service on the real clock.
func New() *Service {
	return &Service{nowFn: time.Now}
}

// NewAt creates a Service with an injected clock.
func NewAt(nowFn func() time.Time) *Service {
	return &Service{nowFn: nowFn}
}

// Now returns the current UTC instant.
func (s *Service) Now() time.Time {
	return s.nowFn().UTC()
}

// LocalNow returns the current time in the tenant's timezone. Unknown
// zones degrade to UTC rather than blocking dispatch.
func (s *Service) LocalNow(tz string) time.Time {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return s.nowFn().UTC()
	}
	return s.nowFn().In(loc)
}

// localize converts t into the zone, degrading to UTC.
func localize(t time.Time, tz string) time.Time {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return t.UTC()
	}
	return t.In(loc)
}

// InComplianceWindow reports whether local time at t permits sms/voice
// under the 08:00–21:00 regulatory rule.
func (s *Service) InComplianceWindow(tz string, t time.Time) bool {
	lt := localize(t, tz)
	return lt.Hour() >= ComplianceStartHour && lt.Hour() < ComplianceEndHour
}

// NextComplianceWindow returns the next local 08:00 at or after t,
// expressed as a UTC instant.
func (s *Service) NextComplianceWindow(tz string, t time.Time) time.Time {
	lt := localize(t, tz)
	open := time.Date(lt.Year(), lt.Month(), lt.Day(), ComplianceStartHour, 0, 0, 0, lt.Location())
	if !lt.Before(open) {
		// Past today's opening; if still inside the window the caller
		// should not have asked, so roll to tomorrow.
		open = open.AddDate(0, 0, 1)
	}
	return open.UTC()
}

// InBusinessWindow reports whether local time at t falls inside the
// tenant's business hours. A 24/7 emergency tenant is always open.
func (s *Service) InBusinessWindow(tz string, hours models.BusinessHours, t time.Time) bool {
	if hours.Emergency247 {
		return true
	}
	lt := localize(t, tz)
	start, end := windowFor(lt, hours)
	if end <= start {
		return false
	}
	h := float64(lt.Hour()) + float64(lt.Minute())/60.0
	return h >= start && h < end
}

// NextBusinessWindow returns the next window opening at or after t as a
// UTC instant. Scans forward day by day; a tenant whose windows are all
// empty gets a 24h deferral so the enrollment is retried rather than
// spinning.
func (s *Service) NextBusinessWindow(tz string, hours models.BusinessHours, t time.Time) time.Time {
	if hours.Emergency247 {
		return t
	}
	lt := localize(t, tz)
	for day := 0; day < 14; day++ {
		candidate := lt.AddDate(0, 0, day)
		start, end := windowFor(candidate, hours)
		if end <= start {
			continue
		}
		open := atFractionalHour(candidate, start)
		if day == 0 {
			h := float64(lt.Hour()) + float64(lt.Minute())/60.0
			if h >= end {
				continue
			}
			if h >= start {
				// Already inside; open now.
				return t
			}
		}
		return open.UTC()
	}
	return t.Add(24 * time.Hour)
}

func windowFor(lt time.Time, hours models.BusinessHours) (start, end float64) {
	switch lt.Weekday() {
	case time.Saturday, time.Sunday:
		return hours.WeekendStart, hours.WeekendEnd
	default:
		return hours.WeekdayStart, hours.WeekdayEnd
	}
}

func atFractionalHour(day time.Time, h float64) time.Time {
	hour := int(h)
	minute := int(math.Round((h - float64(hour)) * 60))
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
}

// ValidateZone reports whether tz is a loadable IANA zone.
func ValidateZone(tz string) error {
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return nil
}
