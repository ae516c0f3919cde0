// Package services – OperatingCalendar and CutoffResolver
//
// OperatingCalendar answers whether the canteen serves meals on a date. A
// dated exception decides outright; otherwise the weekly row for the weekday
// applies; otherwise Monday to Friday are operating days.
//
// CutoffResolver turns a service date into the instant ordering closes: it
// walks back AdvanceDays operating days (non-operating days are skipped
// without consuming the count) and combines the landing date with the active
// policy's closing time in the canteen's local timezone.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/canteen-backend/internal/domain"
	"github.com/tbourn/canteen-backend/internal/repo"
)

// maxCutoffWalk bounds the backward walk so a calendar without any operating
// day cannot loop forever; hitting it yields "no closing instant".
const maxCutoffWalk = 366

// OperatingCalendar resolves operating days from the calendar tables.
type OperatingCalendar struct{}

// IsOperatingDay reports whether date (only its calendar day is used) is an
// operating day.
func (OperatingCalendar) IsOperatingDay(ctx context.Context, db *gorm.DB, date time.Time) (bool, error) {
	day := date.Format(domain.DateLayout)

	ex, err := repo.GetOperatingException(ctx, db, day)
	switch {
	case err == nil:
		return ex.Type == domain.ExceptionOpen, nil
	case !errors.Is(err, repo.ErrNotFound):
		return false, err
	}

	wd := isoWeekday(date)
	od, err := repo.GetOperatingDay(ctx, db, wd)
	switch {
	case err == nil:
		return od.IsOperating, nil
	case !errors.Is(err, repo.ErrNotFound):
		return false, err
	}
	return wd < 5, nil
}

// isoWeekday maps time.Weekday to 0 = Monday … 6 = Sunday.
func isoWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// CutoffResolver computes closing instants for service dates.
type CutoffResolver struct {
	Calendar OperatingCalendar
	// Location is the zone closing times are expressed in. Nil means UTC.
	Location *time.Location
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// NewCutoffResolver returns a resolver for loc using the wall clock.
func NewCutoffResolver(loc *time.Location) *CutoffResolver {
	return &CutoffResolver{Location: loc, Now: time.Now}
}

func (r *CutoffResolver) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

func (r *CutoffResolver) loc() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

// ClosingInstant returns when ordering for serviceDate closes. ok is false
// when there is no active closing policy, when serviceDate is not an
// operating day, or when no operating day precedes it within a year.
func (r *CutoffResolver) ClosingInstant(ctx context.Context, db *gorm.DB, serviceDate time.Time) (closing time.Time, ok bool, err error) {
	tr := otel.Tracer("services/CutoffResolver")
	ctx, span := tr.Start(ctx, "ClosingInstant",
		trace.WithAttributes(attribute.String("service_date", serviceDate.Format(domain.DateLayout))),
	)
	defer span.End()

	policy, err := repo.GetActiveClosingPolicy(ctx, db)
	if errors.Is(err, repo.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}

	operating, err := r.Calendar.IsOperatingDay(ctx, db, serviceDate)
	if err != nil || !operating {
		return time.Time{}, false, err
	}

	day := civilDate(serviceDate)
	remaining := policy.AdvanceDays
	for steps := 0; remaining > 0; steps++ {
		if steps >= maxCutoffWalk {
			return time.Time{}, false, nil
		}
		day = day.AddDate(0, 0, -1)
		op, err := r.Calendar.IsOperatingDay(ctx, db, day)
		if err != nil {
			return time.Time{}, false, err
		}
		if op {
			remaining--
		}
	}

	h, m, s, ns, err := clockOf(policy.ClosingTime)
	if err != nil {
		return time.Time{}, false, err
	}
	closing = time.Date(day.Year(), day.Month(), day.Day(), h, m, s, ns, r.loc())
	span.SetAttributes(attribute.String("closing_at", closing.Format(time.RFC3339)))
	return closing, true, nil
}

// IsOrderingAllowed reports now < ClosingInstant(serviceDate); a missing
// closing instant means ordering is not allowed.
func (r *CutoffResolver) IsOrderingAllowed(ctx context.Context, db *gorm.DB, serviceDate time.Time) (bool, error) {
	closing, ok, err := r.ClosingInstant(ctx, db, serviceDate)
	if err != nil || !ok {
		return false, err
	}
	return r.now().Before(closing), nil
}

// civilDate strips the clock and zone, keeping the calendar day.
func civilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// clockOf splits a datatypes.Time (a duration since midnight) into its parts.
func clockOf(t datatypes.Time) (h, m, s, ns int, err error) {
	dur := time.Duration(t)
	if dur < 0 || dur >= 24*time.Hour {
		return 0, 0, 0, 0, fmt.Errorf("closing time %v out of range", dur)
	}
	h = int(dur / time.Hour)
	m = int(dur % time.Hour / time.Minute)
	s = int(dur % time.Minute / time.Second)
	ns = int(dur % time.Second)
	return h, m, s, ns, nil
}

// ParseDate parses an ISO service date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(domain.DateLayout, s)
}
