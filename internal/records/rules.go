package records

import (
	"context"
	"math"
	"time"
)

const dayLayout = "2006-01-02"

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// DayKey names t's calendar day in loc.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(dayLayout)
}

// ClassifyResult maps a total to Pass or Fail.
func ClassifyResult(totalMarks float64) string {
	if totalMarks >= PassMark {
		return ResultPass
	}
	return ResultFail
}

func ensureUniqueRollNo(ctx context.Context, store Store, rollNo string) error {
	existing, err := store.FindStudent(ctx, rollNo)
	if err != nil {
		return unavailable(err, "Error adding student")
	}
	if existing != nil {
		return newError(ErrConflict, "Student with this roll number already exists")
	}
	return nil
}

// ensureNoAttendanceToday rejects when any entry is dated at or after the
// start of now's day. The bound is open-ended, so future-dated entries
// reject as well.
func ensureNoAttendanceToday(ctx context.Context, store Store, rollNo string, now time.Time, loc *time.Location) error {
	existing, err := store.FindAttendanceSince(ctx, rollNo, StartOfDay(now, loc))
	if err != nil {
		return unavailable(err, "Error saving attendance record")
	}
	if existing != nil {
		return newError(ErrRejected, "Attendance is already submitted for today")
	}
	return nil
}

func ensureNoExistingMarks(ctx context.Context, store Store, rollNo string) error {
	existing, err := store.FindMarks(ctx, rollNo)
	if err != nil {
		return unavailable(err, "Error saving marks record")
	}
	if existing != nil {
		return newError(ErrRejected, "Marks already updated for this student")
	}
	return nil
}

func validTotal(totalMarks float64) bool {
	return !math.IsNaN(totalMarks) && !math.IsInf(totalMarks, 0) && totalMarks >= 0
}

// ParseDateBound parses a query date. Date-only values are read in loc;
// an end bound without a time covers the whole day.
func ParseDateBound(raw string, end bool, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(dayLayout, raw, loc)
	if err != nil {
		return time.Time{}, newError(ErrInvalid, "Invalid date: "+raw)
	}
	if end {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return t, nil
}
