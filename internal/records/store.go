package records

import (
	"context"
	"time"
)

// Store persists students, attendance and marks. Lookups of absent records
// return nil and no error. Inserts violating a uniqueness constraint return
// ErrDuplicate: roll number for students and marks, (roll number, day) for
// attendance.
type Store interface {
	InsertStudent(ctx context.Context, st Student) error
	FindStudent(ctx context.Context, rollNo string) (*Student, error)

	InsertAttendance(ctx context.Context, entry AttendanceEntry) error
	FindAttendanceSince(ctx context.Context, rollNo string, since time.Time) (*AttendanceEntry, error)
	ListAttendance(ctx context.Context, q AttendanceQuery) ([]AttendanceEntry, int64, error)

	InsertMarks(ctx context.Context, m MarksEntry) error
	FindMarks(ctx context.Context, rollNo string) (*MarksEntry, error)

	AppendEvent(ctx context.Context, ev RecordEvent) error

	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*Repository)(nil)
	_ Store = (*MongoRepository)(nil)
	_ Store = (*MemoryStore)(nil)
)
