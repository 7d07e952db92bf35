package records

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

const uniqueViolation = "23505"

// Repository persists records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// InsertStudent writes a new student.
func (r *Repository) InsertStudent(ctx context.Context, st Student) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO students (roll_no, name, class, created_at)
		VALUES ($1, $2, $3, $4)
	`, st.RollNo, st.Name, st.Class, st.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return errors.Wrap(err, "insert student")
}

// FindStudent returns the student with rollNo, or nil.
func (r *Repository) FindStudent(ctx context.Context, rollNo string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT roll_no, name, class, created_at FROM students WHERE roll_no = $1
	`, rollNo)
	var st Student
	if err := row.Scan(&st.RollNo, &st.Name, &st.Class, &st.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "find student")
	}
	return &st, nil
}

// InsertAttendance writes a new attendance entry.
func (r *Repository) InsertAttendance(ctx context.Context, e AttendanceEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_entries (id, roll_no, name, attendance, date, day)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.RollNo, e.Name, e.Attendance, e.Date, e.Day)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return errors.Wrap(err, "insert attendance")
}

// FindAttendanceSince returns any entry for rollNo dated at or after since.
func (r *Repository) FindAttendanceSince(ctx context.Context, rollNo string, since time.Time) (*AttendanceEntry, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, roll_no, name, attendance, date, day
		FROM attendance_entries
		WHERE roll_no = $1 AND date >= $2
		LIMIT 1
	`, rollNo, since)
	var e AttendanceEntry
	if err := row.Scan(&e.ID, &e.RollNo, &e.Name, &e.Attendance, &e.Date, &e.Day); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "find attendance")
	}
	return &e, nil
}

// ListAttendance returns a page of entries in insertion order and the
// number of entries matching the filter.
func (r *Repository) ListAttendance(ctx context.Context, q AttendanceQuery) ([]AttendanceEntry, int64, error) {
	where := ` WHERE roll_no = $1`
	args := []any{q.RollNo}
	if q.HasRange() {
		where += ` AND date >= $2 AND date <= $3`
		args = append(args, q.From, q.To)
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attendance_entries`+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count attendance")
	}

	query := `SELECT id, roll_no, name, attendance, date, day FROM attendance_entries` + where + ` ORDER BY seq`
	if q.Limit > 0 {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, q.Limit)
	}
	if q.Skip > 0 {
		query += " OFFSET " + placeholder(len(args)+1)
		args = append(args, q.Skip)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list attendance")
	}
	defer rows.Close()
	var res []AttendanceEntry
	for rows.Next() {
		var e AttendanceEntry
		if err := rows.Scan(&e.ID, &e.RollNo, &e.Name, &e.Attendance, &e.Date, &e.Day); err != nil {
			return nil, 0, errors.Wrap(err, "scan attendance")
		}
		res = append(res, e)
	}
	return res, total, errors.Wrap(rows.Err(), "list attendance")
}

// InsertMarks writes the marks entry for a student.
func (r *Repository) InsertMarks(ctx context.Context, m MarksEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO marks_entries (roll_no, name, total_marks, result, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, m.RollNo, m.Name, m.TotalMarks, m.Result, m.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return errors.Wrap(err, "insert marks")
}

// FindMarks returns the marks entry for rollNo, or nil.
func (r *Repository) FindMarks(ctx context.Context, rollNo string) (*MarksEntry, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT roll_no, name, total_marks, result, created_at FROM marks_entries WHERE roll_no = $1
	`, rollNo)
	var m MarksEntry
	if err := row.Scan(&m.RollNo, &m.Name, &m.TotalMarks, &m.Result, &m.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "find marks")
	}
	return &m, nil
}

// AppendEvent stores an audit event. Redelivered events are ignored.
func (r *Repository) AppendEvent(ctx context.Context, ev RecordEvent) error {
	payload := string(ev.Payload)
	if payload == "" {
		payload = "{}"
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO record_events (id, type, roll_no, occurred_at, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, ev.ID, ev.Type, ev.RollNo, ev.OccurredAt, payload)
	return errors.Wrap(err, "append event")
}

// Ping checks the connection.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the connection pool.
func (r *Repository) Close() error {
	return r.db.Close()
}

func placeholder(i int) string { return "$" + strconv.Itoa(i) }
