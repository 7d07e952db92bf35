package records

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"schoolrecords/internal/metrics"
	"schoolrecords/internal/queue"
)

// Publisher delivers record events to the audit worker.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Service applies the record-keeping rules on top of a Store.
type Service struct {
	store           Store
	events          Publisher
	loc             *time.Location
	now             func() time.Time
	defaultPageSize int
	maxPageSize     int
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher emits a RecordEvent after every successful write.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithLocation sets the zone used to delimit calendar days.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPageSizes sets the default and maximum attendance page sizes.
func WithPageSizes(def, limit int) Option {
	return func(s *Service) {
		if def > 0 {
			s.defaultPageSize = def
		}
		if limit > 0 {
			s.maxPageSize = limit
		}
	}
}

// NewService creates a service backed by a store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:           store,
		loc:             time.Local,
		now:             time.Now,
		defaultPageSize: 10,
		maxPageSize:     100,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.defaultPageSize > s.maxPageSize {
		s.defaultPageSize = s.maxPageSize
	}
	return s
}

// Location is the zone used for day boundaries.
func (s *Service) Location() *time.Location { return s.loc }

// CreateStudent registers a new student.
func (s *Service) CreateStudent(ctx context.Context, rollNo, name, class string) (st Student, err error) {
	defer func() { metrics.ObserveOperation("create_student", outcome(err)) }()

	rollNo, name, class = strings.TrimSpace(rollNo), strings.TrimSpace(name), strings.TrimSpace(class)
	if rollNo == "" || name == "" || class == "" {
		return Student{}, newError(ErrInvalid, "Roll number, name and class are required")
	}
	if err := ensureUniqueRollNo(ctx, s.store, rollNo); err != nil {
		return Student{}, err
	}

	st = Student{RollNo: rollNo, Name: name, Class: class, CreatedAt: s.now().UTC()}
	if err := s.store.InsertStudent(ctx, st); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return Student{}, newError(ErrConflict, "Student with this roll number already exists")
		}
		return Student{}, unavailable(err, "Error adding student")
	}
	s.publish(ctx, EventStudentCreated, rollNo, st)
	return st, nil
}

// GetStudent looks a student up by roll number.
func (s *Service) GetStudent(ctx context.Context, rollNo string) (st Student, err error) {
	defer func() { metrics.ObserveOperation("get_student", outcome(err)) }()
	return s.findStudent(ctx, rollNo)
}

// Login resolves a student by roll number. No credential is verified.
func (s *Service) Login(ctx context.Context, rollNo string) (st Student, err error) {
	defer func() { metrics.ObserveOperation("login", outcome(err)) }()
	return s.findStudent(ctx, rollNo)
}

func (s *Service) findStudent(ctx context.Context, rollNo string) (Student, error) {
	rollNo = strings.TrimSpace(rollNo)
	if rollNo == "" {
		return Student{}, newError(ErrInvalid, "Roll number is required")
	}
	st, err := s.store.FindStudent(ctx, rollNo)
	if err != nil {
		return Student{}, unavailable(err, "Error fetching student")
	}
	if st == nil {
		return Student{}, newError(ErrNotFound, "Student not found")
	}
	return *st, nil
}

// SubmitAttendance records today's attendance for a student.
func (s *Service) SubmitAttendance(ctx context.Context, rollNo, attendance string) (AttendanceEntry, error) {
	return s.SubmitAttendanceAt(ctx, rollNo, attendance, s.now())
}

// SubmitAttendanceAt records attendance as of now.
func (s *Service) SubmitAttendanceAt(ctx context.Context, rollNo, attendance string, now time.Time) (entry AttendanceEntry, err error) {
	defer func() { metrics.ObserveOperation("submit_attendance", outcome(err)) }()

	attendance = strings.TrimSpace(attendance)
	if attendance == "" {
		return AttendanceEntry{}, newError(ErrInvalid, "Attendance value is required")
	}
	st, err := s.findStudent(ctx, rollNo)
	if err != nil {
		return AttendanceEntry{}, err
	}
	if err := ensureNoAttendanceToday(ctx, s.store, st.RollNo, now, s.loc); err != nil {
		return AttendanceEntry{}, err
	}

	entry = AttendanceEntry{
		ID:         uuid.NewString(),
		RollNo:     st.RollNo,
		Name:       st.Name,
		Attendance: attendance,
		Date:       now.UTC(),
		Day:        DayKey(now, s.loc),
	}
	if err := s.store.InsertAttendance(ctx, entry); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return AttendanceEntry{}, newError(ErrRejected, "Attendance is already submitted for today")
		}
		return AttendanceEntry{}, unavailable(err, "Error saving attendance record")
	}
	s.publish(ctx, EventAttendanceSubmitted, st.RollNo, entry)
	return entry, nil
}

// SubmitMarks records the exam total for a student. The stored result is
// always derived from totalMarks; a caller-supplied result must agree with it.
func (s *Service) SubmitMarks(ctx context.Context, rollNo string, totalMarks float64, result string) (entry MarksEntry, err error) {
	defer func() { metrics.ObserveOperation("submit_marks", outcome(err)) }()

	if !validTotal(totalMarks) {
		return MarksEntry{}, newError(ErrInvalid, "Total marks must be a non-negative number")
	}
	computed := ClassifyResult(totalMarks)
	if result = strings.TrimSpace(result); result != "" && !strings.EqualFold(result, computed) {
		return MarksEntry{}, newError(ErrInvalid, "Result does not match total marks")
	}
	st, err := s.findStudent(ctx, rollNo)
	if err != nil {
		return MarksEntry{}, err
	}
	if err := ensureNoExistingMarks(ctx, s.store, st.RollNo); err != nil {
		return MarksEntry{}, err
	}

	entry = MarksEntry{
		RollNo:     st.RollNo,
		Name:       st.Name,
		TotalMarks: totalMarks,
		Result:     computed,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.InsertMarks(ctx, entry); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return MarksEntry{}, newError(ErrRejected, "Marks already updated for this student")
		}
		return MarksEntry{}, unavailable(err, "Error saving marks record")
	}
	s.publish(ctx, EventMarksSubmitted, st.RollNo, entry)
	return entry, nil
}

// GetMarks returns the marks summary for a student.
func (s *Service) GetMarks(ctx context.Context, rollNo string) (sum MarksSummary, err error) {
	defer func() { metrics.ObserveOperation("get_marks", outcome(err)) }()

	rollNo = strings.TrimSpace(rollNo)
	if rollNo == "" {
		return MarksSummary{}, newError(ErrInvalid, "Roll number is required")
	}
	m, err := s.store.FindMarks(ctx, rollNo)
	if err != nil {
		return MarksSummary{}, unavailable(err, "Error fetching marks")
	}
	if m == nil {
		return MarksSummary{}, newError(ErrNotFound, "Marks not found for this Roll Number")
	}
	return MarksSummary{Name: m.Name, TotalMarks: m.TotalMarks, Result: m.Result}, nil
}

// ListAttendanceRequest selects a page of attendance history. Zero Page and
// PageSize take the defaults; From/To filter only when both are set.
type ListAttendanceRequest struct {
	RollNo   string
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}

// ListAttendance returns one page of a student's attendance in insertion
// order. A page with no records is NotFound, including pages past the end.
func (s *Service) ListAttendance(ctx context.Context, req ListAttendanceRequest) (page AttendancePage, err error) {
	defer func() { metrics.ObserveOperation("list_attendance", outcome(err)) }()

	rollNo := strings.TrimSpace(req.RollNo)
	if rollNo == "" {
		return AttendancePage{}, newError(ErrInvalid, "Roll number is required")
	}
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = s.defaultPageSize
	}
	if req.Page < 1 {
		return AttendancePage{}, newError(ErrInvalid, "Page must be a positive number")
	}
	if req.PageSize < 1 || req.PageSize > s.maxPageSize {
		return AttendancePage{}, newError(ErrInvalid, "Limit must be between 1 and "+strconv.Itoa(s.maxPageSize))
	}

	// A skip that does not fit in an int lies past any stored history.
	if req.Page-1 > math.MaxInt/req.PageSize {
		return AttendancePage{}, newError(ErrNotFound, "No attendance records found for this Roll Number.")
	}
	q := AttendanceQuery{
		RollNo: rollNo,
		Skip:   (req.Page - 1) * req.PageSize,
		Limit:  req.PageSize,
	}
	if !req.From.IsZero() && !req.To.IsZero() {
		if req.To.Before(req.From) {
			return AttendancePage{}, newError(ErrInvalid, "Start date must not be after end date")
		}
		q.From, q.To = req.From, req.To
	}

	entries, total, err := s.store.ListAttendance(ctx, q)
	if err != nil {
		return AttendancePage{}, unavailable(err, "Error fetching attendance records")
	}
	if len(entries) == 0 {
		return AttendancePage{}, newError(ErrNotFound, "No attendance records found for this Roll Number.")
	}
	return AttendancePage{
		Records:      entries,
		TotalRecords: total,
		TotalPages:   int(math.Ceil(float64(total) / float64(req.PageSize))),
		CurrentPage:  req.Page,
	}, nil
}

// AllAttendance returns every attendance entry for a student.
func (s *Service) AllAttendance(ctx context.Context, rollNo string) ([]AttendanceEntry, error) {
	rollNo = strings.TrimSpace(rollNo)
	if rollNo == "" {
		return nil, newError(ErrInvalid, "Roll number is required")
	}
	entries, _, err := s.store.ListAttendance(ctx, AttendanceQuery{RollNo: rollNo})
	if err != nil {
		return nil, unavailable(err, "Error fetching attendance records")
	}
	if len(entries) == 0 {
		return nil, newError(ErrNotFound, "No attendance records found for this Roll Number.")
	}
	return entries, nil
}

// RecordEvent stores an audit event delivered by the queue.
func (s *Service) RecordEvent(ctx context.Context, ev RecordEvent) error {
	if ev.ID == "" || ev.Type == "" {
		return newError(ErrInvalid, "event id and type required")
	}
	if err := s.store.AppendEvent(ctx, ev); err != nil {
		return unavailable(err, "Error saving record event")
	}
	return nil
}

// DecodeEvent parses a queued record event.
func DecodeEvent(msg queue.Message) (RecordEvent, error) {
	var ev RecordEvent
	if err := json.Unmarshal(msg.Body, &ev); err != nil {
		return RecordEvent{}, errors.Wrap(err, "decode record event")
	}
	if ev.Type == "" {
		ev.Type = msg.Type
	}
	return ev, nil
}

func (s *Service) publish(ctx context.Context, typ, rollNo string, payload any) {
	if s.events == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("encode %s payload for %s: %v", typ, rollNo, err)
		return
	}
	ev := RecordEvent{
		ID:         uuid.NewString(),
		Type:       typ,
		RollNo:     rollNo,
		OccurredAt: s.now().UTC(),
		Payload:    raw,
	}
	body, err := json.Marshal(ev)
	if err != nil {
		log.Printf("encode %s event for %s: %v", typ, rollNo, err)
		return
	}
	if err := s.events.Publish(ctx, queue.Message{Type: typ, Body: body}); err != nil {
		metrics.PublishFailed()
		log.Printf("queue publish %s for %s failed: %v", typ, rollNo, err)
	}
}
