package records

import (
	"encoding/json"
	"time"
)

// Exam results.
const (
	ResultPass = "Pass"
	ResultFail = "Fail"
)

// PassMark is the lowest total that classifies as a pass.
const PassMark = 250

// Student is a registered student. Immutable once created.
type Student struct {
	RollNo    string    `json:"rollNo" bson:"rollNo"`
	Name      string    `json:"name" bson:"name"`
	Class     string    `json:"class" bson:"class"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

// AttendanceEntry is one daily attendance submission.
type AttendanceEntry struct {
	ID         string    `json:"id" bson:"entryId"`
	RollNo     string    `json:"rollNo" bson:"rollNo"`
	Name       string    `json:"name" bson:"name"`
	Attendance string    `json:"attendance" bson:"attendance"`
	Date       time.Time `json:"date" bson:"date"`
	// Day is the calendar day of Date in the service location, "2006-01-02".
	Day string `json:"day" bson:"day"`
}

// MarksEntry is the single exam result recorded for a student.
type MarksEntry struct {
	RollNo     string    `json:"rollNo" bson:"rollNo"`
	Name       string    `json:"name" bson:"name"`
	TotalMarks float64   `json:"totalMarks" bson:"totalMarks"`
	Result     string    `json:"result" bson:"result"`
	CreatedAt  time.Time `json:"createdAt" bson:"createdAt"`
}

// MarksSummary is the public view of a marks entry.
type MarksSummary struct {
	Name       string  `json:"name"`
	TotalMarks float64 `json:"totalMarks"`
	Result     string  `json:"result"`
}

// Record event types.
const (
	EventStudentCreated      = "student.created"
	EventAttendanceSubmitted = "attendance.submitted"
	EventMarksSubmitted      = "marks.submitted"
)

// RecordEvent is an audit trail entry emitted after every successful write.
type RecordEvent struct {
	ID         string          `json:"id" bson:"eventId"`
	Type       string          `json:"type" bson:"type"`
	RollNo     string          `json:"rollNo" bson:"rollNo"`
	OccurredAt time.Time       `json:"occurredAt" bson:"occurredAt"`
	Payload    json.RawMessage `json:"payload" bson:"payload"`
}

// AttendanceQuery selects attendance entries for one student.
// From and To bound Date inclusively and apply only when both are set.
type AttendanceQuery struct {
	RollNo string
	From   time.Time
	To     time.Time
	Skip   int
	Limit  int
}

// HasRange reports whether the date filter applies.
func (q AttendanceQuery) HasRange() bool {
	return !q.From.IsZero() && !q.To.IsZero()
}

// AttendancePage is one page of attendance history.
type AttendancePage struct {
	Records      []AttendanceEntry `json:"records"`
	TotalRecords int64             `json:"totalRecords"`
	TotalPages   int               `json:"totalPages"`
	CurrentPage  int               `json:"currentPage"`
}
