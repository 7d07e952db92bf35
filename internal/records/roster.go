package records

import (
	"bytes"
	"context"
	"io"
	"log"
	"strings"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
)

// ImportIssue describes a roster row that was not imported.
type ImportIssue struct {
	Row    int    `json:"row"`
	RollNo string `json:"rollNo,omitempty"`
	Reason string `json:"reason"`
}

// ImportReport summarises a roster import.
type ImportReport struct {
	Imported int           `json:"imported"`
	Issues   []ImportIssue `json:"issues"`
}

// ImportStudents registers every student listed on the first sheet of an
// xlsx workbook: column A roll number, B name, C class, first row a header.
// Rows go through CreateStudent one by one; failures are reported per row.
func (s *Service) ImportStudents(ctx context.Context, r io.Reader) (ImportReport, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return ImportReport{}, newError(ErrInvalid, "Could not read workbook")
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Printf("close workbook: %v", err)
		}
	}()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return ImportReport{}, newError(ErrInvalid, "Workbook has no sheets")
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return ImportReport{}, newError(ErrInvalid, "Could not read sheet "+sheet)
	}

	report := ImportReport{Issues: []ImportIssue{}}
	for i, row := range rows {
		if i == 0 {
			continue
		}
		rollNo, name, class := cell(row, 0), cell(row, 1), cell(row, 2)
		if rollNo == "" && name == "" && class == "" {
			continue
		}
		if _, err := s.CreateStudent(ctx, rollNo, name, class); err != nil {
			if errors.Is(err, ErrUnavailable) {
				return report, err
			}
			report.Issues = append(report.Issues, ImportIssue{Row: i + 1, RollNo: rollNo, Reason: Message(err)})
			continue
		}
		report.Imported++
	}
	log.Printf("roster import: %d imported, %d skipped", report.Imported, len(report.Issues))
	return report, nil
}

func cell(row []string, i int) string {
	if i < len(row) {
		return strings.TrimSpace(row[i])
	}
	return ""
}

const exportSheet = "Attendance"

// ExportAttendance renders a student's full attendance history as an xlsx workbook.
func (s *Service) ExportAttendance(ctx context.Context, rollNo string) (*bytes.Buffer, error) {
	entries, err := s.AllAttendance(ctx, rollNo)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, unavailable(err, "Error exporting attendance")
	}
	if err := f.SetSheetRow(exportSheet, "A1", &[]any{"Roll No", "Name", "Attendance", "Date"}); err != nil {
		return nil, unavailable(err, "Error exporting attendance")
	}
	for i, e := range entries {
		addr, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, unavailable(err, "Error exporting attendance")
		}
		row := []any{e.RollNo, e.Name, e.Attendance, e.Date.In(s.loc).Format("2006-01-02 15:04")}
		if err := f.SetSheetRow(exportSheet, addr, &row); err != nil {
			return nil, unavailable(err, "Error exporting attendance")
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, unavailable(err, "Error exporting attendance")
	}
	return buf, nil
}
