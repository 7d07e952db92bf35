package records

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func rosterWorkbook(t *testing.T, rows [][]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		addr, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", addr, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestImportStudents(t *testing.T) {
	svc, store := setup(t)
	ctx := context.Background()
	createStudent(t, svc, "3")

	book := rosterWorkbook(t, [][]any{
		{"Roll No", "Name", "Class"},
		{"1", "Asha", "10-A"},
		{2, "Bilal", "10-A"},
		{"", "", ""},
		{"3", "Chen", "10-B"},
		{"4", "", "10-B"},
		{"1", "Asha Again", "10-A"},
	})

	report, err := svc.ImportStudents(ctx, book)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Imported)
	assert.Equal(t, []ImportIssue{
		{Row: 5, RollNo: "3", Reason: "Student with this roll number already exists"},
		{Row: 6, RollNo: "4", Reason: "Roll number, name and class are required"},
		{Row: 7, RollNo: "1", Reason: "Student with this roll number already exists"},
	}, report.Issues)

	st, err := store.FindStudent(ctx, "2")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "Bilal", st.Name)
}

func TestImportStudentsRejectsGarbage(t *testing.T) {
	svc, _ := setup(t)
	_, err := svc.ImportStudents(context.Background(), bytes.NewBufferString("rollNo,name\n1,a\n"))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestExportAttendance(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()
	createStudent(t, svc, "11")
	seedAttendance(t, svc, "11", 3)

	buf, err := svc.ExportAttendance(ctx, "11")
	require.NoError(t, err)

	f, err := excelize.OpenReader(buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"Roll No", "Name", "Attendance", "Date"}, rows[0])
	assert.Equal(t, []string{"11", "Student 11", "0%", "2026-03-02 09:30"}, rows[1])
	assert.Equal(t, "2%", rows[3][2])

	_, err = svc.ExportAttendance(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
