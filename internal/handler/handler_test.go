package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"schoolrecords/internal/auth"
	"schoolrecords/internal/records"
)

var testIssuer = auth.Issuer{Name: "school-test", Key: []byte("test-key"), AccessTTL: time.Minute, RefreshTTL: time.Hour}

type server struct {
	engine *gin.Engine
	clock  *time.Time
}

type serverOptions struct {
	guardWrites    bool
	guardReads     bool
	maxUploadBytes int64
}

func newServer(t *testing.T, guardWrites bool) *server {
	return newServerWith(t, serverOptions{guardWrites: guardWrites})
}

func newServerWith(t *testing.T, opts serverOptions) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	now := time.Date(2026, 4, 6, 8, 0, 0, 0, time.UTC)
	s := &server{clock: &now}
	svc := records.NewService(records.NewMemoryStore(),
		records.WithLocation(time.UTC),
		records.WithClock(func() time.Time { return *s.clock }),
	)

	faculty := auth.NewCredentials()
	require.NoError(t, faculty.AddPassword("faculty123", "password123"))

	if opts.maxUploadBytes == 0 {
		opts.maxUploadBytes = 1 << 20
	}
	h := New(svc, testIssuer, faculty, opts.maxUploadBytes, map[string]HealthCheck{
		"store": func(context.Context) bool { return true },
	})
	var g Guards
	if opts.guardWrites {
		g.Write = append(g.Write, auth.RequireRole(testIssuer, auth.RoleFaculty))
	}
	if opts.guardReads {
		g.Read = append(g.Read, auth.RequireRole(testIssuer, auth.RoleStudent, auth.RoleFaculty), auth.OwnRecordOnly("rollNo"))
	}
	s.engine = gin.New()
	s.engine.GET("/healthz", h.Healthz)
	h.Register(s.engine.Group("/api"), g)
	return s
}

func (s *server) do(t *testing.T, method, path string, body any, token string) (int, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w.Code, out
}

func (s *server) addStudent(t *testing.T, rollNo string) {
	t.Helper()
	code, _ := s.do(t, http.MethodPost, "/api/students", map[string]string{"rollNo": rollNo, "name": "Student " + rollNo, "class": "7-B"}, "")
	require.Equal(t, http.StatusCreated, code)
}

func TestStudentRoutes(t *testing.T) {
	s := newServer(t, false)

	code, body := s.do(t, http.MethodPost, "/api/students", map[string]string{"rollNo": "42", "name": "Meera", "class": "7-B"}, "")
	assert.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "Student added successfully", body["message"])

	code, body = s.do(t, http.MethodPost, "/api/students", map[string]string{"rollNo": "42", "name": "Other", "class": "7-B"}, "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "Student with this roll number already exists", body["message"])

	code, body = s.do(t, http.MethodPost, "/api/students", map[string]string{"rollNo": "43"}, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.NotEmpty(t, body["message"])

	code, body = s.do(t, http.MethodGet, "/api/students/42", nil, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Meera", body["name"])

	code, body = s.do(t, http.MethodGet, "/api/students/nonexistent", nil, "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Student not found", body["message"])
}

func TestAttendanceRoutes(t *testing.T) {
	s := newServer(t, false)
	s.addStudent(t, "5")

	code, body := s.do(t, http.MethodPut, "/api/students/5/attendance", map[string]string{"attendance": "92%"}, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Attendance saved successfully!", body["message"])

	code, body = s.do(t, http.MethodPut, "/api/students/5/attendance", map[string]string{"attendance": "93%"}, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Attendance is already submitted for today", body["message"])

	code, _ = s.do(t, http.MethodPut, "/api/students/404/attendance", map[string]string{"attendance": "93%"}, "")
	assert.Equal(t, http.StatusNotFound, code)

	for i := 1; i < 12; i++ {
		*s.clock = s.clock.AddDate(0, 0, 1)
		code, _ = s.do(t, http.MethodPut, "/api/students/5/attendance", map[string]string{"attendance": fmt.Sprintf("%d%%", 80+i)}, "")
		require.Equal(t, http.StatusOK, code)
	}

	code, body = s.do(t, http.MethodGet, "/api/attendance/5", nil, "")
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 12, body["totalRecords"])
	assert.EqualValues(t, 2, body["totalPages"])
	assert.EqualValues(t, 1, body["currentPage"])
	assert.Len(t, body["records"], 10)

	code, body = s.do(t, http.MethodGet, "/api/attendance/5?page=2&limit=10", nil, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["records"], 2)

	code, body = s.do(t, http.MethodGet, "/api/attendance/5?page=3", nil, "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "No attendance records found for this Roll Number.", body["message"])

	code, body = s.do(t, http.MethodGet, "/api/attendance/5?startDate=2026-04-07&endDate=2026-04-08", nil, "")
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["totalRecords"])

	code, _ = s.do(t, http.MethodGet, "/api/attendance/5?page=abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(t, http.MethodGet, "/api/attendance/5?limit=0", nil, "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(t, http.MethodGet, "/api/attendance/5?startDate=yesterday&endDate=today", nil, "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestMarksRoutes(t *testing.T) {
	s := newServer(t, false)
	s.addStudent(t, "9")

	code, body := s.do(t, http.MethodGet, "/api/marks/9", nil, "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Marks not found for this Roll Number", body["message"])

	code, body = s.do(t, http.MethodPut, "/api/students/9/marks", map[string]any{"totalMarks": 249, "result": "Pass"}, "")
	assert.Equal(t, http.StatusBadRequest, code, "result must agree with the total")

	code, body = s.do(t, http.MethodPut, "/api/students/9/marks", map[string]any{"totalMarks": "275"}, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Marks saved successfully!", body["message"])

	code, body = s.do(t, http.MethodPut, "/api/students/9/marks", map[string]any{"totalMarks": 100, "result": "Fail"}, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Marks already updated for this student", body["message"])

	code, body = s.do(t, http.MethodGet, "/api/marks/9", nil, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"name": "Student 9", "totalMarks": float64(275), "result": "Pass"}, body)

	code, _ = s.do(t, http.MethodPut, "/api/students/9/marks", map[string]any{"totalMarks": "lots"}, "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestStudentLogin(t *testing.T) {
	s := newServer(t, false)
	s.addStudent(t, "12")

	code, body := s.do(t, http.MethodPost, "/api/login", map[string]string{"rollNo": "12", "password": "anything"}, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Login successful", body["message"])
	token, _ := body["token"].(string)
	claims, err := testIssuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleStudent, claims.Role)
	assert.Equal(t, "12", claims.Subject)

	code, body = s.do(t, http.MethodPost, "/api/login", map[string]string{"rollNo": "nope"}, "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Student not found", body["message"])
}

func TestFacultyGuard(t *testing.T) {
	s := newServer(t, true)
	student := map[string]string{"rollNo": "1", "name": "Ira", "class": "6-A"}

	code, _ := s.do(t, http.MethodPost, "/api/students", student, "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(t, http.MethodPost, "/api/faculty/login", map[string]string{"username": "faculty123", "password": "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := s.do(t, http.MethodPost, "/api/faculty/login", map[string]string{"username": "faculty123", "password": "password123"}, "")
	require.Equal(t, http.StatusOK, code)
	facultyToken, _ := body["accessToken"].(string)
	require.NotEmpty(t, facultyToken)

	code, _ = s.do(t, http.MethodPost, "/api/students", student, facultyToken)
	assert.Equal(t, http.StatusCreated, code)

	code, body = s.do(t, http.MethodPost, "/api/login", map[string]string{"rollNo": "1"}, "")
	require.Equal(t, http.StatusOK, code)
	studentToken, _ := body["token"].(string)

	code, _ = s.do(t, http.MethodPut, "/api/students/1/attendance", map[string]string{"attendance": "90%"}, studentToken)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(t, http.MethodGet, "/api/students/1", nil, "")
	assert.Equal(t, http.StatusOK, code, "reads stay public")
}

func TestFacultyRefreshToken(t *testing.T) {
	s := newServer(t, true)

	code, body := s.do(t, http.MethodPost, "/api/faculty/login", map[string]string{"username": "faculty123", "password": "password123"}, "")
	require.Equal(t, http.StatusOK, code)
	refresh, _ := body["refreshToken"].(string)
	require.NotEmpty(t, refresh)

	student := map[string]string{"rollNo": "2", "name": "Kiran", "class": "6-A"}
	code, _ = s.do(t, http.MethodPost, "/api/students", student, refresh)
	assert.Equal(t, http.StatusUnauthorized, code, "refresh tokens do not authorize requests")

	code, body = s.do(t, http.MethodPost, "/api/token/refresh", map[string]string{"refreshToken": refresh}, "")
	require.Equal(t, http.StatusOK, code)
	access, _ := body["accessToken"].(string)

	code, _ = s.do(t, http.MethodPost, "/api/students", student, access)
	assert.Equal(t, http.StatusCreated, code)

	code, _ = s.do(t, http.MethodPost, "/api/token/refresh", map[string]string{"refreshToken": access}, "")
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = s.do(t, http.MethodPost, "/api/token/refresh", map[string]string{}, "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestStudentReadGuard(t *testing.T) {
	s := newServerWith(t, serverOptions{guardReads: true})
	s.addStudent(t, "61")
	s.addStudent(t, "62")

	code, _ := s.do(t, http.MethodGet, "/api/students/61", nil, "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := s.do(t, http.MethodPost, "/api/login", map[string]string{"rollNo": "61"}, "")
	require.Equal(t, http.StatusOK, code)
	token, _ := body["token"].(string)

	code, _ = s.do(t, http.MethodGet, "/api/students/61", nil, token)
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, http.MethodGet, "/api/marks/62", nil, token)
	assert.Equal(t, http.StatusForbidden, code)

	code, body = s.do(t, http.MethodPost, "/api/faculty/login", map[string]string{"username": "faculty123", "password": "password123"}, "")
	require.Equal(t, http.StatusOK, code)
	facultyToken, _ := body["accessToken"].(string)
	code, _ = s.do(t, http.MethodGet, "/api/students/62", nil, facultyToken)
	assert.Equal(t, http.StatusOK, code)
}

func multipartUpload(t *testing.T, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	part, err := mw.CreateFormFile("file", "roster.xlsx")
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &form, mw.FormDataContentType()
}

func TestImportTooLarge(t *testing.T) {
	s := newServerWith(t, serverOptions{maxUploadBytes: 1024})

	form, contentType := multipartUpload(t, bytes.Repeat([]byte("x"), 8<<10))
	req := httptest.NewRequest(http.MethodPost, "/api/students/import", form)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "File too large")
}

func TestImportAndExport(t *testing.T) {
	s := newServer(t, false)

	book := excelize.NewFile()
	require.NoError(t, book.SetSheetRow("Sheet1", "A1", &[]any{"Roll No", "Name", "Class"}))
	require.NoError(t, book.SetSheetRow("Sheet1", "A2", &[]any{"31", "Tara", "5-C"}))
	require.NoError(t, book.SetSheetRow("Sheet1", "A3", &[]any{"32", "Uday", "5-C"}))
	xlsx, err := book.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, book.Close())

	form, contentType := multipartUpload(t, xlsx.Bytes())
	req := httptest.NewRequest(http.MethodPost, "/api/students/import", form)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"imported":2,"issues":[]}`, w.Body.String())

	code, _ := s.do(t, http.MethodPut, "/api/students/31/attendance", map[string]string{"attendance": "88%"}, "")
	require.Equal(t, http.StatusOK, code)

	req = httptest.NewRequest(http.MethodGet, "/api/attendance/31/export", nil)
	w = httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename="attendance-31.xlsx"`)

	exported, err := excelize.OpenReader(w.Body)
	require.NoError(t, err)
	defer exported.Close()
	rows, err := exported.GetRows("Attendance")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	req = httptest.NewRequest(http.MethodPost, "/api/students/import", nil)
	w = httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthz(t *testing.T) {
	s := newServer(t, false)
	code, body := s.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"status": "ok", "store": true}, body)
}

func TestParseTotal(t *testing.T) {
	tests := []struct {
		raw     string
		want    float64
		wantErr bool
	}{
		{raw: `310`, want: 310},
		{raw: `"249.5"`, want: 249.5},
		{raw: `" 12 "`, want: 12},
		{raw: `null`, wantErr: true},
		{raw: `""`, wantErr: true},
		{raw: `true`, wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseTotal(json.RawMessage(tt.raw))
		if tt.wantErr {
			assert.Error(t, err, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got)
	}
}

func TestSafeFilename(t *testing.T) {
	assert.Equal(t, "10-A_7", safeFilename("10-A/7"))
	assert.Equal(t, "__etc_passwd", safeFilename("..etc/passwd"))
}
