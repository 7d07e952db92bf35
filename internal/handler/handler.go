package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"schoolrecords/internal/auth"
	"schoolrecords/internal/records"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Handler serves the record service over HTTP.
type Handler struct {
	svc            *records.Service
	issuer         auth.Issuer
	faculty        *auth.Credentials
	checks         map[string]HealthCheck
	maxUploadBytes int64
}

// New creates a handler. checks are reported by /healthz.
func New(svc *records.Service, issuer auth.Issuer, faculty *auth.Credentials, maxUploadBytes int64, checks map[string]HealthCheck) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 8 << 20
	}
	return &Handler{svc: svc, issuer: issuer, faculty: faculty, checks: checks, maxUploadBytes: maxUploadBytes}
}

// Guards are the middleware chains placed in front of each route group.
type Guards struct {
	// Read guards the per-student read routes.
	Read []gin.HandlerFunc
	// Write guards the routes that change records.
	Write []gin.HandlerFunc
	// Login guards the login and token refresh routes.
	Login []gin.HandlerFunc
}

// Register mounts the API.
func (h *Handler) Register(api gin.IRouter, g Guards) {
	api.POST("/login", chain(g.Login, h.Login)...)
	api.POST("/faculty/login", chain(g.Login, h.FacultyLogin)...)
	api.POST("/token/refresh", chain(g.Login, h.RefreshToken)...)

	r := api.Group("", g.Read...)
	r.GET("/students/:rollNo", h.GetStudent)
	r.GET("/marks/:rollNo", h.GetMarks)
	r.GET("/attendance/:rollNo", h.ListAttendance)

	w := api.Group("", g.Write...)
	w.POST("/students", h.CreateStudent)
	w.POST("/students/import", h.ImportStudents)
	w.PUT("/students/:rollNo/attendance", h.SubmitAttendance)
	w.PUT("/students/:rollNo/marks", h.SubmitMarks)
	w.GET("/attendance/:rollNo/export", h.ExportAttendance)
}

func chain(guards []gin.HandlerFunc, h gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(guards)+1)
	return append(append(out, guards...), h)
}

// Healthz reports the state of every dependency.
func (h *Handler) Healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.checks {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch records.KindOf(err) {
	case records.ErrNotFound:
		status = http.StatusNotFound
	case records.ErrConflict:
		status = http.StatusConflict
	case records.ErrRejected, records.ErrInvalid:
		status = http.StatusBadRequest
	default:
		log.Printf("%s %s: %v", c.Request.Method, c.FullPath(), errors.Cause(err))
	}
	c.JSON(status, gin.H{"message": records.Message(err)})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"message": msg})
}

// ---------- Students ----------

type createStudentRequest struct {
	RollNo string `json:"rollNo"`
	Name   string `json:"name"`
	Class  string `json:"class"`
}

// CreateStudent handles POST /students.
func (h *Handler) CreateStudent(c *gin.Context) {
	var req createStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	st, err := h.svc.CreateStudent(c.Request.Context(), req.RollNo, req.Name, req.Class)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Student added successfully", "student": st})
}

// ImportStudents handles POST /students/import with a multipart "file" field.
func (h *Handler) ImportStudents(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"message": fmt.Sprintf("File too large, limit is %d bytes", tooLarge.Limit)})
			return
		}
		badRequest(c, "file field required")
		return
	}
	defer file.Close()

	report, err := h.svc.ImportStudents(c.Request.Context(), file)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetStudent handles GET /students/:rollNo.
func (h *Handler) GetStudent(c *gin.Context) {
	st, err := h.svc.GetStudent(c.Request.Context(), c.Param("rollNo"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// ---------- Attendance ----------

type attendanceRequest struct {
	Attendance string `json:"attendance"`
}

// SubmitAttendance handles PUT /students/:rollNo/attendance.
func (h *Handler) SubmitAttendance(c *gin.Context) {
	var req attendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	entry, err := h.svc.SubmitAttendance(c.Request.Context(), c.Param("rollNo"), req.Attendance)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Attendance saved successfully!", "attendanceRecord": entry})
}

// ListAttendance handles GET /attendance/:rollNo?startDate&endDate&limit&page.
func (h *Handler) ListAttendance(c *gin.Context) {
	req := records.ListAttendanceRequest{RollNo: c.Param("rollNo")}
	var err error
	if req.Page, err = intQuery(c, "page"); err != nil {
		badRequest(c, "Page must be a positive number")
		return
	}
	if req.PageSize, err = intQuery(c, "limit"); err != nil {
		badRequest(c, "Limit must be a positive number")
		return
	}
	start, end := c.Query("startDate"), c.Query("endDate")
	if start != "" && end != "" {
		loc := h.svc.Location()
		if req.From, err = records.ParseDateBound(start, false, loc); err != nil {
			writeError(c, err)
			return
		}
		if req.To, err = records.ParseDateBound(end, true, loc); err != nil {
			writeError(c, err)
			return
		}
	}

	page, err := h.svc.ListAttendance(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// ExportAttendance handles GET /attendance/:rollNo/export.
func (h *Handler) ExportAttendance(c *gin.Context) {
	rollNo := c.Param("rollNo")
	buf, err := h.svc.ExportAttendance(c.Request.Context(), rollNo)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="attendance-%s.xlsx"`, safeFilename(rollNo)))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// intQuery reads an optional positive integer; absent yields zero.
func intQuery(c *gin.Context, key string) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, errors.Errorf("%s must be positive", key)
	}
	return n, nil
}

func safeFilename(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

// ---------- Marks ----------

type marksRequest struct {
	TotalMarks json.RawMessage `json:"totalMarks"`
	Result     string          `json:"result"`
}

// SubmitMarks handles PUT /students/:rollNo/marks.
func (h *Handler) SubmitMarks(c *gin.Context) {
	var req marksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	total, err := parseTotal(req.TotalMarks)
	if err != nil {
		badRequest(c, "Total marks must be a number")
		return
	}
	entry, err := h.svc.SubmitMarks(c.Request.Context(), c.Param("rollNo"), total, req.Result)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Marks saved successfully!", "marksRecord": entry})
}

// parseTotal accepts a JSON number or a numeric string, as form inputs send either.
func parseTotal(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, errors.New("totalMarks required")
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// GetMarks handles GET /marks/:rollNo.
func (h *Handler) GetMarks(c *gin.Context) {
	sum, err := h.svc.GetMarks(c.Request.Context(), c.Param("rollNo"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// ---------- Login ----------

type loginRequest struct {
	RollNo   string `json:"rollNo"`
	Password string `json:"password"`
}

// Login handles POST /login. Only the roll number is checked. The returned
// student token opens the read routes when they are guarded.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	st, err := h.svc.Login(c.Request.Context(), req.RollNo)
	if err != nil {
		writeError(c, err)
		return
	}
	tokens, err := h.issuer.Issue(st.RollNo, auth.RoleStudent)
	if err != nil {
		log.Printf("issue student token: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Error during login"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Login successful", "student": st, "token": tokens.AccessToken})
}

type facultyLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// FacultyLogin handles POST /faculty/login.
func (h *Handler) FacultyLogin(c *gin.Context) {
	var req facultyLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Username and password are required")
		return
	}
	if h.faculty == nil || h.faculty.Verify(req.Username, req.Password) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid faculty credentials"})
		return
	}
	tokens, err := h.issuer.Issue(req.Username, auth.RoleFaculty)
	if err != nil {
		log.Printf("issue faculty token: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Error during login"})
		return
	}
	c.JSON(http.StatusOK, tokenBody("Login successful", tokens))
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// RefreshToken handles POST /token/refresh.
func (h *Handler) RefreshToken(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Refresh token is required")
		return
	}
	tokens, err := h.issuer.Refresh(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, tokenBody("Token refreshed", tokens))
}

func tokenBody(msg string, tokens auth.TokenPair) gin.H {
	return gin.H{
		"message":      msg,
		"accessToken":  tokens.AccessToken,
		"refreshToken": tokens.RefreshToken,
		"expiresAt":    tokens.AccessExp.Unix(),
	}
}

// RequestTimeout bounds each request's context.
func RequestTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
