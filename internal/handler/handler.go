package handler

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	qrpng "github.com/skip2/go-qrcode"

	"absensi/internal/auth"
	"absensi/internal/ledger"
	"absensi/internal/qrcode"
	"absensi/internal/queue"
	"absensi/internal/roster"
	"absensi/internal/verify"
)

// Handler wires the HTTP surface to the services.
type Handler struct {
	roster  *roster.Repository
	resolve *roster.Resolver
	codes   *qrcode.Store
	records *ledger.Repository
	engine  *verify.Engine
	q       queue.Queue

	codeTTL        time.Duration
	oneShotDefault bool
}

// New creates a handler. codeTTL and oneShotDefault come from config and
// apply to issued codes unless the request overrides one_shot.
func New(rosterRepo *roster.Repository, resolver *roster.Resolver, codes *qrcode.Store,
	records *ledger.Repository, engine *verify.Engine, q queue.Queue,
	codeTTL time.Duration, oneShotDefault bool) *Handler {
	return &Handler{
		roster:         rosterRepo,
		resolve:        resolver,
		codes:          codes,
		records:        records,
		engine:         engine,
		q:              q,
		codeTTL:        codeTTL,
		oneShotDefault: oneShotDefault,
	}
}

// ---------- QR issuance (teacher) ----------

type issueRequest struct {
	ClassKey string `json:"class_key" binding:"required"`
	OneShot  *bool  `json:"one_shot"`
}

// IssueQR handles both generate and refresh: the slot write replaces any
// prior descriptor either way.
func (h *Handler) IssueQR(c *gin.Context) {
	var req issueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cls, err := h.roster.GetClass(c.Request.Context(), req.ClassKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "class lookup failed"})
		return
	}
	if cls == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "class not found"})
		return
	}

	oneShot := h.oneShotDefault
	if req.OneShot != nil {
		oneShot = *req.OneShot
	}
	claims := auth.FromContext(c)
	desc, err := h.codes.Issue(c.Request.Context(), qrcode.IssueParams{
		ClassKey:   cls.ID,
		ClassLabel: cls.ClassLabel,
		TrackLabel: cls.TrackLabel,
		IssuerID:   claims.Subject,
		TTL:        h.codeTTL,
		OneShot:    oneShot,
	})
	if err != nil {
		log.Printf("issue code for %s failed: %v", cls.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "code issue failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"qr": desc})
}

// CurrentQR returns the live descriptor for a class.
func (h *Handler) CurrentQR(c *gin.Context) {
	classKey := c.Query("class_key")
	if classKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "class_key required"})
		return
	}
	desc, err := h.codes.GetCurrent(c.Request.Context(), classKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "code lookup failed"})
		return
	}
	if desc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no code found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"qr": desc})
}

// QRImage renders the current code as a PNG for projection or print.
func (h *Handler) QRImage(c *gin.Context) {
	classKey := c.Query("class_key")
	if classKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "class_key required"})
		return
	}
	desc, err := h.codes.GetCurrent(c.Request.Context(), classKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "code lookup failed"})
		return
	}
	if desc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no code found"})
		return
	}
	png, err := qrpng.Encode(desc.Code, qrpng.Medium, 512)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "render failed"})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// ResolveQR finds which class a code or identifier belongs to. Useful when
// a teacher holds a screenshot of a code and needs its owner.
func (h *Handler) ResolveQR(c *gin.Context) {
	id, code := c.Query("id"), c.Query("code")
	if (id == "") == (code == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "exactly one of id or code required"})
		return
	}
	var (
		desc *qrcode.Descriptor
		err  error
	)
	if id != "" {
		desc, err = h.codes.LookupByID(c.Request.Context(), id)
	} else {
		desc, err = h.codes.LookupByCode(c.Request.Context(), code)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "code lookup failed"})
		return
	}
	if desc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no matching code"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"class_key": desc.ClassKey, "qr": desc})
}

// RevokeQR deletes the slot; revoking an absent key still returns 204.
func (h *Handler) RevokeQR(c *gin.Context) {
	classKey := c.Query("class_key")
	if classKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "class_key required"})
		return
	}
	if err := h.codes.Revoke(c.Request.Context(), classKey); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "revoke failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ---------- Scanning (student) ----------

type scanRequest struct {
	Code string `json:"code" binding:"required"`
}

// Scan runs the verification engine for the authenticated student.
func (h *Handler) Scan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims := auth.FromContext(c)

	result, err := h.engine.VerifyAndRecord(c.Request.Context(), req.Code, claims.Subject)
	if err != nil {
		log.Printf("scan by %s failed: %v", claims.Subject, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "attendance check failed"})
		return
	}
	if !result.Accepted() {
		c.JSON(statusForReason(result.Rejection.Reason), gin.H{"rejection": result.Rejection})
		return
	}

	rec := result.Record
	body := fmt.Sprintf("%s|%d-%d-%d", rec.ClassKey, rec.Day, rec.Month, rec.Year)
	if err := h.q.Publish(c.Request.Context(), queue.Message{Type: queue.TypeCommit, Body: []byte(body)}); err != nil {
		log.Printf("queue publish failed: %v", err)
	}

	c.JSON(http.StatusCreated, gin.H{"record": rec, "time": result.DisplayTime})
}

func statusForReason(reason verify.Reason) int {
	switch reason {
	case verify.ReasonBadRequest:
		return http.StatusBadRequest
	case verify.ReasonStudentNotFound, verify.ReasonClassNotFound:
		return http.StatusNotFound
	case verify.ReasonAlreadyMarked:
		return http.StatusConflict
	default: // invalid code, mismatch, expired
		return http.StatusUnprocessableEntity
	}
}

// ---------- Attendance queries ----------

// MyAttendance lists the authenticated student's own records.
func (h *Handler) MyAttendance(c *gin.Context) {
	claims := auth.FromContext(c)
	member, err := h.resolve.Resolve(c.Request.Context(), claims.Subject)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "student data not found"})
		return
	}
	f := filterFromQuery(c)
	f.ClassKey = member.ClassKey
	f.StudentID = claims.Subject
	records, err := h.records.Query(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendance": records})
}

// ClassAttendance lists records for one class, optionally date-filtered.
func (h *Handler) ClassAttendance(c *gin.Context) {
	f := filterFromQuery(c)
	f.ClassKey = c.Param("classKey")
	f.StudentID = c.Query("student_id")
	records, err := h.records.Query(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendance": records})
}

// StudentAttendance lists one student's records for teachers, with the
// roster entry included so the UI needn't re-query.
func (h *Handler) StudentAttendance(c *gin.Context) {
	studentID := c.Param("studentID")
	member, err := h.resolve.Resolve(c.Request.Context(), studentID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
		return
	}
	st, err := h.roster.GetStudent(c.Request.Context(), studentID)
	if err != nil || st == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
		return
	}
	f := filterFromQuery(c)
	f.ClassKey = member.ClassKey
	f.StudentID = studentID
	records, err := h.records.Query(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"student": st, "attendance": records})
}

// Summary tallies per-student status counts for a class.
func (h *Handler) Summary(c *gin.Context) {
	classKey := c.Param("classKey")
	cls, err := h.roster.GetClass(c.Request.Context(), classKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "class lookup failed"})
		return
	}
	if cls == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "class not found"})
		return
	}
	month := intQuery(c, "month")
	year := intQuery(c, "year")
	summary, err := h.records.Summary(c.Request.Context(), classKey, month, year)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"class": cls, "summary": summary})
}

// ---------- Administrative corrections (teacher) ----------

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateRecord changes a record's status, e.g. present to sick.
func (h *Handler) UpdateRecord(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !ledger.ValidStatus(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + req.Status})
		return
	}
	ok, err := h.records.UpdateStatus(c.Request.Context(),
		c.Param("classKey"), c.Param("studentID"), c.Param("recordID"), req.Status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "record updated"})
}

// DeleteRecord removes a record.
func (h *Handler) DeleteRecord(c *gin.Context) {
	ok, err := h.records.Delete(c.Request.Context(),
		c.Param("classKey"), c.Param("studentID"), c.Param("recordID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func filterFromQuery(c *gin.Context) ledger.Filter {
	return ledger.Filter{
		Day:   intQuery(c, "day"),
		Month: intQuery(c, "month"),
		Year:  intQuery(c, "year"),
	}
}

func intQuery(c *gin.Context, key string) int {
	if v := c.Query(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return 0
}
