package httpapi

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"schoolbot/internal/attendance"
	"schoolbot/internal/engine"
	"schoolbot/internal/logging"
	"schoolbot/internal/school"
)

const (
	defaultAttendanceLimit = 50
	maxAttendanceLimit     = 500
	// upper bound of a base64 photo accepted with a check-in
	maxImageBase64 = 8 << 20
	maxEventBody   = maxImageBase64 + 64<<10
)

type handlers struct {
	engine     Dispatcher
	attendance AttendanceLog
	log        logging.Logger
}

type eventRequest struct {
	Kind      engine.Kind `json:"kind" binding:"required,oneof=command text callback photo"`
	UserID    int64       `json:"user_id" binding:"required,gt=0"`
	Name      string      `json:"name" binding:"required_if=Kind command"`
	Args      string      `json:"args"`
	Body      string      `json:"body"`
	MessageID string      `json:"message_id"`
	// Image is a base64 photo (optionally a data URL) scanned for a QR code.
	Image string `json:"image"`
}

func (r eventRequest) event() engine.Event {
	switch r.Kind {
	case engine.KindCommand:
		return engine.Command(r.UserID, r.Name, r.Args)
	case engine.KindCallback:
		return engine.Callback(r.UserID, r.Body, r.MessageID)
	case engine.KindPhoto:
		return engine.Photo(r.UserID, r.Body)
	default:
		return engine.Text(r.UserID, r.Body)
	}
}

// chatUserKey charges /v1/events to the chat user named in the body. The body
// is cached so the handler can bind it again.
func chatUserKey(c *gin.Context) string {
	var peek struct {
		UserID int64 `json:"user_id"`
	}
	if err := c.ShouldBindBodyWith(&peek, binding.JSON); err != nil || peek.UserID == 0 {
		return ""
	}
	return "user:" + strconv.FormatInt(peek.UserID, 10)
}

func (h *handlers) postEvent(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ev := req.event()
	if ev.Kind == engine.KindPhoto && req.Image != "" {
		ev.Body = h.scan(req.UserID, req.Image)
	}

	actions, err := h.engine.Handle(c.Request.Context(), ev)
	if err != nil {
		h.log.Warnf("event for user %d abandoned: %v", req.UserID, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request cancelled"})
		return
	}
	if actions == nil {
		actions = []engine.Outbound{}
	}
	c.JSON(http.StatusOK, gin.H{"actions": actions})
}

// scan extracts the QR payload of a photo. An unreadable photo yields an empty
// payload, which the verifier records as invalid.
func (h *handlers) scan(userID int64, image string) string {
	if i := strings.Index(image, ";base64,"); i >= 0 && strings.HasPrefix(image, "data:") {
		image = image[i+len(";base64,"):]
	}
	if len(image) > maxImageBase64 {
		h.log.Warnf("checkin photo from user %d too large", userID)
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(image)
	if err != nil {
		h.log.Infof("checkin photo from user %d is not base64: %v", userID, err)
		return ""
	}
	payload, err := attendance.Scan(raw)
	if err != nil {
		h.log.Infof("checkin photo from user %d: %v", userID, err)
		return ""
	}
	return payload
}

func (h *handlers) groupAttendance(c *gin.Context) {
	code := school.NormalizeGroupCode(c.Param("code"))
	if !school.ValidGroupCode(code) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group code"})
		return
	}
	limit := defaultAttendanceLimit
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(parsed, maxAttendanceLimit)
	}
	records, err := h.attendance.GroupAttendance(c.Request.Context(), code, limit)
	if err != nil {
		h.log.Errorf("attendance list for %s: %v", code, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "attendance unavailable"})
		return
	}
	if records == nil {
		records = []school.AttendanceRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"group": code, "records": records})
}
