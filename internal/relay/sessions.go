package relay

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SessionAPI serves the class session lifecycle endpoints the live client
// calls when a host starts and ends a class.
type SessionAPI struct {
	store *Store
	log   *logrus.Entry
}

func NewSessionAPI(store *Store, log *logrus.Entry) *SessionAPI {
	return &SessionAPI{store: store, log: log}
}

type endSessionRequest struct {
	SessionID    string `json:"sessionId" binding:"required"`
	RecordingURL string `json:"recordingUrl"`
}

// StartSession creates a session record for the classroom and returns its id.
func (a *SessionAPI) StartSession(c *gin.Context) {
	classroomID := c.Param("id")
	if classroomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "classroom id is required"})
		return
	}

	rec := &SessionRecord{
		ID:          uuid.New().String(),
		ClassroomID: classroomID,
		StartedAt:   time.Now(),
	}
	if err := a.store.SaveSession(c.Request.Context(), rec); err != nil {
		a.log.WithError(err).Error("save session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start session"})
		return
	}

	a.log.WithFields(logrus.Fields{"classroom": classroomID, "session": rec.ID}).Info("session started")
	c.JSON(http.StatusCreated, gin.H{"session": gin.H{"id": rec.ID}})
}

// EndSession finalizes a session, attaching the recording URL when provided.
func (a *SessionAPI) EndSession(c *gin.Context) {
	classroomID := c.Param("id")

	var req endSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := a.store.GetSession(c.Request.Context(), classroomID, req.SessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	now := time.Now()
	rec.EndedAt = &now
	rec.RecordingURL = req.RecordingURL
	if err := a.store.SaveSession(c.Request.Context(), rec); err != nil {
		a.log.WithError(err).Error("save session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to end session"})
		return
	}

	a.log.WithFields(logrus.Fields{"classroom": classroomID, "session": rec.ID}).Info("session ended")
	c.JSON(http.StatusOK, gin.H{"message": "session ended"})
}
