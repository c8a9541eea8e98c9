// Package server exposes the karte repository over HTTP for the React
// front end.
package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/ptalab/karte-api/internal/karte"
	"go.uber.org/zap"
)

var errMissingRepository = errors.New("karte repository dependency required")

// Dependencies carries everything the HTTP handler needs.
type Dependencies struct {
	Repository *karte.Repository
	Logger     *zap.Logger
}

// NewHTTPHandler builds the gin router for the student API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Repository == nil {
		return nil, errMissingRepository
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		repository: deps.Repository,
		logger:     logger,
	}

	api := router.Group("/api")
	api.GET("/students", handler.handleListStudents)
	api.GET("/students/:id", handler.handleGetStudent)
	api.POST("/students/:id", handler.handleUpsertStudent)
	api.GET("/students/:id/lesson-memos", handler.handleGetLessonMemos)
	api.POST("/students/:id/lesson-memos", handler.handleSyncLessonMemos)
	api.GET("/students/:id/memo-history", handler.handleGetMemoHistory)
	api.POST("/students/:id/memo-history", handler.handleSyncMemoHistory)

	return router, nil
}

type httpHandler struct {
	repository *karte.Repository
	logger     *zap.Logger
}

func (h *httpHandler) handleListStudents(c *gin.Context) {
	join := false
	switch c.Query("join") {
	case "1", "true":
		join = true
	}

	students, err := h.repository.FindAllStudents(c.Request.Context(), join)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": students})
}

func (h *httpHandler) handleGetStudent(c *gin.Context) {
	student, err := h.repository.FindStudentByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if student == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
		return
	}
	c.JSON(http.StatusOK, student)
}

// handleUpsertStudent merges a partial payload into the stored student, or
// creates the student when no row exists yet.
func (h *httpHandler) handleUpsertStudent(c *gin.Context) {
	studentID := c.Param("id")

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
		return
	}
	patch, err := karte.ParseStudentPatch(body)
	if err != nil {
		h.respondError(c, err)
		return
	}

	existing, err := h.repository.FindStudentByID(c.Request.Context(), studentID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	var student *karte.Student
	if existing == nil {
		student, err = h.repository.CreateStudent(c.Request.Context(), studentID, patch)
	} else {
		student, err = h.repository.UpdateStudent(c.Request.Context(), studentID, patch)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "student": student})
}

func (h *httpHandler) handleGetLessonMemos(c *gin.Context) {
	memos, err := h.repository.LessonMemos(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, memos)
}

func (h *httpHandler) handleSyncLessonMemos(c *gin.Context) {
	h.handleNestedSync(c, "lessonMemos")
}

func (h *httpHandler) handleGetMemoHistory(c *gin.Context) {
	history, err := h.repository.MemoHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *httpHandler) handleSyncMemoHistory(c *gin.Context) {
	h.handleNestedSync(c, "memoHistory")
}

// handleNestedSync routes a full desired nested collection through the
// repository update path, so a missing student surfaces as 404 and the
// response carries the freshly reconciled collection.
func (h *httpHandler) handleNestedSync(c *gin.Context, key string) {
	studentID := c.Param("id")

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
		return
	}
	patch, err := karte.ParseStudentPatch(body)
	if err != nil {
		h.respondError(c, err)
		return
	}

	switch key {
	case "lessonMemos":
		if !patch.HasLessonMemos {
			c.JSON(http.StatusBadRequest, gin.H{"error": "lessonMemos is required"})
			return
		}
	case "memoHistory":
		if !patch.HasMemoHistory {
			c.JSON(http.StatusBadRequest, gin.H{"error": "memoHistory is required"})
			return
		}
	}

	student, err := h.repository.UpdateStudent(c.Request.Context(), studentID, patch)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if key == "lessonMemos" {
		c.JSON(http.StatusOK, student.LessonMemos)
		return
	}
	c.JSON(http.StatusOK, student.MemoHistory)
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	var validation *karte.ValidationError
	if errors.As(err, &validation) {
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error()})
		return
	}

	var notFound *karte.NotFoundError
	if errors.As(err, &notFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
		return
	}

	h.logger.Error("request failed",
		zap.String("path", c.FullPath()),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
