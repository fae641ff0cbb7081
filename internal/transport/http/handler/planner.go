package handler

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"examplanner/internal/app"
	"examplanner/internal/cache"
	"examplanner/internal/planner"
	"examplanner/internal/transport/http/response"
)

type PlannerHandler struct {
	service *app.PlannerService
}

func NewPlannerHandler(service *app.PlannerService) *PlannerHandler {
	return &PlannerHandler{service: service}
}

type registerCoursesRequest struct {
	Courses []planner.CourseInput `json:"courses" binding:"required,min=1"`
}

type linkFilesRequest struct {
	Mappings []planner.LinkInput `json:"mappings" binding:"required,min=1"`
}

type ingestRequest struct {
	MaxPagesPerChunk int  `json:"max_pages_per_chunk"`
	MaxCharsPerChunk int  `json:"max_chars_per_chunk"`
	ForceReprocess   bool `json:"force_reprocess"`
}

type forceRequest struct {
	Force bool `json:"force"`
}

type reviewRequest struct {
	AllowAutoRevision *bool `json:"allow_auto_revision"`
}

type exportRequest struct {
	Overwrite bool `json:"overwrite"`
}

func (h *PlannerHandler) CreateSession(c *gin.Context) {
	state, err := h.service.CreateSession(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, gin.H{
		"session_id": state.SessionID,
		"status":     state.Status,
		"created_at": state.CreatedAt,
	})
}

func (h *PlannerHandler) GetSession(c *gin.Context) {
	state, err := h.service.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, state)
}

func (h *PlannerHandler) ListEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	events, err := h.service.ListEvents(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, gin.H{"events": events})
}

func (h *PlannerHandler) RegisterCourses(c *gin.Context) {
	var req registerCoursesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	courses, err := h.service.RegisterCourses(c.Request.Context(), c.Param("id"), req.Courses)
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, gin.H{"courses": courses})
}

// UploadFiles accepts multipart uploads. Optional form fields course_ids
// (comma separated) and is_shared apply to every file in the request;
// per-file targeting goes through the links endpoint afterwards.
func (h *PlannerHandler) UploadFiles(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid multipart form")
		return
	}
	uploads := form.File["files"]
	if len(uploads) == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "no files provided")
		return
	}

	courseIDs := splitCSV(c.PostForm("course_ids"))
	isShared := strings.EqualFold(c.PostForm("is_shared"), "true")

	tmpDir, err := os.MkdirTemp("", "planner-upload-*")
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "prepare upload failed")
		return
	}
	defer os.RemoveAll(tmpDir)

	inputs := make([]planner.FileInput, 0, len(uploads))
	for _, upload := range uploads {
		dst := filepath.Join(tmpDir, filepath.Base(upload.Filename))
		if err := c.SaveUploadedFile(upload, dst); err != nil {
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "store upload failed")
			return
		}
		inputs = append(inputs, planner.FileInput{
			Path:      dst,
			CourseIDs: courseIDs,
			IsShared:  isShared,
		})
	}

	result, err := h.service.RegisterFiles(c.Request.Context(), c.Param("id"), inputs)
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, result)
}

func (h *PlannerHandler) LinkFiles(c *gin.Context) {
	var req linkFilesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	linked, err := h.service.LinkFiles(c.Request.Context(), c.Param("id"), req.Mappings)
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, gin.H{"linked_files": linked})
}

// RunIngestion accepts optional per-run chunk sizing overrides; zero
// values fall back to the configured defaults.
func (h *PlannerHandler) RunIngestion(c *gin.Context) {
	var req ingestRequest
	_ = c.ShouldBindJSON(&req)
	if req.MaxPagesPerChunk < 0 || req.MaxCharsPerChunk < 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "chunk size overrides must be greater than zero")
		return
	}
	summary, err := h.service.RunIngestion(c.Request.Context(), c.Param("id"), planner.IngestOptions{
		MaxPagesPerChunk: req.MaxPagesPerChunk,
		MaxCharsPerChunk: req.MaxCharsPerChunk,
		ForceReprocess:   req.ForceReprocess,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, summary)
}

func (h *PlannerHandler) RunEstimation(c *gin.Context) {
	var req forceRequest
	_ = c.ShouldBindJSON(&req)
	summary, err := h.service.RunEstimation(c.Request.Context(), c.Param("id"), req.Force)
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, summary)
}

func (h *PlannerHandler) RunPlanning(c *gin.Context) {
	var req forceRequest
	_ = c.ShouldBindJSON(&req)
	summary, err := h.service.RunPlanning(c.Request.Context(), c.Param("id"), req.Force)
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, summary)
}

func (h *PlannerHandler) RunReview(c *gin.Context) {
	var req reviewRequest
	_ = c.ShouldBindJSON(&req)
	allowAutoRevision := true
	if req.AllowAutoRevision != nil {
		allowAutoRevision = *req.AllowAutoRevision
	}
	outcome, err := h.service.RunReview(c.Request.Context(), c.Param("id"), allowAutoRevision)
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, outcome)
}

func (h *PlannerHandler) RunExport(c *gin.Context) {
	var req exportRequest
	_ = c.ShouldBindJSON(&req)
	result, err := h.service.RunExport(c.Request.Context(), c.Param("id"), req.Overwrite)
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, result)
}

func respondError(c *gin.Context, err error) {
	status, code := classifyError(err)
	var stageErr *app.StageError
	if errors.As(err, &stageErr) {
		response.ErrorWithData(c, status, code, err.Error(), gin.H{
			"stage":     stageErr.Stage,
			"retryable": stageErr.Retryable,
		})
		return
	}
	response.Error(c, status, code, err.Error())
}

func classifyError(err error) (httpStatus, code int) {
	switch {
	case errors.Is(err, planner.ErrSessionNotFound):
		return http.StatusNotFound, response.CodeSessionNotFound
	case errors.Is(err, cache.ErrSessionBusy):
		return http.StatusConflict, response.CodeSessionBusy
	case planner.IsValidationError(err):
		return http.StatusBadRequest, response.CodeBadRequest
	case planner.IsResourceError(err), planner.IsPlanningError(err):
		return http.StatusUnprocessableEntity, response.CodeStageFailed
	default:
		return http.StatusInternalServerError, response.CodeInternalServer
	}
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
