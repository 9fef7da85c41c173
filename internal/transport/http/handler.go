package httptransport

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"video-compiler-service/internal/auth"
	"video-compiler-service/internal/entity"
	"video-compiler-service/internal/service"
)

type Handler struct {
	jobSvc *service.JobService
}

func NewHandler(jobSvc *service.JobService) *Handler {
	return &Handler{jobSvc: jobSvc}
}

type createJobDTO struct {
	JobType   string `json:"job_type" example:"daily"`
	MaxFrames int    `json:"max_frames" example:"50"`
	FPS       int    `json:"fps" example:"10"`
	Local     bool   `json:"local,omitempty"`
}

type createJobResp struct {
	JobID string `json:"job_id"`
}

// CreateJob godoc
// @Summary Create a compilation video job
// @Description Selects approved drawings oldest first, dispatches the render and returns immediately.
// @Tags video-jobs
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createJobDTO true "job parameters (0 selects the default)"
// @Success 201 {object} createJobResp
// @Failure 400 {object} apiError
// @Failure 401 {object} apiError
// @Failure 403 {object} apiError
// @Failure 422 {object} apiError
// @Failure 502 {object} apiError
// @Router /video-jobs [post]
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var dto createJobDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	id, err := h.jobSvc.CreateJob(r.Context(), caller(r), service.CreateJobRequest{
		JobType:   dto.JobType,
		MaxFrames: dto.MaxFrames,
		FPS:       dto.FPS,
		Local:     dto.Local,
	})
	if err != nil {
		writeAppErr(w, err, id)
		return
	}

	writeJSON(w, http.StatusCreated, createJobResp{JobID: id.String()})
}

// GetJob godoc
// @Summary Get job by id
// @Description Refreshes an active job from the rendering backend once before returning it.
// @Tags video-jobs
// @Produce json
// @Security BearerAuth
// @Param id path string true "job id (uuid)"
// @Success 200 {object} entity.VideoJob
// @Failure 400 {object} apiError
// @Failure 403 {object} apiError
// @Failure 404 {object} apiError
// @Router /video-jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	j, err := h.jobSvc.GetJob(r.Context(), caller(r), id)
	if err != nil {
		writeAppErr(w, err, uuid.Nil)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// CancelJob godoc
// @Summary Cancel a job
// @Description Asks the rendering backend to stop and marks the job failed locally.
// @Tags video-jobs
// @Produce json
// @Security BearerAuth
// @Param id path string true "job id (uuid)"
// @Success 200 {object} entity.VideoJob
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /video-jobs/{id}/cancel [post]
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	j, err := h.jobSvc.CancelJob(r.Context(), caller(r), id)
	if err != nil {
		writeAppErr(w, err, uuid.Nil)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// ListJobs godoc
// @Summary List recent jobs
// @Tags video-jobs
// @Produce json
// @Security BearerAuth
// @Param limit query int false "max jobs (default 20, at most 100)"
// @Success 200 {array} entity.VideoJob
// @Router /video-jobs [get]
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := h.jobSvc.ListJobs(r.Context(), caller(r), limit)
	if err != nil {
		writeAppErr(w, err, uuid.Nil)
		return
	}
	if jobs == nil {
		jobs = []*entity.VideoJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// GenerationStatus godoc
// @Summary Legacy counter of the last local render
// @Tags video-jobs
// @Produce json
// @Security BearerAuth
// @Success 200 {object} entity.GenerationStatus
// @Router /video-generation-status [get]
func (h *Handler) GenerationStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.jobSvc.GenerationStatus(r.Context(), caller(r))
	if err != nil {
		writeAppErr(w, err, uuid.Nil)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

// caller is the authenticated user, or the zero Caller which the service
// rejects as unauthorized.
func caller(r *http.Request) auth.Caller {
	c, _ := auth.CallerFrom(r.Context())
	return c
}
