// Copyright 2025 James Ross
package intake

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"

	"github.com/flyingrobots/reportgen/internal/config"
	"github.com/flyingrobots/reportgen/internal/docstore"
	"github.com/flyingrobots/reportgen/internal/normalize"
	"github.com/flyingrobots/reportgen/internal/obs"
	"github.com/flyingrobots/reportgen/internal/queue"
	"github.com/flyingrobots/reportgen/internal/reporterr"
)

// Handler holds the collaborators the intake HTTP surface depends on: the
// document store (job/schedule persistence), the queue (job dispatch), and
// configuration (source allowlist, retention).
type Handler struct {
	jobs      docstore.JobStore
	schedules docstore.ScheduleStore
	q         *queue.Queue
	cfg       *config.Config
	validate  *validator.Validate
	log       *zap.Logger
}

func NewHandler(jobs docstore.JobStore, schedules docstore.ScheduleStore, q *queue.Queue, cfg *config.Config, log *zap.Logger) *Handler {
	return &Handler{jobs: jobs, schedules: schedules, q: q, cfg: cfg, validate: validator.New(), log: log}
}

type jobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CreateJob handles POST /v1/jobs.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantIDFrom(r.Context())

	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}
	if err := validateReportFields(req.Format, req.Compression, req.IncludeFormats, req.SourceCollection, req.ReduceSpec, h.cfg.SourceAllowlist); err != nil {
		writeReportErr(w, err)
		return
	}

	now := time.Now().UTC()
	job := &docstore.Job{
		ID:                 bson.NewObjectID(),
		TenantID:           tenantID,
		Status:             docstore.StatusQueued,
		ReportDefinitionID: req.ReportDefinitionID,
		Format:             req.Format,
		Filters:            normalize.SanitizeFilters(req.Filters),
		Timezone:           req.Timezone,
		Locale:             req.Locale,
		Compression:        compressionOf(req.Compression),
		IncludeFormats:     req.IncludeFormats,
		ReduceSpec:         req.ReduceSpec,
		PartitionSpec:      req.PartitionSpec,
		SourceCollection:   req.SourceCollection,
		CreatedAt:          now,
		ExpireAt:           now.AddDate(0, 0, h.cfg.Worker.RetentionDays),
	}

	if err := h.jobs.InsertJob(r.Context(), job); err != nil {
		h.log.Error("failed to insert job", obs.Err(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to create job")
		return
	}

	jobID := job.ID.Hex()
	if err := h.q.Enqueue(r.Context(), queue.Message{ReportJobID: jobID, TenantID: tenantID}); err != nil {
		h.log.Error("failed to enqueue job", obs.Err(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to enqueue job")
		return
	}

	obs.JobsEnqueued.Inc()
	writeJSON(w, http.StatusAccepted, jobResponse{ID: jobID, Status: string(job.Status)})
}

// GetJob handles GET /v1/jobs/{id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantIDFrom(r.Context())
	id := mux.Vars(r)["id"]

	job, err := h.jobs.LoadJob(r.Context(), tenantID, id)
	if err != nil {
		writeReportErr(w, toNotFound(err))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CreateSchedule handles POST /v1/schedules.
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantIDFrom(r.Context())

	var req CreateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}
	if err := validateReportFields(req.Format, req.Compression, req.IncludeFormats, req.SourceCollection, req.ReduceSpec, h.cfg.SourceAllowlist); err != nil {
		writeReportErr(w, err)
		return
	}

	now := time.Now().UTC()
	sched := &docstore.Schedule{
		ID:               bson.NewObjectID(),
		TenantID:         tenantID,
		Name:             req.Name,
		Cron:             req.Cron,
		Timezone:         req.Timezone,
		Enabled:          req.Enabled,
		Format:           req.Format,
		Filters:          normalize.SanitizeFilters(req.Filters),
		ReduceSpec:       req.ReduceSpec,
		PartitionSpec:    req.PartitionSpec,
		IncludeFormats:   req.IncludeFormats,
		Compression:      compressionOf(req.Compression),
		SourceCollection: req.SourceCollection,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if sched.Enabled {
		next, err := computeNextRun(req.Cron, req.Timezone, now)
		if err != nil {
			writeReportErr(w, err)
			return
		}
		sched.NextRunAt = &next
	}

	if err := h.schedules.InsertSchedule(r.Context(), sched); err != nil {
		h.log.Error("failed to insert schedule", obs.Err(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to create schedule")
		return
	}

	writeJSON(w, http.StatusCreated, sched)
}

// ListSchedules handles GET /v1/schedules.
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantIDFrom(r.Context())
	out, err := h.schedules.ListSchedules(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list schedules")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GetSchedule handles GET /v1/schedules/{id}.
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantIDFrom(r.Context())
	id := mux.Vars(r)["id"]

	sched, err := h.schedules.GetSchedule(r.Context(), tenantID, id)
	if err != nil {
		writeReportErr(w, toNotFound(err))
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

// UpdateSchedule handles PUT /v1/schedules/{id}.
func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantIDFrom(r.Context())
	id := mux.Vars(r)["id"]

	existing, err := h.schedules.GetSchedule(r.Context(), tenantID, id)
	if err != nil {
		writeReportErr(w, toNotFound(err))
		return
	}

	var req UpdateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}
	if err := validateReportFields(req.Format, req.Compression, req.IncludeFormats, req.SourceCollection, req.ReduceSpec, h.cfg.SourceAllowlist); err != nil {
		writeReportErr(w, err)
		return
	}

	now := time.Now().UTC()
	existing.Name = req.Name
	existing.Cron = req.Cron
	existing.Timezone = req.Timezone
	existing.Enabled = req.Enabled
	existing.Format = req.Format
	existing.Filters = normalize.SanitizeFilters(req.Filters)
	existing.ReduceSpec = req.ReduceSpec
	existing.PartitionSpec = req.PartitionSpec
	existing.IncludeFormats = req.IncludeFormats
	existing.Compression = compressionOf(req.Compression)
	existing.SourceCollection = req.SourceCollection

	if existing.Enabled {
		next, err := computeNextRun(req.Cron, req.Timezone, now)
		if err != nil {
			writeReportErr(w, err)
			return
		}
		existing.NextRunAt = &next
	} else {
		existing.NextRunAt = nil
	}

	if err := h.schedules.UpdateSchedule(r.Context(), existing); err != nil {
		h.log.Error("failed to update schedule", obs.Err(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to update schedule")
		return
	}

	writeJSON(w, http.StatusOK, existing)
}

// DisableSchedule handles POST /v1/schedules/{id}/disable.
func (h *Handler) DisableSchedule(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantIDFrom(r.Context())
	id := mux.Vars(r)["id"]

	if _, err := h.schedules.GetSchedule(r.Context(), tenantID, id); err != nil {
		writeReportErr(w, toNotFound(err))
		return
	}

	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "malformed schedule id")
		return
	}
	if err := h.schedules.DisableSchedule(r.Context(), oid); err != nil {
		h.log.Error("failed to disable schedule", obs.Err(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to disable schedule")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func toNotFound(err error) error {
	if err == docstore.ErrNotFound {
		return reporterr.New(reporterr.KindNotFound, "resource not found")
	}
	return err
}
