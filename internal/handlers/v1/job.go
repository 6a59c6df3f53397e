package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/trendboard/opportunity-planner/internal/service"
	"go.uber.org/zap"
)

type jobRequest struct {
	JobID uuid.UUID `validate:"job_id"`
}

func (h *ServiceHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		renderError(w, r, http.StatusBadRequest, "invalid job id")
		return
	}
	req := jobRequest{JobID: id}
	if err := h.jobValidator.Struct(req); err != nil {
		renderError(w, r, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := h.jobSrv.GetJob(r.Context(), req.JobID)
	if err != nil {
		switch err.(type) {
		case *service.ErrResourceNotFound:
			renderError(w, r, http.StatusNotFound, "job not found")
		default:
			zap.S().Named("job_handler").Errorw("failed to get job", "job_id", req.JobID, "error", err)
			renderError(w, r, http.StatusInternalServerError, "failed to get job")
		}
		return
	}

	_ = render.Render(w, r, JobToApi(job))
}
