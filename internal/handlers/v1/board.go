package v1

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/trendboard/opportunity-planner/internal/service"
	"go.uber.org/zap"
)

type subjectRequest struct {
	SubjectID string `validate:"required,max=255,printascii,subject_id"`
}

func (h *ServiceHandler) GetBoard(w http.ResponseWriter, r *http.Request) {
	logger := zap.S().Named("board_handler").With("operation", "get_board")

	req := subjectRequest{SubjectID: chi.URLParam(r, "subjectID")}
	if err := h.boardValidator.Struct(req); err != nil {
		renderError(w, r, http.StatusBadRequest, "invalid subject id")
		return
	}

	view, err := h.boardSrv.GetBoard(r.Context(), req.SubjectID)
	if err != nil {
		switch err.(type) {
		case *service.ErrInvalidSubject:
			renderError(w, r, http.StatusBadRequest, "invalid subject id")
		default:
			logger.Errorw("failed to read board", "subject_id", req.SubjectID, "error", err)
			renderError(w, r, http.StatusInternalServerError, "failed to read board")
		}
		return
	}

	_ = render.Render(w, r, BoardToApi(view))
}

func (h *ServiceHandler) RegenerateBoard(w http.ResponseWriter, r *http.Request) {
	logger := zap.S().Named("board_handler").With("operation", "regenerate_board")

	req := subjectRequest{SubjectID: chi.URLParam(r, "subjectID")}
	if err := h.boardValidator.Struct(req); err != nil {
		renderError(w, r, http.StatusBadRequest, "invalid subject id")
		return
	}

	result, err := h.boardSrv.Regenerate(r.Context(), req.SubjectID)
	if err != nil {
		switch err.(type) {
		case *service.ErrInvalidSubject:
			renderError(w, r, http.StatusBadRequest, "invalid subject id")
		default:
			logger.Errorw("failed to enqueue regeneration", "subject_id", req.SubjectID, "error", err)
			renderError(w, r, http.StatusInternalServerError, "failed to accept regeneration")
		}
		return
	}

	_ = render.Render(w, r, Accepted{
		Status:        "accepted",
		JobID:         result.JobID,
		PollReference: fmt.Sprintf("%s/%s", JobsPath, result.JobID),
	})
}
