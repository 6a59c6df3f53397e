package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/trendboard/opportunity-planner/internal/handlers/validator"
	"github.com/trendboard/opportunity-planner/internal/service"
	"github.com/trendboard/opportunity-planner/pkg/requestid"
)

const (
	BasePath = "/api/v1"
	JobsPath = BasePath + "/jobs"
)

type ServiceHandler struct {
	boardSrv       *service.BoardService
	jobSrv         *service.JobService
	boardValidator *validator.Validator
	jobValidator   *validator.Validator
}

func NewServiceHandler(boardSrv *service.BoardService, jobSrv *service.JobService) *ServiceHandler {
	return &ServiceHandler{
		boardSrv:       boardSrv,
		jobSrv:         jobSrv,
		boardValidator: validator.NewValidator().Register(validator.NewBoardValidationRules()...),
		jobValidator:   validator.NewValidator().Register(validator.NewJobValidationRules()...),
	}
}

// Routes mounts the public API on router.
func (h *ServiceHandler) Routes(router chi.Router) {
	router.Get("/health", h.Health)
	router.Route(BasePath, func(r chi.Router) {
		r.Get("/subjects/{subjectID}/board", h.GetBoard)
		r.Post("/subjects/{subjectID}/board/regenerate", h.RegenerateBoard)
		r.Get("/jobs/{jobID}", h.GetJob)
	})
}

func (h *ServiceHandler) Health(w http.ResponseWriter, r *http.Request) {
	_ = render.Render(w, r, Health{Status: "ok"})
}

func renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	_ = render.Render(w, r, Error{Message: message, RequestID: requestid.FromContext(r.Context()), status: status})
}
