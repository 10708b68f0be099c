package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/me/dagrun/pkg/model"
)

type submitRunRequest struct {
	Pipeline string         `json:"pipeline"` // pipeline document, YAML
	Inputs   map[string]any `json:"inputs"`
}

type runDetail struct {
	*model.RunRecord
	Steps []*model.StepRecord `json:"steps,omitempty"`
}

func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req submitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: "Invalid JSON body: " + err.Error(),
		})
		return
	}
	if req.Pipeline == "" {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationAPIError("missing required field",
				model.FieldError{Field: "pipeline", Message: "pipeline is required"}))
		return
	}

	g, err := s.parser.Parse([]byte(req.Pipeline))
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest, graphAPIError(err))
		return
	}

	run, err := s.engine.Submit(r.Context(), g, req.Inputs)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest, graphAPIError(err))
		return
	}
	s.trackRun(run)

	s.logger.Info("run created", "run", run.ID, "graph", g.Name)

	rec, err := s.store.GetRun(r.Context(), run.ID)
	if err != nil || rec == nil {
		respondCreated(w, reqID, map[string]any{"id": run.ID})
		return
	}
	respondCreated(w, reqID, rec)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var opts model.ListOptions
	if v := r.URL.Query().Get("limit"); v != "" {
		opts.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		opts.Offset, _ = strconv.Atoi(v)
	}
	opts.Clamp()

	runs, total, err := s.store.ListRuns(r.Context(), opts)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}
	if runs == nil {
		runs = []*model.RunRecord{}
	}

	respondList(w, reqID, runs, &model.Pagination{
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+len(runs) < total,
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	rec, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}
	if rec == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("run", id))
		return
	}

	steps, err := s.store.ListSteps(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}

	respondOK(w, reqID, runDetail{RunRecord: rec, Steps: steps})
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	rec, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}
	if rec == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("run", id))
		return
	}
	if rec.State.IsTerminal() {
		respondError(w, reqID, http.StatusConflict, &model.APIError{
			Code:    model.ErrConflict,
			Message: "run " + id + " is already " + rec.State.String(),
		})
		return
	}

	run := s.liveRun(id)
	if run == nil {
		respondError(w, reqID, http.StatusConflict, &model.APIError{
			Code:    model.ErrConflict,
			Message: "run " + id + " is not executing in this process",
		})
		return
	}

	run.Cancel()
	s.logger.Info("run cancelled", "run", id)
	respondOK(w, reqID, map[string]any{"id": id, "state": model.RunStateCancelled})
}

// graphAPIError maps domain errors onto the API error envelope, carrying
// per-field details where the underlying error has them.
func graphAPIError(err error) *model.APIError {
	var vErr *model.ValidationError
	if errors.As(err, &vErr) {
		details := make([]model.FieldError, len(vErr.Issues))
		for i, is := range vErr.Issues {
			details[i] = model.FieldError{Field: is.Field, Message: string(is.Kind) + ": " + is.Message}
		}
		return model.NewValidationAPIError("workflow failed validation", details...)
	}

	var mErr *model.MalformedGraphError
	if errors.As(err, &mErr) {
		details := make([]model.FieldError, len(mErr.Details))
		for i, d := range mErr.Details {
			details[i] = model.FieldError{Field: d.Field, Message: d.Message}
		}
		return model.NewValidationAPIError("workflow document is malformed", details...)
	}

	var aErr *model.ScatterArityError
	if errors.As(err, &aErr) {
		return model.NewValidationAPIError(aErr.Error())
	}

	return model.NewValidationAPIError(err.Error())
}
