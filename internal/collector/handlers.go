package collector

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/spherical/render-driver/internal/report"
	"github.com/spherical/render-driver/internal/surface"
)

// SubmitResponseDTO is the body answered to an accepted submission
type SubmitResponseDTO struct {
	ID         string     `json:"id"`
	Comparison Comparison `json:"comparison,omitempty"`
	Attempts   int        `json:"attempts"`
}

// handleSubmit handles POST /submit_task_results. Any non-200 answer makes
// the driver resend the same body, so a body that can be keyed is stored even
// when it is unusable, as a failed result. Only an unkeyable body is a client
// error; a failed write or store asks for the resend.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, truncated, err := readBody(r.Body, s.opts.MaxBodyBytes)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body", err.Error())
		return
	}

	var p report.Payload
	var rejected string
	switch {
	case truncated:
		p = decodeIdentity(body)
		rejected = collectorFailure(p.Failure, "submission exceeds %d bytes", s.opts.MaxBodyBytes)
	default:
		if err := json.Unmarshal(body, &p); err != nil {
			p = decodeIdentity(body)
			rejected = collectorFailure(p.Failure, "invalid request body: %v", err)
		}
	}
	if !keyed(p) {
		s.writeError(w, http.StatusBadRequest, "browser, id and a non-negative round and page are required", rejected)
		return
	}
	if rejected != "" {
		p.Failure = rejected
		p.Snapshot = ""
	}

	res := &Result{
		Browser:  p.Browser,
		TaskID:   p.ID,
		File:     p.File,
		Round:    p.Round,
		Page:     p.Page,
		NumPages: p.NumPages,
		Failure:  p.Failure,
	}

	logger := s.logger.WithTask(p.ID)

	var snapshot []byte
	if p.Snapshot != "" {
		data, err := surface.DecodeDataURL(p.Snapshot)
		if err != nil {
			logger.Warn().Err(err).Int("page", p.Page).Msg("Invalid snapshot")
			res.Failure = collectorFailure(res.Failure, "invalid snapshot: %v", err)
		}
		snapshot = data
	}

	if len(snapshot) > 0 {
		path, err := s.snapshots.Write(p.Browser, p.ID, p.Round, p.Page, snapshot)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to write snapshot")
			s.writeError(w, http.StatusInternalServerError, "snapshot write failed", err.Error())
			return
		}
		res.SnapshotPath = path

		cmp, err := s.snapshots.Compare(p.Browser, p.ID, p.Round, p.Page, snapshot)
		if err != nil {
			logger.Warn().Err(err).Int("page", p.Page).Msg("Reference comparison failed")
		}
		res.Comparison = cmp
	}

	if err := s.store.UpsertResult(ctx, res); err != nil {
		logger.Error().Err(err).Msg("Failed to store result")
		s.writeError(w, http.StatusInternalServerError, "store failed", err.Error())
		return
	}

	if s.publisher != nil {
		event := ResultEvent{
			Browser:    res.Browser,
			TaskID:     res.TaskID,
			Round:      res.Round,
			Page:       res.Page,
			Failure:    res.Failure,
			Comparison: res.Comparison,
			Attempts:   res.Attempts,
		}
		if err := s.publisher.Publish(ctx, event); err != nil {
			logger.Warn().Err(err).Msg("Failed to publish result")
		}
	}

	evt := logger.Info()
	if res.Failure != "" {
		evt = logger.Warn().Str("failure", res.Failure)
	}
	evt.Str("browser", res.Browser).
		Int("round", res.Round).
		Int("page", res.Page).
		Str("comparison", string(res.Comparison)).
		Int("attempts", res.Attempts).
		Msg("Result stored")

	s.writeJSON(w, http.StatusOK, SubmitResponseDTO{
		ID:         res.ID.String(),
		Comparison: res.Comparison,
		Attempts:   res.Attempts,
	})
}

// handleQuit handles POST /tellMeToQuit?path=
func (s *Server) handleQuit(w http.ResponseWriter, r *http.Request) {
	appPath := r.URL.Query().Get("path")

	if err := s.store.RecordQuit(r.Context(), appPath); err != nil {
		s.logger.Error().Err(err).Msg("Failed to record quit request")
		s.writeError(w, http.StatusInternalServerError, "store failed", err.Error())
		return
	}

	s.logger.Info().Str("app_path", appPath).Bool("exit", s.opts.ExitOnQuit).Msg("Quit requested")
	w.WriteHeader(http.StatusOK)

	if s.opts.ExitOnQuit {
		s.requestStop()
	}
}

// handleSummaries handles GET /results
func (s *Server) handleSummaries(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.store.Summaries(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "query failed", err.Error())
		return
	}
	if summaries == nil {
		summaries = []Summary{}
	}
	s.writeJSON(w, http.StatusOK, summaries)
}

// handleResults handles GET /results/{browser}
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.store.ListResults(r.Context(), chi.URLParam(r, "browser"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "query failed", err.Error())
		return
	}
	if results == nil {
		results = []*Result{}
	}
	s.writeJSON(w, http.StatusOK, results)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message, detail string) {
	resp := map[string]string{
		"error":   message,
		"message": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	s.writeJSON(w, status, resp)
}
