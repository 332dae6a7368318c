package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"SettleLedger/internal/ingestion"
	"SettleLedger/internal/persistence"
	"SettleLedger/internal/query"
)

const maxEnvelopeBytes = 1 << 20

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request, params map[string]string) {
	if s.deps.Records == nil {
		writeError(w, http.StatusNotImplemented, "record lookup not configured")
		return
	}
	id, err := url.PathUnescape(params["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	rec, err := s.deps.Records.GetRecord(r.Context(), params["kind"], id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, rec)
	case errors.Is(err, query.ErrUnknownKind):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, persistence.ErrNotFound):
		writeError(w, http.StatusNotFound, "record not found")
	default:
		s.logger.Error().Err(err).Str("kind", params["kind"]).Str("id", id).Msg("record lookup failed")
		writeError(w, http.StatusInternalServerError, "record lookup failed")
	}
}

type injectResponse struct {
	Accepted    bool   `json:"accepted"`
	InjectionID string `json:"injection_id"`
}

func (s *Server) injectEnvelope(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if s.deps.Injector == nil {
		writeError(w, http.StatusNotImplemented, "envelope injection not configured")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEnvelopeBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	if len(body) > maxEnvelopeBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "envelope too large")
		return
	}

	env, err := ingestion.ParseEnvelope(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.deps.Injector.Inject(r.Context(), env)
	switch {
	case err == nil:
		s.logger.Info().Str("injection_id", id).Str("op", env.Discriminator()).Str("action_id", env.ActionID.String()).Msg("envelope injected")
		writeJSON(w, http.StatusAccepted, injectResponse{Accepted: true, InjectionID: id})
	case errors.Is(err, ingestion.ErrUnroutable):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusServiceUnavailable, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, query.ErrorResponse{Error: msg})
}

var _ EnvelopeInjector = (*ingestion.Injector)(nil)
