package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"lnprobe/internal/apperr"
	"lnprobe/internal/infra/metrics"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, logger zerolog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error().Err(err).Msg("json encode failed")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, endpoint string, err error) {
	ae := apperr.As(err)
	metrics.APIErrorsTotal.WithLabelValues(endpoint, ae.Message).Inc()
	if ae.Category == apperr.CategoryFatal {
		h.logger.Error().Err(err).Str("endpoint", endpoint).Msg("request failed")
	}
	writeJSON(w, h.logger, ae.Code, errResponse{Error: newErrorDTO(ae)})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Invalid("ExpectedRequestBody", err)
		}
		return apperr.Invalid("ExpectedValidJSONBody", err)
	}
	return nil
}
