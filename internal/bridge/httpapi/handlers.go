package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/binbridge/binbridge/internal/bridge"
	"github.com/binbridge/binbridge/internal/constants"
	"github.com/binbridge/binbridge/pkg/version"
)

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status     string `json:"status"`
	APIVersion string `json:"api_version"`
	Version    string `json:"version"`
	Session    string `json:"session"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:     "ok",
		APIVersion: constants.APIVersion,
		Version:    version.Version,
		Session:    s.cfg.Dispatcher.Session().ID(),
	})
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("operation")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeEnvelope(w, bridge.Failure(bridge.InvalidArgument("request body exceeds %d bytes", tooLarge.Limit)))
			return
		}
		writeEnvelope(w, bridge.Failure(bridge.InvalidArgument("failed to read body: %v", err)))
		return
	}

	op, err := bridge.ParseOperation(name)
	if err != nil {
		writeEnvelope(w, bridge.Failure(err))
		return
	}

	env := s.cfg.Dispatcher.Do(r.Context(), &bridge.Request{
		ID:        RequestIDFrom(r.Context()),
		Operation: op,
		Params:    RequestParams(r.URL.Query(), body),
		Body:      body,
	})
	writeEnvelope(w, env)
}

// RequestParams merges query parameters with the scalar top-level keys of a
// JSON object body. Query parameters win. Repeated query keys keep the last
// value.
func RequestParams(query url.Values, body []byte) bridge.Params {
	params := bridge.Params{}

	if obj := jsonObject(body); obj != nil {
		for k, v := range obj {
			switch v.(type) {
			case string, json.Number, bool:
				params[k] = v
			}
		}
	}
	for k, vs := range query {
		if len(vs) > 0 {
			params[k] = vs[len(vs)-1]
		}
	}
	return params
}

func jsonObject(body []byte) map[string]any {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil
	}
	return obj
}

// StatusFor maps an error kind onto an HTTP status.
func StatusFor(kind bridge.ErrorKind) int {
	switch kind {
	case bridge.KindUnknownOperation, bridge.KindNotFound:
		return http.StatusNotFound
	case bridge.KindInvalidArgument:
		return http.StatusBadRequest
	case bridge.KindNotReady:
		return http.StatusServiceUnavailable
	case bridge.KindAlreadyTerminated:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func writeEnvelope(w http.ResponseWriter, env bridge.Envelope) {
	status := http.StatusOK
	if !env.OK && env.Error != nil {
		status = StatusFor(env.Error.Kind)
	}
	writeJSON(w, status, env)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
