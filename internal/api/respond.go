package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sells-group/strategy-cli/internal/apperr"
	"github.com/sells-group/strategy-cli/internal/metrics"
)

// errorBody is the JSON shape of every failed response.
type errorBody struct {
	Code     apperr.Kind `json:"code"`
	Message  string      `json:"message"`
	Field    string      `json:"field,omitempty"`
	Current  string      `json:"current,omitempty"`
	Required []string    `json:"required,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}

// writeError maps err onto the workflow status table. entity labels the
// rejection metric.
func writeError(w http.ResponseWriter, r *http.Request, entity string, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	body := errorBody{Code: kind, Message: err.Error()}

	var te *apperr.TransitionError
	var ve *apperr.ValidationError
	switch {
	case errors.As(err, &te):
		body.Current = te.Current
		body.Required = te.Required
	case errors.As(err, &ve):
		body.Field = ve.Field
		body.Message = ve.Reason
	}

	log := zap.L().With(
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("kind", string(kind)),
	)
	switch {
	case kind == apperr.KindNotFound:
		// Clients poll until the entity exists.
		log.Debug("api: not yet created")
	case status >= http.StatusInternalServerError:
		log.Error("api: request failed", zap.Error(err))
		body.Message = http.StatusText(status)
		if kind == apperr.KindExternal || kind == apperr.KindNetwork {
			body.Message = err.Error()
		}
	default:
		metrics.Rejections.WithLabelValues(entity, string(kind)).Inc()
		log.Info("api: command rejected", zap.Error(err))
	}
	writeJSON(w, status, body)
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return apperr.Invalid("body", "malformed JSON: "+err.Error())
}

// validationError converts validator output into the taxonomy.
func validationError(err error) error {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		f := ve[0]
		return apperr.Invalid(f.Field(), "failed "+f.Tag()+" check")
	}
	return apperr.Invalid("", err.Error())
}

func parseInt(value, name string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, apperr.Invalid(name, "must be an integer")
	}
	return n, nil
}

func boolQuery(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}
