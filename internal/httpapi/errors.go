package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"gatekeepr.org/internal/apperr"
	"gatekeepr.org/internal/audit"
	"gatekeepr.org/internal/obs"
)

const maxBodyBytes = 1 << 20

var statusByCode = map[string]int{
	"validation":      http.StatusBadRequest,
	"unauthenticated": http.StatusUnauthorized,
	"not_permitted":   http.StatusForbidden,
	"not_found":       http.StatusNotFound,
	"conflict":        http.StatusConflict,
	"invalid_state":   http.StatusConflict,
	"internal":        http.StatusInternalServerError,
}

// handleServiceError renders a service error. Internal failures are logged and
// reported without detail; permission failures never say why.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.Code(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	msg := err.Error()
	switch code {
	case "not_permitted":
		msg = apperr.ErrNotPermitted.Error()
	case "unauthenticated":
		msg = apperr.ErrUnauthenticated.Error()
	case "internal":
		obs.Error(r.Context(), "request_failed", "method", r.Method, "path", r.URL.Path, "error", err.Error())
		msg = "internal error"
	}
	writeError(w, r, status, code, msg)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	payload := map[string]any{
		"error": msg,
		"code":  code,
	}
	if rid := obs.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, status, payload)
}

func badRequest(w http.ResponseWriter, r *http.Request, format string, args ...any) {
	writeError(w, r, http.StatusBadRequest, "validation", fmt.Sprintf(format, args...))
}

type message struct {
	ID      int64  `json:"id,omitempty"`
	Message string `json:"message"`
	Count   *int   `json:"count,omitempty"`
	Failed  *int   `json:"failed,omitempty"`
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, message{Message: msg})
}

func writeCreated(w http.ResponseWriter, id int64, msg string) {
	writeJSON(w, http.StatusCreated, message{ID: id, Message: msg})
}

func writeCount(w http.ResponseWriter, msg string, count int) {
	writeJSON(w, http.StatusOK, message{Message: msg, Count: &count})
}

// decodeJSON reads exactly one JSON object, rejecting unknown fields and trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be omitted.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return decodeJSON(w, r, dst)
}

// bind decodes the body and writes the 400 itself; callers return on false.
func bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, dst); err != nil {
		badRequest(w, r, "invalid request body: %s", err.Error())
		return false
	}
	return true
}

// pathID parses a positive integer route parameter and writes the 400 itself.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, r, "invalid %s %q", name, raw)
		return 0, false
	}
	return id, true
}

func queryID(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", apperr.ErrValidation, name, raw)
	}
	return id, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q", apperr.ErrValidation, name, raw)
	}
	return v, nil
}

func queryBool(r *http.Request, name string) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: invalid %s %q", apperr.ErrValidation, name, raw)
	}
	return v, nil
}

// queryTime accepts RFC 3339 or a bare date. A bare date used as an upper bound
// covers the whole day.
func queryTime(r *http.Request, upper bool, names ...string) (*time.Time, error) {
	for _, name := range names {
		raw := strings.TrimSpace(r.URL.Query().Get(name))
		if raw == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
		t, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid %s %q", apperr.ErrValidation, name, raw)
		}
		if upper {
			t = audit.EndOfDay(t)
		}
		return &t, nil
	}
	return nil, nil
}
