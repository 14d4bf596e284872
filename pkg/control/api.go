package control

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/small-frappuccino/tgperms/pkg/errutil"
	"github.com/small-frappuccino/tgperms/pkg/log"
	"github.com/small-frappuccino/tgperms/pkg/permissions"
	"github.com/small-frappuccino/tgperms/pkg/reconcile"
)

// UpdateRequest changes one permission.
type UpdateRequest struct {
	Setting string `json:"setting" jsonschema:"required,description=Bot API permission field name"`
	Value   bool   `json:"value" jsonschema:"required"`
}

// BulkUpdateRequest changes exactly the listed permissions.
type BulkUpdateRequest struct {
	Settings map[string]bool `json:"settings" jsonschema:"required,minProperties=1"`
}

// Response is the body of every JSON API reply.
type Response struct {
	Success     bool            `json:"success"`
	Settings    map[string]bool `json:"settings,omitempty"`
	Error       string          `json:"error,omitempty"`
	Code        errutil.Code    `json:"code,omitempty"`
	Message     string          `json:"message,omitempty"`
	State       string          `json:"state,omitempty"`
	OperationID string          `json:"operation_id,omitempty"`
}

func failure(code errutil.Code, msg string) Response {
	return Response{Success: false, Error: msg, Code: code}
}

func fromOutcome(out reconcile.Outcome, okMessage string) Response {
	resp := Response{
		Success:     out.Success(),
		Settings:    out.Settings.Map(),
		State:       out.State.String(),
		OperationID: out.OperationID,
	}
	if out.Err != nil {
		resp.Error = out.Message()
		resp.Code = out.Code
		resp.Message = out.Code.Hint()
		return resp
	}
	resp.Message = okMessage
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.ApplicationLogger().Error("Failed to encode control response", "err", err)
	}
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{
		Success:  true,
		Settings: s.deps.Reconciler.Store().Get().Map(),
	})
}

type updatePayload struct {
	Setting string          `json:"setting"`
	Value   json.RawMessage `json:"value"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var p updatePayload
	if err := decodeBody(r, &p); err != nil {
		writeError(w, err)
		return
	}
	if p.Setting == "" {
		writeJSON(w, http.StatusBadRequest, failure(errutil.CodeInvalidRequest, "setting is required"))
		return
	}
	value, err := decodeBool(p.Value)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, failure(errutil.CodeInvalidRequest, fmt.Sprintf("value: %v", err)))
		return
	}

	store := s.deps.Reconciler.Store()
	key, err := store.KeySet().Lookup(p.Setting)
	if err != nil {
		s.rejectField(w, err)
		return
	}

	ctx, cancel := s.operationContext(r)
	defer cancel()
	out := s.deps.Reconciler.UpdateField(ctx, key, value)
	writeJSON(w, http.StatusOK, fromOutcome(out, fmt.Sprintf("%s set to %t", key, value)))
}

type bulkPayload struct {
	Settings map[string]json.RawMessage `json:"settings"`
}

func (s *Server) handleUpdateAll(w http.ResponseWriter, r *http.Request) {
	var p bulkPayload
	if err := decodeBody(r, &p); err != nil {
		writeError(w, err)
		return
	}
	if len(p.Settings) == 0 {
		writeJSON(w, http.StatusBadRequest, failure(errutil.CodeInvalidRequest, "settings must contain at least one field"))
		return
	}

	ks := s.deps.Reconciler.Store().KeySet()
	values := make(map[permissions.Key]bool, len(p.Settings))
	for name, raw := range p.Settings {
		key, err := ks.Lookup(name)
		if err != nil {
			s.rejectField(w, err)
			return
		}
		v, err := decodeBool(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, failure(errutil.CodeInvalidRequest, fmt.Sprintf("field %s: %v", name, err)))
			return
		}
		values[key] = v
	}

	ctx, cancel := s.operationContext(r)
	defer cancel()
	out := s.deps.Reconciler.UpdateFields(ctx, values)
	writeJSON(w, http.StatusOK, fromOutcome(out, fmt.Sprintf("%d settings updated", len(values))))
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.operationContext(r)
	defer cancel()
	out := s.deps.Reconciler.Sync(ctx)
	writeJSON(w, http.StatusOK, fromOutcome(out, "Settings synced"))
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.operationContext(r)
	defer cancel()
	out := s.deps.Reconciler.ApplyAll(ctx)
	writeJSON(w, http.StatusOK, fromOutcome(out, "Settings applied"))
}

// rejectField answers an unknown field with the unchanged record.
func (s *Server) rejectField(w http.ResponseWriter, err error) {
	code := errutil.Classify(err)
	writeJSON(w, http.StatusOK, Response{
		Success:  false,
		Settings: s.deps.Reconciler.Store().Get().Map(),
		Error:    err.Error(),
		Code:     code,
		Message:  code.Hint(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	store := s.deps.Reconciler.Store()
	body := map[string]any{
		"status": "ok",
		"state":  s.deps.Reconciler.State().String(),
		"synced": !store.LastSynced().IsZero(),
	}
	writeJSON(w, http.StatusOK, body)
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return badRequest(errors.New("empty body"))
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &httpError{code: http.StatusRequestEntityTooLarge, err: err}
		}
		return badRequest(fmt.Errorf("invalid payload: %w", err))
	}
	return nil
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var httpErr *httpError
	if errors.As(err, &httpErr) {
		status = httpErr.code
	}
	writeJSON(w, status, failure(errutil.CodeInvalidRequest, err.Error()))
}

func badRequest(err error) error {
	return &httpError{
		code: http.StatusBadRequest,
		err:  err,
	}
}

type httpError struct {
	code int
	err  error
}

func (e *httpError) Error() string { return e.err.Error() }
func (e *httpError) Unwrap() error { return e.err }

// decodeBool accepts only JSON true or false.
func decodeBool(raw json.RawMessage) (bool, error) {
	if len(raw) == 0 {
		return false, fmt.Errorf("missing bool value")
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return false, fmt.Errorf("null is not a bool")
	}

	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, err
	}
	return v, nil
}
