package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/petal-labs/orchestrate/dispatch"
	"github.com/petal-labs/orchestrate/tool"
	"github.com/petal-labs/orchestrate/workflow"
)

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Tools ---

type registerToolRequest struct {
	ToolID      string            `json:"tool_id"`
	Path        string            `json:"path"`
	Interpreter string            `json:"interpreter,omitempty"`
	Secrets     map[string]string `json:"secrets,omitempty"`
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	tools, err := s.dispatcher.Registry().List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tools)
}

func (s *Server) handleRegisterTool(w http.ResponseWriter, r *http.Request) {
	var req registerToolRequest
	if err := decodeBody(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	req.ToolID = strings.TrimSpace(req.ToolID)
	req.Path = strings.TrimSpace(req.Path)
	var missing []string
	if req.ToolID == "" {
		missing = append(missing, "tool_id is required")
	}
	if req.Path == "" {
		missing = append(missing, "path is required")
	}
	if len(missing) > 0 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid tool registration", missing...)
		return
	}

	entry := tool.Entry{ID: req.ToolID, Path: req.Path, Interpreter: req.Interpreter, Secrets: req.Secrets}
	registry := s.dispatcher.Registry()
	if err := registry.Register(r.Context(), entry); err != nil {
		if errors.Is(err, tool.ErrToolExists) {
			writeError(w, http.StatusConflict, "CONFLICT", fmt.Sprintf("tool %q is already registered", req.ToolID))
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	stored, err := registry.Resolve(r.Context(), req.ToolID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	s.logger.Info("tool registered", "tool", stored.ID, "path", stored.Path)
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleUnregisterTool(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("tool_id")
	if _, err := s.dispatcher.Registry().Unregister(r.Context(), id); err != nil {
		if errors.Is(err, tool.ErrToolNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("tool %q not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	s.logger.Info("tool unregistered", "tool", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToolActions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("tool_id")
	schema, err := s.dispatcher.Actions(r.Context(), id)
	if err != nil {
		derr, ok := dispatch.AsError(err)
		if !ok {
			writeError(w, http.StatusInternalServerError, "RUNTIME_ERROR", err.Error())
			return
		}
		writeJSON(w, statusForError(derr), failedResult(derr))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tool_id": id,
		"actions": schema,
	})
}

// --- Dispatch ---

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatch.Request
	if err := decodeBody(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	res := s.dispatcher.Dispatch(r.Context(), req)
	status := http.StatusOK
	if !res.OK() {
		status = statusForError(res.Error)
	}
	writeJSON(w, status, res)
}

// --- Workflows ---

type modifyWorkflowRequest struct {
	Steps   []workflow.Step `json:"steps"`
	Replace bool            `json:"replace"`
}

type runWorkflowRequest struct {
	Input any `json:"input"`
}

// runResponse mirrors dispatch.Result and adds the run's identity and trace.
type runResponse struct {
	Status       dispatch.Status       `json:"status"`
	Payload      any                   `json:"payload"`
	ErrorMessage string                `json:"error_message,omitempty"`
	Error        *dispatch.Error       `json:"error,omitempty"`
	RunID        string                `json:"run_id,omitempty"`
	Steps        []workflow.StepRecord `json:"steps,omitempty"`
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	defs, err := s.library.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, defs)
}

func (s *Server) handleAddWorkflow(w http.ResponseWriter, r *http.Request) {
	var def workflow.Definition
	if err := decodeBody(r, &def); err != nil {
		writeDecodeError(w, err)
		return
	}
	added, err := s.library.Add(r.Context(), def)
	if err != nil {
		writeLibraryError(w, def.Name, err)
		return
	}
	s.logger.Info("workflow added", "workflow", added.Name, "steps", len(added.Steps))
	writeJSON(w, http.StatusCreated, added)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	def, err := s.library.Get(r.Context(), name)
	if err != nil {
		writeLibraryError(w, name, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleModifyWorkflow(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req modifyWorkflowRequest
	if err := decodeBody(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	def, err := s.library.Modify(r.Context(), name, req.Steps, req.Replace)
	if err != nil {
		writeLibraryError(w, name, err)
		return
	}
	s.logger.Info("workflow modified", "workflow", def.Name, "replace", req.Replace, "steps", len(def.Steps))
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleRemoveWorkflow(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, err := s.library.Remove(r.Context(), name); err != nil {
		writeLibraryError(w, name, err)
		return
	}
	s.logger.Info("workflow removed", "workflow", name)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req runWorkflowRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeDecodeError(w, err)
		return
	}

	run, err := s.engine.Run(r.Context(), name, req.Input)
	resp := runResponse{Status: dispatch.StatusSuccess}
	if run != nil {
		resp.RunID = run.ID
		resp.Steps = run.Steps
		resp.Payload = run.Output
	}
	if err == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Status = dispatch.StatusError
	resp.Payload = nil
	var stepErr *workflow.StepError
	switch {
	case errors.As(err, &stepErr):
		resp.Error = stepErr.DispatchError()
	default:
		derr, ok := dispatch.AsError(err)
		if !ok {
			writeError(w, http.StatusInternalServerError, "RUNTIME_ERROR", err.Error())
			return
		}
		resp.Error = derr
	}
	resp.ErrorMessage = resp.Error.Error()
	writeJSON(w, statusForError(resp.Error), resp)
}

// --- Helpers ---

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	return dec.Decode(v)
}

func writeDecodeError(w http.ResponseWriter, err error) {
	if isMaxBytesError(err) {
		writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", err.Error())
		return
	}
	if errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "request body is empty")
		return
	}
	writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
}

// isMaxBytesError checks if the error is from http.MaxBytesReader.
func isMaxBytesError(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

func writeLibraryError(w http.ResponseWriter, name string, err error) {
	switch {
	case errors.Is(err, workflow.ErrWorkflowNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("workflow %q not found", name))
	case errors.Is(err, workflow.ErrWorkflowExists):
		writeError(w, http.StatusConflict, "CONFLICT", fmt.Sprintf("workflow %q already exists", name))
	case errors.Is(err, workflow.ErrInvalidWorkflow):
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
	}
}

func failedResult(derr *dispatch.Error) dispatch.Result {
	return dispatch.Result{
		Status:       dispatch.StatusError,
		ErrorMessage: derr.Error(),
		Error:        derr,
	}
}

// statusForError maps a dispatch error code onto an HTTP status.
func statusForError(derr *dispatch.Error) int {
	if derr == nil {
		return http.StatusInternalServerError
	}
	if derr.Code.IsValidation() {
		return http.StatusBadRequest
	}
	switch derr.Code {
	case dispatch.CodeToolNotFound, dispatch.CodeWorkflowNotFound:
		return http.StatusNotFound
	case dispatch.CodeToolUnavailable:
		return http.StatusServiceUnavailable
	case dispatch.CodeSchemaUnavailable:
		return http.StatusBadGateway
	case dispatch.CodeToolExecutionFailed:
		if derr.Variant == dispatch.VariantTimeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case dispatch.CodeWorkflowStepFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
