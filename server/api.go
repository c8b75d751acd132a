// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/tidwall/jsonc"

	"github.com/agentsphere/redharness/lib/clock"
	"github.com/agentsphere/redharness/runner"
	"github.com/agentsphere/redharness/telemetry"
)

// ErrInfraUnavailable classifies submission failures caused by
// unreachable backing services (the container runtime, the model
// endpoint). Job factories wrap such errors so the API can answer
// with CodeInfraUnavailable instead of a generic internal error.
var ErrInfraUnavailable = errors.New("infrastructure unavailable")

// ErrBadSubmission classifies submission failures the client caused,
// e.g. naming a dataset that does not exist. The API answers with
// CodeBadConfig.
var ErrBadSubmission = errors.New("bad submission")

// maxSubmissionBytes bounds a multipart submission including the
// extension upload.
const maxSubmissionBytes = 128 << 20

// RunRequest is an accepted evaluation submission.
type RunRequest struct {
	TaskID       string
	Software     string
	Model        string
	Dataset      string
	AttackMethod string

	// MCPConfig is the submission's connector configuration,
	// normalized to plain JSON.
	MCPConfig []byte

	// ExtensionPath is the stored upload, empty when the submission
	// carried none.
	ExtensionPath string
}

// JobFactory builds the blocking evaluation job for an accepted
// submission. An error aborts the submission; wrap with
// ErrInfraUnavailable when a backing service is down.
type JobFactory func(req RunRequest, task *telemetry.Task) (func() (any, error), error)

// API is the HTTP surface over the hub, the result archive, and the
// upload store.
type API struct {
	hub     *telemetry.Hub
	archive *Archive
	uploads *UploadStore
	newJob  JobFactory
	origins []string
	clk     clock.Clock
	logger  *slog.Logger
}

// NewAPI wires the API. allowedOrigins lists origins permitted to open
// websocket subscriptions; empty means same-origin only.
func NewAPI(hub *telemetry.Hub, archive *Archive, uploads *UploadStore, newJob JobFactory, allowedOrigins []string, logger *slog.Logger) *API {
	return &API{
		hub:     hub,
		archive: archive,
		uploads: uploads,
		newJob:  newJob,
		origins: allowedOrigins,
		clk:     clock.Real(),
		logger:  logger,
	}
}

// Handler returns the route table.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/coding-agent/tasks", a.handleSubmit)
	mux.HandleFunc("GET /api/v1/coding-agent/tasks/{id}/frame", a.handleFrame)
	mux.HandleFunc("GET /api/v1/coding-agent/tasks/{id}/report", a.handleReport)
	mux.HandleFunc("GET /api/v1/coding-agent/tasks/{id}/trace", a.handleTrace)
	mux.HandleFunc("GET /ws/{id}", a.handleWS)
	return mux
}

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxSubmissionBytes); err != nil {
		writeEnvelope(w, http.StatusBadRequest, Envelope{Code: CodeBadConfig, Message: "parsing submission: " + err.Error()})
		return
	}

	req := RunRequest{
		Software:     r.FormValue("software"),
		Model:        r.FormValue("llm_name"),
		Dataset:      r.FormValue("dataset_name"),
		AttackMethod: r.FormValue("attack_method_name"),
	}
	if req.Software != "vscode" {
		writeEnvelope(w, http.StatusBadRequest, Envelope{Code: CodeBadConfig, Message: fmt.Sprintf("unsupported software %q", req.Software)})
		return
	}

	if raw := r.FormValue("mcp_server_config"); raw != "" {
		normalized := jsonc.ToJSON([]byte(raw))
		if !json.Valid(normalized) {
			writeEnvelope(w, http.StatusBadRequest, Envelope{Code: CodeBadConfig, Message: "mcp_server_config is not valid JSON"})
			return
		}
		req.MCPConfig = normalized
	}

	if file, _, err := r.FormFile("agent_extension"); err == nil {
		defer file.Close()
		path, err := a.uploads.Put(file)
		if err != nil {
			a.logger.Error("storing extension upload failed", "error", err)
			writeEnvelope(w, http.StatusInternalServerError, Envelope{Code: CodeInternal, Message: "storing extension upload failed"})
			return
		}
		req.ExtensionPath = path
	} else if !errors.Is(err, http.ErrMissingFile) {
		writeEnvelope(w, http.StatusBadRequest, Envelope{Code: CodeBadConfig, Message: "reading agent_extension: " + err.Error()})
		return
	}

	req.TaskID = telemetry.NewTaskID(a.clk)
	task, err := a.hub.Register(req.TaskID)
	if err != nil {
		writeEnvelope(w, http.StatusInternalServerError, Envelope{Code: CodeInternal, Message: err.Error()})
		return
	}
	task.Subscribe(&archiveSub{archive: a.archive, logger: a.logger})

	job, err := a.newJob(req, task)
	if err != nil {
		a.logger.Error("building evaluation job failed", "task", req.TaskID, "error", err)
		if errors.Is(err, ErrInfraUnavailable) {
			writeEnvelope(w, http.StatusServiceUnavailable, Envelope{Code: CodeInfraUnavailable, Message: err.Error()})
			return
		}
		if errors.Is(err, ErrBadSubmission) {
			writeEnvelope(w, http.StatusBadRequest, Envelope{Code: CodeBadConfig, Message: err.Error()})
			return
		}
		writeEnvelope(w, http.StatusInternalServerError, Envelope{Code: CodeInternal, Message: err.Error()})
		return
	}
	if err := a.hub.Run(req.TaskID, job); err != nil {
		writeEnvelope(w, http.StatusInternalServerError, Envelope{Code: CodeInternal, Message: err.Error()})
		return
	}

	a.logger.Info("submission accepted",
		"task", req.TaskID,
		"model", req.Model,
		"dataset", req.Dataset,
		"attack_method", req.AttackMethod)
	writeEnvelope(w, http.StatusOK, ok(map[string]any{
		"task_id":        req.TaskID,
		"frame_endpoint": "/api/v1/coding-agent/tasks/" + req.TaskID + "/frame",
	}))
}

func (a *API) handleFrame(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	task, found := a.hub.Get(id)
	if !found {
		writeEnvelope(w, http.StatusNotFound, Envelope{Code: CodeBadConfig, Message: "task not found"})
		return
	}
	if task.Status().Terminal() {
		writeEnvelope(w, http.StatusOK, Envelope{
			Code:    CodeComplete,
			Message: "task complete",
			Data:    a.completionData(task),
		})
		return
	}
	frame := task.LatestFrame()
	if frame == nil {
		writeEnvelope(w, http.StatusNotFound, Envelope{Code: CodeNotFinished, Message: "no frame available yet"})
		return
	}
	writeEnvelope(w, http.StatusOK, ok(framePayload(a.clk, frame)))
}

// framePayload renders a captured frame as a data URL with a serving
// timestamp in milliseconds.
func framePayload(clk clock.Clock, frame any) map[string]any {
	payload := map[string]any{"timestamp": clk.Now().UnixMilli()}
	if raw, isBytes := frame.([]byte); isBytes {
		payload["frame"] = "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)
	} else {
		payload["frame"] = frame
	}
	return payload
}

func (a *API) completionData(task *telemetry.Task) map[string]any {
	return map[string]any{
		"task_id": task.ID,
		"status":  string(task.Status()),
		"result":  task.Result(),
	}
}

// resolveResult finds a task's result, falling back to the archive for
// tasks from before a restart. The bool reports whether the task is
// known at all.
func (a *API) resolveResult(id string) (*runner.RunResult, telemetry.Status, bool) {
	if task, found := a.hub.Get(id); found {
		result, _ := task.Result().(*runner.RunResult)
		return result, task.Status(), true
	}
	result, err := a.archive.Load(id)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			a.logger.Warn("loading archived result failed", "task", id, "error", err)
		}
		return nil, "", false
	}
	return result, telemetry.StatusFinished, true
}

func (a *API) handleReport(w http.ResponseWriter, r *http.Request) {
	result, status, found := a.resolveResult(r.PathValue("id"))
	if !found {
		writeEnvelope(w, http.StatusNotFound, Envelope{Code: CodeBadConfig, Message: "task not found"})
		return
	}
	if status != telemetry.StatusFinished {
		writeEnvelope(w, http.StatusOK, Envelope{
			Code:    CodeNotFinished,
			Message: fmt.Sprintf("task is %s, report requires finished", status),
		})
		return
	}
	if result == nil {
		writeEnvelope(w, http.StatusOK, Envelope{Code: CodeNoResult, Message: "task finished without a result"})
		return
	}
	writeEnvelope(w, http.StatusOK, ok(map[string]any{
		"status": result.Status,
		"scores": result.Scores,
		"stats":  result.Stats,
		"config": result.Config,
		"model_info": map[string]string{
			"model":          result.Config.Model,
			"model_base_url": result.Config.ModelBaseURL,
		},
	}))
}

func (a *API) handleTrace(w http.ResponseWriter, r *http.Request) {
	result, status, found := a.resolveResult(r.PathValue("id"))
	if !found {
		writeEnvelope(w, http.StatusNotFound, Envelope{Code: CodeBadConfig, Message: "task not found"})
		return
	}
	if status != telemetry.StatusFinished {
		writeEnvelope(w, http.StatusOK, Envelope{
			Code:    CodeNotFinished,
			Message: fmt.Sprintf("task is %s, trace requires finished", status),
		})
		return
	}
	if result == nil {
		writeEnvelope(w, http.StatusOK, Envelope{Code: CodeNoResult, Message: "task finished without a result"})
		return
	}
	writeEnvelope(w, http.StatusOK, ok(map[string]any{
		"samples":       result.Samples,
		"total_samples": len(result.Samples),
	}))
}

// archiveSub persists the terminal result as soon as it is broadcast,
// so report and trace survive a server restart.
type archiveSub struct {
	archive *Archive
	logger  *slog.Logger
}

func (s *archiveSub) Send(event telemetry.Event) error {
	if !event.Terminal {
		return nil
	}
	completion, isCompletion := event.Payload.(telemetry.Completion)
	if !isCompletion {
		return nil
	}
	result, isResult := completion.Result.(*runner.RunResult)
	if !isResult || result == nil {
		return nil
	}
	if err := s.archive.Store(event.TaskID, result); err != nil {
		s.logger.Error("archiving result failed", "task", event.TaskID, "error", err)
		return nil
	}
	s.logger.Info("result archived", "task", event.TaskID)
	return nil
}
