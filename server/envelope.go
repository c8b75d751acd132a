// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"
)

// Response codes. These are wire constants shared with clients;
// changing them breaks dispatch.
const (
	// CodeOK accompanies any successful response.
	CodeOK = 0

	// CodeBadConfig rejects a malformed or unsupported submission.
	CodeBadConfig = 1001

	// CodeComplete marks a task's terminal payload.
	CodeComplete = 1002

	// CodeNotFinished answers a report request for a task still
	// running.
	CodeNotFinished = 1003

	// CodeNoResult answers a report request for a task that finished
	// without producing a result.
	CodeNoResult = 1004

	// CodeInfraUnavailable signals that the container runtime or
	// another backing service could not be reached.
	CodeInfraUnavailable = 1005

	// CodeInternal is any other server-side failure.
	CodeInternal = 1006
)

// Envelope is the uniform response body.
type Envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func ok(data any) Envelope {
	return Envelope{Code: CodeOK, Message: "success", Data: data}
}

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
