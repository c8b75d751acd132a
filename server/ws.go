// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentsphere/redharness/lib/clock"
	"github.com/agentsphere/redharness/telemetry"
)

const wsWriteTimeout = 10 * time.Second

func (a *API) upgrader() websocket.Upgrader {
	up := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if len(a.origins) > 0 {
		allowed := make(map[string]struct{}, len(a.origins))
		for _, origin := range a.origins {
			allowed[origin] = struct{}{}
		}
		up.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, isAllowed := allowed[origin]
			return isAllowed
		}
	}
	return up
}

// handleWS subscribes a websocket client to a task's event streams.
// Unknown tasks get close code 1008 so clients can distinguish "no
// such task" from a transport failure.
func (a *API) handleWS(w http.ResponseWriter, r *http.Request) {
	up := a.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	id := r.PathValue("id")
	task, found := a.hub.Get(id)
	if !found {
		deadline := time.Now().Add(wsWriteTimeout)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Task not found"), deadline)
		_ = conn.Close()
		return
	}

	sub := &wsSubscriber{conn: conn, clk: a.clk}
	task.Subscribe(sub)
	defer func() {
		task.Unsubscribe(sub)
		_ = conn.Close()
	}()
	a.logger.Info("websocket subscriber attached", "task", id)

	// Drain client messages; a read error means the peer went away or
	// the terminal close finished the conversation.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// wsSubscriber adapts a websocket connection to the telemetry
// Subscriber interface. Writes are serialized; a failed write drops
// the subscriber via the hub's error contract.
type wsSubscriber struct {
	conn *websocket.Conn
	clk  clock.Clock

	mu sync.Mutex
}

func (s *wsSubscriber) Send(event telemetry.Event) error {
	env := s.envelope(event)

	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := s.conn.WriteJSON(env); err != nil {
		return err
	}
	if event.Terminal {
		deadline := time.Now().Add(wsWriteTimeout)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "task complete"), deadline)
	}
	return nil
}

func (s *wsSubscriber) envelope(event telemetry.Event) Envelope {
	if event.Terminal {
		completion, _ := event.Payload.(telemetry.Completion)
		data := map[string]any{
			"task_id": event.TaskID,
			"status":  string(completion.Status),
			"result":  completion.Result,
		}
		if completion.Err != "" {
			data["error"] = completion.Err
		}
		return Envelope{Code: CodeComplete, Message: "task complete", Data: data}
	}

	switch event.Stream {
	case telemetry.StreamFrame:
		return ok(framePayload(s.clk, event.Payload))
	default:
		return ok(map[string]any{
			"result":    event.Payload,
			"timestamp": s.clk.Now().UnixMilli(),
		})
	}
}
