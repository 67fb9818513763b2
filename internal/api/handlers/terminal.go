// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wingedpig/burrow/internal/container"
	"github.com/wingedpig/burrow/internal/env"
	"github.com/wingedpig/burrow/internal/store"
	"github.com/wingedpig/burrow/internal/terminal"
)

var errContainerRuntimeUnavailable = errors.New("container runtime unavailable")

// terminalMessage is one frame from the terminal frontend.
type terminalMessage struct {
	Type string `json:"type"`
	Data string `json:"data"`
	Rows int    `json:"rows"`
	Cols int    `json:"cols"`
}

// TerminalHandler bridges WebSocket connections to terminal sessions.
type TerminalHandler struct {
	envs   *env.Manager
	terms  *terminal.Manager
	execer terminal.ContainerExecer // nil when no container runtime is reachable

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewTerminalHandler creates a new terminal handler.
func NewTerminalHandler(envs *env.Manager, terms *terminal.Manager, execer terminal.ContainerExecer) *TerminalHandler {
	return &TerminalHandler{
		envs:   envs,
		terms:  terms,
		execer: execer,
		conns:  make(map[*websocket.Conn]struct{}),
	}
}

func (h *TerminalHandler) trackConn(conn *websocket.Conn) {
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()
}

func (h *TerminalHandler) untrackConn(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
}

// Shutdown closes all active WebSocket connections to allow graceful server
// shutdown.
func (h *TerminalHandler) Shutdown() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	if len(conns) > 0 {
		log.Printf("terminal handler: closing %d active WebSocket connections", len(conns))
	}

	for _, conn := range conns {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
	}
}

// WebSocket attaches a terminal to a persisted session record. The saved
// scrollback is replayed first, then live I/O is bridged until either side
// closes.
func (h *TerminalHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		http.Error(w, "session parameter required", http.StatusBadRequest)
		return
	}
	cols := queryInt(r, "cols", 80)
	rows := queryInt(r, "rows", 24)

	session, err := h.envs.Session(sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	envRecord, err := h.envs.Get(session.EnvironmentID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("terminal websocket: upgrade failed: %v", err)
		return
	}
	h.trackConn(conn)
	defer func() {
		h.untrackConn(conn)
		conn.Close()
	}()

	// Replay saved scrollback before any live output.
	if saved, err := h.envs.ReadSessionBuffer(sessionID); err == nil && len(saved) > 0 {
		conn.WriteMessage(websocket.BinaryMessage, saved)
	}

	// A re-attach supersedes any terminal still running for this record.
	h.terms.Close(sessionID)

	if err := h.createTerminal(sessionID, envRecord, cols, rows); err != nil {
		conn.WriteMessage(websocket.TextMessage, []byte("Error: "+err.Error()+"\r\n"))
		return
	}
	if err := h.terms.Start(r.Context(), sessionID); err != nil {
		h.terms.Close(sessionID)
		conn.WriteMessage(websocket.TextMessage, []byte("Error: "+err.Error()+"\r\n"))
		return
	}
	defer func() {
		h.terms.Close(sessionID)
		if err := h.envs.DetachSession(r.Context(), sessionID); err != nil {
			log.Printf("terminal websocket: detaching %s: %v", sessionID, err)
		}
	}()

	output, err := h.terms.Output(sessionID)
	if err != nil {
		conn.WriteMessage(websocket.TextMessage, []byte("Error: "+err.Error()+"\r\n"))
		return
	}

	// gorilla/websocket requires a single writer.
	var writeMu sync.Mutex

	const pongWait = 60 * time.Second
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		pingTicker := time.NewTicker(pongWait * 9 / 10)
		defer pingTicker.Stop()
		for {
			select {
			case chunk, ok := <-output:
				if !ok {
					writeMu.Lock()
					conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
						time.Now().Add(time.Second))
					writeMu.Unlock()
					return
				}
				if err := h.envs.AppendSessionBuffer(sessionID, chunk); err != nil {
					log.Printf("terminal websocket: buffering %s: %v", sessionID, err)
				}
				writeMu.Lock()
				err := conn.WriteMessage(websocket.BinaryMessage, chunk)
				writeMu.Unlock()
				if err != nil {
					return
				}
			case <-pingTicker.C:
				writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second))
				writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var msg terminalMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			// Raw bytes are treated as input for clients that skip framing.
			h.terms.Write(sessionID, raw)
			continue
		}
		switch msg.Type {
		case "input":
			if err := h.terms.Write(sessionID, []byte(msg.Data)); err != nil {
				log.Printf("terminal websocket: write to %s: %v", sessionID, err)
			}
		case "resize":
			if err := h.terms.Resize(r.Context(), sessionID, msg.Cols, msg.Rows); err != nil {
				log.Printf("terminal websocket: resize %s: %v", sessionID, err)
			}
		}
	}

	h.terms.Close(sessionID)
	<-writerDone
}

// createTerminal registers the terminal with the backend matching the
// environment kind.
func (h *TerminalHandler) createTerminal(sessionID string, envRecord store.Environment, cols, rows int) error {
	switch envRecord.Backend {
	case store.BackendContainerized:
		if h.execer == nil {
			return errContainerRuntimeUnavailable
		}
		if envRecord.Container == nil || envRecord.Container.ContainerID == "" {
			return errors.New("environment has no container")
		}
		return h.terms.CreateContainerSession(sessionID, h.execer, terminal.ContainerSessionSpec{
			ContainerID: envRecord.Container.ContainerID,
			WorkDir:     container.WorkDir,
			Cmd:         []string{"/bin/bash", "-l"},
			Cols:        cols,
			Rows:        rows,
		})
	default:
		workDir := ""
		if envRecord.Local != nil {
			workDir = envRecord.Local.WorktreePath
		}
		return h.terms.CreatePTYSession(sessionID, terminal.PTYSessionSpec{
			WorkDir: workDir,
			Cols:    cols,
			Rows:    rows,
		})
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}
