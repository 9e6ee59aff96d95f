// Package testutil provides testing utilities for data plugins. It contains
// a mock status bridge websocket server and a harness wiring the real
// client, event loop and status plugin together.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"cncpanel/internal/linuxcnc"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connWrapper wraps a WebSocket connection with its write mutex
type connWrapper struct {
	conn       *websocket.Conn
	writeMu    sync.Mutex
	subscribed bool
}

// MockStatusServer simulates the status bridge in front of the machine-control daemon
type MockStatusServer struct {
	server      *httptest.Server
	logger      *zap.Logger
	stat        linuxcnc.Stat
	statMu      sync.RWMutex
	connections []*connWrapper
	connsMu     sync.Mutex
	commands    []CommandCall // Track all commands for verification
	callsMu     sync.Mutex
	failCommand map[string]string
}

// NewMockStatusServer creates and starts a mock bridge serving initial
func NewMockStatusServer(initial linuxcnc.Stat, logger *zap.Logger) *MockStatusServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MockStatusServer{
		logger:      logger,
		stat:        initial,
		failCommand: make(map[string]string),
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	return s
}

// URL returns the websocket URL of the server
func (s *MockStatusServer) URL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

// Stop closes every connection and the server
func (s *MockStatusServer) Stop() {
	s.connsMu.Lock()
	for _, wrapper := range s.connections {
		wrapper.conn.Close()
	}
	s.connections = nil
	s.connsMu.Unlock()

	s.server.Close()
}

// Update edits the status and pushes it to subscribed connections
func (s *MockStatusServer) Update(fn func(st *linuxcnc.Stat)) {
	s.statMu.Lock()
	fn(&s.stat)
	s.statMu.Unlock()

	s.broadcastStatus()
}

// PushError sends an error channel message to every subscribed connection
func (s *MockStatusServer) PushError(kind int, text string) {
	data, _ := json.Marshal(linuxcnc.ErrorMessage{Kind: kind, Text: text})
	s.broadcast(linuxcnc.Message{Type: linuxcnc.TypeError, Result: data})
}

// Stat returns a copy of the current status
func (s *MockStatusServer) Stat() linuxcnc.Stat {
	s.statMu.RLock()
	defer s.statMu.RUnlock()
	return s.stat
}

// FailCommand makes the named command return an error response
func (s *MockStatusServer) FailCommand(name, message string) {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	s.failCommand[name] = message
}

// handleWebSocket handles WebSocket connections
func (s *MockStatusServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}

	wrapper := &connWrapper{conn: conn}

	s.connsMu.Lock()
	s.connections = append(s.connections, wrapper)
	s.connsMu.Unlock()

	defer func() {
		s.connsMu.Lock()
		for i, w := range s.connections {
			if w.conn == conn {
				s.connections = append(s.connections[:i], s.connections[i+1:]...)
				break
			}
		}
		s.connsMu.Unlock()
		conn.Close()
	}()

	s.write(wrapper, linuxcnc.Message{Type: linuxcnc.TypeHello, Version: "mock"})

	for {
		var msg json.RawMessage
		if err := conn.ReadJSON(&msg); err != nil {
			s.logger.Debug("Connection closed", zap.Error(err))
			return
		}

		var baseMsg struct {
			ID   int    `json:"id"`
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg, &baseMsg); err != nil {
			continue
		}

		switch baseMsg.Type {
		case linuxcnc.TypeSubscribe:
			s.connsMu.Lock()
			wrapper.subscribed = true
			s.connsMu.Unlock()
			s.ack(wrapper, baseMsg.ID, nil)
			s.write(wrapper, linuxcnc.Message{Type: linuxcnc.TypeStatus, Result: s.statusJSON()})
		case linuxcnc.TypePoll:
			s.ack(wrapper, baseMsg.ID, s.statusJSON())
		case linuxcnc.TypeCommand:
			s.handleCommand(wrapper, msg)
		}
	}
}

// handleCommand records a command and acknowledges it
func (s *MockStatusServer) handleCommand(wrapper *connWrapper, msg json.RawMessage) {
	var req linuxcnc.CommandRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		return
	}

	s.callsMu.Lock()
	s.commands = append(s.commands, CommandCall{
		Timestamp: time.Now(),
		Name:      req.Name,
		Args:      req.Args,
	})
	failure, fail := s.failCommand[req.Name]
	s.callsMu.Unlock()

	if fail {
		failed := false
		s.write(wrapper, linuxcnc.Message{
			ID:      req.ID,
			Type:    linuxcnc.TypeResult,
			Success: &failed,
			Error:   &linuxcnc.Error{Code: "command_failed", Message: failure},
		})
		return
	}

	s.ack(wrapper, req.ID, nil)
}

func (s *MockStatusServer) ack(wrapper *connWrapper, id int, result json.RawMessage) {
	success := true
	s.write(wrapper, linuxcnc.Message{
		ID:      id,
		Type:    linuxcnc.TypeResult,
		Success: &success,
		Result:  result,
	})
}

func (s *MockStatusServer) write(wrapper *connWrapper, msg linuxcnc.Message) {
	wrapper.writeMu.Lock()
	defer wrapper.writeMu.Unlock()
	if err := wrapper.conn.WriteJSON(msg); err != nil {
		s.logger.Debug("Failed to write message", zap.Error(err))
	}
}

func (s *MockStatusServer) statusJSON() json.RawMessage {
	s.statMu.RLock()
	defer s.statMu.RUnlock()
	data, _ := json.Marshal(s.stat)
	return data
}

// broadcastStatus pushes the current status to every subscribed connection
func (s *MockStatusServer) broadcastStatus() {
	s.broadcast(linuxcnc.Message{Type: linuxcnc.TypeStatus, Result: s.statusJSON()})
}

func (s *MockStatusServer) broadcast(msg linuxcnc.Message) {
	s.connsMu.Lock()
	wrappers := make([]*connWrapper, 0, len(s.connections))
	for _, w := range s.connections {
		if w.subscribed {
			wrappers = append(wrappers, w)
		}
	}
	s.connsMu.Unlock()

	for _, wrapper := range wrappers {
		s.write(wrapper, msg)
	}
}

// Commands returns all commands since last clear
func (s *MockStatusServer) Commands() []CommandCall {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	calls := make([]CommandCall, len(s.commands))
	copy(calls, s.commands)
	return calls
}

// ClearCommands resets the command log
func (s *MockStatusServer) ClearCommands() {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	s.commands = nil
}
