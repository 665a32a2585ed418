package testutil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MockPrinter simulates the printer's websocket status channel. Clients
// connect to URL(); the test pushes messages with Send or SendJSON.
type MockPrinter struct {
	server   *httptest.Server
	mu       sync.Mutex
	conns    map[*websocket.Conn]struct{}
	connects int
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewMockPrinter starts a mock status server on a loopback port.
func NewMockPrinter() *MockPrinter {
	m := &MockPrinter{conns: make(map[*websocket.Conn]struct{})}
	m.server = httptest.NewServer(http.HandlerFunc(m.handleWebSocket))
	return m
}

// URL returns the ws:// address of the server.
func (m *MockPrinter) URL() string {
	return "ws" + strings.TrimPrefix(m.server.URL, "http")
}

// Close drops every client and stops the server.
func (m *MockPrinter) Close() {
	m.mu.Lock()
	for c := range m.conns {
		_ = c.Close()
	}
	m.mu.Unlock()
	m.server.Close()
}

// Connects returns the number of client connections accepted so far.
func (m *MockPrinter) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

// Clients returns the number of currently open client connections.
func (m *MockPrinter) Clients() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// WaitForConnects blocks until at least n connections were accepted.
func (m *MockPrinter) WaitForConnects(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.Connects() >= n && m.Clients() > 0 {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// Send writes a text frame to every connected client.
func (m *MockPrinter) Send(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.conns) == 0 {
		return errors.New("no client connected")
	}
	for c := range m.conns {
		if err := c.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
			return err
		}
	}
	return nil
}

// SendJSON marshals v and sends it as one text frame.
func (m *MockPrinter) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.Send(string(data))
}

// SendStatus sends a status message with the given state and file name.
// An empty file name omits the field.
func (m *MockPrinter) SendStatus(state int, printFileName string) error {
	msg := map[string]interface{}{"state": state}
	if printFileName != "" {
		msg["printFileName"] = printFileName
	}
	return m.SendJSON(msg)
}

// CloseNormal sends a normal-closure close frame to every client.
func (m *MockPrinter) CloseNormal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	for c := range m.conns {
		_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
}

// DropClients closes client connections without a close frame.
func (m *MockPrinter) DropClients() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for c := range m.conns {
		_ = c.Close()
	}
}

func (m *MockPrinter) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	m.mu.Lock()
	m.conns[conn] = struct{}{}
	m.connects++
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.conns, conn)
		m.mu.Unlock()
		_ = conn.Close()
	}()

	// The status channel is one-way; reading only detects the client leaving.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
