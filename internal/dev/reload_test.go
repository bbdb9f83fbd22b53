package dev

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newReloadTestServer(t *testing.T) (*ReloadServer, *httptest.Server) {
	t.Helper()
	rs := NewReloadServer()
	srv := httptest.NewServer(http.HandlerFunc(rs.HandleWebSocket))
	t.Cleanup(func() {
		srv.Close()
		rs.Close()
	})
	return rs, srv
}

func dialReload(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) ReloadMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var msg ReloadMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	return msg
}

func waitForClients(t *testing.T, rs *ReloadServer, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rs.ClientCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("client count = %d, want %d", rs.ClientCount(), want)
}

func TestReloadBroadcast(t *testing.T) {
	rs, srv := newReloadTestServer(t)

	conn := dialReload(t, srv)
	defer conn.Close()
	waitForClients(t, rs, 1)

	rs.NotifyReload()
	if msg := readMessage(t, conn); msg.Type != ReloadTypeFull {
		t.Errorf("type = %q, want reload", msg.Type)
	}

	rs.NotifyCSS("app.css")
	msg := readMessage(t, conn)
	if msg.Type != ReloadTypeCSS || msg.File != "app.css" {
		t.Errorf("msg = %+v", msg)
	}

	rs.NotifyError("broken")
	msg = readMessage(t, conn)
	if msg.Type != ReloadTypeError || msg.Error != "broken" {
		t.Errorf("msg = %+v", msg)
	}

	rs.ClearError()
	if msg := readMessage(t, conn); msg.Type != ReloadTypeClear {
		t.Errorf("type = %q, want clear", msg.Type)
	}
}

func TestReloadClientCount(t *testing.T) {
	rs, srv := newReloadTestServer(t)

	if rs.ClientCount() != 0 {
		t.Fatalf("count = %d, want 0", rs.ClientCount())
	}

	conn := dialReload(t, srv)
	waitForClients(t, rs, 1)

	conn.Close()
	waitForClients(t, rs, 0)
}
