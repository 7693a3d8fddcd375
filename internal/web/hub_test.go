package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cjeanneret/AnimalFace/internal/logic/sequencer"
)

func dialHub(t *testing.T, hub *DisplayHub) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func readDisplay(t *testing.T, conn *websocket.Conn) sequencer.Display {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var d sequencer.Display
	if err := json.Unmarshal(msg, &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return d
}

func waitClients(t *testing.T, hub *DisplayHub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", hub.ClientCount(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDisplayHub_LatestOnConnect(t *testing.T) {
	hub := NewDisplayHub()
	hub.Observe(sequencer.Display{State: "idle", Status: "대기 중"})
	hub.Observe(sequencer.Display{State: "capturing", Status: "분석 준비…", Busy: true})

	conn, closeAll := dialHub(t, hub)
	defer closeAll()

	d := readDisplay(t, conn)
	if d.State != "capturing" || !d.Busy {
		t.Errorf("first display = %+v, want the latest snapshot", d)
	}
}

func TestDisplayHub_PushesUpdates(t *testing.T) {
	hub := NewDisplayHub()
	conn, closeAll := dialHub(t, hub)
	defer closeAll()
	waitClients(t, hub, 1)

	hub.Observe(sequencer.Display{State: "animating", Image: "/images/하마상.png", Loading: true})
	hub.Observe(sequencer.Display{State: "revealed", Text: "하마형", Label: "하마상"})

	if d := readDisplay(t, conn); d.State != "animating" {
		t.Errorf("first = %+v", d)
	}
	if d := readDisplay(t, conn); d.State != "revealed" || d.Text != "하마형" {
		t.Errorf("second = %+v", d)
	}
}

func TestDisplayHub_ClientLeaves(t *testing.T) {
	hub := NewDisplayHub()
	conn, closeAll := dialHub(t, hub)
	waitClients(t, hub, 1)

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	closeAll()
	waitClients(t, hub, 0)
}

func TestDisplayHub_SlowClientKeepsLatest(t *testing.T) {
	hub := NewDisplayHub()
	ch, unsub := hub.subscribe()
	defer unsub()

	for i := 0; i < 50; i++ {
		hub.Observe(sequencer.Display{State: "animating", Image: "/images/x.png"})
	}
	hub.Observe(sequencer.Display{State: "revealed"})

	var last []byte
	for {
		select {
		case msg := <-ch:
			last = msg
			continue
		default:
		}
		break
	}
	var d sequencer.Display
	if err := json.Unmarshal(last, &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.State != "revealed" {
		t.Errorf("last buffered = %+v, want revealed", d)
	}
}
