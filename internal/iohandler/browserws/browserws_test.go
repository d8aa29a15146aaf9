package browserws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/corevox/corevox/internal/signal"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func startServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(srv), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func TestStreamInput_ParsesTextAndAudioFrames(t *testing.T) {
	srv := startServer(t, func(conn *websocket.Conn) {
		ctx := context.Background()
		conn.Write(ctx, websocket.MessageText, []byte(`{"type":"text","content":"hello"}`))
		conn.Write(ctx, websocket.MessageText, []byte(`{"type":"audio","data":"`+base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4})+`"}`))
		time.Sleep(50 * time.Millisecond)
	})

	conn := dial(t, srv)
	h := New("sess-1", conn, 0, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var sigs []signal.Signal
	for sig := range h.StreamInput(ctx) {
		sigs = append(sigs, sig)
		if len(sigs) == 2 {
			break
		}
	}
	if len(sigs) != 2 {
		t.Fatalf("got %d signals, want 2", len(sigs))
	}
	if sigs[0].Kind != signal.Text || sigs[0].Content != "hello" {
		t.Errorf("sigs[0] = %+v", sigs[0])
	}
	if sigs[1].Kind != signal.Audio || len(sigs[1].AudioData) != 4 {
		t.Errorf("sigs[1] = %+v", sigs[1])
	}
}

func TestSendResponse_WritesJSONFrame(t *testing.T) {
	received := make(chan string, 1)
	srv := startServer(t, func(conn *websocket.Conn) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, data, err := conn.Read(ctx)
		if err == nil {
			received <- string(data)
		}
	})

	conn := dial(t, srv)
	h := New("sess-1", conn, 0, nil)

	if err := h.SendResponse(context.Background(), signal.TextResponse("sess-1", "router", "hi", true)); err != nil {
		t.Fatalf("SendResponse() error = %v", err)
	}

	select {
	case raw := <-received:
		var frame outboundFrame
		if err := json.Unmarshal([]byte(raw), &frame); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if frame.Type != "text" || frame.Content != "hi" {
			t.Errorf("frame = %+v", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
}
