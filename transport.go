package broker

import (
	"bufio"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/freeconf/broker/stream"
	"github.com/freeconf/yang/fc"
	"github.com/gorilla/websocket"
)

var receiverCount int64

func receiverName(r *http.Request) string {
	return fmt.Sprintf("%s#%d", r.RemoteAddr, atomic.AddInt64(&receiverCount, 1))
}

// serveSSE delivers events of s as server sent events until the client
// goes away
func serveSSE(s stream.Stream, w http.ResponseWriter, r *http.Request) {
	flusher, hasFlusher := w.(http.Flusher)
	if !hasFlusher {
		handleErr(fmt.Errorf("streaming not supported by connection"), r, w)
		return
	}
	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")

	// a stalled client fails its write instead of holding up the stream
	rc := http.NewResponseController(w)
	defer rc.SetWriteDeadline(time.Time{})

	name := receiverName(r)
	errOnSend := make(chan error, 1)
	err := s.Subscribe(name, func(e stream.Event) error {
		rc.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := writeSSE(w, e); err != nil {
			select {
			case errOnSend <- err:
			default:
			}
			return err
		}
		flusher.Flush()
		return nil
	})
	if handleErr(err, r, w) {
		return
	}
	defer s.Unsubscribe(name)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	select {
	case <-r.Context().Done():
		// normal client closing subscription
	case err = <-errOnSend:
		fc.Err.Printf("stream %s dropping receiver %s. %s", s.Name(), name, err)
	}
}

// Every line of an SSE payload needs its own data field
// and an event ends with a blank line
func writeSSE(w http.ResponseWriter, e stream.Event) error {
	var buf strings.Builder
	sc := bufio.NewScanner(strings.NewReader(e.Data))
	for sc.Scan() {
		buf.WriteString("data: ")
		buf.WriteString(sc.Text())
		buf.WriteRune('\n')
	}
	buf.WriteRune('\n')
	_, err := w.Write([]byte(buf.String()))
	return err
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// writeTimeout bounds sending one event to one subscriber
const writeTimeout = 10 * time.Second

// serveWebSocket upgrades the request and sends each event of s as one
// text message until either side closes
func serveWebSocket(s stream.Stream, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader already replied to client
		fc.Debug.Printf("websocket upgrade failed. %s", err)
		return
	}
	defer conn.Close()

	name := receiverName(r)
	err = s.Subscribe(name, func(e stream.Event) error {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteMessage(websocket.TextMessage, []byte(e.Data))
	})
	if err != nil {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()))
		return
	}
	defer s.Unsubscribe(name)

	// nothing is expected from the client, reading only notices the close
	for {
		if _, _, err := conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				fc.Debug.Printf("stream %s receiver %s closed. %s", s.Name(), name, err)
			}
			return
		}
	}
}
