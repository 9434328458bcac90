/******************************************************************************
 *
 *  Description :
 *
 *    Websocket transport and the reconnect backoff schedule.
 *
 *****************************************************************************/

package tinode

import (
	"context"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tinode/gosdk/tinode/logs"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 55 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1 << 19 // 512K
)

// Connection is a single live transport link. Inbound frames and the
// termination notice are delivered through the callbacks given to the Dialer.
type Connection interface {
	// Send transmits one serialized frame.
	Send(data []byte) error
	// Close terminates the link. The onClosed callback still fires.
	Close() error
}

// Dialer opens a transport link to the server. Inbound frames are passed to
// onFrame in arrival order; onClosed fires exactly once when the link dies,
// whether by error or by Close.
type Dialer func(ctx context.Context, addr string, onFrame func([]byte), onClosed func(error)) (Connection, error)

type wsConnection struct {
	ws *websocket.Conn

	// Serializes writes; gorilla permits one concurrent writer only.
	wlock sync.Mutex

	stop      chan struct{}
	closeOnce sync.Once
	onClosed  func(error)
}

// DialWebsocket connects to the server's websocket endpoint. The addr is the
// full URL including the API key query parameter if the server requires one.
func DialWebsocket(ctx context.Context, addr string, onFrame func([]byte), onClosed func(error)) (Connection, error) {
	if _, err := url.Parse(addr); err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: writeWait,
	}
	ws, _, err := dialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, err
	}

	conn := &wsConnection{
		ws:       ws,
		stop:     make(chan struct{}),
		onClosed: onClosed,
	}
	go conn.readLoop(onFrame)
	go conn.pingLoop()
	return conn, nil
}

func (conn *wsConnection) Send(data []byte) error {
	conn.wlock.Lock()
	defer conn.wlock.Unlock()

	conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.ws.WriteMessage(websocket.TextMessage, data)
}

func (conn *wsConnection) Close() error {
	err := conn.ws.Close()
	conn.terminate(nil)
	return err
}

func (conn *wsConnection) terminate(err error) {
	conn.closeOnce.Do(func() {
		close(conn.stop)
		conn.ws.Close()
		if conn.onClosed != nil {
			conn.onClosed(err)
		}
	})
}

func (conn *wsConnection) readLoop(onFrame func([]byte)) {
	conn.ws.SetReadLimit(maxMessageSize)
	conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logs.Warn.Println("ws: readLoop", err)
			}
			conn.terminate(err)
			return
		}
		onFrame(data)
	}
}

func (conn *wsConnection) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			conn.wlock.Lock()
			err := conn.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			conn.wlock.Unlock()
			if err != nil {
				conn.terminate(err)
				return
			}
		case <-conn.stop:
			return
		}
	}
}

// Reconnect backoff: exponential with a ceiling and a randomized jitter so a
// herd of clients does not retry in lockstep.

const (
	boffBase     = 2 * time.Second
	boffMaxShift = 8
	boffJitter   = 0.3
)

type expBackoff struct {
	lock sync.Mutex
	// Number of attempts made since the last reset.
	attempt int
	rnd     *rand.Rand
}

func newExpBackoff() *expBackoff {
	return &expBackoff{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// NextDelay returns the wait before the next attempt together with the
// attempt ordinal, and advances the schedule.
func (b *expBackoff) NextDelay() (time.Duration, int) {
	b.lock.Lock()
	defer b.lock.Unlock()

	shift := b.attempt
	if shift > boffMaxShift {
		shift = boffMaxShift
	}
	b.attempt++

	delay := boffBase * (1 << uint(shift))
	jitter := time.Duration((b.rnd.Float64()*2 - 1) * boffJitter * float64(delay))
	return delay + jitter, b.attempt
}

// Reset restarts the schedule after a successful connect or a manual
// reconnect request.
func (b *expBackoff) Reset() {
	b.lock.Lock()
	b.attempt = 0
	b.lock.Unlock()
}
