package arenaclient

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/goban-arena/pkg/arenadto"
)

var ErrNotConnected = errors.New("arenaclient: socket not connected")

type callbackEntry struct {
	id       int
	callback FrameCallback
}

type stateCallbackEntry struct {
	id       int
	callback StateCallback
}

// Socket is a reconnecting client for the session and inbox sockets.
type Socket struct {
	wsURL string

	conn   *websocket.Conn
	connM  sync.RWMutex
	state  SocketState
	stateM sync.RWMutex

	frameCbs []callbackEntry
	stateCbs []stateCallbackEntry
	nextCbID int
	cbM      sync.RWMutex

	maxReconnectAttempts int
	pingInterval         time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc

	headerProvider HeaderProvider
}

func NewSocket(wsURL string, maxReconnectAttempts int) *Socket {
	ctx, cancel := context.WithCancel(context.Background())
	return &Socket{
		wsURL:                wsURL,
		state:                StateDisconnected,
		maxReconnectAttempts: maxReconnectAttempts,
		pingInterval:         30 * time.Second,
		stopCh:               make(chan struct{}),
		rootCtx:              ctx,
		rootCancel:           cancel,
	}
}

// SetHeaderProvider injects headers (e.g. X-User-Id) into every handshake.
func (ws *Socket) SetHeaderProvider(h HeaderProvider) {
	ws.headerProvider = h
}

func (ws *Socket) Connect(ctx context.Context) error {
	ws.stateM.RLock()
	st := ws.state
	ws.stateM.RUnlock()
	if st == StateConnected || st == StateConnecting {
		return nil
	}
	ws.setState(StateConnecting)

	conn, err := ws.dial(ctx)
	if err != nil {
		ws.setState(StateFailed)
		ws.scheduleReconnect()
		return err
	}
	ws.attach(conn)
	return nil
}

func (ws *Socket) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, ws.wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      ws.buildHeaders(),
	})
	return conn, err
}

func (ws *Socket) attach(conn *websocket.Conn) {
	ws.connM.Lock()
	ws.conn = conn
	ws.connM.Unlock()
	ws.setState(StateConnected)
	ws.wg.Add(2)
	go ws.listen(conn)
	go ws.pingLoop(conn)
}

// Send writes one client frame.
func (ws *Socket) Send(ctx context.Context, f arenadto.ClientFrame) error {
	ws.connM.RLock()
	conn := ws.conn
	ws.connM.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	return wsjson.Write(ctx, conn, f)
}

func (ws *Socket) listen(conn *websocket.Conn) {
	defer ws.wg.Done()
	for {
		var f Frame
		if err := wsjson.Read(ws.rootCtx, conn, &f); err != nil {
			if ws.isStopping() {
				return
			}
			ws.detach(conn, websocket.StatusGoingAway, "reconnect")
			ws.scheduleReconnect()
			return
		}

		ws.cbM.RLock()
		callbacks := make([]callbackEntry, len(ws.frameCbs))
		copy(callbacks, ws.frameCbs)
		ws.cbM.RUnlock()
		for _, entry := range callbacks {
			entry.callback(&f)
		}
	}
}

func (ws *Socket) pingLoop(conn *websocket.Conn) {
	defer ws.wg.Done()
	t := time.NewTicker(ws.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ws.stopCh:
			return
		case <-t.C:
			if !ws.current(conn) {
				return
			}
			ctx, cancel := context.WithTimeout(ws.rootCtx, 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				if ws.isStopping() {
					return
				}
				// listen sees the close and schedules the reconnect
				_ = conn.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

func (ws *Socket) current(conn *websocket.Conn) bool {
	ws.connM.RLock()
	defer ws.connM.RUnlock()
	return ws.conn == conn
}

func (ws *Socket) detach(conn *websocket.Conn, code websocket.StatusCode, reason string) {
	ws.connM.Lock()
	if ws.conn == conn {
		ws.conn = nil
	}
	ws.connM.Unlock()
	ws.setState(StateDisconnected)
	_ = conn.Close(code, reason)
}

func (ws *Socket) scheduleReconnect() {
	if ws.maxReconnectAttempts <= 0 {
		return
	}
	ws.setState(StateReconnecting)

	go func() {
		for attempt := 1; attempt <= ws.maxReconnectAttempts; attempt++ {
			select {
			case <-ws.stopCh:
				return
			case <-time.After(backoffDuration(attempt)):
			}
			conn, err := ws.dial(ws.rootCtx)
			if err != nil {
				continue
			}
			if ws.isStopping() {
				_ = conn.Close(websocket.StatusNormalClosure, "close")
				return
			}
			ws.attach(conn)
			return
		}
		ws.setState(StateFailed)
	}()
}

func (ws *Socket) OnFrame(cb FrameCallback) int {
	ws.cbM.Lock()
	defer ws.cbM.Unlock()
	ws.nextCbID++
	ws.frameCbs = append(ws.frameCbs, callbackEntry{id: ws.nextCbID, callback: cb})
	return ws.nextCbID
}

func (ws *Socket) OnStateChange(cb StateCallback) int {
	ws.cbM.Lock()
	defer ws.cbM.Unlock()
	ws.nextCbID++
	ws.stateCbs = append(ws.stateCbs, stateCallbackEntry{id: ws.nextCbID, callback: cb})
	return ws.nextCbID
}

func (ws *Socket) State() SocketState {
	ws.stateM.RLock()
	defer ws.stateM.RUnlock()
	return ws.state
}

func (ws *Socket) setState(state SocketState) {
	ws.stateM.Lock()
	ws.state = state
	ws.stateM.Unlock()

	ws.cbM.RLock()
	callbacks := make([]stateCallbackEntry, len(ws.stateCbs))
	copy(callbacks, ws.stateCbs)
	ws.cbM.RUnlock()
	for _, entry := range callbacks {
		entry.callback(state)
	}
}

func (ws *Socket) Close(ctx context.Context) error {
	ws.stopOnce.Do(func() { close(ws.stopCh) })
	ws.connM.Lock()
	conn := ws.conn
	ws.conn = nil
	ws.connM.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "close")
	}

	done := make(chan struct{})
	go func() {
		ws.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		ws.rootCancel()
		return nil
	}
}

func (ws *Socket) isStopping() bool {
	select {
	case <-ws.stopCh:
		return true
	default:
		return false
	}
}

func (ws *Socket) buildHeaders() http.Header {
	hdr := http.Header{}
	if ws.headerProvider == nil {
		return hdr
	}
	for k, v := range ws.headerProvider() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}
