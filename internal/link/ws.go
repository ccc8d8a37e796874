package link

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hongjun500/lightcore/internal/ipc"
	"github.com/hongjun500/lightcore/pkg/logger"
)

const (
	dialRetryInterval = 200 * time.Millisecond
	wsWriteTimeout    = 3 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  256,
	WriteBufferSize: 256,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewWSListenChannel 返回监听端通道：Open 时在 addr 上起 HTTP 服务，
// 接受第一条 WebSocket 连接后触发 Bound。用于双进程模式的网络核一侧。
func NewWSListenChannel(addr, path string) ipc.Channel {
	return &wsListenChannel{addr: addr, path: path, id: uuid.New().String(), log: logger.M("link")}
}

// NewWSDialChannel 返回拨号端通道：Open 后在后台重试连接 url，
// 连上即触发 Bound。用于应用核一侧，允许对端晚于本端启动。
func NewWSDialChannel(url string) ipc.Channel {
	return &wsDialChannel{url: url, id: uuid.New().String(), log: logger.M("link")}
}

// wsConn 对单条连接的读写封装，两种通道共用
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) set(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *wsConn) write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrLinkNotBound
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *wsConn) close() {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
}

// readPump 顺序读取二进制帧并上抛，读错误只上报一次
func readPump(conn *websocket.Conn, h ipc.Handlers, done <-chan struct{}, log *zap.SugaredLogger) {
	for {
		mt, frame, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
			default:
				log.Warnw("ws_read_closed", "err", err)
				if h.Error != nil {
					h.Error(err)
				}
			}
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		if h.Received != nil {
			h.Received(frame)
		}
	}
}

type wsListenChannel struct {
	addr string
	path string
	id   string
	log  *zap.SugaredLogger

	mu     sync.Mutex
	closed bool
	srv    *http.Server
	wc     wsConn
	done   chan struct{}
}

func (ch *wsListenChannel) Open(h ipc.Handlers) error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return ErrLinkClosed
	}
	ch.done = make(chan struct{})
	done := ch.done
	ch.mu.Unlock()

	ln, err := net.Listen("tcp", ch.addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc(ch.path, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			ch.log.Warnw("ws_upgrade_failed", "endpoint", ch.id, "err", err)
			return
		}
		ch.log.Infow("ws_peer_connected", "endpoint", ch.id, "remote", conn.RemoteAddr().String())
		ch.wc.set(conn)
		if h.Bound != nil {
			h.Bound()
		}
		readPump(conn, h, done, ch.log)
	})

	srv := &http.Server{Handler: mux}
	ch.mu.Lock()
	ch.srv = srv
	ch.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			ch.log.Errorw("ws_serve_failed", "endpoint", ch.id, "err", err)
			if h.Error != nil {
				h.Error(err)
			}
		}
	}()
	ch.log.Infow("ws_listening", "endpoint", ch.id, "addr", ch.addr, "path", ch.path)
	return nil
}

func (ch *wsListenChannel) Send(frame []byte) error {
	return ch.wc.write(frame)
}

func (ch *wsListenChannel) Close() error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return nil
	}
	ch.closed = true
	if ch.done != nil {
		close(ch.done)
	}
	srv := ch.srv
	ch.mu.Unlock()

	ch.wc.close()
	if srv != nil {
		return srv.Close()
	}
	return nil
}

type wsDialChannel struct {
	url string
	id  string
	log *zap.SugaredLogger

	mu     sync.Mutex
	closed bool
	wc     wsConn
	done   chan struct{}
}

func (ch *wsDialChannel) Open(h ipc.Handlers) error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return ErrLinkClosed
	}
	ch.done = make(chan struct{})
	done := ch.done
	ch.mu.Unlock()

	go func() {
		for {
			select {
			case <-done:
				return
			default:
			}
			conn, _, err := websocket.DefaultDialer.Dial(ch.url, nil)
			if err != nil {
				time.Sleep(dialRetryInterval)
				continue
			}
			ch.log.Infow("ws_connected", "endpoint", ch.id, "url", ch.url)
			ch.wc.set(conn)
			if h.Bound != nil {
				h.Bound()
			}
			readPump(conn, h, done, ch.log)
			return
		}
	}()
	return nil
}

func (ch *wsDialChannel) Send(frame []byte) error {
	return ch.wc.write(frame)
}

func (ch *wsDialChannel) Close() error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return nil
	}
	ch.closed = true
	if ch.done != nil {
		close(ch.done)
	}
	ch.mu.Unlock()
	ch.wc.close()
	return nil
}
