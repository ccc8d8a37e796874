package link

import (
	"sync"

	"github.com/google/uuid"

	"github.com/hongjun500/lightcore/internal/ipc"
	"github.com/hongjun500/lightcore/pkg/logger"
)

const loopbackQueueDepth = 64

// NewLoopbackPair 返回一对进程内互联的通道端点，用于单进程双核模式和测试。
// 两端都 Open 之后各自触发一次 Bound，帧按 FIFO 原样投递。
func NewLoopbackPair() (ipc.Channel, ipc.Channel) {
	a := &loopEnd{id: uuid.New().String(), inbox: make(chan []byte, loopbackQueueDepth), done: make(chan struct{})}
	b := &loopEnd{id: uuid.New().String(), inbox: make(chan []byte, loopbackQueueDepth), done: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

type loopEnd struct {
	id   string
	peer *loopEnd

	mu      sync.Mutex
	h       ipc.Handlers
	open    bool
	closed  bool
	pumping bool

	inbox chan []byte
	done  chan struct{}
}

func (e *loopEnd) Open(h ipc.Handlers) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrLinkClosed
	}
	e.h = h
	e.open = true
	if !e.pumping {
		e.pumping = true
		go e.pump()
	}
	e.mu.Unlock()

	logger.M("link").Debugw("loopback_open", "endpoint", e.id)

	// 两端都打开后各自触发 Bound
	e.peer.mu.Lock()
	peerOpen := e.peer.open
	e.peer.mu.Unlock()
	if peerOpen {
		go e.fireBound()
		go e.peer.fireBound()
	}
	return nil
}

func (e *loopEnd) Send(frame []byte) error {
	e.peer.mu.Lock()
	open, closed := e.peer.open, e.peer.closed
	e.peer.mu.Unlock()
	if closed || !open {
		return ErrLinkNotBound
	}

	buf := make([]byte, len(frame))
	copy(buf, frame)
	select {
	case e.peer.inbox <- buf:
		return nil
	case <-e.peer.done:
		return ErrLinkClosed
	}
}

func (e *loopEnd) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		e.open = false
		close(e.done)
	}
	return nil
}

func (e *loopEnd) fireBound() {
	e.mu.Lock()
	bound := e.h.Bound
	e.mu.Unlock()
	if bound != nil {
		bound()
	}
}

// pump 顺序投递收到的帧，保持 FIFO
func (e *loopEnd) pump() {
	for {
		select {
		case frame := <-e.inbox:
			e.mu.Lock()
			received := e.h.Received
			e.mu.Unlock()
			if received != nil {
				received(frame)
			}
		case <-e.done:
			return
		}
	}
}
