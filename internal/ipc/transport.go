package ipc

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hongjun500/lightcore/internal/observe"
	"github.com/hongjun500/lightcore/pkg/logger"
)

const (
	// DefaultBindTimeout 等待对端 endpoint 绑定的上限
	DefaultBindTimeout = 5 * time.Second
	// DefaultAckTimeout SendSync 缺省等待
	DefaultAckTimeout = time.Second
	// DefaultQueueDepth 接收 FIFO 深度，溢出即丢帧
	DefaultQueueDepth = 16
)

// Statistics 传输层计数器（按需复位的纯计数）
type Statistics struct {
	TxCount         uint32
	RxCount         uint32
	TxErrors        uint32
	RxErrors        uint32
	DroppedMessages uint32
	BufferOverruns  uint32
	StrayAcks       uint32 // 超时后迟到、无人认领的 ACK/NACK
	Unhandled       uint32 // 无注册 handler 的消息（不算错误）
}

// Options 传输层参数，零值字段取 Default*
type Options struct {
	BindTimeout time.Duration
	AckTimeout  time.Duration
	QueueDepth  int
}

// Transport 跨核消息传输。投递语义为尽力而为（无重传、无去重），
// 另提供基于关联 ID 的同步请求/应答（SendSync）。
//
// 发送端对每条消息盖戳单调递增的 sequence_id（256 回绕）和毫秒时间戳；
// ACK/NACK 在 Status.Code 中回带请求的 sequence_id，SendSync 按此关联
// 唤醒对应的等待者，迟到的应答只计数吸收，绝不会误放行下一个调用。
type Transport struct {
	ch   Channel
	reg  *CallbackRegistry
	log  *zap.SugaredLogger
	opts Options

	start time.Time

	readyMu sync.RWMutex
	ready   bool
	bound   chan struct{}

	rxq  chan Message
	done chan struct{}

	closeOnce sync.Once

	// 发送路径：一次只允许一个发送者进入通道
	txMu sync.Mutex
	seq  uint8

	statsMu sync.Mutex
	stats   Statistics

	pendMu  sync.Mutex
	pending map[uint8]chan error
}

func NewTransport(ch Channel, opts Options) *Transport {
	if opts.BindTimeout <= 0 {
		opts.BindTimeout = DefaultBindTimeout
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = DefaultQueueDepth
	}
	return &Transport{
		ch:      ch,
		reg:     NewCallbackRegistry(),
		log:     logger.M("ipc_core"),
		opts:    opts,
		start:   time.Now(),
		bound:   make(chan struct{}),
		rxq:     make(chan Message, opts.QueueDepth),
		done:    make(chan struct{}),
		pending: make(map[uint8]chan error),
	}
}

// Init 打开底层通道、启动接收 worker，然后阻塞等待对端绑定。
// 超时（缺省 5s）返回 ErrBindTimeout，传输层保持 not-ready。
func (t *Transport) Init() error {
	if t.IsReady() {
		t.log.Warnw("ipc_already_initialized")
		return nil
	}

	err := t.ch.Open(Handlers{
		Bound:    t.onBound,
		Received: t.onReceived,
		Error:    t.onError,
	})
	if err != nil {
		return err
	}

	go t.rxLoop()

	select {
	case <-t.bound:
	case <-time.After(t.opts.BindTimeout):
		t.log.Errorw("ipc_bind_timeout", "timeout", t.opts.BindTimeout)
		return ErrBindTimeout
	}

	t.log.Infow("ipc_initialized")
	return nil
}

// IsReady 绑定完成后为 true，只置位一次
func (t *Transport) IsReady() bool {
	t.readyMu.RLock()
	defer t.readyMu.RUnlock()
	return t.ready
}

// Send 发送一条消息，不等待投递确认。传输层未就绪返回 ErrNotReady，
// 校验失败返回 ErrInvalidMessage，两者均同步返回给调用方。
func (t *Transport) Send(msg *Message) error {
	_, err := t.send(msg, nil)
	return err
}

// SendSync 发送并阻塞等待对端 ACK/NACK，timeout <= 0 时取缺省值。
// NACK 同样结束等待（仅告警），超时返回 ErrAckTimeout；
// 超时后操作可能仍在对端完成，其迟到应答会被吸收丢弃。
func (t *Transport) SendSync(msg *Message, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = t.opts.AckTimeout
	}

	done := make(chan error, 1)
	seq, err := t.send(msg, done)
	if err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		t.dropPending(seq)
		t.log.Warnw("ack_timeout", "type", msg.Type.String(), "seq", seq, "timeout", timeout)
		return ErrAckTimeout
	}
}

// send 统一发送路径。done 非 nil 时在盖戳后、入链路前登记等待者，
// 保证应答不可能先于登记到达。
func (t *Transport) send(msg *Message, done chan error) (uint8, error) {
	if t.isClosed() {
		return 0, ErrClosed
	}
	if !t.IsReady() {
		return 0, ErrNotReady
	}
	if err := msg.Validate(); err != nil {
		return 0, err
	}

	t.txMu.Lock()
	seq := t.seq
	t.seq++ // uint8 自然回绕

	out := *msg
	out.SequenceID = seq
	out.Timestamp = t.uptimeMS()

	if done != nil {
		t.addPending(seq, done)
	}

	err := t.ch.Send(out.Marshal())
	t.txMu.Unlock()

	if err != nil {
		if done != nil {
			t.dropPending(seq)
		}
		t.countTxError()
		t.log.Errorw("ipc_send_failed", "type", out.Type.String(), "err", err)
		return seq, err
	}

	t.statsMu.Lock()
	t.stats.TxCount++
	t.statsMu.Unlock()
	observe.IncIPCTx()

	t.log.Debugw("ipc_sent", "type", out.Type.String(), "seq", seq)
	return seq, nil
}

// RegisterCallback 注册某类型消息的 handler，同一类型可注册多个
func (t *Transport) RegisterCallback(typ MsgType, fn MessageHandler) error {
	return t.reg.Register(typ, fn)
}

// UnregisterCallback 注销第一个匹配的 handler
func (t *Transport) UnregisterCallback(typ MsgType) {
	t.reg.Unregister(typ)
}

// Stats 计数器快照
func (t *Transport) Stats() Statistics {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	return t.stats
}

func (t *Transport) ResetStats() {
	t.statsMu.Lock()
	t.stats = Statistics{}
	t.statsMu.Unlock()
	t.log.Infow("ipc_stats_reset")
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Close 幂等关闭。之后 Send/SendSync 返回 ErrClosed。
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.ch.Close()
	})
	return err
}

/*=============================================================================
 * 通道事件回调（在通道上下文中执行，不得阻塞）
 *===========================================================================*/

func (t *Transport) onBound() {
	t.readyMu.Lock()
	if !t.ready {
		t.ready = true
		close(t.bound)
	}
	t.readyMu.Unlock()
	t.log.Infow("ipc_endpoint_bound")
}

func (t *Transport) onReceived(frame []byte) {
	msg, err := Unmarshal(frame)
	if err != nil {
		t.statsMu.Lock()
		t.stats.RxErrors++
		t.stats.DroppedMessages++
		t.statsMu.Unlock()
		observe.IncIPCRxError()
		t.log.Errorw("ipc_bad_frame", "len", len(frame), "expected", MessageSize)
		return
	}

	select {
	case t.rxq <- msg:
	default:
		// FIFO 满则丢帧，不向对端反压
		t.statsMu.Lock()
		t.stats.DroppedMessages++
		t.stats.BufferOverruns++
		t.statsMu.Unlock()
		observe.IncIPCDropped()
		t.log.Errorw("ipc_rx_queue_full", "type", msg.Type.String())
	}
}

func (t *Transport) onError(err error) {
	t.statsMu.Lock()
	t.stats.RxErrors++
	t.statsMu.Unlock()
	observe.IncIPCRxError()
	t.log.Errorw("ipc_channel_error", "err", err)
}

/*=============================================================================
 * 接收 worker
 *===========================================================================*/

func (t *Transport) rxLoop() {
	t.log.Infow("ipc_rx_worker_started")
	for {
		select {
		case msg := <-t.rxq:
			t.process(&msg)
		case <-t.done:
			return
		}
	}
}

func (t *Transport) process(msg *Message) {
	t.statsMu.Lock()
	t.stats.RxCount++
	t.statsMu.Unlock()
	observe.IncIPCRx()

	t.log.Debugw("ipc_received", "type", msg.Type.String(), "seq", msg.SequenceID)

	switch msg.Type {
	case MsgAck:
		t.completePending(msg)
	case MsgNack:
		t.log.Warnw("nack_from_remote", "seq", msg.SequenceID)
		t.completePending(msg)
	default:
		if !t.reg.Dispatch(msg) {
			t.statsMu.Lock()
			t.stats.Unhandled++
			t.statsMu.Unlock()
			t.log.Debugw("ipc_no_handler", "type", msg.Type.String())
		}
	}
}

/*=============================================================================
 * SendSync 关联应答
 *===========================================================================*/

func (t *Transport) addPending(seq uint8, done chan error) {
	t.pendMu.Lock()
	t.pending[seq] = done
	t.pendMu.Unlock()
}

func (t *Transport) dropPending(seq uint8) {
	t.pendMu.Lock()
	delete(t.pending, seq)
	t.pendMu.Unlock()
}

// completePending 按关联 ID 唤醒等待者；无人认领的应答只计数吸收。
// NACK 不作为失败上抛，等待者同样正常返回。
func (t *Transport) completePending(msg *Message) {
	corr, ok := ackCorrelation(msg)
	if !ok {
		t.absorbStray(msg)
		return
	}

	t.pendMu.Lock()
	done, ok := t.pending[corr]
	if ok {
		delete(t.pending, corr)
	}
	t.pendMu.Unlock()

	if !ok {
		t.absorbStray(msg)
		return
	}
	done <- nil
}

func (t *Transport) absorbStray(msg *Message) {
	t.statsMu.Lock()
	t.stats.StrayAcks++
	t.statsMu.Unlock()
	observe.IncIPCStrayAck()
	t.log.Debugw("stray_ack_absorbed", "type", msg.Type.String(), "seq", msg.SequenceID)
}

func ackCorrelation(msg *Message) (uint8, bool) {
	sp, ok := msg.Payload.(StatusPayload)
	if !ok {
		return 0, false
	}
	return uint8(sp.Code), true
}

func (t *Transport) uptimeMS() uint32 {
	return uint32(time.Since(t.start).Milliseconds())
}

func (t *Transport) countTxError() {
	t.statsMu.Lock()
	t.stats.TxErrors++
	t.statsMu.Unlock()
	observe.IncIPCTxError()
}
