package netcore

import (
	"errors"
	"sync"
	"testing"

	"github.com/hongjun500/lightcore/internal/driver"
	"github.com/hongjun500/lightcore/internal/ipc"
)

type fakeTransport struct {
	mu       sync.Mutex
	sent     []*ipc.Message
	handlers map[ipc.MsgType]ipc.MessageHandler
	initErr  error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[ipc.MsgType]ipc.MessageHandler)}
}

func (f *fakeTransport) Init() error { return f.initErr }

func (f *fakeTransport) Send(m *ipc.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeTransport) RegisterCallback(typ ipc.MsgType, fn ipc.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[typ] = fn
	return nil
}

// deliver 模拟应用核来消息，直接调用注册的 handler
func (f *fakeTransport) deliver(t *testing.T, msg *ipc.Message) {
	t.Helper()
	f.mu.Lock()
	fn, ok := f.handlers[msg.Type]
	f.mu.Unlock()
	if !ok {
		t.Fatalf("no handler registered for %s", msg.Type)
	}
	fn(msg)
}

func (f *fakeTransport) lastSent(t *testing.T) *ipc.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatalf("nothing sent")
	}
	return f.sent[len(f.sent)-1]
}

func newOperatingManager(t *testing.T) (*Manager, *fakeTransport, *driver.SimBLE, *driver.SimRadio) {
	t.Helper()
	tr := newFakeTransport()
	ble := driver.NewSimBLE()
	radio := driver.NewSimRadio()
	m := NewManager(tr, ble, radio)
	if err := m.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	return m, tr, ble, radio
}

func TestInitBothSubsystemsFail(t *testing.T) {
	tr := newFakeTransport()
	ble := driver.NewSimBLE()
	ble.InitErr = errors.New("ble hw fault")
	radio := driver.NewSimRadio()
	radio.InitErr = errors.New("radio hw fault")

	m := NewManager(tr, ble, radio)
	if err := m.Init(); err != ErrNoSubsystem {
		t.Fatalf("expected ErrNoSubsystem, got %v", err)
	}
	if m.State() != StateError {
		t.Fatalf("state = %s, want ERROR", m.State())
	}
	if m.IsBLEEnabled() || m.IsRadioEnabled() {
		t.Fatalf("no subsystem should be enabled")
	}
}

func TestInitOneSubsystemWarnsAndOperates(t *testing.T) {
	tr := newFakeTransport()
	ble := driver.NewSimBLE()
	radio := driver.NewSimRadio()
	radio.InitErr = errors.New("radio hw fault")

	m := NewManager(tr, ble, radio)
	if err := m.Init(); err != nil {
		t.Fatalf("init with one live subsystem: %v", err)
	}
	if m.State() != StateOperating {
		t.Fatalf("state = %s, want OPERATING", m.State())
	}
	if !m.IsBLEEnabled() || m.IsRadioEnabled() {
		t.Fatalf("ble=%v radio=%v, want true/false", m.IsBLEEnabled(), m.IsRadioEnabled())
	}
}

func TestAdvStartAckWithCorrelation(t *testing.T) {
	m, tr, ble, _ := newOperatingManager(t)

	req := ipc.NewMessage(ipc.MsgBLEAdvStart).BLE(100, 0, nil).Build()
	req.SequenceID = 7
	tr.deliver(t, req)

	if !ble.IsAdvertising() || ble.AdvInterval() != 100 {
		t.Fatalf("advertising not started: adv=%v interval=%d", ble.IsAdvertising(), ble.AdvInterval())
	}
	reply := tr.lastSent(t)
	if reply.Type != ipc.MsgAck {
		t.Fatalf("reply type = %s, want ACK", reply.Type)
	}
	if p := reply.Payload.(ipc.StatusPayload); p.Code != 7 {
		t.Fatalf("correlation = %d, want 7", p.Code)
	}
	if m.Stats().BLEOps != 1 {
		t.Fatalf("BLEOps = %d, want 1", m.Stats().BLEOps)
	}
}

func TestAdvStartNackOnDriverFailure(t *testing.T) {
	m, tr, ble, _ := newOperatingManager(t)
	ble.OpErr = errors.New("controller busy")

	req := ipc.NewMessage(ipc.MsgBLEAdvStart).BLE(100, 0, nil).Build()
	req.SequenceID = 3
	tr.deliver(t, req)

	reply := tr.lastSent(t)
	if reply.Type != ipc.MsgNack {
		t.Fatalf("reply type = %s, want NACK", reply.Type)
	}
	if p := reply.Payload.(ipc.StatusPayload); p.Code != 3 {
		t.Fatalf("correlation = %d, want 3", p.Code)
	}
	if m.Stats().Errors != 1 {
		t.Fatalf("Errors = %d, want 1", m.Stats().Errors)
	}
}

func TestStatusRequestResponse(t *testing.T) {
	m, tr, _, _ := newOperatingManager(t)

	tr.deliver(t, ipc.NewMessage(ipc.MsgStatusRequest).Status(0, nil).Build())

	resp := tr.lastSent(t)
	if resp.Type != ipc.MsgStatusResponse {
		t.Fatalf("reply type = %s, want STATUS_RESPONSE", resp.Type)
	}
	p := resp.Payload.(ipc.ParamsPayload)
	if State(p[0]) != StateOperating || p[1] != 1 || p[2] != 1 {
		t.Fatalf("status params = %v", p[:4])
	}
	if p[3] != m.Stats().Transitions {
		t.Fatalf("transition count mismatch: %d vs %d", p[3], m.Stats().Transitions)
	}
}

func TestRadioTxAndDisable(t *testing.T) {
	m, tr, _, radio := newOperatingManager(t)

	tx := ipc.NewMessage(ipc.MsgRadioTx).Radio(15, -4, []byte("ping")).Build()
	tx.SequenceID = 9
	tr.deliver(t, tx)

	log := radio.TxLog()
	if len(log) != 1 || log[0].Channel != 15 || log[0].PowerDBM != -4 {
		t.Fatalf("tx log = %+v", log)
	}
	if tr.lastSent(t).Type != ipc.MsgAck {
		t.Fatalf("tx not acked")
	}

	tr.deliver(t, ipc.NewMessage(ipc.MsgRadioDisable).Radio(0, 0, nil).Build())
	if m.IsRadioEnabled() {
		t.Fatalf("radio still enabled after disable request")
	}

	// 射频关掉之后发射请求必须 NACK
	tr.deliver(t, tx)
	if tr.lastSent(t).Type != ipc.MsgNack {
		t.Fatalf("tx on disabled radio must NACK")
	}
}

func TestThreadStartAck(t *testing.T) {
	_, tr, _, _ := newOperatingManager(t)

	req := ipc.NewMessage(ipc.MsgThreadStart).Params(15, 0x1234).Build()
	req.SequenceID = 11
	tr.deliver(t, req)

	tr.mu.Lock()
	sent := append([]*ipc.Message(nil), tr.sent...)
	tr.mu.Unlock()
	if len(sent) != 2 {
		t.Fatalf("sent %d messages, want ACK + THREAD_ATTACH", len(sent))
	}
	if sent[0].Type != ipc.MsgAck {
		t.Fatalf("thread start reply = %s, want ACK", sent[0].Type)
	}
	if p := sent[0].Payload.(ipc.StatusPayload); p.Code != 11 {
		t.Fatalf("correlation = %d, want 11", p.Code)
	}
	if sent[1].Type != ipc.MsgThreadAttach {
		t.Fatalf("follow-up = %s, want THREAD_ATTACH", sent[1].Type)
	}
	if p := sent[1].Payload.(ipc.ParamsPayload); p[0] != ipc.RoleChild {
		t.Fatalf("attach role = %d, want CHILD", p[0])
	}
}
