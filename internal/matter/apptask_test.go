package matter

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hongjun500/lightcore/internal/config"
	"github.com/hongjun500/lightcore/internal/ipc"
	"github.com/hongjun500/lightcore/internal/settings"
	"github.com/hongjun500/lightcore/internal/thread"
)

type fakeTransport struct {
	mu      sync.Mutex
	sent    []*ipc.Message
	initErr error
	sendErr error
	ready   bool
}

func (f *fakeTransport) Init() error {
	if f.initErr != nil {
		return f.initErr
	}
	f.ready = true
	return nil
}

func (f *fakeTransport) IsReady() bool { return f.ready }

func (f *fakeTransport) Send(m *ipc.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeTransport) SendSync(m *ipc.Message, _ time.Duration) error {
	return f.Send(m)
}

func (f *fakeTransport) RegisterCallback(ipc.MsgType, ipc.MessageHandler) error { return nil }

func (f *fakeTransport) countType(t ipc.MsgType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.sent {
		if m.Type == t {
			n++
		}
	}
	return n
}

type fakeRebooter struct{ reboots int }

func (r *fakeRebooter) Reboot() { r.reboots++ }

func newTestAppTask(tr *fakeTransport, store settings.Store) (*AppTask, *fakeRebooter) {
	cfg := config.Default()
	tm := thread.NewManager(cfg.Thread, cfg.Rejoin, tr)
	rb := &fakeRebooter{}
	return NewAppTask(cfg, tr, tm, store, rb), rb
}

func TestFreshBootEndsIdle(t *testing.T) {
	store := settings.NewMemStore()
	tr := &fakeTransport{}
	a, _ := newTestAppTask(tr, store)

	if err := a.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	if a.State() != StateIdle {
		t.Fatalf("state = %s, want IDLE", a.State())
	}
	if a.Delegate().IsCommissioned() {
		t.Fatalf("fresh boot must not be commissioned")
	}
	if tr.countType(ipc.MsgStatusRequest) != 1 {
		t.Fatalf("init must probe the net core once")
	}
	serial, ok := store.Get("matter/config/serial")
	if !ok || string(serial) != config.Default().Device.Serial {
		t.Fatalf("serial = %q, want %q", serial, config.Default().Device.Serial)
	}
}

func TestInitPhaseFailureEntersError(t *testing.T) {
	tr := &fakeTransport{initErr: errors.New("bind timeout")}
	a, _ := newTestAppTask(tr, settings.NewMemStore())

	if err := a.Init(); err == nil {
		t.Fatalf("expected init failure")
	}
	if a.State() != StateAppError {
		t.Fatalf("state = %s, want ERROR", a.State())
	}

	// ERROR -> IDLE 恢复路径
	if err := a.Recover(); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if a.State() != StateIdle {
		t.Fatalf("state after recover = %s, want IDLE", a.State())
	}
	// 非 ERROR 状态下 Recover 拒绝
	if err := a.Recover(); err != ErrInvalidTransition {
		t.Fatalf("recover from IDLE: expected ErrInvalidTransition, got %v", err)
	}
}

func TestCommissioningFlowAndRebootPersistence(t *testing.T) {
	store := settings.NewMemStore()
	tr := &fakeTransport{}
	a, _ := newTestAppTask(tr, store)
	if err := a.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}

	if err := a.OpenCommissioningWindow(600); err != nil {
		t.Fatalf("open window: %v", err)
	}
	if a.State() != StateCommissioning {
		t.Fatalf("state = %s, want COMMISSIONING", a.State())
	}

	if err := a.OnFabricAdded(); err != nil {
		t.Fatalf("fabric added: %v", err)
	}
	a.DispatchEvent()

	if !a.Delegate().IsCommissioned() {
		t.Fatalf("commissioned flag not persisted")
	}
	// 配网完成后立即尝试入网
	if a.State() != StateNetworkJoining {
		t.Fatalf("state = %s, want NETWORK_JOINING", a.State())
	}
	if tr.countType(ipc.MsgThreadStart) != 1 {
		t.Fatalf("join request not sent")
	}

	// 重启模拟：同一存储重新 Init，必须直接走自动入网
	tr2 := &fakeTransport{}
	a2, _ := newTestAppTask(tr2, store)
	if err := a2.Init(); err != nil {
		t.Fatalf("reboot init: %v", err)
	}
	if a2.State() != StateNetworkJoining {
		t.Fatalf("rebooted state = %s, want NETWORK_JOINING", a2.State())
	}
}

func TestNetworkUpDownEdges(t *testing.T) {
	store := settings.NewMemStore()
	tr := &fakeTransport{}
	a, _ := newTestAppTask(tr, store)
	if err := a.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	_ = a.OpenCommissioningWindow(600)
	_ = a.OnFabricAdded()
	a.DispatchEvent()

	a.PostEvent(EventNetworkUp)
	a.DispatchEvent()
	if a.State() != StateNetworkConnected || !a.NetworkConnected() {
		t.Fatalf("network up: state=%s connected=%v", a.State(), a.NetworkConnected())
	}

	a.PostEvent(EventNetworkDown)
	a.DispatchEvent()
	if a.State() != StateCommissioned || a.NetworkConnected() {
		t.Fatalf("network down: state=%s connected=%v", a.State(), a.NetworkConnected())
	}
	if a.Resilience().Disconnects() != 1 {
		t.Fatalf("disconnects = %d, want 1", a.Resilience().Disconnects())
	}
	if a.Resilience().Health() != thread.HealthPoor {
		t.Fatalf("health after link down = %s, want POOR", a.Resilience().Health())
	}
}

func TestPeriodicHealthCheck(t *testing.T) {
	cfg := config.Default()
	cfg.Health.CheckInterval = 10 * time.Millisecond
	tr := &fakeTransport{}
	tm := thread.NewManager(cfg.Thread, cfg.Rejoin, tr)
	a := NewAppTask(cfg, tr, tm, settings.NewMemStore(), &fakeRebooter{})
	if err := a.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	_ = a.OpenCommissioningWindow(600)
	_ = a.OnFabricAdded()
	a.DispatchEvent()
	a.PostEvent(EventNetworkUp)
	a.DispatchEvent()
	if a.Resilience().Health() != thread.HealthExcellent {
		t.Fatalf("health after link up = %s, want EXCELLENT", a.Resilience().Health())
	}

	// 链路质量恶化后，下一个到期的轮询周期必须重评健康等级
	tm.SetLinkQuality(-70, 180, 0)
	time.Sleep(2 * cfg.Health.CheckInterval)
	a.DispatchEvent()
	if a.Resilience().Health() != thread.HealthGood {
		t.Fatalf("health after periodic check = %s, want GOOD", a.Resilience().Health())
	}
}

func TestInvalidTransitionIgnored(t *testing.T) {
	tr := &fakeTransport{}
	a, _ := newTestAppTask(tr, settings.NewMemStore())
	if err := a.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}

	// IDLE 下直接收到 network-up：迁移非法，状态不动
	a.PostEvent(EventNetworkUp)
	a.DispatchEvent()
	if a.State() != StateIdle {
		t.Fatalf("invalid transition applied: %s", a.State())
	}
}

func TestEventQueueBounded(t *testing.T) {
	tr := &fakeTransport{}
	a, _ := newTestAppTask(tr, settings.NewMemStore())
	// 队列满之后 PostEvent 不得阻塞
	for i := 0; i < MaxPendingEvents+8; i++ {
		a.PostEvent(EventNetworkDown)
	}
}

type deleteFailStore struct{ *settings.MemStore }

func (s *deleteFailStore) Delete(string) error { return errors.New("flash write failed") }

func TestFactoryReset(t *testing.T) {
	old := resetSettleDelay
	resetSettleDelay = time.Millisecond
	defer func() { resetSettleDelay = old }()

	store := settings.NewMemStore()
	tr := &fakeTransport{}
	a, rb := newTestAppTask(tr, store)
	if err := a.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	_ = a.OpenCommissioningWindow(600)
	_ = a.OnFabricAdded()
	a.DispatchEvent()
	a.Endpoint().SetLevel(42)

	if err := a.FactoryReset(); err != nil {
		t.Fatalf("factory reset: %v", err)
	}
	if rb.reboots != 1 {
		t.Fatalf("rebooter invoked %d times, want 1", rb.reboots)
	}
	if a.Delegate().IsCommissioned() {
		t.Fatalf("commissioned flag survived factory reset")
	}
	if store.ValLen("mt/ep/level") != 0 {
		t.Fatalf("attribute namespace survived factory reset")
	}

	// 清除失败是硬错误，不得走到重启
	a2, rb2 := newTestAppTask(&fakeTransport{}, &deleteFailStore{settings.NewMemStore()})
	if err := a2.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := a2.FactoryReset(); err == nil {
		t.Fatalf("expected hard error from failed namespace clear")
	}
	if rb2.reboots != 0 {
		t.Fatalf("must not reboot after failed clear")
	}
}
