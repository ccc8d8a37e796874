package matter

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hongjun500/lightcore/internal/config"
	"github.com/hongjun500/lightcore/internal/ipc"
	"github.com/hongjun500/lightcore/internal/settings"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []*ipc.Message
	err  error
}

func (f *fakeSender) Send(m *ipc.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeSender) countType(t ipc.MsgType) int {
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

func newTestDelegate(sender Sender, store settings.Store) *CommissioningDelegate {
	return NewCommissioningDelegate(config.Default().Commissioning, sender, store)
}

func TestOpenWindowTwice(t *testing.T) {
	s := &fakeSender{}
	d := newTestDelegate(s, settings.NewMemStore())
	defer d.CloseWindow()

	if err := d.OpenWindow(600); err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := d.OpenWindow(600); err != ErrWindowOpen {
		t.Fatalf("second open: expected ErrWindowOpen, got %v", err)
	}
	if n := s.countType(ipc.MsgBLEAdvStart); n != 1 {
		t.Fatalf("adv start sent %d times, want 1", n)
	}
}

func TestOpenWindowTransportFailureRollsBack(t *testing.T) {
	s := &fakeSender{err: errors.New("link down")}
	d := newTestDelegate(s, settings.NewMemStore())

	if err := d.OpenWindow(600); err == nil {
		t.Fatalf("expected transport error")
	}
	if d.IsWindowOpen() {
		t.Fatalf("window must not stay open after transport failure")
	}

	// 回滚后可以重新打开
	s.err = nil
	if err := d.OpenWindow(600); err != nil {
		t.Fatalf("reopen after rollback: %v", err)
	}
	_ = d.CloseWindow()
}

func TestTimeRemaining(t *testing.T) {
	s := &fakeSender{}
	d := newTestDelegate(s, settings.NewMemStore())

	if d.TimeRemaining() != 0 {
		t.Fatalf("closed window must report zero remaining")
	}
	if err := d.OpenWindow(600); err != nil {
		t.Fatalf("open: %v", err)
	}
	rem := d.TimeRemaining()
	if rem <= 0 || rem > 600*time.Second {
		t.Fatalf("remaining = %v", rem)
	}
	if err := d.CloseWindow(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if d.TimeRemaining() != 0 {
		t.Fatalf("remaining must be zero after close")
	}
	if n := s.countType(ipc.MsgBLEAdvStop); n != 1 {
		t.Fatalf("adv stop sent %d times, want 1", n)
	}
}

func TestWindowExpiry(t *testing.T) {
	s := &fakeSender{}
	d := newTestDelegate(s, settings.NewMemStore())

	if err := d.OpenWindow(1); err != nil {
		t.Fatalf("open: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for d.IsWindowOpen() {
		if time.Now().After(deadline) {
			t.Fatalf("window did not expire")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if n := s.countType(ipc.MsgBLEAdvStop); n != 1 {
		t.Fatalf("expiry must stop advertising, stop count = %d", n)
	}
}

func TestFabricAddedPersistsAndClosesWindow(t *testing.T) {
	s := &fakeSender{}
	store := settings.NewMemStore()
	d := newTestDelegate(s, store)

	if d.IsCommissioned() {
		t.Fatalf("fresh device must not be commissioned")
	}
	if err := d.OpenWindow(600); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := d.OnFabricAdded(); err != nil {
		t.Fatalf("fabric added: %v", err)
	}
	if !d.IsCommissioned() {
		t.Fatalf("commissioned flag not persisted")
	}
	if d.IsWindowOpen() {
		t.Fatalf("window must close on fabric added")
	}
	if d.FabricCount() != 1 {
		t.Fatalf("fabric count = %d", d.FabricCount())
	}

	// 重启模拟：新 delegate 从同一存储恢复
	d2 := newTestDelegate(&fakeSender{}, store)
	if !d2.IsCommissioned() || d2.FabricCount() != 1 {
		t.Fatalf("commissioned state not restored: commissioned=%v count=%d",
			d2.IsCommissioned(), d2.FabricCount())
	}
}

func TestFabricRemovedClearsNamespace(t *testing.T) {
	store := settings.NewMemStore()
	d := newTestDelegate(&fakeSender{}, store)
	if err := d.OnFabricAdded(); err != nil {
		t.Fatalf("fabric added: %v", err)
	}
	if err := d.OnFabricRemoved(); err != nil {
		t.Fatalf("fabric removed: %v", err)
	}
	if d.IsCommissioned() {
		t.Fatalf("commissioned flag must be cleared")
	}
	if d.FabricCount() != 0 {
		t.Fatalf("fabric count must reset")
	}
}

type sinkFunc struct{ fired int }

func (s *sinkFunc) OnCommissioningComplete() { s.fired++ }

func TestCommissioningCompleteFiresSink(t *testing.T) {
	d := newTestDelegate(&fakeSender{}, settings.NewMemStore())
	sink := &sinkFunc{}
	d.SetCompletionSink(sink)

	if err := d.OnCommissioningComplete(); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if sink.fired != 1 {
		t.Fatalf("sink fired %d times, want 1", sink.fired)
	}
}
