package ipc

import "testing"

func TestRegistryCapacity(t *testing.T) {
	r := NewCallbackRegistry()
	fn := func(*Message) {}

	for i := 0; i < MaxCallbacks; i++ {
		if err := r.Register(MsgUser, fn); err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
	}
	if err := r.Register(MsgUser, fn); err != ErrRegistryFull {
		t.Fatalf("expected ErrRegistryFull, got %v", err)
	}
	if r.ActiveCount() != MaxCallbacks {
		t.Fatalf("active = %d, want %d", r.ActiveCount(), MaxCallbacks)
	}

	// unregister frees exactly one slot and registration works again
	r.Unregister(MsgUser)
	if r.ActiveCount() != MaxCallbacks-1 {
		t.Fatalf("active = %d after unregister", r.ActiveCount())
	}
	if err := r.Register(MsgStatusRequest, fn); err != nil {
		t.Fatalf("register into freed slot: %v", err)
	}
}

func TestRegistryDispatchFanOut(t *testing.T) {
	r := NewCallbackRegistry()
	var order []int
	_ = r.Register(MsgUser, func(*Message) { order = append(order, 1) })
	_ = r.Register(MsgThreadStart, func(*Message) { order = append(order, 99) })
	_ = r.Register(MsgUser, func(*Message) { order = append(order, 2) })

	msg := NewMessage(MsgUser).Raw(nil).Build()
	if !r.Dispatch(msg) {
		t.Fatalf("dispatch reported no handler")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("fan-out order = %v, want [1 2]", order)
	}
}

func TestRegistryDispatchNoHandler(t *testing.T) {
	r := NewCallbackRegistry()
	_ = r.Register(MsgUser, func(*Message) { t.Fatalf("wrong handler invoked") })
	msg := NewMessage(MsgRadioEnable).Build()
	if r.Dispatch(msg) {
		t.Fatalf("dispatch should report no handler for unregistered type")
	}
}

func TestRegistryUnregisterFirstMatchOnly(t *testing.T) {
	r := NewCallbackRegistry()
	hits := 0
	_ = r.Register(MsgUser, func(*Message) { hits++ })
	_ = r.Register(MsgUser, func(*Message) { hits++ })
	r.Unregister(MsgUser)

	r.Dispatch(NewMessage(MsgUser).Raw(nil).Build())
	if hits != 1 {
		t.Fatalf("hits = %d, want 1 (one handler should remain)", hits)
	}
}
