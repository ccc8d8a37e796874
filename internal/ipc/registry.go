package ipc

import (
	"sync"

	"github.com/hongjun500/lightcore/pkg/logger"
)

// MaxCallbacks 回调表槽位数。固定容量是刻意设计：受限内核上不做动态扩容
const MaxCallbacks = 16

// MessageHandler 处理消息的函数类型
type MessageHandler func(msg *Message)

type callbackEntry struct {
	typ    MsgType
	fn     MessageHandler
	active bool
}

// CallbackRegistry 消息类型到处理函数的定长注册表。
// 同一类型允许注册多个 handler，分发时按注册顺序全部调用；
// 注销只回收槽位（active=false），不做压缩。
type CallbackRegistry struct {
	mu    sync.Mutex
	slots [MaxCallbacks]callbackEntry
}

func NewCallbackRegistry() *CallbackRegistry {
	return &CallbackRegistry{}
}

// Register 占用第一个空闲槽位；槽位耗尽时注册被丢弃并返回 ErrRegistryFull
func (r *CallbackRegistry) Register(t MsgType, fn MessageHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.slots {
		if !r.slots[i].active {
			r.slots[i] = callbackEntry{typ: t, fn: fn, active: true}
			return nil
		}
	}
	logger.M("ipc_core").Errorw("callback_registry_full", "type", t.String(), "max", MaxCallbacks)
	return ErrRegistryFull
}

// Unregister 注销第一个匹配槽位（仅一个，不是全部）
func (r *CallbackRegistry) Unregister(t MsgType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.slots {
		if r.slots[i].active && r.slots[i].typ == t {
			r.slots[i].active = false
			return
		}
	}
}

// Dispatch 按注册顺序调用所有匹配的活跃 handler，返回是否有任一 handler 执行。
// handler 在锁外调用，注册表锁只保护槽位快照。
func (r *CallbackRegistry) Dispatch(msg *Message) bool {
	var matched []MessageHandler
	r.mu.Lock()
	for i := range r.slots {
		if r.slots[i].active && r.slots[i].typ == msg.Type && r.slots[i].fn != nil {
			matched = append(matched, r.slots[i].fn)
		}
	}
	r.mu.Unlock()

	for _, fn := range matched {
		fn(msg)
	}
	return len(matched) > 0
}

// ActiveCount 当前活跃槽位数
func (r *CallbackRegistry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for i := range r.slots {
		if r.slots[i].active {
			n++
		}
	}
	return n
}
