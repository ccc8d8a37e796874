package ipc

// Handlers 底层通道上的三个事件回调，对应 endpoint 的 bound/received/error。
// Received 在通道自己的上下文中被调用，实现必须立即返回，不得阻塞。
type Handlers struct {
	Bound    func()
	Received func(frame []byte)
	Error    func(err error)
}

// Channel 两核之间的"物理"通道抽象。帧为不透明字节串，按整帧投递，
// 尽力而为：不重传、不去重、不保证对端存活。
type Channel interface {
	// Open 注册事件回调并打开通道；对端就绪后触发 Bound
	Open(h Handlers) error
	// Send 发送一帧，整帧拷贝，不持有调用方缓冲
	Send(frame []byte) error
	Close() error
}
