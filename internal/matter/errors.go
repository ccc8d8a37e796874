package matter

import "errors"

var (
	// ErrWindowOpen 配网窗口已打开
	ErrWindowOpen = errors.New("matter: commissioning window already open")
	// ErrInvalidTransition 请求的状态迁移不在迁移表中
	ErrInvalidTransition = errors.New("matter: invalid state transition")
)
