package ipc

import (
	"fmt"
)

// IPC 层错误定义
var (
	ErrNotReady       = NewIPCError(2001, "IPC transport not ready", "")
	ErrBindTimeout    = NewIPCError(2002, "Timeout waiting for endpoint binding", "")
	ErrAckTimeout     = NewIPCError(2003, "Timeout waiting for ACK", "")
	ErrBadFrameSize   = NewIPCError(2004, "Received frame size mismatch", "")
	ErrInvalidMessage = NewIPCError(2005, "Invalid message", "")
	ErrRegistryFull   = NewIPCError(2006, "No free callback slots", "")
	ErrClosed         = NewIPCError(2007, "IPC transport closed", "")
)

type ipcError struct {
	code    int
	msg     string
	context string
}

func (e *ipcError) Error() string {
	if e.context != "" {
		return fmt.Sprintf("Error %d: %s (context: %s)", e.code, e.msg, e.context)
	}
	return fmt.Sprintf("Error %d: %s", e.code, e.msg)
}

func NewIPCError(code int, message string, context string) *ipcError {
	return &ipcError{
		code:    code,
		msg:     message,
		context: context,
	}
}
