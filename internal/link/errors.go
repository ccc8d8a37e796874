package link

import "errors"

var (
	// ErrLinkNotBound 对端尚未打开，无法投递
	ErrLinkNotBound = errors.New("link: remote endpoint not bound")
	// ErrLinkClosed 通道已关闭
	ErrLinkClosed = errors.New("link: channel closed")
)
