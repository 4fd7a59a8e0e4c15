package endpoint

import "errors"

var (
	ErrNotRunning     = errors.New("endpoint not running")
	ErrNotConnected   = errors.New("endpoint not connected")
	ErrConnectionless = errors.New("udp server endpoint has no peer to send to")
	ErrInvalidSetting = errors.New("invalid endpoint setting")
)
