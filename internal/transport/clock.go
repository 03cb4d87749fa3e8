package transport

import "time"

// Clock schedules the reconnect and heartbeat callbacks. Production code
// uses RealClock; tests inject a fake that fires callbacks on demand.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending callback that can be cancelled.
type Timer interface {
	// Stop prevents the callback from running. Returns false if it has
	// already fired or been stopped.
	Stop() bool
}

type realClock struct{}

// RealClock returns a Clock backed by time.AfterFunc.
func RealClock() Clock { return realClock{} }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
