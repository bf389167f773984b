package rtnl

import (
	"errors"
	"fmt"
)

// Sentinel errors for the synchronous failure modes. Callers match them
// with errors.Is; the wrapped message carries the detail.
var (
	// ErrAllocation indicates a cache or socket could not be acquired.
	ErrAllocation = errors.New("allocation failed")

	// ErrRegistration indicates a cache could not subscribe to kernel
	// change notifications.
	ErrRegistration = errors.New("notification registration failed")

	// ErrNotFound indicates a mutation target is absent from the local
	// cache. The cache may lag the kernel; there is no implicit refresh.
	ErrNotFound = errors.New("not found in cache")

	// ErrConnect indicates the transient control connection could not be
	// established.
	ErrConnect = errors.New("control connection failed")

	// ErrRequest indicates the kernel rejected a change request.
	ErrRequest = errors.New("change request rejected")
)

// ObserverError is a failure raised by the observer while it was being
// invoked from inside notification dispatch. It is captured at the dispatch
// boundary and surfaced by the next Start or DataReady return.
type ObserverError struct {
	Op  string // observer operation that failed: link_change, addr_change, route_change
	Err error
}

func (e *ObserverError) Error() string {
	return fmt.Sprintf("observer %s: %v", e.Op, e.Err)
}

func (e *ObserverError) Unwrap() error { return e.Err }
