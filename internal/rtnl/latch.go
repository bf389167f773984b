package rtnl

// errLatch is a single-slot store for failures raised by the observer.
// Observer calls happen nested inside notification dispatch, which cannot
// unwind through the transport; the first failure is parked here and drained
// at the next externally observable call boundary. Later captures while the
// slot is occupied are dropped.
type errLatch struct {
	err *ObserverError
}

func (l *errLatch) capture(op string, err error) {
	if l.err != nil {
		return // first error wins
	}
	l.err = &ObserverError{Op: op, Err: err}
}

func (l *errLatch) occupied() bool { return l.err != nil }

// drain clears and returns the captured failure, if any.
func (l *errLatch) drain() error {
	if l.err == nil {
		return nil
	}
	err := l.err
	l.err = nil
	return err
}
