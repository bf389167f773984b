// Package monitor hosts the rtnetlink cache manager: it owns the poll loop
// that drives the manager's file descriptor, serializes cache access, and
// fans change events out to subscribers.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dmdmdm-nz/rtmond/internal/rtnl"
	"github.com/dmdmdm-nz/rtmond/internal/runtime"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// pollTimeoutMs bounds each poll so context cancellation is noticed promptly.
const pollTimeoutMs = 500

// cache is the slice of rtnl.Manager the service drives. Narrowed for tests.
type cache interface {
	Start() error
	Fileno() int
	DataReady() error
	Close() error
	Links() []rtnl.Link
	Addrs() []rtnl.Addr
	Routes() []rtnl.Route
	SetLinkFlags(ifindex int, flags uint32) error
	UnsetLinkFlags(ifindex int, flags uint32) error
}

type Service struct {
	mu    sync.Mutex // serializes all cache access
	cache cache

	subsMu           sync.Mutex
	subs             map[int]*runtime.SubQueue[Event]
	nextSubscriberID int
	closed           bool
}

func NewService() *Service {
	s := &Service{
		subs: make(map[int]*runtime.SubQueue[Event]),
	}
	s.cache = rtnl.NewManager(s)
	return s
}

// LinkChange implements rtnl.Observer.
func (s *Service) LinkChange(act rtnl.Action, data rtnl.LinkData) error {
	log.WithFields(log.Fields{
		"action":  act,
		"ifindex": data.Ifindex,
	}).Debug("Link change")
	s.broadcast(Event{Kind: KindLink, Action: act, Link: &data})
	return nil
}

// AddrChange implements rtnl.Observer.
func (s *Service) AddrChange(act rtnl.Action, data rtnl.AddrData) error {
	log.WithFields(log.Fields{
		"action":  act,
		"ifindex": data.Ifindex,
	}).Debug("Address change")
	s.broadcast(Event{Kind: KindAddr, Action: act, Addr: &data})
	return nil
}

// RouteChange implements rtnl.Observer.
func (s *Service) RouteChange(act rtnl.Action, data rtnl.RouteData) error {
	log.WithFields(log.Fields{
		"action": act,
		"dst":    data.Dst,
	}).Debug("Route change")
	s.broadcast(Event{Kind: KindRoute, Action: act, Route: &data})
	return nil
}

// Subscribe returns a channel that first replays the current cache contents
// as "new" events and then carries live changes, with no gap between the
// two. The returned function cancels the subscription.
func (s *Service) Subscribe() (<-chan Event, func()) {
	// Take a snapshot.
	s.mu.Lock()
	snapshot := snapshotEvents(s.cache)
	s.mu.Unlock()

	// Create sub with buffer big enough for the snapshot.
	outBuf := len(snapshot) + 16
	sub := runtime.NewSubQueue[Event](outBuf)

	// Register subscriber in paused mode (live events will enqueue).
	s.subsMu.Lock()
	id := s.nextSubscriberID
	s.nextSubscriberID++
	s.subs[id] = sub
	s.subsMu.Unlock()

	// Emit the snapshot directly to the subscriber channel.
	for _, ev := range snapshot {
		sub.OutOfBandSnapshotSend(ev)
	}

	// Transition to live: flush queued live events, then unpause.
	sub.SetPaused(false)

	unsub := func() {
		s.subsMu.Lock()
		if q, ok := s.subs[id]; ok {
			delete(s.subs, id)
			q.Close()
		}
		s.subsMu.Unlock()
	}
	return sub.Chan(), unsub
}

func snapshotEvents(c cache) []Event {
	var evs []Event
	for _, l := range c.Links() {
		d := l.Data()
		evs = append(evs, Event{Kind: KindLink, Action: rtnl.ActionNew, Link: &d})
	}
	for _, a := range c.Addrs() {
		d := a.Data()
		evs = append(evs, Event{Kind: KindAddr, Action: rtnl.ActionNew, Addr: &d})
	}
	for _, r := range c.Routes() {
		d := r.Data()
		evs = append(evs, Event{Kind: KindRoute, Action: rtnl.ActionNew, Route: &d})
	}
	return evs
}

// Start fills the caches and then drains kernel notifications until the
// context is cancelled. Subscriber callback failures are logged and the loop
// keeps going; socket errors end it.
func (s *Service) Start(ctx context.Context) error {
	log.Info("Starting rtnetlink monitoring service")

	s.mu.Lock()
	err := s.cache.Start()
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("starting rtnetlink cache manager: %w", err)
	}

	fd := s.cache.Fileno()

	for {
		select {
		case <-ctx.Done():
			log.Info("Stopping rtnetlink monitoring service")
			return nil
		default:
		}

		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, pollTimeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("polling rtnetlink socket: %w", err)
		}
		if n == 0 {
			continue
		}

		s.mu.Lock()
		err = s.cache.DataReady()
		s.mu.Unlock()
		if err != nil {
			var oerr *rtnl.ObserverError
			if errors.As(err, &oerr) {
				log.WithFields(log.Fields{
					"op":    oerr.Op,
					"error": oerr.Err,
				}).Warn("Subscriber callback failed")
				continue
			}
			return fmt.Errorf("draining rtnetlink notifications: %w", err)
		}
	}
}

// SetLinkUp asks the kernel to bring the interface up.
func (s *Service) SetLinkUp(ifindex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.SetLinkFlags(ifindex, unix.IFF_UP)
}

// SetLinkDown asks the kernel to take the interface down.
func (s *Service) SetLinkDown(ifindex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.UnsetLinkFlags(ifindex, unix.IFF_UP)
}

func (s *Service) Links() []rtnl.Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Links()
}

func (s *Service) Addrs() []rtnl.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Addrs()
}

func (s *Service) Routes() []rtnl.Route {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Routes()
}

func (s *Service) Close() error {
	s.subsMu.Lock()
	if s.closed {
		s.subsMu.Unlock()
		return nil
	}
	s.closed = true
	for id, q := range s.subs {
		q.Close()
		delete(s.subs, id)
	}
	s.subsMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Close()
}

func (s *Service) broadcast(ev Event) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, sub := range s.subs {
		sub.Enqueue(ev)
	}
}
