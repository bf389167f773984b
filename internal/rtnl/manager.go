// Package rtnl mirrors the kernel's network configuration state. A Manager
// keeps three caches (links, addresses, routes) synchronized with the kernel
// over the rtnetlink notification groups and reports every change to a
// consumer-supplied Observer as a structured event.
//
// The manager never runs its own loop and never spawns goroutines: the
// caller polls Fileno and invokes DataReady when it becomes readable. All
// operations on one Manager are single-threaded by contract; a
// multi-threaded host must serialize them externally.
package rtnl

import (
	"errors"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Manager owns the kernel-synchronized caches and the notification socket.
type Manager struct {
	observer Observer
	latch    errLatch
	tr       translator

	// dial hooks exist so tests can substitute fake transports.
	dial        func() (conn, error)
	dialControl func() (controlConn, error)

	conn   conn
	links  map[linkKey]Link
	addrs  map[addrKey]Addr
	routes map[routeKey]Route
}

// NewManager creates a manager bound to obs. Nothing touches the kernel
// until Start.
func NewManager(obs Observer) *Manager {
	m := &Manager{
		observer:    obs,
		dial:        dialNetlink,
		dialControl: dialNetlinkControl,
	}
	m.tr = translator{observer: obs, latch: &m.latch}
	return m
}

// Start opens the notification socket, then for each object kind in order
// link, address, route: fills the cache from a full kernel dump and joins
// the kind's notification groups. Any failure releases everything acquired
// so far. Once all three caches exist, one "new" event is synthesized per
// pre-existing object, strictly ordered link, then address, then route, so
// the observer converges to full kernel state without a separate bulk-query
// API. Returns the first latched observer error if one occurred during that
// initial burst.
func (m *Manager) Start() error {
	if m.conn != nil {
		return errors.New("manager already started")
	}

	c, err := m.dial()
	if err != nil {
		return fmt.Errorf("%w: notification socket: %v", ErrAllocation, err)
	}

	links, err := c.DumpLinks()
	if err != nil {
		c.Close()
		return fmt.Errorf("%w: link cache: %v", ErrAllocation, err)
	}
	if err := c.Join(kindLink); err != nil {
		c.Close()
		return fmt.Errorf("%w: link notifications: %v", ErrRegistration, err)
	}

	addrs, err := c.DumpAddrs()
	if err != nil {
		c.Close()
		return fmt.Errorf("%w: addr cache: %v", ErrAllocation, err)
	}
	if err := c.Join(kindAddr); err != nil {
		c.Close()
		return fmt.Errorf("%w: addr notifications: %v", ErrRegistration, err)
	}

	routes, err := c.DumpRoutes()
	if err != nil {
		c.Close()
		return fmt.Errorf("%w: route cache: %v", ErrAllocation, err)
	}
	if err := c.Join(kindRoute); err != nil {
		c.Close()
		return fmt.Errorf("%w: route notifications: %v", ErrRegistration, err)
	}

	m.conn = c
	m.links = make(map[linkKey]Link, len(links))
	m.addrs = make(map[addrKey]Addr, len(addrs))
	m.routes = make(map[routeKey]Route, len(routes))
	for _, l := range links {
		m.links[l.key()] = l
	}
	for _, a := range addrs {
		m.addrs[a.key()] = a
	}
	for _, r := range routes {
		m.routes[r.key()] = r
	}

	log.WithFields(log.Fields{
		"links":  len(links),
		"addrs":  len(addrs),
		"routes": len(routes),
	}).Debug("Initial kernel state cached")

	// Initial sync burst, in dump order per kind.
	for _, l := range links {
		m.tr.linkChange(ActionNew, l)
	}
	for _, a := range addrs {
		m.tr.addrChange(ActionNew, a)
	}
	for _, r := range routes {
		m.tr.routeChange(ActionNew, r)
	}

	return m.latch.drain()
}

// Fileno returns the descriptor the caller's event loop polls for pending
// notifications. Valid only after a successful Start.
func (m *Manager) Fileno() int {
	return m.conn.Fd()
}

// DataReady reads and dispatches the pending notification batch. It runs to
// completion and must not be invoked reentrantly. The latch is drained at
// the end: if the observer failed during dispatch, that failure is returned
// here exactly once and the next call resumes normal delivery.
func (m *Manager) DataReady() error {
	if m.conn == nil {
		return errors.New("manager not started")
	}
	updates, err := m.conn.Receive()
	if err != nil {
		return fmt.Errorf("receive notifications: %w", err)
	}
	for _, u := range updates {
		m.dispatch(u)
	}
	return m.latch.drain()
}

// Close releases the socket and drops the caches. Safe to call more than
// once and on a never-started manager.
func (m *Manager) Close() error {
	var err error
	if m.conn != nil {
		err = m.conn.Close()
		m.conn = nil
	}
	m.links, m.addrs, m.routes = nil, nil, nil
	return err
}

func (m *Manager) dispatch(u update) {
	switch u.Kind {
	case kindLink:
		m.dispatchLink(u)
	case kindAddr:
		m.dispatchAddr(u)
	case kindRoute:
		m.dispatchRoute(u)
	}
}

// dispatchLink reconciles one link notification against the cache. The
// cache decides the canonical action: an unseen object is "new", a cached
// object that differs is "change", and a notification that changes nothing
// observable only refreshes the cache.
func (m *Manager) dispatchLink(u update) {
	key := u.Link.key()
	if u.Del {
		prior, ok := m.links[key]
		delete(m.links, key)
		if ok {
			// Deletions report the prior instance; the current one is gone.
			u.Link = prior
		}
		m.tr.linkChange(ActionDel, u.Link)
		return
	}

	prior, ok := m.links[key]
	m.links[key] = u.Link
	if !ok {
		m.tr.linkChange(ActionNew, u.Link)
		return
	}
	if prior == u.Link {
		return
	}
	if prior.Flags&unix.IFF_UP != 0 && u.Link.Flags&unix.IFF_UP == 0 {
		// The kernel does not withdraw routes over a link that went
		// administratively down. Sweep them out before the link-down event
		// itself becomes observable.
		m.invalidateRoutes(u.Link.Ifindex)
	}
	m.tr.linkChange(ActionChange, u.Link)
}

func (m *Manager) dispatchAddr(u update) {
	key := u.Addr.key()
	if u.Del {
		prior, ok := m.addrs[key]
		delete(m.addrs, key)
		if ok {
			u.Addr = prior
		}
		m.tr.addrChange(ActionDel, u.Addr)
		return
	}

	prior, ok := m.addrs[key]
	m.addrs[key] = u.Addr
	if !ok {
		m.tr.addrChange(ActionNew, u.Addr)
		return
	}
	if prior == u.Addr {
		return
	}
	m.tr.addrChange(ActionChange, u.Addr)
}

func (m *Manager) dispatchRoute(u update) {
	key := u.Route.key()
	if u.Del {
		prior, ok := m.routes[key]
		delete(m.routes, key)
		if ok {
			u.Route = prior
		}
		m.tr.routeChange(ActionDel, u.Route)
		return
	}

	prior, ok := m.routes[key]
	m.routes[key] = u.Route
	if !ok {
		m.tr.routeChange(ActionNew, u.Route)
		return
	}
	if prior == u.Route {
		return
	}
	m.tr.routeChange(ActionChange, u.Route)
}

// invalidateRoutes withdraws every cached route whose first next-hop is the
// given link: each is reported as deleted, as though the kernel had deleted
// it, and removed from the cache. Routes with no next-hops (NhIfindex -1)
// are never candidates.
func (m *Manager) invalidateRoutes(ifindex int) {
	var doomed []routeKey
	for key, r := range m.routes {
		if r.NhIfindex == ifindex {
			doomed = append(doomed, key)
		}
	}
	for _, key := range doomed {
		r := m.routes[key]
		delete(m.routes, key)
		log.WithFields(log.Fields{
			"dst":     r.Dst,
			"ifindex": ifindex,
		}).Debug("Withdrawing route over downed link")
		m.tr.routeChange(ActionDel, r)
	}
}

// Links returns a copy of the link cache, ordered by ifindex.
func (m *Manager) Links() []Link {
	out := make([]Link, 0, len(m.links))
	for _, l := range m.links {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ifindex < out[j].Ifindex })
	return out
}

// Addrs returns a copy of the address cache, ordered by ifindex then address.
func (m *Manager) Addrs() []Addr {
	out := make([]Addr, 0, len(m.addrs))
	for _, a := range m.addrs {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ifindex != out[j].Ifindex {
			return out[i].Ifindex < out[j].Ifindex
		}
		return out[i].Local < out[j].Local
	})
	return out
}

// Routes returns a copy of the route cache, ordered by table then destination.
func (m *Manager) Routes() []Route {
	out := make([]Route, 0, len(m.routes))
	for _, r := range m.routes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Table != out[j].Table {
			return out[i].Table < out[j].Table
		}
		return out[i].Dst < out[j].Dst
	})
	return out
}
