package rtnl

// kind enumerates the three kernel object tables mirrored by the caches.
type kind int

const (
	kindLink kind = iota
	kindAddr
	kindRoute
)

func (k kind) String() string {
	switch k {
	case kindLink:
		return "link"
	case kindAddr:
		return "addr"
	case kindRoute:
		return "route"
	}
	return "unknown"
}

// update is one decoded kernel notification. Exactly one of Link, Addr or
// Route is meaningful, selected by Kind.
type update struct {
	Kind  kind
	Del   bool // RTM_DEL*, otherwise RTM_NEW*
	Link  Link
	Addr  Addr
	Route Route
}

// conn is the slice of the rtnetlink transport the manager drives. The real
// implementation is a subscribed NETLINK_ROUTE socket; tests substitute a
// fake.
type conn interface {
	// Fd returns the pollable descriptor signalling pending notifications.
	Fd() int
	// Join subscribes the socket to the multicast groups for one object kind.
	Join(k kind) error
	// Dump* perform a full kernel enumeration of one object table.
	DumpLinks() ([]Link, error)
	DumpAddrs() ([]Addr, error)
	DumpRoutes() ([]Route, error)
	// Receive reads and decodes the buffered notification batch. It blocks
	// when nothing is pending, so call it only after Fd signalled readable.
	Receive() ([]update, error)
	Close() error
}

// controlConn is a transient connection for synchronous change requests.
type controlConn interface {
	// LinkChange submits a flag change for a link. Only the bits in mask are
	// touched; flags carries their new values.
	LinkChange(ifindex int, flags, mask uint32) error
	Close() error
}
