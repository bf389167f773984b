package monitor

import (
	"github.com/dmdmdm-nz/rtmond/internal/rtnl"
)

type Kind string

const (
	KindLink  Kind = "link"
	KindAddr  Kind = "addr"
	KindRoute Kind = "route"
)

// Event is a single cache change fanned out to subscribers. Exactly one of
// Link, Addr and Route is set, matching Kind.
type Event struct {
	Kind   Kind            `json:"kind"`
	Action rtnl.Action     `json:"action"`
	Link   *rtnl.LinkData  `json:"link,omitempty"`
	Addr   *rtnl.AddrData  `json:"addr,omitempty"`
	Route  *rtnl.RouteData `json:"route,omitempty"`
}
