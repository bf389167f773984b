package rtnl

// Action is the canonical verb attached to a change event. The values
// mirror the rtnetlink notification actions.
type Action string

const (
	ActionUnspec Action = "unspec"
	ActionNew    Action = "new"
	ActionDel    Action = "del"
	ActionGet    Action = "get"
	ActionSet    Action = "set"
	ActionChange Action = "change"
)

// LinkData is the payload delivered with a link change event. Name is
// present only when the kernel reported one; the VLAN fields are present
// only when IsVLAN is set.
type LinkData struct {
	Ifindex  int     `json:"ifindex"`
	Flags    uint32  `json:"flags"`
	ARPType  int     `json:"arptype"`
	Family   int     `json:"family"`
	IsVLAN   bool    `json:"is_vlan"`
	Name     *string `json:"name,omitempty"`
	VLANID   *int    `json:"vlan_id,omitempty"`
	VLANLink *int    `json:"vlan_link,omitempty"`
}

// AddrData is the payload delivered with an address change event. Local is
// present only when an address is actually configured.
type AddrData struct {
	Ifindex int     `json:"ifindex"`
	Flags   uint32  `json:"flags"`
	Family  int     `json:"family"`
	Scope   int     `json:"scope"`
	Local   *string `json:"local,omitempty"`
}

// RouteData is the payload delivered with a route change event. Dst is the
// "default" sentinel for a zero-length destination. Ifindex is the first
// next-hop's interface index, or -1 for a route with no next-hops; only the
// first next-hop of a multipath route is reported.
type RouteData struct {
	Family  int    `json:"family"`
	Type    int    `json:"type"`
	Table   int    `json:"table"`
	Dst     string `json:"dst"`
	Ifindex int    `json:"ifindex"`
}

// Observer receives translated change events. Exactly one method is invoked
// per event, matching the object kind. A returned error stops further
// deliveries and is surfaced by the Manager call that drove the dispatch.
type Observer interface {
	LinkChange(act Action, data LinkData) error
	AddrChange(act Action, data AddrData) error
	RouteChange(act Action, data RouteData) error
}
