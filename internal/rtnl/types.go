package rtnl

import (
	"fmt"
	"net"
)

// Link is the cached view of a kernel network interface.
type Link struct {
	Ifindex int    `json:"ifindex"`
	Name    string `json:"name"`
	Flags   uint32 `json:"flags"` // raw IFF_* bits
	ARPType int    `json:"arptype"`
	Family  int    `json:"family"`

	IsVLAN   bool `json:"is_vlan"`
	VLANID   int  `json:"vlan_id,omitempty"`   // valid only when IsVLAN
	VLANLink int  `json:"vlan_link,omitempty"` // parent ifindex, valid only when IsVLAN
}

// linkKey identifies a link in the cache. Family is part of the identity to
// match the kernel's own object identity for links.
type linkKey struct {
	ifindex int
	family  int
}

func (l Link) key() linkKey { return linkKey{ifindex: l.Ifindex, family: l.Family} }

// Addr is the cached view of an interface address.
type Addr struct {
	Ifindex   int    `json:"ifindex"`
	Flags     uint32 `json:"flags"`
	Family    int    `json:"family"`
	Scope     int    `json:"scope"`
	PrefixLen int    `json:"prefixlen"`
	Local     string `json:"local,omitempty"` // "" when no address is configured
}

type addrKey struct {
	ifindex   int
	family    int
	prefixLen int
	local     string
}

func (a Addr) key() addrKey {
	return addrKey{ifindex: a.Ifindex, family: a.Family, prefixLen: a.PrefixLen, local: a.Local}
}

// Route is the cached view of a forwarding-table entry. Only the first
// next-hop of a multipath route is modeled; NhIfindex is -1 when the route
// has no next-hops at all.
type Route struct {
	Family    int    `json:"family"`
	Type      int    `json:"type"`
	Table     int    `json:"table"`
	Tos       int    `json:"tos"`
	Priority  int    `json:"priority"`
	Dst       string `json:"dst"` // "default" for a zero-length destination
	NhIfindex int    `json:"nh_ifindex"`
}

type routeKey struct {
	family   int
	tos      int
	table    int
	priority int
	dst      string
}

func (r Route) key() routeKey {
	return routeKey{family: r.Family, tos: r.Tos, table: r.Table, priority: r.Priority, dst: r.Dst}
}

// formatAddr renders an interface address the way it appears in payloads:
// host-prefix addresses collapse to the bare IP, everything else keeps its
// prefix length.
func formatAddr(ip net.IP, prefixLen int) string {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	if prefixLen == len(ip)*8 {
		return ip.String()
	}
	return fmt.Sprintf("%s/%d", ip, prefixLen)
}

// formatDst renders a route destination. A zero-length destination is the
// "default" sentinel.
func formatDst(dst net.IP, prefixLen int) string {
	if prefixLen == 0 || dst == nil {
		return "default"
	}
	return formatAddr(dst, prefixLen)
}
