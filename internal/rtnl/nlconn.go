package rtnl

import (
	"fmt"
	"net"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netlink/nl"
	"golang.org/x/sys/unix"
)

var native = nl.NativeEndian()

// kindGroups lists the rtnetlink multicast groups per object kind.
var kindGroups = map[kind][]int{
	kindLink:  {unix.RTNLGRP_LINK},
	kindAddr:  {unix.RTNLGRP_IPV4_IFADDR, unix.RTNLGRP_IPV6_IFADDR},
	kindRoute: {unix.RTNLGRP_IPV4_ROUTE, unix.RTNLGRP_IPV6_ROUTE},
}

// nlconn is the real transport: one NETLINK_ROUTE socket carries the
// notification stream, while initial enumerations run as request/dump
// round trips on transient sockets.
type nlconn struct {
	sock *nl.NetlinkSocket
}

func dialNetlink() (conn, error) {
	sock, err := nl.Subscribe(unix.NETLINK_ROUTE)
	if err != nil {
		return nil, err
	}
	return &nlconn{sock: sock}, nil
}

func (c *nlconn) Fd() int { return c.sock.GetFd() }

func (c *nlconn) Join(k kind) error {
	for _, group := range kindGroups[k] {
		err := unix.SetsockoptInt(c.sock.GetFd(), unix.SOL_NETLINK, unix.NETLINK_ADD_MEMBERSHIP, group)
		if err != nil {
			return fmt.Errorf("join group %d: %w", group, err)
		}
	}
	return nil
}

func (c *nlconn) Close() error {
	c.sock.Close()
	return nil
}

func (c *nlconn) Receive() ([]update, error) {
	msgs, _, err := c.sock.Receive()
	if err != nil {
		return nil, err
	}
	updates := make([]update, 0, len(msgs))
	for _, msg := range msgs {
		u, ok, err := decodeMessage(msg.Header.Type, msg.Data)
		if err != nil {
			log.WithError(err).WithField("type", msg.Header.Type).
				Debug("Dropping undecodable rtnetlink message")
			continue
		}
		if ok {
			updates = append(updates, u)
		}
	}
	return updates, nil
}

func (c *nlconn) DumpLinks() ([]Link, error) {
	req := nl.NewNetlinkRequest(unix.RTM_GETLINK, unix.NLM_F_DUMP)
	req.AddData(nl.NewIfInfomsg(unix.AF_UNSPEC))
	msgs, err := req.Execute(unix.NETLINK_ROUTE, unix.RTM_NEWLINK)
	if err != nil {
		return nil, err
	}
	links := make([]Link, 0, len(msgs))
	for _, m := range msgs {
		l, err := decodeLink(m)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, nil
}

func (c *nlconn) DumpAddrs() ([]Addr, error) {
	req := nl.NewNetlinkRequest(unix.RTM_GETADDR, unix.NLM_F_DUMP)
	req.AddData(nl.NewIfInfomsg(unix.AF_UNSPEC))
	msgs, err := req.Execute(unix.NETLINK_ROUTE, unix.RTM_NEWADDR)
	if err != nil {
		return nil, err
	}
	addrs := make([]Addr, 0, len(msgs))
	for _, m := range msgs {
		a, err := decodeAddr(m)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
	}
	return addrs, nil
}

func (c *nlconn) DumpRoutes() ([]Route, error) {
	req := nl.NewNetlinkRequest(unix.RTM_GETROUTE, unix.NLM_F_DUMP)
	req.AddData(nl.NewIfInfomsg(unix.AF_UNSPEC))
	msgs, err := req.Execute(unix.NETLINK_ROUTE, unix.RTM_NEWROUTE)
	if err != nil {
		return nil, err
	}
	routes := make([]Route, 0, len(msgs))
	for _, m := range msgs {
		r, err := decodeRoute(m)
		if err != nil {
			return nil, err
		}
		routes = append(routes, r)
	}
	return routes, nil
}

// decodeMessage picks apart one notification. The second return is false
// for message types outside the three mirrored tables.
func decodeMessage(typ uint16, data []byte) (update, bool, error) {
	switch typ {
	case unix.RTM_NEWLINK, unix.RTM_DELLINK:
		l, err := decodeLink(data)
		if err != nil {
			return update{}, false, err
		}
		return update{Kind: kindLink, Del: typ == unix.RTM_DELLINK, Link: l}, true, nil
	case unix.RTM_NEWADDR, unix.RTM_DELADDR:
		a, err := decodeAddr(data)
		if err != nil {
			return update{}, false, err
		}
		return update{Kind: kindAddr, Del: typ == unix.RTM_DELADDR, Addr: a}, true, nil
	case unix.RTM_NEWROUTE, unix.RTM_DELROUTE:
		r, err := decodeRoute(data)
		if err != nil {
			return update{}, false, err
		}
		return update{Kind: kindRoute, Del: typ == unix.RTM_DELROUTE, Route: r}, true, nil
	default:
		return update{}, false, nil
	}
}

func decodeLink(data []byte) (Link, error) {
	ifmsg := nl.DeserializeIfInfomsg(data)
	base, err := netlink.LinkDeserialize(nil, data)
	if err != nil {
		return Link{}, fmt.Errorf("link message: %w", err)
	}
	l := Link{
		Ifindex: int(ifmsg.Index),
		Name:    base.Attrs().Name,
		Flags:   ifmsg.Flags,
		ARPType: int(ifmsg.Type),
		Family:  int(ifmsg.Family),
	}
	if vlan, ok := base.(*netlink.Vlan); ok {
		l.IsVLAN = true
		l.VLANID = vlan.VlanId
		l.VLANLink = vlan.Attrs().ParentIndex
	}
	return l, nil
}

func decodeAddr(data []byte) (Addr, error) {
	msg := nl.DeserializeIfAddrmsg(data)
	attrs, err := nl.ParseRouteAttr(data[msg.Len():])
	if err != nil {
		return Addr{}, fmt.Errorf("addr message: %w", err)
	}
	a := Addr{
		Ifindex:   int(msg.Index),
		Flags:     uint32(msg.Flags),
		Family:    int(msg.Family),
		Scope:     int(msg.Scope),
		PrefixLen: int(msg.Prefixlen),
	}
	var local, address net.IP
	for _, attr := range attrs {
		switch attr.Attr.Type {
		case unix.IFA_ADDRESS:
			address = net.IP(attr.Value)
		case unix.IFA_LOCAL:
			local = net.IP(attr.Value)
		case unix.IFA_FLAGS:
			// 32-bit extension of the 8-bit header flags.
			a.Flags = native.Uint32(attr.Value)
		}
	}
	// IPv4 carries the local address in IFA_LOCAL; IPv6 only ever sets
	// IFA_ADDRESS.
	if local == nil {
		local = address
	}
	if local != nil {
		a.Local = formatAddr(local, a.PrefixLen)
	}
	return a, nil
}

func decodeRoute(data []byte) (Route, error) {
	msg := nl.DeserializeRtMsg(data)
	attrs, err := nl.ParseRouteAttr(data[msg.Len():])
	if err != nil {
		return Route{}, fmt.Errorf("route message: %w", err)
	}
	r := Route{
		Family:    int(msg.Family),
		Type:      int(msg.Type),
		Table:     int(msg.Table),
		Tos:       int(msg.Tos),
		NhIfindex: -1,
	}
	var dst net.IP
	oif := -1
	firstHop := -1
	for _, attr := range attrs {
		switch attr.Attr.Type {
		case unix.RTA_DST:
			dst = net.IP(attr.Value)
		case unix.RTA_OIF:
			oif = int(native.Uint32(attr.Value))
		case unix.RTA_PRIORITY:
			r.Priority = int(native.Uint32(attr.Value))
		case unix.RTA_TABLE:
			// 32-bit table id; the header field only holds 0..255.
			r.Table = int(native.Uint32(attr.Value))
		case unix.RTA_MULTIPATH:
			if len(attr.Value) >= unix.SizeofRtNexthop {
				if nh := nl.DeserializeRtNexthop(attr.Value); nh != nil {
					firstHop = int(nh.RtNexthop.Ifindex)
				}
			}
		}
	}
	// Only the first next-hop of a multipath route is modeled.
	switch {
	case firstHop >= 0:
		r.NhIfindex = firstHop
	case oif >= 0:
		r.NhIfindex = oif
	}
	r.Dst = formatDst(dst, int(msg.Dst_len))
	return r, nil
}

// nlControl is a transient NETLINK_ROUTE request socket for synchronous
// change requests.
type nlControl struct {
	sock *nl.NetlinkSocket
}

func dialNetlinkControl() (controlConn, error) {
	sock, err := nl.Subscribe(unix.NETLINK_ROUTE)
	if err != nil {
		return nil, err
	}
	return &nlControl{sock: sock}, nil
}

func (c *nlControl) Close() error {
	c.sock.Close()
	return nil
}

func (c *nlControl) LinkChange(ifindex int, flags, mask uint32) error {
	req := nl.NewNetlinkRequest(unix.RTM_NEWLINK, unix.NLM_F_ACK)
	msg := nl.NewIfInfomsg(unix.AF_UNSPEC)
	msg.Index = int32(ifindex)
	msg.Flags = flags
	msg.Change = mask
	req.AddData(msg)

	if err := c.sock.Send(req); err != nil {
		return err
	}
	return c.awaitAck(req.Seq)
}

// awaitAck waits for the kernel's NLMSG_ERROR reply to our sequence number:
// errno 0 is the ack, anything else is the rejection.
func (c *nlControl) awaitAck(seq uint32) error {
	for {
		msgs, _, err := c.sock.Receive()
		if err != nil {
			return err
		}
		for _, m := range msgs {
			if m.Header.Seq != seq || m.Header.Type != unix.NLMSG_ERROR {
				continue
			}
			if len(m.Data) < 4 {
				return fmt.Errorf("truncated ack")
			}
			errno := int32(native.Uint32(m.Data[0:4]))
			if errno == 0 {
				return nil
			}
			return syscall.Errno(-errno)
		}
	}
}
