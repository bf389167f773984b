package rtnl

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink/nl"
	"golang.org/x/sys/unix"
)

func buildLinkMsg(ifindex int, name string, flags uint32, attrs ...[]byte) []byte {
	msg := nl.NewIfInfomsg(unix.AF_UNSPEC)
	msg.Index = int32(ifindex)
	msg.Flags = flags
	msg.Type = unix.ARPHRD_ETHER
	b := msg.Serialize()
	b = append(b, nl.NewRtAttr(unix.IFLA_IFNAME, nl.ZeroTerminated(name)).Serialize()...)
	for _, a := range attrs {
		b = append(b, a...)
	}
	return b
}

func TestDecodeLink_Basic(t *testing.T) {
	data := buildLinkMsg(2, "eth0", unix.IFF_UP|unix.IFF_BROADCAST)

	l, err := decodeLink(data)
	require.NoError(t, err)
	assert.Equal(t, 2, l.Ifindex)
	assert.Equal(t, "eth0", l.Name)
	assert.Equal(t, uint32(unix.IFF_UP|unix.IFF_BROADCAST), l.Flags)
	assert.Equal(t, unix.ARPHRD_ETHER, l.ARPType)
	assert.False(t, l.IsVLAN)
}

func TestDecodeLink_VLAN(t *testing.T) {
	linkinfo := nl.NewRtAttr(unix.IFLA_LINKINFO, nil)
	linkinfo.AddRtAttr(nl.IFLA_INFO_KIND, nl.ZeroTerminated("vlan"))
	data := linkinfo.AddRtAttr(nl.IFLA_INFO_DATA, nil)
	data.AddRtAttr(nl.IFLA_VLAN_ID, nl.Uint16Attr(100))

	raw := buildLinkMsg(9, "eth0.100", unix.IFF_UP,
		nl.NewRtAttr(unix.IFLA_LINK, nl.Uint32Attr(2)).Serialize(),
		linkinfo.Serialize())

	l, err := decodeLink(raw)
	require.NoError(t, err)
	assert.True(t, l.IsVLAN)
	assert.Equal(t, 100, l.VLANID)
	assert.Equal(t, 2, l.VLANLink)
	assert.Equal(t, "eth0.100", l.Name)
}

func TestDecodeAddr_IPv4Local(t *testing.T) {
	msg := nl.NewIfAddrmsg(unix.AF_INET)
	msg.Index = 3
	msg.Prefixlen = 24
	msg.Scope = unix.RT_SCOPE_UNIVERSE
	b := msg.Serialize()
	b = append(b, nl.NewRtAttr(unix.IFA_LOCAL, net.ParseIP("192.168.1.5").To4()).Serialize()...)
	b = append(b, nl.NewRtAttr(unix.IFA_FLAGS, nl.Uint32Attr(unix.IFA_F_PERMANENT)).Serialize()...)

	a, err := decodeAddr(b)
	require.NoError(t, err)
	assert.Equal(t, 3, a.Ifindex)
	assert.Equal(t, unix.AF_INET, a.Family)
	assert.Equal(t, "192.168.1.5/24", a.Local)
	assert.Equal(t, uint32(unix.IFA_F_PERMANENT), a.Flags)
}

func TestDecodeAddr_IPv6FallsBackToAddress(t *testing.T) {
	msg := nl.NewIfAddrmsg(unix.AF_INET6)
	msg.Index = 2
	msg.Prefixlen = 128
	b := msg.Serialize()
	b = append(b, nl.NewRtAttr(unix.IFA_ADDRESS, net.ParseIP("fe80::1").To16()).Serialize()...)

	a, err := decodeAddr(b)
	require.NoError(t, err)
	assert.Equal(t, "fe80::1", a.Local, "host prefix collapses to the bare address")
}

func buildRouteMsg(family uint8, dstLen uint8, attrs ...[]byte) []byte {
	msg := nl.NewRtMsg()
	msg.Family = family
	msg.Dst_len = dstLen
	msg.Table = unix.RT_TABLE_MAIN
	msg.Type = unix.RTN_UNICAST
	b := msg.Serialize()
	for _, a := range attrs {
		b = append(b, a...)
	}
	return b
}

func TestDecodeRoute_SingleNexthop(t *testing.T) {
	raw := buildRouteMsg(unix.AF_INET, 24,
		nl.NewRtAttr(unix.RTA_DST, net.ParseIP("10.0.0.0").To4()).Serialize(),
		nl.NewRtAttr(unix.RTA_OIF, nl.Uint32Attr(3)).Serialize())

	r, err := decodeRoute(raw)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.0/24", r.Dst)
	assert.Equal(t, 3, r.NhIfindex)
	assert.Equal(t, unix.RT_TABLE_MAIN, r.Table)
	assert.Equal(t, unix.RTN_UNICAST, r.Type)
}

func TestDecodeRoute_DefaultAndNoNexthop(t *testing.T) {
	raw := buildRouteMsg(unix.AF_INET, 0)

	r, err := decodeRoute(raw)
	require.NoError(t, err)
	assert.Equal(t, "default", r.Dst)
	assert.Equal(t, -1, r.NhIfindex, "a route with no next-hops reports -1")
}

func TestDecodeRoute_MultipathUsesFirstHop(t *testing.T) {
	// Two rtnexthop entries; only the first one's interface is reported.
	hop := func(ifindex uint32) []byte {
		b := make([]byte, unix.SizeofRtNexthop)
		native.PutUint16(b[0:2], unix.SizeofRtNexthop)
		native.PutUint32(b[4:8], ifindex)
		return b
	}
	mp := append(hop(7), hop(8)...)
	raw := buildRouteMsg(unix.AF_INET, 24,
		nl.NewRtAttr(unix.RTA_DST, net.ParseIP("10.0.0.0").To4()).Serialize(),
		nl.NewRtAttr(unix.RTA_MULTIPATH, mp).Serialize())

	r, err := decodeRoute(raw)
	require.NoError(t, err)
	assert.Equal(t, 7, r.NhIfindex)
}

func TestDecodeRoute_WideTableAttr(t *testing.T) {
	raw := buildRouteMsg(unix.AF_INET, 0,
		nl.NewRtAttr(unix.RTA_TABLE, nl.Uint32Attr(1000)).Serialize())

	r, err := decodeRoute(raw)
	require.NoError(t, err)
	assert.Equal(t, 1000, r.Table)
}

func TestDecodeMessage_UnhandledTypeIgnored(t *testing.T) {
	_, ok, err := decodeMessage(unix.RTM_NEWNEIGH, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}
