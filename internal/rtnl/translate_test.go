package rtnl

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestLinkData_OptionalFields(t *testing.T) {
	plain := Link{Ifindex: 2, Flags: unix.IFF_UP, ARPType: unix.ARPHRD_ETHER}.Data()
	assert.Nil(t, plain.Name, "no name reported, none in the payload")
	assert.False(t, plain.IsVLAN)
	assert.Nil(t, plain.VLANID)
	assert.Nil(t, plain.VLANLink)

	vlan := Link{
		Ifindex: 9, Name: "eth0.100", Flags: unix.IFF_UP,
		IsVLAN: true, VLANID: 100, VLANLink: 2,
	}.Data()
	require.NotNil(t, vlan.Name)
	assert.Equal(t, "eth0.100", *vlan.Name)
	require.NotNil(t, vlan.VLANID)
	assert.Equal(t, 100, *vlan.VLANID)
	require.NotNil(t, vlan.VLANLink)
	assert.Equal(t, 2, *vlan.VLANLink)
}

func TestAddrData_LocalOnlyWhenConfigured(t *testing.T) {
	bare := Addr{Ifindex: 3, Family: unix.AF_INET}.Data()
	assert.Nil(t, bare.Local)

	configured := Addr{Ifindex: 3, Family: unix.AF_INET, Local: "10.0.0.1/24"}.Data()
	require.NotNil(t, configured.Local)
	assert.Equal(t, "10.0.0.1/24", *configured.Local)
}

func TestRouteData_FirstNexthopOnly(t *testing.T) {
	d := Route{Family: unix.AF_INET, Table: unix.RT_TABLE_MAIN, Dst: "default", NhIfindex: -1}.Data()
	assert.Equal(t, -1, d.Ifindex)
	assert.Equal(t, "default", d.Dst)
}

func TestFormatAddr_HostPrefixCollapses(t *testing.T) {
	assert.Equal(t, "192.168.1.5", formatAddr(net.ParseIP("192.168.1.5"), 32))
	assert.Equal(t, "192.168.1.5/24", formatAddr(net.ParseIP("192.168.1.5"), 24))
	assert.Equal(t, "fe80::1", formatAddr(net.ParseIP("fe80::1"), 128))
	assert.Equal(t, "2001:db8::/64", formatAddr(net.ParseIP("2001:db8::"), 64))
}

func TestFormatDst_DefaultSentinel(t *testing.T) {
	assert.Equal(t, "default", formatDst(nil, 0))
	assert.Equal(t, "default", formatDst(net.IPv4zero, 0))
	assert.Equal(t, "10.0.0.0/24", formatDst(net.ParseIP("10.0.0.0"), 24))
	assert.Equal(t, "10.0.0.7", formatDst(net.ParseIP("10.0.0.7"), 32))
}

func TestTranslator_HoldsDeliveryWhileLatched(t *testing.T) {
	obs := &recObserver{}
	latch := &errLatch{}
	tr := translator{observer: obs, latch: latch}

	latch.capture("route_change", errors.New("stuck"))
	tr.linkChange(ActionNew, Link{Ifindex: 1})
	tr.addrChange(ActionNew, Addr{Ifindex: 1})
	assert.Zero(t, obs.calls, "no deliveries while the latch is occupied")

	require.Error(t, latch.drain())
	tr.linkChange(ActionNew, Link{Ifindex: 1})
	assert.Equal(t, 1, obs.calls)
}
