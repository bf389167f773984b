package rtnl

// translator builds the observer payload for a cache entity and delivers it.
// While the latch holds an earlier failure no further events go out; a
// failure raised by the observer is captured, never propagated, so dispatch
// always runs to completion.
type translator struct {
	observer Observer
	latch    *errLatch
}

func (t *translator) linkChange(act Action, l Link) {
	if t.latch.occupied() {
		return
	}
	if err := t.observer.LinkChange(act, l.Data()); err != nil {
		t.latch.capture("link_change", err)
	}
}

func (t *translator) addrChange(act Action, a Addr) {
	if t.latch.occupied() {
		return
	}
	if err := t.observer.AddrChange(act, a.Data()); err != nil {
		t.latch.capture("addr_change", err)
	}
}

func (t *translator) routeChange(act Action, r Route) {
	if t.latch.occupied() {
		return
	}
	if err := t.observer.RouteChange(act, r.Data()); err != nil {
		t.latch.capture("route_change", err)
	}
}

// Data builds the event payload for a link.
func (l Link) Data() LinkData {
	d := LinkData{
		Ifindex: l.Ifindex,
		Flags:   l.Flags,
		ARPType: l.ARPType,
		Family:  l.Family,
		IsVLAN:  l.IsVLAN,
	}
	if l.Name != "" {
		d.Name = &l.Name
	}
	if l.IsVLAN {
		d.VLANID = &l.VLANID
		d.VLANLink = &l.VLANLink
	}
	return d
}

// Data builds the event payload for an address.
func (a Addr) Data() AddrData {
	d := AddrData{
		Ifindex: a.Ifindex,
		Flags:   a.Flags,
		Family:  a.Family,
		Scope:   a.Scope,
	}
	if a.Local != "" {
		d.Local = &a.Local
	}
	return d
}

// Data builds the event payload for a route.
func (r Route) Data() RouteData {
	return RouteData{
		Family:  r.Family,
		Type:    r.Type,
		Table:   r.Table,
		Dst:     r.Dst,
		Ifindex: r.NhIfindex,
	}
}
