package rtnl

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// SetLinkFlags ORs the given flag mask into the link's cached flags and
// submits the change to the kernel over a transient control connection.
// Requesting flags that are already set is accepted by the kernel as a
// no-op change.
func (m *Manager) SetLinkFlags(ifindex int, flags uint32) error {
	link, err := m.cachedLink(ifindex)
	if err != nil {
		return err
	}
	return m.requestLinkFlags(ifindex, link.Flags|flags, flags)
}

// UnsetLinkFlags clears the given flag mask from the link's cached flags
// and submits the change. Clearing flags that are already clear succeeds as
// a no-op.
func (m *Manager) UnsetLinkFlags(ifindex int, flags uint32) error {
	link, err := m.cachedLink(ifindex)
	if err != nil {
		return err
	}
	return m.requestLinkFlags(ifindex, link.Flags&^flags, flags)
}

// cachedLink looks a link up by ifindex alone. The cache may lag the
// kernel; an absent link fails rather than triggering a refresh.
func (m *Manager) cachedLink(ifindex int) (Link, error) {
	for _, l := range m.links {
		if l.Ifindex == ifindex {
			return l, nil
		}
	}
	return Link{}, fmt.Errorf("%w: link ifindex %d", ErrNotFound, ifindex)
}

func (m *Manager) requestLinkFlags(ifindex int, flags, mask uint32) error {
	c, err := m.dialControl()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}
	defer c.Close()

	log.WithFields(log.Fields{
		"ifindex": ifindex,
		"flags":   fmt.Sprintf("%#x", flags),
		"mask":    fmt.Sprintf("%#x", mask),
	}).Debug("Submitting link flag change")

	if err := c.LinkChange(ifindex, flags, mask); err != nil {
		return fmt.Errorf("%w: ifindex %d: %v", ErrRequest, ifindex, err)
	}
	return nil
}
