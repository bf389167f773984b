package monitor

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/songgao/water"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// Exercises the real netlink socket end to end: creates a TUN device, waits
// for its link event, flips IFF_UP through the service and watches the
// change come back from the kernel. Needs CAP_NET_ADMIN, so it only runs as
// root.
func TestService_KernelRoundTrip(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("requires root to create a TUN device")
	}

	s := NewService()
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.Start(ctx)
	}()

	ch, unsub := s.Subscribe()
	defer unsub()

	ifce, err := water.New(water.Config{
		DeviceType: water.TUN,
	})
	require.NoError(t, err)
	defer ifce.Close()

	ifindex := awaitLink(t, ch, ifce.Name())
	require.NotZero(t, ifindex)

	require.NoError(t, s.SetLinkUp(ifindex))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == KindLink && ev.Link != nil && ev.Link.Ifindex == ifindex {
				// NO-CARRIER TUN devices still set IFF_UP.
				if ev.Link.Flags&unix.IFF_UP != 0 {
					cancel()
					assert.NoError(t, <-done)
					return
				}
			}
		case <-deadline:
			t.Fatal("timeout waiting for link up notification")
		}
	}
}

func awaitLink(t *testing.T, ch <-chan Event, name string) int {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == KindLink && ev.Link != nil && ev.Link.Name != nil && *ev.Link.Name == name {
				return ev.Link.Ifindex
			}
		case <-deadline:
			t.Fatalf("timeout waiting for link event for %s", name)
		}
	}
}
