package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Masterminds/semver"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/rtmond/pkg/version"
)

// minVersionHeader lets a client refuse to talk to servers older than the
// event schema it expects.
const minVersionHeader = "X-Min-Server-Version"

func accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, context.Context, error) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return nil, nil, err
	}
	return c, r.Context(), nil
}

// StreamEvents upgrades the request to a WebSocket and relays network change
// events to the client: a snapshot of the current caches as "new" events
// first, then live changes, each as one JSON text message.
func StreamEvents(s *Service, w http.ResponseWriter, r *http.Request) {
	if err := checkMinVersion(r); err != nil {
		http.Error(w, err.Error(), http.StatusPreconditionFailed)
		return
	}

	c, ctx, err := accept(w, r)
	if err != nil {
		log.Error("Failed to accept client:", err)
		return
	}
	defer c.Close(websocket.StatusNormalClosure, "closing")

	clientID := uuid.New().String()
	log.WithField("client", clientID).Info("Event stream client connected")
	defer log.WithField("client", clientID).Info("Event stream client disconnected")

	// Create a new context that we can cancel.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, unsub := s.nm.Subscribe()
	defer unsub()

	// Detect client-side close.
	go func() {
		for {
			if _, _, err := c.Read(ctx); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			b, err := json.Marshal(ev)
			if err != nil {
				log.WithField("client", clientID).WithError(err).Error("Failed to encode event")
				continue
			}
			if err := c.Write(ctx, websocket.MessageText, b); err != nil {
				return
			}
		}
	}
}

// checkMinVersion rejects the request when the client demands a newer server
// than this one. Development builds carry no comparable version and pass.
func checkMinVersion(r *http.Request) error {
	want := r.Header.Get(minVersionHeader)
	if want == "" {
		return nil
	}

	min, err := semver.NewVersion(want)
	if err != nil {
		return fmt.Errorf("invalid %s header %q: %w", minVersionHeader, want, err)
	}

	have, err := semver.NewVersion(version.Version)
	if err != nil {
		// Unversioned development build, let it through.
		return nil
	}

	if have.LessThan(min) {
		return fmt.Errorf("server version %s is older than required %s", version.Version, want)
	}
	return nil
}
