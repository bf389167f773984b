package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/dmdmdm-nz/zeroconf"
	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/rtmond/internal/monitor"
	"github.com/dmdmdm-nz/rtmond/internal/rtnl"
)

const zeroconfService = "_rtmond._tcp"

// NetMonitor is the surface of the monitoring service the API reads and
// mutates through.
type NetMonitor interface {
	Subscribe() (<-chan monitor.Event, func())
	Links() []rtnl.Link
	Addrs() []rtnl.Addr
	Routes() []rtnl.Route
	SetLinkUp(ifindex int) error
	SetLinkDown(ifindex int) error
}

// Service represents the HTTP server for the API
type Service struct {
	address  string
	port     int
	announce bool

	nm NetMonitor

	mu       sync.Mutex
	zcServer *zeroconf.Server
	closed   bool
}

func NewService(host string, port int, announce bool) *Service {
	return &Service{
		address:  host,
		port:     port,
		announce: announce,
	}
}

func (s *Service) AttachMonitor(nm NetMonitor) {
	s.nm = nm
}

// Start initializes and starts the HTTP server
func (s *Service) Start(ctx context.Context) error {
	if s.nm == nil {
		log.Error("AttachMonitor was not called before Start")
		<-ctx.Done()
		return nil
	}

	log.Infof("Starting rtmond API service at %s:%d", s.address, s.port)
	defer log.Info("Stopping rtmond API service")

	if s.announce {
		if err := s.registerZeroconf(); err != nil {
			log.WithError(err).Warn("Failed to announce API service over mDNS, continuing anyway")
		}
	}

	go func() {
		addr := fmt.Sprintf("%s:%d", s.address, s.port)
		if err := http.ListenAndServe(addr, s.buildMux()); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("Failed to start the API service")
		}
	}()

	<-ctx.Done()
	return nil
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if s.zcServer != nil {
		s.zcServer.Shutdown()
		s.zcServer = nil
	}
	return nil
}

func (s *Service) registerZeroconf() error {
	server, err := zeroconf.Register("rtmond", zeroconfService, "local.", s.port, nil, nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.zcServer = server
	s.mu.Unlock()

	log.WithFields(log.Fields{
		"service": zeroconfService,
		"port":    s.port,
	}).Info("Announced API service over mDNS")
	return nil
}

func (s *Service) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.WriteHeader(http.StatusOK)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.WriteHeader(http.StatusOK)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/links", func(w http.ResponseWriter, r *http.Request) {
		s.writeCollection(w, r, func() any { return s.nm.Links() })
	})
	mux.HandleFunc("/addrs", func(w http.ResponseWriter, r *http.Request) {
		s.writeCollection(w, r, func() any { return s.nm.Addrs() })
	})
	mux.HandleFunc("/routes", func(w http.ResponseWriter, r *http.Request) {
		s.writeCollection(w, r, func() any { return s.nm.Routes() })
	})
	mux.HandleFunc("/state", func(w http.ResponseWriter, r *http.Request) {
		s.writeCollection(w, r, func() any {
			return NetworkState{
				Links:  s.nm.Links(),
				Addrs:  s.nm.Addrs(),
				Routes: s.nm.Routes(),
			}
		})
	})
	mux.HandleFunc("/links/", s.handleLinkAction)
	mux.HandleFunc("/ws/events", func(w http.ResponseWriter, r *http.Request) {
		StreamEvents(s, w, r)
	})
	return mux
}

// NetworkState is the combined cache view served at /state.
type NetworkState struct {
	Links  []rtnl.Link  `json:"links"`
	Addrs  []rtnl.Addr  `json:"addrs"`
	Routes []rtnl.Route `json:"routes"`
}

func (s *Service) writeCollection(w http.ResponseWriter, r *http.Request, get func() any) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Add("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	if err := enc.Encode(get()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleLinkAction serves POST /links/{ifindex}/up and /links/{ifindex}/down.
func (s *Service) handleLinkAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/links/"), "/")
	if len(parts) != 2 {
		http.Error(w, "expected /links/{ifindex}/up or /links/{ifindex}/down", http.StatusBadRequest)
		return
	}

	ifindex, err := strconv.Atoi(parts[0])
	if err != nil {
		http.Error(w, "invalid ifindex", http.StatusBadRequest)
		return
	}

	switch parts[1] {
	case "up":
		err = s.nm.SetLinkUp(ifindex)
	case "down":
		err = s.nm.SetLinkDown(ifindex)
	default:
		http.Error(w, "unknown link action", http.StatusBadRequest)
		return
	}

	if err != nil {
		log.WithFields(log.Fields{
			"ifindex": ifindex,
			"action":  parts[1],
		}).WithError(err).Warn("Link action failed")

		switch {
		case errors.Is(err, rtnl.ErrNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, rtnl.ErrConnect), errors.Is(err, rtnl.ErrRequest):
			http.Error(w, err.Error(), http.StatusBadGateway)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}
