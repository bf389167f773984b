package runtime

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

type worker struct {
	name   string
	run    func(context.Context) error
	closeF func() error
}

// Supervisor runs a set of named workers and tears them down in reverse
// registration order once the context is cancelled. The first worker error
// wins and is returned from Wait, annotated with the worker's name.
type Supervisor struct {
	mu      sync.Mutex
	workers []worker
	wg      sync.WaitGroup
	errOnce sync.Once
	err     error
}

func NewSupervisor() *Supervisor {
	return &Supervisor{}
}

func (s *Supervisor) Add(name string, run func(context.Context) error, closeF func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers = append(s.workers, worker{name: name, run: run, closeF: closeF})
}

func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.workers {
		w := w
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := w.run(ctx); err != nil {
				s.errOnce.Do(func() { s.err = fmt.Errorf("%s: %w", w.name, err) })
			}
		}()
	}
	return nil
}

func (s *Supervisor) Wait(ctx context.Context) error {
	<-ctx.Done() // wait for signal
	// Close in reverse order.
	for i := len(s.workers) - 1; i >= 0; i-- {
		w := s.workers[i]
		if w.closeF == nil {
			continue
		}
		if err := w.closeF(); err != nil {
			log.WithFields(log.Fields{
				"worker": w.name,
				"error":  err,
			}).Warn("Worker close failed")
		}
	}
	s.wg.Wait()
	return s.err
}
