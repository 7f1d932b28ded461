// Package apphost is the process entry point's runtime: it starts the
// service instances it is given, drives the scheduler, and ticks each
// service's per-frame update at the configured cadence until asked to stop.
// Per the module-level-state redesign flag, every dependency a service
// receives (scheduler, channel selector, logger, root cancellation source)
// is constructed here and passed in explicitly rather than reached for as
// a singleton. No RPC session registry is among them.
package apphost

import (
	"time"

	"github.com/nabbar/simple-mesh/cancel"
	"github.com/nabbar/simple-mesh/chanselect"
	"github.com/nabbar/simple-mesh/config"
	"github.com/nabbar/simple-mesh/logging"
	"github.com/nabbar/simple-mesh/scheduler"
)

// Service is what apphost drives: a named unit loaded from config with a
// per-frame update hook. Start receives every dependency object the
// service needs; it must not reach for a package-level singleton.
type Service interface {
	Name() string
	Start(deps Deps) error
	// Update runs once per frame_interval tick, on the scheduler
	// goroutine, until the host stops.
	Update()
	Stop()
}

// Deps bundles the explicit dependency objects every loaded service
// receives at Start, replacing the process-wide singletons the original
// runtime relied on.
type Deps struct {
	Scheduler *scheduler.Scheduler
	Selector  *chanselect.Selector
	Logger    *logging.Logger
	Root      cancel.Source
}

// Host owns the scheduler, the channel selector, and the set of loaded
// services, and runs the per-frame update loop until Stop.
type Host struct {
	deps     Deps
	interval time.Duration
	services []Service
}

// New builds a Host from a loaded config.Root and the service instances
// already constructed for cfg.Services (construction/dynamic-loading of
// the service modules themselves is out of scope, per spec §1's
// "shared-library service loading" exclusion — Host only drives already
// instantiated Service values).
func New(cfg config.Root, logger *logging.Logger, services []Service) *Host {
	sched := scheduler.New()
	return &Host{
		deps: Deps{
			Scheduler: sched,
			Selector:  chanselect.New(sched),
			Logger:    logger,
			Root:      cancel.New(),
		},
		interval: cfg.FrameInterval,
		services: services,
	}
}

// Run starts every service, then drives the scheduler's cooperative loop
// on the calling goroutine, posting one Update tick per service every
// frame_interval, until the host's root cancellation source fires.
func (h *Host) Run() error {
	for _, svc := range h.services {
		if err := svc.Start(h.deps); err != nil {
			return err
		}
	}

	done := make(chan struct{})
	reg := h.deps.Root.Token().Register(func() {
		h.deps.Scheduler.Stop()
	})
	defer reg.Detach()

	go h.tickLoop(done)
	h.deps.Scheduler.Run()
	close(done)

	for _, svc := range h.services {
		svc.Stop()
	}
	return nil
}

func (h *Host) tickLoop(done chan struct{}) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			for _, svc := range h.services {
				svc := svc
				h.deps.Scheduler.Post(svc.Update)
			}
		}
	}
}

// Stop requests the host's root cancellation, which in turn stops the
// scheduler and returns control to Run's caller.
func (h *Host) Stop() {
	h.deps.Root.RequestCancellation()
}
