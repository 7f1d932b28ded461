package gate

import (
	"sync"

	liberr "github.com/nabbar/simple-mesh/errors"
)

// Ownership records which gate (this one, or a peer) owns a service ID.
type Ownership int

const (
	OwnedUnknown Ownership = iota
	OwnedLocal
	OwnedPeer
)

// ServiceTypeInfo tracks, per service type, the services of that type
// and who currently subscribes to type-scoped broadcasts about them.
type ServiceTypeInfo struct {
	Services    []uint64
	Subscribers []uint64
}

// LocalSink receives a frame destined for a service this gate hosts.
type LocalSink interface {
	WriteLocal(serviceID uint64, f Frame)
}

// RemoteSink receives a frame destined for a service a peer gate hosts.
type RemoteSink interface {
	ForwardToPeer(gateID uint64, f Frame)
}

// Router implements the four-rule forwarding decision: drop frames
// addressed to 0, delay-queue frames for unknown services, write local
// frames into the owning service's ring, and package frames for
// peer-owned services as a forward broadcast.
type Router struct {
	local  LocalSink
	remote RemoteSink
	metric *Metrics

	mu         sync.Mutex
	owner      map[uint64]Ownership
	serviceGW  map[uint64]uint64 // serviceID -> owning peer gate ID, when OwnedPeer
	delayed    map[uint64]*SendQueue
	typeInfo   map[uint32]*ServiceTypeInfo
	serviceTyp map[uint64]uint32
}

// NewRouter builds a Router forwarding local frames to local and
// peer-owned frames to remote.
func NewRouter(local LocalSink, remote RemoteSink, metric *Metrics) *Router {
	return &Router{
		local:      local,
		remote:     remote,
		metric:     metric,
		owner:      make(map[uint64]Ownership),
		serviceGW:  make(map[uint64]uint64),
		delayed:    make(map[uint64]*SendQueue),
		typeInfo:   make(map[uint32]*ServiceTypeInfo),
		serviceTyp: make(map[uint64]uint32),
	}
}

// RegisterLocal marks serviceID as hosted on this gate, under svcType,
// and drains any frames that arrived before registration.
func (r *Router) RegisterLocal(serviceID uint64, svcType uint32) []Frame {
	r.mu.Lock()
	r.owner[serviceID] = OwnedLocal
	r.serviceTyp[serviceID] = svcType
	info := r.typeInfoLocked(svcType)
	info.Services = appendUnique(info.Services, serviceID)
	q := r.delayed[serviceID]
	delete(r.delayed, serviceID)
	r.mu.Unlock()

	if q == nil {
		return nil
	}
	return q.Drain()
}

// RegisterPeer marks serviceID as hosted on peer gateID.
func (r *Router) RegisterPeer(serviceID, gateID uint64, svcType uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owner[serviceID] = OwnedPeer
	r.serviceGW[serviceID] = gateID
	r.serviceTyp[serviceID] = svcType
	r.typeInfoLocked(svcType).Services = appendUnique(r.typeInfoLocked(svcType).Services, serviceID)
}

func (r *Router) typeInfoLocked(svcType uint32) *ServiceTypeInfo {
	info, ok := r.typeInfo[svcType]
	if !ok {
		info = &ServiceTypeInfo{}
		r.typeInfo[svcType] = info
	}
	return info
}

// Forward applies the four forwarding rules to f.
func (r *Router) Forward(f Frame) {
	if f.To == 0 {
		return
	}

	r.mu.Lock()
	owner, known := r.owner[f.To]
	r.mu.Unlock()

	if !known {
		r.mu.Lock()
		q, ok := r.delayed[f.To]
		if !ok {
			q = &SendQueue{}
			r.delayed[f.To] = q
		}
		r.mu.Unlock()
		dropped := q.Dropped()
		q.Push(f)
		if r.metric != nil {
			r.metric.DelayQueued.Inc()
			if q.Dropped() > dropped {
				r.metric.DroppedFrames.Inc()
			}
		}
		return
	}

	switch owner {
	case OwnedLocal:
		r.local.WriteLocal(f.To, f)
	case OwnedPeer:
		r.mu.Lock()
		gateID := r.serviceGW[f.To]
		r.mu.Unlock()
		r.remote.ForwardToPeer(gateID, f)
	}
	if r.metric != nil {
		r.metric.Forwarded.Inc()
	}
}

// Subscribers returns the current subscriber list for svcType, used to
// fan out service_update_req-triggered publishes.
func (r *Router) Subscribers(svcType uint32) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.typeInfo[svcType]
	if !ok {
		return nil
	}
	out := make([]uint64, len(info.Subscribers))
	copy(out, info.Subscribers)
	return out
}

// Subscribe adds subscriberID as a subscriber of svcType and returns the
// currently-known online services of that type, for the subscribe RPC's
// reply payload.
func (r *Router) Subscribe(svcType uint32, subscriberID uint64) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	info := r.typeInfoLocked(svcType)
	info.Subscribers = appendUnique(info.Subscribers, subscriberID)
	out := make([]uint64, len(info.Services))
	copy(out, info.Services)
	return out
}

// DelayedErrors aggregates the overflow errors (see SendQueue.Errors)
// recorded by every service's delayed-forward queue into a single error,
// for an operator diagnosing why frames for not-yet-registered services
// went missing. Returns nil if no delay queue has ever overflowed.
func (r *Router) DelayedErrors() error {
	r.mu.Lock()
	queues := make([]*SendQueue, 0, len(r.delayed))
	for _, q := range r.delayed {
		queues = append(queues, q)
	}
	r.mu.Unlock()

	var errs []error
	for _, q := range queues {
		if e := q.Errors(); e != nil {
			errs = append(errs, e)
		}
	}
	return liberr.UnknownError.IfError(errs...)
}

func appendUnique(list []uint64, id uint64) []uint64 {
	for _, v := range list {
		if v == id {
			return list
		}
	}
	return append(list, id)
}
