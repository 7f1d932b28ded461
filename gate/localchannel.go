package gate

import (
	"sync"

	"github.com/nabbar/simple-mesh/chanselect"
	"github.com/nabbar/simple-mesh/netframe"
	"github.com/nabbar/simple-mesh/shmchannel"
)

// LocalChannel wraps a local service's outbound shared-memory channel
// with a spill queue: a write that finds the ring full (or finds the
// spill queue already non-empty, preserving order) is queued instead,
// and a background drainer empties the queue into the ring one frame at
// a time as space frees up, suspending on sel between attempts rather
// than polling the ring itself.
type LocalChannel struct {
	ch  *shmchannel.Channel
	sel *chanselect.Selector

	mu       sync.Mutex
	cond     *sync.Cond
	spill    [][]byte
	closed   bool
	closedCh chan struct{}
}

// NewLocalChannel wraps ch and starts its background drain goroutine,
// which waits on sel for writable space rather than busy-polling.
func NewLocalChannel(ch *shmchannel.Channel, sel *chanselect.Selector) *LocalChannel {
	lc := &LocalChannel{ch: ch, sel: sel, closedCh: make(chan struct{})}
	lc.cond = sync.NewCond(&lc.mu)
	go lc.drainLoop()
	return lc
}

// Write encodes header+payload into one framed buffer and either writes
// it straight through or spills it for the background drainer, per the
// ordering rule: once anything is spilled, later writes must spill too
// so frames are never reordered past an already-queued one.
func (lc *LocalChannel) Write(header netframe.ShmHeader, payload []byte) {
	buf := make([]byte, netframe.ShmHeaderSize+len(payload))
	header.Encode(buf)
	copy(buf[netframe.ShmHeaderSize:], payload)

	lc.mu.Lock()
	needsSpill := len(lc.spill) > 0
	lc.mu.Unlock()

	if !needsSpill && lc.ch.TryWrite(buf, len(buf)) {
		return
	}

	lc.mu.Lock()
	lc.spill = append(lc.spill, buf)
	lc.mu.Unlock()
	lc.cond.Signal()
}

func (lc *LocalChannel) drainLoop() {
	for {
		lc.mu.Lock()
		for len(lc.spill) == 0 && !lc.closed {
			lc.cond.Wait()
		}
		if lc.closed {
			lc.mu.Unlock()
			return
		}
		buf := lc.spill[0]
		lc.mu.Unlock()

		lc.writeOneBlocking(buf)

		lc.mu.Lock()
		lc.spill = lc.spill[1:]
		lc.mu.Unlock()
	}
}

// writeOneBlocking retries buf against the ring, suspending on sel
// between attempts, until TryWrite succeeds. A closed LocalChannel
// abandons the attempt so Close cannot hang waiting on a ring that will
// never drain.
func (lc *LocalChannel) writeOneBlocking(buf []byte) {
	for {
		if lc.ch.TryWrite(buf, len(buf)) {
			return
		}
		ready := make(chan struct{})
		cancelWait := lc.sel.Await(lc.ch.Out, chanselect.WaitWritable, uint64(len(buf)), func() {
			close(ready)
		})
		select {
		case <-ready:
		case <-lc.closedCh:
			cancelWait()
			return
		}
	}
}

// Close stops the drain goroutine. Frames still queued are dropped,
// consistent with the drop-oldest-on-overflow posture elsewhere in this
// package: a gate does not guarantee delivery of frames queued behind a
// service that never comes back.
func (lc *LocalChannel) Close() {
	lc.mu.Lock()
	if lc.closed {
		lc.mu.Unlock()
		return
	}
	lc.closed = true
	lc.mu.Unlock()
	close(lc.closedCh)
	lc.cond.Broadcast()
}
