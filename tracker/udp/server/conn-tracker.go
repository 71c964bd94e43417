package udpTrackerServer

import (
	"context"
	"time"

	g "github.com/anacrolix/generics"
	"github.com/anacrolix/sync"

	"github.com/anacrolix/btlink/tracker/udp"
)

type ConnectionTrackerAddr = string

type ConnectionTracker interface {
	Add(ctx context.Context, addr ConnectionTrackerAddr, id udp.ConnectionId) error
	Check(ctx context.Context, addr ConnectionTrackerAddr, id udp.ConnectionId) (bool, error)
}

// MemoryConnTracker remembers the connection ids issued to each source address until they
// expire.
type MemoryConnTracker struct {
	mu    sync.Mutex
	conns map[ConnectionTrackerAddr]map[udp.ConnectionId]time.Time
	// Defaults to udp.ConnectionIdLifetime.
	Lifetime time.Duration
	// For tests.
	now func() time.Time
}

var _ ConnectionTracker = (*MemoryConnTracker)(nil)

func (me *MemoryConnTracker) lifetime() time.Duration {
	if me.Lifetime == 0 {
		return udp.ConnectionIdLifetime
	}
	return me.Lifetime
}

func (me *MemoryConnTracker) timeNow() time.Time {
	if me.now != nil {
		return me.now()
	}
	return time.Now()
}

// Must hold mu.
func (me *MemoryConnTracker) prune(addr ConnectionTrackerAddr, now time.Time) {
	ids := me.conns[addr]
	for id, issued := range ids {
		if now.Sub(issued) >= me.lifetime() {
			delete(ids, id)
		}
	}
	if len(ids) == 0 {
		delete(me.conns, addr)
	}
}

func (me *MemoryConnTracker) Add(ctx context.Context, addr ConnectionTrackerAddr, id udp.ConnectionId) error {
	me.mu.Lock()
	defer me.mu.Unlock()
	now := me.timeNow()
	me.prune(addr, now)
	g.MakeMapIfNil(&me.conns)
	ids := me.conns[addr]
	g.MakeMapIfNil(&ids)
	ids[id] = now
	me.conns[addr] = ids
	return nil
}

func (me *MemoryConnTracker) Check(ctx context.Context, addr ConnectionTrackerAddr, id udp.ConnectionId) (bool, error) {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.prune(addr, me.timeNow())
	_, ok := me.conns[addr][id]
	return ok, nil
}

// Len returns the number of source addresses with live connection ids.
func (me *MemoryConnTracker) Len() int {
	me.mu.Lock()
	defer me.mu.Unlock()
	return len(me.conns)
}
