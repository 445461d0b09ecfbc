package round

import "sync"

// Gate serializes admission against settlement per round. Admission and
// cancellation share a round's gate; settlement seals it exclusively. Gates
// for different rounds are independent, so settling round N never blocks
// admission on round N+1.
type Gate struct {
	mu     sync.Mutex
	rounds map[string]*gateEntry
}

type gateEntry struct {
	rw   sync.RWMutex
	refs int
}

// NewGate creates an empty Gate.
func NewGate() *Gate {
	return &Gate{rounds: make(map[string]*gateEntry)}
}

// Admit enters the shared side of roundID's gate. The returned release must
// be called exactly once.
func (g *Gate) Admit(roundID string) (release func()) {
	e := g.acquire(roundID)
	e.rw.RLock()
	return func() {
		e.rw.RUnlock()
		g.drop(roundID, e)
	}
}

// Seal enters the exclusive side of roundID's gate, waiting for in-flight
// admissions to finish.
func (g *Gate) Seal(roundID string) (release func()) {
	e := g.acquire(roundID)
	e.rw.Lock()
	return func() {
		e.rw.Unlock()
		g.drop(roundID, e)
	}
}

func (g *Gate) acquire(roundID string) *gateEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.rounds[roundID]
	if !ok {
		e = &gateEntry{}
		g.rounds[roundID] = e
	}
	e.refs++
	return e
}

func (g *Gate) drop(roundID string, e *gateEntry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(g.rounds, roundID)
	}
}

// size reports the number of live entries.
func (g *Gate) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rounds)
}
