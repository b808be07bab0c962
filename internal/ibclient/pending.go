package ibclient

import "sync"

// pendingTable maps in-flight request ids to their accumulators and hands
// out new ids. Ids increase monotonically for the life of the client and are
// never reused, so a stale callback for a finished request can only miss the
// table, never hit a newer request.
type pendingTable struct {
	mu     sync.Mutex
	nextID int64
	reqs   map[int64]*accumulator
}

func newPendingTable(firstID int64) *pendingTable {
	return &pendingTable{nextID: firstID, reqs: make(map[int64]*accumulator)}
}

// add registers acc under a fresh request id and returns the id.
func (p *pendingTable) add(acc *accumulator) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.reqs[id] = acc
	return id
}

// get looks up the accumulator for id, or nil if the request is not pending.
func (p *pendingTable) get(id int64) *accumulator {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reqs[id]
}

// remove drops id from the table. Called when the request reaches a terminal
// state; late events for the id are discarded thereafter.
func (p *pendingTable) remove(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.reqs, id)
}

// failAll terminates every pending request with err. Used on disconnect so no
// caller stays parked on a request that can never complete.
func (p *pendingTable) failAll(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, acc := range p.reqs {
		acc.fail(err)
		delete(p.reqs, id)
	}
}
