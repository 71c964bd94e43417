package udp

import (
	"bytes"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"
)

type DispatchedResponse struct {
	Header ResponseHeader
	// Response payload following the header.
	Body []byte
	Addr net.Addr
}

// Dispatcher routes incoming datagrams to outstanding transactions by transaction id. It's safe
// for concurrent use, and may be shared by several Clients on the same socket.
type Dispatcher struct {
	mu           sync.RWMutex
	transactions map[TransactionId]func(DispatchedResponse)
	// Source of transaction ids. Seeded from the clock on first use if nil.
	Rand *rand.Rand
}

// Dispatch delivers a datagram to its transaction. b may be reused by the caller after return.
func (me *Dispatcher) Dispatch(b []byte, addr net.Addr) error {
	buf := bytes.NewBuffer(b)
	var rh ResponseHeader
	err := Read(buf, &rh)
	if err != nil {
		return fmt.Errorf("reading response header: %w", err)
	}
	me.mu.RLock()
	cb, ok := me.transactions[rh.TransactionId]
	me.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown transaction id %v", rh.TransactionId)
	}
	cb(DispatchedResponse{
		Header: rh,
		Body:   append([]byte(nil), buf.Bytes()...),
		Addr:   addr,
	})
	return nil
}

// NewTransaction reserves a transaction id not in use by any other outstanding transaction.
// callback must not block.
func (me *Dispatcher) NewTransaction(callback func(DispatchedResponse)) *Transaction {
	me.mu.Lock()
	defer me.mu.Unlock()
	if me.Rand == nil {
		me.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	for {
		id := TransactionId(me.Rand.Uint32())
		if _, ok := me.transactions[id]; ok {
			continue
		}
		if me.transactions == nil {
			me.transactions = make(map[TransactionId]func(DispatchedResponse))
		}
		me.transactions[id] = callback
		return &Transaction{id: id, d: me}
	}
}

func (me *Dispatcher) NumTransactions() int {
	me.mu.RLock()
	defer me.mu.RUnlock()
	return len(me.transactions)
}

type Transaction struct {
	id TransactionId
	d  *Dispatcher
}

func (t *Transaction) Id() TransactionId {
	return t.id
}

// End stops delivery of responses for the transaction and frees its id.
func (t *Transaction) End() {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	delete(t.d.transactions, t.id)
}
