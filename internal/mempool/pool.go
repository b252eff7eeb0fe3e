// Package mempool holds unconfirmed transactions waiting for block
// inclusion: admission checks, fee-priority selection, and the pruning
// that keeps the pool consistent with the live triangle set across reorgs.
package mempool

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/siertrichain/siertrichain/config"
	"github.com/siertrichain/siertrichain/pkg/tx"
	"github.com/siertrichain/siertrichain/pkg/types"
)

// Mempool errors.
var (
	ErrAlreadyExists      = errors.New("transaction already in mempool")
	ErrCoinbaseRejected   = errors.New("coinbase transactions do not enter the mempool")
	ErrPerAddressLimit    = errors.New("sender has reached the per-address mempool limit")
	ErrInvalidTransaction = errors.New("transaction failed admission validation")
)

// entry wraps a transaction with its admission-time metadata.
type entry struct {
	tx     *tx.Transaction
	txHash types.Hash
	sender types.Address
	fee    uint64
}

// Pool holds unconfirmed transactions, keyed by tx-id.
type Pool struct {
	mu         sync.RWMutex
	txs        map[types.Hash]*entry
	perSender  map[types.Address]int
	maxSize    int
	perAddrCap int
	policy     *Policy
}

// New creates an empty mempool using the given policy (nil for defaults).
func New(policy *Policy) *Pool {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Pool{
		txs:        make(map[types.Hash]*entry),
		perSender:  make(map[types.Address]int),
		maxSize:    config.MaxMempoolSize,
		perAddrCap: config.MaxPerAddress,
		policy:     policy,
	}
}

// Add performs stateless admission: duplicates and Coinbase are rejected
// outright, Subdivision/Transfer must pass their stateless signature
// check, and the sender's per-address cap is enforced before
// the global-capacity eviction kicks in.
func (p *Pool) Add(transaction *tx.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if transaction.Kind() == tx.KindCoinbase {
		return ErrCoinbaseRejected
	}

	txHash := transaction.Hash()
	if _, exists := p.txs[txHash]; exists {
		return ErrAlreadyExists
	}

	if err := transaction.ValidateSignature(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}
	if err := p.policy.Check(transaction); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}

	sender := transaction.SenderAddress()
	if p.perSender[sender] >= p.perAddrCap {
		return fmt.Errorf("%w: %s has %d pending", ErrPerAddressLimit, sender, p.perAddrCap)
	}

	if len(p.txs) >= p.maxSize {
		p.evictLowestFeeLocked()
	}

	p.txs[txHash] = &entry{
		tx:     transaction,
		txHash: txHash,
		sender: sender,
		fee:    transaction.Fee(),
	}
	p.perSender[sender]++
	return nil
}

// evictLowestFeeLocked drops the single lowest-fee entry, breaking ties by
// the lexicographically smallest tx-id for determinism across nodes.
// Callers must hold p.mu.
func (p *Pool) evictLowestFeeLocked() {
	var victim *entry
	for _, e := range p.txs {
		if victim == nil || e.fee < victim.fee || (e.fee == victim.fee && e.txHash.Less(victim.txHash)) {
			victim = e
		}
	}
	if victim != nil {
		p.removeLocked(victim.txHash)
	}
}

func (p *Pool) removeLocked(txHash types.Hash) {
	e, exists := p.txs[txHash]
	if !exists {
		return
	}
	p.perSender[e.sender]--
	if p.perSender[e.sender] <= 0 {
		delete(p.perSender, e.sender)
	}
	delete(p.txs, txHash)
}

// Remove drops a transaction from the pool by tx-id. A no-op if absent.
func (p *Pool) Remove(txHash types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(txHash)
}

// RemoveConfirmed prunes every tx-id in the given block's inclusion list
// from the pool.
func (p *Pool) RemoveConfirmed(txHashes []types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, h := range txHashes {
		p.removeLocked(h)
	}
}

// Has reports whether a tx-id is currently pooled.
func (p *Pool) Has(txHash types.Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, exists := p.txs[txHash]
	return exists
}

// Get retrieves a pooled transaction by tx-id, or nil if absent.
func (p *Pool) Get(txHash types.Hash) *tx.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, exists := p.txs[txHash]
	if !exists {
		return nil
	}
	return e.tx
}

// Count returns the number of pooled transactions.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.txs)
}

// Hashes returns the tx-ids of every pooled transaction, in no particular order.
func (p *Pool) Hashes() []types.Hash {
	p.mu.RLock()
	defer p.mu.RUnlock()
	hashes := make([]types.Hash, 0, len(p.txs))
	for h := range p.txs {
		hashes = append(hashes, h)
	}
	return hashes
}

// TopKByFee returns up to k pooled transactions ordered by declared fee
// descending, for the miner to assemble a candidate block.
func (p *Pool) TopKByFee(k int) []*tx.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entries := make([]*entry, 0, len(p.txs))
	for _, e := range p.txs {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].fee != entries[j].fee {
			return entries[i].fee > entries[j].fee
		}
		return entries[i].txHash.Less(entries[j].txHash)
	})

	if k > len(entries) || k < 0 {
		k = len(entries)
	}
	result := make([]*tx.Transaction, k)
	for i := 0; i < k; i++ {
		result[i] = entries[i].tx
	}
	return result
}

// ValidateAndPrune revalidates every pooled transaction against the current
// live triangle set and removes the ones that no longer hold — e.g. after a
// reorg, a Subdivision whose parent triangle no longer exists. It returns
// the number of entries removed.
func (p *Pool) ValidateAndPrune(state tx.UTXOProvider) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	var stale []types.Hash
	for h, e := range p.txs {
		if err := e.tx.Validate(state); err != nil {
			stale = append(stale, h)
		}
	}
	for _, h := range stale {
		p.removeLocked(h)
	}
	return len(stale)
}
