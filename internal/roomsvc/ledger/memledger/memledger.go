// Package memledger is an in-process ledger. A single mutex makes every
// transaction atomic and serializable. It backs tests and local runs
// without Postgres, and can inject faults to exercise retry paths.
package memledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/avvvet/room-services/internal/roomsvc/ledger"
	"github.com/avvvet/room-services/internal/roomsvc/models"
)

type Fault int

const (
	// FaultThrottle refuses the submission before executing it.
	FaultThrottle Fault = iota + 1
	// FaultTimeout drops the submission and reports it unconfirmed.
	FaultTimeout
	// FaultLostReceipt commits the submission but reports it unconfirmed.
	FaultLostReceipt
)

type Ledger struct {
	mu        sync.Mutex
	exec      ledger.Executor
	owner     models.Pubkey
	accounts  map[models.Pubkey]*ledger.Account
	faults    []Fault
	submitted int
	committed []string
}

func New(exec ledger.Executor, owner models.Pubkey) *Ledger {
	return &Ledger{
		exec:     exec,
		owner:    owner,
		accounts: make(map[models.Pubkey]*ledger.Account),
	}
}

// InjectFault queues faults consumed by the next submissions, in order.
func (l *Ledger) InjectFault(f ...Fault) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults = append(l.faults, f...)
}

// Submissions counts every Submit call that reached the ledger.
func (l *Ledger) Submissions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.submitted
}

// Committed returns the signatures of committed transactions in order.
func (l *Ledger) Committed() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.committed...)
}

func (l *Ledger) Read(ctx context.Context, addr models.Pubkey) (*ledger.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrUnconfirmed, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acc, ok := l.accounts[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, addr)
	}
	return acc.Clone(), nil
}

func (l *Ledger) Submit(ctx context.Context, tx *ledger.Transaction) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ledger.ErrUnconfirmed, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.submitted++
	fault := l.nextFault()
	switch fault {
	case FaultThrottle:
		return "", fmt.Errorf("%w: injected", ledger.ErrThrottled)
	case FaultTimeout:
		return "", fmt.Errorf("%w: injected timeout", ledger.ErrUnconfirmed)
	}

	writes, err := l.exec.Execute(tx, snapshot(l.accounts))
	if err != nil {
		return "", err
	}

	for _, w := range writes {
		acc, ok := l.accounts[w.Address]
		if !ok {
			acc = &ledger.Account{Address: w.Address, Owner: l.owner}
			l.accounts[w.Address] = acc
		}
		acc.Data = append([]byte(nil), w.Data...)
		acc.Version++
	}

	sig := ledger.NewSignature()
	l.committed = append(l.committed, sig)

	if fault == FaultLostReceipt {
		return "", fmt.Errorf("%w: injected lost receipt", ledger.ErrUnconfirmed)
	}
	return sig, nil
}

func (l *Ledger) nextFault() Fault {
	if len(l.faults) == 0 {
		return 0
	}
	f := l.faults[0]
	l.faults = l.faults[1:]
	return f
}

type snapshot map[models.Pubkey]*ledger.Account

func (s snapshot) Account(addr models.Pubkey) (*ledger.Account, bool) {
	acc, ok := s[addr]
	if !ok {
		return nil, false
	}
	return acc.Clone(), true
}
