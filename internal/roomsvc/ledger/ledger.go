// Package ledger abstracts the external ledger the room program lives on.
// A Ledger reads committed account state and submits transactions that
// mutate all named accounts atomically or not at all.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/avvvet/room-services/internal/roomsvc/models"
)

var (
	// ErrNotFound is returned by Read when no account lives at the address.
	ErrNotFound = errors.New("account not found")
	// ErrTransitionRejected means the program refused the transaction. Never
	// retried automatically.
	ErrTransitionRejected = errors.New("transition rejected")
	// ErrUnconfirmed means finality was not observed. The transaction may or
	// may not have committed.
	ErrUnconfirmed = errors.New("transaction unconfirmed")
	// ErrThrottled means the ledger refused to take the request right now.
	// Nothing was committed.
	ErrThrottled = errors.New("ledger throttled")
)

type Ledger interface {
	Read(ctx context.Context, addr models.Pubkey) (*Account, error)
	Submit(ctx context.Context, tx *Transaction) (string, error)
}

// Executor runs a transaction against a consistent view of the accounts it
// names and returns the account data to write. Backends call it while
// holding whatever makes the commit atomic.
type Executor interface {
	Execute(tx *Transaction, state AccountReader) ([]AccountWrite, error)
}

type AccountReader interface {
	Account(addr models.Pubkey) (*Account, bool)
}

type Account struct {
	Address models.Pubkey
	Owner   models.Pubkey
	Data    []byte
	Version uint64 // bumped on every committed write
}

func (a *Account) Clone() *Account {
	c := *a
	c.Data = append([]byte(nil), a.Data...)
	return &c
}

type AccountWrite struct {
	Address models.Pubkey
	Data    []byte
}

type AccountMeta struct {
	Address  models.Pubkey
	Writable bool
	Signer   bool
}

type Transaction struct {
	ProgramID   models.Pubkey
	Instruction string
	Accounts    []AccountMeta
	Data        []byte
	Signers     []models.Pubkey
}

// Addresses returns the distinct account addresses in declaration order.
func (tx *Transaction) Addresses() []models.Pubkey {
	seen := make(map[models.Pubkey]struct{}, len(tx.Accounts))
	out := make([]models.Pubkey, 0, len(tx.Accounts))
	for _, m := range tx.Accounts {
		if _, ok := seen[m.Address]; ok {
			continue
		}
		seen[m.Address] = struct{}{}
		out = append(out, m.Address)
	}
	return out
}

func (tx *Transaction) SignedBy(p models.Pubkey) bool {
	for _, s := range tx.Signers {
		if s == p {
			return true
		}
	}
	return false
}

// RejectedError carries the program's reason for refusing a transition.
type RejectedError struct {
	Code    string
	Message string
	// AfterUnconfirmed is set when an earlier attempt of the same submission
	// ended unconfirmed, so the rejection may be caused by that attempt
	// having landed.
	AfterUnconfirmed bool
}

func Reject(code, format string, args ...any) *RejectedError {
	return &RejectedError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrTransitionRejected, e.Code, e.Message)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrTransitionRejected
}

// RejectionCode returns the program code of a rejection, or "".
func RejectionCode(err error) string {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return rej.Code
	}
	return ""
}
