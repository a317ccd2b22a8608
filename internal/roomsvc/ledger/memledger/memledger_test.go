package memledger

import (
	"context"
	"errors"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avvvet/room-services/internal/roomsvc/ledger"
	"github.com/avvvet/room-services/internal/roomsvc/models"
)

var owner = models.Pubkey{9}

// counterExec increments a one byte counter at the first account.
type counterExec struct{}

func (counterExec) Execute(tx *ledger.Transaction, state ledger.AccountReader) ([]ledger.AccountWrite, error) {
	addr := tx.Accounts[0].Address
	var n byte
	if acc, ok := state.Account(addr); ok {
		n = acc.Data[0]
	}
	if n == 3 {
		return nil, ledger.Reject("Full", "counter at %d", n)
	}
	return []ledger.AccountWrite{{Address: addr, Data: []byte{n + 1}}}, nil
}

func bump(addr models.Pubkey) *ledger.Transaction {
	return &ledger.Transaction{Instruction: "bump", Accounts: []ledger.AccountMeta{{Address: addr, Writable: true}}}
}

func TestSubmitCommitsAndVersions(t *testing.T) {
	l := New(counterExec{}, owner)
	ctx := context.Background()
	addr := models.Pubkey{1}

	_, err := l.Read(ctx, addr)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	sig, err := l.Submit(ctx, bump(addr))
	require.NoError(t, err)
	raw, err := base58.Decode(sig)
	require.NoError(t, err)
	assert.Len(t, raw, 64)

	_, err = l.Submit(ctx, bump(addr))
	require.NoError(t, err)

	acc, err := l.Read(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, acc.Data)
	assert.Equal(t, uint64(2), acc.Version)
	assert.Equal(t, owner, acc.Owner)

	acc.Data[0] = 99
	again, _ := l.Read(ctx, addr)
	assert.Equal(t, []byte{2}, again.Data, "reads return copies")
}

func TestRejectionLeavesStateUntouched(t *testing.T) {
	l := New(counterExec{}, owner)
	ctx := context.Background()
	addr := models.Pubkey{1}

	for i := 0; i < 3; i++ {
		_, err := l.Submit(ctx, bump(addr))
		require.NoError(t, err)
	}
	_, err := l.Submit(ctx, bump(addr))
	assert.ErrorIs(t, err, ledger.ErrTransitionRejected)

	acc, _ := l.Read(ctx, addr)
	assert.Equal(t, []byte{3}, acc.Data)
	assert.Len(t, l.Committed(), 3)
	assert.Equal(t, 4, l.Submissions())
}

func TestInjectedFaults(t *testing.T) {
	l := New(counterExec{}, owner)
	ctx := context.Background()
	addr := models.Pubkey{1}
	l.InjectFault(FaultThrottle, FaultTimeout, FaultLostReceipt)

	_, err := l.Submit(ctx, bump(addr))
	assert.ErrorIs(t, err, ledger.ErrThrottled)
	_, err = l.Read(ctx, addr)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = l.Submit(ctx, bump(addr))
	assert.ErrorIs(t, err, ledger.ErrUnconfirmed)
	_, err = l.Read(ctx, addr)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = l.Submit(ctx, bump(addr))
	assert.ErrorIs(t, err, ledger.ErrUnconfirmed)
	acc, err := l.Read(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, acc.Data, "lost receipt still commits")
	assert.Len(t, l.Committed(), 1)
}

func TestCancelledContextIsUnconfirmed(t *testing.T) {
	l := New(counterExec{}, owner)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Submit(ctx, bump(models.Pubkey{1}))
	assert.True(t, errors.Is(err, ledger.ErrUnconfirmed))
	assert.Zero(t, l.Submissions())
}
