// Package pgledger emulates the ledger on Postgres. Each submission runs in
// one database transaction that locks the named account rows, executes the
// program against them and writes the result, so a commit is atomic across
// every account the transaction names.
package pgledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"github.com/avvvet/room-services/internal/roomsvc/ledger"
	"github.com/avvvet/room-services/internal/roomsvc/models"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ledger_accounts (
		address    TEXT PRIMARY KEY,
		owner      TEXT NOT NULL,
		data       BYTEA NOT NULL,
		version    BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_transactions (
		signature   TEXT PRIMARY KEY,
		instruction TEXT NOT NULL,
		signers     TEXT[] NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

type Ledger struct {
	db    *pgxpool.Pool
	exec  ledger.Executor
	owner models.Pubkey
}

func New(db *pgxpool.Pool, exec ledger.Executor, owner models.Pubkey) *Ledger {
	return &Ledger{db: db, exec: exec, owner: owner}
}

// Migrate creates the ledger tables if they are missing.
func (l *Ledger) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := l.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgledger migrate: %w", err)
		}
	}
	return nil
}

func (l *Ledger) Read(ctx context.Context, addr models.Pubkey) (*ledger.Account, error) {
	query := `
		SELECT address, owner, data, version
		FROM ledger_accounts
		WHERE address = $1
	`

	acc, err := scanAccount(l.db.QueryRow(ctx, query, addr.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, addr)
	}
	if err != nil {
		return nil, classify(ctx, err, false)
	}
	return acc, nil
}

func (l *Ledger) Submit(ctx context.Context, tx *ledger.Transaction) (string, error) {
	dbtx, err := l.db.Begin(ctx)
	if err != nil {
		return "", classify(ctx, err, false)
	}
	defer func() {
		// no-op once committed
		_ = dbtx.Rollback(context.Background())
	}()

	state, err := lockAccounts(ctx, dbtx, sortedAddresses(tx))
	if err != nil {
		return "", classify(ctx, err, false)
	}

	writes, err := l.exec.Execute(tx, state)
	if err != nil {
		return "", err
	}

	for _, w := range writes {
		if err := l.write(ctx, dbtx, state, w); err != nil {
			return "", err
		}
	}

	sig := ledger.NewSignature()
	signers := make([]string, len(tx.Signers))
	for i, s := range tx.Signers {
		signers[i] = s.String()
	}
	_, err = dbtx.Exec(ctx,
		`INSERT INTO ledger_transactions (signature, instruction, signers) VALUES ($1, $2, $3)`,
		sig, tx.Instruction, signers,
	)
	if err != nil {
		return "", classify(ctx, err, false)
	}

	if err := dbtx.Commit(ctx); err != nil {
		log.Errorf("Error [pgledger.Submit] commit %s: %v", tx.Instruction, err)
		return "", classify(ctx, err, true)
	}
	return sig, nil
}

func (l *Ledger) write(ctx context.Context, dbtx pgx.Tx, state snapshot, w ledger.AccountWrite) error {
	existing, ok := state[w.Address]
	if !ok {
		_, err := dbtx.Exec(ctx,
			`INSERT INTO ledger_accounts (address, owner, data, version) VALUES ($1, $2, $3, 1)`,
			w.Address.String(), l.owner.String(), w.Data,
		)
		if err != nil {
			return classify(ctx, err, false)
		}
		return nil
	}

	tag, err := dbtx.Exec(ctx, `
		UPDATE ledger_accounts
		SET data = $2, version = version + 1, updated_at = now()
		WHERE address = $1 AND version = $3
	`, w.Address.String(), w.Data, int64(existing.Version))
	if err != nil {
		return classify(ctx, err, false)
	}
	if tag.RowsAffected() != 1 {
		// row lock makes this unreachable unless someone writes around us
		return fmt.Errorf("%w: account %s changed under lock", ledger.ErrThrottled, w.Address)
	}
	return nil
}

func lockAccounts(ctx context.Context, dbtx pgx.Tx, addrs []models.Pubkey) (snapshot, error) {
	keys := make([]string, len(addrs))
	for i, a := range addrs {
		keys[i] = a.String()
	}

	rows, err := dbtx.Query(ctx, `
		SELECT address, owner, data, version
		FROM ledger_accounts
		WHERE address = ANY($1)
		ORDER BY address
		FOR UPDATE
	`, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	state := make(snapshot, len(addrs))
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		state[acc.Address] = acc
	}
	return state, rows.Err()
}

func scanAccount(row pgx.Row) (*ledger.Account, error) {
	var (
		address, owner string
		data           []byte
		version        int64
	)
	if err := row.Scan(&address, &owner, &data, &version); err != nil {
		return nil, err
	}

	addr, err := models.ParsePubkey(address)
	if err != nil {
		return nil, fmt.Errorf("stored address %q: %w", address, err)
	}
	own, err := models.ParsePubkey(owner)
	if err != nil {
		return nil, fmt.Errorf("stored owner %q: %w", owner, err)
	}
	return &ledger.Account{Address: addr, Owner: own, Data: data, Version: uint64(version)}, nil
}

// sortedAddresses returns the distinct accounts of tx in byte order.
func sortedAddresses(tx *ledger.Transaction) []models.Pubkey {
	addrs := tx.Addresses()
	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i][:], addrs[j][:]) < 0
	})
	return addrs
}

// Postgres error codes that mean nothing was committed and the same
// submission can be tried again.
var retryableCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"23505": true, // unique_violation, lost an insert race
	"55P03": true, // lock_not_available
	"53300": true, // too_many_connections
	"57P03": true, // cannot_connect_now
}

// classify maps a database error to the ledger taxonomy. Once commit has
// been sent, anything short of a definite server answer is ambiguous.
func classify(ctx context.Context, err error, committing bool) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if retryableCodes[pgErr.Code] {
			return fmt.Errorf("%w: %s", ledger.ErrThrottled, pgErr.Message)
		}
		return fmt.Errorf("pgledger: %w", err)
	}
	if committing || ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ledger.ErrUnconfirmed, err)
	}
	return fmt.Errorf("%w: %v", ledger.ErrThrottled, err)
}

type snapshot map[models.Pubkey]*ledger.Account

func (s snapshot) Account(addr models.Pubkey) (*ledger.Account, bool) {
	acc, ok := s[addr]
	if !ok {
		return nil, false
	}
	return acc.Clone(), true
}
