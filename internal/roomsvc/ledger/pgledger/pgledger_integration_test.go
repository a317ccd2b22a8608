package pgledger_test

import (
	"context"
	"crypto/sha256"
	"errors"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/avvvet/room-services/internal/roomsvc/address"
	"github.com/avvvet/room-services/internal/roomsvc/ledger"
	"github.com/avvvet/room-services/internal/roomsvc/ledger/pgledger"
	"github.com/avvvet/room-services/internal/roomsvc/models"
	"github.com/avvvet/room-services/internal/roomsvc/program"
	"github.com/avvvet/room-services/internal/roomsvc/service"
)

var programID = models.MustParsePubkey("2gs8GZp9xk1okTQrd1TuzaTycmtVaRffnXu8MQSfmeLW")

func key(name string) models.Pubkey {
	return models.Pubkey(sha256.Sum256([]byte(name)))
}

type fixture struct {
	pool   *pgxpool.Pool
	ledger *pgledger.Ledger
	prog   *program.Program
}

// newFixture connects to LEDGER_TEST_DATABASE_URL and empties the ledger
// tables. Point it at a throwaway database.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	url := os.Getenv("LEDGER_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("LEDGER_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	prog := program.New(address.NewDeriver(programID))
	l := pgledger.New(pool, prog, programID)
	require.NoError(t, l.Migrate(ctx))
	_, err = pool.Exec(ctx, `TRUNCATE ledger_accounts, ledger_transactions`)
	require.NoError(t, err)

	return &fixture{pool: pool, ledger: l, prog: prog}
}

func (f *fixture) service(t *testing.T) *service.RoomService {
	t.Helper()

	policy := service.DefaultPolicy()
	policy.CreateRoomMaxAttempts = 0
	policy.ConflictBackoff = time.Millisecond

	client := ledger.NewClient(f.ledger, ledger.Options{
		MaxAttempts:     10,
		InitialInterval: time.Millisecond,
		MaxInterval:     10 * time.Millisecond,
		SubmitRate:      rate.Inf,
	})
	svc, err := service.NewRoomService(client, f.prog, key("authority"), policy, nil, nil)
	require.NoError(t, err)
	return svc
}

func (f *fixture) transactions(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, f.pool.QueryRow(context.Background(), `SELECT count(*) FROM ledger_transactions`).Scan(&n))
	return n
}

func TestSubmitCommitsAcrossAccounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	authority := key("authority")
	registry, bump := f.prog.Deriver().Registry()

	sig, err := f.ledger.Submit(ctx, f.prog.Initialize(registry, bump, authority))
	require.NoError(t, err)
	assert.NotEmpty(t, sig)

	acc, err := f.ledger.Read(ctx, registry)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), acc.Version)
	assert.Equal(t, programID, acc.Owner)

	room, _ := f.prog.Deriver().Room(1)
	_, err = f.ledger.Submit(ctx, f.prog.CreateRoom(room, registry, key("alice"), authority, program.CreateRoomArgs{
		StakingAmount: 7,
		MaxPlayers:    2,
		CreatorJoins:  true,
		CreationTime:  1700000000,
	}))
	require.NoError(t, err)

	acc, err = f.ledger.Read(ctx, registry)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), acc.Version, "registry updated in place")
	var g models.GlobalState
	require.NoError(t, g.UnmarshalBinary(acc.Data))
	assert.Equal(t, uint64(1), g.TotalRooms)

	acc, err = f.ledger.Read(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), acc.Version)
	var r models.Room
	require.NoError(t, r.UnmarshalBinary(acc.Data))
	assert.Equal(t, []models.Pubkey{key("alice")}, r.Players)

	assert.Equal(t, 2, f.transactions(t))
}

func TestRejectedSubmitWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	authority := key("authority")
	registry, bump := f.prog.Deriver().Registry()

	_, err := f.ledger.Submit(ctx, f.prog.Initialize(registry, bump, authority))
	require.NoError(t, err)

	stale, _ := f.prog.Deriver().Room(5)
	_, err = f.ledger.Submit(ctx, f.prog.CreateRoom(stale, registry, key("alice"), authority, program.CreateRoomArgs{MaxPlayers: 2}))
	require.ErrorIs(t, err, ledger.ErrTransitionRejected)
	assert.Equal(t, program.CodeStaleRoomCounter, ledger.RejectionCode(err))

	_, err = f.ledger.Read(ctx, stale)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	acc, err := f.ledger.Read(ctx, registry)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), acc.Version)
	assert.Equal(t, 1, f.transactions(t))
}

func TestConcurrentInitializeOneWins(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t)

	const n = 6
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Initialize(context.Background())
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, errors.Is(err, service.ErrAlreadyInitialized), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, f.transactions(t))
}

func TestConcurrentCreateRoomsGetDistinctIDs(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t)
	_, err := svc.Initialize(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	const n = 12
	ids := make([]uint64, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.CreateRoom(ctx, service.CreateRoomInput{Creator: key(string(rune('a' + i))).String()})
			errs[i] = err
			if err == nil {
				ids[i] = res.RoomID
			}
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i, id := range ids {
		assert.Equal(t, uint64(i+1), id)
	}

	reg, err := svc.FetchRegistry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "12", reg.TotalRooms)

	// join goes through the version checked update
	_, err = svc.JoinRoom(context.Background(), 1, key("zed").String())
	require.NoError(t, err)
	room, err := svc.FetchRoom(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, room.Players, 2)
	assert.Equal(t, "full", room.State)
}
