package config

import (
	"crypto/sha256"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/avvvet/room-services/internal/roomsvc/models"
)

var authority = models.Pubkey(sha256.Sum256([]byte("authority"))).String()

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "secret")
	t.Setenv("LEDGER_AUTHORITY", authority)
	t.Setenv("LEDGER_BACKEND", "memory")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, uint8(2), cfg.RoomCapacity)
	assert.True(t, cfg.CreatorAutoJoin)
	assert.Equal(t, 30*time.Second, cfg.OperationTimeout)

	p := cfg.Policy()
	assert.Equal(t, uint8(2), p.RoomCapacity)
	assert.Equal(t, uint(8), p.CreateRoomMaxAttempts)
	assert.Equal(t, 50*time.Millisecond, p.ConflictBackoff)

	o := cfg.LedgerOptions()
	assert.Equal(t, uint(5), o.MaxAttempts)
	assert.Equal(t, rate.Limit(50), o.SubmitRate)

	programID, auth := cfg.Keys()
	assert.Equal(t, "2gs8GZp9xk1okTQrd1TuzaTycmtVaRffnXu8MQSfmeLW", programID.String())
	assert.Equal(t, authority, auth.String())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "secret")
	t.Setenv("LEDGER_AUTHORITY", authority)
	t.Setenv("LEDGER_BACKEND", "postgres")
	t.Setenv("POSTGRES_URL", "postgres://u:p@localhost:5432/rooms")
	t.Setenv("ROOM_CAPACITY", "6")
	t.Setenv("CREATOR_AUTO_JOIN", "false")
	t.Setenv("SUBMIT_RATE", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, uint8(6), cfg.Policy().RoomCapacity)
	assert.False(t, cfg.Policy().CreatorAutoJoin)
	assert.Equal(t, rate.Inf, cfg.LedgerOptions().SubmitRate)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Config{
		ProgramID:         "nope",
		LedgerBackend:     "sqlite",
		RoomCapacity:      0,
		RateLimit:         10,
		SubmitMaxAttempts: 1,
		OperationTimeout:  time.Second,
	}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"JWT_SECRET_KEY", "PROGRAM_ID", "LEDGER_AUTHORITY", "LEDGER_BACKEND", "ROOM_CAPACITY"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidatePostgresNeedsURL(t *testing.T) {
	cfg := Config{
		JWTSecretKey:      "s",
		ProgramID:         "2gs8GZp9xk1okTQrd1TuzaTycmtVaRffnXu8MQSfmeLW",
		LedgerAuthority:   authority,
		LedgerBackend:     BackendPostgres,
		RoomCapacity:      2,
		RateLimit:         10,
		SubmitMaxAttempts: 1,
		OperationTimeout:  time.Second,
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POSTGRES_URL")

	cfg.DBUrl = "postgres://localhost/rooms"
	assert.NoError(t, cfg.Validate())
}
