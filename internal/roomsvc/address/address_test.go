package address

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avvvet/room-services/internal/roomsvc/models"
)

var programID = models.MustParsePubkey("2gs8GZp9xk1okTQrd1TuzaTycmtVaRffnXu8MQSfmeLW")

func TestRegistryIsDeterministic(t *testing.T) {
	d := NewDeriver(programID)

	a, bumpA := d.Registry()
	b, bumpB := NewDeriver(programID).Registry()

	assert.Equal(t, a, b)
	assert.Equal(t, bumpA, bumpB)
	assert.False(t, isOnCurve(a))
	assert.True(t, d.Verify(a, bumpA, Registry))
}

func TestRoomAddressesAreDistinct(t *testing.T) {
	d := NewDeriver(programID)
	registry, _ := d.Registry()

	seen := map[models.Pubkey]uint64{registry: 0}
	for id := uint64(1); id <= 200; id++ {
		addr, bump := d.Room(id)
		prev, dup := seen[addr]
		require.False(t, dup, "room %d collides with %d", id, prev)
		seen[addr] = id

		assert.True(t, d.Verify(addr, bump, Room, RoomIDSeed(id)))
		assert.False(t, d.Verify(addr, bump, Room, RoomIDSeed(id+1)))
	}
}

func TestProgramIDSeparatesAddresses(t *testing.T) {
	other := models.Pubkey{1}

	a, _ := NewDeriver(programID).Room(1)
	b, _ := NewDeriver(other).Room(1)
	assert.NotEqual(t, a, b)
}

func TestRoomIDSeedIsLittleEndian(t *testing.T) {
	assert.Equal(t, []byte{1, 0, 0, 0, 0, 0, 0, 0}, RoomIDSeed(1))
	assert.Equal(t, []byte{0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01}, RoomIDSeed(0x0102030405060708))
}

func TestDeriveMalformedKeyParts(t *testing.T) {
	d := NewDeriver(programID)

	_, _, err := d.Derive(Registry, []byte("x"))
	assert.ErrorIs(t, err, ErrMalformedKey)

	_, _, err = d.Derive(Room)
	assert.ErrorIs(t, err, ErrMalformedKey)

	_, _, err = d.Derive(Room, []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformedKey)

	_, _, err = d.Derive(Kind(9))
	assert.ErrorIs(t, err, ErrMalformedKey)
}

func TestDeriveMatchesRoomHelper(t *testing.T) {
	d := NewDeriver(programID)

	addr, bump, err := d.Derive(Room, RoomIDSeed(7))
	require.NoError(t, err)

	want, wantBump := d.Room(7)
	assert.Equal(t, want, addr)
	assert.Equal(t, wantBump, bump)
}

func TestCreateProgramAddressSeedLimits(t *testing.T) {
	_, err := CreateProgramAddress([][]byte{make([]byte, maxSeedLen+1)}, programID)
	assert.ErrorIs(t, err, ErrMalformedKey)

	_, _, err = FindProgramAddress(make([][]byte, maxSeeds), programID)
	assert.ErrorIs(t, err, ErrMalformedKey)
}
