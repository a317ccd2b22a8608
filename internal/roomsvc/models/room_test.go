package models

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(name string) Pubkey {
	return Pubkey(sha256.Sum256([]byte(name)))
}

func TestNewRoomCreatorJoins(t *testing.T) {
	alice := testKey("alice")

	r, err := NewRoom(1, alice, 500, 2, true, 1700000000)
	require.NoError(t, err)
	assert.Equal(t, RoomOpen, r.State)
	assert.Equal(t, []Pubkey{alice}, r.Players)
	assert.Nil(t, r.Winner)

	solo, err := NewRoom(2, alice, 0, 1, true, 1700000000)
	require.NoError(t, err)
	assert.Equal(t, RoomFull, solo.State)

	empty, err := NewRoom(3, alice, 0, 1, false, 1700000000)
	require.NoError(t, err)
	assert.Equal(t, RoomOpen, empty.State)
	assert.Empty(t, empty.Players)
}

func TestNewRoomRejectsCapacity(t *testing.T) {
	_, err := NewRoom(1, testKey("a"), 0, 0, true, 0)
	assert.ErrorIs(t, err, ErrInvalidCapacity)

	_, err = NewRoom(1, testKey("a"), 0, MaxRoomCapacity+1, true, 0)
	assert.ErrorIs(t, err, ErrInvalidCapacity)
}

func TestRoomJoin(t *testing.T) {
	alice, bob, carol := testKey("alice"), testKey("bob"), testKey("carol")
	r, err := NewRoom(1, alice, 0, 2, true, 0)
	require.NoError(t, err)

	assert.ErrorIs(t, r.Join(alice), ErrAlreadyJoined)

	require.NoError(t, r.Join(bob))
	assert.Equal(t, RoomFull, r.State)

	assert.ErrorIs(t, r.Join(carol), ErrRoomNotOpen)
	assert.Equal(t, []Pubkey{alice, bob}, r.Players)
}

func TestRoomResolve(t *testing.T) {
	alice, bob, carol := testKey("alice"), testKey("bob"), testKey("carol")
	r, err := NewRoom(1, alice, 0, 3, true, 0)
	require.NoError(t, err)
	require.NoError(t, r.Join(bob))

	assert.ErrorIs(t, r.Resolve(carol), ErrWinnerNotAParticipant)
	assert.Equal(t, RoomOpen, r.State)

	require.NoError(t, r.Resolve(bob))
	assert.Equal(t, RoomResolved, r.State)
	require.NotNil(t, r.Winner)
	assert.Equal(t, bob, *r.Winner)

	assert.ErrorIs(t, r.Resolve(alice), ErrAlreadyResolved)
	assert.ErrorIs(t, r.Join(carol), ErrRoomNotOpen)
	assert.Equal(t, bob, *r.Winner)
}

func TestRoomBinaryLayout(t *testing.T) {
	alice, bob := testKey("alice"), testKey("bob")
	r, err := NewRoom(42, alice, 1_000_000_000, 4, true, 1700000123)
	require.NoError(t, err)
	require.NoError(t, r.Join(bob))
	require.NoError(t, r.Resolve(bob))

	data, err := r.MarshalBinary()
	require.NoError(t, err)

	var decoded Room
	require.NoError(t, decoded.UnmarshalBinary(data))
	assert.Equal(t, r, &decoded)

	assert.ErrorIs(t, decoded.UnmarshalBinary(data[:20]), ErrShortAccount)

	var g GlobalState
	assert.ErrorIs(t, g.UnmarshalBinary(data), ErrDiscriminator)
}

func TestGlobalStateBinaryLayout(t *testing.T) {
	g := GlobalState{TotalRooms: 7, Bump: 254, Authority: testKey("authority")}

	data, err := g.MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, data, GlobalStateSize)

	var decoded GlobalState
	require.NoError(t, decoded.UnmarshalBinary(data))
	assert.Equal(t, g, decoded)
	assert.Equal(t, uint64(8), decoded.NextRoomID())
}

func TestPubkeyText(t *testing.T) {
	k := testKey("alice")

	parsed, err := ParsePubkey(k.String())
	require.NoError(t, err)
	assert.Equal(t, k, parsed)

	assert.Equal(t, "11111111111111111111111111111111", Pubkey{}.String())

	_, err = ParsePubkey("")
	assert.ErrorIs(t, err, ErrInvalidPubkey)
	_, err = ParsePubkey("0OIl")
	assert.ErrorIs(t, err, ErrInvalidPubkey)
	_, err = ParsePubkey("3yZe7d")
	assert.ErrorIs(t, err, ErrInvalidPubkey)
}
