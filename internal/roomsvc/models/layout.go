package models

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrDiscriminator = errors.New("account discriminator mismatch")
	ErrShortAccount  = errors.New("account data too short")
	ErrCorruptRoom   = errors.New("corrupt room account")
)

var (
	globalStateDiscriminator = AccountDiscriminator("GlobalState")
	roomDiscriminator        = AccountDiscriminator("Room")
)

// GlobalStateSize is discriminator + total_rooms + bump + authority.
const GlobalStateSize = 8 + 8 + 1 + PubkeySize

// AccountDiscriminator is the 8 byte prefix identifying an account type.
func AccountDiscriminator(name string) [8]byte {
	var d [8]byte
	sum := sha256.Sum256([]byte("account:" + name))
	copy(d[:], sum[:8])
	return d
}

func (g *GlobalState) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, GlobalStateSize)
	buf = append(buf, globalStateDiscriminator[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, g.TotalRooms)
	buf = append(buf, g.Bump)
	buf = append(buf, g.Authority[:]...)
	return buf, nil
}

func (g *GlobalState) UnmarshalBinary(data []byte) error {
	d := newDecoder(data, globalStateDiscriminator)
	g.TotalRooms = d.u64()
	g.Bump = d.u8()
	g.Authority = d.pubkey()
	return d.err
}

// Room layout:
//
//	disc[8] room_id u64 creator[32] staking_amount u64 state u8
//	creation_time i64 has_winner u8 winner[32] max_players u8
//	player_count u32 players[32*n]
func (r *Room) MarshalBinary() ([]byte, error) {
	if len(r.Players) > MaxRoomCapacity {
		return nil, fmt.Errorf("%w: %d players", ErrInvalidCapacity, len(r.Players))
	}

	buf := make([]byte, 0, 8+8+PubkeySize+8+1+8+1+PubkeySize+1+4+PubkeySize*len(r.Players))
	buf = append(buf, roomDiscriminator[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, r.RoomID)
	buf = append(buf, r.Creator[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, r.StakingAmount)
	buf = append(buf, byte(r.State))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(r.CreationTime))

	var winner Pubkey
	if r.Winner != nil {
		winner = *r.Winner
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, winner[:]...)

	buf = append(buf, r.MaxPlayers)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(r.Players)))
	for _, p := range r.Players {
		buf = append(buf, p[:]...)
	}
	return buf, nil
}

func (r *Room) UnmarshalBinary(data []byte) error {
	d := newDecoder(data, roomDiscriminator)
	r.RoomID = d.u64()
	r.Creator = d.pubkey()
	r.StakingAmount = d.u64()
	r.State = RoomState(d.u8())
	r.CreationTime = int64(d.u64())
	hasWinner := d.u8()
	winner := d.pubkey()
	r.MaxPlayers = d.u8()
	count := d.u32()
	if d.err != nil {
		return d.err
	}

	if !r.State.valid() {
		return fmt.Errorf("%w: state %d", ErrCorruptRoom, r.State)
	}
	if count > MaxRoomCapacity {
		return fmt.Errorf("%w: %d players", ErrCorruptRoom, count)
	}

	r.Winner = nil
	if hasWinner == 1 {
		r.Winner = &winner
	}

	r.Players = make([]Pubkey, 0, count)
	for i := uint32(0); i < count; i++ {
		r.Players = append(r.Players, d.pubkey())
	}
	return d.err
}

type decoder struct {
	buf []byte
	off int
	err error
}

func newDecoder(data []byte, disc [8]byte) *decoder {
	d := &decoder{buf: data}
	if len(data) < 8 {
		d.err = fmt.Errorf("%w: %d bytes", ErrShortAccount, len(data))
		return d
	}
	if [8]byte(data[:8]) != disc {
		d.err = ErrDiscriminator
		return d
	}
	d.off = 8
	return d
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if d.off+n > len(d.buf) {
		d.err = fmt.Errorf("%w: need %d bytes at offset %d", ErrShortAccount, n, d.off)
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) u32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *decoder) u64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (d *decoder) pubkey() Pubkey {
	var p Pubkey
	b := d.take(PubkeySize)
	if b != nil {
		copy(p[:], b)
	}
	return p
}
