package models

import (
	"errors"
	"fmt"
)

// MaxRoomCapacity bounds the players vector so a room account has a fixed
// upper size on the ledger.
const MaxRoomCapacity = 32

var (
	ErrRoomNotOpen           = errors.New("room is not open")
	ErrAlreadyJoined         = errors.New("player already joined room")
	ErrAlreadyResolved       = errors.New("room already resolved")
	ErrWinnerNotAParticipant = errors.New("winner is not a participant")
	ErrInvalidCapacity       = errors.New("invalid room capacity")
)

type RoomState uint8

const (
	RoomUninitialized RoomState = iota
	RoomOpen
	RoomFull
	RoomResolved
)

func (s RoomState) String() string {
	switch s {
	case RoomUninitialized:
		return "uninitialized"
	case RoomOpen:
		return "open"
	case RoomFull:
		return "full"
	case RoomResolved:
		return "resolved"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

func (s RoomState) valid() bool {
	return s <= RoomResolved
}

// Room mirrors the on-ledger room account.
type Room struct {
	RoomID        uint64    // totalRooms + 1 at creation
	Creator       Pubkey    // account that created the room
	StakingAmount uint64    // lamports committed per participant
	State         RoomState // lifecycle stage
	CreationTime  int64     // unix seconds
	Winner        *Pubkey   // nil until resolved
	MaxPlayers    uint8     // capacity fixed at creation
	Players       []Pubkey  // join order, no duplicates
}

// NewRoom builds the state of a freshly created room. When creatorJoins is
// set the creator takes the first seat, which may already fill a room of
// capacity one.
func NewRoom(roomID uint64, creator Pubkey, stakingAmount uint64, capacity uint8, creatorJoins bool, createdAt int64) (*Room, error) {
	if capacity == 0 || capacity > MaxRoomCapacity {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}

	r := &Room{
		RoomID:        roomID,
		Creator:       creator,
		StakingAmount: stakingAmount,
		State:         RoomOpen,
		CreationTime:  createdAt,
		MaxPlayers:    capacity,
		Players:       []Pubkey{},
	}
	if creatorJoins {
		r.Players = append(r.Players, creator)
		r.fillCheck()
	}
	return r, nil
}

func (r *Room) HasPlayer(p Pubkey) bool {
	for _, existing := range r.Players {
		if existing == p {
			return true
		}
	}
	return false
}

// Join appends a player. Only an open room accepts players; reaching
// capacity moves it to full.
func (r *Room) Join(p Pubkey) error {
	if r.State != RoomOpen {
		return fmt.Errorf("%w: room %d is %s", ErrRoomNotOpen, r.RoomID, r.State)
	}
	if r.HasPlayer(p) {
		return fmt.Errorf("%w: %s in room %d", ErrAlreadyJoined, p, r.RoomID)
	}

	r.Players = append(r.Players, p)
	r.fillCheck()
	return nil
}

// Resolve records the winner. Resolved is terminal.
func (r *Room) Resolve(winner Pubkey) error {
	if r.State == RoomResolved {
		return fmt.Errorf("%w: room %d", ErrAlreadyResolved, r.RoomID)
	}
	if !r.HasPlayer(winner) {
		return fmt.Errorf("%w: %s in room %d", ErrWinnerNotAParticipant, winner, r.RoomID)
	}

	w := winner
	r.Winner = &w
	r.State = RoomResolved
	return nil
}

func (r *Room) fillCheck() {
	if len(r.Players) >= int(r.MaxPlayers) {
		r.State = RoomFull
	}
}

// Clone returns a deep copy so precondition checks can run against a
// scratch value.
func (r *Room) Clone() *Room {
	c := *r
	c.Players = append([]Pubkey(nil), r.Players...)
	if r.Winner != nil {
		w := *r.Winner
		c.Winner = &w
	}
	return &c
}
