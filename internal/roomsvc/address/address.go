// Package address derives the deterministic ledger addresses of the room
// registry and of individual rooms. Addresses are program-derived: they are
// hashed from seeds and the program id and are guaranteed to lie off the
// ed25519 curve, so no private key can ever sign for them.
package address

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"filippo.io/edwards25519"

	"github.com/avvvet/room-services/internal/roomsvc/models"
)

const (
	RegistrySeed = "global-state"
	RoomSeed     = "room"

	maxSeeds   = 16
	maxSeedLen = 32
	pdaMarker  = "ProgramDerivedAddress"
)

var (
	ErrMalformedKey = errors.New("malformed address key parts")
	ErrOnCurve      = errors.New("derived address lies on the ed25519 curve")
	ErrNoBump       = errors.New("no viable bump seed")
)

type Kind int

const (
	Registry Kind = iota
	Room
)

func (k Kind) String() string {
	switch k {
	case Registry:
		return "registry"
	case Room:
		return "room"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Deriver maps logical entities to addresses owned by one program.
type Deriver struct {
	programID models.Pubkey
}

func NewDeriver(programID models.Pubkey) *Deriver {
	return &Deriver{programID: programID}
}

func (d *Deriver) ProgramID() models.Pubkey {
	return d.programID
}

// Derive returns the address and bump for (kind, keyParts). The registry
// takes no key parts; a room takes exactly its id as 8 little-endian bytes.
func (d *Deriver) Derive(kind Kind, keyParts ...[]byte) (models.Pubkey, uint8, error) {
	seeds, err := seedsFor(kind, keyParts)
	if err != nil {
		return models.Pubkey{}, 0, err
	}
	return FindProgramAddress(seeds, d.programID)
}

// Registry returns the single registry address.
func (d *Deriver) Registry() (models.Pubkey, uint8) {
	return d.must(d.Derive(Registry))
}

// Room returns the address of the room with the given id.
func (d *Deriver) Room(roomID uint64) (models.Pubkey, uint8) {
	return d.must(d.Derive(Room, RoomIDSeed(roomID)))
}

// Verify reports whether addr is the address of (kind, keyParts) under the
// given bump.
func (d *Deriver) Verify(addr models.Pubkey, bump uint8, kind Kind, keyParts ...[]byte) bool {
	seeds, err := seedsFor(kind, keyParts)
	if err != nil {
		return false
	}
	got, err := CreateProgramAddress(append(seeds, []byte{bump}), d.programID)
	return err == nil && got == addr
}

func (d *Deriver) must(addr models.Pubkey, bump uint8, err error) (models.Pubkey, uint8) {
	// fixed seeds only fail if all 256 bumps land on the curve
	if err != nil {
		panic(fmt.Sprintf("address derivation: %v", err))
	}
	return addr, bump
}

// RoomIDSeed encodes a room id the way the program expects it in seeds.
func RoomIDSeed(roomID uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, roomID)
	return b
}

func seedsFor(kind Kind, keyParts [][]byte) ([][]byte, error) {
	switch kind {
	case Registry:
		if len(keyParts) != 0 {
			return nil, fmt.Errorf("%w: registry takes no key parts, got %d", ErrMalformedKey, len(keyParts))
		}
		return [][]byte{[]byte(RegistrySeed)}, nil
	case Room:
		if len(keyParts) != 1 || len(keyParts[0]) != 8 {
			return nil, fmt.Errorf("%w: room takes one 8 byte id", ErrMalformedKey)
		}
		return [][]byte{[]byte(RoomSeed), keyParts[0]}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %s", ErrMalformedKey, kind)
	}
}

// FindProgramAddress searches bumps from 255 downwards and returns the first
// off-curve address.
func FindProgramAddress(seeds [][]byte, programID models.Pubkey) (models.Pubkey, uint8, error) {
	if len(seeds) >= maxSeeds {
		return models.Pubkey{}, 0, fmt.Errorf("%w: too many seeds", ErrMalformedKey)
	}

	bumped := make([][]byte, len(seeds)+1)
	copy(bumped, seeds)
	for bump := 255; bump >= 0; bump-- {
		bumped[len(seeds)] = []byte{uint8(bump)}
		addr, err := CreateProgramAddress(bumped, programID)
		if errors.Is(err, ErrOnCurve) {
			continue
		}
		if err != nil {
			return models.Pubkey{}, 0, err
		}
		return addr, uint8(bump), nil
	}
	return models.Pubkey{}, 0, ErrNoBump
}

// CreateProgramAddress hashes the seeds with the program id. It fails with
// ErrOnCurve when the result is a valid public key.
func CreateProgramAddress(seeds [][]byte, programID models.Pubkey) (models.Pubkey, error) {
	if len(seeds) > maxSeeds {
		return models.Pubkey{}, fmt.Errorf("%w: too many seeds", ErrMalformedKey)
	}

	h := sha256.New()
	for _, s := range seeds {
		if len(s) > maxSeedLen {
			return models.Pubkey{}, fmt.Errorf("%w: seed longer than %d bytes", ErrMalformedKey, maxSeedLen)
		}
		h.Write(s)
	}
	h.Write(programID[:])
	h.Write([]byte(pdaMarker))

	var addr models.Pubkey
	copy(addr[:], h.Sum(nil))

	if isOnCurve(addr) {
		return models.Pubkey{}, ErrOnCurve
	}
	return addr, nil
}

func isOnCurve(p models.Pubkey) bool {
	_, err := new(edwards25519.Point).SetBytes(p[:])
	return err == nil
}
