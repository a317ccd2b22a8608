package models

import (
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

const PubkeySize = 32

var ErrInvalidPubkey = errors.New("invalid public key")

// Pubkey is a 32 byte ledger identity. Accounts, program ids and player
// identities all share this representation.
type Pubkey [PubkeySize]byte

// ParsePubkey decodes the base58 text form of a public key.
func ParsePubkey(s string) (Pubkey, error) {
	var p Pubkey
	if s == "" {
		return p, fmt.Errorf("%w: empty", ErrInvalidPubkey)
	}

	raw, err := base58.Decode(s)
	if err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidPubkey, err)
	}
	if len(raw) != PubkeySize {
		return p, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidPubkey, PubkeySize, len(raw))
	}

	copy(p[:], raw)
	return p, nil
}

// MustParsePubkey is ParsePubkey for constants known to be valid.
func MustParsePubkey(s string) Pubkey {
	p, err := ParsePubkey(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

func (p Pubkey) IsZero() bool {
	return p == Pubkey{}
}

func (p Pubkey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Pubkey) UnmarshalText(text []byte) error {
	parsed, err := ParsePubkey(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
