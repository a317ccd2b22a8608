package ledger

import (
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// NewSignature returns a random 64 byte transaction id in base58, the form
// ledger signatures are printed in.
func NewSignature() string {
	raw := make([]byte, 0, 64)
	for i := 0; i < 4; i++ {
		u := uuid.New()
		raw = append(raw, u[:]...)
	}
	return base58.Encode(raw)
}
