package models

// GlobalState is the registry account. There is exactly one per program and
// it only holds the room counter; rooms are found by address derivation.
type GlobalState struct {
	TotalRooms uint64 // monotonically increasing
	Bump       uint8  // bump seed of the registry address
	Authority  Pubkey // signer that initialized the registry
}

// NextRoomID is the identifier the next committed room will receive.
func (g *GlobalState) NextRoomID() uint64 {
	return g.TotalRooms + 1
}
