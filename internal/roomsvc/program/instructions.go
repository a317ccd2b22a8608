package program

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/avvvet/room-services/internal/roomsvc/ledger"
	"github.com/avvvet/room-services/internal/roomsvc/models"
)

const (
	IxInitialize = "initialize"
	IxCreateRoom = "create_room"
	IxJoinRoom   = "join_room"
	IxEndGame    = "end_game"
)

var discriminators = map[[8]byte]string{}

func init() {
	for _, name := range []string{IxInitialize, IxCreateRoom, IxJoinRoom, IxEndGame} {
		discriminators[instructionDiscriminator(name)] = name
	}
}

func instructionDiscriminator(name string) [8]byte {
	var d [8]byte
	sum := sha256.Sum256([]byte("global:" + name))
	copy(d[:], sum[:8])
	return d
}

type CreateRoomArgs struct {
	StakingAmount uint64
	MaxPlayers    uint8
	CreatorJoins  bool
	CreationTime  int64
}

// Initialize builds the registry creation transaction.
func (p *Program) Initialize(registry models.Pubkey, bump uint8, authority models.Pubkey) *ledger.Transaction {
	data := header(IxInitialize)
	data = append(data, bump)

	return p.tx(IxInitialize, data, authority,
		ledger.AccountMeta{Address: registry, Writable: true},
		ledger.AccountMeta{Address: authority, Signer: true},
	)
}

// CreateRoom builds the transaction that creates room and bumps the counter.
// room must be the address of totalRooms+1 as read by the caller.
func (p *Program) CreateRoom(room, registry, creator, authority models.Pubkey, args CreateRoomArgs) *ledger.Transaction {
	data := header(IxCreateRoom)
	data = binary.LittleEndian.AppendUint64(data, args.StakingAmount)
	data = append(data, args.MaxPlayers, boolByte(args.CreatorJoins))
	data = binary.LittleEndian.AppendUint64(data, uint64(args.CreationTime))

	return p.tx(IxCreateRoom, data, authority,
		ledger.AccountMeta{Address: room, Writable: true},
		ledger.AccountMeta{Address: registry, Writable: true},
		ledger.AccountMeta{Address: creator},
		ledger.AccountMeta{Address: authority, Signer: true},
	)
}

func (p *Program) JoinRoom(room, player, authority models.Pubkey) *ledger.Transaction {
	return p.tx(IxJoinRoom, header(IxJoinRoom), authority,
		ledger.AccountMeta{Address: room, Writable: true},
		ledger.AccountMeta{Address: player},
		ledger.AccountMeta{Address: authority, Signer: true},
	)
}

func (p *Program) EndGame(room, winner, authority models.Pubkey) *ledger.Transaction {
	data := header(IxEndGame)
	data = append(data, winner[:]...)

	return p.tx(IxEndGame, data, authority,
		ledger.AccountMeta{Address: room, Writable: true},
		ledger.AccountMeta{Address: winner},
		ledger.AccountMeta{Address: authority, Signer: true},
	)
}

func (p *Program) tx(name string, data []byte, signer models.Pubkey, accounts ...ledger.AccountMeta) *ledger.Transaction {
	return &ledger.Transaction{
		ProgramID:   p.ID(),
		Instruction: name,
		Accounts:    accounts,
		Data:        data,
		Signers:     []models.Pubkey{signer},
	}
}

func header(name string) []byte {
	d := instructionDiscriminator(name)
	return append(make([]byte, 0, 64), d[:]...)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func decodeInstruction(data []byte) (string, []byte, error) {
	if len(data) < 8 {
		return "", nil, fmt.Errorf("instruction data too short")
	}
	name, ok := discriminators[[8]byte(data[:8])]
	if !ok {
		return "", nil, fmt.Errorf("unknown instruction discriminator %x", data[:8])
	}
	return name, data[8:], nil
}

func decodeCreateRoomArgs(b []byte) (CreateRoomArgs, error) {
	if len(b) != 8+1+1+8 {
		return CreateRoomArgs{}, fmt.Errorf("create_room args: expected 18 bytes, got %d", len(b))
	}
	return CreateRoomArgs{
		StakingAmount: binary.LittleEndian.Uint64(b[0:8]),
		MaxPlayers:    b[8],
		CreatorJoins:  b[9] == 1,
		CreationTime:  int64(binary.LittleEndian.Uint64(b[10:18])),
	}, nil
}
