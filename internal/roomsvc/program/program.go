// Package program holds the transition rules of the room program. Ledger
// backends run Execute inside their atomic commit, so every precondition
// here is enforced against the state the transaction actually lands on.
package program

import (
	"errors"

	"github.com/avvvet/room-services/internal/roomsvc/address"
	"github.com/avvvet/room-services/internal/roomsvc/ledger"
	"github.com/avvvet/room-services/internal/roomsvc/models"
)

// Rejection codes.
const (
	CodeAccountAlreadyExists  = "AccountAlreadyExists"
	CodeAccountNotFound       = "AccountNotFound"
	CodeStaleRoomCounter      = "StaleRoomCounter"
	CodeRoomNotOpen           = "RoomNotOpen"
	CodeAlreadyJoined         = "AlreadyJoined"
	CodeAlreadyResolved       = "AlreadyResolved"
	CodeWinnerNotAParticipant = "WinnerNotAParticipant"
	CodeMissingSigner         = "MissingSigner"
	CodeInvalidInstruction    = "InvalidInstruction"
	CodeInvalidSeeds          = "InvalidSeeds"
	CodeInvalidAccount        = "InvalidAccount"
)

type Program struct {
	deriver *address.Deriver
}

func New(deriver *address.Deriver) *Program {
	return &Program{deriver: deriver}
}

func (p *Program) ID() models.Pubkey {
	return p.deriver.ProgramID()
}

func (p *Program) Deriver() *address.Deriver {
	return p.deriver
}

// Execute implements ledger.Executor.
func (p *Program) Execute(tx *ledger.Transaction, state ledger.AccountReader) ([]ledger.AccountWrite, error) {
	if tx.ProgramID != p.ID() {
		return nil, ledger.Reject(CodeInvalidInstruction, "transaction targets program %s", tx.ProgramID)
	}

	name, args, err := decodeInstruction(tx.Data)
	if err != nil {
		return nil, ledger.Reject(CodeInvalidInstruction, "%v", err)
	}
	if tx.Instruction != "" && tx.Instruction != name {
		return nil, ledger.Reject(CodeInvalidInstruction, "instruction %q does not match data %q", tx.Instruction, name)
	}

	switch name {
	case IxInitialize:
		return p.initialize(tx, args, state)
	case IxCreateRoom:
		return p.createRoom(tx, args, state)
	case IxJoinRoom:
		return p.joinRoom(tx, args, state)
	case IxEndGame:
		return p.endGame(tx, args, state)
	}
	return nil, ledger.Reject(CodeInvalidInstruction, "unhandled instruction %q", name)
}

// accounts [registry(w), authority(s)] args [bump u8]
func (p *Program) initialize(tx *ledger.Transaction, args []byte, state ledger.AccountReader) ([]ledger.AccountWrite, error) {
	if err := expectAccounts(tx, 2, 1); err != nil {
		return nil, err
	}
	if len(args) != 1 {
		return nil, ledger.Reject(CodeInvalidInstruction, "initialize takes a bump byte")
	}
	registry, authority := tx.Accounts[0].Address, tx.Accounts[1].Address

	if !p.deriver.Verify(registry, args[0], address.Registry) {
		return nil, ledger.Reject(CodeInvalidSeeds, "%s is not the registry address for bump %d", registry, args[0])
	}
	if _, exists := state.Account(registry); exists {
		return nil, ledger.Reject(CodeAccountAlreadyExists, "registry %s already initialized", registry)
	}

	g := models.GlobalState{TotalRooms: 0, Bump: args[0], Authority: authority}
	data, _ := g.MarshalBinary()
	return []ledger.AccountWrite{{Address: registry, Data: data}}, nil
}

// accounts [room(w), registry(w), creator, authority(s)]
func (p *Program) createRoom(tx *ledger.Transaction, args []byte, state ledger.AccountReader) ([]ledger.AccountWrite, error) {
	if err := expectAccounts(tx, 4, 3); err != nil {
		return nil, err
	}
	in, err := decodeCreateRoomArgs(args)
	if err != nil {
		return nil, ledger.Reject(CodeInvalidInstruction, "%v", err)
	}
	roomAddr, registryAddr, creator := tx.Accounts[0].Address, tx.Accounts[1].Address, tx.Accounts[2].Address

	if want, _ := p.deriver.Registry(); registryAddr != want {
		return nil, ledger.Reject(CodeInvalidSeeds, "%s is not the registry address", registryAddr)
	}
	g, err := p.loadRegistry(state, registryAddr)
	if err != nil {
		return nil, err
	}

	roomID := g.NextRoomID()
	if want, _ := p.deriver.Room(roomID); roomAddr != want {
		return nil, ledger.Reject(CodeStaleRoomCounter, "room account %s is not room %d", roomAddr, roomID)
	}
	if _, exists := state.Account(roomAddr); exists {
		return nil, ledger.Reject(CodeAccountAlreadyExists, "room %d already exists", roomID)
	}

	room, err := models.NewRoom(roomID, creator, in.StakingAmount, in.MaxPlayers, in.CreatorJoins, in.CreationTime)
	if err != nil {
		return nil, ledger.Reject(CodeInvalidInstruction, "%v", err)
	}
	g.TotalRooms = roomID

	roomData, err := room.MarshalBinary()
	if err != nil {
		return nil, ledger.Reject(CodeInvalidInstruction, "%v", err)
	}
	registryData, _ := g.MarshalBinary()
	return []ledger.AccountWrite{
		{Address: roomAddr, Data: roomData},
		{Address: registryAddr, Data: registryData},
	}, nil
}

// accounts [room(w), player, authority(s)]
func (p *Program) joinRoom(tx *ledger.Transaction, args []byte, state ledger.AccountReader) ([]ledger.AccountWrite, error) {
	if err := expectAccounts(tx, 3, 2); err != nil {
		return nil, err
	}
	if len(args) != 0 {
		return nil, ledger.Reject(CodeInvalidInstruction, "join_room takes no arguments")
	}
	roomAddr, player := tx.Accounts[0].Address, tx.Accounts[1].Address

	room, err := p.loadRoom(state, roomAddr)
	if err != nil {
		return nil, err
	}
	if err := room.Join(player); err != nil {
		return nil, rejectRoomError(err)
	}
	return writeRoom(roomAddr, room)
}

// accounts [room(w), winner, authority(s)] args [winner 32]
func (p *Program) endGame(tx *ledger.Transaction, args []byte, state ledger.AccountReader) ([]ledger.AccountWrite, error) {
	if err := expectAccounts(tx, 3, 2); err != nil {
		return nil, err
	}
	if len(args) != models.PubkeySize {
		return nil, ledger.Reject(CodeInvalidInstruction, "end_game takes a winner key")
	}
	roomAddr, winnerAccount := tx.Accounts[0].Address, tx.Accounts[1].Address
	winner := models.Pubkey(args)
	if winner != winnerAccount {
		return nil, ledger.Reject(CodeInvalidInstruction, "winner argument %s does not match account %s", winner, winnerAccount)
	}

	room, err := p.loadRoom(state, roomAddr)
	if err != nil {
		return nil, err
	}
	if err := room.Resolve(winner); err != nil {
		return nil, rejectRoomError(err)
	}
	return writeRoom(roomAddr, room)
}

func (p *Program) loadRegistry(state ledger.AccountReader, addr models.Pubkey) (*models.GlobalState, error) {
	acc, ok := state.Account(addr)
	if !ok {
		return nil, ledger.Reject(CodeAccountNotFound, "registry %s not initialized", addr)
	}
	if acc.Owner != p.ID() {
		return nil, ledger.Reject(CodeInvalidAccount, "registry %s owned by %s", addr, acc.Owner)
	}
	var g models.GlobalState
	if err := g.UnmarshalBinary(acc.Data); err != nil {
		return nil, ledger.Reject(CodeInvalidAccount, "registry %s: %v", addr, err)
	}
	return &g, nil
}

func (p *Program) loadRoom(state ledger.AccountReader, addr models.Pubkey) (*models.Room, error) {
	acc, ok := state.Account(addr)
	if !ok {
		return nil, ledger.Reject(CodeAccountNotFound, "room account %s not found", addr)
	}
	if acc.Owner != p.ID() {
		return nil, ledger.Reject(CodeInvalidAccount, "room %s owned by %s", addr, acc.Owner)
	}
	var r models.Room
	if err := r.UnmarshalBinary(acc.Data); err != nil {
		return nil, ledger.Reject(CodeInvalidAccount, "room %s: %v", addr, err)
	}
	if want, _ := p.deriver.Room(r.RoomID); want != addr {
		return nil, ledger.Reject(CodeInvalidSeeds, "room %d does not live at %s", r.RoomID, addr)
	}
	return &r, nil
}

func writeRoom(addr models.Pubkey, room *models.Room) ([]ledger.AccountWrite, error) {
	data, err := room.MarshalBinary()
	if err != nil {
		return nil, ledger.Reject(CodeInvalidInstruction, "%v", err)
	}
	return []ledger.AccountWrite{{Address: addr, Data: data}}, nil
}

// expectAccounts checks the account count and that the account at
// signerIdx signed the transaction.
func expectAccounts(tx *ledger.Transaction, n, signerIdx int) error {
	if len(tx.Accounts) != n {
		return ledger.Reject(CodeInvalidInstruction, "%s expects %d accounts, got %d", tx.Instruction, n, len(tx.Accounts))
	}
	signer := tx.Accounts[signerIdx]
	if !signer.Signer || !tx.SignedBy(signer.Address) {
		return ledger.Reject(CodeMissingSigner, "%s not signed by %s", tx.Instruction, signer.Address)
	}
	return nil
}

func rejectRoomError(err error) error {
	switch {
	case errors.Is(err, models.ErrRoomNotOpen):
		return ledger.Reject(CodeRoomNotOpen, "%v", err)
	case errors.Is(err, models.ErrAlreadyJoined):
		return ledger.Reject(CodeAlreadyJoined, "%v", err)
	case errors.Is(err, models.ErrAlreadyResolved):
		return ledger.Reject(CodeAlreadyResolved, "%v", err)
	case errors.Is(err, models.ErrWinnerNotAParticipant):
		return ledger.Reject(CodeWinnerNotAParticipant, "%v", err)
	}
	return ledger.Reject(CodeInvalidInstruction, "%v", err)
}
