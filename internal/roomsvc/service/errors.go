package service

import (
	"errors"
	"fmt"

	"github.com/avvvet/room-services/internal/roomsvc/ledger"
	"github.com/avvvet/room-services/internal/roomsvc/models"
	"github.com/avvvet/room-services/internal/roomsvc/program"
)

var (
	// validation, nothing was sent
	ErrInvalidInput = errors.New("invalid input")

	// preconditions
	ErrAlreadyInitialized    = errors.New("registry already initialized")
	ErrRegistryNotFound      = errors.New("registry not initialized")
	ErrRoomNotFound          = errors.New("room not found")
	ErrRoomNotOpen           = models.ErrRoomNotOpen
	ErrAlreadyJoined         = models.ErrAlreadyJoined
	ErrAlreadyResolved       = models.ErrAlreadyResolved
	ErrWinnerNotAParticipant = models.ErrWinnerNotAParticipant

	// ErrConflictRetryExhausted means every create attempt lost the room
	// counter race.
	ErrConflictRetryExhausted = errors.New("room counter conflict retries exhausted")
	// ErrUnknownOutcome means a transition may or may not have committed and
	// reconciliation could not tell. Callers should re-read before retrying.
	ErrUnknownOutcome = errors.New("unknown outcome")
	// ErrLedgerUnavailable covers throttling and transport failures where
	// nothing was committed.
	ErrLedgerUnavailable = errors.New("ledger unavailable")
)

// errStaleCounter marks a create attempt that targeted an outdated room id.
var errStaleCounter = errors.New("stale room counter")

// translate maps a ledger error to the service taxonomy. notFound is the
// precondition error an AccountNotFound rejection stands for.
func translate(err error, notFound error) error {
	if err == nil {
		return nil
	}

	switch ledger.RejectionCode(err) {
	case "":
	case program.CodeAccountNotFound:
		return fmt.Errorf("%w: %w", notFound, err)
	case program.CodeAccountAlreadyExists:
		return fmt.Errorf("%w: %w", ErrAlreadyInitialized, err)
	case program.CodeRoomNotOpen:
		return fmt.Errorf("%w: %w", ErrRoomNotOpen, err)
	case program.CodeAlreadyJoined:
		return fmt.Errorf("%w: %w", ErrAlreadyJoined, err)
	case program.CodeAlreadyResolved:
		return fmt.Errorf("%w: %w", ErrAlreadyResolved, err)
	case program.CodeWinnerNotAParticipant:
		return fmt.Errorf("%w: %w", ErrWinnerNotAParticipant, err)
	case program.CodeStaleRoomCounter:
		return fmt.Errorf("%w: %w", errStaleCounter, err)
	default:
		// the facade built a transaction the program refuses
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return fmt.Errorf("%w: %w", notFound, err)
	case errors.Is(err, ledger.ErrUnconfirmed):
		return fmt.Errorf("%w: %w", ErrUnknownOutcome, err)
	default:
		return fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

var kinds = []struct {
	err  error
	name string
}{
	{ErrInvalidInput, "invalid_input"},
	{ErrAlreadyInitialized, "already_initialized"},
	{ErrRegistryNotFound, "registry_not_found"},
	{ErrRoomNotFound, "room_not_found"},
	{ErrRoomNotOpen, "room_not_open"},
	{ErrAlreadyJoined, "already_joined"},
	{ErrAlreadyResolved, "already_resolved"},
	{ErrWinnerNotAParticipant, "winner_not_a_participant"},
	{ErrConflictRetryExhausted, "conflict_retry_exhausted"},
	{ErrUnknownOutcome, "unknown_outcome"},
	{ErrLedgerUnavailable, "ledger_unavailable"},
}

// Kind names the error kind carried by err, or "internal".
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}
