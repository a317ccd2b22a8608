package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v5"
	log "github.com/sirupsen/logrus"

	"github.com/avvvet/room-services/internal/comm"
	"github.com/avvvet/room-services/internal/roomsvc/address"
	"github.com/avvvet/room-services/internal/roomsvc/ledger"
	"github.com/avvvet/room-services/internal/roomsvc/models"
	"github.com/avvvet/room-services/internal/roomsvc/program"
)

// EventPublisher receives an event after every committed transition.
type EventPublisher interface {
	PublishRoomEvent(ev comm.RoomEvent) error
}

// Policy holds the room rules that are configuration rather than protocol.
type Policy struct {
	RoomCapacity          uint8  // players per room, creator included when auto-joined
	CreatorAutoJoin       bool   // creator takes the first seat
	DefaultStake          uint64 // lamports when a create request names none
	CreateRoomMaxAttempts uint   // counter race attempts, 0 retries until the deadline
	ConflictBackoff       time.Duration
	ReconcileTimeout      time.Duration // budget for the read that settles an ambiguous outcome
}

func DefaultPolicy() Policy {
	return Policy{
		RoomCapacity:          2,
		CreatorAutoJoin:       true,
		CreateRoomMaxAttempts: 8,
		ConflictBackoff:       50 * time.Millisecond,
		ReconcileTimeout:      5 * time.Second,
	}
}

func (p Policy) Validate() error {
	if p.RoomCapacity == 0 || p.RoomCapacity > models.MaxRoomCapacity {
		return fmt.Errorf("%w: %d, want 1..%d", models.ErrInvalidCapacity, p.RoomCapacity, models.MaxRoomCapacity)
	}
	return nil
}

// Confirmation acknowledges a committed transition. Signature is empty when
// the commit was established by reconciliation rather than a receipt.
type Confirmation struct {
	Signature  string
	Reconciled bool
}

type CreateRoomInput struct {
	Creator       string
	StakingAmount *uint64 // nil takes the policy default
}

type CreateRoomResult struct {
	RoomID uint64
	Confirmation
}

// RoomService runs the room lifecycle against the ledger. It keeps no state
// between calls; the ledger is the only source of truth.
type RoomService struct {
	ledger    ledger.Ledger
	program   *program.Program
	deriver   *address.Deriver
	authority models.Pubkey
	policy    Policy
	clock     clock.Clock
	publisher EventPublisher
}

func NewRoomService(l ledger.Ledger, prog *program.Program, authority models.Pubkey, policy Policy, clk clock.Clock, publisher EventPublisher) (*RoomService, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if authority.IsZero() {
		return nil, errors.New("room service: authority is required")
	}
	if clk == nil {
		clk = clock.New()
	}
	if policy.ReconcileTimeout <= 0 {
		policy.ReconcileTimeout = DefaultPolicy().ReconcileTimeout
	}

	return &RoomService{
		ledger:    l,
		program:   prog,
		deriver:   prog.Deriver(),
		authority: authority,
		policy:    policy,
		clock:     clk,
		publisher: publisher,
	}, nil
}

// Initialize creates the registry with a zero room counter.
func (s *RoomService) Initialize(ctx context.Context) (*Confirmation, error) {
	registry, bump := s.deriver.Registry()

	if _, err := s.readRegistry(ctx); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyInitialized, registry)
	} else if !errors.Is(err, ErrRegistryNotFound) {
		return nil, err
	}

	tx := s.program.Initialize(registry, bump, s.authority)
	conf, err := s.submit(ctx, tx, ErrRegistryNotFound, func(ctx context.Context) (bool, error) {
		g, err := s.readRegistry(ctx)
		if err != nil {
			return false, err
		}
		return g.Authority == s.authority, nil
	})
	if err != nil {
		return nil, err
	}

	log.Infof("registry %s initialized by %s", registry, s.authority)
	s.publish(ctx, comm.EventRegistryInitialized, 0, s.authority, conf)
	return conf, nil
}

// CreateRoom creates room totalRooms+1. Losing the counter race to another
// creator is retried with a fresh read until the attempt budget runs out.
func (s *RoomService) CreateRoom(ctx context.Context, in CreateRoomInput) (*CreateRoomResult, error) {
	creator, err := models.ParsePubkey(in.Creator)
	if err != nil {
		return nil, invalid("creator: %v", err)
	}
	args := program.CreateRoomArgs{
		StakingAmount: s.policy.DefaultStake,
		MaxPlayers:    s.policy.RoomCapacity,
		CreatorJoins:  s.policy.CreatorAutoJoin,
		CreationTime:  s.clock.Now().Unix(),
	}
	if in.StakingAmount != nil {
		args.StakingAmount = *in.StakingAmount
	}
	registry, _ := s.deriver.Registry()

	attempt := func() (*CreateRoomResult, error) {
		g, err := s.readRegistry(ctx)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		roomID := g.NextRoomID()
		roomAddr, _ := s.deriver.Room(roomID)
		tx := s.program.CreateRoom(roomAddr, registry, creator, s.authority, args)

		conf, err := s.submit(ctx, tx, ErrRegistryNotFound, func(ctx context.Context) (bool, error) {
			room, err := s.readRoom(ctx, roomID)
			if errors.Is(err, ErrRoomNotFound) {
				return false, nil
			}
			if err != nil {
				return false, err
			}
			return room.Creator == creator &&
				room.CreationTime == args.CreationTime &&
				room.StakingAmount == args.StakingAmount, nil
		})
		switch {
		case err == nil:
			return &CreateRoomResult{RoomID: roomID, Confirmation: *conf}, nil
		case errors.Is(err, errStaleCounter), errors.Is(err, ErrAlreadyInitialized):
			// room id taken between our read and the commit
			return nil, errStaleCounter
		default:
			return nil, backoff.Permanent(err)
		}
	}

	res, err := backoff.Retry(ctx, attempt, s.conflictRetry(creator)...)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		switch {
		case errors.Is(err, errStaleCounter):
			return nil, fmt.Errorf("%w: creator %s: %v", ErrConflictRetryExhausted, creator, err)
		case ctx.Err() != nil && !isKind(err):
			// deadline hit while waiting out a lost race, nothing of ours committed
			return nil, fmt.Errorf("%w: creator %s: gave up waiting for the room counter: %w", ErrLedgerUnavailable, creator, err)
		}
		return nil, err
	}

	log.Infof("room %d created by %s", res.RoomID, creator)
	s.publish(ctx, comm.EventRoomCreated, res.RoomID, creator, &res.Confirmation)
	return res, nil
}

// JoinRoom appends player to an open room.
func (s *RoomService) JoinRoom(ctx context.Context, roomID uint64, player string) (*Confirmation, error) {
	p, err := s.validate(roomID, "player", player)
	if err != nil {
		return nil, err
	}

	room, err := s.readRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := room.Clone().Join(p); err != nil {
		return nil, err
	}

	roomAddr, _ := s.deriver.Room(roomID)
	conf, err := s.submit(ctx, s.program.JoinRoom(roomAddr, p, s.authority), ErrRoomNotFound, func(ctx context.Context) (bool, error) {
		room, err := s.readRoom(ctx, roomID)
		if err != nil {
			return false, err
		}
		return room.HasPlayer(p), nil
	})
	if err != nil {
		return nil, err
	}

	log.Infof("player %s joined room %d", p, roomID)
	s.publish(ctx, comm.EventPlayerJoined, roomID, p, conf)
	return conf, nil
}

// EndGame records winner and resolves the room.
func (s *RoomService) EndGame(ctx context.Context, roomID uint64, winner string) (*Confirmation, error) {
	w, err := s.validate(roomID, "winner", winner)
	if err != nil {
		return nil, err
	}

	room, err := s.readRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := room.Clone().Resolve(w); err != nil {
		return nil, err
	}

	roomAddr, _ := s.deriver.Room(roomID)
	conf, err := s.submit(ctx, s.program.EndGame(roomAddr, w, s.authority), ErrRoomNotFound, func(ctx context.Context) (bool, error) {
		room, err := s.readRoom(ctx, roomID)
		if err != nil {
			return false, err
		}
		return room.Winner != nil && *room.Winner == w, nil
	})
	if err != nil {
		return nil, err
	}

	log.Infof("room %d resolved, winner %s", roomID, w)
	s.publish(ctx, comm.EventGameEnded, roomID, w, conf)
	return conf, nil
}

func (s *RoomService) FetchRoom(ctx context.Context, roomID uint64) (*comm.RoomData, error) {
	if roomID == 0 {
		return nil, invalid("room id must be positive")
	}
	room, err := s.readRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	data := RoomData(room)
	return &data, nil
}

func (s *RoomService) FetchRegistry(ctx context.Context) (*comm.RegistryData, error) {
	g, err := s.readRegistry(ctx)
	if err != nil {
		return nil, err
	}
	addr, _ := s.deriver.Registry()
	return &comm.RegistryData{
		Address:    addr.String(),
		TotalRooms: fmt.Sprintf("%d", g.TotalRooms),
		Authority:  g.Authority.String(),
	}, nil
}

// submit sends tx and settles ambiguous outcomes. landed reports whether
// the intended effect is visible on the ledger; it runs after an
// unconfirmed attempt, or after a rejection that followed one.
func (s *RoomService) submit(ctx context.Context, tx *ledger.Transaction, notFound error, landed func(context.Context) (bool, error)) (*Confirmation, error) {
	sig, err := s.ledger.Submit(ctx, tx)
	if err == nil {
		return &Confirmation{Signature: sig}, nil
	}

	var rej *ledger.RejectedError
	rejected := errors.As(err, &rej)
	if !errors.Is(err, ledger.ErrUnconfirmed) && !(rejected && rej.AfterUnconfirmed) {
		return nil, translate(err, notFound)
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.policy.ReconcileTimeout)
	defer cancel()

	ok, rerr := landed(rctx)
	switch {
	case rerr != nil:
		log.Warnf("Error [RoomService.submit] reconcile %s: %v", tx.Instruction, rerr)
		return nil, fmt.Errorf("%w: %s: %w", ErrUnknownOutcome, tx.Instruction, err)
	case ok:
		log.Warnf("%s outcome unconfirmed, reconciled as committed", tx.Instruction)
		return &Confirmation{Reconciled: true}, nil
	case rejected:
		// our earlier attempt did not land, the rejection stands
		return nil, translate(err, notFound)
	default:
		return nil, fmt.Errorf("%w: %s: %w", ErrUnknownOutcome, tx.Instruction, err)
	}
}

func (s *RoomService) readRegistry(ctx context.Context) (*models.GlobalState, error) {
	addr, _ := s.deriver.Registry()
	acc, err := s.ledger.Read(ctx, addr)
	if err != nil {
		return nil, readError(err, ErrRegistryNotFound)
	}

	var g models.GlobalState
	if err := g.UnmarshalBinary(acc.Data); err != nil {
		return nil, fmt.Errorf("%w: registry %s: %w", ErrLedgerUnavailable, addr, err)
	}
	return &g, nil
}

func (s *RoomService) readRoom(ctx context.Context, roomID uint64) (*models.Room, error) {
	room, _, err := s.readRoomAccount(ctx, roomID)
	return room, err
}

func (s *RoomService) readRoomAccount(ctx context.Context, roomID uint64) (*models.Room, uint64, error) {
	addr, _ := s.deriver.Room(roomID)
	acc, err := s.ledger.Read(ctx, addr)
	if err != nil {
		return nil, 0, readError(err, fmt.Errorf("%w: %d", ErrRoomNotFound, roomID))
	}

	var r models.Room
	if err := r.UnmarshalBinary(acc.Data); err != nil {
		return nil, 0, fmt.Errorf("%w: room %d: %w", ErrLedgerUnavailable, roomID, err)
	}
	return &r, acc.Version, nil
}

func (s *RoomService) validate(roomID uint64, field, key string) (models.Pubkey, error) {
	if roomID == 0 {
		return models.Pubkey{}, invalid("room id must be positive")
	}
	p, err := models.ParsePubkey(key)
	if err != nil {
		return models.Pubkey{}, invalid("%s: %v", field, err)
	}
	return p, nil
}

func (s *RoomService) conflictRetry(creator models.Pubkey) []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.policy.ConflictBackoff
	b.MaxInterval = 20 * s.policy.ConflictBackoff

	return []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.policy.CreateRoomMaxAttempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Debugf("create room for %s lost the counter race, retrying in %s", creator, next)
		}),
	}
}

// publish emits a room event. The transition is final, so failures are
// only logged.
func (s *RoomService) publish(ctx context.Context, eventType string, roomID uint64, actor models.Pubkey, conf *Confirmation) {
	if s.publisher == nil {
		return
	}

	ev := comm.RoomEvent{
		Type:      eventType,
		RoomId:    roomID,
		Actor:     actor.String(),
		Signature: conf.Signature,
		Timestamp: s.clock.Now().UTC(),
	}
	if roomID != 0 {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.policy.ReconcileTimeout)
		defer cancel()

		room, version, err := s.readRoomAccount(rctx, roomID)
		if err != nil {
			log.Errorf("Error [RoomService.publish] read room %d: %v", roomID, err)
			return
		}
		data := RoomData(room)
		ev.Room = &data
		ev.Version = version
	}

	if err := s.publisher.PublishRoomEvent(ev); err != nil {
		log.Errorf("Error [RoomService.publish] %s room %d: %v", eventType, roomID, err)
	}
}

func readError(err error, notFound error) error {
	if errors.Is(err, ledger.ErrNotFound) {
		return fmt.Errorf("%w: %w", notFound, err)
	}
	return fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
}

// isKind reports whether err already carries a service error kind.
func isKind(err error) bool {
	for _, kind := range []error{
		ErrInvalidInput, ErrAlreadyInitialized, ErrRegistryNotFound, ErrRoomNotFound,
		ErrUnknownOutcome, ErrLedgerUnavailable,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// RoomData projects a room account for clients.
func RoomData(r *models.Room) comm.RoomData {
	players := make([]string, len(r.Players))
	for i, p := range r.Players {
		players[i] = p.String()
	}

	data := comm.RoomData{
		RoomId:        fmt.Sprintf("%d", r.RoomID),
		Creator:       r.Creator.String(),
		StakingAmount: fmt.Sprintf("%d", r.StakingAmount),
		Players:       players,
		State:         r.State.String(),
		CreationTime:  r.CreationTime,
		MaxPlayers:    int(r.MaxPlayers),
	}
	if r.Winner != nil {
		w := r.Winner.String()
		data.Winner = &w
	}
	return data
}
