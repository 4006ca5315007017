// README: Party lifecycle engine: create/join/leave/update/soft-delete, host
// succession, and fare-savings settlement.
package party

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"unipool/internal/geo"
	"unipool/internal/modules/member"
	"unipool/internal/types"
)

var (
	ErrPartyNotFound            = errors.New("party not found")
	ErrMemberNotFound           = errors.New("member not found")
	ErrInvalidHost              = errors.New("creator member id is required")
	ErrUnauthorizedHost         = errors.New("only the host may perform this operation")
	ErrInvalidMaxParticipant    = errors.New("max participant count must cover current members and stay within party size limits")
	ErrAlreadyDeleted           = errors.New("party already deleted")
	ErrMemberAlreadyInParty     = errors.New("member already in party")
	ErrMemberNotInParty         = errors.New("member not in party")
	ErrPartyFull                = errors.New("party is full")
	ErrSavingsAlreadyCalculated = errors.New("savings already calculated for party")
	ErrMissingCoordinates       = errors.New("party start and end places are required")
	ErrNoParticipants           = errors.New("party has no participants")
	ErrVersionConflict          = errors.New("party was modified concurrently")
	ErrReminderAlreadySent      = errors.New("departure reminder already sent")
	ErrFareProvider             = errors.New("fare provider failure")
)

// Store is the repository facade contract; the pgx implementation lives in
// store.go and an in-memory fake backs the tests.
type Store interface {
	Create(ctx context.Context, p *Party) error
	GetActive(ctx context.Context, id types.ID) (*Party, error)
	// GetAny also returns soft-deleted parties, for history reads and the
	// delete idempotency check.
	GetAny(ctx context.Context, id types.ID) (*Party, error)
	// UpdateSnapshot persists a whole party snapshot iff the stored version
	// still matches snapshot.Version; ErrVersionConflict otherwise.
	UpdateSnapshot(ctx context.Context, p *Party) error
	// CommitSavings atomically persists the savings-calculated snapshot and
	// credits every listed member's cumulative savings.
	CommitSavings(ctx context.Context, p *Party, memberIDs []types.ID, savingPerMember int64) error
	ListActive(ctx context.Context, page, size int) ([]*Party, error)
	ListByMember(ctx context.Context, memberID types.ID, now time.Time) ([]*Party, error)
	RankedMatches(ctx context.Context, v SearchVariant, c SearchCriteria, excludeMemberID types.ID, page, size int) ([]*Party, error)
	ReminderCandidates(ctx context.Context, windowStart, windowEnd time.Time) ([]*Party, error)
	// MarkReminderSent claims the party's one reminder; a lost claim returns
	// ErrReminderAlreadySent.
	MarkReminderSent(ctx context.Context, id types.ID) error
}

type MemberDirectory interface {
	Get(ctx context.Context, id types.ID) (*member.Member, error)
	Exists(ctx context.Context, id types.ID) (bool, error)
	IncrementPartyCreateCount(ctx context.Context, id types.ID) error
}

type FareEstimator interface {
	EstimateTaxiFare(ctx context.Context, origin, destination types.Point, departure time.Time) (int64, error)
}

// SystemMessenger posts membership system messages into the party's chat
// room. Failures are logged, never propagated.
type SystemMessenger interface {
	CreateSystemMessage(ctx context.Context, partyID, memberID types.ID, event SystemEvent) error
}

// Notifier hands push payloads to the delivery pipeline. Fire-and-forget.
type Notifier interface {
	Dispatch(ctx context.Context, recipient types.ID, title, body, eventType string) error
}

type Service struct {
	store   Store
	members MemberDirectory
	fares   FareEstimator
	chat    SystemMessenger
	notify  Notifier
	tasks   *Runner
	logger  *zap.Logger
	now     func() time.Time
}

func NewService(store Store, members MemberDirectory, fares FareEstimator, chat SystemMessenger, notify Notifier, tasks *Runner, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   store,
		members: members,
		fares:   fares,
		chat:    chat,
		notify:  notify,
		tasks:   tasks,
		logger:  logger,
		now:     time.Now,
	}
}

type CreateRequest struct {
	Name        string
	StartPlace  *Place
	EndPlace    *Place
	DepartureAt time.Time
	Comment     string
	MaxCount    int
	Options     RideOptions
}

type UpdateRequest struct {
	Name        string
	StartPlace  *Place
	EndPlace    *Place
	DepartureAt time.Time
	Comment     string
	MaxCount    int
	Options     RideOptions
	// Notification is the free-text notice pinned to the party room.
	Notification string
}

// Create builds a party with the creator as sole member and host. The fare
// pre-estimate, the creator's party-create counter, and the creation push are
// fire-and-forget enrichments; their failure never rolls back creation.
func (s *Service) Create(ctx context.Context, req CreateRequest, creatorID types.ID) (*Party, error) {
	if creatorID == 0 {
		return nil, ErrInvalidHost
	}
	if _, err := s.members.Get(ctx, creatorID); err != nil {
		if errors.Is(err, member.ErrNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	if req.MaxCount < 1 || req.MaxCount > MaxPartySize {
		return nil, ErrInvalidMaxParticipant
	}

	now := s.now()
	p := &Party{
		Name:         req.Name,
		Members:      []Membership{{MemberID: creatorID, JoinedAt: now}},
		HostMemberID: creatorID,
		StartPlace:   req.StartPlace,
		EndPlace:     req.EndPlace,
		DepartureAt:  req.DepartureAt,
		Comment:      req.Comment,
		CurrentCount: 1,
		MaxCount:     req.MaxCount,
		Options:      req.Options,
		CreatedAt:    now,
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}

	s.submit("fare_pre_estimate", func(ctx context.Context) error {
		return s.preEstimateFare(ctx, p.ID)
	})
	s.submit("party_create_count", func(ctx context.Context) error {
		return s.members.IncrementPartyCreateCount(ctx, creatorID)
	})
	s.submit("party_created_push", func(ctx context.Context) error {
		if s.notify == nil {
			return nil
		}
		title := fmt.Sprintf("%s party to %s created", p.DepartureAt.Format("15:04"), placeName(p.EndPlace))
		return s.notify.Dispatch(ctx, creatorID, title, "Your carpool party is ready.", "PARTY_CREATED")
	})

	return p, nil
}

// Update overwrites the mutable fields of a party. Membership and host are
// never altered here.
func (s *Service) Update(ctx context.Context, partyID, requesterID types.ID, req UpdateRequest) (*Party, error) {
	p, err := s.store.GetActive(ctx, partyID)
	if err != nil {
		return nil, err
	}
	if p.HostMemberID != requesterID {
		return nil, ErrUnauthorizedHost
	}
	if req.MaxCount < p.CurrentCount || req.MaxCount < 1 || req.MaxCount > MaxPartySize {
		return nil, ErrInvalidMaxParticipant
	}

	next := *p
	next.Name = req.Name
	next.StartPlace = req.StartPlace
	next.EndPlace = req.EndPlace
	next.DepartureAt = req.DepartureAt
	next.Comment = req.Comment
	next.MaxCount = req.MaxCount
	next.Options = req.Options
	next.Notification = req.Notification

	if err := s.store.UpdateSnapshot(ctx, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

// Delete soft-deletes a party. Deleting an already-deleted party is a
// distinct state conflict, not a not-found.
func (s *Service) Delete(ctx context.Context, partyID, requesterID types.ID) error {
	p, err := s.store.GetAny(ctx, partyID)
	if err != nil {
		return err
	}
	if p.Deleted {
		return ErrAlreadyDeleted
	}
	if p.HostMemberID != requesterID {
		return ErrUnauthorizedHost
	}

	next := *p
	next.Deleted = true
	return s.store.UpdateSnapshot(ctx, &next)
}

func (s *Service) Join(ctx context.Context, partyID, memberID types.ID) (*Party, error) {
	p, err := s.store.GetActive(ctx, partyID)
	if err != nil {
		return nil, err
	}
	// The active lookup already filters deleted rows; the explicit re-check
	// keeps the distinct error for callers racing a delete.
	if p.Deleted {
		return nil, ErrAlreadyDeleted
	}
	if ok, err := s.members.Exists(ctx, memberID); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrMemberNotFound
	}

	next, effects, err := p.WithJoin(memberID, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateSnapshot(ctx, &next); err != nil {
		return nil, err
	}
	s.runEffects(ctx, next.ID, effects)
	return &next, nil
}

func (s *Service) Leave(ctx context.Context, partyID, memberID types.ID) (*Party, error) {
	p, err := s.store.GetActive(ctx, partyID)
	if err != nil {
		return nil, err
	}
	if ok, err := s.members.Exists(ctx, memberID); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrMemberNotFound
	}

	next, effects, err := p.WithLeave(memberID)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateSnapshot(ctx, &next); err != nil {
		return nil, err
	}
	s.runEffects(ctx, next.ID, effects)
	return &next, nil
}

func (s *Service) Get(ctx context.Context, partyID types.ID) (*Party, error) {
	return s.store.GetActive(ctx, partyID)
}

func (s *Service) List(ctx context.Context, page, size int) ([]*Party, error) {
	return s.store.ListActive(ctx, page, size)
}

// ListForMember returns the member's active parties: upcoming departures
// first (soonest first), then departed ones (most recent first).
func (s *Service) ListForMember(ctx context.Context, memberID types.ID) ([]*Party, error) {
	if ok, err := s.members.Exists(ctx, memberID); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrMemberNotFound
	}
	return s.store.ListByMember(ctx, memberID, s.now())
}

// Search resolves the filter into a ranked-query variant and returns matches
// the requester has not already joined.
func (s *Service) Search(ctx context.Context, f SearchFilter, requesterID types.ID, page, size int) ([]*Party, error) {
	variant, criteria, err := Resolve(f, s.now())
	if err != nil {
		return nil, err
	}
	return s.store.RankedMatches(ctx, variant, criteria, requesterID, page, size)
}

type SavingsSummary struct {
	PartyID         types.ID
	Participants    int
	DepartureTime   time.Time
	Origin          types.Point
	Destination     types.Point
	TotalFare       int64
	EachShare       int64
	SavingPerMember int64
}

// CalculateSavings queries the fare provider for the party route, splits the
// fare by floor division, and credits every member with the avoided cost
// (totalFare - eachShare, in full, not a per-capita fraction). Exactly once
// per party.
func (s *Service) CalculateSavings(ctx context.Context, partyID, requesterID types.ID) (*SavingsSummary, error) {
	p, err := s.store.GetActive(ctx, partyID)
	if err != nil {
		return nil, err
	}
	if p.HostMemberID != requesterID {
		return nil, ErrUnauthorizedHost
	}
	if p.SavingsCalculated {
		return nil, ErrSavingsAlreadyCalculated
	}
	if p.StartPlace == nil || p.EndPlace == nil {
		return nil, ErrMissingCoordinates
	}
	if err := geo.ValidatePoint(p.StartPlace.Point); err != nil {
		return nil, err
	}
	if err := geo.ValidatePoint(p.EndPlace.Point); err != nil {
		return nil, err
	}

	departure := geo.EnsureFutureDeparture(p.DepartureAt, s.now())

	totalFare, err := s.fares.EstimateTaxiFare(ctx, p.StartPlace.Point, p.EndPlace.Point, departure)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFareProvider, err)
	}

	participants := len(p.Members)
	if participants <= 0 {
		return nil, ErrNoParticipants
	}

	eachShare := totalFare / int64(participants)
	savingPerMember := totalFare - eachShare

	memberIDs := make([]types.ID, 0, participants)
	for _, m := range p.Members {
		memberIDs = append(memberIDs, m.MemberID)
	}

	next := *p
	next.SavingsCalculated = true
	if err := s.store.CommitSavings(ctx, &next, memberIDs, savingPerMember); err != nil {
		return nil, err
	}

	return &SavingsSummary{
		PartyID:         p.ID,
		Participants:    participants,
		DepartureTime:   departure,
		Origin:          p.StartPlace.Point,
		Destination:     p.EndPlace.Point,
		TotalFare:       totalFare,
		EachShare:       eachShare,
		SavingPerMember: savingPerMember,
	}, nil
}

// preEstimateFare stores a best-effort fare estimate on a freshly created
// party; a provider failure stores a zero estimate so the party still shows
// a fare field.
func (s *Service) preEstimateFare(ctx context.Context, partyID types.ID) error {
	p, err := s.store.GetActive(ctx, partyID)
	if err != nil {
		return err
	}
	if p.StartPlace == nil || p.EndPlace == nil {
		return nil
	}
	if geo.ValidatePoint(p.StartPlace.Point) != nil || geo.ValidatePoint(p.EndPlace.Point) != nil {
		return nil
	}

	departure := geo.EnsureFutureDeparture(p.DepartureAt, s.now())
	fare, err := s.fares.EstimateTaxiFare(ctx, p.StartPlace.Point, p.EndPlace.Point, departure)
	if err != nil {
		s.logger.Warn("fare pre-estimate failed",
			zap.Int64("party_id", int64(p.ID)),
			zap.Error(err))
		fare = 0
	}

	next := *p
	next.EstimatedFare = &fare
	return s.store.UpdateSnapshot(ctx, &next)
}

func (s *Service) runEffects(ctx context.Context, partyID types.ID, effects []Effect) {
	if s.chat == nil {
		return
	}
	for _, e := range effects {
		if err := s.chat.CreateSystemMessage(ctx, partyID, e.MemberID, e.Event); err != nil {
			s.logger.Warn("system message publish failed",
				zap.Int64("party_id", int64(partyID)),
				zap.Int64("member_id", int64(e.MemberID)),
				zap.String("event", string(e.Event)),
				zap.Error(err))
		}
	}
}

func (s *Service) submit(name string, fn func(ctx context.Context) error) {
	if s.tasks == nil {
		return
	}
	s.tasks.Submit(name, fn)
}

func placeName(p *Place) string {
	if p == nil {
		return "destination"
	}
	return p.Name
}
