// README: Party aggregate and pure membership transitions.
package party

import (
	"time"

	"unipool/internal/types"
)

// MaxPartySize is the hard cap on shared-taxi party capacity.
const MaxPartySize = 4

type Place struct {
	Name    string
	Address string
	Point   types.Point
}

type RideOptions struct {
	SameGenderOnly           bool
	CostShareBeforeDropOff   bool
	QuietMode                bool
	DestinationChangeAllowed bool
}

// Membership records when a member joined; the slice on Party is kept in
// join order so index 0 is always the longest-tenured member.
type Membership struct {
	MemberID types.ID
	JoinedAt time.Time
}

type Party struct {
	ID                types.ID
	Name              string
	Deleted           bool
	Members           []Membership
	HostMemberID      types.ID
	StartPlace        *Place
	EndPlace          *Place
	DepartureAt       time.Time
	Comment           string
	CurrentCount      int
	MaxCount          int
	Options           RideOptions
	ReminderSent      bool
	SavingsCalculated bool
	EstimatedFare     *int64
	Notification      string
	CreatedAt         time.Time
	// Version guards read-check-mutate-write sequences; the store refuses a
	// snapshot write whose version no longer matches the row.
	Version int
}

// SystemEvent identifies the chat system message emitted after a membership
// change.
type SystemEvent string

const (
	EventEntered SystemEvent = "ENTER"
	EventLeft    SystemEvent = "LEAVE"
)

// Effect is a side-effect intent produced by a transition; the service runs
// effects only after the new snapshot is persisted.
type Effect struct {
	Event    SystemEvent
	MemberID types.ID
}

func (p *Party) Contains(memberID types.ID) bool {
	for _, m := range p.Members {
		if m.MemberID == memberID {
			return true
		}
	}
	return false
}

func (p *Party) clone() Party {
	next := *p
	next.Members = make([]Membership, len(p.Members))
	copy(next.Members, p.Members)
	return next
}

// WithJoin returns the party state after memberID joins. All checks run
// before any mutation; the receiver is never modified.
func (p *Party) WithJoin(memberID types.ID, now time.Time) (Party, []Effect, error) {
	if p.Deleted {
		return Party{}, nil, ErrAlreadyDeleted
	}
	if p.Contains(memberID) {
		return Party{}, nil, ErrMemberAlreadyInParty
	}
	if p.CurrentCount >= p.MaxCount {
		return Party{}, nil, ErrPartyFull
	}

	next := p.clone()
	next.Members = append(next.Members, Membership{MemberID: memberID, JoinedAt: now})
	next.CurrentCount++
	return next, []Effect{{Event: EventEntered, MemberID: memberID}}, nil
}

// WithLeave returns the party state after memberID leaves.
//
// A solo member leaving soft-deletes the party before any host-succession
// logic runs, so a solo host leaving always deletes rather than promoting no
// one; the participant count keeps its last value in that case. When the
// leaver was host and members remain, the longest-tenured remaining member
// is promoted.
func (p *Party) WithLeave(memberID types.ID) (Party, []Effect, error) {
	if !p.Contains(memberID) {
		return Party{}, nil, ErrMemberNotInParty
	}

	wasHost := p.HostMemberID == memberID

	next := p.clone()
	for i, m := range next.Members {
		if m.MemberID == memberID {
			next.Members = append(next.Members[:i], next.Members[i+1:]...)
			break
		}
	}

	if next.CurrentCount <= 1 {
		next.Deleted = true
		return next, nil, nil
	}
	next.CurrentCount--

	if wasHost {
		if len(next.Members) == 0 {
			// Unreachable given the solo check above; kept as a guard.
			next.Deleted = true
			return next, nil, nil
		}
		next.HostMemberID = next.Members[0].MemberID
	}

	return next, []Effect{{Event: EventLeft, MemberID: memberID}}, nil
}
