package party

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unipool/internal/modules/member"
	"unipool/internal/types"
)

var fixedNow = time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)

type fakeStore struct {
	mu       sync.Mutex
	parties  map[types.ID]*Party
	nextID   types.ID
	credited map[types.ID]int64

	lastVariant  SearchVariant
	lastCriteria SearchCriteria
	lastExclude  types.ID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		parties:  make(map[types.ID]*Party),
		nextID:   1,
		credited: make(map[types.ID]int64),
	}
}

func (f *fakeStore) Create(_ context.Context, p *Party) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p.ID = f.nextID
	f.nextID++
	stored := p.clone()
	f.parties[p.ID] = &stored
	return nil
}

func (f *fakeStore) GetActive(_ context.Context, id types.ID) (*Party, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.parties[id]
	if !ok || p.Deleted {
		return nil, ErrPartyNotFound
	}
	out := p.clone()
	return &out, nil
}

func (f *fakeStore) GetAny(_ context.Context, id types.ID) (*Party, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.parties[id]
	if !ok {
		return nil, ErrPartyNotFound
	}
	out := p.clone()
	return &out, nil
}

func (f *fakeStore) UpdateSnapshot(_ context.Context, p *Party) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.parties[p.ID]
	if !ok {
		return ErrPartyNotFound
	}
	if stored.Version != p.Version {
		return ErrVersionConflict
	}
	next := p.clone()
	next.Version++
	f.parties[p.ID] = &next
	p.Version++
	return nil
}

func (f *fakeStore) CommitSavings(ctx context.Context, p *Party, memberIDs []types.ID, savingPerMember int64) error {
	if err := f.UpdateSnapshot(ctx, p); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range memberIDs {
		f.credited[id] += savingPerMember
	}
	return nil
}

func (f *fakeStore) ListActive(_ context.Context, _, _ int) ([]*Party, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Party
	for _, p := range f.parties {
		if !p.Deleted {
			c := p.clone()
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakeStore) ListByMember(_ context.Context, memberID types.ID, _ time.Time) ([]*Party, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Party
	for _, p := range f.parties {
		if !p.Deleted && p.Contains(memberID) {
			c := p.clone()
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakeStore) RankedMatches(_ context.Context, v SearchVariant, c SearchCriteria, excludeMemberID types.ID, _, _ int) ([]*Party, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastVariant = v
	f.lastCriteria = c
	f.lastExclude = excludeMemberID
	var out []*Party
	for _, p := range f.parties {
		if !p.Deleted && !p.Contains(excludeMemberID) {
			cp := p.clone()
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) ReminderCandidates(_ context.Context, windowStart, windowEnd time.Time) ([]*Party, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Party
	for _, p := range f.parties {
		if !p.Deleted && !p.ReminderSent &&
			p.DepartureAt.After(windowStart) && !p.DepartureAt.After(windowEnd) {
			c := p.clone()
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkReminderSent(_ context.Context, id types.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.parties[id]
	if !ok {
		return ErrPartyNotFound
	}
	if p.ReminderSent {
		return ErrReminderAlreadySent
	}
	p.ReminderSent = true
	return nil
}

func (f *fakeStore) mustGet(t *testing.T, id types.ID) *Party {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.parties[id]
	require.True(t, ok, "party %d not in store", id)
	c := p.clone()
	return &c
}

type fakeMembers struct {
	mu      sync.Mutex
	members map[types.ID]member.Member
	created map[types.ID]int
}

func newFakeMembers(ids ...types.ID) *fakeMembers {
	f := &fakeMembers{
		members: make(map[types.ID]member.Member),
		created: make(map[types.ID]int),
	}
	for _, id := range ids {
		f.members[id] = member.Member{ID: id, Nickname: "member"}
	}
	return f
}

func (f *fakeMembers) Get(_ context.Context, id types.ID) (*member.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[id]
	if !ok {
		return nil, member.ErrNotFound
	}
	return &m, nil
}

func (f *fakeMembers) Exists(_ context.Context, id types.ID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.members[id]
	return ok, nil
}

func (f *fakeMembers) IncrementPartyCreateCount(_ context.Context, id types.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created[id]++
	return nil
}

type fakeFares struct {
	fare  int64
	err   error
	calls int
}

func (f *fakeFares) EstimateTaxiFare(_ context.Context, _, _ types.Point, _ time.Time) (int64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.fare, nil
}

type systemMessage struct {
	partyID  types.ID
	memberID types.ID
	event    SystemEvent
}

type fakeChat struct {
	mu       sync.Mutex
	messages []systemMessage
}

func (f *fakeChat) CreateSystemMessage(_ context.Context, partyID, memberID types.ID, event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, systemMessage{partyID: partyID, memberID: memberID, event: event})
	return nil
}

type pushRecord struct {
	recipient types.ID
	eventType string
}

type fakeNotifier struct {
	mu     sync.Mutex
	pushes []pushRecord
}

func (f *fakeNotifier) Dispatch(_ context.Context, recipient types.ID, _, _, eventType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, pushRecord{recipient: recipient, eventType: eventType})
	return nil
}

type fixture struct {
	svc     *Service
	store   *fakeStore
	members *fakeMembers
	fares   *fakeFares
	chat    *fakeChat
	notify  *fakeNotifier
}

func newFixture(memberIDs ...types.ID) *fixture {
	store := newFakeStore()
	members := newFakeMembers(memberIDs...)
	fares := &fakeFares{fare: 10000}
	chat := &fakeChat{}
	notify := &fakeNotifier{}
	svc := NewService(store, members, fares, chat, notify, nil, nil)
	svc.now = func() time.Time { return fixedNow }
	return &fixture{svc: svc, store: store, members: members, fares: fares, chat: chat, notify: notify}
}

func createRequest() CreateRequest {
	return CreateRequest{
		Name:        "Station run",
		StartPlace:  &Place{Name: "Dorm A", Point: types.Point{Lng: 127.74, Lat: 37.87}},
		EndPlace:    &Place{Name: "Chuncheon Station", Point: types.Point{Lng: 127.717, Lat: 37.885}},
		DepartureAt: fixedNow.Add(2 * time.Hour),
		Comment:     "leaving from the main gate",
		MaxCount:    3,
	}
}

func TestCreateParty(t *testing.T) {
	f := newFixture(1)

	p, err := f.svc.Create(context.Background(), createRequest(), 1)
	require.NoError(t, err)

	assert.Equal(t, types.ID(1), p.HostMemberID)
	assert.Equal(t, 1, p.CurrentCount)
	require.Len(t, p.Members, 1)
	assert.Equal(t, types.ID(1), p.Members[0].MemberID)
	assert.False(t, p.Deleted)
	assert.False(t, p.SavingsCalculated)
}

func TestCreateRejectsZeroCreator(t *testing.T) {
	f := newFixture(1)
	_, err := f.svc.Create(context.Background(), createRequest(), 0)
	assert.ErrorIs(t, err, ErrInvalidHost)
}

func TestCreateRejectsUnknownCreator(t *testing.T) {
	f := newFixture(1)
	_, err := f.svc.Create(context.Background(), createRequest(), 99)
	assert.ErrorIs(t, err, ErrMemberNotFound)
}

func TestCreateRejectsBadMaxCount(t *testing.T) {
	f := newFixture(1)
	for _, max := range []int{0, -1, MaxPartySize + 1} {
		req := createRequest()
		req.MaxCount = max
		_, err := f.svc.Create(context.Background(), req, 1)
		assert.ErrorIs(t, err, ErrInvalidMaxParticipant, "max=%d", max)
	}
}

func TestJoinAddsMemberAndPostsSystemMessage(t *testing.T) {
	f := newFixture(1, 2)
	p, err := f.svc.Create(context.Background(), createRequest(), 1)
	require.NoError(t, err)

	joined, err := f.svc.Join(context.Background(), p.ID, 2)
	require.NoError(t, err)

	assert.Equal(t, 2, joined.CurrentCount)
	assert.Len(t, joined.Members, joined.CurrentCount)
	assert.True(t, joined.Contains(2))
	assert.Equal(t, types.ID(1), joined.HostMemberID)

	require.Len(t, f.chat.messages, 1)
	assert.Equal(t, EventEntered, f.chat.messages[0].event)
	assert.Equal(t, types.ID(2), f.chat.messages[0].memberID)
}

func TestJoinFullPartyLeavesStateUnchanged(t *testing.T) {
	f := newFixture(1, 2, 3, 4)
	req := createRequest()
	req.MaxCount = 3
	p, err := f.svc.Create(context.Background(), req, 1)
	require.NoError(t, err)

	_, err = f.svc.Join(context.Background(), p.ID, 2)
	require.NoError(t, err)
	_, err = f.svc.Join(context.Background(), p.ID, 3)
	require.NoError(t, err)

	before := f.store.mustGet(t, p.ID)
	_, err = f.svc.Join(context.Background(), p.ID, 4)
	assert.ErrorIs(t, err, ErrPartyFull)

	after := f.store.mustGet(t, p.ID)
	assert.Equal(t, before.CurrentCount, after.CurrentCount)
	assert.Equal(t, before.Members, after.Members)
	assert.Equal(t, before.Version, after.Version)
}

func TestJoinTwiceRejected(t *testing.T) {
	f := newFixture(1, 2)
	p, err := f.svc.Create(context.Background(), createRequest(), 1)
	require.NoError(t, err)

	_, err = f.svc.Join(context.Background(), p.ID, 2)
	require.NoError(t, err)
	_, err = f.svc.Join(context.Background(), p.ID, 2)
	assert.ErrorIs(t, err, ErrMemberAlreadyInParty)
}

func TestJoinUnknownMember(t *testing.T) {
	f := newFixture(1)
	p, err := f.svc.Create(context.Background(), createRequest(), 1)
	require.NoError(t, err)

	_, err = f.svc.Join(context.Background(), p.ID, 42)
	assert.ErrorIs(t, err, ErrMemberNotFound)
}

func TestLeaveSoloHostDeletesParty(t *testing.T) {
	f := newFixture(1)
	p, err := f.svc.Create(context.Background(), createRequest(), 1)
	require.NoError(t, err)

	left, err := f.svc.Leave(context.Background(), p.ID, 1)
	require.NoError(t, err)

	assert.True(t, left.Deleted)
	// The last participant count sticks; no decrement on the deleting leave.
	assert.Equal(t, 1, left.CurrentCount)
	assert.Empty(t, f.chat.messages, "deleting leave emits no system message")

	_, err = f.svc.Get(context.Background(), p.ID)
	assert.ErrorIs(t, err, ErrPartyNotFound)
}

func TestLeaveHostPromotesLongestTenured(t *testing.T) {
	f := newFixture(1, 2, 3)
	req := createRequest()
	req.MaxCount = 4
	p, err := f.svc.Create(context.Background(), req, 1)
	require.NoError(t, err)

	_, err = f.svc.Join(context.Background(), p.ID, 2)
	require.NoError(t, err)
	_, err = f.svc.Join(context.Background(), p.ID, 3)
	require.NoError(t, err)

	left, err := f.svc.Leave(context.Background(), p.ID, 1)
	require.NoError(t, err)

	assert.False(t, left.Deleted)
	assert.Equal(t, types.ID(2), left.HostMemberID)
	assert.Equal(t, 2, left.CurrentCount)
	assert.Len(t, left.Members, left.CurrentCount)

	last := f.chat.messages[len(f.chat.messages)-1]
	assert.Equal(t, EventLeft, last.event)
	assert.Equal(t, types.ID(1), last.memberID)
}

func TestLeaveNonMemberRejected(t *testing.T) {
	f := newFixture(1, 2)
	p, err := f.svc.Create(context.Background(), createRequest(), 1)
	require.NoError(t, err)

	_, err = f.svc.Leave(context.Background(), p.ID, 2)
	assert.ErrorIs(t, err, ErrMemberNotInParty)
}

func TestUpdateRequiresHost(t *testing.T) {
	f := newFixture(1, 2)
	p, err := f.svc.Create(context.Background(), createRequest(), 1)
	require.NoError(t, err)
	_, err = f.svc.Join(context.Background(), p.ID, 2)
	require.NoError(t, err)

	req := UpdateRequest{Name: "new name", DepartureAt: fixedNow.Add(3 * time.Hour), MaxCount: 4}
	_, err = f.svc.Update(context.Background(), p.ID, 2, req)
	assert.ErrorIs(t, err, ErrUnauthorizedHost)
}

func TestUpdateRejectsMaxBelowCurrent(t *testing.T) {
	f := newFixture(1, 2)
	p, err := f.svc.Create(context.Background(), createRequest(), 1)
	require.NoError(t, err)
	_, err = f.svc.Join(context.Background(), p.ID, 2)
	require.NoError(t, err)

	req := UpdateRequest{Name: "squeeze", DepartureAt: p.DepartureAt, MaxCount: 1}
	_, err = f.svc.Update(context.Background(), p.ID, 1, req)
	assert.ErrorIs(t, err, ErrInvalidMaxParticipant)
}

func TestUpdateOverwritesMutableFields(t *testing.T) {
	f := newFixture(1)
	p, err := f.svc.Create(context.Background(), createRequest(), 1)
	require.NoError(t, err)

	req := UpdateRequest{
		Name:         "Later run",
		StartPlace:   p.StartPlace,
		EndPlace:     p.EndPlace,
		DepartureAt:  fixedNow.Add(5 * time.Hour),
		Comment:      "pushed back",
		MaxCount:     2,
		Notification: "meet at gate 2",
	}
	updated, err := f.svc.Update(context.Background(), p.ID, 1, req)
	require.NoError(t, err)

	assert.Equal(t, "Later run", updated.Name)
	assert.Equal(t, "meet at gate 2", updated.Notification)
	assert.Equal(t, 2, updated.MaxCount)
	// Membership and host untouched.
	assert.Equal(t, p.Members, updated.Members)
	assert.Equal(t, p.HostMemberID, updated.HostMemberID)
}

func TestDeleteRequiresHost(t *testing.T) {
	f := newFixture(1, 2)
	p, err := f.svc.Create(context.Background(), createRequest(), 1)
	require.NoError(t, err)
	_, err = f.svc.Join(context.Background(), p.ID, 2)
	require.NoError(t, err)

	err = f.svc.Delete(context.Background(), p.ID, 2)
	assert.ErrorIs(t, err, ErrUnauthorizedHost)
}

func TestDeleteTwiceReportsConflict(t *testing.T) {
	f := newFixture(1)
	p, err := f.svc.Create(context.Background(), createRequest(), 1)
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(context.Background(), p.ID, 1))
	err = f.svc.Delete(context.Background(), p.ID, 1)
	assert.ErrorIs(t, err, ErrAlreadyDeleted)
}

func TestSearchPassesResolvedVariant(t *testing.T) {
	f := newFixture(1, 2)
	p, err := f.svc.Create(context.Background(), createRequest(), 1)
	require.NoError(t, err)

	lng, lat := 127.74, 37.87
	future := fixedNow.Add(time.Hour)
	results, err := f.svc.Search(context.Background(), SearchFilter{
		DepartureLng:  &lng,
		DepartureLat:  &lat,
		DepartureTime: &future,
	}, 2, 0, 10)
	require.NoError(t, err)

	assert.Equal(t, VariantNoDestination, f.store.lastVariant)
	assert.Equal(t, types.ID(2), f.store.lastExclude)
	require.Len(t, results, 1)
	assert.Equal(t, p.ID, results[0].ID)
}

func TestSearchExcludesOwnParties(t *testing.T) {
	f := newFixture(1)
	_, err := f.svc.Create(context.Background(), createRequest(), 1)
	require.NoError(t, err)

	lng, lat := 127.74, 37.87
	future := fixedNow.Add(time.Hour)
	results, err := f.svc.Search(context.Background(), SearchFilter{
		DepartureLng:  &lng,
		DepartureLat:  &lat,
		DepartureTime: &future,
	}, 1, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestCalculateSavingsFloorDivision(t *testing.T) {
	f := newFixture(1, 2, 3)
	f.fares.fare = 10000
	req := createRequest()
	req.MaxCount = 4
	p, err := f.svc.Create(context.Background(), req, 1)
	require.NoError(t, err)
	_, err = f.svc.Join(context.Background(), p.ID, 2)
	require.NoError(t, err)
	_, err = f.svc.Join(context.Background(), p.ID, 3)
	require.NoError(t, err)

	summary, err := f.svc.CalculateSavings(context.Background(), p.ID, 1)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Participants)
	assert.Equal(t, int64(10000), summary.TotalFare)
	assert.Equal(t, int64(3333), summary.EachShare)
	// Every member is credited the full avoided cost, not a third of it.
	assert.Equal(t, int64(6667), summary.SavingPerMember)
	for _, id := range []types.ID{1, 2, 3} {
		assert.Equal(t, int64(6667), f.store.credited[id], "member %d", id)
	}

	stored := f.store.mustGet(t, p.ID)
	assert.True(t, stored.SavingsCalculated)
}

func TestCalculateSavingsExactlyOnce(t *testing.T) {
	f := newFixture(1)
	p, err := f.svc.Create(context.Background(), createRequest(), 1)
	require.NoError(t, err)

	_, err = f.svc.CalculateSavings(context.Background(), p.ID, 1)
	require.NoError(t, err)
	firstCalls := f.fares.calls

	_, err = f.svc.CalculateSavings(context.Background(), p.ID, 1)
	assert.ErrorIs(t, err, ErrSavingsAlreadyCalculated)
	assert.Equal(t, firstCalls, f.fares.calls, "no second provider call")
	assert.Equal(t, int64(0), f.store.credited[1], "solo rider saves nothing")
}

func TestCalculateSavingsRequiresHost(t *testing.T) {
	f := newFixture(1, 2)
	p, err := f.svc.Create(context.Background(), createRequest(), 1)
	require.NoError(t, err)
	_, err = f.svc.Join(context.Background(), p.ID, 2)
	require.NoError(t, err)

	_, err = f.svc.CalculateSavings(context.Background(), p.ID, 2)
	assert.ErrorIs(t, err, ErrUnauthorizedHost)
}

func TestCalculateSavingsRequiresPlaces(t *testing.T) {
	f := newFixture(1)
	req := createRequest()
	req.StartPlace = nil
	p, err := f.svc.Create(context.Background(), req, 1)
	require.NoError(t, err)

	_, err = f.svc.CalculateSavings(context.Background(), p.ID, 1)
	assert.ErrorIs(t, err, ErrMissingCoordinates)
}

func TestCalculateSavingsWrapsProviderFailure(t *testing.T) {
	f := newFixture(1)
	f.fares.err = errors.New("upstream timeout")
	p, err := f.svc.Create(context.Background(), createRequest(), 1)
	require.NoError(t, err)

	_, err = f.svc.CalculateSavings(context.Background(), p.ID, 1)
	assert.ErrorIs(t, err, ErrFareProvider)

	stored := f.store.mustGet(t, p.ID)
	assert.False(t, stored.SavingsCalculated, "flag stays clear after provider failure")
}

func TestCalculateSavingsClampsPastDeparture(t *testing.T) {
	f := newFixture(1)
	req := createRequest()
	req.DepartureAt = fixedNow.Add(-time.Hour)
	p, err := f.svc.Create(context.Background(), req, 1)
	require.NoError(t, err)

	summary, err := f.svc.CalculateSavings(context.Background(), p.ID, 1)
	require.NoError(t, err)
	assert.True(t, summary.DepartureTime.After(fixedNow))
}

func TestPreEstimateFareStoresEstimate(t *testing.T) {
	f := newFixture(1)
	f.fares.fare = 8200
	p, err := f.svc.Create(context.Background(), createRequest(), 1)
	require.NoError(t, err)

	require.NoError(t, f.svc.preEstimateFare(context.Background(), p.ID))

	stored := f.store.mustGet(t, p.ID)
	require.NotNil(t, stored.EstimatedFare)
	assert.Equal(t, int64(8200), *stored.EstimatedFare)
}

func TestPreEstimateFareStoresZeroOnProviderFailure(t *testing.T) {
	f := newFixture(1)
	f.fares.err = errors.New("upstream timeout")
	p, err := f.svc.Create(context.Background(), createRequest(), 1)
	require.NoError(t, err)

	require.NoError(t, f.svc.preEstimateFare(context.Background(), p.ID))

	stored := f.store.mustGet(t, p.ID)
	require.NotNil(t, stored.EstimatedFare)
	assert.Equal(t, int64(0), *stored.EstimatedFare)
}

func TestPreEstimateFareSkipsPartyWithoutPlaces(t *testing.T) {
	f := newFixture(1)
	req := createRequest()
	req.EndPlace = nil
	p, err := f.svc.Create(context.Background(), req, 1)
	require.NoError(t, err)

	require.NoError(t, f.svc.preEstimateFare(context.Background(), p.ID))
	assert.Nil(t, f.store.mustGet(t, p.ID).EstimatedFare)
	assert.Zero(t, f.fares.calls)
}

// Three riders walk through the whole lifecycle: create, fill up, host leaves,
// successor settles the fare.
func TestPartyLifecycleScenario(t *testing.T) {
	f := newFixture(1, 2, 3)
	f.fares.fare = 9000
	req := createRequest()
	req.MaxCount = 3
	p, err := f.svc.Create(context.Background(), req, 1)
	require.NoError(t, err)

	_, err = f.svc.Join(context.Background(), p.ID, 2)
	require.NoError(t, err)
	_, err = f.svc.Join(context.Background(), p.ID, 3)
	require.NoError(t, err)

	_, err = f.svc.Join(context.Background(), p.ID, 2)
	assert.ErrorIs(t, err, ErrMemberAlreadyInParty)

	left, err := f.svc.Leave(context.Background(), p.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, types.ID(2), left.HostMemberID)
	assert.Equal(t, 2, left.CurrentCount)

	// The old host cannot settle any more; the new one can.
	_, err = f.svc.CalculateSavings(context.Background(), p.ID, 1)
	assert.ErrorIs(t, err, ErrUnauthorizedHost)

	summary, err := f.svc.CalculateSavings(context.Background(), p.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Participants)
	assert.Equal(t, int64(4500), summary.EachShare)
	assert.Equal(t, int64(4500), summary.SavingPerMember)
	assert.Equal(t, int64(4500), f.store.credited[2])
	assert.Equal(t, int64(4500), f.store.credited[3])
	assert.Equal(t, int64(0), f.store.credited[1], "the leaver gets nothing")
}
