package barter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/IlyasAtabaev731/barter-market/internal/domain/models"
	"github.com/IlyasAtabaev731/barter-market/internal/notify"
	"github.com/IlyasAtabaev731/barter-market/internal/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStorage is an in-memory Storage. WithinTx snapshots items and barters and
// restores them when fn fails.
type memStorage struct {
	mu      sync.Mutex
	users   map[string]models.User
	items   map[string]models.Item
	barters map[string]models.Barter

	failAvailability map[string]error
	availabilityCall []string
	slowItemCalls    int
	slowUsers        map[string]bool
	beforeTx         func(m *memStorage)
}

func newMemStorage() *memStorage {
	return &memStorage{
		users:            map[string]models.User{},
		items:            map[string]models.Item{},
		barters:          map[string]models.Barter{},
		failAvailability: map[string]error{},
		slowUsers:        map[string]bool{},
	}
}

func (m *memStorage) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	if m.beforeTx != nil {
		m.beforeTx(m)
		m.beforeTx = nil
	}
	items := make(map[string]models.Item, len(m.items))
	for k, v := range m.items {
		items[k] = v
	}
	barters := make(map[string]models.Barter, len(m.barters))
	for k, v := range m.barters {
		barters[k] = v
	}
	m.mu.Unlock()

	if err := fn(ctx); err != nil {
		m.mu.Lock()
		m.items = items
		m.barters = barters
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStorage) Item(ctx context.Context, id string) (*models.Item, error) {
	m.mu.Lock()
	if m.slowItemCalls > 0 {
		m.slowItemCalls--
		m.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return nil, storage.ErrItemNotFound
	}
	return &item, nil
}

func (m *memStorage) ItemForUpdate(ctx context.Context, id string) (*models.Item, error) {
	return m.Item(ctx, id)
}

func (m *memStorage) SetItemAvailability(_ context.Context, id string, available bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.availabilityCall = append(m.availabilityCall, id)
	if err := m.failAvailability[id]; err != nil {
		return err
	}
	item, ok := m.items[id]
	if !ok {
		return storage.ErrItemNotFound
	}
	item.IsAvailable = available
	m.items[id] = item
	return nil
}

func (m *memStorage) User(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	if m.slowUsers[id] {
		m.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	defer m.mu.Unlock()

	user, ok := m.users[id]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return &user, nil
}

func (m *memStorage) CreateBarter(_ context.Context, b models.Barter) (*models.Barter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.barters {
		if existing.Status == models.BarterPending &&
			existing.ProductOfferedID == b.ProductOfferedID &&
			existing.ProductRequestedID == b.ProductRequestedID {
			return nil, storage.ErrBarterExists
		}
	}
	m.barters[b.ID] = b
	return &b, nil
}

func (m *memStorage) Barter(_ context.Context, id string) (*models.Barter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.barters[id]
	if !ok {
		return nil, storage.ErrBarterNotFound
	}
	return &b, nil
}

func (m *memStorage) BarterDetails(_ context.Context, id string) (*models.BarterDetails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.barters[id]
	if !ok {
		return nil, storage.ErrBarterNotFound
	}
	offered, requested := m.items[b.ProductOfferedID], m.items[b.ProductRequestedID]
	by, from := m.users[b.OfferedBy], m.users[b.RequestedFrom]
	return &models.BarterDetails{
		ID:               b.ID,
		ProductOffered:   offered.Summary(),
		ProductRequested: requested.Summary(),
		OfferedBy:        by.Summary(),
		RequestedFrom:    from.Summary(),
		Status:           b.Status,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}, nil
}

func (m *memStorage) SaveBarter(_ context.Context, b *models.Barter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.barters[b.ID]
	if !ok {
		return storage.ErrBarterNotFound
	}
	if existing.Status != models.BarterPending {
		return storage.ErrBarterNotPending
	}
	m.barters[b.ID] = *b
	return nil
}

func (m *memStorage) barterCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.barters)
}

func (m *memStorage) item(id string) models.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id]
}

func (m *memStorage) barter(id string) models.Barter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.barters[id]
}

type recordingDispatcher struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (d *recordingDispatcher) Submit(msg notify.Message) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = append(d.msgs, msg)
	return true
}

func (d *recordingDispatcher) messages() []notify.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notify.Message(nil), d.msgs...)
}

// waitFor returns the first message with the given subject once it arrives.
func (d *recordingDispatcher) waitFor(t *testing.T, subject string) notify.Message {
	t.Helper()
	var found notify.Message
	require.Eventually(t, func() bool {
		for _, m := range d.messages() {
			if m.Subject == subject {
				found = m
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "no %q message", subject)
	return found
}

type fixture struct {
	store      *memStorage
	dispatcher *recordingDispatcher
	svc        *Service

	u1, u2, u3         string
	bookA, bookB       string
	bookC, electronics string
	orphan             string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:       newMemStorage(),
		dispatcher:  &recordingDispatcher{},
		u1:          uuid.NewString(),
		u2:          uuid.NewString(),
		u3:          uuid.NewString(),
		bookA:       uuid.NewString(),
		bookB:       uuid.NewString(),
		bookC:       uuid.NewString(),
		electronics: uuid.NewString(),
		orphan:      uuid.NewString(),
	}

	f.store.users[f.u1] = models.User{ID: f.u1, Username: "alice", Email: "alice@example.com", Role: models.RoleUser}
	f.store.users[f.u2] = models.User{ID: f.u2, Username: "bob", Email: "bob@example.com", Role: models.RoleUser}

	f.addItem(f.bookA, "Dune", models.CategoryBooks, f.u1)
	f.addItem(f.bookB, "Neuromancer", models.CategoryBooks, f.u2)
	f.addItem(f.bookC, "Hyperion", models.CategoryBooks, f.u1)
	f.addItem(f.electronics, "Walkman", models.CategoryElectronics, f.u2)
	// Owned by a user the user store does not know.
	f.addItem(f.orphan, "Foundation", models.CategoryBooks, f.u3)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = New(logger, f.store, f.dispatcher, "https://frontend.example.com/", time.Second)
	return f
}

func (f *fixture) addItem(id, title string, category models.Category, owner string) {
	f.store.items[id] = models.Item{
		ID:          id,
		Title:       title,
		Category:    category,
		OwnerID:     owner,
		IsAvailable: true,
		Images:      []string{},
	}
}

func TestInitiateCreatesPendingBarter(t *testing.T) {
	f := newFixture(t)

	proposal, err := f.svc.Initiate(context.Background(), f.u1, f.bookA, f.bookB)
	require.NoError(t, err)

	b := proposal.Barter
	assert.Equal(t, models.BarterPending, b.Status)
	assert.Equal(t, f.u1, b.OfferedBy)
	assert.Equal(t, f.u2, b.RequestedFrom)
	assert.Equal(t, f.bookA, b.ProductOfferedID)
	assert.Equal(t, f.bookB, b.ProductRequestedID)
	assert.False(t, b.CreatedAt.IsZero())
	assert.Equal(t, "bob@example.com", proposal.Counterparty.Email)
	assert.Equal(t, 1, f.store.barterCount())

	msg := f.dispatcher.waitFor(t, subjectInitiated)
	assert.Equal(t, "bob@example.com", msg.To)
	assert.Contains(t, msg.Body, "https://frontend.example.com/dakesh/respond?barterId="+b.ID)
	assert.Contains(t, msg.Body, "alice@example.com")
	assert.Contains(t, msg.Body, "Dune")
	assert.Contains(t, msg.Body, "Neuromancer")
	assert.Len(t, f.dispatcher.messages(), 1)
}

func TestInitiateDoesNotWaitForInitiatorLookup(t *testing.T) {
	f := newFixture(t)
	f.svc.storeTimeout = 200 * time.Millisecond
	f.store.slowUsers[f.u1] = true

	start := time.Now()
	_, err := f.svc.Initiate(context.Background(), f.u1, f.bookA, f.bookB)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 150*time.Millisecond)

	msg := f.dispatcher.waitFor(t, subjectInitiated)
	assert.Contains(t, msg.Body, "Another user")
}

func TestInitiateValidation(t *testing.T) {
	f := newFixture(t)
	missing := uuid.NewString()

	tests := []struct {
		name      string
		actor     string
		offered   string
		requested string
		kind      error
	}{
		{name: "no actor", actor: "", offered: f.bookA, requested: f.bookB, kind: ErrUnauthenticated},
		{name: "missing ids", actor: f.u1, offered: "", requested: f.bookB, kind: ErrInvalidInput},
		{name: "malformed id", actor: f.u1, offered: "not-an-id", requested: f.bookB, kind: ErrInvalidInput},
		{name: "offered not found", actor: f.u1, offered: missing, requested: f.bookB, kind: ErrNotFound},
		{name: "not the owner", actor: f.u2, offered: f.bookA, requested: f.bookB, kind: ErrForbidden},
		{name: "requested not found", actor: f.u1, offered: f.bookA, requested: missing, kind: ErrNotFound},
		{name: "category mismatch", actor: f.u1, offered: f.bookA, requested: f.electronics, kind: ErrCategoryMismatch},
		{name: "own product", actor: f.u1, offered: f.bookA, requested: f.bookC, kind: ErrSelfBarter},
		{name: "same product", actor: f.u1, offered: f.bookA, requested: f.bookA, kind: ErrSelfBarter},
		{name: "owner without email", actor: f.u1, offered: f.bookA, requested: f.orphan, kind: ErrDataIntegrity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Initiate(context.Background(), tt.actor, tt.offered, tt.requested)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)

			var be *Error
			require.ErrorAs(t, err, &be)
			assert.NotEmpty(t, be.Msg)

			assert.Equal(t, 0, f.store.barterCount(), "no barter may be created")
			assert.Empty(t, f.dispatcher.messages())
		})
	}
}

func TestInitiateCategoryMismatchLeavesNoBarter(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Initiate(context.Background(), f.u1, f.bookA, f.electronics)
	require.ErrorIs(t, err, ErrCategoryMismatch)
	assert.Equal(t, 0, f.store.barterCount())
}

func TestInitiateRejectsDuplicatePendingPair(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Initiate(context.Background(), f.u1, f.bookA, f.bookB)
	require.NoError(t, err)

	_, err = f.svc.Initiate(context.Background(), f.u1, f.bookA, f.bookB)
	require.ErrorIs(t, err, ErrDuplicateBarter)
	assert.Equal(t, 1, f.store.barterCount())
}

func TestDecideApprovedScenario(t *testing.T) {
	f := newFixture(t)

	proposal, err := f.svc.Initiate(context.Background(), f.u1, f.bookA, f.bookB)
	require.NoError(t, err)

	details, err := f.svc.Decide(context.Background(), f.u2, proposal.Barter.ID, models.BarterApproved)
	require.NoError(t, err)

	assert.Equal(t, models.BarterApproved, details.Status)
	assert.False(t, details.ProductOffered.IsAvailable)
	assert.False(t, details.ProductRequested.IsAvailable)
	assert.Equal(t, "Dune", details.ProductOffered.Title)
	assert.Equal(t, "alice", details.OfferedBy.Username)
	assert.Equal(t, "bob@example.com", details.RequestedFrom.Email)

	assert.False(t, f.store.item(f.bookA).IsAvailable)
	assert.False(t, f.store.item(f.bookB).IsAvailable)
	assert.Equal(t, models.BarterApproved, f.store.barter(proposal.Barter.ID).Status)

	msg := f.dispatcher.waitFor(t, subjectApproved)
	assert.Equal(t, "alice@example.com", msg.To)
	assert.Contains(t, msg.Body, "Dune")
	assert.Contains(t, msg.Body, "Neuromancer")
}

func TestDecideDeclinedOnlyChangesStatus(t *testing.T) {
	f := newFixture(t)

	proposal, err := f.svc.Initiate(context.Background(), f.u1, f.bookA, f.bookB)
	require.NoError(t, err)

	details, err := f.svc.Decide(context.Background(), f.u2, proposal.Barter.ID, models.BarterDeclined)
	require.NoError(t, err)

	assert.Equal(t, models.BarterDeclined, details.Status)
	assert.True(t, f.store.item(f.bookA).IsAvailable)
	assert.True(t, f.store.item(f.bookB).IsAvailable)
	assert.Empty(t, f.store.availabilityCall)

	msg := f.dispatcher.waitFor(t, subjectDeclined)
	assert.Equal(t, "alice@example.com", msg.To)
}

func TestDecideReplayIsRejected(t *testing.T) {
	for _, decision := range []models.BarterStatus{models.BarterApproved, models.BarterDeclined} {
		t.Run(string(decision), func(t *testing.T) {
			f := newFixture(t)

			proposal, err := f.svc.Initiate(context.Background(), f.u1, f.bookA, f.bookB)
			require.NoError(t, err)

			_, err = f.svc.Decide(context.Background(), f.u2, proposal.Barter.ID, decision)
			require.NoError(t, err)
			before := f.store.barter(proposal.Barter.ID)

			for _, again := range []models.BarterStatus{decision, models.BarterApproved, models.BarterDeclined} {
				_, err = f.svc.Decide(context.Background(), f.u2, proposal.Barter.ID, again)
				require.ErrorIs(t, err, ErrAlreadyDecided)
			}

			assert.Equal(t, before, f.store.barter(proposal.Barter.ID))
			f.dispatcher.waitFor(t, subjectInitiated)
			assert.Len(t, f.dispatcher.messages(), 2)
		})
	}
}

func TestDecideRequiresCounterparty(t *testing.T) {
	f := newFixture(t)

	proposal, err := f.svc.Initiate(context.Background(), f.u1, f.bookA, f.bookB)
	require.NoError(t, err)

	_, err = f.svc.Decide(context.Background(), f.u1, proposal.Barter.ID, models.BarterApproved)
	require.ErrorIs(t, err, ErrForbidden)

	assert.Equal(t, models.BarterPending, f.store.barter(proposal.Barter.ID).Status)
	assert.True(t, f.store.item(f.bookA).IsAvailable)
}

func TestDecideInputErrors(t *testing.T) {
	f := newFixture(t)

	proposal, err := f.svc.Initiate(context.Background(), f.u1, f.bookA, f.bookB)
	require.NoError(t, err)

	_, err = f.svc.Decide(context.Background(), f.u2, proposal.Barter.ID, "maybe")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.Decide(context.Background(), f.u2, uuid.NewString(), models.BarterApproved)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Decide(context.Background(), f.u2, "garbage", models.BarterApproved)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Decide(context.Background(), "", proposal.Barter.ID, models.BarterApproved)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	assert.Equal(t, models.BarterPending, f.store.barter(proposal.Barter.ID).Status)
}

func TestDecideRejectsItemAlreadyBartered(t *testing.T) {
	f := newFixture(t)

	first, err := f.svc.Initiate(context.Background(), f.u1, f.bookA, f.bookB)
	require.NoError(t, err)
	second, err := f.svc.Initiate(context.Background(), f.u1, f.bookC, f.bookB)
	require.NoError(t, err)

	_, err = f.svc.Decide(context.Background(), f.u2, first.Barter.ID, models.BarterApproved)
	require.NoError(t, err)

	_, err = f.svc.Decide(context.Background(), f.u2, second.Barter.ID, models.BarterApproved)
	require.ErrorIs(t, err, ErrItemUnavailable)

	assert.Equal(t, models.BarterPending, f.store.barter(second.Barter.ID).Status)
	assert.True(t, f.store.item(f.bookC).IsAvailable)
}

func TestDecideRollsBackOnPartialFailure(t *testing.T) {
	f := newFixture(t)

	proposal, err := f.svc.Initiate(context.Background(), f.u1, f.bookA, f.bookB)
	require.NoError(t, err)

	f.store.failAvailability[f.bookA] = errors.New("connection reset")

	_, err = f.svc.Decide(context.Background(), f.u2, proposal.Barter.ID, models.BarterApproved)
	require.ErrorIs(t, err, ErrTransactionFailed)

	assert.ElementsMatch(t, []string{f.bookA, f.bookB}, f.store.availabilityCall, "both writes must be attempted")
	assert.True(t, f.store.item(f.bookA).IsAvailable)
	assert.True(t, f.store.item(f.bookB).IsAvailable, "successful write must be rolled back")
	assert.Equal(t, models.BarterPending, f.store.barter(proposal.Barter.ID).Status)
	f.dispatcher.waitFor(t, subjectInitiated)
	assert.Len(t, f.dispatcher.messages(), 1)
}

func TestDecideLosingRaceReportsAlreadyDecided(t *testing.T) {
	f := newFixture(t)

	proposal, err := f.svc.Initiate(context.Background(), f.u1, f.bookA, f.bookB)
	require.NoError(t, err)

	// Another approval of the same barter commits after the status pre-check
	// and before this decision opens its transaction.
	f.store.beforeTx = func(m *memStorage) {
		b := m.barters[proposal.Barter.ID]
		b.Status = models.BarterApproved
		m.barters[proposal.Barter.ID] = b
		for _, id := range []string{f.bookA, f.bookB} {
			item := m.items[id]
			item.IsAvailable = false
			m.items[id] = item
		}
	}

	_, err = f.svc.Decide(context.Background(), f.u2, proposal.Barter.ID, models.BarterApproved)
	require.ErrorIs(t, err, ErrAlreadyDecided)
	assert.NotErrorIs(t, err, ErrItemUnavailable)
	assert.Empty(t, f.store.availabilityCall)
}

func TestStoreTimeoutIsRetriedOnce(t *testing.T) {
	f := newFixture(t)
	f.svc.storeTimeout = 20 * time.Millisecond

	f.store.slowItemCalls = 1
	_, err := f.svc.Initiate(context.Background(), f.u1, f.bookA, f.bookB)
	require.NoError(t, err)

	f.store.slowItemCalls = 2
	_, err = f.svc.Initiate(context.Background(), f.u1, f.bookC, f.bookB)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, f.store.barterCount())
}

func TestGetByID(t *testing.T) {
	f := newFixture(t)

	proposal, err := f.svc.Initiate(context.Background(), f.u1, f.bookA, f.bookB)
	require.NoError(t, err)

	details, err := f.svc.GetByID(context.Background(), proposal.Barter.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BarterPending, details.Status)
	assert.Equal(t, "Neuromancer", details.ProductRequested.Title)

	_, err = f.svc.GetByID(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRespondLink(t *testing.T) {
	link := respondLink("http://localhost:3000/", "abc")
	assert.True(t, strings.HasPrefix(link, "http://localhost:3000/dakesh/respond"))
	assert.True(t, strings.HasSuffix(link, "barterId=abc"))
}
