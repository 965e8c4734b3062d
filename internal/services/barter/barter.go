package barter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/IlyasAtabaev731/barter-market/internal/domain/models"
	"github.com/IlyasAtabaev731/barter-market/internal/storage"
	"github.com/google/uuid"
)

// Service is the barter negotiation engine. It holds no mutable state of its
// own; every read and write goes through Storage.
type Service struct {
	log          *slog.Logger
	storage      Storage
	dispatcher   Dispatcher
	frontendURL  string
	storeTimeout time.Duration

	now   func() time.Time
	newID func() string
}

func New(log *slog.Logger, storage Storage, dispatcher Dispatcher, frontendURL string, storeTimeout time.Duration) *Service {
	return &Service{
		log:          log,
		storage:      storage,
		dispatcher:   dispatcher,
		frontendURL:  frontendURL,
		storeTimeout: storeTimeout,
		now:          func() time.Time { return time.Now().UTC() },
		newID:        uuid.NewString,
	}
}

// Proposal is the outcome of a successful Initiate.
type Proposal struct {
	Barter       models.Barter
	Counterparty models.UserSummary
}

// Initiate validates and records a new pending barter in which actorID offers
// productOfferedID in exchange for productRequestedID. The counterparty is
// notified in the background.
func (s *Service) Initiate(ctx context.Context, actorID, productOfferedID, productRequestedID string) (*Proposal, error) {
	const op = "services.barter.Initiate"

	log := s.log.With(slog.String("op", op), slog.String("actor_id", actorID))

	if actorID == "" {
		return nil, fail(ErrUnauthenticated, "User not authenticated")
	}
	if productOfferedID == "" || productRequestedID == "" {
		return nil, fail(ErrInvalidInput, "Missing product IDs in request body")
	}
	if !validID(productOfferedID) || !validID(productRequestedID) {
		return nil, fail(ErrInvalidInput, "Invalid product ID format")
	}

	offered, err := s.item(ctx, op, productOfferedID)
	if err != nil {
		return nil, s.lookupErr(op, err, "Product you offered for barter not found")
	}
	if offered.OwnerID != actorID {
		return nil, fail(ErrForbidden, "You do not own the product you are offering for barter")
	}

	requested, err := s.item(ctx, op, productRequestedID)
	if err != nil {
		return nil, s.lookupErr(op, err, "The product you want to barter for was not found")
	}
	if offered.Category != requested.Category {
		return nil, fail(ErrCategoryMismatch, "Both products must be in the same category to barter")
	}
	if requested.OwnerID == actorID {
		return nil, fail(ErrSelfBarter, "You cannot initiate a barter request for your own product")
	}

	owner, err := s.user(ctx, op, requested.OwnerID)
	if err != nil && !errors.Is(err, storage.ErrUserNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if owner == nil || owner.Email == "" {
		log.Error("Owner of requested item has no resolvable email",
			slog.String("item_id", requested.ID),
			slog.String("owner_id", requested.OwnerID),
		)
		return nil, fail(ErrDataIntegrity, "Could not retrieve the other user's email address")
	}

	now := s.now()
	var created *models.Barter
	err = s.call(ctx, op, func(ctx context.Context) error {
		var err error
		created, err = s.storage.CreateBarter(ctx, models.Barter{
			ID:                 s.newID(),
			ProductOfferedID:   offered.ID,
			ProductRequestedID: requested.ID,
			OfferedBy:          actorID,
			RequestedFrom:      owner.ID,
			Status:             models.BarterPending,
			CreatedAt:          now,
			UpdatedAt:          now,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, storage.ErrBarterExists) {
			return nil, fail(ErrDuplicateBarter, "A pending barter for these products already exists")
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("Barter initiated",
		slog.String("barter_id", created.ID),
		slog.String("requested_from", owner.ID),
	)

	go s.notifyInitiated(context.WithoutCancel(ctx), log, actorID, owner.Email, *created, *offered, *requested)

	return &Proposal{Barter: *created, Counterparty: owner.Summary()}, nil
}

// notifyInitiated resolves the initiator's address and queues the message for
// the counterparty. It runs after Initiate has returned.
func (s *Service) notifyInitiated(ctx context.Context, log *slog.Logger, actorID, to string, b models.Barter, offered, requested models.Item) {
	const op = "services.barter.notifyInitiated"

	initiator := "Another user"
	if actor, err := s.user(ctx, op, actorID); err != nil {
		log.Warn("Failed to load initiator for notification", "error", err)
	} else if actor.Email != "" {
		initiator = actor.Email
	}

	msg, err := initiatedMessage(to, initiator, s.frontendURL, &b, &offered, &requested)
	if err != nil {
		log.Error("Failed to build notification", "error", err)
		return
	}
	s.dispatcher.Submit(msg)
}

// Decide applies the counterparty's decision to a pending barter. Approval
// marks both items unavailable in the same transaction as the status change.
// The initiator is notified in the background.
func (s *Service) Decide(ctx context.Context, actorID, barterID string, decision models.BarterStatus) (*models.BarterDetails, error) {
	const op = "services.barter.Decide"

	log := s.log.With(
		slog.String("op", op),
		slog.String("actor_id", actorID),
		slog.String("barter_id", barterID),
	)

	if actorID == "" {
		return nil, fail(ErrUnauthenticated, "User not authenticated")
	}
	if decision != models.BarterApproved && decision != models.BarterDeclined {
		return nil, fail(ErrInvalidInput, "Invalid decision value. Must be 'approved' or 'declined'.")
	}

	details, err := s.details(ctx, op, barterID)
	if err != nil {
		return nil, s.lookupErr(op, err, "Barter not found.")
	}
	if details.RequestedFrom.ID != actorID {
		return nil, fail(ErrForbidden, "Only the owner of the requested product can decide on this barter")
	}
	if details.Status.Terminal() {
		return nil, fail(ErrAlreadyDecided, fmt.Sprintf("Barter has already been %s.", details.Status))
	}

	b := details.Barter()
	b.Status = decision
	b.UpdatedAt = s.now()

	err = s.call(ctx, op, func(ctx context.Context) error {
		return s.storage.WithinTx(ctx, func(ctx context.Context) error {
			return s.apply(ctx, &b)
		})
	})
	if err != nil {
		var be *Error
		switch {
		case errors.As(err, &be):
			return nil, be
		case errors.Is(err, storage.ErrBarterNotPending):
			return nil, fail(ErrAlreadyDecided, "Barter has already been decided.")
		default:
			log.Error("Failed to apply barter decision", "error", err)
			return nil, failWrap(ErrTransactionFailed, "Failed to apply barter decision", err)
		}
	}

	log.Info("Barter decided", slog.String("status", string(decision)))

	populated, err := s.details(ctx, op, barterID)
	if err != nil {
		log.Warn("Failed to reload barter after decision", "error", err)
		populated = details
		populated.Status = b.Status
		populated.UpdatedAt = b.UpdatedAt
		if b.Status == models.BarterApproved {
			populated.ProductOffered.IsAvailable = false
			populated.ProductRequested.IsAvailable = false
		}
	}

	msg, err := decidedMessage(populated)
	if err != nil {
		log.Error("Failed to build notification", "error", err)
	} else {
		s.dispatcher.Submit(msg)
	}

	return populated, nil
}

// GetByID returns the populated barter.
func (s *Service) GetByID(ctx context.Context, barterID string) (*models.BarterDetails, error) {
	const op = "services.barter.GetByID"

	details, err := s.details(ctx, op, barterID)
	if err != nil {
		return nil, s.lookupErr(op, err, "Barter not found")
	}

	return details, nil
}

// apply runs inside a transaction. The guarded status write goes first so that
// concurrent decisions on one barter serialise on its row.
func (s *Service) apply(ctx context.Context, b *models.Barter) error {
	if err := s.storage.SaveBarter(ctx, b); err != nil {
		return err
	}

	if b.Status == models.BarterApproved {
		ids := []string{b.ProductOfferedID, b.ProductRequestedID}
		// Fixed lock order so concurrent approvals sharing an item cannot deadlock.
		sort.Strings(ids)
		for _, id := range ids {
			item, err := s.storage.ItemForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if !item.IsAvailable {
				return fail(ErrItemUnavailable, fmt.Sprintf("Product %q is no longer available", item.Title))
			}
		}

		// Both writes are attempted even when the first fails.
		errOffered := s.storage.SetItemAvailability(ctx, b.ProductOfferedID, false)
		errRequested := s.storage.SetItemAvailability(ctx, b.ProductRequestedID, false)
		if err := errors.Join(errOffered, errRequested); err != nil {
			return err
		}
	}

	return nil
}

func (s *Service) item(ctx context.Context, op, id string) (*models.Item, error) {
	var item *models.Item
	err := s.call(ctx, op, func(ctx context.Context) error {
		var err error
		item, err = s.storage.Item(ctx, id)
		return err
	})
	return item, err
}

func (s *Service) user(ctx context.Context, op, id string) (*models.User, error) {
	var user *models.User
	err := s.call(ctx, op, func(ctx context.Context) error {
		var err error
		user, err = s.storage.User(ctx, id)
		return err
	})
	return user, err
}

func (s *Service) details(ctx context.Context, op, id string) (*models.BarterDetails, error) {
	if !validID(id) {
		return nil, storage.ErrBarterNotFound
	}

	var details *models.BarterDetails
	err := s.call(ctx, op, func(ctx context.Context) error {
		var err error
		details, err = s.storage.BarterDetails(ctx, id)
		return err
	})
	return details, err
}

// call runs fn with the store timeout. A call that times out is retried once.
func (s *Service) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if s.storeTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, s.storeTimeout)
		}

		err := fn(callCtx)
		timedOut := errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()

		if err == nil || !timedOut || attempt > 1 || ctx.Err() != nil {
			return err
		}

		s.log.Warn("Store call timed out, retrying", slog.String("op", op), slog.Duration("timeout", s.storeTimeout))
	}
}

// lookupErr converts a storage miss into a NotFound failure carrying msg.
func (s *Service) lookupErr(op string, err error, msg string) error {
	if errors.Is(err, storage.ErrItemNotFound) ||
		errors.Is(err, storage.ErrBarterNotFound) ||
		errors.Is(err, storage.ErrUserNotFound) {
		return fail(ErrNotFound, msg)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// validID accepts only the canonical 36 character uuid form.
func validID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
