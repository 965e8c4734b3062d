package barter

import (
	"context"

	"github.com/IlyasAtabaev731/barter-market/internal/domain/models"
	"github.com/IlyasAtabaev731/barter-market/internal/notify"
)

type ItemStore interface {
	Item(ctx context.Context, id string) (*models.Item, error)
	ItemForUpdate(ctx context.Context, id string) (*models.Item, error)
	SetItemAvailability(ctx context.Context, id string, available bool) error
}

type UserStore interface {
	User(ctx context.Context, id string) (*models.User, error)
}

type Repository interface {
	CreateBarter(ctx context.Context, b models.Barter) (*models.Barter, error)
	Barter(ctx context.Context, id string) (*models.Barter, error)
	BarterDetails(ctx context.Context, id string) (*models.BarterDetails, error)
	SaveBarter(ctx context.Context, b *models.Barter) error
}

// Transactor runs fn atomically. Store calls made with the ctx passed to fn
// take part in the transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Storage is everything the engine reads and writes.
type Storage interface {
	ItemStore
	UserStore
	Repository
	Transactor
}

// Dispatcher queues a notification for background delivery. It must not block.
type Dispatcher interface {
	Submit(msg notify.Message) bool
}
