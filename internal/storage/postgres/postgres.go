package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/IlyasAtabaev731/barter-market/internal/domain/models"
	"github.com/IlyasAtabaev731/barter-market/internal/storage"
	"github.com/lib/pq"
)

const (
	codeUniqueViolation = "23505"
	codeInvalidText     = "22P02"

	pendingPairIndex = "uq_barters_pending_pair"
)

type Storage struct {
	db *sql.DB
}

type txKey struct{}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(dbUrl string) (*Storage, error) {
	db, err := sql.Open("postgres", dbUrl)
	if err != nil {
		return nil, fmt.Errorf("database connection error %s", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect database error %s", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Storage{db: db}, nil
}

func (s *Storage) Stop() error {
	return s.db.Close()
}

// conn returns the transaction carried by ctx, or the pool.
func (s *Storage) conn(ctx context.Context) queryer {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// WithinTx runs fn inside one transaction. Every Storage call made with the
// ctx handed to fn joins that transaction. The transaction is rolled back when
// fn returns an error. Nested calls reuse the outer transaction.
func (s *Storage) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	const op = "storage.postgres.WithinTx"

	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}

	return nil
}

func (s *Storage) SaveUser(ctx context.Context, id, username, email string, passHash []byte, role models.Role) error {
	const op = "storage.postgres.SaveUser"

	_, err := s.conn(ctx).ExecContext(ctx,
		"INSERT INTO users (id, username, email, password_hash, role) VALUES($1, $2, $3, $4, $5)",
		id, username, email, string(passHash), role,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == codeUniqueViolation {
			return fmt.Errorf("%s: %w", op, storage.ErrUserExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) User(ctx context.Context, id string) (*models.User, error) {
	const op = "storage.postgres.User"

	user, err := scanUser(s.conn(ctx).QueryRowContext(ctx,
		"SELECT id, username, email, password_hash, role, created_at FROM users WHERE id = $1", id,
	))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, notFound(err, storage.ErrUserNotFound))
	}

	return user, nil
}

func (s *Storage) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.postgres.UserByEmail"

	user, err := scanUser(s.conn(ctx).QueryRowContext(ctx,
		"SELECT id, username, email, password_hash, role, created_at FROM users WHERE email = $1", email,
	))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, notFound(err, storage.ErrUserNotFound))
	}

	return user, nil
}

func scanUser(row *sql.Row) (*models.User, error) {
	var user models.User
	if err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt); err != nil {
		return nil, err
	}
	return &user, nil
}

const itemColumns = "id, title, description, category, images, owner_id, is_available, created_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*models.Item, error) {
	var item models.Item
	if err := row.Scan(
		&item.ID,
		&item.Title,
		&item.Description,
		&item.Category,
		pq.Array(&item.Images),
		&item.OwnerID,
		&item.IsAvailable,
		&item.CreatedAt,
	); err != nil {
		return nil, err
	}
	if item.Images == nil {
		item.Images = []string{}
	}
	return &item, nil
}

func (s *Storage) SaveItem(ctx context.Context, item models.Item) (*models.Item, error) {
	const op = "storage.postgres.SaveItem"

	if item.Images == nil {
		item.Images = []string{}
	}

	created, err := scanItem(s.conn(ctx).QueryRowContext(ctx,
		`INSERT INTO items (id, title, description, category, images, owner_id, is_available)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+itemColumns,
		item.ID, item.Title, item.Description, item.Category, pq.Array(item.Images), item.OwnerID, item.IsAvailable,
	))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return created, nil
}

func (s *Storage) Item(ctx context.Context, id string) (*models.Item, error) {
	const op = "storage.postgres.Item"

	item, err := scanItem(s.conn(ctx).QueryRowContext(ctx,
		"SELECT "+itemColumns+" FROM items WHERE id = $1", id,
	))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, notFound(err, storage.ErrItemNotFound))
	}

	return item, nil
}

// ItemForUpdate reads an item and row-locks it until the surrounding
// transaction ends. Outside WithinTx the lock is released immediately.
func (s *Storage) ItemForUpdate(ctx context.Context, id string) (*models.Item, error) {
	const op = "storage.postgres.ItemForUpdate"

	item, err := scanItem(s.conn(ctx).QueryRowContext(ctx,
		"SELECT "+itemColumns+" FROM items WHERE id = $1 FOR UPDATE", id,
	))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, notFound(err, storage.ErrItemNotFound))
	}

	return item, nil
}

// Items lists available items, optionally narrowed to one category.
func (s *Storage) Items(ctx context.Context, category models.Category) ([]models.Item, error) {
	const op = "storage.postgres.Items"

	query := "SELECT " + itemColumns + " FROM items WHERE is_available = true"
	args := []any{}
	if category != "" {
		query += " AND category = $1"
		args = append(args, category)
	}
	query += " ORDER BY created_at DESC"

	items, err := s.queryItems(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return items, nil
}

func (s *Storage) ItemsByOwner(ctx context.Context, ownerID string) ([]models.Item, error) {
	const op = "storage.postgres.ItemsByOwner"

	items, err := s.queryItems(ctx,
		"SELECT "+itemColumns+" FROM items WHERE owner_id = $1 ORDER BY created_at DESC", ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return items, nil
}

func (s *Storage) queryItems(ctx context.Context, query string, args ...any) ([]models.Item, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []models.Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}

	return items, rows.Err()
}

func (s *Storage) DeleteItem(ctx context.Context, id string) error {
	const op = "storage.postgres.DeleteItem"

	res, err := s.conn(ctx).ExecContext(ctx, "DELETE FROM items WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, notFound(err, storage.ErrItemNotFound))
	}

	return expectRows(op, res, storage.ErrItemNotFound)
}

func (s *Storage) SetItemAvailability(ctx context.Context, id string, available bool) error {
	const op = "storage.postgres.SetItemAvailability"

	res, err := s.conn(ctx).ExecContext(ctx, "UPDATE items SET is_available = $1 WHERE id = $2", available, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, notFound(err, storage.ErrItemNotFound))
	}

	return expectRows(op, res, storage.ErrItemNotFound)
}

func (s *Storage) CreateBarter(ctx context.Context, b models.Barter) (*models.Barter, error) {
	const op = "storage.postgres.CreateBarter"

	var created models.Barter
	err := s.conn(ctx).QueryRowContext(ctx,
		`INSERT INTO barters (id, product_offered_id, product_requested_id, offered_by, requested_from, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING id, product_offered_id, product_requested_id, offered_by, requested_from, status, created_at, updated_at`,
		b.ID, b.ProductOfferedID, b.ProductRequestedID, b.OfferedBy, b.RequestedFrom, b.Status, b.CreatedAt,
	).Scan(
		&created.ID,
		&created.ProductOfferedID,
		&created.ProductRequestedID,
		&created.OfferedBy,
		&created.RequestedFrom,
		&created.Status,
		&created.CreatedAt,
		&created.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == codeUniqueViolation && pqErr.Constraint == pendingPairIndex {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrBarterExists)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &created, nil
}

func (s *Storage) Barter(ctx context.Context, id string) (*models.Barter, error) {
	const op = "storage.postgres.Barter"

	var b models.Barter
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT id, product_offered_id, product_requested_id, offered_by, requested_from, status, created_at, updated_at
		FROM barters WHERE id = $1`, id,
	).Scan(
		&b.ID,
		&b.ProductOfferedID,
		&b.ProductRequestedID,
		&b.OfferedBy,
		&b.RequestedFrom,
		&b.Status,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, notFound(err, storage.ErrBarterNotFound))
	}

	return &b, nil
}

// BarterDetails loads a barter with both items and both users joined in.
func (s *Storage) BarterDetails(ctx context.Context, id string) (*models.BarterDetails, error) {
	const op = "storage.postgres.BarterDetails"

	var d models.BarterDetails
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT b.id, b.status, b.created_at, b.updated_at,
			po.id, po.title, po.category, po.is_available,
			pr.id, pr.title, pr.category, pr.is_available,
			ob.id, ob.username, ob.email,
			rf.id, rf.username, rf.email
		FROM barters b
		JOIN items po ON po.id = b.product_offered_id
		JOIN items pr ON pr.id = b.product_requested_id
		JOIN users ob ON ob.id = b.offered_by
		JOIN users rf ON rf.id = b.requested_from
		WHERE b.id = $1`, id,
	).Scan(
		&d.ID, &d.Status, &d.CreatedAt, &d.UpdatedAt,
		&d.ProductOffered.ID, &d.ProductOffered.Title, &d.ProductOffered.Category, &d.ProductOffered.IsAvailable,
		&d.ProductRequested.ID, &d.ProductRequested.Title, &d.ProductRequested.Category, &d.ProductRequested.IsAvailable,
		&d.OfferedBy.ID, &d.OfferedBy.Username, &d.OfferedBy.Email,
		&d.RequestedFrom.ID, &d.RequestedFrom.Username, &d.RequestedFrom.Email,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, notFound(err, storage.ErrBarterNotFound))
	}

	return &d, nil
}

// SaveBarter persists a status change. Only a pending barter can be saved;
// a barter that already reached a terminal status yields ErrBarterNotPending.
func (s *Storage) SaveBarter(ctx context.Context, b *models.Barter) error {
	const op = "storage.postgres.SaveBarter"

	res, err := s.conn(ctx).ExecContext(ctx,
		"UPDATE barters SET status = $1, updated_at = $2 WHERE id = $3 AND status = 'pending'",
		b.Status, b.UpdatedAt, b.ID,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n > 0 {
		return nil
	}

	if _, err := s.Barter(ctx, b.ID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return fmt.Errorf("%s: %w", op, storage.ErrBarterNotPending)
}

// notFound maps "no row" and malformed uuid errors to the given sentinel.
func notFound(err error, sentinel error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == codeInvalidText {
		return sentinel
	}
	return err
}

func expectRows(op string, res sql.Result, sentinel error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, sentinel)
	}
	return nil
}
