package storage

import "errors"

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrUserExists       = errors.New("user already exists")
	ErrItemNotFound     = errors.New("item not found")
	ErrBarterNotFound   = errors.New("barter not found")
	ErrBarterExists     = errors.New("pending barter for this item pair already exists")
	ErrBarterNotPending = errors.New("barter is not pending")
)
