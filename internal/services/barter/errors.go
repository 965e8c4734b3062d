package barter

import "errors"

// Failure kinds. Every error returned by Service operations matches exactly
// one of these with errors.Is, except unexpected infrastructure errors.
var (
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrCategoryMismatch  = errors.New("category mismatch")
	ErrSelfBarter        = errors.New("self barter")
	ErrDataIntegrity     = errors.New("data integrity")
	ErrAlreadyDecided    = errors.New("already decided")
	ErrDuplicateBarter   = errors.New("duplicate barter")
	ErrItemUnavailable   = errors.New("item unavailable")
	ErrTransactionFailed = errors.New("transaction failed")
)

// Error carries a user facing message together with its failure kind.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	return e.Msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func fail(kind error, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

func failWrap(kind error, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}
