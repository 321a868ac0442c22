package storage

import (
	"errors"
	"fmt"
)

// Common storage errors
var (
	// ErrUserNotFound indicates that user was not found in storage
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists indicates that user with this username already exists
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrTokenNotFound indicates that refresh token was not found
	ErrTokenNotFound = errors.New("refresh token not found")

	// ErrRecordNotFound indicates that the record was never created
	ErrRecordNotFound = errors.New("record not found")

	// ErrVersionConflict indicates that the expected version is not the current one
	ErrVersionConflict = errors.New("version conflict")
)

// ConflictError отклонённая мутация вместе с текущей версией записи
type ConflictError struct {
	Current  Record
	Expected int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s/%s: expected version %d, current %d",
		e.Current.ModelName, e.Current.ID, e.Expected, e.Current.Version)
}

// Is reports ErrVersionConflict so callers can use errors.Is.
func (e *ConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}
