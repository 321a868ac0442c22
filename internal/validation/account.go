package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Ошибки проверки учётных данных
var (
	ErrInvalidUsername = errors.New("invalid username")
	ErrInvalidPassword = errors.New("invalid password")
)

const (
	// MinUsernameLen минимальная длина имени аккаунта
	MinUsernameLen = 3
	// MaxUsernameLen максимальная длина имени аккаунта
	MaxUsernameLen = 64

	// MinPasswordLen минимальная длина пароля в символах
	MinPasswordLen = 12
	// MaxPasswordBytes bcrypt учитывает только первые 72 байта
	MaxPasswordBytes = 72
)

// usernamePattern: строчная латиница в начале, далее буквы, цифры и . _ -
// без разделителя в конце
var usernamePattern = regexp.MustCompile(`^[a-z][a-z0-9._-]*[a-z0-9]$`)

// ValidateUsername checks an account name. Names are case-sensitive on the
// backend, so only lowercase is accepted to avoid look-alike accounts.
func ValidateUsername(username string) error {
	switch n := len(username); {
	case n == 0:
		return fmt.Errorf("%w: must not be empty", ErrInvalidUsername)
	case n < MinUsernameLen || n > MaxUsernameLen:
		return fmt.Errorf("%w: length must be between %d and %d, got %d",
			ErrInvalidUsername, MinUsernameLen, MaxUsernameLen, n)
	}

	if strings.ToLower(username) != username {
		return fmt.Errorf("%w: %q must be lowercase", ErrInvalidUsername, username)
	}
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("%w: %q must start with a letter, end with a letter or digit and contain only a-z, 0-9, '.', '_' or '-'",
			ErrInvalidUsername, username)
	}
	if strings.Contains(username, "..") {
		return fmt.Errorf("%w: %q contains consecutive dots", ErrInvalidUsername, username)
	}

	return nil
}

// ValidatePassword checks the password length. Длина меряется в символах,
// верхняя граница в байтах
func ValidatePassword(password string) error {
	if strings.TrimFunc(password, unicode.IsSpace) == "" {
		return fmt.Errorf("%w: must not be blank", ErrInvalidPassword)
	}
	if n := utf8.RuneCountInString(password); n < MinPasswordLen {
		return fmt.Errorf("%w: must be at least %d characters, got %d", ErrInvalidPassword, MinPasswordLen, n)
	}
	if len(password) > MaxPasswordBytes {
		return fmt.Errorf("%w: must not exceed %d bytes", ErrInvalidPassword, MaxPasswordBytes)
	}
	return nil
}
