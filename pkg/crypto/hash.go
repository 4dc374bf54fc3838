package crypto

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Хеши паролей управляющего API. Оператор один раз получает хеш
// через cmd/hashgen и кладет его в API_AUTH_PASSWORD_HASH, Basic auth
// сверяет предъявленный пароль через PasswordMatches.

var (
	// ErrEmptyPassword - пустой пароль не хешируется и не сверяется
	ErrEmptyPassword = errors.New("password is empty")

	// ErrPasswordTooLong - bcrypt видит только первые 72 байта,
	// хвост длинного пароля не участвовал бы в проверке
	ErrPasswordTooLong = errors.New("password longer than 72 bytes")

	// ErrHashMismatch - пароль не подходит к хешу
	ErrHashMismatch = errors.New("password does not match hash")

	// ErrMalformedHash - строка не является bcrypt хешем
	ErrMalformedHash = errors.New("malformed bcrypt hash")
)

// hashCost - стоимость bcrypt для новых хешей
const hashCost = 12

// maxPasswordBytes - предел bcrypt на длину пароля
const maxPasswordBytes = 72

// HashPassword возвращает bcrypt хеш пароля. Соль генерируется
// заново при каждом вызове, два хеша одного пароля не совпадают.
func HashPassword(password string) (string, error) {
	if err := checkPassword(password); err != nil {
		return "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), hashCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword сверяет пароль с bcrypt хешем.
// Неподходящий пароль дает ErrHashMismatch, строка без bcrypt
// структуры - ErrMalformedHash.
func VerifyPassword(password, hash string) error {
	if err := checkPassword(password); err != nil {
		return err
	}
	if hash == "" {
		return ErrMalformedHash
	}

	switch err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrHashMismatch
	default:
		return ErrMalformedHash
	}
}

// PasswordMatches - форма VerifyPassword для условий
func PasswordMatches(password, hash string) bool {
	return VerifyPassword(password, hash) == nil
}

func checkPassword(password string) error {
	if password == "" {
		return ErrEmptyPassword
	}
	if len(password) > maxPasswordBytes {
		return ErrPasswordTooLong
	}
	return nil
}
