package utils

import (
	"errors"

	mysqlDriver "github.com/go-sql-driver/mysql"
)

var (
	ErrorRecordNotFound = errors.New("record not found")
	ErrorDuplicate      = errors.New("duplicate")
)

type notFoundError struct {
	what string
}

func (e *notFoundError) Error() string {
	return e.what + " not found"
}

func (e *notFoundError) Is(target error) bool {
	return target == ErrorRecordNotFound
}

// NotFound names the missing record; errors.Is matches it against
// ErrorRecordNotFound.
func NotFound(what string) error {
	return &notFoundError{what: what}
}

// IsDuplicateKeyErr reports a unique index violation from MySQL, e.g. two
// concurrent requests creating the same budget version.
func IsDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
