package store

import (
	"errors"

	"github.com/mattn/go-sqlite3"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// IsUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint failure from either supported driver.
func IsUniqueViolation(err error) bool {
	var mattnErr sqlite3.Error
	if errors.As(err, &mattnErr) {
		return mattnErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			mattnErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	var moderncErr *sqlite.Error
	if errors.As(err, &moderncErr) {
		code := moderncErr.Code()
		return code == sqlitelib.SQLITE_CONSTRAINT_UNIQUE || code == sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// IsForeignKeyViolation reports whether err is a FOREIGN KEY failure. Inside
// a merge this means some dependent row still names the retired recipient.
func IsForeignKeyViolation(err error) bool {
	var mattnErr sqlite3.Error
	if errors.As(err, &mattnErr) {
		return mattnErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}

	var moderncErr *sqlite.Error
	if errors.As(err, &moderncErr) {
		return moderncErr.Code() == sqlitelib.SQLITE_CONSTRAINT_FOREIGNKEY
	}
	return false
}
