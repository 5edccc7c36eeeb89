// Package repository holds the SQL data access layer. Repositories speak
// plain database/sql with '?' placeholders so the same queries run against
// MySQL in production and SQLite in tests.
//
// The sentinel values below let higher layers distinguish failure
// scenarios without inspecting driver errors.
package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a lookup matches no row. Services translate
// it into their own domain errors.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert or update violates a unique key,
// such as a taken username or a colliding token hash. Handlers translate
// this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")

// mysqlDuplicateEntry is the MySQL server error number for ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

// isDuplicate reports whether err is a unique-key violation.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlDuplicateEntry
	}
	// sqlite3 reports constraint violations only through the message
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// uniqueViolationOn reports whether a duplicate error hit the unique key on
// table.column. MySQL keys are expected to be named uq_<table>_<column>.
func uniqueViolationOn(err error, table, column string) bool {
	if !isDuplicate(err) {
		return false
	}
	switch violatedKey(err) {
	case "uq_" + table + "_" + column, table + "." + column:
		return true
	}
	return false
}

// violatedKey extracts the key a duplicate error names: "uq_users_email"
// from MySQL, "users.email" from sqlite3. The duplicated value is never
// looked at since it may contain anything.
func violatedKey(err error) string {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		const marker = "for key "
		i := strings.LastIndex(me.Message, marker)
		if i < 0 {
			return ""
		}
		key := strings.Trim(me.Message[i+len(marker):], "'`\" ")
		// MySQL 8.0.19+ qualifies the key with the table name
		if j := strings.LastIndexByte(key, '.'); j >= 0 {
			key = key[j+1:]
		}
		return key
	}
	const marker = "UNIQUE constraint failed: "
	msg := err.Error()
	i := strings.Index(msg, marker)
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(msg[i+len(marker):])
}
