package store

import (
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
)

// MySQL server error numbers that mean the record itself or the schema is
// wrong. Resending the same row cannot succeed.
var mysqlPermanent = map[uint16]bool{
	1048: true, // column cannot be null
	1054: true, // unknown column
	1062: true, // duplicate entry
	1136: true, // column count doesn't match value count
	1146: true, // table doesn't exist
	1264: true, // out of range value
	1292: true, // truncated incorrect value
	1366: true, // incorrect integer value
	1406: true, // data too long
	1451: true, // foreign key: parent row
	1452: true, // foreign key: child row
	3819: true, // check constraint violated
}

var sqlitePermanent = map[sqlite3.ErrNo]bool{
	sqlite3.ErrError:      true, // SQL logic error: no such table or column
	sqlite3.ErrConstraint: true,
	sqlite3.ErrMismatch:   true,
	sqlite3.ErrTooBig:     true,
	sqlite3.ErrRange:      true,
	sqlite3.ErrReadonly:   true,
}

// classifySQL sorts a driver error into Transient or Permanent. Anything not
// recognised as a record or schema problem is Transient: a reconnect is cheap.
func classifySQL(err error) Kind {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		if mysqlPermanent[me.Number] {
			return Permanent
		}
		return Transient
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		if sqlitePermanent[se.Code] {
			return Permanent
		}
		return Transient
	}
	return Transient
}
