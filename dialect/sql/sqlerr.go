package sql

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	sqlite "modernc.org/sqlite"

	"github.com/syssam/loom"
)

// MySQL error numbers reporting integrity-constraint violations.
var mysqlConstraintNumbers = map[uint16]string{
	1062: "unique",
	1169: "unique",
	1216: "foreign key",
	1217: "foreign key",
	1451: "foreign key",
	1452: "foreign key",
	3819: "check",
}

// SQLITE_CONSTRAINT primary result code.
const sqliteConstraint = 19

// wrapConstraint classifies backend integrity violations into
// ConstraintErrors, leaving every other error untouched. errors.Is/As
// still reach the driver error through the wrap chain.
func wrapConstraint(err error) error {
	if err == nil {
		return nil
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		if kind, ok := mysqlConstraintNumbers[me.Number]; ok {
			return loom.NewConstraintError(fmt.Sprintf("%s constraint: %s", kind, me.Message), err)
		}
		return err
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		if pe.Code.Class() == "23" {
			return loom.NewConstraintError(fmt.Sprintf("%s: %s", pe.Code.Name(), pe.Message), err)
		}
		return err
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		if se.Code()&0xff == sqliteConstraint {
			return loom.NewConstraintError(se.Error(), err)
		}
		return err
	}
	return err
}
