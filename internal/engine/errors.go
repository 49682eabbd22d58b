package engine

import (
	"fmt"

	"github.com/roach88/orq/internal/qerr"
)

// executionError wraps a store failure with the statement that failed.
// Bound values are never included.
func executionError(err error, code qerr.Code, execID, sql string) error {
	return qerr.Wrap(err, code, "statement failed",
		qerr.FieldSQL(sql),
		qerr.Field("execution_id", execID))
}

func wrongStatement(op string, isSelect bool) error {
	kind := "an update or delete"
	if isSelect {
		kind = "a select"
	}
	return qerr.Unsupported(fmt.Sprintf("%s on %s", op, kind))
}
