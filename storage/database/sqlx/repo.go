package sqlxrepos

import (
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/iroils/evalapp/core"
)

// getExec returns the executor provided by the service (a *sqlx.Tx), or the repository's DB.
func getExec(db *sqlx.DB, svcExec []core.DBExecutor) sqlx.ExtContext {
	if len(svcExec) > 0 {
		if ext, ok := svcExec[0].(sqlx.ExtContext); ok {
			return ext
		}
	}
	return db
}

func orderBy(ordering []core.DBOrdering) string {
	if len(ordering) == 0 {
		return ""
	}
	orderList := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		orderList = append(orderList, ord.String())
	}
	return " ORDER BY " + strings.Join(orderList, ", ")
}

// whereClause accumulates AND conditions with their positional arguments.
type whereClause struct {
	conds []string
	args  []interface{}
}

// arg adds a positional argument and returns its placeholder.
func (w *whereClause) arg(v interface{}) string {
	w.args = append(w.args, v)
	return "$" + strconv.Itoa(len(w.args))
}

func (w *whereClause) add(cond string) {
	w.conds = append(w.conds, cond)
}

func (w whereClause) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}
