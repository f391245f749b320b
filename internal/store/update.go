package store

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"
)

// updateSet accumulates "col = $N" fragments for partial updates.
type updateSet []string

// add appends col when v is a non-nil *string, *bool or *int.
func (u *updateSet) add(args *[]any, col string, v any) {
	switch p := v.(type) {
	case *string:
		if p == nil {
			return
		}
		*args = append(*args, *p)
	case *bool:
		if p == nil {
			return
		}
		*args = append(*args, *p)
	case *int:
		if p == nil {
			return
		}
		*args = append(*args, *p)
	default:
		return
	}
	*u = append(*u, col+" = $"+itoa(len(*args)))
}

func (u updateSet) join() string { return strings.Join(u, ", ") }

// applyUpdate writes sets plus updated_at to the row and reports sql.ErrNoRows
// when it does not exist.
func (c conn) applyUpdate(ctx context.Context, table string, id int64, sets updateSet, args []any) error {
	args = append(args, time.Now().UTC())
	sets = append(sets, "updated_at = $"+itoa(len(args)))
	args = append(args, id)
	res, err := c.exec(ctx, `update `+table+` set `+sets.join()+` where id = $`+itoa(len(args)), args...)
	ok, err := changed(res, err)
	if err != nil {
		return err
	}
	if !ok {
		return sql.ErrNoRows
	}
	return nil
}

func itoa(n int) string { return strconv.Itoa(n) }
