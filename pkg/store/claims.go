package store

import (
	"context"
	"fmt"

	"github.com/mahaj/chatrelay/pkg/logging"
)

// claim is a uniqueness row in one of the *_by_* lookup tables.
type claim struct {
	table string
	key   string
	owner string
	value string
	id    string
}

func (c claim) insertStmt() string {
	return fmt.Sprintf(`INSERT INTO %s (%s, %s) VALUES (?, ?) IF NOT EXISTS`, c.table, c.key, c.owner)
}

// releaseStmt only removes the row while id still owns it.
func (c claim) releaseStmt() string {
	return fmt.Sprintf(`DELETE FROM %s WHERE %s = ? IF %s = ?`, c.table, c.key, c.owner)
}

type casRunner interface {
	cas(ctx context.Context, stmt string, args ...any) (bool, error)
	exec(ctx context.Context, stmt string, args ...any) error
}

// claimAll takes every claim in order and then runs write. When a claim is
// lost, errors, or write fails, the claims already taken are released.
func claimAll(ctx context.Context, r casRunner, claims []claim, write func() error) error {
	var taken []claim
	release := func() {
		rctx := context.WithoutCancel(ctx)
		for _, c := range taken {
			if err := r.exec(rctx, c.releaseStmt(), c.value, c.id); err != nil {
				logging.Warn().Err(err).Str("table", c.table).Str("key", c.value).Msg("release claim failed")
			}
		}
	}

	for _, c := range claims {
		ok, err := r.cas(ctx, c.insertStmt(), c.value, c.id)
		if err != nil {
			release()
			return fmt.Errorf("claim %s: %w", c.key, err)
		}
		if !ok {
			release()
			return ErrConflict
		}
		taken = append(taken, c)
	}
	if err := write(); err != nil {
		release()
		return err
	}
	return nil
}
