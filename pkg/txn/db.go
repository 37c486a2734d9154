// Package txn implements serializable snapshot-isolated multi-statement
// transactions over an lsm.Tree (spec.md §4.9): begin/read/write/
// commit-attempt/conflict-test/retry-close, driven by RunTransaction.
package txn

import (
	"errors"

	"github.com/coldfront/lsmkv/pkg/coreerrors"
	"github.com/coldfront/lsmkv/pkg/dbstate"
	"github.com/coldfront/lsmkv/pkg/kv"
	"github.com/coldfront/lsmkv/pkg/logging"
	"github.com/coldfront/lsmkv/pkg/lsm"
	"github.com/coldfront/lsmkv/pkg/memlog"
	"github.com/coldfront/lsmkv/pkg/metrics"
	"github.com/coldfront/lsmkv/pkg/unit"
)

// DB bundles the collaborators a transaction needs: the LSM tree it
// reads and commits against, the secondary-index catalog, the
// key/value codec, and the per-transaction staging directory parent.
type DB struct {
	Tree       *lsm.Tree
	DBState    *dbstate.State
	Codec      memlog.Codec
	Extractor  kv.SubValueExtractor
	StagingDir string
	Logger     logging.Logger
	Metrics    *metrics.Registry
}

// Outcome is what a transaction's user closure decided.
type Outcome int

const (
	Commit Outcome = iota
	Abort
)

// ClientFunc is the user-supplied transaction body. It returns the
// intended outcome (Commit or Abort) and an error; a non-nil error
// always aborts regardless of the requested outcome.
type ClientFunc func(t *Txn) (Outcome, error)

// ErrRetryExhausted is returned when a transaction loses every attempt
// within its retry limit to a conflict.
var ErrRetryExhausted = errors.New("txn: retry limit exhausted")

// RunTransaction begins a transaction, runs fn, and on Conflict retries
// up to retryLimit additional times (so retryLimit=0 means exactly one
// attempt), per spec.md §4.9 "Retry and close".
func RunTransaction(db *DB, retryLimit int, fn ClientFunc) error {
	if db.DBState.IsTerminating() {
		return coreerrors.ErrTerminating
	}

	attempt := 0
	for {
		t := beginTxn(db)
		outcome, ferr := fn(t)
		if ferr != nil {
			t.closeAbort()
			return ferr
		}
		if outcome == Abort {
			t.closeAbort()
			return nil
		}

		err := t.commitAttempt()
		if err == nil {
			return nil
		}
		if !coreerrors.IsConflict(err) {
			t.closeAbort()
			return err
		}
		t.closeAbort()
		if attempt >= retryLimit {
			return ErrRetryExhausted
		}
		attempt++
		if db.Metrics != nil {
			db.Metrics.RecordRetry()
		}
	}
}

// newStagingUnit creates a fresh staging unit directory for a
// transaction attempt under db.StagingDir.
func newStagingUnit(db *DB) (*unit.Unit, error) {
	namer, err := unit.NamerFor(db.StagingDir)
	if err != nil {
		return nil, err
	}
	return unit.NewStaging(namer.Path(namer.Next()))
}
