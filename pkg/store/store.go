// Package store assembles the LSM tree, secondary-index catalog,
// flushing+compaction worker, and transaction runner into the one
// typed entry point external callers use (spec.md §6 "Typed API"):
// load_or_new, begin_transaction, create/delete_secondary_index, and
// terminate. The directory advisory-lock protecting a store against a
// second concurrent opener is grounded on the POSIX flock idiom shown
// in the retrieved Trillian Tessera storage code, adapted from
// syscall.Flock to the non-blocking, fail-fast form this module needs.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/coldfront/lsmkv/pkg/dbstate"
	"github.com/coldfront/lsmkv/pkg/fc"
	"github.com/coldfront/lsmkv/pkg/kv"
	"github.com/coldfront/lsmkv/pkg/logging"
	"github.com/coldfront/lsmkv/pkg/lsm"
	"github.com/coldfront/lsmkv/pkg/memlog"
	"github.com/coldfront/lsmkv/pkg/metrics"
	"github.com/coldfront/lsmkv/pkg/sicreate"
	"github.com/coldfront/lsmkv/pkg/txn"
)

const lockFileName = "LOCK"

// Options configures a Store, grounded on the teacher's
// Options/DefaultOptions(dir) config pattern.
type Options struct {
	// Dir is the database directory (spec.md §5 "Database directory").
	Dir string
	// Logger receives load, compaction, and SI-creation progress.
	// Defaults to logging.NopLogger if nil.
	Logger logging.Logger
	// Metrics receives counters/gauges for commits, conflicts,
	// compactions, and SI creations. Defaults to a fresh, unregistered
	// Registry if nil.
	Metrics *metrics.Registry
	// Codec decodes the raw key/value bytes of unit data files.
	// Defaults to memlog.RawCodec.
	Codec memlog.Codec
	// Extractor computes a PV's sub-value for a given secondary-index
	// spec. Required only if any secondary index is ever created.
	Extractor kv.SubValueExtractor
}

// DefaultOptions returns zero-value-safe defaults for a store rooted
// at dir.
func DefaultOptions(dir string) Options {
	return Options{
		Dir:     dir,
		Logger:  logging.NewNopLogger(),
		Metrics: metrics.NewRegistry(),
		Codec:   memlog.RawCodec{},
	}
}

// Store is a loaded database: the LSM tree, its secondary-index
// catalog, its background F+C worker, and the collaborators a
// transaction needs. One process may hold a Store open on a given
// directory at a time, enforced by an advisory lock file.
type Store struct {
	opts    Options
	lock    *os.File
	tree    *lsm.Tree
	dbstate *dbstate.State
	worker  *fc.Worker
	sijob   *sicreate.Job
	db      *txn.DB

	closeOnce sync.Once
}

// Open loads an existing store or creates a new one at opts.Dir,
// starting its F+C worker, per spec.md §4.5 "load_or_new".
func Open(opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRegistry()
	}
	if opts.Codec == nil {
		opts.Codec = memlog.RawCodec{}
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, err
	}

	lockF, err := acquireLock(opts.Dir)
	if err != nil {
		return nil, err
	}

	unitsDir := filepath.Join(opts.Dir, "units")
	stagingDir := filepath.Join(opts.Dir, "staging")
	siDir := filepath.Join(opts.Dir, "si-work")
	for _, d := range []string{unitsDir, stagingDir, siDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			lockF.Close()
			return nil, err
		}
	}

	lsmOpts := lsm.DefaultOptions(unitsDir)
	lsmOpts.Logger = opts.Logger
	tree, err := lsm.Load(lsmOpts, opts.Codec)
	if err != nil {
		lockF.Close()
		return nil, err
	}
	tree.State.SetMetrics(opts.Metrics)

	dbs, err := dbstate.Load(opts.Dir)
	if err != nil {
		lockF.Close()
		return nil, err
	}

	worker := fc.New(tree, opts.Codec, opts.Logger, opts.Metrics)
	worker.Start()

	sijob, err := sicreate.New(tree, worker, dbs, opts.Codec, opts.Extractor, siDir, opts.Logger, opts.Metrics)
	if err != nil {
		worker.Terminate()
		lockF.Close()
		return nil, err
	}

	db := &txn.DB{
		Tree:       tree,
		DBState:    dbs,
		Codec:      opts.Codec,
		Extractor:  opts.Extractor,
		StagingDir: stagingDir,
		Logger:     opts.Logger,
		Metrics:    opts.Metrics,
	}

	return &Store{
		opts:    opts,
		lock:    lockF,
		tree:    tree,
		dbstate: dbs,
		worker:  worker,
		sijob:   sijob,
		db:      db,
	}, nil
}

// acquireLock takes a non-blocking exclusive flock on dir/LOCK,
// failing fast (rather than waiting) if another process already holds
// it, since a second opener is a configuration error, not a
// transient condition worth retrying.
func acquireLock(dir string) (*os.File, error) {
	path := filepath.Join(dir, lockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("store: directory %s is already open by another process: %w", dir, err)
	}
	return f, nil
}

// RunTransaction runs fn as one SSI transaction against the store,
// retrying up to retryLimit times on conflict (spec.md §4.9).
func (s *Store) RunTransaction(retryLimit int, fn txn.ClientFunc) error {
	return txn.RunTransaction(s.db, retryLimit, fn)
}

// CreateSecondaryIndex runs the secondary-index creation protocol of
// spec.md §4.8 for spec, blocking until the index is readable.
func (s *Store) CreateSecondaryIndex(spec kv.SVSpec) error {
	return s.sijob.Create(spec)
}

// DeleteSecondaryIndex removes spec from the catalog, failing with
// coreerrors.ErrCreationInProgress if it isn't readable yet.
func (s *Store) DeleteSecondaryIndex(spec kv.SVSpec) error {
	return s.sijob.Delete(spec)
}

// Terminate stops accepting new transactions, waits for the F+C
// worker to finish its in-flight pass, and releases the directory
// lock. Transactions already in flight when Terminate is called are
// allowed to finish; RunTransaction calls starting afterward fail with
// coreerrors.ErrTerminating.
func (s *Store) Terminate() error {
	var err error
	s.closeOnce.Do(func() {
		s.dbstate.Terminate()
		s.worker.Terminate()
		if unlockErr := syscall.Flock(int(s.lock.Fd()), syscall.LOCK_UN); unlockErr != nil {
			err = unlockErr
		}
		if closeErr := s.lock.Close(); err == nil {
			err = closeErr
		}
	})
	return err
}
