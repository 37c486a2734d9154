package lsm

import (
	"container/heap"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/coldfront/lsmkv/pkg/entryset"
	"github.com/coldfront/lsmkv/pkg/logging"
	"github.com/coldfront/lsmkv/pkg/memlog"
	"github.com/coldfront/lsmkv/pkg/sstable"
	"github.com/coldfront/lsmkv/pkg/unit"
)

type candidateUnit struct {
	dir string
	ci  unit.CommitInfo
	u   *unit.Unit
}

// candidateHeap orders candidates desc by (cv_high_inclusive,
// replacement_number), the recovery ordering of spec.md §3/§4.5.
type candidateHeap []*candidateUnit

func (h candidateHeap) Len() int { return len(h) }
func (h candidateHeap) Less(i, j int) bool {
	if h[i].ci.CVHighInclusive != h[j].ci.CVHighInclusive {
		return h[i].ci.CVHighInclusive > h[j].ci.CVHighInclusive
	}
	return h[i].ci.ReplacementNum > h[j].ci.ReplacementNum
}
func (h candidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)   { *h = append(*h, x.(*candidateUnit)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Tree is a loaded LSM: its mutex-guarded State plus the directory and
// namer used to create new units. Tree is the "LSM assembly" of
// spec.md §4.5, analogous in role to the teacher's LSMStorage.
type Tree struct {
	Opts  Options
	State *State
	Namer *unit.Namer
	Codec memlog.Codec
}

// Load scans opts.Dir, reconstructs the list of accepted units
// newest-first, and evicts stale overlaps, per spec.md §4.5 and the
// unit-lifecycle rules of §3. codec decodes the raw key/value bytes of
// each unit's data files.
func Load(opts Options, codec memlog.Codec) (*Tree, error) {
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if codec == nil {
		codec = memlog.RawCodec{}
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, err
	}
	namer, err := unit.NamerFor(opts.Dir)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(opts.Dir)
	if err != nil {
		return nil, err
	}

	h := candidateHeap{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(opts.Dir, e.Name())
		ci, err := unit.ReadCommitInfo(dir)
		if err != nil {
			opts.Logger.Warn("skipping unit with unparseable commit-info",
				logging.String("dir", dir), logging.Error(err))
			continue
		}
		if ok, err := unit.VerifyDigest(dir); err != nil || !ok {
			opts.Logger.Warn("skipping unit that failed digest verification",
				logging.String("dir", dir))
			continue
		}
		u, err := buildUnit(dir, ci, codec)
		if err != nil {
			opts.Logger.Warn("skipping unit with unreadable data",
				logging.String("dir", dir), logging.Error(err))
			continue
		}
		heap.Push(&h, &candidateUnit{dir: dir, ci: ci, u: u})
	}
	heap.Init(&h)

	var accepted []*candidateUnit
	var acceptedLow uint64
	haveAccepted := false
	for h.Len() > 0 {
		c := heap.Pop(&h).(*candidateUnit)
		if haveAccepted && c.ci.CVHighInclusive >= acceptedLow {
			opts.Logger.Warn("evicting stale overlapping unit",
				logging.String("dir", c.dir), logging.CommitVersion(c.ci.CVHighInclusive))
			if err := os.RemoveAll(c.dir); err != nil {
				return nil, err
			}
			continue
		}
		accepted = append(accepted, c)
		acceptedLow = c.ci.CVLowInclusive
		haveAccepted = true
	}

	// accepted is currently newest-first (heap pop order); chain nodes
	// oldest-first so the newest node ends up at head.
	var prev *Node
	for i := len(accepted) - 1; i >= 0; i-- {
		n := NewUnitNode(accepted[i].u)
		n.setOlder(prev)
		prev = n
	}

	state := NewState(opts.Logger, nil)
	state.head = prev
	if haveAccepted {
		state.currCommitVersion = accepted[0].ci.CVHighInclusive + 1
	} else {
		state.currCommitVersion = 1
	}

	return &Tree{Opts: opts, State: state, Namer: namer, Codec: codec}, nil
}

// buildUnit reconstructs a Committed unit's primary/secondary
// entry-sets from the data files in dir, dispatching on ci.DataType.
func buildUnit(dir string, ci unit.CommitInfo, codec memlog.Codec) (*unit.Unit, error) {
	u := &unit.Unit{
		Dir:         dir,
		Stage:       unit.Committed,
		CommitInfo:  ci,
		Secondaries: map[uint64]entryset.EntrySet{},
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		name := e.Name()
		switch {
		case name == unit.PrimaryFileName:
			es, err := loadEntrySet(dir, name, ci.DataType, codec)
			if err != nil {
				return nil, err
			}
			u.Primary = es
		case strings.HasPrefix(name, "scnd-"):
			idxHex := strings.TrimPrefix(name, "scnd-")
			num, err := strconv.ParseUint(idxHex, 16, 64)
			if err != nil {
				continue
			}
			es, err := loadEntrySet(dir, name, ci.DataType, codec)
			if err != nil {
				return nil, err
			}
			u.Secondaries[num] = es
		}
	}
	return u, nil
}

func loadEntrySet(dir, filename string, dt unit.DataType, codec memlog.Codec) (entryset.EntrySet, error) {
	switch dt {
	case unit.DataTypeMemLog:
		return memlog.LoadReadonly(dir, filename, codec)
	case unit.DataTypeSSTable:
		return sstable.Load(filepath.Join(dir, filename), codec)
	default:
		return nil, os.ErrInvalid
	}
}
