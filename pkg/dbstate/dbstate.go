// Package dbstate implements the secondary-index catalog and the
// is_terminating flag: the one other process-wide singleton besides
// the LSM state (spec.md §9 "Global state"). The catalog text format
// and rewrite-whole-file durability strategy are grounded on the
// teacher's config/debug-dump idiom (yaml.v3 side-channel), while the
// mandatory text format follows spec.md §6 exactly.
package dbstate

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/coldfront/lsmkv/pkg/coreerrors"
	"github.com/coldfront/lsmkv/pkg/kv"
	"gopkg.in/yaml.v3"
)

const CatalogFileName = "scnd_idxs_state.txt"
const DebugYAMLFileName = "scnd_idxs_state.debug.yaml"

// IndexEntry is one secondary index's catalog row.
type IndexEntry struct {
	Num        uint64
	Spec       kv.SVSpec
	IsReadable bool
}

// debugIndexEntry is the operator-facing YAML projection of IndexEntry.
type debugIndexEntry struct {
	Num        uint64 `yaml:"num"`
	Path       []int  `yaml:"path"`
	Type       string `yaml:"type"`
	IsReadable bool   `yaml:"readable"`
}

// State is the DB-state singleton: the secondary-index catalog plus
// the termination flag, guarded by one RWMutex (spec.md §5 "DB-state
// read/write lock").
type State struct {
	mu sync.RWMutex

	dir           string
	nextIndexNum  uint64
	indexes       map[string]*IndexEntry // keyed by SVSpec.Key()
	isTerminating bool
}

// Load reads the catalog from dir (creating an empty one if absent).
// Per spec.md §4.8, any index left defined-but-not-readable aborts
// startup asking the operator to clean it up.
func Load(dir string) (*State, error) {
	s := &State{dir: dir, nextIndexNum: 1, indexes: map[string]*IndexEntry{}}

	path := filepath.Join(dir, CatalogFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	lines := strings.Split(string(data), "\n")
	if len(lines) == 0 {
		return s, nil
	}
	next, err := strconv.ParseUint(strings.TrimSpace(lines[0]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("dbstate: corrupt catalog header: %w", err)
	}
	s.nextIndexNum = next

	i := 1
	for i < len(lines) {
		specLine := lines[i]
		if strings.TrimSpace(specLine) == "" {
			i++
			continue
		}
		i++
		if i >= len(lines) {
			return nil, fmt.Errorf("dbstate: truncated catalog entry")
		}
		flagLine := strings.TrimSpace(lines[i])
		i++

		spec, err := parseSpecLine(specLine)
		if err != nil {
			return nil, err
		}
		parts := strings.SplitN(flagLine, ",", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("dbstate: corrupt catalog flag line %q", flagLine)
		}
		num, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			return nil, err
		}
		readable := parts[1] == "T"
		if !readable {
			return nil, fmt.Errorf("dbstate: secondary index %d left defined-but-not-readable; operator cleanup required", num)
		}
		entry := &IndexEntry{Num: num, Spec: spec, IsReadable: readable}
		s.indexes[spec.Key()] = entry
	}
	return s, nil
}

func parseSpecLine(line string) (kv.SVSpec, error) {
	line = strings.TrimSpace(line)
	parts := strings.SplitN(line, "|", 2)
	if len(parts) != 2 {
		return kv.SVSpec{}, fmt.Errorf("dbstate: corrupt spec line %q", line)
	}
	var path []int
	if parts[0] != "" {
		for _, seg := range strings.Split(parts[0], ".") {
			v, err := strconv.Atoi(seg)
			if err != nil {
				return kv.SVSpec{}, err
			}
			path = append(path, v)
		}
	}
	return kv.SVSpec{Path: path, ExpectedType: parts[1]}, nil
}

func formatSpecLine(spec kv.SVSpec) string {
	segs := make([]string, len(spec.Path))
	for i, p := range spec.Path {
		segs[i] = strconv.Itoa(p)
	}
	return strings.Join(segs, ".") + "|" + spec.ExpectedType
}

// Find returns the catalog entry for spec, if any (read-locked).
func (s *State) Find(spec kv.SVSpec) (*IndexEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.indexes[spec.Key()]
	return e, ok
}

// AllReadable returns every currently readable secondary index, used
// by a transaction's put path to compute secondary-index deltas for
// every readable index; indexes still being created are not included
// (read-locked).
func (s *State) AllReadable() []*IndexEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*IndexEntry, 0, len(s.indexes))
	for _, e := range s.indexes {
		if e.IsReadable {
			out = append(out, e)
		}
	}
	return out
}

// IsTerminating reports the termination flag (read-locked).
func (s *State) IsTerminating() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isTerminating
}

// Terminate sets the termination flag; new transactions observe it and
// refuse to start.
func (s *State) Terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isTerminating = true
}

// BeginCreate performs steps 1-2 of spec.md §4.8 under the write lock:
// fail fast if spec already exists, otherwise insert it as
// defined-but-not-readable with a freshly assigned index number.
func (s *State) BeginCreate(spec kv.SVSpec) (num uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.indexes[spec.Key()]; ok {
		return 0, &coreerrors.AlreadyExistsError{IsReadable: e.IsReadable}
	}
	num = s.nextIndexNum
	s.nextIndexNum++
	s.indexes[spec.Key()] = &IndexEntry{Num: num, Spec: spec, IsReadable: false}
	if err := s.persistLocked(); err != nil {
		return 0, err
	}
	return num, nil
}

// MarkReadable completes step 7 of spec.md §4.8.
func (s *State) MarkReadable(spec kv.SVSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.indexes[spec.Key()]
	if !ok {
		return fmt.Errorf("dbstate: mark-readable: %w", coreerrors.ErrUnitNotFound)
	}
	e.IsReadable = true
	return s.persistLocked()
}

// Delete removes spec from the catalog. Returns CreationInProgress if
// the index is not yet readable (creation still running).
func (s *State) Delete(spec kv.SVSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.indexes[spec.Key()]
	if !ok {
		return nil
	}
	if !e.IsReadable {
		return coreerrors.ErrCreationInProgress
	}
	delete(s.indexes, spec.Key())
	return s.persistLocked()
}

// persistLocked rewrites the catalog text file whole, then a
// best-effort debug YAML companion. Caller must hold mu (write).
// Durability relies on the OS's atomic rename of a temp file rather
// than a write-through open (resolving spec.md §9's open question in
// favor of the explicit rename-temp-file protocol).
func (s *State) persistLocked() error {
	var b strings.Builder
	fmt.Fprintf(&b, "%d\n", s.nextIndexNum)
	for _, e := range s.indexes {
		b.WriteString(formatSpecLine(e.Spec))
		b.WriteByte('\n')
		flag := "F"
		if e.IsReadable {
			flag = "T"
		}
		fmt.Fprintf(&b, "%d,%s\n", e.Num, flag)
	}

	path := filepath.Join(s.dir, CatalogFileName)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if _, err := w.WriteString(b.String()); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}

	s.writeDebugYAML()
	return nil
}

// writeDebugYAML writes an operator-facing snapshot of the catalog on
// every mutation. Never read back by this package; purely for
// inspection, grounded on the teacher's yaml.v3 config/debug-dump use.
func (s *State) writeDebugYAML() {
	entries := make([]debugIndexEntry, 0, len(s.indexes))
	for _, e := range s.indexes {
		entries = append(entries, debugIndexEntry{
			Num: e.Num, Path: e.Spec.Path, Type: e.Spec.ExpectedType, IsReadable: e.IsReadable,
		})
	}
	data, err := yaml.Marshal(entries)
	if err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(s.dir, DebugYAMLFileName), data, 0644)
}
