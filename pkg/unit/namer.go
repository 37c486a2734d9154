package unit

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Namer is a process-wide, per-parent-directory atomic counter that
// issues 16-hex-digit unit directory names, so that the F+C worker and
// the secondary-index creation job never collide when both create unit
// directories under the same parent concurrently.
type Namer struct {
	parent  string
	counter atomic.Uint64
}

var (
	namersMu sync.Mutex
	namers   = map[string]*Namer{}
)

// NamerFor returns the process-wide Namer for parent, creating it (and
// scanning parent for the highest existing numeric name) on first use.
func NamerFor(parent string) (*Namer, error) {
	namersMu.Lock()
	defer namersMu.Unlock()

	abs, err := filepath.Abs(parent)
	if err != nil {
		return nil, err
	}
	if n, ok := namers[abs]; ok {
		return n, nil
	}

	n := &Namer{parent: abs}
	if err := n.initFromDisk(); err != nil {
		return nil, err
	}
	namers[abs] = n
	return n, nil
}

// initFromDisk sets the counter to one past the maximum parsed numeric
// name already present, so a reopened database continues issuing
// unique names. An empty/missing parent seeds the counter with a
// UUID-derived salt so that two independently created empty databases
// never produce colliding names if their directories are later merged.
func (n *Namer) initFromDisk() error {
	entries, err := os.ReadDir(n.parent)
	if os.IsNotExist(err) {
		n.counter.Store(saltSeed())
		return nil
	}
	if err != nil {
		return err
	}

	var maxSeen uint64
	found := false
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		v, err := strconv.ParseUint(e.Name(), 16, 64)
		if err != nil {
			continue
		}
		found = true
		if v > maxSeen {
			maxSeen = v
		}
	}
	if !found {
		n.counter.Store(saltSeed())
		return nil
	}
	n.counter.Store(maxSeen + 1)
	return nil
}

// saltSeed derives a 64-bit seed from a fresh UUID so that empty
// databases started by different processes don't issue the same
// low-numbered unit names.
func saltSeed() uint64 {
	id := uuid.New()
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(id[i])
	}
	return v
}

// Next claims and returns the next unique 16-hex-digit name.
func (n *Namer) Next() string {
	v := n.counter.Add(1) - 1
	return fmt.Sprintf("%016x", v)
}

// Path returns the absolute path for a freshly claimed name under this
// namer's parent directory.
func (n *Namer) Path(name string) string {
	return filepath.Join(n.parent, name)
}
