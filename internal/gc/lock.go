package gc

import (
	"fmt"

	"github.com/gofrs/flock"

	"github.com/weftgraph/weft/internal/werr"
)

// gcBatchSize bounds how many blobs or generated-file hashes phases.go
// batches per existence-check round trip against the graph store.
const gcBatchSize = 1000

// singleInstanceLock keeps two GC runs from interleaving phases — weftd's
// periodic run racing a manual `weft gc` invocation, or two operators
// running the CLI at once. It does not coordinate with the derivation
// worker. Grounded on cmd/bd/sync.go's
// flock.TryLock guard around concurrent sync runs.
type singleInstanceLock struct {
	lock *flock.Flock
}

func newSingleInstanceLock(path string) *singleInstanceLock {
	return &singleInstanceLock{lock: flock.New(path)}
}

// TryLock acquires the lock without blocking, returning false if another
// holder already has it.
func (l *singleInstanceLock) TryLock() (bool, error) {
	locked, err := l.lock.TryLock()
	if err != nil {
		return false, werr.Transient(fmt.Errorf("acquiring gc lock: %w", err))
	}
	return locked, nil
}

func (l *singleInstanceLock) Unlock() error {
	return l.lock.Unlock()
}
