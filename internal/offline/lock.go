package offline

import (
	"fmt"

	"github.com/gofrs/flock"

	"github.com/weftgraph/weft/internal/werr"
)

// crossTabLock is the server-process counterpart of the original's named
// inter-tab lock (window.navigator().locks()): only one worker run may
// mirror the offline tree at a time. A browser's Web Locks API has no OS
// process boundary to guard, so the original locks by name within one
// page's JS runtime; here the same exclusion is enforced across OS
// processes via flock, grounded on cmd/bd/sync.go's TryLock guard exactly
// as gc's singleInstanceLock is.
type crossTabLock struct {
	lock *flock.Flock
}

func newCrossTabLock(path string) *crossTabLock {
	return &crossTabLock{lock: flock.New(path)}
}

// TryLock acquires the lock without blocking.
func (l *crossTabLock) TryLock() (bool, error) {
	locked, err := l.lock.TryLock()
	if err != nil {
		return false, werr.Transient(fmt.Errorf("acquiring offline worker lock: %w", err))
	}
	return locked, nil
}

func (l *crossTabLock) Unlock() error {
	return l.lock.Unlock()
}
