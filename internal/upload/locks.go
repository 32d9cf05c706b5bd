package upload

import "sync"

// cameraLocks hands out one mutex per camera id and frees it when the last
// holder unlocks.
type cameraLocks struct {
	mu    sync.Mutex
	locks map[string]*cameraLock
}

type cameraLock struct {
	mu   sync.Mutex
	refs int
}

func newCameraLocks() *cameraLocks {
	return &cameraLocks{locks: make(map[string]*cameraLock)}
}

func (l *cameraLocks) lock(cameraID string) func() {
	l.mu.Lock()
	cl, ok := l.locks[cameraID]
	if !ok {
		cl = &cameraLock{}
		l.locks[cameraID] = cl
	}
	cl.refs++
	l.mu.Unlock()

	cl.mu.Lock()
	return func() {
		cl.mu.Unlock()
		l.mu.Lock()
		cl.refs--
		if cl.refs == 0 {
			delete(l.locks, cameraID)
		}
		l.mu.Unlock()
	}
}

func (l *cameraLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
