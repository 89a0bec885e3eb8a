package app

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/MrWong99/voxkey/internal/server"
)

// ErrSessionLimit is returned by Admit when every slot is taken.
var ErrSessionLimit = errors.New("app: session limit reached")

// SessionManager tracks the recording sessions running on the server and
// caps how many may run at once. All exported methods are safe for
// concurrent use.
type SessionManager struct {
	mu     sync.Mutex
	limit  int
	active map[string]server.SessionInfo
}

var _ server.Admitter = (*SessionManager)(nil)

// NewSessionManager returns a manager admitting at most limit sessions. A
// limit of zero admits any number.
func NewSessionManager(limit int) *SessionManager {
	return &SessionManager{limit: limit, active: make(map[string]server.SessionInfo)}
}

// Admit registers info. The returned release function frees the slot and is
// safe to call more than once.
func (sm *SessionManager) Admit(info server.SessionInfo) (func(), error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, dup := sm.active[info.ID]; dup {
		return nil, fmt.Errorf("app: session %q is already active", info.ID)
	}
	if sm.limit > 0 && len(sm.active) >= sm.limit {
		return nil, fmt.Errorf("%w (%d active)", ErrSessionLimit, len(sm.active))
	}
	sm.active[info.ID] = info
	slog.Debug("session admitted", "session_id", info.ID, "flow", info.Flow, "mode", info.Mode, "active", len(sm.active))

	var once sync.Once
	return func() {
		once.Do(func() { sm.release(info.ID) })
	}, nil
}

func (sm *SessionManager) release(id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.active, id)
	slog.Debug("session released", "session_id", id, "active", len(sm.active))
}

// Count returns the number of active sessions.
func (sm *SessionManager) Count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.active)
}

// Sessions returns the active sessions, oldest first.
func (sm *SessionManager) Sessions() []server.SessionInfo {
	sm.mu.Lock()
	out := make([]server.SessionInfo, 0, len(sm.active))
	for _, info := range sm.active {
		out = append(out, info)
	}
	sm.mu.Unlock()

	slices.SortFunc(out, func(a, b server.SessionInfo) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}
