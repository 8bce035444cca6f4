package detector

import (
	"sync"

	"github.com/M3R1ttt/nof1-tracker/internal/types"
)

// SessionState holds the previous snapshot per agent for the lifetime of a
// following session. It is an explicit object owned by the polling loop,
// never persisted: a restart starts from a clean baseline.
//
// State advances after every completed diff, even when execution of some
// plans failed, so replays are idempotent against the latest observed
// snapshot.
type SessionState struct {
	mu       sync.RWMutex
	previous map[string]*types.AgentSnapshot
}

// NewSessionState creates empty session state.
func NewSessionState() *SessionState {
	return &SessionState{
		previous: make(map[string]*types.AgentSnapshot),
	}
}

// Previous returns the retained snapshot for an agent, or nil if the agent
// has never completed a poll.
func (s *SessionState) Previous(agentID string) *types.AgentSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.previous[agentID]
}

// Advance replaces the retained snapshot for an agent.
func (s *SessionState) Advance(snap types.AgentSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.previous[snap.AgentID] = &snap
}

// Forget drops the retained snapshot for an agent.
func (s *SessionState) Forget(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.previous, agentID)
}

// Agents returns the number of agents with retained state.
func (s *SessionState) Agents() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.previous)
}
