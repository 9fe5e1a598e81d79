// Package pipeline runs the message monitor and reply processor loops.
package pipeline

import (
	"sort"
	"sync"

	"github.com/hrygo/replybridge/plugin/wechat"
)

// ConnState is the process-level connection state.
type ConnState string

const (
	ConnDisconnected ConnState = "disconnected"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
)

// DefaultTenant partitions data when the account exposes no identity.
const DefaultTenant = "default_user"

// TenantOf resolves the tenant key for an identity: the account id, then the nickname.
func TenantOf(id *wechat.Identity) string {
	if id == nil {
		return DefaultTenant
	}
	if id.AccountID != "" {
		return id.AccountID
	}
	if id.Valid() {
		return id.Nickname
	}
	return DefaultTenant
}

// ContactState is the in-memory monitoring entry of one conversation.
type ContactState struct {
	AutoReply bool
	Active    bool
}

// State is the shared connection and monitoring state. Every mutation happens
// under one lock; loops read snapshots.
type State struct {
	mu        sync.RWMutex
	conn      ConnState
	client    wechat.Client
	identity  *wechat.Identity
	sessionID string
	contacts  map[string]ContactState

	// fallbackTenant replaces DefaultTenant while no identity is known.
	fallbackTenant string
}

// NewState returns a disconnected state with no monitored conversations.
func NewState() *State {
	return &State{
		conn:     ConnDisconnected,
		contacts: make(map[string]ContactState),
	}
}

// Conn returns the connection state.
func (s *State) Conn() ConnState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// BeginConnect moves disconnected to connecting. It reports false when a
// connection is already established or in progress.
func (s *State) BeginConnect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != ConnDisconnected {
		return false
	}
	s.conn = ConnConnecting
	return true
}

// SetConnected installs the client and identity of a new connection.
func (s *State) SetConnected(client wechat.Client, identity *wechat.Identity, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = ConnConnected
	s.client = client
	s.identity = identity
	s.sessionID = sessionID
}

// SetDisconnected drops the client and cached identity and returns the
// previous client so the caller can close it outside the lock.
func (s *State) SetDisconnected() wechat.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.client
	s.conn = ConnDisconnected
	s.client = nil
	s.identity = nil
	s.sessionID = ""
	return prev
}

// Client returns the connected client or nil.
func (s *State) Client() wechat.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn != ConnConnected {
		return nil
	}
	return s.client
}

// Identity returns a copy of the cached identity or nil.
func (s *State) Identity() *wechat.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return nil
	}
	id := *s.identity
	return &id
}

// Tenant returns the tenant key of the current account.
func (s *State) Tenant() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := TenantOf(s.identity)
	if t == DefaultTenant && s.fallbackTenant != "" {
		return s.fallbackTenant
	}
	return t
}

// PinTenant sets the tenant used until an identity is known.
func (s *State) PinTenant(tenant string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallbackTenant = tenant
}

// SessionID returns the id of the current connection.
func (s *State) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// AddContact starts watching name.
func (s *State) AddContact(name string, autoReply bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[name] = ContactState{AutoReply: autoReply, Active: true}
}

// RemoveContact stops watching name and returns how many conversations remain.
func (s *State) RemoveContact(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contacts, name)
	return len(s.contacts)
}

// ReplaceContacts swaps the whole monitoring map, used when restoring from the store.
func (s *State) ReplaceContacts(contacts map[string]ContactState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts = make(map[string]ContactState, len(contacts))
	for k, v := range contacts {
		s.contacts[k] = v
	}
}

// SetAllAutoReply updates the auto-reply flag of every watched conversation.
func (s *State) SetAllAutoReply(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, c := range s.contacts {
		c.AutoReply = enabled
		s.contacts[name] = c
	}
}

// IsMonitored reports whether name is watched.
func (s *State) IsMonitored(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.contacts[name]
	return ok
}

// Contacts returns a snapshot of the monitoring map.
func (s *State) Contacts() map[string]ContactState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ContactState, len(s.contacts))
	for k, v := range s.contacts {
		out[k] = v
	}
	return out
}

// MonitoredNames returns the watched conversation names in sorted order.
func (s *State) MonitoredNames() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.contacts))
	for k := range s.contacts {
		names = append(names, k)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names
}

// MonitoredCount returns the number of watched conversations.
func (s *State) MonitoredCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contacts)
}
