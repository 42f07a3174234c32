package common

import (
	"context"
	"sync"

	"rwastaking/crypto"
)

// AdminSet authorizes a fixed list of accounts for admin-only actions.
type AdminSet struct {
	mu     sync.RWMutex
	admins map[crypto.Address]struct{}
}

func NewAdminSet(admins ...crypto.Address) *AdminSet {
	set := &AdminSet{admins: make(map[crypto.Address]struct{}, len(admins))}
	for _, admin := range admins {
		if !admin.IsZero() {
			set.admins[admin] = struct{}{}
		}
	}
	return set
}

// IsAuthorized reports whether caller is an admin.
func (s *AdminSet) IsAuthorized(_ context.Context, caller crypto.Address) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.admins[caller]
	return ok
}

// Len reports the number of admins.
func (s *AdminSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.admins)
}
