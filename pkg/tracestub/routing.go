package tracestub

import (
	"sort"
	"sync"
)

// router indexes subscriptions both ways so that publishing is a lookup
// by account and disconnecting is a lookup by peer.
type router struct {
	mu        sync.RWMutex
	byAccount map[string]map[string]struct{}
	byPeer    map[string]map[string]struct{}
}

func newRouter() *router {
	return &router{
		byAccount: make(map[string]map[string]struct{}),
		byPeer:    make(map[string]map[string]struct{}),
	}
}

// subscribe adds accounts to peerID's set and returns how many were new.
func (r *router) subscribe(peerID string, accounts []string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	owned := r.byPeer[peerID]
	if owned == nil {
		owned = make(map[string]struct{})
		r.byPeer[peerID] = owned
	}

	added := 0
	for _, account := range accounts {
		if _, ok := owned[account]; ok {
			continue
		}
		owned[account] = struct{}{}
		peers := r.byAccount[account]
		if peers == nil {
			peers = make(map[string]struct{})
			r.byAccount[account] = peers
		}
		peers[peerID] = struct{}{}
		added++
	}
	return added
}

// drop forgets every subscription of peerID.
func (r *router) drop(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for account := range r.byPeer[peerID] {
		peers := r.byAccount[account]
		delete(peers, peerID)
		if len(peers) == 0 {
			delete(r.byAccount, account)
		}
	}
	delete(r.byPeer, peerID)
}

// targets returns the peers subscribed to at least one of accounts, each
// once, in sorted order.
func (r *router) targets(accounts []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, account := range accounts {
		for peerID := range r.byAccount[account] {
			seen[peerID] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for peerID := range seen {
		out = append(out, peerID)
	}
	sort.Strings(out)
	return out
}

// accounts returns the sorted accounts peerID is subscribed to.
func (r *router) accounts(peerID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byPeer[peerID]))
	for account := range r.byPeer[peerID] {
		out = append(out, account)
	}
	sort.Strings(out)
	return out
}
