// Package peerstore holds the in-memory per-info-hash peer sets backing
// get_peers responses and structural announce_peer writes. It is not a
// tracker: there is no cross-node replication, no payload, and no write
// validation beyond what a get_peers token already provides.
package peerstore

import (
	"net"
	"sync"
	"time"

	"github.com/prxssh/dhtnode/internal/krpc"
)

const (
	// MaxPeersPerHash bounds how many peers a single info hash can
	// accumulate before the oldest entries are evicted.
	MaxPeersPerHash = 2000
	// MaxHashes bounds how many distinct info hashes are tracked.
	MaxHashes = 10000
	// Expiration is how long an announced peer is considered live.
	Expiration = 2 * time.Hour
)

type peerEntry struct {
	addr     [6]byte
	lastSeen time.Time
}

type hashEntry struct {
	peers    map[[6]byte]*peerEntry
	lastUsed time.Time
}

// Store is a bounded, TTL-expiring map of info_hash -> set of compact peer
// endpoints. It is safe for concurrent use, though the facade only ever
// touches it from its single event loop; the lock exists so callers outside
// the loop (tests, a future admin endpoint) can read it safely too.
type Store struct {
	mu   sync.Mutex
	data map[krpc.NodeID]*hashEntry
}

// New returns an empty peer store.
func New() *Store {
	return &Store{data: make(map[krpc.NodeID]*hashEntry)}
}

// Store records that ip:port is serving infoHash.
func (s *Store) Store(infoHash krpc.NodeID, ip net.IP, port int, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.data[infoHash]
	if !ok {
		if len(s.data) >= MaxHashes {
			s.evictOldestHashLocked()
		}
		h = &hashEntry{peers: make(map[[6]byte]*peerEntry)}
		s.data[infoHash] = h
	}
	h.lastUsed = now

	addr, err := krpc.CompactAddr(ip, port)
	if err != nil {
		return
	}
	var key [6]byte
	copy(key[:], addr)

	if len(h.peers) >= MaxPeersPerHash {
		s.evictOldestPeerLocked(h)
	}
	h.peers[key] = &peerEntry{addr: key, lastSeen: now}
}

// Get returns the live (non-expired) compact peer endpoints for infoHash.
func (s *Store) Get(infoHash krpc.NodeID, now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.data[infoHash]
	if !ok {
		return nil
	}
	var out []string
	for key, e := range h.peers {
		if now.Sub(e.lastSeen) > Expiration {
			delete(h.peers, key)
			continue
		}
		out = append(out, string(key[:]))
	}
	return out
}

// Cleanup removes every peer entry (and empty info hash) past expiration.
// The DHT facade runs this periodically. Get already drops expired peers of
// the hash it reads, so Cleanup is mostly useful for bounding memory when a
// hash stops being queried.
func (s *Store) Cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for hash, h := range s.data {
		for key, e := range h.peers {
			if now.Sub(e.lastSeen) > Expiration {
				delete(h.peers, key)
			}
		}
		if len(h.peers) == 0 && now.Sub(h.lastUsed) > Expiration {
			delete(s.data, hash)
		}
	}
}

func (s *Store) evictOldestHashLocked() {
	var oldestHash krpc.NodeID
	var oldestTime time.Time
	first := true
	for hash, h := range s.data {
		if first || h.lastUsed.Before(oldestTime) {
			oldestHash, oldestTime, first = hash, h.lastUsed, false
		}
	}
	if !first {
		delete(s.data, oldestHash)
	}
}

func (s *Store) evictOldestPeerLocked(h *hashEntry) {
	var oldestKey [6]byte
	var oldestTime time.Time
	first := true
	for key, e := range h.peers {
		if first || e.lastSeen.Before(oldestTime) {
			oldestKey, oldestTime, first = key, e.lastSeen, false
		}
	}
	if !first {
		delete(h.peers, oldestKey)
	}
}
