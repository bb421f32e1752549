// Package token issues and validates the opaque tokens get_peers responses
// carry, binding them to the requester's IP via a rotating secret pair so a
// stale token can't be replayed from a different address.
package token

import (
	"crypto/rand"
	"crypto/sha1"
	"net"
	"sync"
	"time"
)

const secretLen = 20

// RotationPeriod is how often the current secret is rotated; the previous
// secret remains valid for one more period so tokens issued just before a
// rotation don't immediately stop validating.
const RotationPeriod = 5 * time.Minute

// Manager issues and validates get_peers tokens.
type Manager struct {
	mu       sync.Mutex
	current  [secretLen]byte
	previous [secretLen]byte
	rotated  time.Time
}

// NewManager returns a Manager with freshly randomized secrets.
func NewManager(now time.Time) (*Manager, error) {
	m := &Manager{rotated: now}
	if _, err := rand.Read(m.current[:]); err != nil {
		return nil, err
	}
	if _, err := rand.Read(m.previous[:]); err != nil {
		return nil, err
	}
	return m, nil
}

// Rotate replaces the previous secret with the current one and generates a
// fresh current secret. The DHT facade calls this on a periodic timer.
func (m *Manager) Rotate(now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.previous = m.current
	if _, err := rand.Read(m.current[:]); err != nil {
		return err
	}
	m.rotated = now
	return nil
}

// Generate returns the token for ip under the current secret.
func (m *Manager) Generate(ip net.IP) string {
	m.mu.Lock()
	secret := m.current
	m.mu.Unlock()
	return generate(ip, secret)
}

// Validate reports whether token was issued for ip under the current or
// immediately-previous secret.
func (m *Manager) Validate(ip net.IP, token string) bool {
	m.mu.Lock()
	cur, prev := m.current, m.previous
	m.mu.Unlock()
	return token == generate(ip, cur) || token == generate(ip, prev)
}

func generate(ip net.IP, secret [secretLen]byte) string {
	h := sha1.New()
	ip4 := ip.To4()
	if ip4 != nil {
		h.Write(ip4)
	} else {
		h.Write(ip)
	}
	h.Write(secret[:])
	sum := h.Sum(nil)
	return string(sum[:10])
}
