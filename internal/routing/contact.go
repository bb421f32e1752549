package routing

import (
	"net"
	"time"

	"github.com/prxssh/dhtnode/internal/krpc"
)

// State classifies a contact by how long it has been since it was last
// heard from.
type State int

const (
	Active State = iota
	Inactive
	Dead
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Inactive:
		return "inactive"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

const (
	activeThreshold   = 15 * time.Minute
	inactiveThreshold = 20 * time.Minute
)

// Contact is a single routing table entry: a node id bound to an IPv4/UDP
// endpoint, plus the last time it was observed.
type Contact struct {
	ID       krpc.NodeID
	IP       net.IP
	Port     int
	LastSeen time.Time
}

// NewContact returns a contact observed at now.
func NewContact(id krpc.NodeID, ip net.IP, port int, now time.Time) *Contact {
	return &Contact{ID: id, IP: ip, Port: port, LastSeen: now}
}

// StateAt derives the contact's liveness state from how long ago it was
// last seen, relative to now.
func (c *Contact) StateAt(now time.Time) State {
	age := now.Sub(c.LastSeen)
	switch {
	case age < activeThreshold:
		return Active
	case age < inactiveThreshold:
		return Inactive
	default:
		return Dead
	}
}

// Touch refreshes last_seen to now, as happens whenever a message is
// received from the contact or a query to it succeeds.
func (c *Contact) Touch(now time.Time) {
	c.LastSeen = now
}

// Compact renders the contact as its 26-byte compact node encoding.
func (c *Contact) Compact() ([]byte, error) {
	return krpc.CompactNode(c.ID, c.IP, c.Port)
}

// UDPAddr returns the contact's endpoint as a *net.UDPAddr.
func (c *Contact) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: c.IP, Port: c.Port}
}
