package device

import (
	"github.com/sirupsen/logrus"
)

// Registry is a fixed-capacity table of connected peers.
//
// It holds at most one Link per address and never allocates after construction.
// Registry is not safe for concurrent use; the owner serializes access.
type Registry struct {
	links  [MaxDevices]Link
	logger *logrus.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{logger: logger}
}

// Add registers addr. A duplicate returns the existing entry with ErrAlreadyExists;
// a full table returns ErrRegistryFull and no handle.
func (r *Registry) Add(addr Address) (*Link, error) {
	if l := r.Find(addr); l != nil {
		r.logger.WithField("address", addr).Warn("Device already registered")
		return l, ErrAlreadyExists
	}

	for i := range r.links {
		if !r.links[i].used {
			r.links[i] = Link{Address: addr, used: true}
			return &r.links[i], nil
		}
	}

	r.logger.WithFields(logrus.Fields{
		"address":  addr,
		"capacity": MaxDevices,
	}).Warn("No free device slot")
	return nil, ErrRegistryFull
}

// Remove zeroes the slot holding addr
func (r *Registry) Remove(addr Address) error {
	for i := range r.links {
		if r.links[i].used && r.links[i].Address == addr {
			r.links[i] = Link{}
			return nil
		}
	}
	return ErrNotFound
}

// Find returns the entry for addr or nil
func (r *Registry) Find(addr Address) *Link {
	for i := range r.links {
		if r.links[i].used && r.links[i].Address == addr {
			return &r.links[i]
		}
	}
	return nil
}

// Each calls fn for every used slot in table order; returning false stops iteration
func (r *Registry) Each(fn func(*Link) bool) {
	for i := range r.links {
		if r.links[i].used {
			if !fn(&r.links[i]) {
				return
			}
		}
	}
}

// Len returns the number of used slots
func (r *Registry) Len() int {
	n := 0
	for i := range r.links {
		if r.links[i].used {
			n++
		}
	}
	return n
}
