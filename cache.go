package gosocketio

import (
	"fmt"
	"net/url"
	"sync"
)

// managers shares one Manager per server endpoint between Connect calls.
var managers = &managerCache{entries: make(map[string]*cacheEntry)}

type cacheEntry struct {
	done chan struct{}
	m    *Manager
	err  error
}

type managerCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

// get returns the Manager for key, creating it with create on first use.
// Concurrent callers for the same key wait for the one creation.
func (c *managerCache) get(key string, create func() (*Manager, error)) (*Manager, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		<-e.done
		return e.m, e.err
	}
	e := &cacheEntry{done: make(chan struct{})}
	c.entries[key] = e
	c.mu.Unlock()

	e.m, e.err = create()
	if e.err != nil {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
	}
	close(e.done)
	return e.m, e.err
}

// forget drops key if it still maps to m.
func (c *managerCache) forget(key string, m *Manager) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && e.m == m {
		delete(c.entries, key)
	}
}

func (c *managerCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Connect returns a socket for the namespace named by the path of rawURL,
// "/" when empty. Sockets for different namespaces of the same server
// share one Manager unless ForceNew is set or Multiplex is off; asking
// for a namespace the shared Manager already serves creates a new one.
//
// With AutoConnect the socket starts connecting before Connect returns,
// so handlers registered afterwards may miss the first events. Turn it
// off, register handlers, then call ClientSocket.Connect to see them all.
func Connect(rawURL string, opts *Options) (*ClientSocket, error) {
	o, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("gosocketio: parse url: %w", err)
	}
	nsp := normalizeNamespace(u.Path)

	base := *u
	base.Path = ""
	base.RawPath = ""
	base.Fragment = ""
	key := u.Scheme + "://" + u.Host + o.Path

	var m *Manager
	if o.ForceNew || !o.Multiplex {
		m, err = newManager(base.String(), o)
	} else {
		m, err = managers.get(key, func() (*Manager, error) {
			m, err := newManager(base.String(), o)
			if err == nil {
				m.cacheKey = key
			}
			return m, err
		})
		if err == nil && m.hasSocket(nsp) {
			m, err = newManager(base.String(), o)
		}
	}
	if err != nil {
		return nil, err
	}

	s := m.Socket(nsp)
	if o.AutoConnect {
		s.Connect()
	}
	return s, nil
}
