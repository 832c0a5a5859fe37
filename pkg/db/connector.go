package db

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Connector hands out one shared connection to the cache file, opening it on
// first use. Concurrent first callers share a single Init; a failed Init is
// not remembered, so a later call retries.
type Connector struct {
	path  string
	group singleflight.Group

	mu sync.RWMutex
	db *DB
}

// NewConnector creates a connector for the database file at path.
func NewConnector(path string) *Connector {
	return &Connector{path: path}
}

// Path returns the database file path.
func (c *Connector) Path() string { return c.path }

// Get returns the shared connection, opening and migrating it if needed.
func (c *Connector) Get(ctx context.Context) (*DB, error) {
	if d := c.current(); d != nil {
		return d, nil
	}

	ch := c.group.DoChan(c.path, func() (any, error) {
		if d := c.current(); d != nil {
			return d, nil
		}
		d, err := Init(c.path)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.db = d
		c.mu.Unlock()
		return d, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*DB), nil
	}
}

// Close closes the shared connection if it was opened.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

func (c *Connector) current() *DB {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.db
}
