// Package failurecode normalizes the gateway's result codes into the closed
// set of failure reasons this system understands. The cache is owned by the
// payment intent service instance, not a package global, so tests can build
// a fresh one and service instances never share invisible state.
package failurecode

import (
	"strings"
	"sync"
)

type Code struct {
	Code        string
	Description string
}

// Cache is a read-mostly normalized-code table. Entries are written at most
// once per key and never mutated after insertion.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Code
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]Code)}
}

// NewDefaultCache seeds the standard return-code table used by the
// settlement sync.
func NewDefaultCache() *Cache {
	c := NewCache()
	for code, desc := range map[string]string{
		"R01": "insufficient funds",
		"R02": "account closed",
		"R03": "no account / unable to locate account",
		"R04": "invalid account number",
		"R05": "unauthorized debit",
		"R07": "authorization revoked by customer",
		"R08": "payment stopped",
		"R09": "uncollected funds",
		"R10": "customer advises not authorized",
		"R16": "account frozen",
		"R20": "non-transaction account",
		"R29": "corporate customer advises not authorized",
	} {
		c.Put(code, desc)
	}
	return c
}

// Put records a code if it is not already present. Existing entries are
// never overwritten.
func (c *Cache) Put(code, description string) {
	key := normalize(code)
	if key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return
	}
	c.entries[key] = Code{Code: key, Description: description}
}

// Lookup resolves a raw gateway result code. An unrecognized code is not a
// failure; callers treat a miss as "no failure signal".
func (c *Cache) Lookup(raw string) (Code, bool) {
	key := normalize(raw)
	if key == "" {
		return Code{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	return entry, ok
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
