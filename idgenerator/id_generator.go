package idgenerator

import (
	"strconv"
	"sync/atomic"
)

// IdGenerator hands out connection identities of the form prefix+n, where n
// increases monotonically from the configured start. The first Id() after
// NewIdGenerator(p, s) returns p + (s+1). It is safe for concurrent use.
type IdGenerator struct {
	prefix string
	next   atomic.Uint32
}

// NewIdGenerator creates an IdGenerator with the given prefix and counter start.
//
// Parameters:
//   - prefix: Text prepended to every identity (e.g. "c")
//   - startValue: Initial counter value; the first Id() uses startValue+1
//
// Returns:
//   - A new IdGenerator instance
func NewIdGenerator(prefix string, startValue uint32) *IdGenerator {
	gen := &IdGenerator{prefix: prefix}
	gen.next.Store(startValue)
	return gen
}

// Id returns the next identity.
//
// Returns:
//   - The prefix followed by the next counter value in decimal
func (g *IdGenerator) Id() string {
	return g.prefix + strconv.FormatUint(uint64(g.Seq()), 10)
}

// Seq advances the counter and returns the raw value without the prefix.
func (g *IdGenerator) Seq() uint32 {
	return g.next.Add(1)
}
