package session

import (
	"fmt"
	"sync/atomic"
)

// Generator hands out session ids unique within the process.
type Generator struct {
	counter uint64
}

// NewGenerator returns a Generator starting from one.
func NewGenerator() *Generator {
	return &Generator{}
}

// Next returns the next id for a session on callID, e.g. "abc-sess-3".
func (g *Generator) Next(callID string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-sess-%d", callID, n)
}
