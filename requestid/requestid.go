// Package requestid produces per-call correlation identifiers.
package requestid

import (
	"crypto/rand"
	"encoding/binary"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const fragmentBytes = 8

// Generator yields a fresh identifier on every call.
type Generator interface {
	NewID() string
}

// Func adapts a plain function to the Generator interface.
type Func func() string

func (f Func) NewID() string {
	return f()
}

// New returns the default generator.
func New() Generator { //nolint:ireturn
	return UUID()
}

// UUID returns a generator of random (version 4) UUIDs. When the random source
// is unavailable the generator degrades to Fallback.
func UUID() Generator { //nolint:ireturn
	return Func(func() string {
		id, err := uuid.NewRandom()
		if err != nil {
			return Fallback()
		}

		return id.String()
	})
}

// Fallback builds an identifier from the current unix time in milliseconds and
// a random base-36 fragment. It never fails.
func Fallback() string {
	now := strconv.FormatInt(time.Now().UnixMilli(), 36)

	return now + "-" + randomFragment()
}

func randomFragment() string {
	var buf [fragmentBytes]byte

	if _, err := rand.Read(buf[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}

	return strconv.FormatUint(binary.BigEndian.Uint64(buf[:]), 36)
}

// Sequence is a deterministic, monotonic generator intended for tests.
type Sequence struct {
	prefix  string
	counter atomic.Uint64
}

func NewSequence(prefix string) *Sequence {
	//nolint:exhaustruct
	return &Sequence{prefix: prefix}
}

func (s *Sequence) NewID() string {
	return s.prefix + strconv.FormatUint(s.counter.Add(1), 10)
}

// Issued reports how many identifiers the sequence has handed out.
func (s *Sequence) Issued() uint64 {
	return s.counter.Load()
}
