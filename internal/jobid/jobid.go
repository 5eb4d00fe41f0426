// Package jobid issues identifiers for pipeline jobs.
//
// An id is a UTC timestamp with second resolution followed by a random suffix,
// e.g. "2025-03-14_09-26-53_4f1c2a9be07d". Ids sort lexicographically by start
// time and embed enough randomness that jobs started in the same second do not
// collide.
package jobid

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	timeLayout = "2006-01-02_15-04-05"
	suffixLen  = 12
)

// Generator builds job ids from a clock and a random source.
// The zero value uses time.Now and crypto/rand.
type Generator struct {
	Now  func() time.Time
	Rand io.Reader
}

var defaultGenerator Generator

// New returns a fresh job id using the default generator.
func New() string {
	return defaultGenerator.New()
}

// New returns a fresh job id.
func (g Generator) New() string {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	src := g.Rand
	if src == nil {
		src = rand.Reader
	}

	id, err := uuid.NewRandomFromReader(src)
	if err != nil {
		id = uuid.New()
	}
	suffix := strings.ReplaceAll(id.String(), "-", "")[:suffixLen]

	return now().UTC().Format(timeLayout) + "_" + suffix
}

// Parse validates id and returns its timestamp component.
func Parse(id string) (time.Time, error) {
	if len(id) != len(timeLayout)+1+suffixLen || id[len(timeLayout)] != '_' {
		return time.Time{}, fmt.Errorf("invalid job id %q", id)
	}
	ts, err := time.Parse(timeLayout, id[:len(timeLayout)])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid job id %q: %w", id, err)
	}
	for _, c := range id[len(timeLayout)+1:] {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return time.Time{}, fmt.Errorf("invalid job id %q: bad suffix", id)
		}
	}
	return ts, nil
}
