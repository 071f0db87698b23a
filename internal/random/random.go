// Package random supplies identifiers and secrets from an injectable source of
// cryptographically secure bytes.
package random

import (
	"crypto/rand"
	"io"

	"github.com/google/uuid"
)

type Source struct {
	r io.Reader
}

// New wraps r. A nil reader selects crypto/rand.
func New(r io.Reader) *Source {
	if r == nil {
		r = rand.Reader
	}
	return &Source{r: r}
}

func (s *Source) UUID() (uuid.UUID, error) {
	return uuid.NewRandomFromReader(s.r)
}

func (s *Source) Bytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
