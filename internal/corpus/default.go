package corpus

import (
	"bytes"
	"context"
	"crypto/rand"
)

const randomSeedCount = 4

type DefaultSeedGrabber struct{}

func NewDefaultSeedGrabber() *DefaultSeedGrabber {
	return &DefaultSeedGrabber{}
}

// DefaultSeeds are used when nothing better is available: a long run of 'A'
// that overflows small fixed buffers, a short printable line, and a few
// random blobs.
func DefaultSeeds() ([][]byte, error) {
	seeds := [][]byte{
		bytes.Repeat([]byte("A"), 1000),
		[]byte("hello world\n"),
	}
	for i := range randomSeedCount {
		blob := make([]byte, 64<<i)
		if _, err := rand.Read(blob); err != nil {
			return nil, err
		}
		seeds = append(seeds, blob)
	}
	return seeds, nil
}

func (s *DefaultSeedGrabber) GrabSeeds(ctx context.Context, layout Layout) (int, error) {
	seeds, err := DefaultSeeds()
	if err != nil {
		return 0, err
	}
	added := 0
	for _, seed := range seeds {
		ok, err := layout.WriteSeed(seed)
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}
	return added, nil
}
