package logdb

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"
)

// fragmentExt is the suffix of loose fragment files. Anything else in the
// directory (the archive, foreign files) is ignored by fragment enumeration.
const fragmentExt = ".jsonl"

// nameRetries bounds how often a colliding fragment name is regenerated with
// fresh randomness before giving up.
const nameRetries = 3

// Namer generates fragment file names that are unique across concurrent
// writers by combining host identity, a coarse timestamp, and a random
// suffix. The randomness source and clock are injectable for tests.
type Namer struct {
	Host string
	Now  func() time.Time
	Rand *rand.Rand // nil means the shared global source
}

func (n *Namer) host() string {
	if n != nil && n.Host != "" {
		return n.Host
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown-host"
	}
	return host
}

func (n *Namer) now() time.Time {
	if n != nil && n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

func (n *Namer) suffix() uint32 {
	if n != nil && n.Rand != nil {
		return n.Rand.Uint32()
	}
	return rand.Uint32()
}

// next returns a fragment name not currently present in dir. Collisions are
// retried a bounded number of times with fresh randomness; exhausting the
// bound returns ErrNameCollision.
func (n *Namer) next(dir string) (string, error) {
	for range nameRetries {
		name := fmt.Sprintf("%s-%s-%08x%s", n.now().Format("200601021504"), n.host(), n.suffix(), fragmentExt)
		if _, err := os.Stat(filepath.Join(dir, name)); os.IsNotExist(err) {
			return name, nil
		}
	}
	return "", ErrNameCollision
}
