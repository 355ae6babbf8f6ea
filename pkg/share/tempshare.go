package share

import (
	"sync"

	"github.com/google/uuid"

	"github.com/airdcpp/airdcpp-go/pkg/tth"
)

// TempShare exposes one out-of-index file to a specific peer or hub,
// bypassing profile visibility. Temp shares are process-lifetime only;
// they are never persisted.
type TempShare struct {
	Token string
	TTH   tth.Value
	Path  string
	Size  int64

	// Key is the CID or hub URL the item is restricted to; empty allows
	// any requester.
	Key string
}

type tempShares struct {
	mu    sync.RWMutex
	items map[string]TempShare // keyed by token
}

func newTempShares() *tempShares {
	return &tempShares{items: make(map[string]TempShare)}
}

// AddTempShare registers a temp share under a new token and returns it.
// The item stays until RemoveTempShare revokes it.
func (e *Engine) AddTempShare(root tth.Value, realPath string, size int64, key string) TempShare {
	ts := TempShare{
		Token: uuid.NewString(),
		TTH:   root,
		Path:  realPath,
		Size:  size,
		Key:   key,
	}
	e.temp.mu.Lock()
	e.temp.items[ts.Token] = ts
	e.temp.mu.Unlock()
	return ts
}

// RemoveTempShare revokes a temp share by token.
func (e *Engine) RemoveTempShare(token string) bool {
	e.temp.mu.Lock()
	defer e.temp.mu.Unlock()
	if _, ok := e.temp.items[token]; !ok {
		return false
	}
	delete(e.temp.items, token)
	return true
}

// TempShareByTTH finds a temp share for a content root, honoring the
// stored key: the requester's CID or hub URL must match, unless the
// item was shared without a key.
func (e *Engine) TempShareByTTH(root tth.Value, requesterKey string) (TempShare, bool) {
	e.temp.mu.RLock()
	defer e.temp.mu.RUnlock()
	for _, ts := range e.temp.items {
		if ts.TTH != root {
			continue
		}
		if ts.Key == "" || ts.Key == requesterKey {
			return ts, true
		}
	}
	return TempShare{}, false
}

// TempShares snapshots all registered temp shares.
func (e *Engine) TempShares() []TempShare {
	e.temp.mu.RLock()
	defer e.temp.mu.RUnlock()
	out := make([]TempShare, 0, len(e.temp.items))
	for _, ts := range e.temp.items {
		out = append(out, ts)
	}
	return out
}
