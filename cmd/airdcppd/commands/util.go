package commands

import (
	"encoding/base32"

	"github.com/cxmcc/tiger"
	"github.com/google/uuid"
)

// localCID derives a fresh client identity: a random private id hashed
// with Tiger and base32-encoded, the way DC clients mint CIDs.
func localCID() string {
	pid := uuid.New()
	h := tiger.New()
	h.Write(pid[:])
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(h.Sum(nil))
}
