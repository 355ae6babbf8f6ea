// Package hasher runs the bounded hashing pool: parallel workers keyed
// by storage device, each draining a private sorted queue, computing
// Tiger trees and optional SFV CRC checks, and committing results to
// the hash database.
package hasher

import (
	"github.com/airdcpp/airdcpp-go/pkg/hashdb"
	"github.com/airdcpp/airdcpp-go/pkg/tth"
)

// FailKind classifies per-file hashing failures.
type FailKind int

const (
	// FailIO is a read or open failure.
	FailIO FailKind = iota

	// FailCRC is a mismatch against an SFV sidecar expectation.
	FailCRC
)

func (k FailKind) String() string {
	if k == FailCRC {
		return "crc_error"
	}
	return "io_error"
}

// Event is a notification from the pool. Callbacks run on the worker
// goroutine and must not call back into the pool.
type Event interface{ hasherEvent() }

// FileHashed reports a successfully hashed file, already committed to
// the hash database.
type FileHashed struct {
	Path     string
	Info     hashdb.HashedFile
	Tree     *tth.Tree
	HasherID int
}

// FileFailed reports a per-file failure; the pool continues.
type FileFailed struct {
	Path    string
	Kind    FailKind
	Message string
}

// DirectoryHashed aggregates the files finished in one directory.
type DirectoryHashed struct {
	Path     string
	Files    int
	Bytes    int64
	HasherID int
}

// HasherFinished signals that a worker's queue drained.
type HasherFinished struct {
	HasherID int
	Files    int
	Bytes    int64
}

func (FileHashed) hasherEvent()      {}
func (FileFailed) hasherEvent()      {}
func (DirectoryHashed) hasherEvent() {}
func (HasherFinished) hasherEvent()  {}
