// Package hashdb persists the results of hashing: Tiger trees keyed by
// their root and per-file records keyed by lowercase real path. Both
// live in embedded BadgerDB instances under a common directory.
package hashdb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/airdcpp/airdcpp-go/internal/logger"
	"github.com/airdcpp/airdcpp-go/pkg/tth"
)

const (
	treeDirName = "HashData"
	fileDirName = "FileIndex"
	repairFlag  = "repair_flag"
)

// Store combines the tree store and the file-info store.
//
// Consistency rule: a file-info record is only written after its tree
// record is in place, so a visible file info always has a tree behind it.
type Store struct {
	trees Handler
	files Handler
	dir   string
}

// Open opens (or creates) the stores under dir. A repair flag left by a
// previous crash triggers a compaction pass before the store is used.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("hashdb: %w", err)
	}

	needRepair := false
	if _, err := os.Stat(filepath.Join(dir, repairFlag)); err == nil {
		needRepair = true
	}

	trees, err := openBadger(filepath.Join(dir, treeDirName))
	if err != nil {
		return nil, err
	}
	files, err := openBadger(filepath.Join(dir, fileDirName))
	if err != nil {
		trees.Close()
		return nil, err
	}

	s := &Store{trees: trees, files: files, dir: dir}
	if needRepair {
		logger.Warn("hash store repair flag present, compacting")
		if err := s.Compact(); err != nil {
			logger.Error("hash store repair failed", logger.KeyError, err)
		}
		os.Remove(filepath.Join(dir, repairFlag))
	}
	return s, nil
}

// MarkRepair leaves the sidecar flag so the next Open runs a repair pass.
func (s *Store) MarkRepair() error {
	return os.WriteFile(filepath.Join(s.dir, repairFlag), nil, 0o644)
}

// AddHashedFile records a completed hash. The tree goes in first; if the
// tree write fails the file info is never made visible. A tree that is
// already present (same content hashed under another path) is fine.
func (s *Store) AddHashedFile(lowerPath string, tree *tth.Tree, fi HashedFile) error {
	if tree.Root() != fi.Root {
		return fmt.Errorf("hashdb: tree root does not match file info for %s", lowerPath)
	}
	err := s.trees.Put(fi.Root[:], encodeTree(tree))
	if err != nil && !errors.Is(err, ErrKeyExists) {
		return err
	}
	return s.files.Upsert([]byte(lowerPath), encodeFileInfo(fi))
}

// FileInfo looks up the record for a lowercase real path. A corrupt
// record reads as missing.
func (s *Store) FileInfo(lowerPath string) (HashedFile, bool, error) {
	var fi HashedFile
	var decodeErr error
	found, err := s.files.Get([]byte(lowerPath), func(val []byte) error {
		fi, decodeErr = decodeFileInfo(val)
		return nil
	})
	if err != nil || !found {
		return fi, false, err
	}
	if decodeErr != nil {
		logger.Warn("corrupt file info record", logger.KeyPath, lowerPath)
		return fi, false, nil
	}
	return fi, true, nil
}

// Tree loads the Tiger tree for a root. Records whose recomputed root
// does not match the key read as missing.
func (s *Store) Tree(root tth.Value) (*tth.Tree, bool, error) {
	var tree *tth.Tree
	var decodeErr error
	found, err := s.trees.Get(root[:], func(val []byte) error {
		tree, decodeErr = decodeTree(val)
		return nil
	})
	if err != nil || !found {
		return nil, false, err
	}
	if decodeErr != nil || tree.Root() != root {
		logger.Warn("corrupt tree record", logger.KeyTTH, root.String())
		return nil, false, nil
	}
	return tree, true, nil
}

// HasTree tests tree membership without deserializing.
func (s *Store) HasTree(root tth.Value) (bool, error) {
	return s.trees.Exists(root[:])
}

// RemoveFilesIf garbage-collects file-info records. pred receives the
// lowercase path and decoded record; corrupt records are always removed.
func (s *Store) RemoveFilesIf(pred func(lowerPath string, fi HashedFile) bool) (int, error) {
	return s.files.RemoveIf(func(key, value []byte) bool {
		fi, err := decodeFileInfo(value)
		if err != nil {
			return true
		}
		return pred(string(key), fi)
	})
}

// RemoveOrphanTrees drops trees no file-info record references.
func (s *Store) RemoveOrphanTrees() (int, error) {
	referenced := make(map[tth.Value]struct{})
	err := s.files.Each(func(_, value []byte) error {
		if fi, err := decodeFileInfo(value); err == nil {
			referenced[fi.Root] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return s.trees.RemoveIf(func(key, _ []byte) bool {
		root, err := tth.FromBytes(key)
		if err != nil {
			return true
		}
		_, ok := referenced[root]
		return !ok
	})
}

// Stats returns record counts and the on-disk footprint.
func (s *Store) Stats() (treeCount, fileCount, diskBytes int64, err error) {
	if treeCount, err = s.trees.Size(false); err != nil {
		return
	}
	if fileCount, err = s.files.Size(false); err != nil {
		return
	}
	var tb, fb int64
	if tb, err = s.trees.SizeOnDisk(); err != nil {
		return
	}
	if fb, err = s.files.SizeOnDisk(); err != nil {
		return
	}
	diskBytes = tb + fb
	return
}

// Compact compacts both stores.
func (s *Store) Compact() error {
	if err := s.trees.Compact(); err != nil {
		return err
	}
	return s.files.Compact()
}

// Close closes both stores.
func (s *Store) Close() error {
	err1 := s.trees.Close()
	err2 := s.files.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
