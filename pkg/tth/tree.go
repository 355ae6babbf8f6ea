package tth

import (
	"fmt"
	"io"
)

const (
	// baseSegment is the THEX base segment size; every leaf digest covers
	// at most this many bytes before promotion.
	baseSegment = 1024

	// MinBlockSize is the smallest stored block size.
	MinBlockSize int64 = 64 * 1024

	// MaxLeaves bounds the number of stored leaves per tree.
	MaxLeaves = 1024
)

// BlockSizeFor returns the smallest power-of-two block size that is at
// least MinBlockSize and keeps the stored leaf count within MaxLeaves.
func BlockSizeFor(fileSize int64) int64 {
	bs := MinBlockSize
	for (fileSize+bs-1)/bs > MaxLeaves {
		bs <<= 1
	}
	return bs
}

type treeNode struct {
	hash Value
	size int64
}

// Tree is an incrementally built Tiger tree. Feed content through Write,
// then call Finish once; Root and Leaves are valid afterwards.
type Tree struct {
	blockSize int64
	fileSize  int64
	nodes     []treeNode
	partial   []byte
	root      Value
	finished  bool
}

// NewTree creates a tree collecting leaves of the given block size.
// The block size must come from BlockSizeFor for the final file size,
// otherwise the stored leaf count may exceed MaxLeaves.
func NewTree(blockSize int64) *Tree {
	if blockSize < MinBlockSize {
		blockSize = MinBlockSize
	}
	return &Tree{blockSize: blockSize}
}

// Write feeds file content in stream order. Implements io.Writer.
func (t *Tree) Write(p []byte) (int, error) {
	if t.finished {
		return 0, fmt.Errorf("tth: write after Finish")
	}
	n := len(p)
	t.fileSize += int64(n)

	if len(t.partial) > 0 {
		need := baseSegment - len(t.partial)
		if need > len(p) {
			t.partial = append(t.partial, p...)
			return n, nil
		}
		t.partial = append(t.partial, p[:need]...)
		p = p[need:]
		t.pushLeaf(leafDigest(t.partial), baseSegment)
		t.partial = t.partial[:0]
	}
	for len(p) >= baseSegment {
		t.pushLeaf(leafDigest(p[:baseSegment]), baseSegment)
		p = p[baseSegment:]
	}
	t.partial = append(t.partial, p...)
	return n, nil
}

// ReadFrom consumes r until EOF. Implements io.ReaderFrom.
func (t *Tree) ReadFrom(r io.Reader) (int64, error) {
	buf := make([]byte, 256*1024)
	var total int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			total += int64(n)
			if _, werr := t.Write(buf[:n]); werr != nil {
				return total, werr
			}
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// pushLeaf appends a base leaf and merges equal-sized siblings while the
// merged span still fits in one stored block.
func (t *Tree) pushLeaf(h Value, size int64) {
	t.nodes = append(t.nodes, treeNode{hash: h, size: size})
	for len(t.nodes) > 1 {
		a := &t.nodes[len(t.nodes)-2]
		b := &t.nodes[len(t.nodes)-1]
		if a.size != b.size || a.size*2 > t.blockSize {
			break
		}
		a.hash = internalDigest(a.hash, b.hash)
		a.size *= 2
		t.nodes = t.nodes[:len(t.nodes)-1]
	}
}

// Finish consumes any trailing partial segment and computes the root.
// A zero-length input yields the digest of the empty leaf.
func (t *Tree) Finish() {
	if t.finished {
		return
	}
	if len(t.partial) > 0 || len(t.nodes) == 0 {
		t.pushLeaf(leafDigest(t.partial), int64(len(t.partial)))
		t.partial = nil
	}
	// Trailing nodes of unequal size still belong to the same stored
	// block when their combined span fits.
	for len(t.nodes) > 1 {
		a := &t.nodes[len(t.nodes)-2]
		b := &t.nodes[len(t.nodes)-1]
		if a.size+b.size > t.blockSize {
			break
		}
		a.hash = internalDigest(a.hash, b.hash)
		a.size += b.size
		t.nodes = t.nodes[:len(t.nodes)-1]
	}
	t.root = rootOf(t.leafValues())
	t.finished = true
}

func (t *Tree) leafValues() []Value {
	leaves := make([]Value, len(t.nodes))
	for i, n := range t.nodes {
		leaves[i] = n.hash
	}
	return leaves
}

// rootOf combines leaf digests pairwise, level by level, into the tree
// root; an odd node at the end of a level is promoted unchanged.
func rootOf(leaves []Value) Value {
	if len(leaves) == 0 {
		return leafDigest(nil)
	}
	nodes := append([]Value(nil), leaves...)
	for len(nodes) > 1 {
		next := make([]Value, 0, (len(nodes)+1)/2)
		for i := 0; i+1 < len(nodes); i += 2 {
			next = append(next, internalDigest(nodes[i], nodes[i+1]))
		}
		if len(nodes)%2 == 1 {
			next = append(next, nodes[len(nodes)-1])
		}
		nodes = next
	}
	return nodes[0]
}

// Root returns the tree root. Valid after Finish.
func (t *Tree) Root() Value {
	if !t.finished {
		t.Finish()
	}
	return t.root
}

// Leaves returns the stored block digests. Valid after Finish.
func (t *Tree) Leaves() []Value {
	if !t.finished {
		t.Finish()
	}
	return t.leafValues()
}

// FileSize returns the number of bytes written so far.
func (t *Tree) FileSize() int64 { return t.fileSize }

// BlockSize returns the stored block size.
func (t *Tree) BlockSize() int64 { return t.blockSize }

// TreeFromLeaves rebuilds a finished tree from stored leaves, as loaded
// from the tree store. The root is recomputed from the leaves.
func TreeFromLeaves(fileSize, blockSize int64, leaves []Value) (*Tree, error) {
	if blockSize < MinBlockSize || blockSize&(blockSize-1) != 0 {
		return nil, fmt.Errorf("tth: bad block size %d", blockSize)
	}
	want := int((fileSize + blockSize - 1) / blockSize)
	if want == 0 {
		want = 1
	}
	if len(leaves) != want {
		return nil, fmt.Errorf("tth: leaf count %d does not cover %d bytes at block size %d",
			len(leaves), fileSize, blockSize)
	}
	t := &Tree{blockSize: blockSize, fileSize: fileSize, finished: true}
	t.nodes = make([]treeNode, len(leaves))
	for i, l := range leaves {
		sz := blockSize
		if i == len(leaves)-1 {
			if rem := fileSize - int64(i)*blockSize; rem > 0 {
				sz = rem
			}
		}
		t.nodes[i] = treeNode{hash: l, size: sz}
	}
	t.root = rootOf(leaves)
	return t, nil
}
