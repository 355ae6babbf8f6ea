package hashdb

import (
	"encoding/binary"
	"fmt"

	"github.com/airdcpp/airdcpp-go/pkg/tth"
)

// Record layouts. Every record starts with a one-byte version
// discriminator so the formats can evolve without a store migration.
//
// Tree record (key: raw 24-byte root):
//
//	u8  version
//	u32 file_size_low
//	u32 file_size_high
//	u32 block_size
//	u32 leaf_count
//	leaf_count * 24 bytes of leaves
//
// File-info record (key: lowercase real path):
//
//	u8  version
//	u64 mtime_secs
//	i64 size
//	24  bytes of tth root
const recordVersion = 1

const fileInfoLen = 1 + 8 + 8 + tth.Size

// HashedFile is the authoritative per-file record.
type HashedFile struct {
	Root  tth.Value
	MTime uint64 // seconds
	Size  int64
}

func encodeTree(t *tth.Tree) []byte {
	leaves := t.Leaves()
	buf := make([]byte, 0, 1+16+len(leaves)*tth.Size)
	buf = append(buf, recordVersion)
	size := uint64(t.FileSize())
	buf = binary.LittleEndian.AppendUint32(buf, uint32(size))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(size>>32))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(t.BlockSize()))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(leaves)))
	for _, l := range leaves {
		buf = append(buf, l[:]...)
	}
	return buf
}

func decodeTree(data []byte) (*tth.Tree, error) {
	if len(data) < 1+16 || data[0] != recordVersion {
		return nil, fmt.Errorf("hashdb: bad tree record")
	}
	sizeLow := binary.LittleEndian.Uint32(data[1:])
	sizeHigh := binary.LittleEndian.Uint32(data[5:])
	blockSize := binary.LittleEndian.Uint32(data[9:])
	leafCount := binary.LittleEndian.Uint32(data[13:])

	fileSize := int64(uint64(sizeHigh)<<32 | uint64(sizeLow))
	body := data[17:]
	if int64(len(body)) != int64(leafCount)*tth.Size {
		return nil, fmt.Errorf("hashdb: tree record truncated")
	}
	leaves := make([]tth.Value, leafCount)
	for i := range leaves {
		copy(leaves[i][:], body[i*tth.Size:])
	}
	return tth.TreeFromLeaves(fileSize, int64(blockSize), leaves)
}

func encodeFileInfo(fi HashedFile) []byte {
	buf := make([]byte, 0, fileInfoLen)
	buf = append(buf, recordVersion)
	buf = binary.LittleEndian.AppendUint64(buf, fi.MTime)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(fi.Size))
	buf = append(buf, fi.Root[:]...)
	return buf
}

func decodeFileInfo(data []byte) (HashedFile, error) {
	var fi HashedFile
	if len(data) != fileInfoLen || data[0] != recordVersion {
		return fi, fmt.Errorf("hashdb: bad file info record")
	}
	fi.MTime = binary.LittleEndian.Uint64(data[1:])
	fi.Size = int64(binary.LittleEndian.Uint64(data[9:]))
	copy(fi.Root[:], data[17:])
	return fi, nil
}
