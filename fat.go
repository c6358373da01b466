package fat

import (
	"encoding/binary"
	"fmt"
)

const (
	fat12Bits = 12
	fat16Bits = 16
	fat32Bits = 32
)

// MappedCluster is one value read out of the FAT: the number of the next
// cluster in the chain or one of the sentinels. Its meaning depends on the
// width of the table it came from.
type MappedCluster struct {
	Value uint32
	Bits  int
}

func (mc MappedCluster) max() uint32 {
	return uint32(1)<<uint(mc.Bits) - 1
}

// IsFree indicates an unallocated cluster.
func (mc MappedCluster) IsFree() bool {
	return mc.Value == 0
}

// IsReserved indicates one of the reserved values (0xFF0-0xFF6 for FAT12).
func (mc MappedCluster) IsReserved() bool {
	max := mc.max()
	return mc.Value >= max-15 && mc.Value <= max-9
}

// IsBad indicates a cluster marked as having bad sectors.
func (mc MappedCluster) IsBad() bool {
	return mc.Value == mc.max()-8
}

// IsLast indicates that no more clusters follow the cluster that led to this
// entry.
func (mc MappedCluster) IsLast() bool {
	return mc.Value >= mc.max()-7 && mc.Value <= mc.max()
}

// IsNext indicates that the value points at another data cluster.
func (mc MappedCluster) IsNext() bool {
	return mc.Value >= 2 && mc.Value < mc.max()-15
}

func (mc MappedCluster) String() string {
	switch {
	case mc.IsFree() == true:
		return "MappedCluster<FREE>"
	case mc.IsReserved() == true:
		return fmt.Sprintf("MappedCluster<RESERVED=(0x%x)>", mc.Value)
	case mc.IsBad() == true:
		return "MappedCluster<BAD>"
	case mc.IsLast() == true:
		return "MappedCluster<LAST>"
	}

	return fmt.Sprintf("MappedCluster<NEXT=(%d)>", mc.Value)
}

// Fat is one in-memory copy of the file allocation table.
type Fat []byte

// EntryCount returns the number of cluster entries the table can describe at
// the given width.
func (fat Fat) EntryCount(fatBits int) uint32 {
	switch fatBits {
	case fat12Bits:
		return uint32(len(fat)) * 2 / 3
	case fat16Bits:
		return uint32(len(fat)) / 2
	}

	return uint32(len(fat)) / 4
}

// NextCluster returns the FAT value stored for the given cluster.
//
// FAT12 packs two entries into every three bytes. For an even cluster the
// entry is the low twelve bits of the little-endian word at (cluster/2)*3; for
// an odd cluster it is the high twelve bits of the word one byte further on.
func (fat Fat) NextCluster(fatBits int, cluster uint32) (mc MappedCluster, err error) {
	var offset uint32

	switch fatBits {
	case fat12Bits:
		offset = (cluster/2)*3 + cluster%2
	case fat16Bits:
		offset = cluster * 2
	default:
		return mc, newClusterError(ErrUnsupportedFatType, cluster)
	}

	if uint64(offset)+2 > uint64(len(fat)) {
		return mc, newClusterError(ErrInvalidCluster, cluster)
	}

	value := binary.LittleEndian.Uint16(fat[offset : offset+2])

	if fatBits == fat12Bits {
		if cluster%2 == 1 {
			value >>= 4
		} else {
			value &= 0x0fff
		}
	}

	mc = MappedCluster{
		Value: uint32(value),
		Bits:  fatBits,
	}

	return mc, nil
}
