// This package manages the low-level, on-disk storage structures.

package fat

import (
	"bytes"
	"fmt"
	"io"
	"reflect"

	"encoding/binary"

	"github.com/dsoprea/go-logging"
	"github.com/dustin/go-humanize"
	"github.com/go-restruct/restruct"
)

const (
	bootSectorHeaderSize = 512

	fat12ClusterLimit = 4086
	fat16ClusterLimit = 65526
)

var (
	defaultEncoding = binary.LittleEndian

	requiredBootSignature = uint16(0xaa55)
)

var (
	readerLogger = log.NewLogger("fat.reader")
)

// BootSectorHeader is the first sector of the volume: the jump instruction,
// the BIOS Parameter Block and the FAT12/16 extended BPB.
type BootSectorHeader struct {
	JumpBoot [3]byte
	OemName  [8]byte

	// BIOS Parameter Block (0x0b)

	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumberOfFats      uint8
	RootEntries       uint16
	SectorCount       uint16
	MediaType         uint8
	FatSectors        uint16

	SectorsPerTrack uint16
	NumberOfHeads   uint16
	HiddenSectors   uint32
	TotalSectors    uint32

	// Extended BIOS Parameter Block (0x24)

	DriveNumber       uint8
	Reserved          uint8
	ExtendedSignature uint8
	SerialNumber      uint32
	VolumeLabelRaw    [11]byte
	FileSystemTypeRaw [8]byte
	BootCode          [448]byte
	BootSignature     uint16
}

func parseBootSectorHeader(raw []byte) (bsh BootSectorHeader, err error) {
	if len(raw) != bootSectorHeaderSize {
		return bsh, newOffsetError(ErrInvalidBootSector, 0)
	}

	err = restruct.Unpack(raw, defaultEncoding, &bsh)
	if err != nil {
		return bsh, err
	}

	// Everything derived below divides by or scales with these.
	if bsh.BytesPerSector == 0 || bsh.BytesPerSector&(bsh.BytesPerSector-1) != 0 {
		return bsh, newOffsetError(ErrInvalidGeometry, 0x0b)
	} else if bsh.SectorsPerCluster == 0 {
		return bsh, newOffsetError(ErrInvalidGeometry, 0x0d)
	}

	if bsh.BootSignature != requiredBootSignature {
		readerLogger.Debugf(nil, "Boot-signature missing (tolerated): (0x%04x)", bsh.BootSignature)
	}

	return bsh, nil
}

// SectorSize returns the bytes per sector.
func (bsh BootSectorHeader) SectorSize() uint32 {
	return uint32(bsh.BytesPerSector)
}

// ClusterSize returns the bytes per cluster.
func (bsh BootSectorHeader) ClusterSize() uint32 {
	return uint32(bsh.SectorsPerCluster) * bsh.SectorSize()
}

// TotalSectorCount returns the 16-bit sector count or, if that is zero, the
// 32-bit one.
func (bsh BootSectorHeader) TotalSectorCount() uint32 {
	if bsh.SectorCount != 0 {
		return uint32(bsh.SectorCount)
	}

	return bsh.TotalSectors
}

// ClusterCount returns the number of clusters used to decide the FAT width.
// This is the whole-volume figure, not just the data region.
func (bsh BootSectorHeader) ClusterCount() uint32 {
	return bsh.TotalSectorCount() / uint32(bsh.SectorsPerCluster)
}

// FatBits returns the width of a FAT entry: 12, 16, or 32.
func (bsh BootSectorHeader) FatBits() int {
	clusterCount := bsh.ClusterCount()

	if clusterCount < fat12ClusterLimit {
		return fat12Bits
	} else if clusterCount < fat16ClusterLimit {
		return fat16Bits
	}

	return fat32Bits
}

// FatOffset is the absolute offset of the first FAT.
func (bsh BootSectorHeader) FatOffset() int64 {
	return int64(bsh.ReservedSectors) * int64(bsh.BytesPerSector)
}

// FatSize is the size of one FAT copy in bytes.
func (bsh BootSectorHeader) FatSize() int {
	return int(bsh.FatSectors) * int(bsh.BytesPerSector)
}

// RootDirectoryOffset is the absolute offset of the fixed root-directory
// region.
func (bsh BootSectorHeader) RootDirectoryOffset() int64 {
	sectors := int64(bsh.ReservedSectors) + int64(bsh.NumberOfFats)*int64(bsh.FatSectors)
	return sectors * int64(bsh.BytesPerSector)
}

// RootDirectorySize is the size of the root-directory region in bytes.
func (bsh BootSectorHeader) RootDirectorySize() int64 {
	return int64(bsh.RootEntries) * directoryEntryBytesCount
}

// DataRegionOffset is the absolute offset of cluster (2).
func (bsh BootSectorHeader) DataRegionOffset() int64 {
	return bsh.RootDirectoryOffset() + bsh.RootDirectorySize()
}

// VolumeLabel returns the extended-BPB label without padding.
func (bsh BootSectorHeader) VolumeLabel() string {
	return string(bytes.TrimRight(bsh.VolumeLabelRaw[:], " \x00"))
}

// FileSystemType returns the informational type string ("FAT12   ", etc.)
// without padding. This is never used to decide the actual type.
func (bsh BootSectorHeader) FileSystemType() string {
	return string(bytes.TrimRight(bsh.FileSystemTypeRaw[:], " \x00"))
}

// Dump prints all of the BPB parameters along with the common calculated ones.
func (bsh BootSectorHeader) Dump() {
	fmt.Printf("Boot Sector Header\n")
	fmt.Printf("==================\n")
	fmt.Printf("\n")

	fmt.Printf("OemName: [%s]\n", string(bytes.TrimRight(bsh.OemName[:], " \x00")))
	fmt.Printf("BytesPerSector: (%d)\n", bsh.BytesPerSector)
	fmt.Printf("SectorsPerCluster: (%d)\n", bsh.SectorsPerCluster)
	fmt.Printf("ReservedSectors: (%d)\n", bsh.ReservedSectors)
	fmt.Printf("NumberOfFats: (%d)\n", bsh.NumberOfFats)
	fmt.Printf("RootEntries: (%d)\n", bsh.RootEntries)
	fmt.Printf("SectorCount: (%d)\n", bsh.SectorCount)
	fmt.Printf("MediaType: (0x%02x)\n", bsh.MediaType)
	fmt.Printf("FatSectors: (%d)\n", bsh.FatSectors)
	fmt.Printf("SectorsPerTrack: (%d)\n", bsh.SectorsPerTrack)
	fmt.Printf("NumberOfHeads: (%d)\n", bsh.NumberOfHeads)
	fmt.Printf("HiddenSectors: (%d)\n", bsh.HiddenSectors)
	fmt.Printf("TotalSectors: (%d)\n", bsh.TotalSectors)
	fmt.Printf("\n")

	fmt.Printf("DriveNumber: (0x%02x)\n", bsh.DriveNumber)
	fmt.Printf("ExtendedSignature: (0x%02x)\n", bsh.ExtendedSignature)
	fmt.Printf("SerialNumber: (0x%08x)\n", bsh.SerialNumber)
	fmt.Printf("VolumeLabel: [%s]\n", bsh.VolumeLabel())
	fmt.Printf("FileSystemType: [%s]\n", bsh.FileSystemType())
	fmt.Printf("BootSignature: (0x%04x)\n", bsh.BootSignature)
	fmt.Printf("\n")

	volumeSize := uint64(bsh.TotalSectorCount()) * uint64(bsh.BytesPerSector)

	fmt.Printf("-> Volume size: %s\n", humanize.Bytes(volumeSize))
	fmt.Printf("-> Cluster size: %s\n", humanize.Bytes(uint64(bsh.ClusterSize())))
	fmt.Printf("-> Clusters: (%d) (suggests FAT%d)\n", bsh.ClusterCount(), bsh.FatBits())
	fmt.Printf("-> FAT offset: (%d) size: (%d)\n", bsh.FatOffset(), bsh.FatSize())
	fmt.Printf("-> Root directory offset: (%d)\n", bsh.RootDirectoryOffset())
	fmt.Printf("-> Data region offset: (%d)\n", bsh.DataRegionOffset())
	fmt.Printf("\n")
}

// String returns a description of BSH.
func (bsh BootSectorHeader) String() string {
	return fmt.Sprintf("BootSector<SN=(0x%08x) LABEL=[%s] FAT-BITS=(%d)>", bsh.SerialNumber, bsh.VolumeLabel(), bsh.FatBits())
}

// FatReader knows where to find all of the statically-located structures and
// how to parse them, and how to find clusters and chains of clusters.
type FatReader struct {
	source Source

	bsh BootSectorHeader
	fat Fat
}

// NewFatReader returns a new instance of FatReader.
func NewFatReader(source Source) *FatReader {
	return &FatReader{
		source: source,
	}
}

// Parse loads the boot sector and the first FAT. This is always a small read
// (does not scale with the amount of data on the volume).
func (fr *FatReader) Parse() (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(errRaw).Name(), errRaw)
			}
		}
	}()

	raw := readExact(fr.source, 0, bootSectorHeaderSize)

	bsh, err := parseBootSectorHeader(raw)
	log.PanicIf(err)

	fr.bsh = bsh

	fatOffset := bsh.FatOffset()
	fatSize := bsh.FatSize()

	readerLogger.Debugf(nil, "First FAT starting at byte (%d), length (%d).", fatOffset, fatSize)

	// Only the first copy is read. The others are redundant for our purposes.
	fr.fat = Fat(readExact(fr.source, fatOffset, fatSize))

	readerLogger.Debugf(nil, "Root directory starting at byte (%d).", bsh.RootDirectoryOffset())

	return nil
}

// BootSector returns the parsed boot-sector header.
func (fr *FatReader) BootSector() BootSectorHeader {
	return fr.bsh
}

// FatBits returns the FAT width of the volume.
func (fr *FatReader) FatBits() int {
	return fr.bsh.FatBits()
}

// Fat returns the raw first FAT.
func (fr *FatReader) Fat() Fat {
	return fr.fat
}

// Source returns the source that the volume is being read from.
func (fr *FatReader) Source() Source {
	return fr.source
}

// NextCluster returns the FAT value for the given cluster.
func (fr *FatReader) NextCluster(clusterNumber uint32) (mc MappedCluster, err error) {
	return fr.fat.NextCluster(fr.FatBits(), clusterNumber)
}

func (fr *FatReader) clusterOffset(clusterNumber uint32) int64 {
	fatBits := fr.FatBits()
	if fatBits != fat12Bits && fatBits != fat16Bits {
		log.PanicIf(newClusterError(ErrUnsupportedFatType, clusterNumber))
	}

	if clusterNumber == 0 {
		// A ".." entry that refers to the root directory.
		return fr.bsh.RootDirectoryOffset()
	} else if clusterNumber == 1 {
		log.PanicIf(newClusterError(ErrInvalidCluster, clusterNumber))
	}

	offset := fr.bsh.DataRegionOffset() + int64(clusterNumber-2)*int64(fr.bsh.ClusterSize())

	readerLogger.Debugf(nil, "Cluster (%d) has offset (%d).", clusterNumber, offset)

	return offset
}

// ClusterOffset returns the absolute offset of the given cluster. Cluster (0)
// is the root-directory sentinel and returns the start of the root-directory
// region.
func (fr *FatReader) ClusterOffset(clusterNumber uint32) (offset int64, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(errRaw).Name(), errRaw)
			}
		}
	}()

	offset = fr.clusterOffset(clusterNumber)
	return offset, nil
}

// ClusterVisitorFunc is a visitor callback as all clusters in the chain are
// visited.
type ClusterVisitorFunc func(clusterNumber uint32, offset int64) (doContinue bool, err error)

// EnumerateClusters calls the given callback for each cluster in the chain
// starting from the given cluster.
func (fr *FatReader) EnumerateClusters(startingClusterNumber uint32, cb ClusterVisitorFunc) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(errRaw).Name(), errRaw)
			}
		}
	}()

	fatBits := fr.FatBits()
	if fatBits != fat12Bits && fatBits != fat16Bits {
		log.PanicIf(newClusterError(ErrUnsupportedFatType, startingClusterNumber))
	}

	if startingClusterNumber < 2 {
		log.PanicIf(newClusterError(ErrInvalidCluster, startingClusterNumber))
	}

	// A chain can not be longer than the table without revisiting a cluster.
	limit := fr.fat.EntryCount(fatBits)

	currentClusterNumber := startingClusterNumber
	for visited := uint32(0); ; visited++ {
		if visited >= limit {
			log.PanicIf(newClusterError(ErrClusterLoop, startingClusterNumber))
		}

		offset := fr.clusterOffset(currentClusterNumber)

		doContinue, err := cb(currentClusterNumber, offset)
		log.PanicIf(err)

		if doContinue == false {
			break
		}

		mc, err := fr.fat.NextCluster(fatBits, currentClusterNumber)
		log.PanicIf(err)

		if mc.IsLast() == true {
			break
		} else if mc.IsNext() == false {
			log.PanicIf(newClusterError(ErrInvalidCluster, mc.Value))
		}

		readerLogger.Debugf(nil, "Cluster (%d) -> (%d).", currentClusterNumber, mc.Value)

		currentClusterNumber = mc.Value
	}

	return nil
}

// ClusterChain returns every cluster in the chain starting with the given
// one.
func (fr *FatReader) ClusterChain(startingClusterNumber uint32) (chain []uint32, err error) {
	chain = make([]uint32, 0)

	cb := func(clusterNumber uint32, offset int64) (bool, error) {
		chain = append(chain, clusterNumber)
		return true, nil
	}

	err = fr.EnumerateClusters(startingClusterNumber, cb)
	if err != nil {
		return nil, err
	}

	return chain, nil
}

// WriteFromClusterChain writes `dataSize` bytes from the cluster chain
// starting at the given cluster.
func (fr *FatReader) WriteFromClusterChain(firstClusterNumber uint32, dataSize uint32, w io.Writer) (visitedClusters []uint32, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(errRaw).Name(), errRaw)
			}
		}
	}()

	visitedClusters = make([]uint32, 0)

	if dataSize == 0 {
		return visitedClusters, nil
	}

	clusterSize := fr.bsh.ClusterSize()
	remaining := dataSize
	lastOffset := int64(-1)

	cb := func(clusterNumber uint32, offset int64) (doContinue bool, err error) {
		visitedClusters = append(visitedClusters, clusterNumber)
		lastOffset = offset

		length := clusterSize
		if remaining < length {
			length = remaining
		}

		data := readExact(fr.source, offset, int(length))

		_, err = w.Write(data)
		log.PanicIf(err)

		remaining -= length

		return remaining > 0, nil
	}

	err = fr.EnumerateClusters(firstClusterNumber, cb)
	log.PanicIf(err)

	if remaining != 0 {
		// The chain ended before the data did.
		log.PanicIf(newOffsetError(ErrShortRead, lastOffset))
	}

	return visitedClusters, nil
}
