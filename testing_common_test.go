package fat

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"
	"github.com/spf13/afero"
)

const (
	testImageFilepath = "/images/test.img"
)

// testImageBuilder lays out a small, synthetic volume in memory. Every
// cluster is one 512-byte sector.
type testImageBuilder struct {
	bsh BootSectorHeader
	raw []byte
}

func newTestImageBuilder(fatBits int) *testImageBuilder {
	bsh := BootSectorHeader{
		JumpBoot:          [3]byte{0xeb, 0x3c, 0x90},
		BytesPerSector:    512,
		SectorsPerCluster: 1,
		ReservedSectors:   1,
		NumberOfFats:      2,
		RootEntries:       16,
		MediaType:         0xf8,
		SectorsPerTrack:   32,
		NumberOfHeads:     2,
		DriveNumber:       0x80,
		ExtendedSignature: 0x29,
		SerialNumber:      0x1234abcd,
		BootSignature:     requiredBootSignature,
	}

	copy(bsh.OemName[:], "MSWIN4.1")
	copy(bsh.VolumeLabelRaw[:], "TESTVOL    ")

	switch fatBits {
	case fat12Bits:
		bsh.SectorCount = 64
		bsh.FatSectors = 1

		copy(bsh.FileSystemTypeRaw[:], "FAT12   ")
	case fat16Bits:
		bsh.SectorCount = 8192
		bsh.FatSectors = 32

		copy(bsh.FileSystemTypeRaw[:], "FAT16   ")
	case fat32Bits:
		bsh.TotalSectors = 70000
		bsh.FatSectors = 1

		copy(bsh.FileSystemTypeRaw[:], "FAT32   ")
	default:
		log.Panicf("fat-bits not valid: (%d)", fatBits)
	}

	size := int64(bsh.TotalSectorCount()) * int64(bsh.BytesPerSector)
	if fatBits == fat32Bits {
		// Only the structures up front are ever touched.
		size = bsh.DataRegionOffset() + 16*int64(bsh.BytesPerSector)
	}

	tib := &testImageBuilder{
		bsh: bsh,
		raw: make([]byte, size),
	}

	tib.writeBootSector()

	// The two reserved FAT entries: media type and end-of-chain.
	tib.setFat(0, 0xfff00|uint32(bsh.MediaType))
	tib.setFat(1, 0xffffffff)

	return tib
}

func (tib *testImageBuilder) writeBootSector() {
	raw, err := restruct.Pack(defaultEncoding, &tib.bsh)
	log.PanicIf(err)

	copy(tib.raw[:bootSectorHeaderSize], raw)
}

func (tib *testImageBuilder) fatBits() int {
	return tib.bsh.FatBits()
}

func (tib *testImageBuilder) endOfChain() uint32 {
	return uint32(1)<<uint(tib.fatBits()) - 1
}

// setFat stores the value for the given cluster in every FAT copy.
func (tib *testImageBuilder) setFat(cluster, value uint32) {
	fatBits := tib.fatBits()

	value &= uint32(1)<<uint(fatBits) - 1

	for i := 0; i < int(tib.bsh.NumberOfFats); i++ {
		fat := tib.raw[tib.bsh.FatOffset()+int64(i*tib.bsh.FatSize()):]

		switch fatBits {
		case fat12Bits:
			offset := (cluster/2)*3 + cluster%2
			current := binary.LittleEndian.Uint16(fat[offset:])

			if cluster%2 == 1 {
				current = current&0x000f | uint16(value)<<4
			} else {
				current = current&0xf000 | uint16(value)
			}

			binary.LittleEndian.PutUint16(fat[offset:], current)
		case fat16Bits:
			binary.LittleEndian.PutUint16(fat[cluster*2:], uint16(value))
		default:
			binary.LittleEndian.PutUint32(fat[cluster*4:], value)
		}
	}
}

// setChain links the clusters in the given order and terminates the chain.
func (tib *testImageBuilder) setChain(clusters ...uint32) {
	for i, cluster := range clusters {
		if i < len(clusters)-1 {
			tib.setFat(cluster, clusters[i+1])
		} else {
			tib.setFat(cluster, tib.endOfChain())
		}
	}
}

func (tib *testImageBuilder) clusterOffset(cluster uint32) int64 {
	return tib.bsh.DataRegionOffset() + int64(cluster-2)*int64(tib.bsh.ClusterSize())
}

func (tib *testImageBuilder) directory(clusters ...uint32) *testDirectoryWriter {
	return &testDirectoryWriter{
		tib:      tib,
		clusters: clusters,
	}
}

func (tib *testImageBuilder) fs() afero.Fs {
	fs := afero.NewMemMapFs()

	err := afero.WriteFile(fs, testImageFilepath, tib.raw, 0644)
	log.PanicIf(err)

	return fs
}

func (tib *testImageBuilder) source() *FileSource {
	source, err := NewFileSource(tib.fs(), testImageFilepath)
	log.PanicIf(err)

	return source
}

func (tib *testImageBuilder) reader() *FatReader {
	fr := NewFatReader(tib.source())

	err := fr.Parse()
	log.PanicIf(err)

	return fr
}

// testDirectoryWriter appends slots to the root region (no clusters) or to the
// given clusters of a subdirectory.
type testDirectoryWriter struct {
	tib      *testImageBuilder
	clusters []uint32
	slot     int
}

func (tdw *testDirectoryWriter) slotOffset(slot int) int64 {
	if len(tdw.clusters) == 0 {
		return tdw.tib.bsh.RootDirectoryOffset() + int64(slot)*directoryEntryBytesCount
	}

	slotsPerCluster := int(tdw.tib.bsh.ClusterSize()) / directoryEntryBytesCount
	cluster := tdw.clusters[slot/slotsPerCluster]

	return tdw.tib.clusterOffset(cluster) + int64(slot%slotsPerCluster)*directoryEntryBytesCount
}

func (tdw *testDirectoryWriter) add(raw []byte) int64 {
	offset := tdw.slotOffset(tdw.slot)
	copy(tdw.tib.raw[offset:offset+directoryEntryBytesCount], raw)

	tdw.slot++

	return offset
}

func (tdw *testDirectoryWriter) addShort(name, extension string, attributes FileAttributes, firstCluster uint16, size uint32) int64 {
	return tdw.add(makeShortEntry(name, extension, attributes, firstCluster, size))
}

func (tdw *testDirectoryWriter) addLong(longFilename, name, extension string, attributes FileAttributes, firstCluster uint16, size uint32) int64 {
	short := makeShortEntry(name, extension, attributes, firstCluster, size)

	for _, fragment := range makeLongFilenameEntries(longFilename, shortEntryChecksum(short)) {
		tdw.add(fragment)
	}

	return tdw.add(short)
}

// addDots writes the "." and ".." entries of a subdirectory.
func (tdw *testDirectoryWriter) addDots(parentCluster uint16) {
	tdw.addShort(".", "", AttributeDirectory, uint16(tdw.clusters[0]), 0)
	tdw.addShort("..", "", AttributeDirectory, parentCluster, 0)
}

func (tdw *testDirectoryWriter) addDeleted(name, extension string) int64 {
	raw := makeShortEntry(name, extension, AttributeArchive, 0, 0)
	raw[0] = entryMarkerDeleted

	return tdw.add(raw)
}

var (
	testModifiedTime = FatTime(13<<11 | 45<<5 | 30/2)
	testModifiedDate = FatDate((2019-1980)<<9 | 9<<5 | 14)
)

func makeShortEntry(name, extension string, attributes FileAttributes, firstCluster uint16, size uint32) []byte {
	raw := make([]byte, directoryEntryBytesCount)

	copy(raw[0:11], "           ")
	copy(raw[0:8], name)
	copy(raw[8:11], extension)

	raw[attributesByteOffset] = byte(attributes)

	binary.LittleEndian.PutUint16(raw[22:], uint16(testModifiedTime))
	binary.LittleEndian.PutUint16(raw[24:], uint16(testModifiedDate))
	binary.LittleEndian.PutUint16(raw[26:], firstCluster)
	binary.LittleEndian.PutUint32(raw[28:], size)

	return raw
}

func shortEntryChecksum(raw []byte) uint8 {
	sum := uint8(0)
	for _, c := range raw[:11] {
		sum = ((sum & 1) << 7) + (sum >> 1) + c
	}

	return sum
}

// makeLongFilenameEntries returns the fragments for the name in on-disk order
// (last fragment first).
func makeLongFilenameEntries(longFilename string, checksum uint8) [][]byte {
	units := utf16.Encode([]rune(longFilename))

	if len(units)%lfnCharactersPerEntry != 0 {
		units = append(units, 0)

		for len(units)%lfnCharactersPerEntry != 0 {
			units = append(units, 0xffff)
		}
	}

	count := len(units) / lfnCharactersPerEntry
	fragments := make([][]byte, 0, count)

	for sequence := count; sequence >= 1; sequence-- {
		chunk := units[(sequence-1)*lfnCharactersPerEntry : sequence*lfnCharactersPerEntry]

		sequenceNumber := uint8(sequence)
		if sequence == count {
			sequenceNumber |= lfnLastFragmentFlag
		}

		fragments = append(fragments, makeLongFilenameEntry(sequenceNumber, chunk, checksum))
	}

	return fragments
}

func makeLongFilenameEntry(sequenceNumber uint8, chunk []uint16, checksum uint8) []byte {
	if len(chunk) != lfnCharactersPerEntry {
		log.Panicf("fragment must have (%d) characters: (%d)", lfnCharactersPerEntry, len(chunk))
	}

	raw := make([]byte, directoryEntryBytesCount)

	raw[0] = sequenceNumber
	raw[attributesByteOffset] = byte(AttributeLongFilename)
	raw[13] = checksum

	positions := []int{1, 3, 5, 7, 9, 14, 16, 18, 20, 22, 24, 28, 30}
	for i, position := range positions {
		binary.LittleEndian.PutUint16(raw[position:], chunk[i])
	}

	return raw
}

func testFileContent(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}

	return data
}

const (
	testLongFilename39 = "abcdefghijklmnopqrstuvwxyz0123456789ABC"
	testReadmeSize     = 700
)

// newStandardTestImage builds:
//
//   /                  (root region)
//     TESTVOL          volume label
//     A/               cluster 2
//       C/             clusters 5 -> 9
//         FILE00.DAT .. FILE13.DAT (fill cluster 5)
//         LAST.BIN     (cluster 9)
//       (deleted entry)
//       NOTES.TXT      empty
//     B/               cluster 3
//       <39-character long name>   cluster 6
//     Read me first.txt (README.TXT) clusters 4 -> 8
func newStandardTestImage(fatBits int) *testImageBuilder {
	tib := newTestImageBuilder(fatBits)

	root := tib.directory()
	root.addShort("TESTVOL", "", AttributeVolumeLabel|AttributeArchive, 0, 0)
	root.addShort("A", "", AttributeDirectory, 2, 0)
	root.addShort("B", "", AttributeDirectory, 3, 0)
	root.addLong("Read me first.txt", "README", "TXT", AttributeArchive, 4, testReadmeSize)

	tib.setChain(2)
	a := tib.directory(2)
	a.addDots(0)
	a.addShort("C", "", AttributeDirectory, 5, 0)
	a.addDeleted("OLD", "TXT")
	a.addShort("NOTES", "TXT", AttributeArchive, 0, 0)

	tib.setChain(5, 9)
	c := tib.directory(5, 9)
	c.addDots(2)

	for i := 0; i < 14; i++ {
		c.addShort(fmt.Sprintf("FILE%02d", i), "DAT", AttributeArchive, 0, 0)
	}

	c.addShort("LAST", "BIN", AttributeArchive, 7, 10)

	tib.setChain(3)
	b := tib.directory(3)
	b.addDots(0)
	b.addLong(testLongFilename39, "ABCDEF~1", "", AttributeArchive, 6, 5)

	tib.setChain(6)
	copy(tib.raw[tib.clusterOffset(6):], "hello")

	tib.setChain(7)
	copy(tib.raw[tib.clusterOffset(7):], "0123456789")

	tib.setChain(4, 8)

	content := testFileContent(testReadmeSize)
	clusterSize := int(tib.bsh.ClusterSize())

	copy(tib.raw[tib.clusterOffset(4):], content[:clusterSize])
	copy(tib.raw[tib.clusterOffset(8):], content[clusterSize:])

	return tib
}
