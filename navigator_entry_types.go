package fat

import (
	"bytes"
	"fmt"
	"reflect"
	"time"

	"github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"
)

const (
	entryMarkerEndOfDirectory = 0x00
	entryMarkerDeleted        = 0xe5

	// A short name whose first character really is 0xE5 is stored as 0x05.
	entryMarkerEscapedE5 = 0x05

	attributesByteOffset = 11

	lfnSequenceNumberMask = 0x1f
	lfnLastFragmentFlag   = 0x40
	lfnCharactersPerEntry = 13

	maxLongFilenameLength = 260
)

// EntryClass is the kind of a raw 32-byte directory slot.
type EntryClass int

const (
	EntryClassEnd EntryClass = iota
	EntryClassDeleted
	EntryClassShort
	EntryClassLongFilename
)

func (ec EntryClass) String() string {
	switch ec {
	case EntryClassEnd:
		return "End"
	case EntryClassDeleted:
		return "Deleted"
	case EntryClassShort:
		return "Short"
	case EntryClassLongFilename:
		return "LongFilename"
	}

	return fmt.Sprintf("EntryClass<(%d)>", int(ec))
}

// ClassifyEntry decides how a raw directory slot is to be interpreted.
func ClassifyEntry(raw []byte) EntryClass {
	switch raw[0] {
	case entryMarkerEndOfDirectory:
		return EntryClassEnd
	case entryMarkerDeleted:
		return EntryClassDeleted
	}

	if FileAttributes(raw[attributesByteOffset]) == AttributeLongFilename {
		return EntryClassLongFilename
	}

	return EntryClassShort
}

// FileAttributes is the attribute byte of a directory entry.
type FileAttributes uint8

const (
	AttributeReadOnly    FileAttributes = 0x01
	AttributeHidden      FileAttributes = 0x02
	AttributeSystem      FileAttributes = 0x04
	AttributeVolumeLabel FileAttributes = 0x08
	AttributeDirectory   FileAttributes = 0x10
	AttributeArchive     FileAttributes = 0x20

	// AttributeLongFilename marks a VFAT fragment. No real file can carry all
	// four of these at once.
	AttributeLongFilename = AttributeReadOnly | AttributeHidden | AttributeSystem | AttributeVolumeLabel
)

func (fa FileAttributes) IsReadOnly() bool {
	return fa&AttributeReadOnly > 0
}

func (fa FileAttributes) IsHidden() bool {
	return fa&AttributeHidden > 0
}

func (fa FileAttributes) IsSystem() bool {
	return fa&AttributeSystem > 0
}

func (fa FileAttributes) IsVolumeLabel() bool {
	return fa&AttributeVolumeLabel > 0
}

func (fa FileAttributes) IsDirectory() bool {
	return fa&AttributeDirectory > 0
}

func (fa FileAttributes) IsArchive() bool {
	return fa&AttributeArchive > 0
}

func (fa FileAttributes) String() string {
	return fmt.Sprintf("FileAttributes<IS-READONLY=[%v] IS-HIDDEN=[%v] IS-SYSTEM=[%v] IS-VOLUME-LABEL=[%v] IS-DIRECTORY=[%v] IS-ARCHIVE=[%v]>",
		fa.IsReadOnly(), fa.IsHidden(), fa.IsSystem(), fa.IsVolumeLabel(), fa.IsDirectory(), fa.IsArchive())
}

// FatDate is a packed date: day in bits 0-4, month in bits 5-8, and years
// since 1980 in bits 9-15.
type FatDate uint16

func (fd FatDate) Day() int {
	return int(fd & 0x1f)
}

func (fd FatDate) Month() int {
	return int(fd&0x1e0) >> 5
}

func (fd FatDate) Year() int {
	return 1980 + int(fd>>9)
}

// IsValid indicates whether the day and month are non-zero.
func (fd FatDate) IsValid() bool {
	return fd.Day() != 0 && fd.Month() != 0
}

func (fd FatDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", fd.Year(), fd.Month(), fd.Day())
}

// FatTime is a packed time with two-second granularity: seconds/2 in bits
// 0-4, minutes in bits 5-10, and hours in bits 11-15.
type FatTime uint16

func (ft FatTime) Second() int {
	return int(ft&0x1f) * 2
}

func (ft FatTime) Minute() int {
	return int(ft&0x7e0) >> 5
}

func (ft FatTime) Hour() int {
	return int(ft >> 11)
}

func (ft FatTime) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", ft.Hour(), ft.Minute(), ft.Second())
}

// Timestamp combines a date and a time. An invalid date produces the zero
// time.
func Timestamp(fd FatDate, ft FatTime) time.Time {
	if fd.IsValid() == false {
		return time.Time{}
	}

	return time.Date(fd.Year(), time.Month(fd.Month()), fd.Day(), ft.Hour(), ft.Minute(), ft.Second(), 0, time.UTC)
}

type DirectoryEntry interface {
	TypeName() string
}

// DumpableDirectoryEntry is a directory entry that can print its detail.
type DumpableDirectoryEntry interface {
	Dump()
}

// ShortDirectoryEntry is the canonical 8.3 entry. It carries the cluster,
// size, and timestamps of the file even when a long name is presented.
type ShortDirectoryEntry struct {
	Name      [8]byte
	Extension [3]byte

	Attributes FileAttributes

	NtReserved      uint8
	CreateTimeTenth uint8
	CreateTime      FatTime
	CreateDate      FatDate
	LastAccessDate  FatDate

	// FirstClusterHigh is only meaningful on FAT32.
	FirstClusterHigh uint16

	ModifiedTime FatTime
	ModifiedDate FatDate

	FirstCluster uint16
	FileSize     uint32
}

var (
	dotName    = [8]byte{'.', ' ', ' ', ' ', ' ', ' ', ' ', ' '}
	dotDotName = [8]byte{'.', '.', ' ', ' ', ' ', ' ', ' ', ' '}
)

// ShortName returns the 8.3 name as "NAME.EXT", or just "NAME" if there is no
// extension.
func (sde ShortDirectoryEntry) ShortName() string {
	name := sde.Name
	if name[0] == entryMarkerEscapedE5 {
		name[0] = entryMarkerDeleted
	}

	filename := UnicodeFromCodePage437(bytes.TrimRight(name[:], " "))

	if sde.Extension[0] != ' ' {
		filename += "." + UnicodeFromCodePage437(bytes.TrimRight(sde.Extension[:], " "))
	}

	return filename
}

// IsDot indicates the "." entry of a subdirectory.
func (sde ShortDirectoryEntry) IsDot() bool {
	return sde.Name == dotName
}

// IsDotDot indicates the ".." entry of a subdirectory.
func (sde ShortDirectoryEntry) IsDotDot() bool {
	return sde.Name == dotDotName
}

// IsDirectory indicates whether this entry describes a directory.
func (sde ShortDirectoryEntry) IsDirectory() bool {
	return sde.Attributes.IsDirectory()
}

// ModifiedTimestamp returns the last-modified date/time.
func (sde ShortDirectoryEntry) ModifiedTimestamp() time.Time {
	return Timestamp(sde.ModifiedDate, sde.ModifiedTime)
}

// Checksum is the VFAT checksum of the 11-byte name that the long-filename
// fragments preceding this entry must carry.
func (sde ShortDirectoryEntry) Checksum() uint8 {
	sum := uint8(0)

	for _, c := range sde.Name {
		sum = (sum&1)<<7 + sum>>1 + c
	}

	for _, c := range sde.Extension {
		sum = (sum&1)<<7 + sum>>1 + c
	}

	return sum
}

func (sde ShortDirectoryEntry) String() string {
	return fmt.Sprintf("ShortDirectoryEntry<NAME=[%s] ATTRIBUTES=(0x%02x) FIRST-CLUSTER=(%d) SIZE=(%d) MTIME=[%s %s]>", sde.ShortName(), uint8(sde.Attributes), sde.FirstCluster, sde.FileSize, sde.ModifiedDate, sde.ModifiedTime)
}

func (sde ShortDirectoryEntry) Dump() {
	fmt.Printf("Short Directory Entry\n")
	fmt.Printf("=====================\n")
	fmt.Printf("\n")

	fmt.Printf("Name: [%s]\n", sde.ShortName())
	fmt.Printf("Attributes: (0x%02x)\n", uint8(sde.Attributes))
	fmt.Printf("CreateTimestamp: [%s %s] (+%dms)\n", sde.CreateDate, sde.CreateTime, int(sde.CreateTimeTenth)*10)
	fmt.Printf("LastAccessDate: [%s]\n", sde.LastAccessDate)
	fmt.Printf("ModifiedTimestamp: [%s %s]\n", sde.ModifiedDate, sde.ModifiedTime)
	fmt.Printf("FirstCluster: (%d)\n", sde.FirstCluster)
	fmt.Printf("FileSize: (%d)\n", sde.FileSize)

	fmt.Printf("\n")
}

func (ShortDirectoryEntry) TypeName() string {
	return "Short"
}

// LongFilenameDirectoryEntry is one VFAT fragment holding up to thirteen
// UTF-16 characters of a long name.
type LongFilenameDirectoryEntry struct {
	SequenceNumber uint8
	Name1          [5]uint16

	Attributes FileAttributes
	EntryType  uint8
	Checksum   uint8

	Name2 [6]uint16

	// FirstCluster is always zero.
	FirstCluster uint16

	Name3 [2]uint16
}

// Sequence returns the position (1-based) of this fragment within the name.
func (lfnde LongFilenameDirectoryEntry) Sequence() int {
	return int(lfnde.SequenceNumber & lfnSequenceNumberMask)
}

// IsLastFragment indicates the fragment holding the end of the name. It is
// stored first.
func (lfnde LongFilenameDirectoryEntry) IsLastFragment() bool {
	return lfnde.SequenceNumber&lfnLastFragmentFlag > 0
}

// Characters returns the thirteen raw code units in name order.
func (lfnde LongFilenameDirectoryEntry) Characters() []uint16 {
	units := make([]uint16, 0, lfnCharactersPerEntry)

	units = append(units, lfnde.Name1[:]...)
	units = append(units, lfnde.Name2[:]...)
	units = append(units, lfnde.Name3[:]...)

	return units
}

func (lfnde LongFilenameDirectoryEntry) String() string {
	return fmt.Sprintf("LongFilenameDirectoryEntry<SEQUENCE=(%d) LAST=[%v] CHECKSUM=(0x%02x) TEXT=[%s]>", lfnde.Sequence(), lfnde.IsLastFragment(), lfnde.Checksum, UnicodeFromUtf16(lfnde.Characters()))
}

func (lfnde LongFilenameDirectoryEntry) Dump() {
	fmt.Printf("Long-Filename Directory Entry\n")
	fmt.Printf("=============================\n")
	fmt.Printf("\n")

	fmt.Printf("Sequence: (%d)\n", lfnde.Sequence())
	fmt.Printf("IsLastFragment: [%v]\n", lfnde.IsLastFragment())
	fmt.Printf("Checksum: (0x%02x)\n", lfnde.Checksum)
	fmt.Printf("Text: [%s]\n", UnicodeFromUtf16(lfnde.Characters()))

	fmt.Printf("\n")
}

func (LongFilenameDirectoryEntry) TypeName() string {
	return "LongFilename"
}

var (
	// directoryEntryParsers maps each class that has a payload to the struct
	// that its 32 bytes unpack into.
	directoryEntryParsers = map[EntryClass]reflect.Type{
		EntryClassShort:        reflect.TypeOf(ShortDirectoryEntry{}),
		EntryClassLongFilename: reflect.TypeOf(LongFilenameDirectoryEntry{}),
	}
)

func parseDirectoryEntry(entryClass EntryClass, directoryEntryData []byte) (parsed DirectoryEntry, err error) {
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

	structType, found := directoryEntryParsers[entryClass]
	if found == false {
		log.Panicf("no struct-type recorded for entry-class: %s", entryClass)
	}

	s := reflect.New(structType)
	x := s.Interface()

	err = restruct.Unpack(directoryEntryData, defaultEncoding, x)
	log.PanicIf(err)

	return x.(DirectoryEntry), nil
}

// LongFilenameAssembler accumulates the fragments of one long name in the
// order that they are encountered on disk.
type LongFilenameAssembler struct {
	units     [maxLongFilenameLength]uint16
	length    int
	checksum  uint8
	fragments int
}

// Reset forgets any pending fragments.
func (lfa *LongFilenameAssembler) Reset() {
	*lfa = LongFilenameAssembler{}
}

// Add places the characters of the given fragment. A last-fragment (which is
// always stored first) starts a new name.
func (lfa *LongFilenameAssembler) Add(lfnde *LongFilenameDirectoryEntry) error {
	if lfnde.IsLastFragment() == true {
		lfa.Reset()
		lfa.checksum = lfnde.Checksum
	}

	sequence := lfnde.Sequence()
	if sequence == 0 {
		// Not a possible position. Ignore the fragment.
		return nil
	}

	offset := (sequence - 1) * lfnCharactersPerEntry
	if offset+lfnCharactersPerEntry > maxLongFilenameLength {
		return newOffsetError(ErrLfnOverflow, int64(offset))
	}

	copy(lfa.units[offset:offset+lfnCharactersPerEntry], lfnde.Characters())

	if offset+lfnCharactersPerEntry > lfa.length {
		lfa.length = offset + lfnCharactersPerEntry
	}

	lfa.fragments++

	return nil
}

// HasFragments indicates whether any fragments are pending.
func (lfa *LongFilenameAssembler) HasFragments() bool {
	return lfa.fragments > 0
}

// Checksum returns the checksum carried by the group's last-fragment.
func (lfa *LongFilenameAssembler) Checksum() uint8 {
	return lfa.checksum
}

// Filename returns the assembled name, truncated at the terminator.
func (lfa *LongFilenameAssembler) Filename() string {
	return UnicodeFromUtf16(lfa.units[:lfa.length])
}
