// This package supports enumerating/indexing the entries for a single
// directory.

package fat

import (
	"fmt"
	"reflect"

	"github.com/dsoprea/go-logging"
)

const (
	directoryEntryBytesCount = 32

	// RootDirectoryCluster is the cluster number that stands in for the root
	// directory. The root directory lives in a fixed region rather than in a
	// cluster chain, and ".." entries of its children carry this value.
	RootDirectoryCluster = 0
)

var (
	navigatorLogger = log.NewLogger("fat.navigator")
)

// FatNavigator knows how to get the entries of a single directory.
type FatNavigator struct {
	fr                 *FatReader
	firstClusterNumber uint32

	strictChecksums bool
}

// NewFatNavigator returns a new FatNavigator instance. Pass
// RootDirectoryCluster for the root directory.
func NewFatNavigator(fr *FatReader, firstClusterNumber uint32) (fn *FatNavigator) {
	return &FatNavigator{
		fr:                 fr,
		firstClusterNumber: firstClusterNumber,
	}
}

// SetStrictChecksums makes the navigator discard long names whose checksum
// does not match the short entry that follows them. The short name is used
// instead. This is never an error.
func (fn *FatNavigator) SetStrictChecksums(strictChecksums bool) {
	fn.strictChecksums = strictChecksums
}

// FirstClusterNumber returns the cluster of the directory being navigated.
func (fn *FatNavigator) FirstClusterNumber() uint32 {
	return fn.firstClusterNumber
}

// DirectoryEntryVisitorFunc is a function type used as a callback over each
// short directory entry. `longFilename` is empty if the entry was not preceded
// by a (valid) long name.
type DirectoryEntryVisitorFunc func(sde *ShortDirectoryEntry, longFilename string, offset int64) (doContinue bool, err error)

// slotScanner carries the long-name state across the clusters of one
// directory since fragments may straddle a cluster boundary.
type slotScanner struct {
	fn  *FatNavigator
	lfa LongFilenameAssembler
	cb  DirectoryEntryVisitorFunc
}

// scan visits the slots in [offset, endOffset) and returns true once the
// listing is finished (terminator found or the callback stopped it).
func (ss *slotScanner) scan(offset, endOffset int64) (isDone bool) {
	source := ss.fn.fr.source

	for ; offset+directoryEntryBytesCount <= endOffset; offset += directoryEntryBytesCount {
		navigatorLogger.Debugf(nil, "Reading from offset (%d).", offset)

		raw := readExact(source, offset, directoryEntryBytesCount)

		entryClass := ClassifyEntry(raw)

		switch entryClass {
		case EntryClassEnd:
			return true

		case EntryClassDeleted:
			ss.lfa.Reset()
			continue

		case EntryClassLongFilename:
			de, err := parseDirectoryEntry(entryClass, raw)
			log.PanicIf(err)

			lfnde := de.(*LongFilenameDirectoryEntry)

			err = ss.lfa.Add(lfnde)
			if err != nil {
				fe := err.(*FatError)
				fe.Offset = offset

				log.PanicIf(fe)
			}

			continue
		}

		de, err := parseDirectoryEntry(entryClass, raw)
		log.PanicIf(err)

		sde := de.(*ShortDirectoryEntry)

		longFilename := ""
		if ss.lfa.HasFragments() == true {
			if ss.fn.strictChecksums == false || ss.lfa.Checksum() == sde.Checksum() {
				longFilename = ss.lfa.Filename()
			} else {
				navigatorLogger.Debugf(nil, "Long-filename checksum mismatch at offset (%d): (0x%02x) != (0x%02x)", offset, ss.lfa.Checksum(), sde.Checksum())
			}

			ss.lfa.Reset()
		}

		doContinue, err := ss.cb(sde, longFilename, offset)
		log.PanicIf(err)

		if doContinue == false {
			return true
		}
	}

	return false
}

// EnumerateDirectoryEntries calls the callback for every short entry in the
// directory, in on-disk order. Deleted entries are skipped. Enumeration ends at
// the terminator entry or at the end of the directory's storage, whichever
// comes first.
func (fn *FatNavigator) EnumerateDirectoryEntries(cb DirectoryEntryVisitorFunc) (visitedClusters []uint32, err error) {
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

	fatBits := fn.fr.FatBits()
	if fatBits != fat12Bits && fatBits != fat16Bits {
		log.PanicIf(newClusterError(ErrUnsupportedFatType, fn.firstClusterNumber))
	}

	ss := &slotScanner{
		fn: fn,
		cb: cb,
	}

	visitedClusters = make([]uint32, 0)

	if fn.firstClusterNumber == RootDirectoryCluster {
		bsh := fn.fr.bsh
		offset := bsh.RootDirectoryOffset()

		ss.scan(offset, offset+bsh.RootDirectorySize())

		return visitedClusters, nil
	}

	clusterSize := int64(fn.fr.bsh.ClusterSize())

	cvf := func(clusterNumber uint32, offset int64) (doContinue bool, err error) {
		visitedClusters = append(visitedClusters, clusterNumber)

		isDone := ss.scan(offset, offset+clusterSize)
		return isDone == false, nil
	}

	err = fn.fr.EnumerateClusters(fn.firstClusterNumber, cvf)
	log.PanicIf(err)

	return visitedClusters, nil
}

// IndexedDirectoryEntry is one short entry along with the long name that
// preceded it.
type IndexedDirectoryEntry struct {
	ShortEntry   *ShortDirectoryEntry
	LongFilename string

	// Offset is the absolute offset of the short entry.
	Offset int64
}

// Filename returns the long name if there is one and the 8.3 name otherwise.
func (ide IndexedDirectoryEntry) Filename() string {
	if ide.LongFilename != "" {
		return ide.LongFilename
	}

	return ide.ShortEntry.ShortName()
}

func (ide IndexedDirectoryEntry) String() string {
	return fmt.Sprintf("IndexedDirectoryEntry<FILENAME=[%s] OFFSET=(%d) ENTRY=%s>", ide.Filename(), ide.Offset, ide.ShortEntry)
}

// DirectoryEntryIndex is every entry of one directory, in on-disk order.
type DirectoryEntryIndex []IndexedDirectoryEntry

// Dump prints a bunch of information about an index.
func (dei DirectoryEntryIndex) Dump() {
	fmt.Printf("Directory Entry Index\n")
	fmt.Printf("=====================\n")
	fmt.Printf("\n")

	for i, ide := range dei {
		fmt.Printf("# %d: [%s]\n", i, ide.Filename())
		fmt.Printf("\n")

		fmt.Printf("  Entry: %s\n", ide.ShortEntry)
		fmt.Printf("  Offset: (%d)\n", ide.Offset)
		fmt.Printf("  Attributes: %s\n", ide.ShortEntry.Attributes)

		fmt.Printf("\n")
	}
}

// Filenames returns a map of all filenames in the directory and whether they
// are directories or just files. The "." and ".." entries are excluded.
func (dei DirectoryEntryIndex) Filenames() (filenames map[string]bool) {
	filenames = make(map[string]bool, len(dei))

	for _, ide := range dei {
		if ide.ShortEntry.IsDot() == true || ide.ShortEntry.IsDotDot() == true {
			continue
		}

		filenames[ide.Filename()] = ide.ShortEntry.IsDirectory()
	}

	return filenames
}

// FindIndexedFile returns the entry for the given (long or short) filename.
// The "." and ".." entries never match.
func (dei DirectoryEntryIndex) FindIndexedFile(filename string) (ide IndexedDirectoryEntry, found bool) {
	for _, ide := range dei {
		if ide.ShortEntry.IsDot() == true || ide.ShortEntry.IsDotDot() == true {
			continue
		}

		if ide.Filename() == filename || ide.ShortEntry.ShortName() == filename {
			return ide, true
		}
	}

	return ide, false
}

// FindByFirstCluster returns the entry, other than "." and "..", whose data
// starts at the given cluster.
func (dei DirectoryEntryIndex) FindByFirstCluster(clusterNumber uint32) (ide IndexedDirectoryEntry, found bool) {
	for _, ide := range dei {
		if ide.ShortEntry.IsDot() == true || ide.ShortEntry.IsDotDot() == true {
			continue
		}

		if uint32(ide.ShortEntry.FirstCluster) == clusterNumber {
			return ide, true
		}
	}

	return ide, false
}

// IndexDirectoryEntries builds an index for the current directory.
func (fn *FatNavigator) IndexDirectoryEntries() (index DirectoryEntryIndex, visitedClusters []uint32, err error) {
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

	index = make(DirectoryEntryIndex, 0)

	cb := func(sde *ShortDirectoryEntry, longFilename string, offset int64) (doContinue bool, err error) {
		ide := IndexedDirectoryEntry{
			ShortEntry:   sde,
			LongFilename: longFilename,
			Offset:       offset,
		}

		index = append(index, ide)

		return true, nil
	}

	visitedClusters, err = fn.EnumerateDirectoryEntries(cb)
	log.PanicIf(err)

	return index, visitedClusters, nil
}

// FindParentCluster returns the first cluster of the parent directory as
// recorded by this directory's ".." entry. RootDirectoryCluster means that the
// parent is the root. `found` is false for the root directory itself (and for
// any directory that is missing its ".." entry).
func (fn *FatNavigator) FindParentCluster() (parentClusterNumber uint32, found bool, err error) {
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

	if fn.firstClusterNumber == RootDirectoryCluster {
		return 0, false, nil
	}

	cb := func(sde *ShortDirectoryEntry, longFilename string, offset int64) (doContinue bool, err error) {
		if sde.IsDotDot() == true {
			parentClusterNumber = uint32(sde.FirstCluster)
			found = true

			return false, nil
		}

		return true, nil
	}

	_, err = fn.EnumerateDirectoryEntries(cb)
	log.PanicIf(err)

	return parentClusterNumber, found, nil
}

// FindEntryByCluster returns the entry in this directory whose data starts at
// the given cluster. The "." and ".." entries never match.
func (fn *FatNavigator) FindEntryByCluster(clusterNumber uint32) (ide IndexedDirectoryEntry, found bool, err error) {
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

	cb := func(sde *ShortDirectoryEntry, longFilename string, offset int64) (doContinue bool, err error) {
		if sde.IsDot() == true || sde.IsDotDot() == true {
			return true, nil
		}

		if uint32(sde.FirstCluster) != clusterNumber {
			return true, nil
		}

		ide = IndexedDirectoryEntry{
			ShortEntry:   sde,
			LongFilename: longFilename,
			Offset:       offset,
		}

		found = true

		return false, nil
	}

	_, err = fn.EnumerateDirectoryEntries(cb)
	log.PanicIf(err)

	return ide, found, nil
}
