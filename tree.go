package fat

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/dsoprea/go-logging"
)

const (
	defaultPathSeparator = "/"
)

var (
	treeLogger = log.NewLogger("fat.tree")
)

// TreeOptions adjusts how the tree is walked and presented.
type TreeOptions struct {
	// StrictChecksums discards long names whose checksum does not match
	// their short entry.
	StrictChecksums bool

	// Separator joins path components. Defaults to "/".
	Separator string
}

// ListingEntry is one short entry as found during the walk.
type ListingEntry struct {
	// Path is the absolute path of the directory that holds the entry.
	Path string

	// Name is the long name if there is one and the 8.3 name otherwise.
	Name string

	IsDirectory  bool
	Size         uint32
	ModifiedDate FatDate
	ModifiedTime FatTime
	FirstCluster uint16
	Attributes   FileAttributes

	ShortEntry *ShortDirectoryEntry

	separator string
}

// FullPath returns the absolute path of the entry itself.
func (le ListingEntry) FullPath() string {
	separator := le.separator
	if separator == "" {
		separator = defaultPathSeparator
	}

	return joinPath(separator, le.Path, le.Name)
}

func (le ListingEntry) String() string {
	return fmt.Sprintf("ListingEntry<PATH=[%s] DIR=[%v] SIZE=(%d) CLUSTER=(%d)>", le.FullPath(), le.IsDirectory, le.Size, le.FirstCluster)
}

func joinPath(separator, parentPath, name string) string {
	if name == "" {
		return parentPath
	}

	if strings.HasSuffix(parentPath, separator) == true {
		return parentPath + name
	}

	return parentPath + separator + name
}

// Tree walks the whole directory hierarchy of a volume.
type Tree struct {
	fr      *FatReader
	options TreeOptions

	paths map[uint32]string
}

// NewTree returns a tree with the default options.
func NewTree(fr *FatReader) *Tree {
	return NewTreeWithOptions(fr, TreeOptions{})
}

// NewTreeWithOptions returns a tree with the given options.
func NewTreeWithOptions(fr *FatReader, options TreeOptions) *Tree {
	if options.Separator == "" {
		options.Separator = defaultPathSeparator
	}

	return &Tree{
		fr:      fr,
		options: options,
		paths:   make(map[uint32]string),
	}
}

// Separator returns the path separator in use.
func (tree *Tree) Separator() string {
	return tree.options.Separator
}

func (tree *Tree) navigator(clusterNumber uint32) *FatNavigator {
	fn := NewFatNavigator(tree.fr, clusterNumber)
	fn.SetStrictChecksums(tree.options.StrictChecksums)

	return fn
}

func (tree *Tree) newListingEntry(directoryPath string, sde *ShortDirectoryEntry, longFilename string) ListingEntry {
	name := longFilename
	if name == "" {
		name = sde.ShortName()
	}

	return ListingEntry{
		Path:         directoryPath,
		Name:         name,
		IsDirectory:  sde.IsDirectory(),
		Size:         sde.FileSize,
		ModifiedDate: sde.ModifiedDate,
		ModifiedTime: sde.ModifiedTime,
		FirstCluster: sde.FirstCluster,
		Attributes:   sde.Attributes,
		ShortEntry:   sde,
		separator:    tree.options.Separator,
	}
}

// DirectoryPath returns the absolute path of the directory that starts at the
// given cluster. The path is rebuilt from the on-disk ".." entries: the
// parent's path is resolved first and then the parent is searched for the
// entry that points at this directory.
func (tree *Tree) DirectoryPath(clusterNumber uint32) (directoryPath string, err error) {
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

	resolving := make(map[uint32]struct{})

	directoryPath = tree.directoryPath(clusterNumber, resolving)
	return directoryPath, nil
}

func (tree *Tree) directoryPath(clusterNumber uint32, resolving map[uint32]struct{}) string {
	separator := tree.options.Separator

	if clusterNumber == RootDirectoryCluster {
		return separator
	}

	if directoryPath, found := tree.paths[clusterNumber]; found == true {
		return directoryPath
	}

	if _, found := resolving[clusterNumber]; found == true {
		log.PanicIf(newClusterError(ErrClusterLoop, clusterNumber))
	}

	resolving[clusterNumber] = struct{}{}

	parentClusterNumber, found, err := tree.navigator(clusterNumber).FindParentCluster()
	log.PanicIf(err)

	directoryPath := separator

	if found == false {
		treeLogger.Debugf(nil, "Directory at cluster (%d) has no parent entry. Treating as root.", clusterNumber)
	} else {
		parentPath := tree.directoryPath(parentClusterNumber, resolving)

		ide, found, err := tree.navigator(parentClusterNumber).FindEntryByCluster(clusterNumber)
		log.PanicIf(err)

		if found == false {
			log.PanicIf(newClusterError(ErrInvalidCluster, clusterNumber))
		}

		directoryPath = joinPath(separator, parentPath, ide.Filename())
	}

	delete(resolving, clusterNumber)
	tree.paths[clusterNumber] = directoryPath

	treeLogger.Debugf(nil, "Directory at cluster (%d) resolved to [%s].", clusterNumber, directoryPath)

	return directoryPath
}

// TreeVisitorFunc receives every entry in walk order.
type TreeVisitorFunc func(le ListingEntry) (err error)

// Walk scans every directory, starting with the root, and calls the callback
// for every short entry in each (including "." and ".."). Subdirectories are
// scheduled directly after the previously-scheduled sibling so that the walk
// is depth-first: the children of the most recently found directory are
// scanned before its later siblings.
func (tree *Tree) Walk(cb TreeVisitorFunc) (err error) {
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

	wl := NewWorklist()

	wl.PushBack(ScheduledDirectory{
		FirstCluster: RootDirectoryCluster,
		Name:         tree.options.Separator,
	})

	scanned := make(map[uint32]struct{})

	for {
		sd, found := wl.PopFront()
		if found == false {
			break
		}

		if _, found := scanned[sd.FirstCluster]; found == true {
			log.PanicIf(newClusterError(ErrClusterLoop, sd.FirstCluster))
		}

		scanned[sd.FirstCluster] = struct{}{}

		resolving := make(map[uint32]struct{})
		directoryPath := tree.directoryPath(sd.FirstCluster, resolving)

		treeLogger.Debugf(nil, "Scanning [%s] at cluster (%d).", directoryPath, sd.FirstCluster)

		insertAfter := -1

		dvf := func(sde *ShortDirectoryEntry, longFilename string, offset int64) (doContinue bool, err error) {
			le := tree.newListingEntry(directoryPath, sde, longFilename)

			err = cb(le)
			log.PanicIf(err)

			if sde.IsDirectory() == false || sde.IsDot() == true || sde.IsDotDot() == true {
				return true, nil
			}

			if sde.FirstCluster < 2 {
				log.PanicIf(newOffsetError(ErrInvalidCluster, offset))
			}

			child := ScheduledDirectory{
				FirstCluster: uint32(sde.FirstCluster),
				Name:         le.Name,
			}

			insertAfter = wl.InsertAfter(insertAfter, child)

			treeLogger.Debugf(nil, "Scheduled %s at position (%d).", child, insertAfter)

			return true, nil
		}

		_, err := tree.navigator(sd.FirstCluster).EnumerateDirectoryEntries(dvf)
		log.PanicIf(err)
	}

	return nil
}

// List walks the tree and returns every entry in walk order.
func (tree *Tree) List() (entries []ListingEntry, err error) {
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

	entries = make([]ListingEntry, 0)

	cb := func(le ListingEntry) (err error) {
		entries = append(entries, le)
		return nil
	}

	err = tree.Walk(cb)
	log.PanicIf(err)

	return entries, nil
}

// Lookup finds the entry at the given absolute path. Components may be given
// as long or short names. The root itself is returned as a directory entry
// with no short entry.
func (tree *Tree) Lookup(filepath string) (le ListingEntry, found bool, err error) {
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

	separator := tree.options.Separator

	pathParts := make([]string, 0)
	for _, part := range strings.Split(filepath, separator) {
		if part == "" || part == "." {
			continue
		}

		pathParts = append(pathParts, part)
	}

	le = ListingEntry{
		Path:        separator,
		IsDirectory: true,
		Attributes:  AttributeDirectory,
		separator:   separator,
	}

	directoryPath := separator
	clusterNumber := uint32(RootDirectoryCluster)

	for i, part := range pathParts {
		if i > 0 && le.IsDirectory == false {
			return le, false, nil
		}

		index, _, err := tree.navigator(clusterNumber).IndexDirectoryEntries()
		log.PanicIf(err)

		ide, found := index.FindIndexedFile(part)

		if found == false {
			return le, false, nil
		}

		le = tree.newListingEntry(directoryPath, ide.ShortEntry, ide.LongFilename)

		directoryPath = le.FullPath()
		clusterNumber = uint32(ide.ShortEntry.FirstCluster)
	}

	return le, true, nil
}
