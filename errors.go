package fat

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidBootSector indicates that the boot-sector data was not a
	// complete, 512-byte sector.
	ErrInvalidBootSector = errors.New("invalid boot sector")

	// ErrInvalidGeometry indicates that a BPB field that we have to divide by
	// (or multiply into an offset) was zero or otherwise unusable.
	ErrInvalidGeometry = errors.New("invalid volume geometry")

	// ErrShortRead indicates that fewer bytes were available than a fixed-size
	// structure requires.
	ErrShortRead = errors.New("short read")

	// ErrUnsupportedFatType indicates a FAT32 volume.
	ErrUnsupportedFatType = errors.New("unsupported FAT type")

	// ErrInvalidCluster indicates a cluster that can not be used to address
	// the data region (0 or 1, free/reserved/bad in the middle of a chain, or
	// beyond the table).
	ErrInvalidCluster = errors.New("invalid cluster")

	// ErrLfnOverflow indicates a long-filename fragment that would place
	// characters beyond the 260-character maximum.
	ErrLfnOverflow = errors.New("long filename overflow")

	// ErrClusterLoop indicates a cluster chain or a directory ancestry that
	// refers back to itself.
	ErrClusterLoop = errors.New("cluster loop")
)

// FatError carries the failure kind along with where it happened. Offset is
// -1 if not applicable.
type FatError struct {
	Err     error
	Offset  int64
	Cluster uint32
}

func newOffsetError(kind error, offset int64) *FatError {
	return &FatError{
		Err:    kind,
		Offset: offset,
	}
}

func newClusterError(kind error, cluster uint32) *FatError {
	return &FatError{
		Err:     kind,
		Offset:  -1,
		Cluster: cluster,
	}
}

func (fe *FatError) Error() string {
	if fe.Offset >= 0 {
		return fmt.Sprintf("%s: offset (%d) cluster (%d)", fe.Err, fe.Offset, fe.Cluster)
	}

	return fmt.Sprintf("%s: cluster (%d)", fe.Err, fe.Cluster)
}

func (fe *FatError) Unwrap() error {
	return fe.Err
}
