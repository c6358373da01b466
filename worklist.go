package fat

import (
	"fmt"
)

// ScheduledDirectory is a directory waiting to be scanned.
type ScheduledDirectory struct {
	FirstCluster uint32
	Name         string
}

func (sd ScheduledDirectory) String() string {
	return fmt.Sprintf("ScheduledDirectory<NAME=[%s] CLUSTER=(%d)>", sd.Name, sd.FirstCluster)
}

// Worklist is an ordered queue of pending directories. Items are held by value
// and addressed by their current index.
type Worklist struct {
	items []ScheduledDirectory
}

// NewWorklist returns an empty worklist.
func NewWorklist() *Worklist {
	return &Worklist{
		items: make([]ScheduledDirectory, 0),
	}
}

// Len returns the number of pending directories.
func (wl *Worklist) Len() int {
	return len(wl.items)
}

// PushBack appends to the tail.
func (wl *Worklist) PushBack(sd ScheduledDirectory) {
	wl.items = append(wl.items, sd)
}

// InsertAfter places the item directly after the given index and returns the
// index that it landed at. An index of (-1) inserts at the front.
func (wl *Worklist) InsertAfter(index int, sd ScheduledDirectory) int {
	if index < -1 || index >= len(wl.items) {
		index = len(wl.items) - 1
	}

	at := index + 1

	wl.items = append(wl.items, ScheduledDirectory{})
	copy(wl.items[at+1:], wl.items[at:])
	wl.items[at] = sd

	return at
}

// PopFront removes and returns the head.
func (wl *Worklist) PopFront() (sd ScheduledDirectory, found bool) {
	if len(wl.items) == 0 {
		return sd, false
	}

	sd = wl.items[0]

	wl.items[0] = ScheduledDirectory{}
	wl.items = wl.items[1:]

	return sd, true
}

// Items returns a copy of the pending directories, head first.
func (wl *Worklist) Items() []ScheduledDirectory {
	items := make([]ScheduledDirectory, len(wl.items))
	copy(items, wl.items)

	return items
}
