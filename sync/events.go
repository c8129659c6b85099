package sync

import "github.com/sandeepkandula/poosh/file"

// EventType identifies a progress event.
type EventType uint8

const (
	EventStart EventType = iota
	// EventMatch is emitted for every local file found.
	EventMatch
	// EventFile is emitted once per key when it reaches a terminal state.
	EventFile
	// EventUpload is emitted when an upload is scheduled or completes.
	EventUpload
	// EventDelete is emitted when a key is buffered or a batch is flushed.
	EventDelete
	EventFinish
)

var eventNames = [...]string{"start", "match", "file", "upload", "delete", "finish"}

func (t EventType) String() string {
	if int(t) < len(eventNames) {
		return eventNames[t]
	}
	return "unknown"
}

// Event carries a statistics snapshot taken right after the change it reports.
type Event struct {
	Type  EventType
	File  *file.File
	Files []*file.File
	Stats StatsSnapshot
}

// Listener receives events. It is called synchronously and must not block.
type Listener func(Event)
