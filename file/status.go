package file

// ActionStatus is the terminal classification of a file for one run.
type ActionStatus uint8

const (
	Unknown ActionStatus = iota
	Created
	Updated
	Deleted
	Identical
	Unchanged
)

var actionStatusNames = []string{
	"unknown",
	"created",
	"updated",
	"deleted",
	"identical",
	"unchanged",
}

func (s ActionStatus) String() string {
	if int(s) >= len(actionStatusNames) {
		return actionStatusNames[Unknown]
	}
	return actionStatusNames[s]
}

// Writes reports whether the status requires a remote write.
func (s ActionStatus) Writes() bool {
	return s == Created || s == Updated
}

// RemoteStatus is the outcome of comparing one facet, or a whole file,
// against what the remote store (or the cache) holds.
type RemoteStatus uint8

const (
	Missing RemoteStatus = iota
	Same
	Different
)

var remoteStatusNames = []string{"missing", "same", "different"}

func (s RemoteStatus) String() string {
	if int(s) >= len(remoteStatusNames) {
		return "invalid"
	}
	return remoteStatusNames[s]
}

// StatusDetails holds a per-facet comparison.
type StatusDetails struct {
	Content RemoteStatus `json:"content"`
	Headers RemoteStatus `json:"headers"`
	Remote  RemoteStatus `json:"remote"`
}

// Uniform returns details where every facet has the same status.
func Uniform(s RemoteStatus) StatusDetails {
	return StatusDetails{Content: s, Headers: s, Remote: s}
}

// Overall folds the facets into one status: Missing when the content is
// missing, Same when every facet is Same, Different otherwise.
func (d StatusDetails) Overall() RemoteStatus {
	switch {
	case d.Content == Missing:
		return Missing
	case d.Content == Same && d.Headers == Same && d.Remote == Same:
		return Same
	default:
		return Different
	}
}

// State tracks a file through a run.
type State uint8

const (
	Pending State = iota
	ProbingRemote
	TrustingCache
	Classified
	Executing
	Skipped
	Done
	Failed
)

var stateNames = []string{
	"pending",
	"probing-remote",
	"trusting-cache",
	"classified",
	"executing",
	"skipped",
	"done",
	"failed",
}

func (s State) String() string {
	if int(s) >= len(stateNames) {
		return "invalid"
	}
	return stateNames[s]
}

func (s ActionStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
func (s RemoteStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
func (s State) MarshalText() ([]byte, error)        { return []byte(s.String()), nil }
