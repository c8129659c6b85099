// Package file holds the record that flows through a deploy run.
package file

import (
	"crypto/md5"
	"encoding/hex"
	"net/textproto"
	"slices"
	"strings"
	"time"
)

// ContentType tags the encoding of a payload.
type ContentType string

const (
	Raw  ContentType = "raw"
	Gzip ContentType = "gzip"
)

// Source describes the local file.
type Source struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// Dest is the identity of a file on the remote store.
type Dest struct {
	Base     string `json:"base"`
	Relative string `json:"relative"`
	Absolute string `json:"absolute"`
}

// NewDest joins a relative key under base.
func NewDest(base, relative string) Dest {
	relative = strings.TrimPrefix(relative, "/")
	abs := relative
	if base != "" {
		abs = strings.TrimSuffix(base, "/") + "/" + relative
	}
	return Dest{Base: base, Relative: relative, Absolute: abs}
}

// Content is the payload sent to the remote store.
type Content struct {
	Type ContentType `json:"type"`
	Data []byte      `json:"-"`
	Size int64       `json:"size"`
	MD5  string      `json:"md5"`
}

// NewContent fingerprints data.
func NewContent(typ ContentType, data []byte) *Content {
	sum := md5.Sum(data)
	return &Content{
		Type: typ,
		Data: data,
		Size: int64(len(data)),
		MD5:  hex.EncodeToString(sum[:]),
	}
}

// Header is one publish-time metadata entry.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Headers is an ordered set of headers keyed by canonical name.
type Headers []Header

// Get returns the value of the named header, or "".
func (h Headers) Get(name string) string {
	name = textproto.CanonicalMIMEHeaderKey(name)
	for _, hd := range h {
		if hd.Name == name {
			return hd.Value
		}
	}
	return ""
}

// Set replaces the named header in place or appends it. An empty value
// removes the header.
func (h Headers) Set(name, value string) Headers {
	name = textproto.CanonicalMIMEHeaderKey(name)
	for i, hd := range h {
		if hd.Name != name {
			continue
		}
		if value == "" {
			return append(h[:i:i], h[i+1:]...)
		}
		h[i].Value = value
		return h
	}
	if value == "" {
		return h
	}
	return append(h, Header{Name: name, Value: value})
}

// Fingerprint digests the headers. Order does not matter.
func (h Headers) Fingerprint() string {
	lines := make([]string, 0, len(h))
	for _, hd := range h {
		lines = append(lines, hd.Name+":"+hd.Value)
	}
	slices.Sort(lines)
	return digest(strings.Join(lines, "\n"))
}

// RemoteOptions are storage attributes that do not change content bytes.
type RemoteOptions struct {
	ACL          string `json:"acl,omitempty" yaml:"acl" mapstructure:"acl"`
	StorageClass string `json:"storageClass,omitempty" yaml:"storageClass" mapstructure:"storageClass"`
}

// Fingerprint digests the options.
func (o *RemoteOptions) Fingerprint() string {
	if o == nil {
		return digest("")
	}
	return digest(o.ACL + "\n" + o.StorageClass)
}

// Snapshot is what the cache remembers about a key after a successful sync.
type Snapshot struct {
	Content  string    `json:"content"`
	Headers  string    `json:"headers"`
	Remote   string    `json:"remote"`
	SyncedAt time.Time `json:"syncedAt"`
}

// SnapshotOf fingerprints a prepared file.
func SnapshotOf(f *File) *Snapshot {
	s := &Snapshot{
		Headers:  f.Headers.Fingerprint(),
		Remote:   f.Remote.Fingerprint(),
		SyncedAt: time.Now().UTC(),
	}
	if f.Content != nil {
		s.Content = f.Content.MD5
	}
	return s
}

// Compare reports, per facet, whether the snapshot matches the file.
func (s *Snapshot) Compare(f *File) StatusDetails {
	if s == nil {
		return Uniform(Missing)
	}
	cur := SnapshotOf(f)
	return StatusDetails{
		Content: sameOrDifferent(s.Content == cur.Content),
		Headers: sameOrDifferent(s.Headers == cur.Headers),
		Remote:  sameOrDifferent(s.Remote == cur.Remote),
	}
}

// File is the unit of work of a run.
type File struct {
	Src     *Source        `json:"src,omitempty"`
	Dest    Dest           `json:"dest"`
	Content *Content       `json:"content,omitempty"`
	Headers Headers        `json:"headers,omitempty"`
	Remote  *RemoteOptions `json:"remote,omitempty"`

	// Cache is the snapshot read for Dest.Relative, nil when absent or ignored.
	Cache *Snapshot `json:"cache,omitempty"`
	// LocalDetails compares the file with Cache.
	LocalDetails *StatusDetails `json:"localDetails,omitempty"`

	Status        ActionStatus   `json:"status"`
	StatusDetails *StatusDetails `json:"statusDetails,omitempty"`
	State         State          `json:"state"`
	Err           error          `json:"-"`
}

// Key returns the cache and reconciliation key.
func (f *File) Key() string {
	return f.Dest.Relative
}

// Size is the number of bytes the file accounts for: the payload when
// prepared, the source otherwise.
func (f *File) Size() int64 {
	switch {
	case f.Content != nil:
		return f.Content.Size
	case f.Src != nil:
		return f.Src.Size
	}
	return 0
}

func sameOrDifferent(same bool) RemoteStatus {
	if same {
		return Same
	}
	return Different
}

func digest(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
