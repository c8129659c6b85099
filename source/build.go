package source

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"mime"
	"os"
	"path"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"gopkg.in/yaml.v3"

	"github.com/sandeepkandula/poosh/config"
	"github.com/sandeepkandula/poosh/file"
)

// Sidecar is the content of a <name>.poosh.yaml document. Its values override
// every rule for that one file.
type Sidecar struct {
	Headers map[string]string `yaml:"headers"`
	Remote  file.RemoteOptions `yaml:"remote"`
	Gzip    *bool              `yaml:"gzip"`
}

// Build reads the entry and prepares it for base: rules are applied in order
// (later rules win), then the sidecar, then the content type default and the
// optional gzip encoding.
func (t *Tree) Build(e Entry, base string) (*file.File, error) {
	data, err := os.ReadFile(e.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", e.Rel, err)
	}

	f := &file.File{
		Src:    &file.Source{Path: e.Path, Size: e.Size, ModTime: e.ModTime},
		Dest:   file.NewDest(base, e.Rel),
		Remote: &file.RemoteOptions{},
		State:  file.Pending,
	}

	var compress bool
	for _, rule := range t.rules {
		ok, err := doublestar.Match(rule.Match, e.Rel)
		if err != nil {
			return nil, &config.Error{Field: "each", Value: rule.Match, Msg: err.Error()}
		}
		if !ok {
			continue
		}
		f.Headers = setHeaders(f.Headers, rule.Headers)
		mergeRemote(f.Remote, file.RemoteOptions{ACL: rule.Remote.ACL, StorageClass: rule.Remote.StorageClass})
		if rule.Gzip {
			compress = true
		}
	}

	sc, err := readSidecar(e.Path + SidecarSuffix)
	if err != nil {
		return nil, err
	}
	if sc != nil {
		f.Headers = setHeaders(f.Headers, sc.Headers)
		mergeRemote(f.Remote, sc.Remote)
		if sc.Gzip != nil {
			compress = *sc.Gzip
		}
	}

	if f.Headers.Get("Content-Type") == "" {
		f.Headers = f.Headers.Set("Content-Type", detectContentType(e.Rel, data))
	}

	if !compress {
		f.Content = file.NewContent(file.Raw, data)
		return f, nil
	}

	zipped, err := gzipBytes(data)
	if err != nil {
		return nil, fmt.Errorf("gzip %s: %w", e.Rel, err)
	}
	f.Content = file.NewContent(file.Gzip, zipped)
	f.Headers = f.Headers.Set("Content-Encoding", "gzip")
	return f, nil
}

func setHeaders(h file.Headers, values map[string]string) file.Headers {
	for _, name := range slices.Sorted(maps.Keys(values)) {
		h = h.Set(name, values[name])
	}
	return h
}

func mergeRemote(dst *file.RemoteOptions, src file.RemoteOptions) {
	if src.ACL != "" {
		dst.ACL = src.ACL
	}
	if src.StorageClass != "" {
		dst.StorageClass = src.StorageClass
	}
}

func readSidecar(p string) (*Sidecar, error) {
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sidecar: %w", err)
	}
	var sc Sidecar
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, &config.Error{Field: "sidecar", Value: path.Base(p), Msg: err.Error()}
	}
	return &sc, nil
}

// detectContentType prefers the extension and sniffs the bytes when the
// extension is unknown.
func detectContentType(rel string, data []byte) string {
	if ct := mime.TypeByExtension(path.Ext(rel)); ct != "" {
		return ct
	}
	return mimetype.Detect(data).String()
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
