package source

import (
	"path"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// SidecarSuffix marks per-file metadata documents. They are never deployed.
const SidecarSuffix = ".poosh.yaml"

var defaultIgnoreLines = []string{
	".poosh.*",
	"*" + SidecarSuffix,
	".git/",
	".DS_Store",
	"Thumbs.db",
}

// IgnoreList decides which local paths are left out of a run. Patterns use
// gitignore syntax and match slash separated paths relative to the base dir.
type IgnoreList struct {
	ignore *gitignore.GitIgnore
}

func NewIgnoreList(lines ...string) *IgnoreList {
	all := make([]string, 0, len(defaultIgnoreLines)+len(lines))
	all = append(all, defaultIgnoreLines...)
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			all = append(all, l)
		}
	}
	return &IgnoreList{ignore: gitignore.CompileIgnoreLines(all...)}
}

// ShouldIgnore reports whether rel is excluded. Directories are matched with a
// trailing slash so that "dir/" patterns prune the whole subtree.
func (l *IgnoreList) ShouldIgnore(rel string, isDir bool) bool {
	rel = strings.TrimPrefix(path.Clean(rel), "/")
	if isDir {
		return l.ignore.MatchesPath(rel + "/")
	}
	return l.ignore.MatchesPath(rel)
}
