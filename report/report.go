// Package report renders run progress as plain text lines.
package report

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"

	"github.com/sandeepkandula/poosh/config"
	"github.com/sandeepkandula/poosh/file"
	poosh "github.com/sandeepkandula/poosh/sync"
)

var (
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	blue   = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	gray   = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

var tags = map[file.ActionStatus]lipgloss.Style{
	file.Created:   green,
	file.Updated:   blue,
	file.Deleted:   red,
	file.Identical: gray,
	file.Unchanged: gray,
}

var tagNames = map[file.ActionStatus]string{
	file.Created:   "[created]",
	file.Updated:   "[updated]",
	file.Deleted:   "[deleted]",
	file.Identical: "[identic]",
	file.Unchanged: "[unchang]",
}

// Logger prints one line per file and a summary. Verbosity 0 shows files
// that changed or failed, 1 shows every file, 2 adds the cache and remote
// comparison, 3 the sizes and 4 a dump of the record.
type Logger struct {
	mu        sync.Mutex
	w         io.Writer
	verbosity int
	policy    config.Policy
	styled    bool
}

// NewLogger writes to w. styled enables colors.
func NewLogger(w io.Writer, policy config.Policy, verbosity int, styled bool) *Logger {
	return &Logger{w: w, verbosity: verbosity, policy: policy, styled: styled}
}

func (l *Logger) render(s lipgloss.Style, text string) string {
	if !l.styled {
		return text
	}
	return s.Render(text)
}

// Warnings echoes the force and read-only modes.
func (l *Logger) Warnings() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range WarningLines(l.policy) {
		fmt.Fprintln(l.w, l.render(red.Underline(true), line))
	}
}

// WarningLines describes the active force and read-only modes.
func WarningLines(p config.Policy) []string {
	var lines []string
	switch {
	case p.Force.Remote && p.Force.Cache:
		lines = append(lines, "REMOTE & CACHE are FORCED (neither remote nor local changes are trusted).")
	case p.Force.Remote:
		lines = append(lines, "REMOTE is FORCED (every file is checked against the remote).")
	case p.Force.Cache:
		lines = append(lines, "CACHE is FORCED (cached snapshots are ignored).")
	}
	switch {
	case p.ReadOnly.Remote && p.ReadOnly.Cache:
		lines = append(lines, "REMOTE & CACHE are READ-ONLY (no changes at all are committed).")
	case p.ReadOnly.Remote:
		lines = append(lines, "REMOTE is READ-ONLY (nothing is uploaded or deleted).")
	case p.ReadOnly.Cache:
		lines = append(lines, "CACHE is READ-ONLY (only the remote is updated).")
	}
	return lines
}

// Listen is a sync.Listener.
func (l *Logger) Listen(ev poosh.Event) {
	if ev.Type != poosh.EventFile || ev.File == nil {
		return
	}
	f := ev.File
	if l.verbosity == 0 && f.Err == nil && !f.Status.Writes() && f.Status != file.Deleted {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, l.FileLine(f))
	for _, line := range l.VerboseLines(f) {
		fmt.Fprintln(l.w, "  - "+line)
	}
}

// FileLine is the one line summary of a file.
func (l *Logger) FileLine(f *file.File) string {
	dest := f.Dest.Absolute
	if f.Err != nil {
		return fmt.Sprintf("%s %s: %v", l.render(red.Bold(true), "[failed ]"), dest, f.Err)
	}
	tag, ok := tagNames[f.Status]
	if !ok {
		tag = "[unknown]"
	}
	line := l.render(tags[f.Status], tag) + " " + dest
	if (f.Status.Writes() || f.Status == file.Deleted) && !l.policy.WriteRemote() {
		line += l.render(yellow, " (read-only)")
	}
	return line
}

// VerboseLines returns the detail lines for the logger's verbosity.
func (l *Logger) VerboseLines(f *file.File) []string {
	var lines []string
	if l.verbosity >= 2 {
		lines = append(lines, "local status : "+detailsLine(f.LocalDetails))
		lines = append(lines, "dest. status : "+detailsLine(f.StatusDetails))
	}
	if l.verbosity >= 3 && f.Src != nil {
		line := "size: " + humanize.Bytes(uint64(f.Src.Size))
		if f.Content != nil && f.Content.Type != file.Raw {
			line += fmt.Sprintf(", compressed (%s): %s", f.Content.Type, humanize.Bytes(uint64(f.Content.Size)))
		}
		lines = append(lines, line)
	}
	if l.verbosity >= 4 {
		data, err := json.MarshalIndent(f, "    ", "  ")
		if err != nil {
			lines = append(lines, "file object: "+err.Error())
		} else {
			lines = append(lines, "file object:\n    "+string(data))
		}
	}
	return lines
}

func detailsLine(d *file.StatusDetails) string {
	if d == nil {
		return "unknown"
	}
	return fmt.Sprintf("%s [content=%s, headers=%s, remote=%s]", d.Overall(), d.Content, d.Headers, d.Remote)
}

// Finish prints the summary of a run.
func (l *Logger) Finish(s poosh.StatsSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w)
	for _, line := range SummaryLines(s) {
		fmt.Fprintln(l.w, line)
	}
}

// SummaryLines describes the statistics of a run.
func SummaryLines(s poosh.StatsSnapshot) []string {
	lines := []string{
		fmt.Sprintf("Matched files: %s (%s).", humanize.Comma(int64(s.Match.Count)), humanize.Bytes(uint64(s.Match.Size))),
		fmt.Sprintf("Uploaded files: %s (%s)%s", humanize.Comma(int64(s.Upload.Done)), humanize.Bytes(uint64(s.Upload.Size)), doneSuffix(s.Upload)),
	}
	if s.Command == string(poosh.CommandSync) {
		lines = append(lines, fmt.Sprintf("Deleted remote files: %s (%s)%s",
			humanize.Comma(int64(s.Delete.Done)), humanize.Bytes(uint64(s.Delete.Size)), doneSuffix(s.Delete)))
	}
	lines = append(lines, fmt.Sprintf("Elapsed time: %s.", s.Elapsed().Round(time.Millisecond)))

	a := s.Action
	stat := strings.Join([]string{
		plural(a.Creation, "creation"),
		plural(a.Update, "update"),
		plural(a.Deletion, "deletion"),
		plural(a.Skips(), "skip"),
	}, ", ")
	if a.Failure > 0 {
		stat += ", " + plural(a.Failure, "failure")
	}
	return append(lines, stat+".")
}

func doneSuffix(c poosh.Counter) string {
	if c.Count > 0 && c.Done == c.Count {
		return ", done."
	}
	return "."
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return humanize.Comma(int64(n)) + " " + word + "s"
}
