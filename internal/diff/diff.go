// Package diff renders the previews the Edit Staging Handler attaches to
// a staged proposal: either a unified-diff text, or a list of per-file
// before/after code blocks truncated to a configured maximum line count.
//
// Diff computation uses the sergi/go-diff line-hashed Myers diff:
// reduce lines to single runes via DiffLinesToChars, run DiffMain +
// DiffCleanupSemantic on the reduced text, then expand back with
// DiffCharsToLines. The unified text lists every line of the file with
// its " ", "-" or "+" prefix; it is not grouped into context hunks and
// carries no "@@" hunk headers.
package diff

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Mode selects which preview representation to build.
type Mode string

const (
	ModeCodeBlocks  Mode = "code_blocks"
	ModeUnifiedDiff Mode = "unified_diff"
)

// FilePair is a single file's before/after preview in code-block mode.
type FilePair struct {
	Path      string
	Before    string
	After     string
	Truncated bool
}

// Preview is the staged proposal's rendered preview, in exactly one mode.
type Preview struct {
	Mode         Mode
	UnifiedText  string
	PerFilePairs []FilePair
}

var engine = diffmatchpatch.New()

func init() {
	// Favor accuracy over latency for preview diffs: with no timeout, diff
	// time is unbounded and can grow quadratically on very large files.
	engine.DiffTimeout = 0
}

// BuildCodeBlockPreview renders before/after pairs for each file, each
// truncated to maxLines with an explicit truncation footer appended when
// content was cut.
func BuildCodeBlockPreview(files []FilePair, maxLines uint32) Preview {
	out := make([]FilePair, 0, len(files))
	for _, f := range files {
		before, beforeCut := truncate(f.Before, maxLines)
		after, afterCut := truncate(f.After, maxLines)
		out = append(out, FilePair{
			Path:      f.Path,
			Before:    before,
			After:     after,
			Truncated: beforeCut || afterCut,
		})
	}
	return Preview{Mode: ModeCodeBlocks, PerFilePairs: out}
}

// BuildUnifiedDiffPreview renders a single unified-diff text spanning all
// files, in before/after pairs order.
func BuildUnifiedDiffPreview(files []FilePair) Preview {
	var sb strings.Builder
	for _, f := range files {
		sb.WriteString(unifiedDiffForFile(f.Path, f.Before, f.After))
	}
	return Preview{Mode: ModeUnifiedDiff, UnifiedText: sb.String()}
}

func truncate(content string, maxLines uint32) (string, bool) {
	if maxLines == 0 {
		return content, false
	}
	lines := strings.Split(content, "\n")
	if uint32(len(lines)) <= maxLines {
		return content, false
	}
	kept := strings.Join(lines[:maxLines], "\n")
	return fmt.Sprintf("%s\n... (truncated, %d more lines)", kept, uint32(len(lines))-maxLines), true
}

func unifiedDiffForFile(path, before, after string) string {
	a, b, lineArray := engine.DiffLinesToChars(before, after)
	diffs := engine.DiffMain(a, b, false)
	diffs = engine.DiffCleanupSemantic(diffs)
	diffs = engine.DiffCharsToLines(diffs, lineArray)

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- a/%s\n+++ b/%s\n", path, path)
	for _, d := range diffs {
		lines := strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n")
		var prefix string
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			prefix = " "
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		}
		for _, line := range lines {
			sb.WriteString(prefix)
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
