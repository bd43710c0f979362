// Package fileeditor implements the file editor executor (spec §4.5):
// view/create/str_replace/insert/undo_edit operations confined to a
// workspace root.
//
// str_replace's exact-then-normalized-then-fuzzy fallback chain and its
// similarity scoring are adapted from internal/tool/edit.go's
// EditTool.fuzzyReplace/findBestMatch/similarity; view's UTF-8/binary
// detection is adapted from internal/tool/read.go's binary heuristic. The
// undo stack and create/insert operations have no teacher equivalent and
// are added fresh per spec §4.5.
package fileeditor

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
)

// NotFoundError is returned when str_replace cannot locate old even after
// fuzzy fallback.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("fileeditor: old_string not found in %s", e.Path)
}

// AmbiguousError is returned when str_replace's target occurs more than once
// and ReplaceAll was not requested.
type AmbiguousError struct {
	Path  string
	Count int
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("fileeditor: old_string occurs %d times in %s; pass replace_all or add more context", e.Count, e.Path)
}

// PathEscapeError is returned when a requested path resolves outside the
// workspace root (§4.5: "must remain inside it, no .. escape").
type PathEscapeError struct {
	Path string
}

func (e *PathEscapeError) Error() string {
	return fmt.Sprintf("fileeditor: path %q escapes the workspace root", e.Path)
}

// BinaryFileError is returned when an operation other than view targets a
// binary file.
type BinaryFileError struct {
	Path string
}

func (e *BinaryFileError) Error() string {
	return fmt.Sprintf("fileeditor: %s is binary; only view is permitted", e.Path)
}

// Editor performs file operations rooted at a single workspace directory,
// keeping a per-path undo stack of pre-edit content.
type Editor struct {
	root string

	mu   sync.Mutex
	undo map[string][]string
}

// New constructs an Editor rooted at root.
func New(root string) *Editor {
	return &Editor{root: root, undo: make(map[string][]string)}
}

// resolve confines path to the workspace root.
func (e *Editor) resolve(path string) (string, error) {
	var abs string
	if filepath.IsAbs(path) {
		abs = filepath.Clean(path)
	} else {
		abs = filepath.Clean(filepath.Join(e.root, path))
	}
	rootClean := filepath.Clean(e.root)
	if abs != rootClean && !strings.HasPrefix(abs, rootClean+string(filepath.Separator)) {
		return "", &PathEscapeError{Path: path}
	}
	return abs, nil
}

func isBinary(data []byte) bool {
	if bytes.IndexByte(data, 0) >= 0 {
		return true
	}
	sample := data
	if len(sample) > 8000 {
		sample = sample[:8000]
	}
	nonPrintable := 0
	for _, b := range sample {
		if b < 0x09 || (b > 0x0d && b < 0x20) {
			nonPrintable++
		}
	}
	return len(sample) > 0 && float64(nonPrintable)/float64(len(sample)) > 0.3
}

// View returns file contents, or a shallow directory listing when path is a
// directory (§4.5).
func (e *Editor) View(path string) (string, error) {
	abs, err := e.resolve(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("fileeditor: view %s: %w", path, err)
	}
	if info.IsDir() {
		entries, err := os.ReadDir(abs)
		if err != nil {
			return "", fmt.Errorf("fileeditor: list %s: %w", path, err)
		}
		var b strings.Builder
		for _, ent := range entries {
			if ent.IsDir() {
				fmt.Fprintf(&b, "%s/\n", ent.Name())
			} else {
				fmt.Fprintf(&b, "%s\n", ent.Name())
			}
		}
		return b.String(), nil
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("fileeditor: read %s: %w", path, err)
	}
	if isBinary(data) {
		return "", &BinaryFileError{Path: path}
	}
	return numberLines(string(data)), nil
}

func numberLines(content string) string {
	lines := strings.Split(content, "\n")
	var b strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, line)
	}
	return b.String()
}

// Create writes a new file; it fails if the target already exists (§4.5).
func (e *Editor) Create(path, content string) error {
	abs, err := e.resolve(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err == nil {
		return fmt.Errorf("fileeditor: create %s: already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("fileeditor: create %s: %w", path, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return fmt.Errorf("fileeditor: create %s: %w", path, err)
	}
	return nil
}

// StrReplace replaces old with new, requiring old to occur exactly once
// (unless replaceAll), falling back to line-ending-normalized and then
// Levenshtein-fuzzy matching when no exact occurrence is found — adapted
// from EditTool.fuzzyReplace. It returns the file's pre- and post-edit
// content so callers can compute a diff.
func (e *Editor) StrReplace(path, old, newText string, replaceAll bool) (before, after string, err error) {
	abs, err := e.resolve(path)
	if err != nil {
		return "", "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", "", fmt.Errorf("fileeditor: str_replace %s: %w", path, err)
	}
	if isBinary(data) {
		return "", "", &BinaryFileError{Path: path}
	}
	text := string(data)

	count := strings.Count(text, old)
	var result string
	switch {
	case count == 0:
		result, err = e.fuzzyReplace(text, old, newText)
		if err != nil {
			return "", "", fmt.Errorf("fileeditor: str_replace %s: %w", path, err)
		}
	case count > 1 && !replaceAll:
		return "", "", &AmbiguousError{Path: path, Count: count}
	case replaceAll:
		result = strings.ReplaceAll(text, old, newText)
	default:
		result = strings.Replace(text, old, newText, 1)
	}

	e.pushUndo(abs, text)
	if err := os.WriteFile(abs, []byte(result), 0o644); err != nil {
		return "", "", err
	}
	return text, result, nil
}

func (e *Editor) fuzzyReplace(text, old, newText string) (string, error) {
	normOld := strings.ReplaceAll(old, "\r\n", "\n")
	normText := strings.ReplaceAll(text, "\r\n", "\n")
	if strings.Contains(normText, normOld) {
		return strings.Replace(normText, normOld, newText, 1), nil
	}

	match, sim := findBestMatch(text, old)
	if match != "" && sim >= 0.7 {
		return strings.Replace(text, match, newText, 1), nil
	}
	return "", &NotFoundError{}
}

func findBestMatch(text, target string) (string, float64) {
	lines := strings.Split(text, "\n")
	targetLines := strings.Split(target, "\n")

	if len(targetLines) == 1 {
		best, bestSim := "", 0.0
		for _, line := range lines {
			if sim := similarity(line, target); sim > bestSim {
				bestSim, best = sim, line
			}
		}
		return best, bestSim
	}

	n := len(targetLines)
	best, bestSim := "", 0.0
	for i := 0; i <= len(lines)-n; i++ {
		block := strings.Join(lines[i:i+n], "\n")
		if sim := similarity(block, target); sim > bestSim {
			bestSim, best = sim, block
		}
	}
	return best, bestSim
}

func similarity(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	dist := levenshtein.ComputeDistance(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	return 1.0 - float64(dist)/float64(maxLen)
}

// Insert inserts content before the given 1-indexed line (§4.5). It returns
// the file's pre- and post-edit content so callers can compute a diff.
func (e *Editor) Insert(path string, line int, content string) (before, after string, err error) {
	abs, err := e.resolve(path)
	if err != nil {
		return "", "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", "", fmt.Errorf("fileeditor: insert %s: %w", path, err)
	}
	if isBinary(data) {
		return "", "", &BinaryFileError{Path: path}
	}
	text := string(data)
	lines := strings.Split(text, "\n")
	if line < 1 {
		line = 1
	}
	if line > len(lines)+1 {
		line = len(lines) + 1
	}
	idx := line - 1
	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:idx]...)
	out = append(out, content)
	out = append(out, lines[idx:]...)
	result := strings.Join(out, "\n")

	e.pushUndo(abs, text)
	if err := os.WriteFile(abs, []byte(result), 0o644); err != nil {
		return "", "", err
	}
	return text, result, nil
}

func (e *Editor) pushUndo(abs, previous string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.undo[abs] = append(e.undo[abs], previous)
}

// UndoEdit pops the most recent edit for path from its undo stack and
// rewrites the file to that pre-image (§4.5).
func (e *Editor) UndoEdit(path string) error {
	abs, err := e.resolve(path)
	if err != nil {
		return err
	}
	e.mu.Lock()
	stack := e.undo[abs]
	if len(stack) == 0 {
		e.mu.Unlock()
		return fmt.Errorf("fileeditor: no edits to undo for %s", path)
	}
	previous := stack[len(stack)-1]
	e.undo[abs] = stack[:len(stack)-1]
	e.mu.Unlock()

	return os.WriteFile(abs, []byte(previous), 0o644)
}
