package tool

import (
	"context"
	"encoding/json"
	"fmt"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/jimwhite/agent-sdk-sub003/internal/fileeditor"
)

const editorDescription = `Views, creates, and edits files in the workspace.

Commands:
- view: show a file's contents (line-numbered) or a directory's entries.
- create: write a new file; fails if the path already exists.
- str_replace: replace the unique occurrence of old_str with new_str.
- insert: insert new_str after the given line number (0 inserts at top).
- undo_edit: revert the most recent edit made to path by this tool.`

// EditorTool adapts a fileeditor.Editor to the Tool interface, generalizing
// the teacher's separate edit/read/write tools into the single
// command-discriminated str_replace_editor tool named in original_source's
// openhands.tools.str_replace_editor (§4.5).
type EditorTool struct {
	editor *fileeditor.Editor
}

// NewEditorTool wraps editor as a Tool.
func NewEditorTool(editor *fileeditor.Editor) *EditorTool {
	return &EditorTool{editor: editor}
}

type editorInput struct {
	Command   string `json:"command"`
	Path      string `json:"path"`
	FileText  string `json:"file_text,omitempty"`
	OldStr    string `json:"old_str,omitempty"`
	NewStr    string `json:"new_str,omitempty"`
	InsertLine int   `json:"insert_line,omitempty"`
	ReplaceAll bool  `json:"replace_all,omitempty"`
}

func (t *EditorTool) ID() string          { return "str_replace_editor" }
func (t *EditorTool) Description() string { return editorDescription }

func (t *EditorTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {
				"type": "string",
				"description": "one of view, create, str_replace, insert, undo_edit"
			},
			"path": {
				"type": "string",
				"description": "workspace-relative path"
			},
			"file_text": {
				"type": "string",
				"description": "content for the create command"
			},
			"old_str": {
				"type": "string",
				"description": "exact text to replace for str_replace"
			},
			"new_str": {
				"type": "string",
				"description": "replacement text for str_replace or insert"
			},
			"insert_line": {
				"type": "integer",
				"description": "line number to insert after, for insert"
			},
			"replace_all": {
				"type": "boolean",
				"description": "replace every occurrence instead of requiring uniqueness"
			}
		},
		"required": ["command", "path"]
	}`)
}

func (t *EditorTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params editorInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	switch params.Command {
	case "view":
		content, err := t.editor.View(params.Path)
		if err != nil {
			return nil, err
		}
		return &Result{Title: params.Path, Output: content}, nil

	case "create":
		if err := t.editor.Create(params.Path, params.FileText); err != nil {
			return nil, err
		}
		diffText, additions, deletions := buildDiffMetadata(params.Path, "", params.FileText, toolCtx.WorkDir)
		return &Result{
			Title:  params.Path,
			Output: fmt.Sprintf("created %s", params.Path),
			Metadata: map[string]any{
				"diff":      diffText,
				"additions": additions,
				"deletions": deletions,
			},
		}, nil

	case "str_replace":
		before, after, err := t.editor.StrReplace(params.Path, params.OldStr, params.NewStr, params.ReplaceAll)
		if err != nil {
			return nil, err
		}
		diffText, additions, deletions := buildDiffMetadata(params.Path, before, after, toolCtx.WorkDir)
		return &Result{
			Title:  params.Path,
			Output: fmt.Sprintf("replaced in %s", params.Path),
			Metadata: map[string]any{
				"diff":      diffText,
				"additions": additions,
				"deletions": deletions,
			},
		}, nil

	case "insert":
		before, after, err := t.editor.Insert(params.Path, params.InsertLine, params.NewStr)
		if err != nil {
			return nil, err
		}
		diffText, additions, deletions := buildDiffMetadata(params.Path, before, after, toolCtx.WorkDir)
		return &Result{
			Title:  params.Path,
			Output: fmt.Sprintf("inserted into %s", params.Path),
			Metadata: map[string]any{
				"diff":      diffText,
				"additions": additions,
				"deletions": deletions,
			},
		}, nil

	case "undo_edit":
		if err := t.editor.UndoEdit(params.Path); err != nil {
			return nil, err
		}
		return &Result{Title: params.Path, Output: fmt.Sprintf("undone last edit to %s", params.Path)}, nil

	default:
		return nil, fmt.Errorf("unknown editor command %q", params.Command)
	}
}

func (t *EditorTool) EinoTool() einotool.InvokableTool {
	return (&BaseTool{
		id:          t.ID(),
		description: t.Description(),
		parameters:  t.Parameters(),
		execute:     t.Execute,
	}).EinoTool()
}
