package mapper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	protocolmapper "github.com/idekit/bridge-lsp/src/bridge/internal/protocol"
	"github.com/sergi/go-diff/diffmatchpatch"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
)

// EditOffset stores a string modification based on character offset in the string.
type EditOffset struct {
	start int
	end   int
	text  string
}

// ContentChange mirrors protocol.TextDocumentContentChangeEvent with an
// optional range, so a change without a range is distinguishable as a full
// document replacement.
type ContentChange struct {
	Range       *protocol.Range `json:"range,omitempty"`
	RangeLength uint32          `json:"rangeLength,omitempty"`
	Text        string          `json:"text"`
}

// DidChangeParams is protocol.DidChangeTextDocumentParams with the optional
// change ranges preserved.
type DidChangeParams struct {
	TextDocument   protocol.VersionedTextDocumentIdentifier `json:"textDocument"`
	ContentChanges []ContentChange                          `json:"contentChanges"`
}

// ToInitializeParams maps raw request parameters into protocol.InitializeParams.
func ToInitializeParams(raw json.RawMessage) (*protocol.InitializeParams, error) {
	params := protocol.InitializeParams{}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, wrapErrParse(err)
	}
	return &params, nil
}

// ToInitializedParams maps raw request parameters into protocol.InitializedParams.
func ToInitializedParams(raw json.RawMessage) (*protocol.InitializedParams, error) {
	params := protocol.InitializedParams{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, wrapErrParse(err)
		}
	}
	return &params, nil
}

// ToDidOpenTextDocumentParams maps raw request parameters into protocol.DidOpenTextDocumentParams.
func ToDidOpenTextDocumentParams(raw json.RawMessage) (*protocol.DidOpenTextDocumentParams, error) {
	params := protocol.DidOpenTextDocumentParams{}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, wrapErrParse(err)
	}
	return &params, nil
}

// ToDidChangeParams maps raw request parameters into DidChangeParams.
func ToDidChangeParams(raw json.RawMessage) (*DidChangeParams, error) {
	params := DidChangeParams{}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, wrapErrParse(err)
	}
	return &params, nil
}

// ToDidCloseTextDocumentParams maps raw request parameters into protocol.DidCloseTextDocumentParams.
func ToDidCloseTextDocumentParams(raw json.RawMessage) (*protocol.DidCloseTextDocumentParams, error) {
	params := protocol.DidCloseTextDocumentParams{}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, wrapErrParse(err)
	}
	return &params, nil
}

// ToDidSaveTextDocumentParams maps raw request parameters into protocol.DidSaveTextDocumentParams.
func ToDidSaveTextDocumentParams(raw json.RawMessage) (*protocol.DidSaveTextDocumentParams, error) {
	params := protocol.DidSaveTextDocumentParams{}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, wrapErrParse(err)
	}
	return &params, nil
}

// ToHoverParams maps raw request parameters into protocol.HoverParams.
func ToHoverParams(raw json.RawMessage) (*protocol.HoverParams, error) {
	params := protocol.HoverParams{}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, wrapErrParse(err)
	}
	return &params, nil
}

// ToDefinitionParams maps raw request parameters into protocol.DefinitionParams.
func ToDefinitionParams(raw json.RawMessage) (*protocol.DefinitionParams, error) {
	params := protocol.DefinitionParams{}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, wrapErrParse(err)
	}
	return &params, nil
}

// ToCompletionParams maps raw request parameters into protocol.CompletionParams.
func ToCompletionParams(raw json.RawMessage) (*protocol.CompletionParams, error) {
	params := protocol.CompletionParams{}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, wrapErrParse(err)
	}
	return &params, nil
}

// ToReferenceParams maps raw request parameters into protocol.ReferenceParams.
func ToReferenceParams(raw json.RawMessage) (*protocol.ReferenceParams, error) {
	params := protocol.ReferenceParams{}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, wrapErrParse(err)
	}
	return &params, nil
}

// ToDocumentSymbolParams maps raw request parameters into protocol.DocumentSymbolParams.
func ToDocumentSymbolParams(raw json.RawMessage) (*protocol.DocumentSymbolParams, error) {
	params := protocol.DocumentSymbolParams{}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, wrapErrParse(err)
	}
	return &params, nil
}

// ToSemanticTokensParams maps raw request parameters into protocol.SemanticTokensParams.
func ToSemanticTokensParams(raw json.RawMessage) (*protocol.SemanticTokensParams, error) {
	params := protocol.SemanticTokensParams{}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, wrapErrParse(err)
	}
	return &params, nil
}

// ToSemanticTokensRangeParams maps raw request parameters into protocol.SemanticTokensRangeParams.
func ToSemanticTokensRangeParams(raw json.RawMessage) (*protocol.SemanticTokensRangeParams, error) {
	params := protocol.SemanticTokensRangeParams{}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, wrapErrParse(err)
	}
	return &params, nil
}

// InitializeParamsToRootPath extracts the root location declared by the
// client, checking rootUri, then rootPath, then the first workspace folder.
// An empty string means the client declared no root.
func InitializeParamsToRootPath(params *protocol.InitializeParams) string {
	if params == nil {
		return ""
	}
	if params.RootURI != "" {
		if path := uriToPath(string(params.RootURI)); path != "" {
			return path
		}
	}
	if params.RootPath != "" {
		return params.RootPath
	}
	if len(params.WorkspaceFolders) > 0 {
		if path := uriToPath(params.WorkspaceFolders[0].URI); path != "" {
			return path
		}
	}
	return ""
}

// uriToPath converts a file URI into a filesystem path. A plain path is
// returned unchanged. URIs with a non-file scheme map to the empty string.
func uriToPath(s string) string {
	if !strings.Contains(s, "://") {
		return s
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme != "file" {
		return ""
	}
	return u.Path
}

// ApplyContentChanges applies the given content change events to a given
// text string. A change without a range replaces the entire document.
func ApplyContentChanges(initialText string, changes []ContentChange) (string, error) {
	content := []byte(initialText)
	for _, change := range changes {
		if change.Range == nil {
			content = []byte(change.Text)
			continue
		}

		m := protocolmapper.NewTextOffsetMapper(content)
		start, err := m.PositionOffset(change.Range.Start)
		if err != nil {
			return "", fmt.Errorf("unable to apply changes: %w", err)
		}
		end, err := m.PositionOffset(change.Range.End)
		if err != nil {
			return "", fmt.Errorf("unable to apply changes: %w", err)
		}
		if start > end {
			return "", fmt.Errorf("unable to apply changes: range start %d after end %d", start, end)
		}
		var buf bytes.Buffer
		buf.Write(content[:start])
		buf.Write([]byte(change.Text))
		buf.Write(content[end:])
		content = buf.Bytes()
	}

	return string(content), nil
}

// DiffsToEditOffsets converts diffs into a list of text edits based on offsets within the initial text.
func DiffsToEditOffsets(diffs []diffmatchpatch.Diff) (initialText bytes.Buffer, offsets []EditOffset) {
	edits := make([]EditOffset, 0, len(diffs))
	offset := 0
	for _, d := range diffs {
		start := offset
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			initialText.Write([]byte(d.Text))
			offset += len(d.Text)
			edits = append(edits, EditOffset{start: start, end: offset, text: ""})
		case diffmatchpatch.DiffEqual:
			initialText.Write([]byte(d.Text))
			offset += len(d.Text)
		case diffmatchpatch.DiffInsert:
			edits = append(edits, EditOffset{start: start, end: start, text: d.Text})
		}
	}
	return initialText, edits
}

// EditOffsetsToTextEdits converts a list of offset based edits to TextEdits formatted for LSP protocol.
func EditOffsetsToTextEdits(initialText bytes.Buffer, edits []EditOffset) ([]protocol.TextEdit, error) {
	protocolTextEdits := make([]protocol.TextEdit, 0, len(edits))
	m := protocolmapper.NewTextOffsetMapper(initialText.Bytes())
	for _, edit := range edits {
		startPosition, err := m.OffsetPosition(edit.start)
		if err != nil {
			return nil, err
		}
		endPosition, err := m.OffsetPosition(edit.end)
		if err != nil {
			return nil, err
		}
		protocolTextEdits = append(protocolTextEdits, protocol.TextEdit{
			Range:   protocol.Range{Start: startPosition, End: endPosition},
			NewText: edit.text,
		})
	}
	return protocolTextEdits, nil
}

// TextsToTextEdits diffs two document states and converts the result into
// the minimal list of edits that turns before into after.
func TextsToTextEdits(before, after string) ([]protocol.TextEdit, error) {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	foundText, edits := DiffsToEditOffsets(diffs)
	return EditOffsetsToTextEdits(foundText, edits)
}

func wrapErrParse(err error) error {
	return fmt.Errorf("%w: %s", jsonrpc2.ErrParse, err)
}
