package model

// ClipboardFile is one full-content block parsed from a chat response.
type ClipboardFile struct {
	FilePath      string
	Content       string
	WorkspaceName string
}

// DiffPatch is one unified-diff block parsed from a chat response. A single
// patch may touch several files.
type DiffPatch struct {
	FilePath      string
	Content       string // The raw diff text.
	WorkspaceName string
}

// CodeCompletion is a single-position insertion at a 1-based line and character.
type CodeCompletion struct {
	FilePath      string
	Content       string
	Line          int
	Character     int
	WorkspaceName string
}

// ResponseType discriminates the populated field of a ParsedResponse.
type ResponseType string

const (
	ResponseFiles          ResponseType = "files"
	ResponsePatches        ResponseType = "patches"
	ResponseCodeCompletion ResponseType = "code-completion"
)

// ParsedResponse holds exactly one populated variant, selected by Type.
type ParsedResponse struct {
	Type           ResponseType
	Files          []ClipboardFile
	Patches        []DiffPatch
	CodeCompletion *CodeCompletion
}

// IsEmpty reports whether the response carries nothing to apply.
func (p ParsedResponse) IsEmpty() bool {
	switch p.Type {
	case ResponseFiles:
		return len(p.Files) == 0
	case ResponsePatches:
		return len(p.Patches) == 0
	case ResponseCodeCompletion:
		return p.CodeCompletion == nil
	}
	return true
}

// ChangeItem is a reviewable unit. Content is always the full resulting file
// content, never a delta.
type ChangeItem struct {
	FilePath      string
	Content       string
	WorkspaceName string
	IsNew         bool
	IsDeleted     bool
	// Patch points at the originating patch, nil for direct file blocks.
	Patch *DiffPatch
}

// OriginalFileState is the pre-mutation snapshot of one file. A nil Content
// means the file did not exist.
type OriginalFileState struct {
	FilePath string  `json:"file_path"`
	Content  *string `json:"content"`
	IsNew    bool    `json:"is_new"`
}

// Summary holds the results of an operation for display.
type Summary struct {
	Created      []string
	Modified     []string
	Deleted      []string
	Failed       []string
	Message      string
	Method       string
	UsedFallback bool
	// Reverted is set when the operation rolled back its own partial progress.
	Reverted bool
	// Recorded is the number of original states stored in the ledger.
	Recorded int
}

// HasChanges reports whether any file was touched.
func (s Summary) HasChanges() bool {
	return len(s.Created)+len(s.Modified)+len(s.Deleted) > 0
}
