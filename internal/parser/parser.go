package parser

import (
	"errors"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/sokinpui/chatapply/internal/patcher"
	"github.com/sokinpui/chatapply/model"
)

// ErrNoValidBlocks is returned by callers when a response has nothing to apply.
var ErrNoValidBlocks = errors.New("no valid code blocks found in response")

// Options tunes ParseResponse.
type Options struct {
	// SingleRoot disables splitting a leading path segment off as the
	// workspace name.
	SingleRoot bool
	// Extensions restricts file blocks to these extensions. The single
	// entry ".diff" selects diff-only mode, which ignores file blocks.
	Extensions []string
}

var (
	pathInHintRegex = regexp.MustCompile("`([^`\n]+)`")
	boldInHintRegex = regexp.MustCompile(`\*\*([^*\n]+)\*\*`)

	commentPathRegexes = []*regexp.Regexp{
		regexp.MustCompile(`^\s*(?://+|#+|--|;+|%+)\s*(?:(?i:file(?:name)?|path)\s*:\s*)?(\S+)\s*$`),
		regexp.MustCompile(`^\s*/\*+\s*(?:(?i:file(?:name)?|path)\s*:\s*)?(\S+)\s*\*+/\s*$`),
		regexp.MustCompile(`^\s*<!--\s*(?:(?i:file(?:name)?|path)\s*:\s*)?(\S+)\s*-->\s*$`),
	}
	workspaceCommentRegex = regexp.MustCompile(`^\s*(?://+|#+|--)\s*(?i:workspace)\s*:\s*(\S+)\s*$`)
	infoPathRegex         = regexp.MustCompile(`(?i)(?:title|file(?:name)?|path)=["']?([^"'\s]+)["']?`)
	completionRegex       = regexp.MustCompile(`^(.+?):(\d+):(\d+)$`)
	replacementRegex      = regexp.MustCompile(`(?s)<replacement>\n?(.*?)\n?</replacement>`)

	extensionless = map[string]bool{
		"Makefile": true, "Dockerfile": true, "LICENSE": true, "Procfile": true,
		"Gemfile": true, "Rakefile": true, "Justfile": true, "Containerfile": true,
	}
)

// ParseResponse classifies a chat response and extracts its payload. The
// variants are checked in order: a single code completion, then patches,
// then whole files. Blocks without a resolvable path are dropped.
func ParseResponse(raw string, opts Options) model.ParsedResponse {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	blocks, err := ExtractCodeBlocks([]byte(raw))
	if err != nil {
		blocks = nil
	}

	if len(blocks) == 0 {
		if patch, ok := rawPatch(raw, opts); ok {
			return model.ParsedResponse{Type: model.ResponsePatches, Patches: []model.DiffPatch{patch}}
		}
		return model.ParsedResponse{Type: model.ResponseFiles}
	}

	if len(blocks) == 1 {
		if cc := codeCompletion(blocks[0], opts); cc != nil {
			return model.ParsedResponse{Type: model.ResponseCodeCompletion, CodeCompletion: cc}
		}
	}

	var patches []model.DiffPatch
	for _, b := range blocks {
		if !isDiffBlock(b) {
			continue
		}
		if patch, ok := diffPatch(b, opts); ok {
			patches = append(patches, patch)
		}
	}
	if len(patches) > 0 {
		return model.ParsedResponse{Type: model.ResponsePatches, Patches: patches}
	}

	return model.ParsedResponse{Type: model.ResponseFiles, Files: parseFileBlocks(blocks, opts)}
}

func isDiffBlock(b CodeBlock) bool {
	switch b.Lang {
	case "diff", "patch", "udiff":
		return true
	}
	return patcher.LooksLikeDiff(b.Content)
}

func isDiffOnlyMode(extensions []string) bool {
	return len(extensions) == 1 && extensions[0] == ".diff"
}

func parseFileBlocks(blocks []CodeBlock, opts Options) []model.ClipboardFile {
	if isDiffOnlyMode(opts.Extensions) {
		return nil
	}

	var files []model.ClipboardFile
	index := make(map[string]int)

	for _, b := range blocks {
		path, content := blockPath(b)
		if path == "" || !hasAllowedExtension(path, opts.Extensions) {
			continue
		}
		workspace, rel := splitWorkspace(path, opts.SingleRoot)
		file := model.ClipboardFile{FilePath: rel, Content: content, WorkspaceName: workspace}

		// The last block for a path wins, at the position of the first.
		key := workspace + "\x00" + rel
		if i, ok := index[key]; ok {
			files[i] = file
			continue
		}
		index[key] = len(files)
		files = append(files, file)
	}
	return files
}

func diffPatch(b CodeBlock, opts Options) (model.DiffPatch, bool) {
	content := b.Content
	var workspace, hintPath string

	// A comment line ahead of the diff may name the workspace or the file.
	if first, rest, ok := strings.Cut(content, "\n"); ok && !patcher.LooksLikeDiff(first+"\n") {
		if m := workspaceCommentRegex.FindStringSubmatch(first); m != nil {
			workspace, content = m[1], rest
		} else if p := commentPath(first); p != "" {
			hintPath, content = p, rest
		}
	}
	if hintPath == "" {
		hintPath = infoPath(b.Info)
	}
	if hintPath == "" {
		hintPath = pathFromHint(b.Hint)
	}

	path := hintPath
	if paths := patcher.ExtractFilePathsFromPatch(content); len(paths) > 0 {
		path = paths[0]
	}
	if path == "" {
		return model.DiffPatch{}, false
	}
	if len(opts.Extensions) > 0 && !isDiffOnlyMode(opts.Extensions) && !hasAllowedExtension(path, opts.Extensions) {
		return model.DiffPatch{}, false
	}

	if workspace == "" {
		workspace, path = splitWorkspace(path, opts.SingleRoot)
	} else {
		path = strings.TrimPrefix(path, workspace+"/")
	}
	if opts.SingleRoot {
		workspace = ""
	}
	return model.DiffPatch{FilePath: path, Content: content, WorkspaceName: workspace}, true
}

// rawPatch accepts a response that is an unfenced diff, skipping any prose
// before the first diff line.
func rawPatch(raw string, opts Options) (model.DiffPatch, bool) {
	if !patcher.LooksLikeDiff(raw) {
		return model.DiffPatch{}, false
	}
	lines := strings.Split(raw, "\n")
	start := -1
	for i, l := range lines {
		if strings.HasPrefix(l, "diff --git ") || strings.HasPrefix(l, "@@") ||
			(strings.HasPrefix(l, "--- ") && i+1 < len(lines) && strings.HasPrefix(lines[i+1], "+++ ")) {
			start = i
			break
		}
	}
	if start < 0 {
		return model.DiffPatch{}, false
	}
	return diffPatch(CodeBlock{Lang: "diff", Content: strings.Join(lines[start:], "\n")}, opts)
}

func codeCompletion(b CodeBlock, opts Options) *model.CodeCompletion {
	header, content := blockPath(b)
	m := completionRegex.FindStringSubmatch(header)
	if m == nil {
		return nil
	}
	line, err1 := strconv.Atoi(m[2])
	char, err2 := strconv.Atoi(m[3])
	if err1 != nil || err2 != nil {
		return nil
	}
	if r := replacementRegex.FindStringSubmatch(content); r != nil {
		content = r[1]
	} else {
		content = strings.TrimSuffix(content, "\n")
	}
	workspace, path := splitWorkspace(m[1], opts.SingleRoot)
	return &model.CodeCompletion{
		FilePath:      path,
		Content:       content,
		Line:          line,
		Character:     char,
		WorkspaceName: workspace,
	}
}

// blockPath finds a block's target path: a first-line comment wins, then the
// info string, then the preceding hint. A path taken from the first line is
// removed from the returned content.
func blockPath(b CodeBlock) (path, content string) {
	first, rest, _ := strings.Cut(b.Content, "\n")
	if p := commentPath(first); p != "" {
		return p, rest
	}
	if p := infoPath(b.Info); p != "" {
		return p, b.Content
	}
	return pathFromHint(b.Hint), b.Content
}

func commentPath(line string) string {
	for _, re := range commentPathRegexes {
		if m := re.FindStringSubmatch(line); m != nil && looksLikePath(m[1]) {
			return m[1]
		}
	}
	return ""
}

func infoPath(info string) string {
	if m := infoPathRegex.FindStringSubmatch(info); m != nil {
		return m[1]
	}
	fields := strings.Fields(info)
	if len(fields) == 0 {
		return ""
	}
	// "go:src/main.go"
	if _, after, ok := strings.Cut(fields[0], ":"); ok && looksLikePath(after) {
		return after
	}
	for _, f := range fields[1:] {
		if looksLikePath(f) {
			return f
		}
	}
	if strings.Contains(fields[0], "/") && looksLikePath(fields[0]) {
		return fields[0]
	}
	return ""
}

// pathFromHint extracts the path from the text before a block, e.g.
// "Update `src/a.go`:" or "**src/a.go**". A candidate with a directory
// beats a bare file name; among equals the last one wins.
func pathFromHint(hint string) string {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return ""
	}

	var candidates []string
	for _, re := range []*regexp.Regexp{pathInHintRegex, boldInHintRegex} {
		for _, m := range re.FindAllStringSubmatch(hint, -1) {
			candidates = append(candidates, strings.Trim(strings.TrimSpace(m[1]), "`*:"))
		}
	}
	if len(candidates) == 0 {
		// A heading or line that is nothing but the path.
		bare := strings.Trim(hint, "#*`: ")
		bare = strings.TrimPrefix(bare, "File ")
		bare = strings.TrimSpace(strings.TrimPrefix(bare, "File:"))
		candidates = append(candidates, bare)
	}

	best := ""
	for _, c := range candidates {
		// Disallow spaces to avoid capturing commands like `go run main.go` as a path.
		if !looksLikePath(c) {
			continue
		}
		if best == "" || strings.Contains(c, "/") || !strings.Contains(best, "/") {
			best = c
		}
	}
	return best
}

func looksLikePath(s string) bool {
	if s == "" || strings.ContainsAny(s, " \t<>|\"'") {
		return false
	}
	if strings.HasPrefix(s, "!") || strings.Contains(s, "://") || strings.HasSuffix(s, "/") {
		return false
	}
	if strings.Contains(s, "/") {
		return true
	}
	if extensionless[s] {
		return true
	}
	ext := filepath.Ext(s)
	return len(ext) > 1 && !strings.ContainsAny(ext, "()")
}

// splitWorkspace treats the first path segment as the workspace name when
// more than one root may be addressed.
func splitWorkspace(path string, singleRoot bool) (workspace, rel string) {
	path = strings.TrimPrefix(filepath.ToSlash(path), "./")
	if singleRoot || filepath.IsAbs(path) {
		return "", path
	}
	if first, rest, ok := strings.Cut(path, "/"); ok && rest != "" {
		return first, rest
	}
	return "", path
}

func hasAllowedExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := filepath.Ext(path)
	for _, allowedExt := range extensions {
		if !strings.HasPrefix(allowedExt, ".") {
			allowedExt = "." + allowedExt
		}
		if ext == allowedExt {
			return true
		}
	}
	return false
}
