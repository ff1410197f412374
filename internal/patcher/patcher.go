package patcher

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/sokinpui/chatapply/internal/fs"
	"github.com/sokinpui/chatapply/internal/logging"
	"github.com/sokinpui/chatapply/internal/metrics"
	"github.com/sokinpui/chatapply/internal/state"
	"github.com/sokinpui/chatapply/model"
)

const (
	PrimaryBuiltin = "builtin"
	PrimaryPatch   = "patch"
)

// ErrNoPath is returned for a file section whose target path is unknown.
var ErrNoPath = errors.New("could not determine file path from patch")

// Options configures the strategy chain.
type Options struct {
	// Primary is "builtin" (strict in-process apply) or "patch" (the
	// external patch(1) program).
	Primary          string
	Fallback         bool
	DriftWindow      int
	IgnoreWhitespace bool
}

// Patcher computes and applies patch results. Prediction and application use
// the same chain, so a predicted result is exactly what gets written.
type Patcher struct {
	opts    Options
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(opts Options, log *zap.Logger, m *metrics.Metrics) *Patcher {
	if opts.Primary == "" {
		opts.Primary = PrimaryBuiltin
	}
	return &Patcher{opts: opts, log: logging.OrNop(log), metrics: m}
}

// PredictFile computes the content a section produces from original.
// Deletions yield "".
func (p *Patcher) PredictFile(fp FilePatch, original string) (content string, usedFallback bool, err error) {
	if fp.IsDelete {
		return "", false, nil
	}
	if fp.IsNew {
		original = ""
	}

	content, err = p.primary(fp, original)
	if err == nil {
		return content, false, nil
	}
	if !p.opts.Fallback {
		return "", false, err
	}

	p.log.Debug("primary patch strategy failed, trying fuzzy fallback",
		zap.String("path", fp.Path()), zap.Error(err))
	f := fuzzy{driftWindow: p.opts.DriftWindow, ignoreWhitespace: p.opts.IgnoreWhitespace}
	content, ferr := applyHunks(original, fp.Hunks, f.apply)
	if ferr != nil {
		return "", false, fmt.Errorf("%v; fallback: %w", err, ferr)
	}
	return content, true, nil
}

func (p *Patcher) primary(fp FilePatch, original string) (string, error) {
	if p.opts.Primary == PrimaryPatch {
		return applyExternal(fp, original)
	}
	return applyHunks(original, fp.Hunks, applyStrict)
}

// ExtractContentFromPatch returns the content the first file section of
// patchText produces when applied to original.
func (p *Patcher) ExtractContentFromPatch(patchText, original string) (string, error) {
	sections := SplitPatch(patchText)
	if len(sections) == 0 {
		return "", ErrEmptyPatch
	}
	content, _, err := p.PredictFile(sections[0], original)
	return content, err
}

// PlannedFile is the computed outcome of one file section.
type PlannedFile struct {
	Path         string // Absolute.
	Content      string
	Existed      bool
	Delete       bool
	UsedFallback bool
}

// Plan computes every file's result without touching disk. It fails as a
// whole if any section fails. Several sections for one file are applied in
// sequence.
func (p *Patcher) Plan(patch model.DiffPatch, ws *fs.Workspace) ([]PlannedFile, error) {
	return p.plan(patch, ws, nil)
}

func (p *Patcher) plan(patch model.DiffPatch, ws *fs.Workspace, only map[string]bool) ([]PlannedFile, error) {
	sections := SplitPatch(patch.Content)
	if len(sections) == 0 {
		return nil, ErrEmptyPatch
	}

	var planned []PlannedFile
	index := make(map[string]int)

	for _, fp := range sections {
		rel := fp.Path()
		if rel == "" {
			rel = patch.FilePath
		}
		if rel == "" {
			return nil, ErrNoPath
		}
		abs, err := ws.Resolve(patch.WorkspaceName, stripWorkspace(rel, patch.WorkspaceName))
		if err != nil {
			return nil, err
		}
		if only != nil && !only[abs] {
			continue
		}

		i, seen := index[abs]
		var original string
		var existed bool
		if seen {
			original, existed = planned[i].Content, planned[i].Existed
		} else if ws.Exists(abs) {
			if original, err = ws.ReadFile(abs); err != nil {
				return nil, fmt.Errorf("read %s: %w", rel, err)
			}
			existed = true
		}

		if fp.IsDelete && !existed {
			return nil, fmt.Errorf("%s: cannot delete a file that does not exist", rel)
		}

		content, usedFallback, err := p.PredictFile(fp, original)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", rel, err)
		}

		pf := PlannedFile{
			Path:         abs,
			Content:      content,
			Existed:      existed,
			Delete:       fp.IsDelete,
			UsedFallback: usedFallback,
		}
		if seen {
			pf.UsedFallback = pf.UsedFallback || planned[i].UsedFallback
			planned[i] = pf
			continue
		}
		index[abs] = len(planned)
		planned = append(planned, pf)
	}
	return planned, nil
}

func stripWorkspace(path, workspaceName string) string {
	if workspaceName == "" {
		return path
	}
	return strings.TrimPrefix(path, workspaceName+"/")
}

// FileResult is one written file.
type FileResult struct {
	Path   string
	Action string // "created", "modified" or "deleted".
}

// Result is the outcome of ApplyGitPatch. On failure nothing remains
// changed on disk and OriginalStates is empty.
type Result struct {
	Success        bool
	OriginalStates []model.OriginalFileState
	Files          []FileResult
	UsedFallback   bool
	Err            error
}

type applyConfig struct {
	only        map[string]bool
	defaultPath string
}

// ApplyOption narrows an ApplyGitPatch call.
type ApplyOption func(*applyConfig)

// OnlyPaths restricts application to the given absolute paths.
func OnlyPaths(paths ...string) ApplyOption {
	return func(c *applyConfig) {
		c.only = make(map[string]bool, len(paths))
		for _, p := range paths {
			c.only[p] = true
		}
	}
}

// DefaultPath names the file for sections whose headers carry no path.
func DefaultPath(path string) ApplyOption {
	return func(c *applyConfig) { c.defaultPath = path }
}

// ApplyGitPatch applies patchText all-or-nothing. Every file's result is
// computed before anything is written, and a failed write rolls back the
// files already written.
func (p *Patcher) ApplyGitPatch(patchText string, ws *fs.Workspace, workspaceName string, opts ...ApplyOption) Result {
	var cfg applyConfig
	for _, o := range opts {
		o(&cfg)
	}

	planned, err := p.plan(model.DiffPatch{
		FilePath:      cfg.defaultPath,
		Content:       patchText,
		WorkspaceName: workspaceName,
	}, ws, cfg.only)
	if err != nil {
		p.metrics.RecordPatch("failed")
		p.log.Warn("patch failed", zap.Error(err))
		return Result{Err: err}
	}

	res := Result{}
	var states []model.OriginalFileState
	for _, pf := range planned {
		st, err := state.Capture(ws, pf.Path)
		if err != nil {
			p.metrics.RecordPatch("failed")
			return Result{Err: err}
		}
		states = append(states, st)
	}

	for i, pf := range planned {
		action := "modified"
		var werr error
		switch {
		case pf.Delete:
			action = "deleted"
			werr = ws.RemoveFile(pf.Path)
		default:
			if !pf.Existed {
				action = "created"
			}
			werr = ws.WriteFile(pf.Path, pf.Content)
		}
		if werr != nil {
			rb := state.Restore(ws, states[:i+1])
			p.log.Error("write failed, rolled back patch",
				zap.String("path", pf.Path),
				zap.Int("restored", len(rb.Reverted)),
				zap.Error(werr))
			p.metrics.RecordPatch("failed")
			return Result{Err: fmt.Errorf("write %s: %w", ws.Relative(pf.Path), werr)}
		}
		res.Files = append(res.Files, FileResult{Path: pf.Path, Action: action})
		res.UsedFallback = res.UsedFallback || pf.UsedFallback
	}

	res.Success = true
	res.OriginalStates = states
	if res.UsedFallback {
		p.metrics.RecordPatch("fallback")
	} else {
		p.metrics.RecordPatch("strict")
	}
	return res
}

// CorrectDiff rewrites every section of patchText with hunk headers that
// match the files on disk. It is used to print repaired diffs.
func (p *Patcher) CorrectDiff(patch model.DiffPatch, ws *fs.Workspace) (string, error) {
	sections := SplitPatch(patch.Content)
	if len(sections) == 0 {
		return "", ErrEmptyPatch
	}
	f := fuzzy{ignoreWhitespace: true}

	var sb strings.Builder
	for _, fp := range sections {
		rel := fp.Path()
		if rel == "" {
			rel = patch.FilePath
			fp.NewPath = rel
		}
		var source []string
		if abs, err := ws.Resolve(patch.WorkspaceName, stripWorkspace(rel, patch.WorkspaceName)); err == nil && ws.Exists(abs) && !fp.IsNew {
			content, err := ws.ReadFile(abs)
			if err != nil {
				return "", err
			}
			source = splitText(content).lines
		}
		corrected, err := f.correctHunks(source, fp)
		if err != nil {
			return "", fmt.Errorf("%s: %w", rel, err)
		}
		sb.WriteString(corrected.Render())
	}
	return sb.String(), nil
}

// applyExternal runs patch(1) against a temporary copy of original and
// returns its output; the workspace is never read by the tool.
func applyExternal(fp FilePatch, original string) (string, error) {
	if _, err := exec.LookPath("patch"); err != nil {
		return "", fmt.Errorf("`patch` command not found: %w", err)
	}

	dir, err := os.MkdirTemp("", "chatapply-patch-")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	sourcePath := filepath.Join(dir, "source")
	if err := os.WriteFile(sourcePath, []byte(original), 0600); err != nil {
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}

	cmd := exec.Command("patch", "-s", "-p1", "--no-backup-if-mismatch", "-F0", "-o", "-", sourcePath)
	cmd.Dir = dir
	cmd.Stdin = strings.NewReader(fp.Render())

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(out.String())
		}
		return "", fmt.Errorf("%w: `patch` command failed: %s", ErrHunkMismatch, msg)
	}
	return out.String(), nil
}
