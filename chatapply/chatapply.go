package chatapply

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sokinpui/chatapply/cli"
	"github.com/sokinpui/chatapply/internal/config"
	"github.com/sokinpui/chatapply/internal/fs"
	"github.com/sokinpui/chatapply/internal/handlers"
	"github.com/sokinpui/chatapply/internal/llm"
	"github.com/sokinpui/chatapply/internal/logging"
	"github.com/sokinpui/chatapply/internal/metrics"
	"github.com/sokinpui/chatapply/internal/nvim"
	"github.com/sokinpui/chatapply/internal/parser"
	"github.com/sokinpui/chatapply/internal/patcher"
	"github.com/sokinpui/chatapply/internal/review"
	"github.com/sokinpui/chatapply/internal/source"
	"github.com/sokinpui/chatapply/internal/state"
	"github.com/sokinpui/chatapply/model"
)

const (
	MethodCompletion  = "code-completion"
	MethodPatch       = "patch"
	MethodFastReplace = "fast-replace"
	MethodIntelligent = "intelligent-update"
	MethodRevert      = "revert"
	MethodDiffFix     = "diff-fix"
)

// App orchestrates one apply operation from a raw response to written files
// and a recorded ledger.
type App struct {
	cfg        *config.Config
	flags      *cli.Config
	extensions []string

	ws       *fs.Workspace
	ledger   *state.Ledger
	patcher  *patcher.Patcher
	updater  *handlers.IntelligentUpdater
	streamer llm.Streamer
	inserter nvim.Inserter
	source   *source.Provider
	reviewer review.DecisionSource
	stdout   io.Writer

	log     *zap.Logger
	metrics *metrics.Metrics

	// inflight holds the states of files changed by the running operation
	// until they are recorded.
	inflight struct {
		raw    string
		states []model.OriginalFileState
	}
}

// DetailedError enhances a standard error with a stack trace.
type DetailedError struct {
	Err   error
	Stack []byte
}

func (e *DetailedError) Error() string {
	return e.Err.Error()
}

func (e *DetailedError) Unwrap() error { return e.Err }

// Option customises an App.
type Option func(*App)

// WithFlags sets the command-line flags that select the operation.
func WithFlags(f *cli.Config) Option {
	return func(a *App) {
		a.flags = f
		a.extensions = f.Extensions
	}
}

func WithExtensions(exts ...string) Option {
	return func(a *App) { a.extensions = exts }
}

func WithLogger(log *zap.Logger) Option {
	return func(a *App) { a.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithStreamer replaces the configured model provider.
func WithStreamer(s llm.Streamer) Option {
	return func(a *App) { a.streamer = s }
}

// WithInserter replaces the Neovim code completion target.
func WithInserter(i nvim.Inserter) Option {
	return func(a *App) { a.inserter = i }
}

// WithDecisionSource sets who answers review prompts when review is enabled.
func WithDecisionSource(src review.DecisionSource) Option {
	return func(a *App) { a.reviewer = src }
}

func WithSource(p *source.Provider) Option {
	return func(a *App) { a.source = p }
}

// WithStdout sets where corrected diffs are printed.
func WithStdout(w io.Writer) Option {
	return func(a *App) { a.stdout = w }
}

// New creates an App for cfg.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, stdout: os.Stdout}
	for _, opt := range opts {
		opt(a)
	}
	a.log = logging.OrNop(a.log)

	roots := make([]fs.Root, 0, len(cfg.Workspaces))
	for _, w := range cfg.Workspaces {
		roots = append(roots, fs.Root{Name: w.Name, Path: w.Path})
	}
	ws, err := fs.NewWorkspace(roots)
	if err != nil {
		return nil, err
	}
	a.ws = ws

	ledger, err := state.New(ws, cfg.StateDir, a.log, a.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize state ledger: %w", err)
	}
	a.ledger = ledger

	a.patcher = patcher.New(patcher.Options{
		Primary:          cfg.Patch.Primary,
		Fallback:         cfg.Patch.Fallback,
		DriftWindow:      cfg.Patch.DriftWindow,
		IgnoreWhitespace: cfg.Patch.IgnoreWhitespace,
	}, a.log, a.metrics)

	if a.streamer == nil {
		if a.streamer, err = llm.New(cfg.IntelligentUpdate, a.log); err != nil {
			return nil, err
		}
	}
	a.updater = handlers.NewIntelligentUpdater(a.streamer, cfg.IntelligentUpdate, a.log, a.metrics)

	if a.source == nil {
		file := ""
		if a.flags != nil {
			file = a.flags.File
		}
		a.source = source.New(file)
	}
	if a.flags == nil {
		a.flags = &cli.Config{}
	}
	return a, nil
}

// Workspace returns the resolved workspace roots.
func (a *App) Workspace() *fs.Workspace { return a.ws }

// Ledger returns the undo ledger.
func (a *App) Ledger() *state.Ledger { return a.ledger }

// SetProgressCallback receives intelligent update telemetry.
func (a *App) SetProgressCallback(cb func(handlers.Progress)) {
	a.updater.Progress = cb
}

// SetDecisionSource sets who answers review prompts.
func (a *App) SetDecisionSource(src review.DecisionSource) {
	a.reviewer = src
}

// Execute runs the operation selected by the flags. Panics are recovered
// into a DetailedError.
func (a *App) Execute(ctx context.Context) (summary model.Summary, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		stack := debug.Stack()
		perr := fmt.Errorf("internal panic: %v", r)
		a.log.Error("recovered from panic", zap.Error(perr), zap.ByteString("stack", stack))
		a.metrics.RecordOperation("panic", "error")
		summary = a.recordPartial()
		err = &DetailedError{Err: perr, Stack: stack}
	}()
	defer func() {
		if werr := a.metrics.WriteTextfile(a.cfg.Metrics.Textfile); werr != nil {
			a.log.Warn("could not write metrics textfile", zap.Error(werr))
		}
	}()

	switch {
	case a.flags.Revert:
		return a.Revert()
	case a.flags.Intelligent:
		return a.RetryIntelligent(ctx)
	case a.flags.OutputDiffFix:
		return a.FixAndPrintDiffs()
	}

	content, err := a.source.GetContent()
	if err != nil {
		return model.Summary{}, err
	}
	if strings.TrimSpace(content) == "" {
		return model.Summary{Message: "Source is empty. Nothing to process."}, nil
	}

	summary, err = a.ApplyResponse(ctx, content)
	switch {
	case errors.Is(err, parser.ErrNoValidBlocks),
		errors.Is(err, review.ErrReviewCancelled),
		errors.Is(err, handlers.ErrCancelled):
		return summary, nil
	}
	return summary, err
}

func (a *App) parseOptions() parser.Options {
	return parser.Options{SingleRoot: a.ws.IsSingleRoot(), Extensions: a.extensions}
}

// ApplyResponse parses raw and applies it. A response with nothing to apply
// returns parser.ErrNoValidBlocks; a cancelled review returns
// review.ErrReviewCancelled with nothing written.
func (a *App) ApplyResponse(ctx context.Context, raw string) (model.Summary, error) {
	log := a.log.With(zap.String("operation", uuid.NewString()))
	a.inflight.states = nil
	parsed := parser.ParseResponse(raw, a.parseOptions())
	log.Debug("parsed response",
		zap.String("type", string(parsed.Type)),
		zap.Int("files", len(parsed.Files)),
		zap.Int("patches", len(parsed.Patches)))

	if parsed.IsEmpty() {
		a.metrics.RecordOperation("none", "empty")
		return model.Summary{Message: "No valid code blocks found. Nothing to do."}, parser.ErrNoValidBlocks
	}

	var (
		summary model.Summary
		err     error
	)
	switch parsed.Type {
	case model.ResponseCodeCompletion:
		summary, err = a.applyCompletion(*parsed.CodeCompletion, log)
	case model.ResponsePatches:
		summary, err = a.applyPatches(ctx, raw, parsed.Patches, log)
	default:
		summary, err = a.applyFiles(ctx, raw, parsed.Files, log)
	}

	outcome := "success"
	switch {
	case err != nil:
		outcome = "error"
	case len(summary.Failed) > 0 && summary.HasChanges():
		outcome = "partial"
	case len(summary.Failed) > 0:
		outcome = "failed"
	}
	a.metrics.RecordOperation(summary.Method, outcome)
	a.metrics.RecordFiles("created", len(summary.Created))
	a.metrics.RecordFiles("modified", len(summary.Modified))
	a.metrics.RecordFiles("deleted", len(summary.Deleted))
	a.metrics.RecordFiles("failed", len(summary.Failed))
	return summary, err
}

func (a *App) applyCompletion(c model.CodeCompletion, log *zap.Logger) (model.Summary, error) {
	summary := model.Summary{Method: MethodCompletion}
	abs, err := a.ws.Resolve(c.WorkspaceName, c.FilePath)
	if err != nil {
		return summary, err
	}
	if !a.ws.Exists(abs) {
		return summary, fmt.Errorf("cannot complete %s: file does not exist", c.FilePath)
	}

	inserter := a.inserter
	if inserter == nil {
		m, err := nvim.New(log)
		if err != nil {
			log.Warn("neovim unavailable, inserting on disk", zap.Error(err))
			inserter = nvim.FileInserter{}
		} else {
			defer m.Close()
			inserter = m
		}
	}

	if err := inserter.Insert(abs, c); err != nil {
		summary.Failed = []string{a.ws.Relative(abs)}
		return summary, fmt.Errorf("insert completion: %w", err)
	}
	summary.Modified = []string{a.ws.Relative(abs)}
	summary.Message = fmt.Sprintf("Inserted completion at %d:%d.", c.Line, c.Character)
	return summary, nil
}

func (a *App) reviewSource() review.DecisionSource {
	if !a.cfg.Review || a.reviewer == nil {
		return review.AcceptAllSource
	}
	return a.reviewer
}

func (a *App) runReview(ctx context.Context, items []model.ChangeItem) ([]model.ChangeItem, error) {
	return review.Run(ctx, items, a.reviewSource(),
		review.WithWorkspace(a.ws),
		review.WithLogger(a.log),
		review.WithMetrics(a.metrics))
}

// track notes states of files already changed by the running operation.
func (a *App) track(raw string, states ...model.OriginalFileState) {
	a.inflight.raw = raw
	a.inflight.states = append(a.inflight.states, states...)
}

// recordPartial records whatever the interrupted operation had changed so
// that it can still be reverted.
func (a *App) recordPartial() model.Summary {
	summary := model.Summary{Message: "The operation stopped on an internal error."}
	states := state.Merge(a.inflight.states)
	raw := a.inflight.raw
	a.inflight.states = nil
	if len(states) == 0 {
		summary.Message += " No files were changed."
		return summary
	}
	if err := a.ledger.Record(states, raw); err != nil {
		a.log.Error("could not record partial changes", zap.Error(err))
		summary.Message += " Partial changes could not be recorded for revert."
		return summary
	}
	summary.Recorded = len(states)
	summary.Message += " Partial changes were recorded. Run with --revert to undo them."
	return summary
}

func (a *App) record(states []model.OriginalFileState, raw string, summary *model.Summary) {
	a.inflight.states = nil
	if len(states) == 0 {
		return
	}
	if err := a.ledger.Record(states, raw); err != nil {
		a.log.Error("could not record applied changes", zap.Error(err))
		summary.Message = strings.TrimSpace(summary.Message + " Warning: the changes could not be recorded for revert.")
		return
	}
	summary.Recorded = len(states)
}

func (a *App) addUpdateResult(summary *model.Summary, res *handlers.UpdateResult) {
	for _, p := range res.Created {
		addFile(summary, "created", a.ws.Relative(p))
	}
	for _, p := range res.Modified {
		addFile(summary, "modified", a.ws.Relative(p))
	}
	for _, f := range res.Failed {
		addFile(summary, "failed", a.ws.Relative(f.Path))
	}
}

// addFile lists rel under action once. A file changed by several steps of
// one operation keeps its first listing unless a later step deletes it.
// Failures are listed independently of changes.
func addFile(summary *model.Summary, action, rel string) {
	if action == "failed" {
		if !slices.Contains(summary.Failed, rel) {
			summary.Failed = append(summary.Failed, rel)
		}
		return
	}
	if slices.Contains(summary.Deleted, rel) {
		return
	}
	listed := slices.Contains(summary.Created, rel) || slices.Contains(summary.Modified, rel)
	switch {
	case action == "deleted":
		summary.Created = slices.DeleteFunc(summary.Created, func(p string) bool { return p == rel })
		summary.Modified = slices.DeleteFunc(summary.Modified, func(p string) bool { return p == rel })
		summary.Deleted = append(summary.Deleted, rel)
	case listed:
	case action == "created":
		summary.Created = append(summary.Created, rel)
	default:
		summary.Modified = append(summary.Modified, rel)
	}
}

func (a *App) relative(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = a.ws.Relative(p)
	}
	return out
}

// Revert restores the last recorded apply and clears the ledger.
func (a *App) Revert() (model.Summary, error) {
	states, _ := a.ledger.LastApplied()
	if len(states) == 0 {
		return model.Summary{Method: MethodRevert, Message: "No operation to revert."}, nil
	}
	res, err := a.ledger.Revert(states, false)
	a.metrics.RecordOperation(MethodRevert, outcomeOf(err))
	summary := model.Summary{
		Method:   MethodRevert,
		Modified: a.relative(res.Reverted),
		Failed:   a.relative(res.Failed),
		Message:  "Reverted last operation.",
		Reverted: true,
	}
	return summary, err
}

// RetryIntelligent reverts the last apply without a message and replays its
// source text through the intelligent update.
func (a *App) RetryIntelligent(ctx context.Context) (model.Summary, error) {
	summary := model.Summary{Method: MethodIntelligent}
	states, raw := a.ledger.LastApplied()
	if len(states) == 0 || strings.TrimSpace(raw) == "" {
		return summary, state.ErrNothingRecorded
	}

	parsed := parser.ParseResponse(raw, a.parseOptions())
	var files []model.ClipboardFile
	switch parsed.Type {
	case model.ResponseFiles:
		files = parsed.Files
	case model.ResponsePatches:
		files = handlers.FilesFromFailedPatches(parsed.Patches)
	}
	if len(files) == 0 {
		return summary, fmt.Errorf("last applied response has no files to regenerate: %w", parser.ErrNoValidBlocks)
	}

	if _, err := a.ledger.Revert(states, false); err != nil {
		return summary, fmt.Errorf("revert before intelligent update: %w", err)
	}

	res, err := a.updater.Update(ctx, handlers.UpdateParams{Workspace: a.ws, Files: files})
	if err != nil {
		summary.Message = "Intelligent update cancelled. The previous apply was reverted."
		a.metrics.RecordOperation(MethodIntelligent, "cancelled")
		return summary, err
	}
	a.addUpdateResult(&summary, res)
	summary.Message = "Re-applied the last response with intelligent update."
	a.record(res.OriginalStates, raw, &summary)
	a.metrics.RecordOperation(MethodIntelligent, "success")
	return summary, nil
}

// FixAndPrintDiffs prints every diff of the source with hunk headers
// recomputed against the files on disk. Uncorrectable diffs are skipped.
func (a *App) FixAndPrintDiffs() (model.Summary, error) {
	content, err := a.source.GetContent()
	if err != nil {
		return model.Summary{}, err
	}
	parsed := parser.ParseResponse(content, a.parseOptions())
	for _, patch := range parsed.Patches {
		corrected, err := a.patcher.CorrectDiff(patch, a.ws)
		if err != nil {
			a.log.Debug("skipping uncorrectable diff", zap.String("path", patch.FilePath), zap.Error(err))
			continue
		}
		if corrected != "" {
			fmt.Fprint(a.stdout, corrected)
		}
	}
	a.metrics.RecordOperation(MethodDiffFix, "success")
	return model.Summary{Method: MethodDiffFix}, nil
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
