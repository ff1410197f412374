package handlers

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sokinpui/chatapply/internal/config"
	"github.com/sokinpui/chatapply/internal/fs"
	"github.com/sokinpui/chatapply/internal/llm"
	"github.com/sokinpui/chatapply/internal/logging"
	"github.com/sokinpui/chatapply/internal/metrics"
	"github.com/sokinpui/chatapply/internal/patcher"
	"github.com/sokinpui/chatapply/internal/state"
	"github.com/sokinpui/chatapply/model"
)

// ErrCancelled means the user cancelled an intelligent update. Nothing was
// written.
var ErrCancelled = errors.New("intelligent update cancelled")

// ErrEmptyResponse is a per-file failure for a model that returned nothing.
var ErrEmptyResponse = errors.New("model returned empty content")

const defaultRetryDelay = 5 * time.Second

// Progress is streaming telemetry for one file. It is informational only.
type Progress struct {
	FilePath        string
	Index, Total    int
	Tokens          int
	TokensPerSecond float64
	Attempt         int
	Retrying        bool
	Err             error
	Done            bool
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// IntelligentUpdater regenerates whole files through a model.
type IntelligentUpdater struct {
	Streamer   llm.Streamer
	Config     config.IntelligentUpdateConfig
	RetryDelay time.Duration
	Sleep      SleepFunc
	// Progress, when set, receives telemetry from the streaming loop.
	Progress func(Progress)

	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewIntelligentUpdater(streamer llm.Streamer, cfg config.IntelligentUpdateConfig, log *zap.Logger, m *metrics.Metrics) *IntelligentUpdater {
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	return &IntelligentUpdater{
		Streamer:   streamer,
		Config:     cfg,
		RetryDelay: delay,
		Sleep:      sleepContext,
		log:        logging.OrNop(log),
		metrics:    m,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// UpdateParams describes one intelligent update run.
type UpdateParams struct {
	Workspace *fs.Workspace
	// Files carry the change fragment for each target file.
	Files []model.ClipboardFile
	// Instruction is optional surrounding context, such as the full response.
	Instruction string
}

// UpdateResult reports the written files and per-file failures.
type UpdateResult struct {
	OriginalStates []model.OriginalFileState
	Created        []string
	Modified       []string
	Failed         []FailedFile
}

type generated struct {
	abs     string
	content string
}

// Update asks the model for the full new content of every file. All files
// are generated before any is written, so cancelling at any point returns
// ErrCancelled with the tree untouched. Transient model errors are retried
// after RetryDelay for as long as ctx is alive.
func (u *IntelligentUpdater) Update(ctx context.Context, p UpdateParams) (*UpdateResult, error) {
	res := &UpdateResult{}
	var pending []generated

	for i, f := range p.Files {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}

		abs, err := p.Workspace.Resolve(f.WorkspaceName, f.FilePath)
		if err != nil {
			res.Failed = append(res.Failed, FailedFile{Path: f.FilePath, Err: err})
			continue
		}

		var current string
		exists := p.Workspace.Exists(abs)
		if exists {
			if current, err = p.Workspace.ReadFile(abs); err != nil {
				res.Failed = append(res.Failed, FailedFile{Path: abs, Err: err})
				continue
			}
		}

		rel := p.Workspace.Relative(abs)
		msgs := buildMessages(rel, current, exists, f.Content, p.Instruction)
		text, err := u.streamWithRetry(ctx, rel, i, len(p.Files), msgs)
		if errors.Is(err, ErrCancelled) {
			u.log.Info("intelligent update cancelled", zap.String("path", rel))
			return nil, ErrCancelled
		}
		if err != nil {
			u.log.Error("intelligent update failed", zap.String("path", rel), zap.Error(err))
			res.Failed = append(res.Failed, FailedFile{Path: abs, Err: err})
			continue
		}

		content := CleanupResponse(text)
		if content == "" {
			res.Failed = append(res.Failed, FailedFile{Path: abs, Err: ErrEmptyResponse})
			continue
		}
		pending = append(pending, generated{abs: abs, content: content})
	}

	if ctx.Err() != nil {
		return nil, ErrCancelled
	}

	for _, g := range pending {
		st, err := state.Capture(p.Workspace, g.abs)
		if err != nil {
			res.Failed = append(res.Failed, FailedFile{Path: g.abs, Err: err})
			continue
		}
		if err := p.Workspace.WriteFile(g.abs, g.content); err != nil {
			res.Failed = append(res.Failed, FailedFile{Path: g.abs, Err: err})
			continue
		}
		res.OriginalStates = append(res.OriginalStates, st)
		if st.IsNew {
			res.Created = append(res.Created, g.abs)
		} else {
			res.Modified = append(res.Modified, g.abs)
		}
	}
	res.OriginalStates = state.Merge(res.OriginalStates)
	return res, nil
}

func (u *IntelligentUpdater) streamWithRetry(ctx context.Context, path string, index, total int, msgs []llm.Message) (string, error) {
	req := llm.RequestFor(u.Config, msgs)
	provider := u.Streamer.Provider()

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return "", ErrCancelled
		}

		start := time.Now()
		tokens := 0
		text, err := u.Streamer.StreamCompletion(ctx, req, func(chunk string) {
			tokens += llm.EstimateTokens(chunk)
			u.report(Progress{
				FilePath:        path,
				Index:           index,
				Total:           total,
				Tokens:          tokens,
				TokensPerSecond: rate(tokens, time.Since(start)),
				Attempt:         attempt,
			})
		})
		if err == nil {
			u.metrics.RecordTokens(provider, req.Model, tokens)
			u.report(Progress{FilePath: path, Index: index, Total: total, Tokens: tokens,
				TokensPerSecond: rate(tokens, time.Since(start)), Attempt: attempt, Done: true})
			return text, nil
		}

		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return "", ErrCancelled
		}
		if !llm.IsRetryable(err) {
			return "", err
		}

		u.log.Warn("model request failed, retrying",
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Duration("delay", u.RetryDelay),
			zap.Error(err))
		u.metrics.RecordRetry(provider)
		u.report(Progress{FilePath: path, Index: index, Total: total, Attempt: attempt, Retrying: true, Err: err})

		if err := u.Sleep(ctx, u.RetryDelay); err != nil {
			return "", ErrCancelled
		}
	}
}

func (u *IntelligentUpdater) report(p Progress) {
	if u.Progress != nil {
		u.Progress(p)
	}
}

func rate(tokens int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(tokens) / elapsed.Seconds()
}

// FilesFromFailedPatches turns failed patches into synthetic file blocks,
// one per target file, whose content is that file's diff fragment.
func FilesFromFailedPatches(patches []model.DiffPatch) []model.ClipboardFile {
	var files []model.ClipboardFile
	index := make(map[string]int)
	for _, patch := range patches {
		for _, section := range patcher.SplitPatch(patch.Content) {
			path := section.Path()
			if path == "" {
				path = patch.FilePath
			}
			if path == "" {
				continue
			}
			if patch.WorkspaceName != "" {
				path = strings.TrimPrefix(path, patch.WorkspaceName+"/")
			}
			key := patch.WorkspaceName + "\x00" + path
			if i, ok := index[key]; ok {
				files[i].Content += section.Render()
				continue
			}
			index[key] = len(files)
			files = append(files, model.ClipboardFile{
				FilePath:      path,
				Content:       section.Render(),
				WorkspaceName: patch.WorkspaceName,
			})
		}
	}
	return files
}
