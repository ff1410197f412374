package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sokinpui/chatapply/internal/fs"
	"github.com/sokinpui/chatapply/internal/logging"
	"github.com/sokinpui/chatapply/internal/metrics"
	"github.com/sokinpui/chatapply/internal/ui"
	"github.com/sokinpui/chatapply/model"
)

const stateFileName = "state.json"

// Record is the single persisted "last applied" slot.
type Record struct {
	ID                    string                    `json:"id"`
	AppliedAt             time.Time                 `json:"applied_at"`
	LastAppliedChanges    []model.OriginalFileState `json:"last_applied_changes"`
	LastAppliedSourceText string                    `json:"last_applied_source_text"`
}

// Ledger persists the original file states of the last apply operation and
// restores them on request. Only one generation is kept.
type Ledger struct {
	ws        *fs.Workspace
	statePath string
	StateDir  string
	record    *Record
	log       *zap.Logger
	metrics   *metrics.Metrics
}

// New creates and loads a ledger. A relative stateDir is placed under the
// workspace's default root.
func New(ws *fs.Workspace, stateDir string, log *zap.Logger, m *metrics.Metrics) (*Ledger, error) {
	if !filepath.IsAbs(stateDir) {
		stateDir = filepath.Join(ws.DefaultRoot().Path, stateDir)
	}
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("could not create state directory: %w", err)
	}
	l := &Ledger{
		ws:        ws,
		statePath: filepath.Join(stateDir, stateFileName),
		StateDir:  stateDir,
		log:       logging.OrNop(log),
		metrics:   m,
	}
	if err := l.load(); err != nil {
		l.log.Warn("discarding unreadable state file", zap.String("path", l.statePath), zap.Error(err))
		l.record = nil
	}
	return l, nil
}

func (l *Ledger) load() error {
	data, err := os.ReadFile(l.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("invalid state file: %w", err)
	}
	if len(rec.LastAppliedChanges) > 0 {
		l.record = &rec
	}
	return nil
}

func (l *Ledger) save() error {
	if l.record == nil {
		if err := os.Remove(l.statePath); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	data, err := json.MarshalIndent(l.record, "", "  ")
	if err != nil {
		return err
	}
	tmp := l.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, l.statePath)
}

// Record replaces the last applied slot with states and the source text that
// produced them. An empty state list leaves the previous record untouched.
func (l *Ledger) Record(states []model.OriginalFileState, sourceText string) error {
	if len(states) == 0 {
		return nil
	}
	l.record = &Record{
		ID:                    uuid.NewString(),
		AppliedAt:             time.Now().UTC(),
		LastAppliedChanges:    Merge(states),
		LastAppliedSourceText: sourceText,
	}
	l.log.Debug("recorded original states",
		zap.String("id", l.record.ID),
		zap.Int("files", len(l.record.LastAppliedChanges)))
	return l.save()
}

// LastApplied returns the recorded states and source text, or nil when the
// ledger is empty.
func (l *Ledger) LastApplied() ([]model.OriginalFileState, string) {
	if l.record == nil {
		return nil, ""
	}
	states := make([]model.OriginalFileState, len(l.record.LastAppliedChanges))
	copy(states, l.record.LastAppliedChanges)
	return states, l.record.LastAppliedSourceText
}

// Clear empties the ledger.
func (l *Ledger) Clear() error {
	l.record = nil
	return l.save()
}

// RevertResult lists reverted and failed absolute paths.
type RevertResult struct {
	Reverted []string
	Failed   []string
}

// Revert restores states and then clears the ledger; a revert is not itself
// undoable. showMessage controls the user-facing summary.
func (l *Ledger) Revert(states []model.OriginalFileState, showMessage bool) (RevertResult, error) {
	res := Restore(l.ws, states)
	for _, p := range res.Failed {
		l.log.Warn("revert failed", zap.String("path", p))
	}
	l.metrics.RecordRevert()

	if err := l.Clear(); err != nil {
		return res, fmt.Errorf("clear ledger: %w", err)
	}

	if showMessage {
		ui.PrintRevertSummary(l.relative(res.Reverted), l.relative(res.Failed))
	}
	if len(res.Failed) > 0 {
		return res, fmt.Errorf("failed to revert %d file(s)", len(res.Failed))
	}
	return res, nil
}

// RevertLast reverts whatever the ledger currently holds.
func (l *Ledger) RevertLast(showMessage bool) (RevertResult, error) {
	states, _ := l.LastApplied()
	if len(states) == 0 {
		if showMessage {
			ui.Info("No operation to revert.")
		}
		return RevertResult{}, nil
	}
	return l.Revert(states, showMessage)
}

func (l *Ledger) relative(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = l.ws.Relative(p)
	}
	return out
}

// Capture snapshots the current state of an absolute path.
func Capture(ws *fs.Workspace, abs string) (model.OriginalFileState, error) {
	if !ws.Exists(abs) {
		info, err := os.Stat(abs)
		if err == nil && info.IsDir() {
			return model.OriginalFileState{}, fmt.Errorf("%s is a directory", abs)
		}
		return model.OriginalFileState{FilePath: abs, IsNew: true}, nil
	}
	content, err := ws.ReadFile(abs)
	if err != nil {
		return model.OriginalFileState{}, err
	}
	return model.OriginalFileState{FilePath: abs, Content: &content}, nil
}

// Restore replays states in reverse order: new files are deleted, others
// are overwritten with their recorded content.
func Restore(ws *fs.Workspace, states []model.OriginalFileState) RevertResult {
	var res RevertResult
	for i := len(states) - 1; i >= 0; i-- {
		st := states[i]
		if err := restoreOne(ws, st); err != nil {
			res.Failed = append(res.Failed, st.FilePath)
			continue
		}
		res.Reverted = append(res.Reverted, st.FilePath)
	}
	return res
}

func restoreOne(ws *fs.Workspace, st model.OriginalFileState) error {
	if st.IsNew || st.Content == nil {
		if !ws.Exists(st.FilePath) {
			return nil
		}
		return ws.RemoveFile(st.FilePath)
	}
	return ws.WriteFile(st.FilePath, *st.Content)
}

// Merge unions state lists keeping the first state seen for every path, so
// the earliest capture of a file survives.
func Merge(groups ...[]model.OriginalFileState) []model.OriginalFileState {
	seen := make(map[string]struct{})
	var out []model.OriginalFileState
	for _, g := range groups {
		for _, st := range g {
			if _, ok := seen[st.FilePath]; ok {
				continue
			}
			seen[st.FilePath] = struct{}{}
			out = append(out, st)
		}
	}
	return out
}

// ErrNothingRecorded is returned when an operation needs a recorded apply.
var ErrNothingRecorded = errors.New("no applied changes recorded")
