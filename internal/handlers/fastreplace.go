package handlers

import (
	"go.uber.org/zap"

	"github.com/sokinpui/chatapply/internal/fs"
	"github.com/sokinpui/chatapply/internal/logging"
	"github.com/sokinpui/chatapply/internal/state"
	"github.com/sokinpui/chatapply/model"
)

// FailedFile is a file a handler skipped, with the reason.
type FailedFile struct {
	Path string
	Err  error
}

// FastReplaceResult reports per-file outcomes. Partial success is normal:
// len(OriginalStates) < len(files) means some files were skipped.
type FastReplaceResult struct {
	OriginalStates []model.OriginalFileState
	Created        []string
	Modified       []string
	Failed         []FailedFile
}

// Success reports whether at least one file was written.
func (r FastReplaceResult) Success() bool {
	return len(r.OriginalStates) > 0
}

// FastReplace writes every file's content verbatim. A file whose path
// escapes its workspace root, or that cannot be read or written, is skipped
// without aborting the others.
func FastReplace(ws *fs.Workspace, files []model.ClipboardFile, log *zap.Logger) FastReplaceResult {
	log = logging.OrNop(log)
	var res FastReplaceResult

	for _, f := range files {
		abs, err := ws.Resolve(f.WorkspaceName, f.FilePath)
		if err != nil {
			log.Warn("skipping file", zap.String("path", f.FilePath), zap.Error(err))
			res.Failed = append(res.Failed, FailedFile{Path: f.FilePath, Err: err})
			continue
		}

		st, err := state.Capture(ws, abs)
		if err != nil {
			log.Warn("could not capture original state", zap.String("path", abs), zap.Error(err))
			res.Failed = append(res.Failed, FailedFile{Path: abs, Err: err})
			continue
		}

		if err := ws.WriteFile(abs, f.Content); err != nil {
			log.Error("write failed", zap.String("path", abs), zap.Error(err))
			res.Failed = append(res.Failed, FailedFile{Path: abs, Err: err})
			continue
		}

		res.OriginalStates = append(res.OriginalStates, st)
		if st.IsNew {
			res.Created = append(res.Created, abs)
		} else {
			res.Modified = append(res.Modified, abs)
		}
		log.Debug("replaced file", zap.String("path", abs), zap.Bool("new", st.IsNew))
	}
	res.OriginalStates = state.Merge(res.OriginalStates)
	return res
}
