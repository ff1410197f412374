package chatapply

import (
	"context"

	"go.uber.org/zap"

	"github.com/sokinpui/chatapply/internal/fragment"
	"github.com/sokinpui/chatapply/internal/handlers"
	"github.com/sokinpui/chatapply/model"
)

// chooseMethod picks fast replace unless an existing file receives a
// truncated fragment.
func (a *App) chooseMethod(files []model.ClipboardFile) string {
	allNew := true
	for _, f := range files {
		abs, err := a.ws.Resolve(f.WorkspaceName, f.FilePath)
		if err == nil && a.ws.Exists(abs) {
			allNew = false
			break
		}
	}
	if allNew {
		return MethodFastReplace
	}
	if fragment.CheckForTruncatedFragments(files) {
		return MethodIntelligent
	}
	return MethodFastReplace
}

// applyFiles writes whole-file blocks by fast replace, or regenerates them
// through the model when they look truncated. Only fast replace content is
// complete before writing, so only that path is reviewed.
func (a *App) applyFiles(ctx context.Context, raw string, files []model.ClipboardFile, log *zap.Logger) (model.Summary, error) {
	method := a.chooseMethod(files)
	summary := model.Summary{Method: method}
	log.Info("applying files", zap.String("method", method), zap.Int("files", len(files)))

	if method == MethodIntelligent {
		res, err := a.updater.Update(ctx, handlers.UpdateParams{Workspace: a.ws, Files: files})
		if err != nil {
			summary.Message = "Intelligent update cancelled. No changes were applied."
			return summary, err
		}
		a.addUpdateResult(&summary, res)
		a.record(res.OriginalStates, raw, &summary)
		return summary, nil
	}

	files, err := a.reviewFiles(ctx, files)
	if err != nil {
		summary.Message = "Review cancelled. No changes were applied."
		return summary, err
	}
	if len(files) == 0 {
		summary.Message = "No changes were accepted."
		return summary, nil
	}

	res := handlers.FastReplace(a.ws, files, log)
	summary.Created = a.relative(res.Created)
	summary.Modified = a.relative(res.Modified)
	for _, f := range res.Failed {
		summary.Failed = append(summary.Failed, a.ws.Relative(f.Path))
	}
	if len(res.Modified) > 0 {
		summary.Message = "Replaced whole files. Run with --intelligent if the result looks off."
	}
	a.record(res.OriginalStates, raw, &summary)
	return summary, nil
}

func (a *App) reviewFiles(ctx context.Context, files []model.ClipboardFile) ([]model.ClipboardFile, error) {
	if !a.cfg.Review || a.reviewer == nil {
		return files, nil
	}

	items := make([]model.ChangeItem, 0, len(files))
	byItem := make(map[string]model.ClipboardFile, len(files))
	var unresolved []model.ClipboardFile
	for _, f := range files {
		abs, err := a.ws.Resolve(f.WorkspaceName, f.FilePath)
		if err != nil {
			// FastReplace reports it as failed.
			unresolved = append(unresolved, f)
			continue
		}
		rel := a.ws.Relative(abs)
		byItem[rel] = f
		items = append(items, model.ChangeItem{
			FilePath: rel,
			Content:  f.Content,
			IsNew:    !a.ws.Exists(abs),
		})
	}

	accepted, err := a.runReview(ctx, items)
	if err != nil {
		return nil, err
	}
	out := make([]model.ClipboardFile, 0, len(accepted)+len(unresolved))
	for _, item := range accepted {
		out = append(out, byItem[item.FilePath])
	}
	return append(out, unresolved...), nil
}
