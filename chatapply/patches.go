package chatapply

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sokinpui/chatapply/internal/handlers"
	"github.com/sokinpui/chatapply/internal/patcher"
	"github.com/sokinpui/chatapply/internal/state"
	"github.com/sokinpui/chatapply/model"
)

// reviewedPatch is one parsed patch with the absolute paths accepted for it.
type reviewedPatch struct {
	patch    *model.DiffPatch
	accepted []string
}

// applyPatches predicts every patch, reviews the per-file results, applies
// each accepted patch once and regenerates the files of failed patches
// through the intelligent update.
func (a *App) applyPatches(ctx context.Context, raw string, patches []model.DiffPatch, log *zap.Logger) (model.Summary, error) {
	summary := model.Summary{Method: MethodPatch}

	var (
		items   []model.ChangeItem
		paths   = make(map[*model.DiffPatch]map[string]string)
		failed  []model.DiffPatch
		ordered []*reviewedPatch
	)

	for i := range patches {
		p := &patches[i]
		planned, err := a.patcher.Plan(*p, a.ws)
		if err != nil {
			log.Info("patch cannot be applied as is", zap.String("path", p.FilePath), zap.Error(err))
			failed = append(failed, *p)
			continue
		}
		paths[p] = make(map[string]string, len(planned))
		for _, pf := range planned {
			rel := a.ws.Relative(pf.Path)
			paths[p][rel] = pf.Path
			items = append(items, model.ChangeItem{
				FilePath:  rel,
				Content:   pf.Content,
				IsNew:     !pf.Existed,
				IsDeleted: pf.Delete,
				Patch:     p,
			})
		}
	}

	if len(items) > 0 {
		accepted, err := a.runReview(ctx, items)
		if err != nil {
			summary.Message = "Review cancelled. No changes were applied."
			return summary, err
		}

		byPatch := make(map[*model.DiffPatch]*reviewedPatch)
		for _, item := range accepted {
			rp, ok := byPatch[item.Patch]
			if !ok {
				rp = &reviewedPatch{patch: item.Patch}
				byPatch[item.Patch] = rp
				ordered = append(ordered, rp)
			}
			rp.accepted = append(rp.accepted, paths[item.Patch][item.FilePath])
		}
		if len(accepted) == 0 && len(failed) == 0 {
			summary.Message = "No changes were accepted."
			return summary, nil
		}
	}

	var states []model.OriginalFileState
	for _, rp := range ordered {
		res := a.patcher.ApplyGitPatch(rp.patch.Content, a.ws, rp.patch.WorkspaceName,
			patcher.OnlyPaths(rp.accepted...),
			patcher.DefaultPath(rp.patch.FilePath))
		if !res.Success {
			log.Warn("patch failed, falling back to intelligent update",
				zap.String("path", rp.patch.FilePath), zap.Error(res.Err))
			failed = append(failed, a.restrictPatch(*rp.patch, rp.accepted))
			continue
		}
		states = append(states, res.OriginalStates...)
		a.track(raw, res.OriginalStates...)
		summary.UsedFallback = summary.UsedFallback || res.UsedFallback
		for _, f := range res.Files {
			addFile(&summary, f.Action, a.ws.Relative(f.Path))
		}
	}

	var err error
	if len(failed) > 0 {
		files := handlers.FilesFromFailedPatches(failed)
		log.Info("regenerating files of failed patches", zap.Int("files", len(files)))
		res, uerr := a.updater.Update(ctx, handlers.UpdateParams{Workspace: a.ws, Files: files})
		switch {
		case uerr != nil:
			err = uerr
			for _, f := range files {
				addFile(&summary, "failed", f.FilePath)
			}
			summary.Message = "Intelligent update cancelled. Patches that applied cleanly were kept."
		default:
			summary.Method = MethodPatch + "+" + MethodIntelligent
			states = state.Merge(states, res.OriginalStates)
			a.addUpdateResult(&summary, res)
		}
	}

	a.record(state.Merge(states), raw, &summary)
	return summary, err
}

// restrictPatch keeps only the sections of p whose target is in accepted.
func (a *App) restrictPatch(p model.DiffPatch, accepted []string) model.DiffPatch {
	keep := make(map[string]bool, len(accepted))
	for _, abs := range accepted {
		keep[abs] = true
	}
	var sb strings.Builder
	for _, section := range patcher.SplitPatch(p.Content) {
		rel := section.Path()
		if rel == "" {
			rel = p.FilePath
		}
		if p.WorkspaceName != "" {
			rel = strings.TrimPrefix(rel, p.WorkspaceName+"/")
		}
		abs, err := a.ws.Resolve(p.WorkspaceName, rel)
		if err != nil || !keep[abs] {
			continue
		}
		sb.WriteString(section.Render())
	}
	p.Content = sb.String()
	return p
}
