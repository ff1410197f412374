package review

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sokinpui/chatapply/internal/fs"
	"github.com/sokinpui/chatapply/internal/logging"
	"github.com/sokinpui/chatapply/internal/metrics"
	"github.com/sokinpui/chatapply/model"
)

// Action is the kind of a review decision.
type Action int

const (
	ActionAccept Action = iota
	ActionReject
	ActionPrevious
	ActionJump
	ActionAcceptAll
	ActionAcceptFiles
	ActionCancel
)

func (a Action) String() string {
	switch a {
	case ActionAccept:
		return "accept"
	case ActionReject:
		return "reject"
	case ActionPrevious:
		return "previous"
	case ActionJump:
		return "jump"
	case ActionAcceptAll:
		return "accept_all"
	case ActionAcceptFiles:
		return "accept_files"
	case ActionCancel:
		return "cancel"
	}
	return "unknown"
}

// Decision is one user answer. Target is used by ActionJump and Files by
// ActionAcceptFiles.
type Decision struct {
	Action Action
	Target FileRef
	Files  []FileRef
}

// Prompt is what a decision source shows for the current item.
type Prompt struct {
	Index    int
	Total    int
	Item     model.ChangeItem
	Original string
	Diff     string
	Stats    Stats
	Items    []model.ChangeItem
	Statuses []Status
}

// DecisionSource answers prompts. A terminal UI, a scripted test harness and
// the non-interactive accept-all mode all implement it.
type DecisionSource interface {
	Decide(ctx context.Context, p Prompt) (Decision, error)
}

// DecisionFunc adapts a function to DecisionSource.
type DecisionFunc func(ctx context.Context, p Prompt) (Decision, error)

func (f DecisionFunc) Decide(ctx context.Context, p Prompt) (Decision, error) { return f(ctx, p) }

// AcceptAllSource accepts everything on the first prompt.
var AcceptAllSource DecisionSource = DecisionFunc(func(context.Context, Prompt) (Decision, error) {
	return Decision{Action: ActionAcceptAll}, nil
})

// Option configures Run.
type Option func(*runner)

// WithWorkspace reads the current content of each item from ws so the diff
// has a left side.
func WithWorkspace(ws *fs.Workspace) Option {
	return func(r *runner) { r.ws = ws }
}

func WithLogger(log *zap.Logger) Option {
	return func(r *runner) { r.log = logging.OrNop(log) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *runner) { r.metrics = m }
}

type runner struct {
	ws      *fs.Workspace
	log     *zap.Logger
	metrics *metrics.Metrics
}

// Run drives a Controller with decisions from src until the review ends and
// returns the accepted items. A cancel decision, or ctx ending while a
// decision is awaited, returns ErrReviewCancelled.
func Run(ctx context.Context, items []model.ChangeItem, src DecisionSource, opts ...Option) ([]model.ChangeItem, error) {
	r := &runner{log: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}

	c := NewController(items)
	originals := make(map[int]string)

	for !c.Done() {
		i := c.Cursor()
		item, _ := c.Current()

		original, ok := originals[i]
		if !ok {
			original = r.original(item)
			originals[i] = original
		}
		diff, err := UnifiedDiff(item.FilePath, original, item.Content, item.IsNew, item.IsDeleted)
		if err != nil {
			return nil, fmt.Errorf("render diff for %s: %w", item.FilePath, err)
		}

		d, err := src.Decide(ctx, Prompt{
			Index:    i,
			Total:    c.Len(),
			Item:     item,
			Original: original,
			Diff:     diff,
			Stats:    LineStats(original, item.Content),
			Items:    items,
			Statuses: c.Statuses(),
		})
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrReviewCancelled) {
				c.Cancel()
				break
			}
			return nil, err
		}

		r.metrics.RecordDecision(d.Action.String())
		r.log.Debug("review decision",
			zap.String("path", item.FilePath),
			zap.Stringer("action", d.Action))

		switch d.Action {
		case ActionAccept:
			c.Accept()
		case ActionReject:
			c.Reject()
		case ActionPrevious:
			c.Previous()
		case ActionJump:
			if err := c.JumpTo(d.Target.FilePath, d.Target.WorkspaceName); err != nil {
				return nil, err
			}
		case ActionAcceptAll:
			c.AcceptAll()
		case ActionAcceptFiles:
			c.AcceptFiles(d.Files)
		case ActionCancel:
			c.Cancel()
		default:
			return nil, fmt.Errorf("unknown review action %d", d.Action)
		}
	}

	return c.Accepted()
}

func (r *runner) original(item model.ChangeItem) string {
	if r.ws == nil || item.IsNew {
		return ""
	}
	abs, err := r.ws.Resolve(item.WorkspaceName, item.FilePath)
	if err != nil || !r.ws.Exists(abs) {
		return ""
	}
	content, err := r.ws.ReadFile(abs)
	if err != nil {
		r.log.Warn("could not read file for review", zap.String("path", abs), zap.Error(err))
		return ""
	}
	return content
}
