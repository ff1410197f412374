package review

import (
	"errors"
	"fmt"

	"github.com/sokinpui/chatapply/model"
)

// ErrReviewCancelled means the review was closed without a decision. The
// caller must apply nothing.
var ErrReviewCancelled = errors.New("review cancelled")

// ErrUnknownItem is returned when a jump names an item that is not under
// review.
var ErrUnknownItem = errors.New("no such change under review")

// Status is the decision state of one item.
type Status int

const (
	Pending Status = iota
	Accepted
	Rejected
)

func (s Status) String() string {
	switch s {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	default:
		return "pending"
	}
}

// FileRef names one item by workspace and path.
type FileRef struct {
	FilePath      string
	WorkspaceName string
}

func refOf(item model.ChangeItem) FileRef {
	return FileRef{FilePath: item.FilePath, WorkspaceName: item.WorkspaceName}
}

// Controller is the review state machine. Items start pending and the cursor
// starts at the first one. The review ends when the cursor leaves the list,
// after a bulk decision, or on cancel.
type Controller struct {
	items     []model.ChangeItem
	status    []Status
	cursor    int
	bulk      bool
	cancelled bool
}

func NewController(items []model.ChangeItem) *Controller {
	return &Controller{
		items:  items,
		status: make([]Status, len(items)),
	}
}

// Len returns the number of items under review.
func (c *Controller) Len() int { return len(c.items) }

// Cursor returns the index of the current item.
func (c *Controller) Cursor() int { return c.cursor }

// Status returns the status of item i.
func (c *Controller) Status(i int) Status { return c.status[i] }

// Statuses returns a copy of every item's status.
func (c *Controller) Statuses() []Status {
	out := make([]Status, len(c.status))
	copy(out, c.status)
	return out
}

// Current returns the item under the cursor. ok is false once the review is
// done.
func (c *Controller) Current() (model.ChangeItem, bool) {
	if c.Done() {
		return model.ChangeItem{}, false
	}
	return c.items[c.cursor], true
}

// Done reports whether the review reached a terminal state.
func (c *Controller) Done() bool {
	return c.cancelled || c.bulk || c.cursor < 0 || c.cursor >= len(c.items)
}

// Cancelled reports whether the review was aborted.
func (c *Controller) Cancelled() bool { return c.cancelled }

func (c *Controller) Accept() { c.decide(Accepted) }

func (c *Controller) Reject() { c.decide(Rejected) }

func (c *Controller) decide(s Status) {
	if c.Done() {
		return
	}
	c.status[c.cursor] = s
	c.advance()
}

// advance moves to the next pending item after the cursor, or past the end.
func (c *Controller) advance() {
	for i := c.cursor + 1; i < len(c.items); i++ {
		if c.status[i] == Pending {
			c.cursor = i
			return
		}
	}
	c.cursor = len(c.items)
}

// Previous steps back one item without changing any decision. Stepping back
// from the first item ends the review.
func (c *Controller) Previous() {
	if c.Done() {
		return
	}
	c.cursor--
}

// JumpTo moves the cursor to the named item and resets it to pending. Other
// decisions are kept.
func (c *Controller) JumpTo(filePath, workspaceName string) error {
	if c.Done() {
		return nil
	}
	for i, item := range c.items {
		if item.FilePath == filePath && item.WorkspaceName == workspaceName {
			c.status[i] = Pending
			c.cursor = i
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownItem, filePath)
}

// AcceptAll accepts every pending item and ends the review. Rejections made
// earlier stand.
func (c *Controller) AcceptAll() {
	if c.Done() {
		return
	}
	for i, s := range c.status {
		if s == Pending {
			c.status[i] = Accepted
		}
	}
	c.bulk = true
}

// AcceptFiles accepts exactly the named items, rejects the rest and ends the
// review.
func (c *Controller) AcceptFiles(files []FileRef) {
	if c.Done() {
		return
	}
	named := make(map[FileRef]bool, len(files))
	for _, f := range files {
		named[f] = true
	}
	for i, item := range c.items {
		if named[refOf(item)] {
			c.status[i] = Accepted
		} else {
			c.status[i] = Rejected
		}
	}
	c.bulk = true
}

// Cancel voids the review.
func (c *Controller) Cancel() {
	c.cancelled = true
}

// Accepted returns the accepted items in input order. Items still pending
// when the review ended count as rejected. A cancelled review returns
// ErrReviewCancelled, which is distinct from an empty accepted list.
func (c *Controller) Accepted() ([]model.ChangeItem, error) {
	if c.cancelled {
		return nil, ErrReviewCancelled
	}
	accepted := []model.ChangeItem{}
	for i, item := range c.items {
		if c.status[i] == Accepted {
			accepted = append(accepted, item)
		}
	}
	return accepted, nil
}
