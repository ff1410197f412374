package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sokinpui/chatapply/chatapply"
	"github.com/sokinpui/chatapply/cli"
	"github.com/sokinpui/chatapply/internal/handlers"
	"github.com/sokinpui/chatapply/internal/review"
	"github.com/sokinpui/chatapply/model"
)

// --- Styles ---
var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")) // Mauve
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))            // Green
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("197"))           // Red
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	addStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	delStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("197"))
	hunkStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	pathStyle    = lipgloss.NewStyle()
	faintStyle   = lipgloss.NewStyle().Faint(true)
)

// --- Messages ---
type summaryMsg struct {
	model.Summary
}

type errorMsg struct{ err error }

func (e errorMsg) Error() string { return e.err.Error() }

type progressMsg handlers.Progress

type reviewMsg struct {
	prompt review.Prompt
	reply  chan review.Decision
}

// --- Model ---
type Model struct {
	app     *chatapply.App
	cfg     *cli.Config
	program *tea.Program
	ctx     context.Context
	cancel  context.CancelFunc

	spinner  spinner.Model
	viewport viewport.Model
	state    state
	summary  summaryMsg
	err      error
	progress handlers.Progress
	review   *reviewMsg
	width    int
	height   int
}

type state int

const (
	stateProcessing state = iota
	stateReviewing
	stateSummary
	stateError
)

func New(app *chatapply.App, cfg *cli.Config) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	ctx, cancel := context.WithCancel(context.Background())
	return &Model{
		app:      app,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		spinner:  s,
		viewport: viewport.New(80, 20),
		state:    stateProcessing,
	}
}

// SetProgram wires the app callbacks to the running program. It must be
// called before the program starts.
func (m *Model) SetProgram(p *tea.Program) {
	m.program = p
	if !m.cfg.NoAnimation {
		m.app.SetProgressCallback(func(pr handlers.Progress) {
			p.Send(progressMsg(pr))
		})
	}
	m.app.SetDecisionSource(&programSource{program: p})
}

func (m *Model) Init() tea.Cmd {
	if m.cfg.NoAnimation {
		return m.runApp
	}
	return tea.Batch(m.spinner.Tick, m.runApp)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-6, 5)
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.cancel()
			if m.review != nil {
				m.answer(review.Decision{Action: review.ActionCancel})
			}
			if m.state != stateProcessing && m.state != stateReviewing {
				return m, tea.Quit
			}
			return m, nil
		}
		if m.state == stateReviewing {
			return m.updateReview(msg)
		}
		if msg.String() == "q" && m.state != stateProcessing {
			return m, tea.Quit
		}

	case progressMsg:
		m.progress = handlers.Progress(msg)
		return m, nil

	case reviewMsg:
		m.state = stateReviewing
		m.review = &msg
		m.viewport.SetContent(colorizeDiff(msg.prompt.Diff))
		m.viewport.GotoTop()
		return m, nil

	case summaryMsg:
		m.state = stateSummary
		m.summary = msg
		return m, tea.Quit

	case errorMsg:
		m.state = stateError
		m.err = msg
		return m, tea.Quit

	default:
		var cmd tea.Cmd
		if m.state == stateProcessing {
			m.spinner, cmd = m.spinner.Update(msg)
		}
		return m, cmd
	}
	return m, nil
}

func (m *Model) updateReview(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	p := m.review.prompt
	switch msg.String() {
	case "y", "enter":
		m.answer(review.Decision{Action: review.ActionAccept})
	case "n":
		m.answer(review.Decision{Action: review.ActionReject})
	case "p", "left":
		m.answer(review.Decision{Action: review.ActionPrevious})
	case "a":
		m.answer(review.Decision{Action: review.ActionAcceptAll})
	case "q", "esc":
		m.answer(review.Decision{Action: review.ActionCancel})
	case "1", "2", "3", "4", "5", "6", "7", "8", "9":
		i := int(msg.String()[0] - '1')
		if i < len(p.Items) {
			target := p.Items[i]
			m.answer(review.Decision{Action: review.ActionJump, Target: review.FileRef{
				FilePath:      target.FilePath,
				WorkspaceName: target.WorkspaceName,
			}})
		}
	default:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) answer(d review.Decision) {
	if m.review == nil {
		return
	}
	m.review.reply <- d
	m.review = nil
	m.state = stateProcessing
}

func (m *Model) View() string {
	switch m.state {
	case stateProcessing:
		return m.renderProgress()
	case stateReviewing:
		return m.renderReview()
	case stateError:
		return errorStyle.Render("Error: ", m.err.Error()) + "\n"
	case stateSummary:
		return m.renderSummary()
	default:
		return ""
	}
}

func (m *Model) renderProgress() string {
	if m.cfg.NoAnimation {
		return ""
	}
	pr := m.progress
	if pr.FilePath == "" {
		return fmt.Sprintf("%s Processing...\n", m.spinner.View())
	}
	line := fmt.Sprintf("%s Regenerating %s (%d/%d) %d tokens, %.1f tok/s",
		m.spinner.View(), pr.FilePath, pr.Index+1, pr.Total, pr.Tokens, pr.TokensPerSecond)
	if pr.Retrying {
		line += warnStyle.Render(fmt.Sprintf("  retrying after attempt %d: %v", pr.Attempt, pr.Err))
	}
	return line + "\n"
}

func (m *Model) renderReview() string {
	p := m.review.prompt
	var b strings.Builder

	label := "modified"
	switch {
	case p.Item.IsNew:
		label = "new"
	case p.Item.IsDeleted:
		label = "deleted"
	}
	b.WriteString(headerStyle.Render(fmt.Sprintf("Review %d/%d: %s (%s)", p.Index+1, p.Total, p.Item.FilePath, label)))
	b.WriteString("  ")
	b.WriteString(addStyle.Render(fmt.Sprintf("+%d", p.Stats.Added)))
	b.WriteString(" ")
	b.WriteString(delStyle.Render(fmt.Sprintf("-%d", p.Stats.Removed)))
	b.WriteString("\n")

	for i, item := range p.Items {
		marker := faintStyle.Render("·")
		switch p.Statuses[i] {
		case review.Accepted:
			marker = successStyle.Render("✓")
		case review.Rejected:
			marker = errorStyle.Render("✗")
		}
		name := item.FilePath
		if i == p.Index {
			name = headerStyle.Render(name)
		}
		if i < 9 {
			b.WriteString(fmt.Sprintf(" %s %d %s\n", marker, i+1, name))
		} else {
			b.WriteString(fmt.Sprintf(" %s   %s\n", marker, name))
		}
	}

	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(faintStyle.Render("y accept · n reject · p previous · 1-9 jump · a accept all · q cancel · ↑/↓ scroll"))
	return b.String()
}

func colorizeDiff(diff string) string {
	if diff == "" {
		return faintStyle.Render("(no changes)")
	}
	lines := strings.Split(strings.TrimRight(diff, "\n"), "\n")
	for i, l := range lines {
		switch {
		case strings.HasPrefix(l, "+++"), strings.HasPrefix(l, "---"):
			lines[i] = headerStyle.Render(l)
		case strings.HasPrefix(l, "@@"):
			lines[i] = hunkStyle.Render(l)
		case strings.HasPrefix(l, "+"):
			lines[i] = addStyle.Render(l)
		case strings.HasPrefix(l, "-"):
			lines[i] = delStyle.Render(l)
		}
	}
	return strings.Join(lines, "\n")
}

func (m *Model) renderSummary() string {
	var b strings.Builder

	if m.summary.Message != "" {
		b.WriteString(headerStyle.Render(m.summary.Message))
		b.WriteString("\n\n")
	}

	hasContent := false
	for _, group := range []struct {
		title string
		style lipgloss.Style
		files []string
	}{
		{"Created:", successStyle, m.summary.Created},
		{"Modified:", successStyle, m.summary.Modified},
		{"Deleted:", successStyle, m.summary.Deleted},
		{"Failed:", errorStyle, m.summary.Failed},
	} {
		if len(group.files) == 0 {
			continue
		}
		hasContent = true
		b.WriteString(group.style.Render(group.title))
		b.WriteString("\n")
		for _, f := range group.files {
			b.WriteString(fmt.Sprintf("  %s\n", pathStyle.Render(f)))
		}
	}

	if m.summary.UsedFallback {
		b.WriteString(warnStyle.Render("Some patches needed the fuzzy fallback. Run with --intelligent if the result looks off."))
		b.WriteString("\n")
	}
	if m.summary.Recorded > 0 && !m.summary.Reverted {
		b.WriteString(faintStyle.Render("Run with --revert to restore the previous state."))
		b.WriteString("\n")
	}

	if !hasContent && m.summary.Message == "" {
		b.WriteString(faintStyle.Render("Nothing to do."))
		b.WriteString("\n")
	}

	return b.String()
}

func (m *Model) runApp() tea.Msg {
	summary, err := m.app.Execute(m.ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, handlers.ErrCancelled) {
			return summaryMsg{Summary: model.Summary{Message: "Cancelled."}}
		}
		// Check for detailed error to print stack
		var e *chatapply.DetailedError
		if errors.As(err, &e) {
			// The TUI will exit, so we can print to stderr here for the stack trace.
			fmt.Fprintf(os.Stderr, "\n--- Stack Trace ---\n%s\n", e.Stack)
		}
		if summary.Recorded > 0 {
			return errorMsg{fmt.Errorf("%w\n%s", err, summary.Message)}
		}
		return errorMsg{err}
	}
	return summaryMsg{
		Summary: summary,
	}
}

// programSource answers review prompts through the running program.
type programSource struct {
	program *tea.Program
}

func (s *programSource) Decide(ctx context.Context, p review.Prompt) (review.Decision, error) {
	reply := make(chan review.Decision, 1)
	s.program.Send(reviewMsg{prompt: p, reply: reply})
	select {
	case d := <-reply:
		return d, nil
	case <-ctx.Done():
		return review.Decision{}, ctx.Err()
	}
}
