package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/docent-ai/docent/app"
	"github.com/docent-ai/docent/engine/rag"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Interactive question console",
	Args:  cobra.NoArgs,
	RunE:  runTUI,
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	deps, err := app.New(ctx, cfg, cliLogger(), app.Options{})
	if err != nil {
		return err
	}
	defer deps.Close(context.Background())

	m := newConsole(ctx, deps.Pipeline, cfg.Query.TopK, cfg.Store.Index)
	_, err = tea.NewProgram(m).Run()
	return err
}

// answerMsg delivers one completed ask back into the update loop.
type answerMsg struct {
	question string
	result   rag.AnswerResult
	took     time.Duration
	err      error
}

// console is the Bubble Tea model for the question console.
type console struct {
	ctx      context.Context
	pipeline *rag.Pipeline
	topK     int
	index    string

	input    textinput.Model
	viewport viewport.Model
	result   rag.AnswerResult
	cursor   int
	status   string
	waiting  bool
	ready    bool
	asked    bool
}

func newConsole(ctx context.Context, p *rag.Pipeline, topK int, index string) console {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Type a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return console{
		ctx:      ctx,
		pipeline: p,
		topK:     topK,
		index:    index,
		input:    ti,
		viewport: vp,
		status:   "Ready.",
	}
}

func (m console) Init() tea.Cmd { return textinput.Blink }

func (m console) ask(question string) tea.Cmd {
	return func() tea.Msg {
		start := time.Now()
		result, err := m.pipeline.Ask(m.ctx, question, m.topK)
		return answerMsg{question: question, result: result, took: time.Since(start), err: err}
	}
}

func (m console) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + qh + 1 // header, status, query box, spacer
		vh := msg.Height - reserved
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.viewport.SetContent(m.renderResult())
		return m, nil

	case answerMsg:
		m.waiting = false
		m.asked = true
		m.cursor = 0
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.result = rag.AnswerResult{}
		} else {
			m.result = msg.result
			m.status = fmt.Sprintf("%d sources for %q in %s", len(msg.result.Sources), msg.question, msg.took.Round(time.Millisecond))
		}
		m.viewport.SetContent(m.renderResult())
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q != "" && !m.waiting {
				m.waiting = true
				m.status = "Thinking..."
				m.viewport.SetContent(m.renderResult())
				return m, m.ask(q)
			}
		case "down":
			if len(m.result.Sources) > 0 {
				m.cursor = (m.cursor + 1) % len(m.result.Sources)
				m.viewport.SetContent(m.renderResult())
				return m, nil
			}
		case "up":
			if len(m.result.Sources) > 0 {
				m.cursor = (m.cursor - 1 + len(m.result.Sources)) % len(m.result.Sources)
				m.viewport.SetContent(m.renderResult())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m console) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render("docent") + dimStyle.Render("  index "+m.index)
	results := resultBoxStyle.Render(m.viewport.View())
	input := queryBoxStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	return header + "\n" + results + "\n" + input + "\n" + status
}

func (m console) renderResult() string {
	if m.waiting {
		return "Thinking..."
	}
	if !m.asked {
		return "Ask a question about the indexed documents."
	}
	if m.result.Answer == "" {
		return "No answer."
	}

	var b strings.Builder
	b.WriteString(m.result.Answer)
	b.WriteString("\n")
	if len(m.result.Sources) == 0 {
		return b.String()
	}

	b.WriteString("\nSources (up/down to inspect):\n")
	for i, s := range m.result.Sources {
		line := fmt.Sprintf("%d. [%.3f] %s", i+1, s.Score, s.Source)
		if i == m.cursor {
			b.WriteString(selectedStyle.Render(line))
			b.WriteString("\n")
			b.WriteString(dimStyle.Render(indent(s.Text, "   ")))
		} else {
			b.WriteString(line)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func indent(text, prefix string) string {
	return prefix + strings.ReplaceAll(text, "\n", "\n"+prefix)
}

var (
	headerStyle    = lipgloss.NewStyle().Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	selectedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)
