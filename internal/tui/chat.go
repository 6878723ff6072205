// Package tui is the terminal chat client for the front desk. It follows the
// bubbletea model/update/view loop: each submitted line becomes one
// conversation turn, run off the UI goroutine.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wolfman30/clinic-frontdesk/internal/conversation"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	userStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	deskStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("114"))
	noteStyle   = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("244"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

var exitWords = map[string]bool{"exit": true, "quit": true, "bye": true}

type lineKind int

const (
	lineUser lineKind = iota
	lineDesk
	lineNote
	lineError
)

type line struct {
	kind lineKind
	text string
}

// turnMsg carries the result of one conversation turn back into Update.
type turnMsg struct {
	resp *conversation.Response
	err  error
}

// Chat is the bubbletea model.
type Chat struct {
	engine         conversation.Engine
	ctx            context.Context
	clinic         string
	conversationID string

	input    textinput.Model
	lines    []line
	waiting  bool
	verified bool
	lastErr  error

	width  int
	height int
}

// NewChat builds the model; Init starts the conversation.
func NewChat(ctx context.Context, engine conversation.Engine, clinicName string) *Chat {
	in := textinput.New()
	in.Placeholder = "Type a message, or exit to leave"
	in.Prompt = "> "
	in.CharLimit = 500
	in.Focus()
	if clinicName == "" {
		clinicName = "Clinic"
	}
	return &Chat{engine: engine, ctx: ctx, clinic: clinicName, input: in, waiting: true}
}

func (c *Chat) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, c.start)
}

func (c *Chat) start() tea.Msg {
	resp, err := c.engine.StartConversation(c.ctx, conversation.StartRequest{})
	return turnMsg{resp: resp, err: err}
}

func (c *Chat) send(text string) tea.Cmd {
	id := c.conversationID
	return func() tea.Msg {
		resp, err := c.engine.ProcessMessage(c.ctx, conversation.MessageRequest{ConversationID: id, Message: text})
		return turnMsg{resp: resp, err: err}
	}
}

func (c *Chat) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		c.width, c.height = msg.Width, msg.Height
		c.input.Width = max(msg.Width-4, 10)
		return c, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return c, c.quit()
		case tea.KeyEnter:
			text := strings.TrimSpace(c.input.Value())
			if text == "" || c.waiting {
				return c, nil
			}
			c.input.SetValue("")
			if exitWords[strings.ToLower(text)] {
				return c, c.quit()
			}
			c.lines = append(c.lines, line{lineUser, text})
			c.waiting = true
			return c, c.send(text)
		}

	case turnMsg:
		c.waiting = false
		c.record(msg)
		return c, nil
	}

	var cmd tea.Cmd
	c.input, cmd = c.input.Update(msg)
	return c, cmd
}

func (c *Chat) record(msg turnMsg) {
	if msg.err != nil {
		c.lastErr = msg.err
		c.lines = append(c.lines, line{lineError, "Error: " + msg.err.Error()})
		return
	}
	resp := msg.resp
	if resp == nil {
		return
	}
	if c.conversationID == "" {
		c.conversationID = resp.ConversationID
	}
	c.verified = resp.Verified
	if resp.Transferred {
		c.lines = append(c.lines, line{lineNote, fmt.Sprintf("[transferred to %s]", resp.Handler)})
	}
	if resp.Action != "" {
		note := "[" + resp.Action
		if resp.Status != "" {
			note += ": " + resp.Status
		}
		c.lines = append(c.lines, line{lineNote, note + "]"})
	}
	c.lines = append(c.lines, line{lineDesk, resp.Message})
}

func (c *Chat) quit() tea.Cmd {
	if c.conversationID != "" {
		_ = c.engine.EndConversation(c.ctx, c.conversationID)
	}
	return tea.Quit
}

func (c *Chat) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(c.clinic+" front desk") + "\n\n")

	rendered := make([]string, 0, len(c.lines))
	for _, l := range c.lines {
		rendered = append(rendered, renderLine(l))
	}
	if c.height > 6 && len(rendered) > c.height-6 {
		rendered = rendered[len(rendered)-(c.height-6):]
	}
	for _, r := range rendered {
		b.WriteString(r + "\n")
	}
	if c.waiting {
		b.WriteString(noteStyle.Render("…") + "\n")
	}

	b.WriteString("\n" + c.input.View() + "\n")
	status := "verified: no"
	if c.verified {
		status = "verified: yes"
	}
	b.WriteString(footerStyle.Render(status + " · enter to send · esc to quit"))
	return b.String()
}

func renderLine(l line) string {
	switch l.kind {
	case lineUser:
		return userStyle.Render("You: " + l.text)
	case lineDesk:
		return deskStyle.Render("Front desk: " + l.text)
	case lineError:
		return errorStyle.Render(l.text)
	default:
		return noteStyle.Render(l.text)
	}
}
