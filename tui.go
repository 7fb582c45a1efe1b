package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUI message types
type TranscriptMsg struct{ Messages []Message }
type VoiceModeMsg struct{ On bool }
type VoiceStateMsg struct{ State string } // idle|listening|recording|thinking|speaking
type AudioLevelMsg struct{ Level float64 }
type DictationMsg struct{ Text string }
type NoticeMsg struct {
	Text string
	Warn bool
}
type LiveModeMsg struct{ On bool }
type tickMsg time.Time

var (
	tuiProgram *tea.Program
	tuiMu      sync.Mutex
)

func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

var (
	userStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	botStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("4")).Bold(true)
	bodyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	orbStyleRec = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	orbStyleOn  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	headStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Bold(true)
)

type tuiModel struct {
	app           *app
	input         textinput.Model
	messages      []Message
	width, height int
	voiceOn       bool
	voiceState    string
	level         float64
	notice        string
	noticeWarn    bool
	live          bool
	dictation     bool
	frame         int
}

func NewTUIProgram(a *app) *tea.Program {
	ti := textinput.New()
	ti.Placeholder = "Type a question, or :voice to talk"
	ti.Prompt = "> "
	ti.CharLimit = 2000
	ti.Focus()

	m := tuiModel{
		app:        a,
		input:      ti,
		messages:   a.controller.Messages(),
		voiceState: "idle",
	}
	return tea.NewProgram(m, tea.WithAltScreen())
}

func tuiTick() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	cmds := []tea.Cmd{tuiTick(), textinput.Blink}
	if m.app.startInVoice {
		cmds = append(cmds, func() tea.Msg {
			m.app.toggleVoice()
			return nil
		})
	}
	return tea.Batch(cmds...)
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = msg.Width - 4

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if text == "" {
				return m, nil
			}
			if strings.HasPrefix(text, ":") {
				return m.runCommand(text)
			}
			m.app.controller.SubmitTyped(text)
			return m, nil
		}

	case tickMsg:
		m.frame++
		return m, tuiTick()

	case TranscriptMsg:
		m.messages = msg.Messages

	case VoiceModeMsg:
		m.voiceOn = msg.On
		if !msg.On {
			m.level = 0
			m.dictation = false
		}

	case VoiceStateMsg:
		m.voiceState = msg.State

	case AudioLevelMsg:
		m.level = m.level*0.6 + msg.Level*0.4

	case DictationMsg:
		cur := m.input.Value()
		if cur != "" && !strings.HasSuffix(cur, " ") {
			cur += " "
		}
		m.input.SetValue(cur + msg.Text)
		m.input.CursorEnd()

	case NoticeMsg:
		m.notice = msg.Text
		m.noticeWarn = msg.Warn

	case LiveModeMsg:
		m.live = msg.On
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m tuiModel) runCommand(text string) (tea.Model, tea.Cmd) {
	cmd, rest, _ := strings.Cut(text, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case ":quit", ":q":
		return m, tea.Quit

	case ":voice", ":v":
		go m.app.toggleVoice()

	case ":dictate", ":d":
		if !m.app.voiceMode.Active() {
			m.notice = "Start voice mode first (:voice)."
			m.noticeWarn = true
			return m, nil
		}
		m.dictation = !m.app.voiceMode.Dictation()
		m.app.voiceMode.SetDictation(m.dictation)
		if m.dictation {
			m.notice = "Dictation on. Speech lands in the input field."
		} else {
			m.notice = "Dictation off."
		}
		m.noticeWarn = false

	case ":feedback", ":f":
		if rest == "" {
			m.notice = "Usage: :feedback <your message>"
			m.noticeWarn = true
			return m, nil
		}
		m.app.controller.SendFeedback(rest)

	case ":human", ":h":
		m.app.controller.StartLive()

	case ":bot", ":b":
		m.app.controller.StopLive()

	default:
		m.notice = "Unknown command " + cmd
		m.noticeWarn = true
	}
	return m, nil
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var b strings.Builder

	b.WriteString(headStyle.Render(m.app.botName))
	if m.live {
		b.WriteString(dimStyle.Render("  [live agent]"))
	}
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(strings.Repeat("─", m.width)) + "\n")

	// Transcript, newest at the bottom, trimmed to the space above the
	// status and input lines.
	bodyHeight := m.height - 6
	if bodyHeight < 3 {
		bodyHeight = 3
	}
	lines := m.transcriptLines()
	if len(lines) > bodyHeight {
		lines = lines[len(lines)-bodyHeight:]
	}
	for _, line := range lines {
		b.WriteString(line + "\n")
	}
	for i := len(lines); i < bodyHeight; i++ {
		b.WriteString("\n")
	}

	b.WriteString(m.statusLine() + "\n")
	b.WriteString(m.input.View() + "\n")
	b.WriteString(helpStyle.Render(":voice talk   :dictate speak-to-type   :feedback   :human   ctrl+c quit"))

	return b.String()
}

func (m tuiModel) transcriptLines() []string {
	wrapWidth := m.width - 7
	if wrapWidth < 10 {
		wrapWidth = 10
	}

	var lines []string
	for _, msg := range m.messages {
		label := userStyle.Render("you")
		style := bodyStyle
		if msg.Sender == SenderAssistant {
			label = botStyle.Render("bot")
			if msg.IsError {
				style = errStyle
			}
		}
		for i, line := range wrapText(msg.Text, wrapWidth) {
			if i == 0 {
				lines = append(lines, fmt.Sprintf("%s  %s", label, style.Render(line)))
			} else {
				lines = append(lines, "     "+style.Render(line))
			}
		}
	}
	return lines
}

func (m tuiModel) statusLine() string {
	var b strings.Builder

	if m.voiceOn {
		orb := orbStyleOn
		if m.voiceState == "recording" {
			orb = orbStyleRec
		}
		bar := int(m.level * 60)
		if bar > 16 {
			bar = 16
		}
		b.WriteString(orb.Render("● " + strings.Repeat("▮", bar)))
		b.WriteString(strings.Repeat(" ", 16-bar))
		label := m.voiceState
		if m.dictation {
			label += " (dictation)"
		}
		b.WriteString(dimStyle.Render(" " + label))
	} else {
		b.WriteString(dimStyle.Render("○ voice off"))
	}

	if m.notice != "" {
		style := noticeStyle
		if m.noticeWarn {
			style = warnStyle
		}
		b.WriteString("   " + style.Render(m.notice))
	}
	return b.String()
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(text) > width {
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}
