// Package tui implements the interactive setup wizard: one text input
// per deployment setting, a health probe against the embedding service,
// then a config file write by the caller.
package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/matsen/paperboy/internal/config"
)

// Step represents the current wizard step.
type Step int

const (
	StepSupabaseURL Step = iota
	StepSupabaseKey
	StepGeminiKey
	StepEmbedURL
	StepDiscordToken
	StepChannelID
	StepMinScore
	StepValidating
	StepDone
	StepFailed
)

const numInputs = 7

type field struct {
	label       string
	placeholder string
	secret      bool
	validate    func(string) error
}

var fields = [numInputs]field{
	{label: "Supabase URL", placeholder: "https://your-project.supabase.co", validate: requireURL},
	{label: "Supabase key", placeholder: "service-role key", secret: true, validate: require},
	{label: "Gemini API key", placeholder: "AIza...", secret: true, validate: require},
	{label: "Embedding service URL", placeholder: "https://your-space.hf.space", validate: requireURL},
	{label: "Discord bot token", placeholder: "bot token", secret: true, validate: require},
	{label: "Channel ID", placeholder: "123456789012345678", validate: requireDigits},
	{label: "Minimum post score", placeholder: "7", validate: requireScore},
}

// validationResultMsg carries the result of the async service probe.
type validationResultMsg struct {
	err error
}

// ValidateFn probes the embedding service before the config is saved.
type ValidateFn func(ctx context.Context, embedURL string) error

// cancelHolder shares a cancel function across bubbletea model copies.
// tea.Model methods use value receivers, so the cancel func must live
// behind a pointer for Escape to reach an in-flight probe.
type cancelHolder struct {
	cancel context.CancelFunc
}

// SetupModel is the bubbletea model for the setup wizard.
type SetupModel struct {
	step          Step
	inputs        [numInputs]textinput.Model
	spinner       spinner.Model
	validateFn    ValidateFn
	cancelCtx     *cancelHolder
	inputErr      string
	validationErr error
	quitting      bool
}

var (
	brandStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("208"))
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	stepStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	promptStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// NewSetupModel creates the wizard, pre-filling from the existing
// config so re-running setup edits rather than starts over.
func NewSetupModel(existing *config.Config) SetupModel {
	var inputs [numInputs]textinput.Model
	for i, f := range fields {
		in := textinput.New()
		in.Placeholder = f.placeholder
		in.Width = 50
		if f.secret {
			in.EchoMode = textinput.EchoPassword
		}
		inputs[i] = in
	}
	if existing != nil {
		inputs[StepSupabaseURL].SetValue(existing.SupabaseURL)
		inputs[StepSupabaseKey].SetValue(existing.SupabaseKey)
		inputs[StepGeminiKey].SetValue(existing.GeminiKey)
		inputs[StepEmbedURL].SetValue(existing.EmbedURL)
		inputs[StepDiscordToken].SetValue(existing.DiscordToken)
		inputs[StepChannelID].SetValue(existing.ChannelID)
		if existing.MinPostScore > 0 {
			inputs[StepMinScore].SetValue(strconv.Itoa(existing.MinPostScore))
		}
	}
	inputs[0].Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot

	return SetupModel{
		step:       StepSupabaseURL,
		inputs:     inputs,
		spinner:    s,
		validateFn: ValidateEmbedService,
		cancelCtx:  &cancelHolder{},
	}
}

// Init implements tea.Model.
func (m SetupModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (m SetupModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEscape:
			m.quitting = true
			if m.cancelCtx.cancel != nil {
				m.cancelCtx.cancel()
			}
			return m, tea.Quit
		}

		switch {
		case m.step < StepValidating:
			return m.updateInput(msg)
		case m.step == StepFailed:
			return m.updateFailed(msg)
		}

	case validationResultMsg:
		m.cancelCtx.cancel = nil
		if msg.err == nil {
			m.step = StepDone
			return m, tea.Quit
		}
		m.validationErr = msg.err
		m.step = StepFailed
		return m, nil

	case spinner.TickMsg:
		if m.step == StepValidating {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
	}

	return m, nil
}

func (m SetupModel) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	idx := int(m.step)

	if msg.Type == tea.KeyEnter {
		if m.step == StepMinScore && m.inputs[idx].Value() == "" {
			m.inputs[idx].SetValue(strconv.Itoa(config.DefaultMinPostScore))
		}

		if err := fields[idx].validate(m.inputs[idx].Value()); err != nil {
			m.inputErr = err.Error()
			return m, nil
		}
		m.inputErr = ""
		m.inputs[idx].Blur()

		if m.step == StepMinScore {
			m.step = StepValidating
			return m, tea.Batch(m.startValidation(), m.spinner.Tick)
		}
		m.step++
		m.inputs[int(m.step)].Focus()
		return m, textinput.Blink
	}

	var cmd tea.Cmd
	m.inputs[idx], cmd = m.inputs[idx].Update(msg)
	return m, cmd
}

func (m SetupModel) updateFailed(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyRunes {
		switch msg.Runes[0] {
		case 'r':
			m.step = StepValidating
			m.validationErr = nil
			return m, tea.Batch(m.startValidation(), m.spinner.Tick)
		case 's':
			m.step = StepDone
			return m, tea.Quit
		case 'q':
			m.quitting = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m SetupModel) startValidation() tea.Cmd {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelCtx.cancel = cancel
	embedURL := m.inputs[StepEmbedURL].Value()
	fn := m.validateFn
	return func() tea.Msg {
		return validationResultMsg{err: fn(ctx, embedURL)}
	}
}

// View implements tea.Model.
func (m SetupModel) View() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(brandStyle.Render("   PAPERBOY"))
	b.WriteString(titleStyle.Render(" - Setup"))
	b.WriteString("\n\n")
	b.WriteString("Configure the paper pipeline.\n\n")

	switch {
	case m.step < StepValidating:
		idx := int(m.step)
		b.WriteString(m.summary(idx))
		b.WriteString(stepStyle.Render(fmt.Sprintf("Step %d of %d: %s", idx+1, numInputs, fields[idx].label)))
		b.WriteString("\n")
		if m.step == StepMinScore {
			b.WriteString(promptStyle.Render(fmt.Sprintf("(press Enter for %d)", config.DefaultMinPostScore)))
			b.WriteString("\n")
		}
		b.WriteString(m.inputs[idx].View())
		b.WriteString("\n")
		if m.inputErr != "" {
			b.WriteString(errorStyle.Render("  " + m.inputErr))
			b.WriteString("\n")
		}

	case m.step == StepValidating:
		b.WriteString(m.summary(numInputs))
		b.WriteString(m.spinner.View())
		b.WriteString(" Checking the embedding service...")
		b.WriteString("\n")

	case m.step == StepDone:
		b.WriteString(successStyle.Render("✓ All set!"))
		b.WriteString("\n")

	case m.step == StepFailed:
		errMsg := "unknown error"
		if m.validationErr != nil {
			errMsg = m.validationErr.Error()
		}
		b.WriteString(errorStyle.Render(fmt.Sprintf("✗ Validation failed: %s", errMsg)))
		b.WriteString("\n\n")
		b.WriteString(promptStyle.Render("[r]etry  [s]ave anyway  [q]uit"))
		b.WriteString("\n")
	}

	return b.String()
}

// summary renders the already-entered settings, masking secrets.
func (m SetupModel) summary(upto int) string {
	var b strings.Builder
	for i := 0; i < upto; i++ {
		value := m.inputs[i].Value()
		if fields[i].secret {
			value = strings.Repeat("*", len(value))
		}
		fmt.Fprintf(&b, "  %s: %s\n", fields[i].label, value)
	}
	if upto > 0 {
		b.WriteString("\n")
	}
	return b.String()
}

// Result builds the config from the entered values.
func (m SetupModel) Result() *config.Config {
	score, err := strconv.Atoi(m.inputs[StepMinScore].Value())
	if err != nil || score < 1 || score > 10 {
		score = config.DefaultMinPostScore
	}
	return &config.Config{
		SupabaseURL:  strings.TrimRight(m.inputs[StepSupabaseURL].Value(), "/"),
		SupabaseKey:  m.inputs[StepSupabaseKey].Value(),
		GeminiKey:    m.inputs[StepGeminiKey].Value(),
		EmbedURL:     strings.TrimRight(m.inputs[StepEmbedURL].Value(), "/"),
		DiscordToken: m.inputs[StepDiscordToken].Value(),
		ChannelID:    m.inputs[StepChannelID].Value(),
		MinPostScore: score,
	}
}

// ShouldSave reports whether the wizard finished (validation passed or
// the user chose "save anyway") rather than being cancelled.
func (m SetupModel) ShouldSave() bool {
	return m.step == StepDone && !m.quitting
}
