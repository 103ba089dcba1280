// Package ui implements the interactive labeling screen. It is a thin
// view over labeltool.Workspace: navigation, label toggling by key
// binding, and live drift reporting while files change underneath.
package ui

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/skinscan/labeltool"
	"github.com/skinscan/labeltool/pkg/session"
	"github.com/skinscan/labeltool/pkg/store"
	"github.com/skinscan/labeltool/pkg/workspace"
)

// imagesChangedMsg carries a fresh image scan from the file watcher.
type imagesChangedMsg []string

// inputMode says what the text input is collecting.
type inputMode int

const (
	inputNone inputMode = iota
	inputAddLabel
	inputRemoveLabel
)

// Model is the bubbletea model for the labeling screen.
type Model struct {
	ws      *labeltool.Workspace
	watcher *workspace.Watcher
	styles  Styles

	input  textinput.Model
	mode   inputMode
	status string
	errMsg string
	drift  int
	width  int
}

// New creates the labeling screen over an opened workspace. The watcher
// is optional; without one the drift indicator only refreshes on sync.
func New(ws *labeltool.Workspace, watcher *workspace.Watcher) Model {
	ti := textinput.New()
	ti.CharLimit = 64
	ti.Width = 40

	m := Model{
		ws:      ws,
		watcher: watcher,
		styles:  NewStyles(),
		input:   ti,
	}
	// Opening never reconciles, so stale rows may already be present.
	if ws.HasDatabase() {
		if d, err := ws.Drift(); err == nil {
			m.drift = d
		}
	}
	return m
}

// Init starts listening for file changes.
func (m Model) Init() tea.Cmd {
	return m.waitForChanges()
}

func (m Model) waitForChanges() tea.Cmd {
	if m.watcher == nil {
		return nil
	}
	return func() tea.Msg {
		paths, ok := <-m.watcher.Changes
		if !ok {
			return nil
		}
		return imagesChangedMsg(paths)
	}
}

// Update handles key presses and watcher events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case imagesChangedMsg:
		if m.ws.HasDatabase() {
			if d, err := m.ws.Drift(); err == nil {
				m.drift = d
			}
		}
		m.status = fmt.Sprintf("%d image(s) on disk", len(msg))
		return m, m.waitForChanges()

	case tea.KeyMsg:
		if m.mode != inputNone {
			return m.updateInput(msg)
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	sess := m.ws.Session()
	m.errMsg = ""

	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit

	case session.NavPrevKey:
		sess.Prev()
		return m, nil

	case session.NavNextKey:
		sess.Next()
		return m, nil

	case "f":
		sess.ToggleFocusMode()
		return m, nil

	case "i":
		if err := m.ws.InitDatabase(false); err != nil {
			if errors.Is(err, store.ErrDatabaseExists) {
				m.errMsg = "database already exists"
			} else {
				m.errMsg = err.Error()
			}
			return m, nil
		}
		m.status = "database initialized"
		return m, nil

	case "s":
		res, err := m.ws.Sync()
		if err != nil {
			m.errMsg = err.Error()
			return m, nil
		}
		m.drift = 0
		m.status = fmt.Sprintf("synced: %d added, %d removed", res.Added, res.Removed)
		return m, nil

	case "a":
		if !m.ws.HasDatabase() {
			m.errMsg = "no database; press i to initialize"
			return m, nil
		}
		m.mode = inputAddLabel
		m.input.Placeholder = "name:key"
		m.input.SetValue("")
		return m, m.input.Focus()

	case "x":
		if !m.ws.HasDatabase() {
			m.errMsg = "no database; press i to initialize"
			return m, nil
		}
		m.mode = inputRemoveLabel
		m.input.Placeholder = "key binding to remove"
		m.input.SetValue("")
		return m, m.input.Focus()
	}

	if msg.Type == tea.KeyRunes && len(msg.Runes) == 1 {
		res, err := sess.ToggleLabelByKey(string(msg.Runes))
		if err != nil {
			m.errMsg = err.Error()
			return m, nil
		}
		if res != nil {
			if res.Present {
				m.status = fmt.Sprintf("added %q", res.Label.Name)
			} else {
				m.status = fmt.Sprintf("removed %q", res.Label.Name)
			}
		}
	}
	return m, nil
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = inputNone
		m.input.Blur()
		return m, nil

	case "enter":
		value := strings.TrimSpace(m.input.Value())
		mode := m.mode
		m.mode = inputNone
		m.input.Blur()

		switch mode {
		case inputAddLabel:
			name, key, found := strings.Cut(value, ":")
			if !found {
				m.errMsg = "expected name:key"
				return m, nil
			}
			if _, err := m.ws.AddLabel(strings.TrimSpace(name), strings.TrimSpace(key)); err != nil {
				m.errMsg = err.Error()
				return m, nil
			}
			m.status = fmt.Sprintf("label %q bound to %q", strings.TrimSpace(name), strings.TrimSpace(key))

		case inputRemoveLabel:
			labels, err := m.ws.Labels()
			if err != nil {
				m.errMsg = err.Error()
				return m, nil
			}
			for _, l := range labels {
				if strings.EqualFold(l.KeyBinding, value) {
					if err := m.ws.RemoveLabel(l.ID); err != nil {
						m.errMsg = err.Error()
						return m, nil
					}
					m.status = fmt.Sprintf("removed label %q", l.Name)
					return m, nil
				}
			}
			m.errMsg = fmt.Sprintf("no label bound to %q", value)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the labeling screen.
func (m Model) View() string {
	var sb strings.Builder
	sess := m.ws.Session()

	sb.WriteString(m.styles.Header.Render("labeltool — " + m.ws.Root()))
	sb.WriteString("\n\n")

	img, ok := sess.CurrentImage()
	if !ok {
		sb.WriteString(m.styles.Muted.Render("No images in workspace."))
		sb.WriteString("\n")
	} else {
		index, total := sess.Position()
		sb.WriteString(m.styles.Title.Render(filepath.Base(img)))
		sb.WriteString(m.styles.Muted.Render(fmt.Sprintf("  (%d/%d)", index+1, total)))
		if sess.FocusMode() {
			sb.WriteString(m.styles.Warning.Render("  [focus]"))
		}
		sb.WriteString("\n")
	}

	if !m.ws.HasDatabase() {
		sb.WriteString("\n")
		sb.WriteString(m.styles.Warning.Render("Database not found. Press i to initialize."))
		sb.WriteString("\n")
	} else {
		sb.WriteString(m.renderLabels(sess))
		if m.drift != 0 {
			sb.WriteString(m.styles.Warning.Render(
				fmt.Sprintf("Database out of sync by %d image(s). Press s to sync.", m.drift)))
			sb.WriteString("\n")
		}
	}

	if m.mode != inputNone {
		sb.WriteString("\n")
		sb.WriteString(m.input.View())
		sb.WriteString("\n")
	}

	if m.errMsg != "" {
		sb.WriteString("\n")
		sb.WriteString(m.styles.ErrorMsg.Render(m.errMsg))
		sb.WriteString("\n")
	} else if m.status != "" {
		sb.WriteString("\n")
		sb.WriteString(m.styles.Muted.Render(m.status))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(m.styles.Footer.Render(
		", . navigate · key toggle label · a add · x remove · f focus · s sync · q quit"))
	sb.WriteString("\n")
	return sb.String()
}

func (m Model) renderLabels(sess *session.Session) string {
	var sb strings.Builder

	labels, err := m.ws.Labels()
	if err != nil {
		return m.styles.ErrorMsg.Render(err.Error()) + "\n"
	}
	current, err := sess.CurrentLabels()
	if err != nil {
		return m.styles.ErrorMsg.Render(err.Error()) + "\n"
	}
	active := make(map[string]bool, len(current))
	for _, name := range current {
		active[name] = true
	}

	sb.WriteString("\n")
	if len(labels) == 0 {
		sb.WriteString(m.styles.Muted.Render("No labels defined. Press a to add one."))
		sb.WriteString("\n")
		return sb.String()
	}

	for _, l := range labels {
		marker := "  "
		line := fmt.Sprintf("[%s] %s", m.styles.Binding.Render(l.KeyBinding), l.Name)
		if active[l.Name] {
			marker = m.styles.Active.Render("✓ ")
			line = m.styles.Active.Render(fmt.Sprintf("[%s] %s", l.KeyBinding, l.Name))
		}
		sb.WriteString(marker + line + "\n")
	}
	return sb.String()
}
