package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"comfycli/internal/installer"
)

func press(t *testing.T, m installSetupModel, keys ...tea.KeyMsg) installSetupModel {
	t.Helper()
	for _, k := range keys {
		updated, _ := m.Update(k)
		m = updated.(installSetupModel)
	}
	return m
}

var (
	keyRight = tea.KeyMsg{Type: tea.KeyRight}
	keyLeft  = tea.KeyMsg{Type: tea.KeyLeft}
	keyDown  = tea.KeyMsg{Type: tea.KeyDown}
	keyEnter = tea.KeyMsg{Type: tea.KeyEnter}
	keyEsc   = tea.KeyMsg{Type: tea.KeyEsc}
)

func TestInstallSetupPreselectsCurrent(t *testing.T) {
	m := newInstallSetupModel(InstallSetupResult{GPU: installer.GPUAMD, SkipManager: true})
	m = press(t, m, keyEnter)

	got := m.result()
	if got.Cancelled || got.GPU != installer.GPUAMD || !got.SkipManager {
		t.Errorf("unexpected result %+v", got)
	}
}

func TestInstallSetupCyclesOptions(t *testing.T) {
	m := newInstallSetupModel(InstallSetupResult{GPU: installer.GPUNvidia})
	m = press(t, m, keyLeft, keyDown, keyRight, keyEnter)

	got := m.result()
	if got.GPU != installer.GPUNone {
		t.Errorf("expected wrap-around to skip torch, got %q", got.GPU)
	}
	if !got.SkipManager {
		t.Error("expected manager to be skipped")
	}
}

func TestInstallSetupCancel(t *testing.T) {
	m := press(t, newInstallSetupModel(InstallSetupResult{}), keyEsc)
	if !m.result().Cancelled {
		t.Error("expected cancelled result")
	}
	if m.View() == "" {
		t.Error("expected cancelled view")
	}
}
