// Package pipeline sequences one polling cycle: collect, signal, execute,
// reconcile, alert.
//
// mode.go - Bot mode state machine. Switching into a live mode is
// two-phase: /mode records the request, /confirm applies it. The pause
// flag is separate and gates execution and repricing only.
package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/kalshibot/internal/config"
)

// pendingLiveTTL bounds how long a live-mode request stays confirmable.
const pendingLiveTTL = 2 * time.Minute

// ModeState tracks the current bot mode, a pending live-mode request, and
// the pause/auto-trade toggles.
type ModeState struct {
	mu sync.RWMutex

	mode        string
	paused      bool
	autoTrading bool

	pendingLive string
	pendingAt   time.Time
}

// NewModeState seeds runtime state from config.
func NewModeState(cfg *config.Config) *ModeState {
	return &ModeState{
		mode:        cfg.BotMode,
		paused:      cfg.Paused,
		autoTrading: cfg.AutoTradingEnabled,
	}
}

// Snapshot returns the current mode and toggles.
func (m *ModeState) Snapshot() (mode string, paused, autoTrading bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode, m.paused, m.autoTrading
}

// IsLive reports whether the current mode is one of the live modes.
func (m *ModeState) IsLive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode == config.ModeLiveSafe || m.mode == config.ModeLiveAuto
}

// Pause suspends execution and repricing. Signals keep flowing.
func (m *ModeState) Pause() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = true
	log.Info().Msg("⏸️ Trading paused")
	return "⏸️ Trading paused. Signals keep flowing; no orders until /resume."
}

// Resume re-enables execution and repricing.
func (m *ModeState) Resume() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = false
	log.Info().Msg("▶️ Trading resumed")
	return "▶️ Trading resumed."
}

// SetMode requests a mode switch. Non-live modes apply immediately; live
// modes set a pending request that /confirm must apply.
func (m *ModeState) SetMode(mode string) string {
	switch mode {
	case config.ModeCustom, config.ModeDemoSafe, config.ModeLiveSafe, config.ModeLiveAuto:
	default:
		return fmt.Sprintf("❓ Unknown mode %q. Valid: custom, demo_safe, live_safe, live_auto.", mode)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if mode == config.ModeLiveSafe || mode == config.ModeLiveAuto {
		m.pendingLive = mode
		m.pendingAt = time.Now()
		log.Warn().Str("mode", mode).Msg("🔐 Live mode requested, awaiting confirmation")
		return fmt.Sprintf("🔐 Switching to *%s* needs confirmation.\nSend /confirm within %s to apply.", mode, pendingLiveTTL)
	}

	m.applyLocked(mode)
	return fmt.Sprintf("✅ Mode set to *%s*.", mode)
}

// Confirm applies a pending live-mode request.
func (m *ModeState) Confirm() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pendingLive == "" {
		return "🤷 Nothing to confirm."
	}
	if time.Since(m.pendingAt) > pendingLiveTTL {
		expired := m.pendingLive
		m.pendingLive = ""
		return fmt.Sprintf("⌛ Request for *%s* expired. Send /mode again.", expired)
	}

	mode := m.pendingLive
	m.pendingLive = ""
	m.applyLocked(mode)
	log.Warn().Str("mode", mode).Msg("🔴 Live mode confirmed")
	return fmt.Sprintf("🔴 Mode set to *%s*. Weather signals now pass through calibration gates.", mode)
}

// applyLocked switches mode and its auto-trade side effect. Caller holds
// the lock.
func (m *ModeState) applyLocked(mode string) {
	m.mode = mode
	switch mode {
	case config.ModeLiveSafe:
		m.autoTrading = false
	case config.ModeLiveAuto, config.ModeDemoSafe:
		m.autoTrading = true
	}
}
