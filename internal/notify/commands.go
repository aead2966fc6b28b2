// commands.go - Inbound command loop. Only the configured chat may issue
// commands; everything else is logged and dropped.
package notify

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// Controller is the runtime control surface the command loop drives. Each
// method returns the user-facing response text.
type Controller interface {
	Status() string
	Pause() string
	Resume() string
	SetMode(mode string) string
	Confirm() string
	Report() string
}

// Start begins the command listener. No-op when the bot or controller is
// not configured.
func (n *Notifier) Start() {
	if !n.Enabled() || n.bot == nil || n.ctrl == nil {
		return
	}
	go n.listenForCommands()
}

// Stop stops the command listener.
func (n *Notifier) Stop() {
	if n == nil {
		return
	}
	close(n.stopCh)
}

func (n *Notifier) listenForCommands() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := n.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			msg := update.Message
			reply := n.handleCommand(msg.Chat.ID, msg.Command(), msg.CommandArguments())
			if reply != "" {
				if err := n.sendMarkdown(msg.Chat.ID, reply); err != nil {
					log.Warn().Err(err).Msg("⚠️ Failed to answer command")
				}
			}
		case <-n.stopCh:
			return
		}
	}
}

// handleCommand dispatches one command and returns the response text. An
// empty response means the sender was not authorized.
func (n *Notifier) handleCommand(chatID int64, command, args string) string {
	if chatID != n.chatID {
		log.Warn().
			Int64("chat_id", chatID).
			Str("command", command).
			Msg("🚫 Ignoring command from unauthorized chat")
		return ""
	}

	switch command {
	case "status":
		return n.ctrl.Status()
	case "pause":
		return n.ctrl.Pause()
	case "resume":
		return n.ctrl.Resume()
	case "mode":
		mode := strings.ToLower(strings.TrimSpace(args))
		if mode == "" {
			return "⚙️ Usage: /mode custom|demo\\_safe|live\\_safe|live\\_auto"
		}
		return n.ctrl.SetMode(mode)
	case "confirm":
		return n.ctrl.Confirm()
	case "report":
		return n.ctrl.Report()
	case "help", "start":
		return helpText
	}
	return "❓ Unknown command. Use /help for available commands."
}

const helpText = `📚 *Commands*

/status - Pipeline and trading status
/pause - Pause trading (signals keep flowing)
/resume - Resume trading
/mode <m> - Switch bot mode (live modes need /confirm)
/confirm - Confirm a pending live-mode switch
/report - Calibration and accuracy report`
