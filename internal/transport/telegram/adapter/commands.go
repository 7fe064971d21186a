package adapter

import (
	"context"
	"hash/fnv"

	kit "kinobot/internal/transport"
	logx "kinobot/pkg/logx"
)

// UpdateMenuCommands updates Telegram's global /menu command list (setMyCommands).
// Best-effort: it only performs a network call when the command list changes.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	if err := ctxErr(ctx); err != nil {
		return err
	}

	h := fnv.New64a()
	for _, c := range cmds {
		h.Write([]byte(c.Command))
		h.Write([]byte{0})
		h.Write([]byte(c.Description))
		h.Write([]byte{0})
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}

	type cmd struct {
		Command     string `json:"command"`
		Description string `json:"description"`
	}
	commands := make([]cmd, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		if len(d) > 256 {
			d = d[:256]
		}
		commands = append(commands, cmd{Command: c.Command, Description: d})
		if len(commands) >= 100 {
			break
		}
	}

	if _, err := a.bot.Raw("setMyCommands", map[string]any{"commands": commands}); err != nil {
		return err
	}

	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(commands)))
	return nil
}
