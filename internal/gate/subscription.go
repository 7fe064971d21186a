package gate

import (
	"context"
	"sync"

	kit "kinobot/internal/transport"
	logx "kinobot/pkg/logx"
)

// MembershipClient probes a user's membership in a channel.
type MembershipClient interface {
	MemberStatus(ctx context.Context, channel string, userID int64) (kit.MemberStatus, error)
}

type ChannelState string

const (
	// Joined: membership confirmed, channel not part of the missing set.
	Joined ChannelState = "joined"
	// NotJoined: probe succeeded and the user is not a member.
	NotJoined ChannelState = "not_joined"
	// CheckFailed: the probe itself errored; treated as missing (fail closed).
	CheckFailed ChannelState = "check_failed"
)

type ChannelStatus struct {
	Channel string
	State   ChannelState
	Err     error
}

// Missing reports whether the channel blocks the user.
func (s ChannelStatus) Missing() bool { return s.State != Joined }

// Gate checks required-channel membership. Probes run concurrently, one per
// channel; results keep the configured channel order.
type Gate struct {
	client MembershipClient
	log    logx.Logger

	mu       sync.RWMutex
	channels []string
}

func New(client MembershipClient, channels []string, log logx.Logger) *Gate {
	if log.IsZero() {
		log = logx.Nop()
	}
	g := &Gate{client: client, log: log}
	g.SetChannels(channels)
	return g
}

// SetChannels replaces the required channel list (hot reload).
func (g *Gate) SetChannels(channels []string) {
	cp := make([]string, 0, len(channels))
	for _, ch := range channels {
		if ch != "" {
			cp = append(cp, ch)
		}
	}
	g.mu.Lock()
	g.channels = cp
	g.mu.Unlock()
}

func (g *Gate) Channels() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.channels...)
}

// MissingChannels returns the channels the user must still join, in configured
// order. An empty result means the user is gated in. Probe failures count as
// missing so an outage never opens the gate.
func (g *Gate) MissingChannels(ctx context.Context, userID int64) []ChannelStatus {
	channels := g.Channels()
	if len(channels) == 0 {
		return nil
	}

	results := make([]ChannelStatus, len(channels))
	var wg sync.WaitGroup
	for i, ch := range channels {
		wg.Add(1)
		go func(i int, ch string) {
			defer wg.Done()
			status, err := g.client.MemberStatus(ctx, ch, userID)
			switch {
			case err != nil:
				results[i] = ChannelStatus{Channel: ch, State: CheckFailed, Err: err}
			case status.Satisfies():
				results[i] = ChannelStatus{Channel: ch, State: Joined}
			default:
				results[i] = ChannelStatus{Channel: ch, State: NotJoined}
			}
		}(i, ch)
	}
	wg.Wait()

	missing := make([]ChannelStatus, 0, len(results))
	for _, r := range results {
		if !r.Missing() {
			continue
		}
		if r.State == CheckFailed {
			g.log.Warn("membership probe failed",
				logx.String("channel", r.Channel),
				logx.Int64("user_id", userID),
				logx.Err(r.Err),
			)
		}
		missing = append(missing, r)
	}
	return missing
}
