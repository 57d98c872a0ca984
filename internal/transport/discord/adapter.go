// Package discord implements the transport capability interfaces on top of
// a discordgo session, and hosts the slash command surface.
package discord

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"wishbot/internal/store"
	"wishbot/internal/transport"
	"wishbot/pkg/logx"
)

type Config struct {
	Token           string
	GuildID         string
	StaffRoleID     string
	BirthdayRoleID  string
	BirthdayChannel string
	WishesChannel   string
	AlertsChannel   string
	SendRatePerSec  int
}

// Adapter owns the gateway session. It is the only component that talks to
// the chat platform; everything else sees the transport interfaces.
type Adapter struct {
	cfg  Config
	sess *discordgo.Session
	log  logx.Logger

	// Outbound sends share one limiter so a chatty cycle cannot trip the
	// platform's rate limits.
	limiter *rate.Limiter

	st      *store.Store
	onReady func(ctx context.Context)
	runCtx  context.Context

	registered []*discordgo.ApplicationCommand
}

func New(cfg Config, st *store.Store, log logx.Logger) (*Adapter, error) {
	sess, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	sess.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers

	rps := cfg.SendRatePerSec
	if rps <= 0 {
		rps = 3
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{
		cfg:     cfg,
		sess:    sess,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		st:      st,
	}, nil
}

// SetReadyHook installs the callback invoked on every gateway ready event.
// Must be called before Start.
func (a *Adapter) SetReadyHook(fn func(ctx context.Context)) { a.onReady = fn }

// Start opens the gateway connection and registers the guild slash
// commands. The ready hook fires on the gateway's ready event, including
// replays after reconnects.
func (a *Adapter) Start(ctx context.Context) error {
	a.runCtx = ctx

	a.sess.AddHandler(func(_ *discordgo.Session, _ *discordgo.Ready) {
		a.log.Info("gateway ready")
		if a.onReady != nil {
			a.onReady(a.runCtx)
		}
	})
	a.sess.AddHandler(a.handleInteraction)

	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}

	for _, def := range commandDefs() {
		created, err := a.sess.ApplicationCommandCreate(a.sess.State.User.ID, a.cfg.GuildID, def)
		if err != nil {
			return fmt.Errorf("discord: register command %s: %w", def.Name, err)
		}
		a.registered = append(a.registered, created)
	}
	a.log.Info("slash commands registered", logx.Int("count", len(a.registered)))
	return nil
}

// Stop deletes the registered commands and closes the session.
func (a *Adapter) Stop(ctx context.Context) error {
	for _, cmd := range a.registered {
		if err := a.sess.ApplicationCommandDelete(a.sess.State.User.ID, a.cfg.GuildID, cmd.ID); err != nil {
			a.log.Warn("command delete failed", logx.String("command", cmd.Name), logx.Err(err))
		}
	}
	a.registered = nil
	return a.sess.Close()
}

// Latency returns the gateway heartbeat round-trip.
func (a *Adapter) Latency() time.Duration { return a.sess.HeartbeatLatency() }

func (a *Adapter) send(ctx context.Context, channelID, text string) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := a.sess.ChannelMessageSend(channelID, text)
	return err
}

// --- transport.Deliverer ---

type channelDeliverer struct {
	a         *Adapter
	channelID string
}

func (d channelDeliverer) Deliver(ctx context.Context, text string) error {
	return d.a.send(ctx, d.channelID, text)
}

// BirthdayChannel returns the deliverer for birthday announcements.
func (a *Adapter) BirthdayChannel() transport.Deliverer {
	return channelDeliverer{a: a, channelID: a.cfg.BirthdayChannel}
}

// WishesChannel returns the deliverer for holiday and manual wishes.
func (a *Adapter) WishesChannel() transport.Deliverer {
	return channelDeliverer{a: a, channelID: a.cfg.WishesChannel}
}

// AlertsChannel returns the operator-facing deliverer.
func (a *Adapter) AlertsChannel() transport.Deliverer {
	return channelDeliverer{a: a, channelID: a.cfg.AlertsChannel}
}

// --- transport.RoleManager ---

type roleManager struct{ a *Adapter }

func (a *Adapter) Roles() transport.RoleManager { return roleManager{a: a} }

func (r roleManager) Grant(ctx context.Context, memberID int64) error {
	return r.a.sess.GuildMemberRoleAdd(r.a.cfg.GuildID, formatID(memberID), r.a.cfg.BirthdayRoleID)
}

func (r roleManager) Revoke(ctx context.Context, memberID int64) error {
	return r.a.sess.GuildMemberRoleRemove(r.a.cfg.GuildID, formatID(memberID), r.a.cfg.BirthdayRoleID)
}

func (r roleManager) Has(ctx context.Context, memberID int64) (bool, error) {
	m, ok, err := r.a.member(memberID)
	if err != nil || !ok {
		return false, err
	}
	for _, roleID := range m.Roles {
		if roleID == r.a.cfg.BirthdayRoleID {
			return true, nil
		}
	}
	return false, nil
}

// --- transport.MemberDirectory ---

type memberDirectory struct{ a *Adapter }

func (a *Adapter) Directory() transport.MemberDirectory { return memberDirectory{a: a} }

func (d memberDirectory) Resolve(ctx context.Context, memberID int64) (transport.Member, bool, error) {
	m, ok, err := d.a.member(memberID)
	if err != nil || !ok {
		return transport.Member{}, false, err
	}
	return transport.Member{
		ID:          memberID,
		DisplayName: displayName(m),
		Mention:     m.User.Mention(),
	}, true, nil
}

// member fetches a guild member, preferring the state cache. A missing
// member is (nil, false, nil); only transport failures surface as errors.
func (a *Adapter) member(memberID int64) (*discordgo.Member, bool, error) {
	id := formatID(memberID)
	if m, err := a.sess.State.Member(a.cfg.GuildID, id); err == nil && m != nil && m.User != nil {
		return m, true, nil
	}
	m, err := a.sess.GuildMember(a.cfg.GuildID, id)
	if err != nil {
		var restErr *discordgo.RESTError
		if errors.As(err, &restErr) && restErr.Message != nil {
			switch restErr.Message.Code {
			case discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownUser:
				return nil, false, nil
			}
		}
		return nil, false, err
	}
	return m, true, nil
}

func displayName(m *discordgo.Member) string {
	if m.Nick != "" {
		return m.Nick
	}
	if m.User.GlobalName != "" {
		return m.User.GlobalName
	}
	return m.User.Username
}

func formatID(id int64) string { return strconv.FormatInt(id, 10) }

func parseID(id string) (int64, error) { return strconv.ParseInt(id, 10, 64) }
