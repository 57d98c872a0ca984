package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"wishbot/internal/guard"
	"wishbot/internal/reconcile"
	"wishbot/internal/store"
	"wishbot/internal/transport"
	"wishbot/pkg/logx"
)

const wishDateFormat = "02-01-2006" // DD-MM-YYYY, matching the staff-facing docs

func commandDefs() []*discordgo.ApplicationCommand {
	minDay, minMonth, minYear := float64(1), float64(1), float64(1900)
	maxYear := float64(time.Now().Year())

	birthdayDateOpts := func() []*discordgo.ApplicationCommandOption {
		return []*discordgo.ApplicationCommandOption{
			{
				Type: discordgo.ApplicationCommandOptionInteger, Name: "day",
				Description: "Day of birth (1-31)", Required: true,
				MinValue: &minDay, MaxValue: 31,
			},
			{
				Type: discordgo.ApplicationCommandOptionInteger, Name: "month",
				Description: "Month of birth (1-12)", Required: true,
				MinValue: &minMonth, MaxValue: 12,
			},
			{
				Type: discordgo.ApplicationCommandOptionInteger, Name: "year",
				Description: "Year of birth (e.g. 2000)", Required: true,
				MinValue: &minYear, MaxValue: maxYear,
			},
		}
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:        "birthday",
			Description: "Manage your birthday",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set",
					Description: "Set your birthday for server announcements",
					Options:     birthdayDateOpts(),
				},
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "view",
					Description: "Check the birthday you have set",
				},
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "remove",
					Description: "Remove your birthday from the bot",
				},
			},
		},
		{
			Name:        "force_add_birthday",
			Description: "[STAFF] Add or update a birthday for a specific user",
			Options: append([]*discordgo.ApplicationCommandOption{
				{
					Type: discordgo.ApplicationCommandOptionUser, Name: "user",
					Description: "The user whose birthday you want to set", Required: true,
				},
			}, birthdayDateOpts()...),
		},
		{
			Name:        "add_wish",
			Description: "[STAFF] Add a custom wish for a specific date",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type: discordgo.ApplicationCommandOptionString, Name: "name",
					Description: "Wish name (for reference)", Required: true,
				},
				{
					Type: discordgo.ApplicationCommandOptionString, Name: "date",
					Description: "Date (DD-MM-YYYY)", Required: true,
				},
				{
					Type: discordgo.ApplicationCommandOptionString, Name: "message",
					Description: "Wish message", Required: true,
				},
				{
					Type: discordgo.ApplicationCommandOptionString, Name: "role_to_ping",
					Description: "Role ID to ping, or \"everyone\" (optional)", Required: false,
				},
			},
		},
		{
			Name:        "post_wish",
			Description: "[STAFF] Post a holiday wish directly, bypassing generation",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type: discordgo.ApplicationCommandOptionString, Name: "name",
					Description: "Holiday name", Required: true,
				},
				{
					Type: discordgo.ApplicationCommandOptionString, Name: "message",
					Description: "Message body", Required: true,
				},
			},
		},
		{
			Name:        "status",
			Description: "[STAFF] Check the operational status of the bot",
		},
	}
}

func (a *Adapter) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	ctx := a.runCtx
	if ctx == nil {
		ctx = context.Background()
	}

	data := i.ApplicationCommandData()
	switch data.Name {
	case "birthday":
		a.handleBirthday(ctx, i, data)
	case "force_add_birthday":
		a.staffOnly(i, func() { a.handleForceAddBirthday(ctx, i, data) })
	case "add_wish":
		a.staffOnly(i, func() { a.handleAddWish(ctx, i, data) })
	case "post_wish":
		a.staffOnly(i, func() { a.handlePostWish(ctx, i, data) })
	case "status":
		a.staffOnly(i, func() { a.handleStatus(ctx, i) })
	}
}

// staffOnly gates a handler on the staff role. Non-staff get a short denial
// instead of any internal detail.
func (a *Adapter) staffOnly(i *discordgo.InteractionCreate, fn func()) {
	if i.Member != nil {
		for _, roleID := range i.Member.Roles {
			if roleID == a.cfg.StaffRoleID {
				fn()
				return
			}
		}
	}
	a.reply(i, "You do not have permission to use this command.")
}

func (a *Adapter) handleBirthday(ctx context.Context, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	if len(data.Options) == 0 || i.Member == nil {
		return
	}
	memberID, err := parseID(i.Member.User.ID)
	if err != nil {
		a.reply(i, "An unexpected error occurred.")
		return
	}

	sub := data.Options[0]
	switch sub.Name {
	case "set":
		day, month, year := intOption(sub.Options, "day"), intOption(sub.Options, "month"), intOption(sub.Options, "year")
		if !validCalendarDate(day, month, year) {
			a.reply(i, "That's not a valid date. Please check the day and month.")
			return
		}
		if err := a.st.SetBirthday(ctx, memberID, day, month, year); err != nil {
			a.fail(i, "set birthday", err)
			return
		}
		a.reply(i, fmt.Sprintf("Your birthday has been set to %d/%d/%d.", day, month, year))

	case "view":
		b, ok, err := a.st.GetBirthday(ctx, memberID)
		if err != nil {
			a.fail(i, "view birthday", err)
			return
		}
		if !ok {
			a.reply(i, "You haven't set your birthday yet. Use `/birthday set`.")
			return
		}
		a.reply(i, fmt.Sprintf("Your birthday is set to %d/%d/%d.", b.Day, b.Month, b.Year))

	case "remove":
		deleted, err := a.st.DeleteBirthday(ctx, memberID)
		if err != nil {
			a.fail(i, "remove birthday", err)
			return
		}
		if deleted {
			a.reply(i, "Your birthday has been removed.")
		} else {
			a.reply(i, "You don't have a birthday set.")
		}
	}
}

func (a *Adapter) handleForceAddBirthday(ctx context.Context, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	var userID string
	for _, opt := range data.Options {
		if opt.Name == "user" {
			userID = opt.UserValue(nil).ID
		}
	}
	memberID, err := parseID(userID)
	if err != nil {
		a.reply(i, "Unknown user.")
		return
	}

	day, month, year := intOption(data.Options, "day"), intOption(data.Options, "month"), intOption(data.Options, "year")
	if !validCalendarDate(day, month, year) {
		a.reply(i, "Invalid date provided.")
		return
	}
	if err := a.st.SetBirthday(ctx, memberID, day, month, year); err != nil {
		a.fail(i, "force add birthday", err)
		return
	}
	a.reply(i, fmt.Sprintf("Successfully set <@%s>'s birthday to %d/%d/%d.", userID, day, month, year))
}

func (a *Adapter) handleAddWish(ctx context.Context, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	name := stringOption(data.Options, "name")
	date := stringOption(data.Options, "date")
	message := stringOption(data.Options, "message")
	roleRaw := stringOption(data.Options, "role_to_ping")

	when, err := time.Parse(wishDateFormat, date)
	if err != nil {
		a.reply(i, "Invalid date format. Use DD-MM-YYYY.")
		return
	}
	mention, err := transport.ParseMention(roleRaw)
	if err != nil {
		a.reply(i, "Invalid role to ping. Use a role ID, \"everyone\", or leave it empty.")
		return
	}

	wish := store.ManualWish{
		Name:          name,
		Day:           when.Day(),
		Month:         int(when.Month()),
		Year:          when.Year(),
		Message:       message,
		MentionKind:   mention.StoreKind(),
		MentionRoleID: mention.RoleID,
	}
	if err := a.st.AddManualWish(ctx, wish); err != nil {
		a.fail(i, "add wish", err)
		return
	}
	a.reply(i, fmt.Sprintf("Custom wish '%s' saved.", name))
}

// handlePostWish is the manual override for posts withheld by approval
// mode: sanitize and deliver straight to the public channel.
func (a *Adapter) handlePostWish(ctx context.Context, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	name := stringOption(data.Options, "name")
	message := stringOption(data.Options, "message")

	text := guard.Sanitize(fmt.Sprintf("# Happy %s!\n\n%s", name, message))
	if err := a.send(ctx, a.cfg.WishesChannel, text); err != nil {
		a.fail(i, "post wish", err)
		return
	}
	a.reply(i, fmt.Sprintf("Wish for '%s' posted.", name))
}

func (a *Adapter) handleStatus(ctx context.Context, i *discordgo.InteractionCreate) {
	lastRun, nextRun := "unknown", "unknown"
	if meta, ok, err := a.st.GetSchedulerMeta(ctx, reconcile.JobName); err == nil && ok {
		if meta.LastRunAt != "" {
			lastRun = meta.LastRunAt
		}
		if meta.NextRunAt != "" {
			nextRun = meta.NextRunAt
		}
	}
	latency := a.Latency().Round(time.Millisecond)
	a.reply(i, fmt.Sprintf("Bot is online. Latency: %s. Last run: %s. Next run: %s.",
		latency, lastRun, nextRun))
}

// reply sends an ephemeral response to the invoking user.
func (a *Adapter) reply(i *discordgo.InteractionCreate, content string) {
	err := a.sess.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		a.log.Warn("interaction reply failed", logx.Err(err))
	}
}

// fail logs the internal error and answers with a generic message; internal
// errors are never surfaced verbatim to users.
func (a *Adapter) fail(i *discordgo.InteractionCreate, action string, err error) {
	a.log.Error("command failed", logx.String("action", action), logx.Err(err))
	a.reply(i, "An unexpected error occurred.")
}

func intOption(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) int {
	for _, o := range opts {
		if o.Name == name {
			return int(o.IntValue())
		}
	}
	return 0
}

func stringOption(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	for _, o := range opts {
		if o.Name == name {
			return o.StringValue()
		}
	}
	return ""
}

// validCalendarDate rejects (day, month) pairs that do not form a real
// calendar date in the given year (Feb-30 and friends), plus out-of-range
// years. time.Date normalizes overflow, so compare the round trip.
func validCalendarDate(day, month, year int) bool {
	if year < 1900 || year > time.Now().Year() {
		return false
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return false
	}
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return d.Day() == day && int(d.Month()) == month && d.Year() == year
}
