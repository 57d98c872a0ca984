package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Validate checks every required setting and reports all problems at once so
// an operator fixes the file in one pass instead of replaying startup crashes.
func (c *Config) Validate() error {
	var problems []string

	req := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			problems = append(problems, "missing "+name)
		}
	}
	snowflake := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			problems = append(problems, "missing "+name)
			return
		}
		if _, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64); err != nil {
			problems = append(problems, name+" is not a numeric id")
		}
	}

	req("discord.token", c.Discord.Token)
	snowflake("discord.guild_id", c.Discord.GuildID)
	snowflake("discord.staff_role_id", c.Discord.StaffRoleID)
	snowflake("discord.birthday_role_id", c.Discord.BirthdayRoleID)
	snowflake("discord.birthday_channel_id", c.Discord.BirthdayChannel)
	snowflake("discord.wishes_channel_id", c.Discord.WishesChannel)
	snowflake("discord.staff_alerts_channel_id", c.Discord.AlertsChannel)

	req("holidays.api_key", c.Holidays.APIKey)
	req("holidays.country", c.Holidays.Country)
	req("generator.api_key", c.Generator.APIKey)
	req("storage.path", c.Storage.Path)

	if _, _, err := ParseHHMM(c.Schedule.PostTime); err != nil {
		problems = append(problems, fmt.Sprintf("schedule.post_time: %v", err))
	}
	if tz := strings.TrimSpace(c.Schedule.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			problems = append(problems, "schedule.timezone: unknown zone "+strconv.Quote(tz))
		}
	}

	if c.Web.Enabled {
		req("web.listen", c.Web.Listen)
		req("web.admin_password", c.Web.AdminPassword)
	}
	if c.Metrics.Enabled {
		req("metrics.listen", c.Metrics.Listen)
	}

	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

// Location resolves the configured timezone, defaulting to UTC.
func (c *Config) Location() *time.Location {
	tz := strings.TrimSpace(c.Schedule.Timezone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParseHHMM parses a "HH:MM" wall-clock time.
func ParseHHMM(s string) (hour, minute int, err error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
