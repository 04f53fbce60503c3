package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment keys. Secrets (bot token, credentials JSON) are read by their
// consumers directly; this package only samples the reloadable settings.
const (
	EnvBotToken      = "TELEGRAM_BOT_TOKEN"
	EnvSpreadsheetID = "SPREADSHEET_ID"
	EnvCredentials   = "GOOGLE_CREDENTIALS"
	EnvLogLevel      = "LOG_LEVEL"

	envMorningHour   = "MORNING_HOUR"
	envMorningMinute = "MORNING_MINUTE"
	envEveningHour   = "EVENING_HOUR"
	envEveningMinute = "EVENING_MINUTE"
	envTimezone      = "TZ"
	envGroupChatID   = "GROUP_CHAT_ID"
	envAdmins        = "ADMINS"
	envPollInterval  = "CONFIG_POLL_INTERVAL"
	envReloadHour    = "RELOAD_HOUR"
	envReloadMinute  = "RELOAD_MINUTE"
	envReloadHard    = "RELOAD_HARD"
)

// LoadDotenv overlays key/value pairs from the given dotenv file onto the
// process environment. A missing file is not an error: plain environment
// variables are a fully supported deployment mode.
func LoadDotenv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	// Overload (not Load) so a reload picks up edited values.
	return godotenv.Overload(path)
}

// FromEnv samples the reloadable schedule settings from the environment.
// Any malformed value fails the whole sample; callers keep the previous one.
func FromEnv() (Schedule, error) {
	var s Schedule
	var err error

	if s.Morning, err = clockFromEnv(envMorningHour, envMorningMinute, Clock{Hour: 11}); err != nil {
		return Schedule{}, err
	}
	if s.Evening, err = clockFromEnv(envEveningHour, envEveningMinute, Clock{Hour: 18}); err != nil {
		return Schedule{}, err
	}
	if s.Reload, err = clockFromEnv(envReloadHour, envReloadMinute, Clock{}); err != nil {
		return Schedule{}, err
	}

	s.Timezone = getEnv(envTimezone, "Europe/Moscow")
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return Schedule{}, fmt.Errorf("%s: unknown timezone %q", envTimezone, s.Timezone)
	}

	if raw := strings.TrimSpace(os.Getenv(envGroupChatID)); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Schedule{}, fmt.Errorf("%s: invalid chat id %q", envGroupChatID, raw)
		}
		s.ChatID = id
	}

	if s.Admins, err = parseIDList(os.Getenv(envAdmins)); err != nil {
		return Schedule{}, fmt.Errorf("%s: %w", envAdmins, err)
	}

	if s.PollInterval, err = ParseDurationOrDefault(envPollInterval, os.Getenv(envPollInterval), 5*time.Minute); err != nil {
		return Schedule{}, err
	}

	s.ReloadHard = parseBool(os.Getenv(envReloadHard))

	return s, nil
}

func clockFromEnv(hourKey, minuteKey string, def Clock) (Clock, error) {
	c := def
	var err error
	if c.Hour, err = intFromEnv(hourKey, def.Hour); err != nil {
		return Clock{}, err
	}
	if c.Minute, err = intFromEnv(minuteKey, def.Minute); err != nil {
		return Clock{}, err
	}
	if !c.Valid() {
		return Clock{}, fmt.Errorf("%s/%s: %s is not a valid time of day", hourKey, minuteKey, c)
	}
	return c, nil
}

func intFromEnv(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q", key, raw)
	}
	return n, nil
}

func getEnv(key, def string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return def
}

func parseIDList(raw string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		out = append(out, id)
	}
	return out, nil
}

func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
