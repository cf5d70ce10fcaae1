package store

import (
	"database/sql"
	"strconv"
	"time"

	"github.com/newsave/newsave/internal/domain"
)

const (
	SettingTheme         = "theme"
	SettingNotifications = "notifications"
	SettingKeepHistory   = "keep_history"
	SettingAutoPaste     = "auto_paste"
	SettingMaxConcurrent = "max_concurrent"
)

func (db *DB) GetSetting(key string) (string, error) {
	var value string
	err := db.Get(&value, "SELECT value FROM settings WHERE key = ?", key)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (db *DB) SetSetting(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now())
	return err
}

// LoadSettings assembles the persisted settings, falling back to defaults
// for any missing or malformed value.
func (db *DB) LoadSettings() (domain.Settings, error) {
	s := domain.DefaultSettings()

	if v, err := db.GetSetting(SettingTheme); err != nil {
		return s, err
	} else if v != "" {
		s.Theme = v
	}
	if v, err := db.GetSetting(SettingNotifications); err != nil {
		return s, err
	} else if v != "" {
		s.Notifications = v == "true"
	}
	if v, err := db.GetSetting(SettingKeepHistory); err != nil {
		return s, err
	} else if v != "" {
		s.KeepHistory = v == "true"
	}
	if v, err := db.GetSetting(SettingAutoPaste); err != nil {
		return s, err
	} else if v != "" {
		s.AutoPaste = v == "true"
	}
	if v, err := db.GetSetting(SettingMaxConcurrent); err != nil {
		return s, err
	} else if v != "" {
		if n, convErr := strconv.Atoi(v); convErr == nil && n >= 1 {
			s.MaxConcurrent = n
		}
	}

	return s, nil
}

// SaveSettings persists every settings field.
func (db *DB) SaveSettings(s domain.Settings) error {
	pairs := map[string]string{
		SettingTheme:         s.Theme,
		SettingNotifications: strconv.FormatBool(s.Notifications),
		SettingKeepHistory:   strconv.FormatBool(s.KeepHistory),
		SettingAutoPaste:     strconv.FormatBool(s.AutoPaste),
		SettingMaxConcurrent: strconv.Itoa(s.MaxConcurrent),
	}
	for key, value := range pairs {
		if err := db.SetSetting(key, value); err != nil {
			return err
		}
	}
	return nil
}
