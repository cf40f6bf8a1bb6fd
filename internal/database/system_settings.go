package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/idcore/internal/models"
)

// SigningKeySetting holds the encrypted PEM of the token signing key.
const SigningKeySetting = "oidc.signing_key"

var errEmptySettingKey = errors.New("system settings: key is required")

// settingKey matches a setting row. The column is quoted because KEY is
// reserved in MySQL.
func settingKey(key string) clause.Eq {
	return clause.Eq{Column: clause.Column{Name: "key"}, Value: key}
}

// GetSystemSetting retrieves a system setting by key. Returns an empty string
// when the key or the table does not exist yet.
func GetSystemSetting(ctx context.Context, db *gorm.DB, key string) (string, error) {
	if db == nil {
		return "", fmt.Errorf("system settings: db is nil")
	}

	var setting models.SystemSetting
	err := db.WithContext(ctx).Where(settingKey(key)).Take(&setting).Error
	switch {
	case err == nil:
		return setting.Value, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return "", nil
	case !db.Migrator().HasTable(&models.SystemSetting{}):
		return "", nil
	default:
		return "", fmt.Errorf("system settings: get %q: %w", key, err)
	}
}

// UpsertSystemSetting stores value under key, replacing any previous value.
func UpsertSystemSetting(ctx context.Context, db *gorm.DB, key, value string) error {
	if db == nil {
		return fmt.Errorf("system settings: db is nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errEmptySettingKey
	}

	record := models.SystemSetting{Key: key, Value: value}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("system settings: upsert %q: %w", key, err)
	}
	return nil
}

// ClaimSystemSetting stores value only when key is unset and returns the value
// that ends up stored. Replicas starting together therefore agree on the
// first writer's value.
func ClaimSystemSetting(ctx context.Context, db *gorm.DB, key, value string) (string, error) {
	if db == nil {
		return "", fmt.Errorf("system settings: db is nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errEmptySettingKey
	}

	record := models.SystemSetting{Key: key, Value: value}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error
	if err != nil {
		return "", fmt.Errorf("system settings: claim %q: %w", key, err)
	}

	var stored models.SystemSetting
	if err := db.WithContext(ctx).Where(settingKey(key)).Take(&stored).Error; err != nil {
		return "", fmt.Errorf("system settings: read back %q: %w", key, err)
	}
	return stored.Value, nil
}
