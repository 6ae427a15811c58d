package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const settingCalendarID = "calendar_id"

// setting is a small key/value table for process state that must survive
// restarts.
type setting struct {
	Name  string `gorm:"primaryKey"`
	Value string `gorm:"not null"`
}

func (setting) TableName() string { return "settings" }

// CalendarID returns the id of the external calendar currently in use, or
// "" if none was recorded yet.
func (s *Store) CalendarID(ctx context.Context) (string, error) {
	return s.getSetting(ctx, settingCalendarID)
}

// SetCalendarID records the external calendar in use.
func (s *Store) SetCalendarID(ctx context.Context, id string) error {
	return s.putSetting(ctx, settingCalendarID, id)
}

func (s *Store) getSetting(ctx context.Context, name string) (string, error) {
	var row setting
	err := s.db.WithContext(ctx).Where("name = ?", name).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: get setting %q: %w", name, err)
	}
	return row.Value, nil
}

func (s *Store) putSetting(ctx context.Context, name, value string) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&setting{Name: name, Value: value}).Error
	if err != nil {
		return fmt.Errorf("store: put setting %q: %w", name, err)
	}
	return nil
}
