package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cardfield/cardfield/internal/surface"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type roomRow struct {
	Code      string `gorm:"primaryKey;size:8"`
	CreatorID string `gorm:"size:64"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (roomRow) TableName() string { return "rooms" }

type snapshotRow struct {
	RoomCode  string `gorm:"primaryKey;size:8"`
	State     []byte `gorm:"type:jsonb"`
	UpdatedAt time.Time
}

func (snapshotRow) TableName() string { return "room_snapshots" }

// PostgresStore persists rooms and snapshots through gorm.
type PostgresStore struct {
	db *gorm.DB
}

func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&roomRow{}, &snapshotRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) CreateRoom(ctx context.Context, roomCode, creatorID string) error {
	row := roomRow{Code: roomCode, CreatorID: creatorID}
	err := s.db.WithContext(ctx).Create(&row).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrRoomExists
	}
	return err
}

func (s *PostgresStore) RoomExists(ctx context.Context, roomCode string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&roomRow{}).Where("code = ?", roomCode).Count(&count).Error
	return count > 0, err
}

func (s *PostgresStore) LoadSnapshot(ctx context.Context, roomCode string) (*surface.State, error) {
	var row snapshotRow
	err := s.db.WithContext(ctx).First(&row, "room_code = ?", roomCode).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", roomCode, err)
	}
	var state surface.State
	if err := json.Unmarshal(row.State, &state); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", roomCode, err)
	}
	return &state, nil
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, roomCode string, state surface.State, updatedAt time.Time) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", roomCode, err)
	}
	row := snapshotRow{RoomCode: roomCode, State: raw, UpdatedAt: updatedAt}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_code"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", roomCode, err)
	}
	return nil
}
