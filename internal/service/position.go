package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"schoolfleet/tracker/internal/model"
)

// shadowKeyPrefix is where last-known device state lives in Redis.
const shadowKeyPrefix = "fleet:shadow:"

// PositionService handles the position archive and device shadows
type PositionService struct {
	db    *gorm.DB
	redis *redis.Client
}

// NewPositionService creates a new position service
func NewPositionService(db *gorm.DB, redisClient *redis.Client) *PositionService {
	return &PositionService{db: db, redis: redisClient}
}

// GetHistory returns position history for a device in chronological order
func (s *PositionService) GetHistory(ctx context.Context, deviceID int, start, end time.Time, limit int) ([]model.Position, error) {
	var positions []model.Position

	query := s.db.WithContext(ctx).
		Where("device_id = ? AND time >= ? AND time <= ?", deviceID, start, end).
		Order("time ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&positions).Error; err != nil {
		return nil, err
	}
	return positions, nil
}

// GetLatest returns the latest archived position for a device
func (s *PositionService) GetLatest(ctx context.Context, deviceID int) (*model.Position, error) {
	var position model.Position
	if err := s.db.WithContext(ctx).Where("device_id = ?", deviceID).
		Order("time DESC").
		First(&position).Error; err != nil {
		return nil, err
	}
	return &position, nil
}

// SavePosition archives a position record
func (s *PositionService) SavePosition(ctx context.Context, position *model.Position) error {
	return s.db.WithContext(ctx).Create(position).Error
}

// SaveShadow writes the last-known device state to Redis
func (s *PositionService) SaveShadow(ctx context.Context, shadow *model.DeviceShadow) error {
	data, err := json.Marshal(shadow)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s%d", shadowKeyPrefix, shadow.DeviceID)
	return s.redis.Set(ctx, key, data, 48*time.Hour).Err()
}

// GetShadow returns the last-known state for a device
func (s *PositionService) GetShadow(ctx context.Context, deviceID int) (*model.DeviceShadow, error) {
	key := fmt.Sprintf("%s%d", shadowKeyPrefix, deviceID)
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}
	var shadow model.DeviceShadow
	if err := json.Unmarshal(data, &shadow); err != nil {
		return nil, err
	}
	return &shadow, nil
}

// GetAllShadows returns last-known state for every device with a shadow
func (s *PositionService) GetAllShadows(ctx context.Context) ([]model.DeviceShadow, error) {
	var shadows []model.DeviceShadow

	iter := s.redis.Scan(ctx, 0, shadowKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.redis.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var shadow model.DeviceShadow
		if err := json.Unmarshal(data, &shadow); err != nil {
			continue
		}
		shadows = append(shadows, shadow)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return shadows, nil
}
