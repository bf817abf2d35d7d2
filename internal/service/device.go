package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"schoolfleet/tracker/internal/model"
)

// DeviceService handles bus device lookups and registry queries
type DeviceService struct {
	db    *gorm.DB
	redis *redis.Client
}

// NewDeviceService creates a new device service
func NewDeviceService(db *gorm.DB, redisClient *redis.Client) *DeviceService {
	return &DeviceService{db: db, redis: redisClient}
}

// List returns a paginated device list
func (s *DeviceService) List(ctx context.Context, page, pageSize int) ([]model.Device, int64, error) {
	var devices []model.Device
	var total int64

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	offset := (page - 1) * pageSize

	if err := s.db.WithContext(ctx).Model(&model.Device{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := s.db.WithContext(ctx).Offset(offset).Limit(pageSize).Order("id").Find(&devices).Error; err != nil {
		return nil, 0, err
	}
	return devices, total, nil
}

// GetByDeviceID returns the registry entry for an upstream device id
func (s *DeviceService) GetByDeviceID(ctx context.Context, deviceID int) (*model.Device, error) {
	var device model.Device
	if err := s.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&device).Error; err != nil {
		return nil, err
	}
	return &device, nil
}

// SpeedLimit returns the configured limit for a device, with a Redis
// cache in front of the registry. Missing devices fall back to the
// default.
func (s *DeviceService) SpeedLimit(ctx context.Context, deviceID int) float64 {
	cacheKey := fmt.Sprintf("fleet:speedlimit:%d", deviceID)
	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, cacheKey).Result(); err == nil {
			if limit, err := strconv.ParseFloat(cached, 64); err == nil && limit > 0 {
				return limit
			}
		}
	}

	device, err := s.GetByDeviceID(ctx, deviceID)
	if err != nil || device.SpeedLimit <= 0 {
		return model.DefaultSpeedLimit
	}

	if s.redis != nil {
		s.redis.Set(ctx, cacheKey, strconv.FormatFloat(device.SpeedLimit, 'f', -1, 64), time.Hour)
	}
	return device.SpeedLimit
}

// TouchLastOnline records that a device reported
func (s *DeviceService) TouchLastOnline(ctx context.Context, deviceID int, at time.Time) error {
	return s.db.WithContext(ctx).Model(&model.Device{}).
		Where("device_id = ?", deviceID).
		Updates(map[string]interface{}{"last_online": at, "status": 1}).Error
}
