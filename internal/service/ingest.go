package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"

	"schoolfleet/tracker/internal/geocode"
	"schoolfleet/tracker/internal/model"
	"schoolfleet/tracker/internal/observability"
	"schoolfleet/tracker/internal/stream"
	"schoolfleet/tracker/internal/track"
)

// IngestService consumes the NATS telemetry feed and fans each sample
// into the tracking engine, the position archive, the Redis shadow and
// the background geocode queue.
type IngestService struct {
	nats      *nats.Conn
	tracker   *track.Tracker
	positions *PositionService
	devices   *DeviceService
	geocoder  *geocode.Queue

	classifier track.Classifier
	sub        *nats.Subscription
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewIngestService wires the telemetry consumer.
func NewIngestService(natsConn *nats.Conn, tracker *track.Tracker, positions *PositionService, devices *DeviceService, geocoder *geocode.Queue) *IngestService {
	ctx, cancel := context.WithCancel(context.Background())
	return &IngestService{
		nats:      natsConn,
		tracker:   tracker,
		positions: positions,
		devices:   devices,
		geocoder:  geocoder,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to the telemetry feed.
func (s *IngestService) Start() error {
	sub, err := s.nats.Subscribe(stream.SubjectTelemetry+".*", func(msg *nats.Msg) {
		var t model.Telemetry
		if err := json.Unmarshal(msg.Data, &t); err != nil {
			log.Printf("[Ingest] Failed to unmarshal telemetry: %v", err)
			return
		}
		s.process(&t)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to telemetry: %w", err)
	}
	s.sub = sub
	log.Println("[Ingest] Subscribed to telemetry feed")
	return nil
}

// Stop unsubscribes and cancels background writes.
func (s *IngestService) Stop() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	s.cancel()
	log.Println("[Ingest] Stopped")
}

func (s *IngestService) process(t *model.Telemetry) {
	// The stream runner filters invalid fixes before publishing, but
	// the subject is open to other producers, so re-check here.
	if !t.HasValidPosition() {
		return
	}

	// Prefer the registry's configured limit over the stream's.
	if t.SpeedLimit == nil {
		limit := s.devices.SpeedLimit(s.ctx, t.DeviceID)
		t.SpeedLimit = &limit
	}

	s.tracker.Apply(t)

	status := s.classifier.Classify(t)
	shadow := &model.DeviceShadow{
		DeviceID:  t.DeviceID,
		Lat:       t.Latitude,
		Lng:       t.Longitude,
		Speed:     t.Speed,
		Course:    t.Course,
		Status:    status,
		Timestamp: t.LastUpdate.Unix(),
	}
	if addr, _ := s.geocoder.Address(t.DeviceID); addr != "" {
		shadow.Address = addr
	}
	if err := s.positions.SaveShadow(s.ctx, shadow); err != nil {
		log.Printf("[Ingest] Shadow write failed for device %d: %v", t.DeviceID, err)
	}

	position := &model.Position{
		Time:       t.LastUpdate,
		DeviceID:   t.DeviceID,
		Lat:        t.Latitude,
		Lng:        t.Longitude,
		Speed:      t.Speed,
		Course:     t.Course,
		Ignition:   t.Attributes.Ignition,
		Motion:     t.Attributes.Motion,
		OdometerKm: t.Attributes.TotalDistance,
	}
	if err := s.positions.SavePosition(s.ctx, position); err != nil {
		log.Printf("[Ingest] Archive write failed for device %d: %v", t.DeviceID, err)
	} else {
		observability.PositionsArchived.Inc()
	}

	if err := s.devices.TouchLastOnline(s.ctx, t.DeviceID, t.LastUpdate); err != nil {
		log.Printf("[Ingest] Last-online update failed for device %d: %v", t.DeviceID, err)
	}

	// Background address resolution; the queue drops devices outside
	// the visible window.
	s.geocoder.Enqueue(t.DeviceID, t.Latitude, t.Longitude, false)
}
