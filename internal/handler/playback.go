package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"schoolfleet/tracker/internal/clock"
	"schoolfleet/tracker/internal/playback"
	"schoolfleet/tracker/internal/service"
)

// PlaybackHandler serves historical trip playback data and exports
type PlaybackHandler struct {
	trips   *playback.TripSource
	devices *service.DeviceService
}

// NewPlaybackHandler creates a new playback handler
func NewPlaybackHandler(trips *playback.TripSource, devices *service.DeviceService) *PlaybackHandler {
	return &PlaybackHandler{trips: trips, devices: devices}
}

// GetTrips returns the trip-segmented history for a device.
// Query params:
//   - start, end: RFC3339 time range (at most 7 days)
func (h *PlaybackHandler) GetTrips(c *gin.Context) {
	deviceID, err := strconv.Atoi(c.Param("device_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid device id"})
		return
	}

	startTime, err := time.Parse(time.RFC3339, c.Query("start"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start time"})
		return
	}
	endTime, err := time.Parse(time.RFC3339, c.Query("end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end time"})
		return
	}

	trips, err := h.trips.FetchTrips(c.Request.Context(), deviceID, startTime, endTime)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Summaries and stops are computed over the full session so the
	// client can drive its scrubber locally.
	engine := playback.NewEngine(trips, clock.NewReal())

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"device_id":         deviceID,
			"trip_count":        engine.TripCount(),
			"trips":             trips,
			"stops":             engine.Stops(),
			"total_distance_km": engine.TotalDistanceKm(),
			"chart":             engine.ChartData(),
		},
	})
}

// ExportTrips streams a trip summary workbook for a device and range
func (h *PlaybackHandler) ExportTrips(c *gin.Context) {
	deviceID, err := strconv.Atoi(c.Param("device_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid device id"})
		return
	}

	startTime, err := time.Parse(time.RFC3339, c.Query("start"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start time"})
		return
	}
	endTime, err := time.Parse(time.RFC3339, c.Query("end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end time"})
		return
	}

	trips, err := h.trips.FetchTrips(c.Request.Context(), deviceID, startTime, endTime)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	deviceName := fmt.Sprintf("device-%d", deviceID)
	if device, err := h.devices.GetByDeviceID(c.Request.Context(), deviceID); err == nil && device.Name != "" {
		deviceName = device.Name
	}

	engine := playback.NewEngine(trips, clock.NewReal())
	file, err := playback.ExportTripReport(deviceName, trips, engine.Stops())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	filename := fmt.Sprintf("trips_%d_%s.xlsx", deviceID, startTime.Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := file.Write(c.Writer); err != nil {
		// Headers already sent, just log via gin's error list
		c.Error(err)
	}
}
