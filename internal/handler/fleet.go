package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"schoolfleet/tracker/internal/model"
	"schoolfleet/tracker/internal/service"
	"schoolfleet/tracker/internal/track"
)

// FleetHandler serves fleet snapshot and device registry requests
type FleetHandler struct {
	positions *service.PositionService
	devices   *service.DeviceService
	tracker   *track.Tracker
}

// NewFleetHandler creates a new fleet handler
func NewFleetHandler(positions *service.PositionService, devices *service.DeviceService, tracker *track.Tracker) *FleetHandler {
	return &FleetHandler{positions: positions, devices: devices, tracker: tracker}
}

// ListDevices returns the paginated device registry
func (h *FleetHandler) ListDevices(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	devices, total, err := h.devices.List(c.Request.Context(), page, pageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  devices,
		"total": total,
		"page":  page,
		"limit": pageSize,
	})
}

// GetMarkers returns the current in-memory marker state for every
// actively tracked vehicle (same shape the WebSocket pushes).
func (h *FleetHandler) GetMarkers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"data": h.tracker.Markers(),
	})
}

// GetShadow returns the last-known state for one device. Falls back to
// the position archive when the Redis shadow has expired.
func (h *FleetHandler) GetShadow(c *gin.Context) {
	deviceID, err := strconv.Atoi(c.Param("device_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid device id"})
		return
	}

	shadow, err := h.positions.GetShadow(c.Request.Context(), deviceID)
	if err != nil {
		latest, lerr := h.positions.GetLatest(c.Request.Context(), deviceID)
		if lerr != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no state for device"})
			return
		}
		shadow = &model.DeviceShadow{
			DeviceID:  latest.DeviceID,
			Lat:       latest.Lat,
			Lng:       latest.Lng,
			Speed:     latest.Speed,
			Course:    latest.Course,
			Timestamp: latest.Time.Unix(),
		}
	}
	c.JSON(http.StatusOK, shadow)
}

// GetHistory returns archived positions for a device within a range
func (h *FleetHandler) GetHistory(c *gin.Context) {
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
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	positions, err := h.positions.GetHistory(c.Request.Context(), deviceID, startTime, endTime, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": positions, "count": len(positions)})
}

// GetAllShadows returns last-known state for the whole fleet
func (h *FleetHandler) GetAllShadows(c *gin.Context) {
	shadows, err := h.positions.GetAllShadows(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": shadows})
}
