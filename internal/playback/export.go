package playback

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"schoolfleet/tracker/internal/model"
)

// ExportTripReport renders a trip summary workbook: one sheet of trip
// rows and one of the synthesized stops.
func ExportTripReport(deviceName string, trips [][]model.Telemetry, stops []Stop) (*excelize.File, error) {
	f := excelize.NewFile()

	const tripSheet = "Trips"
	f.SetSheetName("Sheet1", tripSheet)

	headers := []string{"Trip", "Start", "End", "Duration", "Distance (km)", "Max Speed (km/h)"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(tripSheet, cell, h)
	}

	for i, trip := range trips {
		row := i + 2
		if len(trip) == 0 {
			continue
		}
		first := trip[0]
		last := trip[len(trip)-1]

		maxSpeed := 0.0
		for _, s := range trip {
			if s.Speed > maxSpeed {
				maxSpeed = s.Speed
			}
		}
		distance := last.Attributes.TotalDistance - first.Attributes.TotalDistance
		if distance < 0 {
			distance = 0
		}

		f.SetCellValue(tripSheet, fmt.Sprintf("A%d", row), fmt.Sprintf("Trip %d", i+1))
		f.SetCellValue(tripSheet, fmt.Sprintf("B%d", row), first.LastUpdate.Format(time.RFC3339))
		f.SetCellValue(tripSheet, fmt.Sprintf("C%d", row), last.LastUpdate.Format(time.RFC3339))
		f.SetCellValue(tripSheet, fmt.Sprintf("D%d", row), FormatStopDuration(last.LastUpdate.Sub(first.LastUpdate)))
		f.SetCellValue(tripSheet, fmt.Sprintf("E%d", row), distance)
		f.SetCellValue(tripSheet, fmt.Sprintf("F%d", row), maxSpeed)
	}

	const stopSheet = "Stops"
	if _, err := f.NewSheet(stopSheet); err != nil {
		return nil, err
	}
	stopHeaders := []string{"After Trip", "Time", "Lat", "Lng", "Duration", "Distance From Prev (km)"}
	for i, h := range stopHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(stopSheet, cell, h)
	}
	for i, stop := range stops {
		row := i + 2
		f.SetCellValue(stopSheet, fmt.Sprintf("A%d", row), stop.TripIndex+1)
		f.SetCellValue(stopSheet, fmt.Sprintf("B%d", row), stop.Time.Format(time.RFC3339))
		f.SetCellValue(stopSheet, fmt.Sprintf("C%d", row), stop.Position.Lat)
		f.SetCellValue(stopSheet, fmt.Sprintf("D%d", row), stop.Position.Lng)
		f.SetCellValue(stopSheet, fmt.Sprintf("E%d", row), stop.Duration)
		f.SetCellValue(stopSheet, fmt.Sprintf("F%d", row), stop.DistanceFromPrevKm)
	}

	f.SetDocProps(&excelize.DocProperties{
		Title:   fmt.Sprintf("Trip report - %s", deviceName),
		Creator: "schoolfleet tracker",
	})

	return f, nil
}
