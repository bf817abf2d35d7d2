package playback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportTripReport(t *testing.T) {
	trips := twoTrips()
	e, _ := newEngineFixture(trips)

	f, err := ExportTripReport("Bus 12", trips, e.Stops())
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Trips")
	require.NoError(t, err)
	require.Len(t, rows, 3, "header plus one row per trip")
	assert.Equal(t, "Trip 1", rows[1][0])
	assert.Equal(t, "Trip 2", rows[2][0])

	// Trip one: ten minutes, 100 km, max speed 40.
	assert.Equal(t, "00:10", rows[1][3])
	assert.Equal(t, "100", rows[1][4])
	assert.Equal(t, "40", rows[1][5])

	stopRows, err := f.GetRows("Stops")
	require.NoError(t, err)
	require.Len(t, stopRows, 3)
	assert.Equal(t, "00:30", stopRows[1][4])

	props, err := f.GetDocProps()
	require.NoError(t, err)
	assert.Contains(t, props.Title, "Bus 12")
}
