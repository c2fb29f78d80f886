package extract

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/trailcam-archiver/internal/archive"
)

func loadFixture(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "sidebar.html"))
	require.NoError(t, err)
	return string(data)
}

func TestParseFullSidebar(t *testing.T) {
	t.Parallel()

	meta, err := Parse(loadFixture(t))
	require.NoError(t, err)

	assert.Equal(t, "October 3, 2024 6:42 AM", meta.Timestamp)
	require.NotNil(t, meta.PrimaryLocation)
	require.NotNil(t, meta.SecondaryLocation)
	assert.Equal(t, "FEEDERS", *meta.PrimaryLocation)
	assert.Equal(t, "CABIN", *meta.SecondaryLocation)

	env := meta.Environment
	require.NotNil(t, env.Temperature)
	assert.Equal(t, archive.Temperature{Value: 45, Unit: "F"}, *env.Temperature)
	require.NotNil(t, env.Wind)
	assert.Equal(t, "NW", env.Wind.Direction)
	assert.InDelta(t, 5.0, env.Wind.Speed, 0.0001)
	require.NotNil(t, env.Wind.Unit)
	assert.Equal(t, "mph", *env.Wind.Unit)
	require.NotNil(t, env.Pressure)
	assert.Equal(t, archive.Pressure{Value: 30.12, Unit: "inHg"}, *env.Pressure)
	require.NotNil(t, env.SunStatus)
	assert.Equal(t, "Sunrise", *env.SunStatus)
	require.NotNil(t, env.MoonPhase)
	assert.Equal(t, "Waning Gibbous", *env.MoonPhase)
	assert.Empty(t, meta.Dropped)

	weather, ok := meta.Raw[RawWeather].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "NW 5 mph", weather["WIND"])
	assert.Len(t, weather, 5)
}

func TestParseMalformedWindIsDropped(t *testing.T) {
	t.Parallel()

	html := strings.Replace(loadFixture(t), "NW 5 mph", "NW calm", 1)
	meta, err := Parse(html)
	require.NoError(t, err)

	assert.Nil(t, meta.Environment.Wind)
	assert.NotNil(t, meta.Environment.Temperature)
	assert.NotNil(t, meta.Environment.Pressure)
	assert.NotNil(t, meta.PrimaryLocation)
	require.Len(t, meta.Dropped, 1)
	assert.Equal(t, "WIND", meta.Dropped[0].Label)
	assert.Equal(t, "NW calm", meta.Dropped[0].Value)

	weather := meta.Raw[RawWeather].(map[string]string)
	assert.Equal(t, "NW calm", weather["WIND"])
}

func TestParseMissingContainer(t *testing.T) {
	t.Parallel()

	_, err := Parse(`<div class="gallery"><p>nothing here</p></div>`)
	require.ErrorIs(t, err, archive.ErrExtraction)
}

func TestParseSparseSidebar(t *testing.T) {
	t.Parallel()

	meta, err := Parse(`<div data-testid="PhotoSideBar-container"><p class="text-overline text-primary">RIDGE</p></div>`)
	require.NoError(t, err)
	assert.Empty(t, meta.Timestamp)
	require.NotNil(t, meta.PrimaryLocation)
	assert.Equal(t, "RIDGE", *meta.PrimaryLocation)
	assert.Nil(t, meta.SecondaryLocation)
	assert.True(t, meta.Environment.IsEmpty())
}

func TestParseReadings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		parse   func(string) error
		input   string
		wantErr bool
	}{
		{name: "temp ok", parse: wrap(ParseTemperature), input: "-3°C"},
		{name: "temp no degree", parse: wrap(ParseTemperature), input: "45F", wantErr: true},
		{name: "temp no unit", parse: wrap(ParseTemperature), input: "45°", wantErr: true},
		{name: "temp not numeric", parse: wrap(ParseTemperature), input: "--°F", wantErr: true},
		{name: "wind no unit", parse: wrap(ParseWind), input: "S 12"},
		{name: "wind multiword unit", parse: wrap(ParseWind), input: "SSE 3 km h"},
		{name: "wind too short", parse: wrap(ParseWind), input: "NW", wantErr: true},
		{name: "pressure ok", parse: wrap(ParsePressure), input: "1013 hPa"},
		{name: "pressure missing unit", parse: wrap(ParsePressure), input: "1013", wantErr: true},
		{name: "pressure not numeric", parse: wrap(ParsePressure), input: "high inHg", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.parse(tc.input)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func wrap[T any](fn func(string) (T, error)) func(string) error {
	return func(s string) error {
		_, err := fn(s)
		return err
	}
}
