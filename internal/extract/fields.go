package extract

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/JakeFAU/trailcam-archiver/internal/archive"
)

var errEmpty = errors.New("empty value")

// applyReading parses value according to the label it was shown under.
// Unknown labels are kept only in the raw metadata.
func applyReading(env *archive.Environment, label, value string) error {
	upper := strings.ToUpper(label)
	switch {
	case strings.Contains(upper, "TEMP"):
		t, err := ParseTemperature(value)
		if err != nil {
			return err
		}
		env.Temperature = &t
	case strings.Contains(upper, "WIND"):
		w, err := ParseWind(value)
		if err != nil {
			return err
		}
		env.Wind = &w
	case strings.Contains(upper, "PRESSURE"):
		p, err := ParsePressure(value)
		if err != nil {
			return err
		}
		env.Pressure = &p
	case strings.Contains(upper, "SUN"):
		if value == "" {
			return errEmpty
		}
		env.SunStatus = &value
	case strings.Contains(upper, "MOON"):
		moon := strings.Join(strings.Fields(value), " ")
		if moon == "" {
			return errEmpty
		}
		env.MoonPhase = &moon
	}
	return nil
}

// ParseTemperature parses "45°F".
func ParseTemperature(value string) (archive.Temperature, error) {
	parts := strings.Split(value, "°")
	if len(parts) != 2 {
		return archive.Temperature{}, fmt.Errorf("temperature %q: expected <value>°<unit>", value)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return archive.Temperature{}, fmt.Errorf("temperature %q: %w", value, err)
	}
	unit := strings.TrimSpace(parts[1])
	if unit == "" {
		return archive.Temperature{}, fmt.Errorf("temperature %q: missing unit", value)
	}
	return archive.Temperature{Value: v, Unit: unit}, nil
}

// ParseWind parses "NW 5 mph". The unit is optional.
func ParseWind(value string) (archive.Wind, error) {
	parts := strings.Fields(value)
	if len(parts) < 2 {
		return archive.Wind{}, fmt.Errorf("wind %q: expected <direction> <speed> [unit]", value)
	}
	speed, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return archive.Wind{}, fmt.Errorf("wind %q: %w", value, err)
	}
	w := archive.Wind{Direction: parts[0], Speed: speed}
	if len(parts) > 2 {
		unit := strings.Join(parts[2:], " ")
		w.Unit = &unit
	}
	return w, nil
}

// ParsePressure parses "30.12 inHg".
func ParsePressure(value string) (archive.Pressure, error) {
	parts := strings.Fields(value)
	if len(parts) < 2 {
		return archive.Pressure{}, fmt.Errorf("pressure %q: expected <value> <unit>", value)
	}
	v, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return archive.Pressure{}, fmt.Errorf("pressure %q: %w", value, err)
	}
	return archive.Pressure{Value: v, Unit: strings.Join(parts[1:], " ")}, nil
}
