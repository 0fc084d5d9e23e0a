package features

import (
	"errors"
	"fmt"
	"math"
)

// TempBin is the discretized temperature category.
type TempBin string

const (
	TempFreezing TempBin = "Freezing"
	TempCold     TempBin = "Cold"
	TempMild     TempBin = "Mild"
	TempWarm     TempBin = "Warm"
)

// RainBin is the discretized precipitation category.
type RainBin string

const (
	RainNone     RainBin = "None"
	RainLight    RainBin = "Light"
	RainModerate RainBin = "Moderate"
	RainHeavy    RainBin = "Heavy"
)

// Bin edges. Each edge is inclusive for the lower bin.
const (
	freezingMaxC = 0.0
	coldMaxC     = 10.0
	mildMaxC     = 20.0

	noRainMaxMM    = 0.1
	lightRainMaxMM = 2.0
	moderateMaxMM  = 5.0
)

// ErrNonFinite is returned when a measurement is NaN or infinite.
var ErrNonFinite = errors.New("measurement is not a finite number")

// WeatherBins pairs the two categorical weather features.
type WeatherBins struct {
	Temp TempBin
	Rain RainBin
}

// CategorizeTemperature bins a temperature in degrees Celsius.
func CategorizeTemperature(celsius float64) (TempBin, error) {
	if math.IsNaN(celsius) || math.IsInf(celsius, 0) {
		return "", fmt.Errorf("temperature: %w", ErrNonFinite)
	}
	switch {
	case celsius <= freezingMaxC:
		return TempFreezing, nil
	case celsius <= coldMaxC:
		return TempCold, nil
	case celsius <= mildMaxC:
		return TempMild, nil
	default:
		return TempWarm, nil
	}
}

// CategorizePrecipitation bins an hourly precipitation amount in millimetres.
func CategorizePrecipitation(mm float64) (RainBin, error) {
	if math.IsNaN(mm) || math.IsInf(mm, 0) {
		return "", fmt.Errorf("precipitation: %w", ErrNonFinite)
	}
	switch {
	case mm <= noRainMaxMM:
		return RainNone, nil
	case mm <= lightRainMaxMM:
		return RainLight, nil
	case mm <= moderateMaxMM:
		return RainModerate, nil
	default:
		return RainHeavy, nil
	}
}

// Categorize bins both weather measurements.
func Categorize(celsius, mm float64) (WeatherBins, error) {
	temp, err := CategorizeTemperature(celsius)
	if err != nil {
		return WeatherBins{}, err
	}
	rain, err := CategorizePrecipitation(mm)
	if err != nil {
		return WeatherBins{}, err
	}
	return WeatherBins{Temp: temp, Rain: rain}, nil
}

// TempBins lists temperature categories from coldest to warmest.
func TempBins() []TempBin {
	return []TempBin{TempFreezing, TempCold, TempMild, TempWarm}
}

// RainBins lists precipitation categories from driest to wettest.
func RainBins() []RainBin {
	return []RainBin{RainNone, RainLight, RainModerate, RainHeavy}
}
