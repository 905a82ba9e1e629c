package convert

import (
	"math"
)

const zeroCelsius = 273.15

// KJToWh converts an hourly energy sum in kJ/m² into mean irradiance W/m².
func KJToWh(kj float64) float64 {
	return kj * 0.2777778
}

func OctasToPercentage(octas float64) float64 {
	return math.Round((octas / 8) * 100)
}

func CelsiusToKelvin(c float64) float64 {
	return c + zeroCelsius
}

func KelvinToCelsius(k float64) float64 {
	return k - zeroCelsius
}

func HPaToPa(hpa float64) float64 {
	return hpa * 100
}

func DegToRad(deg float64) float64 {
	return deg * math.Pi / 180.0
}

func RadToDeg(rad float64) float64 {
	return rad * 180.0 / math.Pi
}
