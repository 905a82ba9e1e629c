package pvmodel

import (
	"fmt"
	"math"
)

// SAPM cell temperature parameters.
type TemperatureModel struct {
	A      float64
	B      float64
	DeltaT float64
}

var temperatureModels = map[string]TemperatureModel{
	"open_rack_glass_glass":        {A: -3.47, B: -0.0594, DeltaT: 3},
	"close_mount_glass_glass":      {A: -2.98, B: -0.0471, DeltaT: 1},
	"open_rack_glass_polymer":      {A: -3.56, B: -0.075, DeltaT: 3},
	"insulated_back_glass_polymer": {A: -2.81, B: -0.0455, DeltaT: 0},
}

func LookupTemperatureModel(name string) (TemperatureModel, error) {
	m, ok := temperatureModels[name]
	if !ok {
		return TemperatureModel{}, fmt.Errorf("unknown temperature model %q", name)
	}
	return m, nil
}

// CellTemperature (°C) from plane of array irradiance, air temperature
// (°C) and wind speed (m/s).
func (m TemperatureModel) CellTemperature(poa, tempAir, wind float64) float64 {
	module := poa*math.Exp(m.A+m.B*wind) + tempAir
	return module + poa/1000*m.DeltaT
}

// PlaneOfArray is the isotropic sky transposition of irr onto a surface.
// The direct part is weighted by the incidence angle modifier.
type PlaneOfArray struct {
	Direct  float64
	Diffuse float64
	Global  float64
	// Direct*IAM + Diffuse
	Effective float64
}

func Transpose(irr Irradiance, pos SolarPosition, tilt, azimuth, albedo float64) PlaneOfArray {
	cosAOI := cos(pos.ApparentZenith)*cos(tilt) +
		sin(pos.ApparentZenith)*sin(tilt)*cos(pos.Azimuth-azimuth)
	cosAOI = math.Max(-1, math.Min(1, cosAOI))

	direct := math.Max(0, irr.DNI*cosAOI)
	sky := irr.DHI * (1 + cos(tilt)) / 2
	ground := irr.GHI * albedo * (1 - cos(tilt)) / 2
	diffuse := math.Max(0, sky+ground)

	iam := physicalIAM(math.Acos(cosAOI))
	return PlaneOfArray{
		Direct:    direct,
		Diffuse:   diffuse,
		Global:    direct + diffuse,
		Effective: direct*iam + diffuse,
	}
}

// physicalIAM is the Fresnel/Snell incidence angle modifier of a glass
// cover; aoi in radians.
func physicalIAM(aoi float64) float64 {
	const (
		n = 1.526
		k = 4.0
		l = 0.002
	)
	if aoi >= math.Pi/2 {
		return 0
	}
	cosT := math.Cos(aoi)
	sinT2 := math.Sin(aoi) / n
	cosT2 := math.Sqrt(1 - sinT2*sinT2)

	rhoS := math.Pow((cosT-n*cosT2)/(cosT+n*cosT2), 2)
	rhoP := math.Pow((cosT2-n*cosT)/(cosT2+n*cosT), 2)
	rho0 := math.Pow((1-n)/(1+n), 2)

	tauS := (1 - rhoS) * math.Exp(-k*l/cosT2)
	tauP := (1 - rhoP) * math.Exp(-k*l/cosT2)
	tau0 := (1 - rho0) * math.Exp(-k*l)
	return (tauS + tauP) / 2 / tau0
}

// Fixed losses: 2 % wiring and 0.5 % connections.
var systemLosses = 1 - (1-0.02)*(1-0.005)

// DCPower (W) of a PVWatts module with nameplate pdc0 (W) and temperature
// coefficient gamma (1/°C), after system losses.
func DCPower(effective, cellTemp, pdc0, gamma float64) float64 {
	return effective / 1000 * pdc0 * (1 + gamma*(cellTemp-25)) * (1 - systemLosses)
}

// ACPower (W) of a PVWatts inverter with DC rating pdc0 (W) and nominal
// efficiency etaNom.
func ACPower(pdc, pdc0, etaNom float64) float64 {
	if pdc <= 0 || pdc0 <= 0 {
		return 0
	}
	const etaRef = 0.9637
	pac0 := etaNom * pdc0
	zeta := pdc / pdc0
	eta := etaNom / etaRef * (-0.0162*zeta - 0.0059/zeta + 0.9858)
	if eta < 0 {
		eta = 0
	}
	return math.Max(0, math.Min(eta*pdc, pac0))
}
