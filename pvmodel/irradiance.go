package pvmodel

import (
	"math"
	"time"
)

// Irradiance components in W/m². Kt is the clearness index, NaN for models
// that do not derive it.
type Irradiance struct {
	GHI float64
	DNI float64
	DHI float64
	Kt  float64
}

const (
	minCosZenith = 0.065
	maxZenith    = 87.0
	maxAirmass   = 12.0
)

func missing() Irradiance {
	nan := math.NaN()
	return Irradiance{GHI: nan, DNI: nan, DHI: nan, Kt: nan}
}

func clearnessIndex(ghi, zenith, extra float64) float64 {
	cz := math.Max(cos(zenith), minCosZenith)
	kt := ghi / (extra * cz)
	return math.Max(0, math.Min(kt, 1))
}

// Kasten (1966) relative airmass, NaN below the horizon.
func relativeAirmass(zenith float64) float64 {
	if zenith > 90 {
		return math.NaN()
	}
	return 1 / (cos(zenith) + 0.15*math.Pow(93.885-zenith, -1.253))
}

// Disc estimates DNI from GHI (Maxwell 1987). DHI is the remainder of GHI.
func Disc(ghi, zenith float64, t time.Time, pressure float64) Irradiance {
	if math.IsNaN(ghi) {
		return missing()
	}
	extra := ExtraRadiation(t, 1370)
	kt := clearnessIndex(ghi, zenith, extra)

	am := relativeAirmass(zenith)
	if pressure > 0 {
		am *= pressure / 101325
	}
	am = math.Min(am, maxAirmass)

	var a, b, c float64
	if kt <= 0.6 {
		a = 0.512 - 1.56*kt + 2.286*kt*kt - 2.222*kt*kt*kt
		b = 0.37 + 0.962*kt
		c = -0.28 + 0.932*kt - 2.048*kt*kt
	} else {
		a = -5.743 + 21.77*kt - 27.49*kt*kt + 11.56*kt*kt*kt
		b = 41.4 - 118.5*kt + 66.05*kt*kt + 31.9*kt*kt*kt
		c = -47.01 + 184.2*kt - 222.0*kt*kt + 73.81*kt*kt*kt
	}
	deltaKn := a + b*math.Exp(c*am)
	knc := 0.866 - 0.122*am + 0.0121*am*am - 0.000653*am*am*am + 1.4e-05*am*am*am*am
	dni := (knc - deltaKn) * extra

	if zenith > maxZenith || ghi < 0 || dni < 0 || math.IsNaN(dni) {
		dni = 0
	}
	return Irradiance{GHI: ghi, DNI: dni, DHI: ghi - dni*cos(zenith), Kt: kt}
}

// Erbs splits GHI into diffuse and direct parts (Erbs 1982).
func Erbs(ghi, zenith float64, t time.Time) Irradiance {
	if math.IsNaN(ghi) {
		return missing()
	}
	kt := clearnessIndex(ghi, zenith, ExtraRadiation(t, 1366.1))

	var df float64
	switch {
	case kt <= 0.22:
		df = 1 - 0.09*kt
	case kt <= 0.8:
		df = 0.9511 - 0.1604*kt + 4.388*kt*kt - 16.638*math.Pow(kt, 3) + 12.336*math.Pow(kt, 4)
	default:
		df = 0.165
	}

	dhi := df * ghi
	dni := (ghi - dhi) / cos(zenith)
	if zenith > maxZenith || ghi < 0 || dni < 0 || math.IsNaN(dni) {
		return Irradiance{GHI: ghi, DNI: 0, DHI: ghi, Kt: kt}
	}
	return Irradiance{GHI: ghi, DNI: dni, DHI: dhi, Kt: kt}
}

// SimplifiedSolis clear sky irradiance (Ineichen 2008) for the apparent
// elevation (degrees), with aod700 0.1 and precipitable water 1 cm.
func SimplifiedSolis(elevation, pressure, extra float64) Irradiance {
	if elevation <= 0 {
		return Irradiance{Kt: math.NaN()}
	}
	const (
		aod = 0.1
		w   = 1.0
		p0  = 101325.0
	)
	if pressure <= 0 || math.IsNaN(pressure) {
		pressure = p0
	}
	lw := math.Log(w)
	lp := math.Log(pressure / p0)

	i0p := extra * (0.12*math.Pow(w, 0.56)*aod*aod + 0.97*math.Pow(w, 0.032)*aod + 1.08*math.Pow(w, 0.0051) + 0.071*lp)
	taub := (1.82+0.056*lw+0.0071*lw*lw)*aod + 0.33 + 0.045*lw + 0.0096*lw*lw + (0.0089*w+0.13)*lp
	b := (0.00925*aod*aod+0.0148*aod-0.0172)*lw + (-0.7565*aod*aod + 0.5057*aod + 0.4557)
	taug := (1.24+0.047*lw+0.0061*lw*lw)*aod + 0.27 + 0.043*lw + 0.0090*lw*lw + (0.0079*w+0.1)*lp
	g := -0.0147*lw - 0.3079*aod*aod + 0.2846*aod + 0.3798
	taud := (-0.21*w+11.6)*math.Pow(aod, 4) + (0.27*w-20.7)*math.Pow(aod, 3) + (-0.134*w+15.5)*aod*aod +
		(0.0554*w-5.71)*aod + 0.0057*w + 2.94 - 0.71*math.Pow(1+aod, -15.0)*lp
	d := -0.337*aod*aod + 0.63*aod + 0.116 + lp/(18+152*aod)

	se := math.Max(1e-30, sin(elevation))
	return Irradiance{
		GHI: i0p * math.Exp(-taug/math.Pow(se, g)) * se,
		DNI: i0p * math.Exp(-taub/math.Pow(se, b)),
		DHI: i0p * math.Exp(-taud/math.Pow(se, d)),
		Kt:  math.NaN(),
	}
}

// ClearskyScaling scales clear sky GHI linearly by cloud cover (%) and
// decomposes the result with Disc.
func ClearskyScaling(clouds float64, clear Irradiance, zenith float64, t time.Time, pressure float64) Irradiance {
	const offset = 0.35
	ghi := (offset + (1-offset)*(1-clouds/100)) * clear.GHI
	irr := Disc(ghi, zenith, t, pressure)
	irr.Kt = math.NaN()
	return irr
}

// CampbellNorman derives irradiance from a transmittance linear in cloud
// cover (%).
func CampbellNorman(clouds, zenith, pressure float64) Irradiance {
	if math.IsNaN(clouds) {
		return missing()
	}
	if zenith >= 90 {
		return Irradiance{Kt: math.NaN()}
	}
	const extra = 1367.0
	tau := (100 - clouds) / 100 * 0.75
	cz := cos(zenith)
	ratio := pressure / (101325 * cz)

	dni := extra * math.Pow(tau, ratio)
	dhi := 0.3 * (1 - math.Pow(tau, ratio)) * extra * cz
	return Irradiance{GHI: dhi + dni*cz, DNI: dni, DHI: dhi, Kt: math.NaN()}
}
