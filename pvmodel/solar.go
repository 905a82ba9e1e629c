package pvmodel

import (
	"math"
	"time"

	"github.com/icodeforyou/pvforecast/convert"
)

// SolarPosition in degrees. ApparentZenith is corrected for atmospheric
// refraction.
type SolarPosition struct {
	Zenith         float64
	ApparentZenith float64
	Azimuth        float64
}

func (p SolarPosition) Elevation() float64 {
	return 90 - p.ApparentZenith
}

type sunState struct {
	declination  float64 // degrees
	equationTime float64 // minutes
}

func sin(deg float64) float64 { return math.Sin(convert.DegToRad(deg)) }
func cos(deg float64) float64 { return math.Cos(convert.DegToRad(deg)) }
func tan(deg float64) float64 { return math.Tan(convert.DegToRad(deg)) }

func julianCentury(t time.Time) float64 {
	jd := float64(t.UnixNano())/float64(24*time.Hour) + 2440587.5
	return (jd - 2451545) / 36525
}

// NOAA solar calculations.
func sun(t time.Time) sunState {
	jc := julianCentury(t)

	meanLong := math.Mod(280.46646+jc*(36000.76983+jc*0.0003032), 360)
	meanAnom := 357.52911 + jc*(35999.05029-0.0001537*jc)
	eccent := 0.016708634 - jc*(0.000042037+0.0000001267*jc)
	center := sin(meanAnom)*(1.914602-jc*(0.004817+0.000014*jc)) +
		sin(2*meanAnom)*(0.019993-0.000101*jc) +
		sin(3*meanAnom)*0.000289
	appLong := meanLong + center - 0.00569 - 0.00478*sin(125.04-1934.136*jc)
	meanObliq := 23 + (26+(21.448-jc*(46.815+jc*(0.00059-jc*0.001813)))/60)/60
	obliq := meanObliq + 0.00256*cos(125.04-1934.136*jc)

	decl := convert.RadToDeg(math.Asin(sin(obliq) * sin(appLong)))

	y := math.Pow(tan(obliq/2), 2)
	l0 := convert.DegToRad(meanLong)
	m := convert.DegToRad(meanAnom)
	eqTime := 4 * convert.RadToDeg(y*math.Sin(2*l0)-
		2*eccent*math.Sin(m)+
		4*eccent*y*math.Sin(m)*math.Cos(2*l0)-
		0.5*y*y*math.Sin(4*l0)-
		1.25*eccent*eccent*math.Sin(2*m))

	return sunState{declination: decl, equationTime: eqTime}
}

// Position of the sun at t seen from lat/lon. pressure (Pa) and
// temperature (°C) scale the refraction correction.
func Position(t time.Time, lat, lon, pressure, temperature float64) SolarPosition {
	t = t.UTC()
	s := sun(t)

	minutes := float64(t.Hour()*60+t.Minute()) + float64(t.Second())/60
	trueSolar := math.Mod(minutes+s.equationTime+4*lon, 1440)
	if trueSolar < 0 {
		trueSolar += 1440
	}
	hourAngle := trueSolar/4 - 180

	cosZen := sin(lat)*sin(s.declination) + cos(lat)*cos(s.declination)*cos(hourAngle)
	zenith := convert.RadToDeg(math.Acos(math.Max(-1, math.Min(1, cosZen))))

	var azimuth float64
	denom := cos(lat) * sin(zenith)
	if math.Abs(denom) > 1e-9 {
		a := convert.RadToDeg(math.Acos(math.Max(-1, math.Min(1, (sin(lat)*cos(zenith)-sin(s.declination))/denom))))
		if hourAngle > 0 {
			azimuth = math.Mod(a+180, 360)
		} else {
			azimuth = math.Mod(540-a, 360)
		}
	}

	return SolarPosition{
		Zenith:         zenith,
		ApparentZenith: zenith - refraction(90-zenith, pressure, temperature),
		Azimuth:        azimuth,
	}
}

// refraction correction in degrees for a true elevation e.
func refraction(e, pressure, temperature float64) float64 {
	var r float64
	switch {
	case e > 85:
		return 0
	case e > 5:
		te := tan(e)
		r = 58.1/te - 0.07/math.Pow(te, 3) + 0.000086/math.Pow(te, 5)
	case e > -0.575:
		r = 1735 + e*(-518.2+e*(103.4+e*(-12.79+e*0.711)))
	default:
		r = -20.772 / tan(e)
	}
	if pressure <= 0 || math.IsNaN(pressure) {
		pressure = 101325
	}
	if math.IsNaN(temperature) {
		temperature = 12
	}
	return r / 3600 * pressure / 101325 * 283 / (273 + temperature)
}

// SunriseSunset of the UTC day containing day. In polar night both are
// solar noon, in midnight sun they span the whole day.
func SunriseSunset(day time.Time, lat, lon float64) (time.Time, time.Time) {
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	s := sun(midnight.Add(12*time.Hour - time.Duration(lon/15*float64(time.Hour))))

	noon := 720 - 4*lon - s.equationTime
	arg := cos(90.833)/(cos(lat)*cos(s.declination)) - tan(lat)*tan(s.declination)

	minutes := func(m float64) time.Time {
		return midnight.Add(time.Duration(m * float64(time.Minute))).Truncate(time.Second)
	}
	switch {
	case arg > 1:
		return minutes(noon), minutes(noon)
	case arg < -1:
		return midnight, midnight.Add(24*time.Hour - time.Second)
	}

	ha := convert.RadToDeg(math.Acos(arg))
	return minutes(noon - 4*ha), minutes(noon + 4*ha)
}

// ExtraRadiation is the extraterrestrial normal irradiance (W/m²) on the
// day of t (Spencer).
func ExtraRadiation(t time.Time, solarConstant float64) float64 {
	b := 2 * math.Pi * float64(t.UTC().YearDay()-1) / 365
	rfact := 1.00011 + 0.034221*math.Cos(b) + 0.00128*math.Sin(b) +
		0.000719*math.Cos(2*b) + 0.000077*math.Sin(2*b)
	return solarConstant * rfact
}

// AltitudeToPressure returns the standard pressure (Pa) at altitude (m).
func AltitudeToPressure(altitude float64) float64 {
	return 100 * math.Pow((44331.514-altitude)/11880.516, 1/0.1902632)
}
