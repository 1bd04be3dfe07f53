package telemetry

import "math"

// EarthRadius is the equatorial radius used for small-offset GPS math, in meters.
const EarthRadius = 6378137.0

const deg2rad = math.Pi / 180

// EulerAngles are in radians.
type EulerAngles struct {
	Roll, Pitch, Yaw float64
}

// ToEulerAngle converts an attitude quaternion (body to ground) to roll, pitch and yaw.
func ToEulerAngle(q Quaternion) EulerAngles {
	q0, q1, q2, q3 := float64(q.Q0), float64(q.Q1), float64(q.Q2), float64(q.Q3)
	q2sqr := q2 * q2
	t0 := -2.0*(q2sqr+q3*q3) + 1.0
	t1 := 2.0 * (q1*q2 + q0*q3)
	t2 := -2.0 * (q1*q3 - q0*q2)
	t3 := 2.0 * (q2*q3 + q0*q1)
	t4 := -2.0*(q1*q1+q2sqr) + 1.0

	t2 = math.Max(-1.0, math.Min(1.0, t2))
	return EulerAngles{
		Roll:  math.Atan2(t3, t4),
		Pitch: math.Asin(t2),
		Yaw:   math.Atan2(t1, t0),
	}
}

// QuaternionFromYaw builds a level attitude facing yaw radians.
func QuaternionFromYaw(yaw float64) Quaternion {
	return Quaternion{
		Q0: float32(math.Cos(yaw / 2)),
		Q3: float32(math.Sin(yaw / 2)),
	}
}

// LocalOffsetFromGPSOffset returns the north/east/down-up offset of target
// from origin: X north, Y east, Z altitude difference. Valid for short distances.
func LocalOffsetFromGPSOffset(target, origin GPSFused) Vector3f {
	deltaLon := target.Longitude - origin.Longitude
	deltaLat := target.Latitude - origin.Latitude
	return Vector3f{
		X: float32(deltaLat * EarthRadius),
		Y: float32(deltaLon * EarthRadius * math.Cos(target.Latitude)),
		Z: target.Altitude - origin.Altitude,
	}
}

// OffsetGPS moves origin by north and east meters.
func OffsetGPS(origin GPSFused, north, east float64) GPSFused {
	out := origin
	out.Latitude = origin.Latitude + north/EarthRadius
	out.Longitude = origin.Longitude + east/(EarthRadius*math.Cos(out.Latitude))
	return out
}

func Deg2Rad(deg float64) float64 { return deg * deg2rad }
func Rad2Deg(rad float64) float64 { return rad / deg2rad }

// YawError returns the signed difference a-b in degrees wrapped to [-180, 180).
func YawError(a, b float64) float64 {
	d := math.Mod(a-b+180, 360)
	if d < 0 {
		d += 360
	}
	return d - 180
}
