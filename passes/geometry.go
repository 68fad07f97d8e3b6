package passes

import "math"

// WGS-84 ellipsoid parameters, kilometres.
const (
	equatorialRadiusKm = 6378.137
	flattening         = 1.0 / 298.257223563
)

// Vec3 is an ECEF-style vector in kilometres.
type Vec3 struct {
	X, Y, Z float64
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// GeodeticToECEF converts a geodetic latitude/longitude (degrees, sea level)
// to an ECEF position in kilometres on the WGS-84 ellipsoid.
func GeodeticToECEF(latDeg, lonDeg float64) Vec3 {
	lat := latDeg * math.Pi / 180.0
	lon := lonDeg * math.Pi / 180.0

	e2 := flattening * (2 - flattening)
	sinLat := math.Sin(lat)
	n := equatorialRadiusKm / math.Sqrt(1-e2*sinLat*sinLat)

	return Vec3{
		X: n * math.Cos(lat) * math.Cos(lon),
		Y: n * math.Cos(lat) * math.Sin(lon),
		Z: n * (1 - e2) * sinLat,
	}
}

// ElevationDegrees returns the elevation angle of the target as seen from
// the observer, in degrees. 0° = geometric horizon, 90° = overhead.
func ElevationDegrees(observer, target Vec3) float64 {
	v := target.Sub(observer)
	vNorm := v.Norm()
	if vNorm == 0 {
		return 90
	}

	// Local zenith at observer is its normalised position vector.
	r := observer.Norm()
	if r == 0 {
		return 90
	}
	zenith := Vec3{X: observer.X / r, Y: observer.Y / r, Z: observer.Z / r}

	cosGamma := v.Dot(zenith) / vNorm
	if cosGamma > 1 {
		cosGamma = 1
	} else if cosGamma < -1 {
		cosGamma = -1
	}
	gammaDeg := math.Acos(cosGamma) * 180.0 / math.Pi

	// Elevation is measured from the local horizon (90° − zenith angle).
	return 90.0 - gammaDeg
}
