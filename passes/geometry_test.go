package passes

import (
	"math"
	"testing"
)

func TestGeodeticToECEFEquator(t *testing.T) {
	p := GeodeticToECEF(0, 0)
	if math.Abs(p.X-equatorialRadiusKm) > 0.001 {
		t.Fatalf("equator/prime meridian X = %f, want %f", p.X, equatorialRadiusKm)
	}
	if math.Abs(p.Y) > 0.001 || math.Abs(p.Z) > 0.001 {
		t.Fatalf("equator/prime meridian Y,Z = %f,%f, want 0,0", p.Y, p.Z)
	}
}

func TestGeodeticToECEFPole(t *testing.T) {
	p := GeodeticToECEF(90, 0)
	// Polar radius, ~6356.752 km.
	if math.Abs(p.Z-6356.752) > 0.01 {
		t.Fatalf("north pole Z = %f, want ~6356.752", p.Z)
	}
	if math.Abs(p.X) > 0.001 {
		t.Fatalf("north pole X = %f, want 0", p.X)
	}
}

func TestElevationOverhead(t *testing.T) {
	obs := Vec3{X: 6378, Y: 0, Z: 0}
	target := Vec3{X: 7000, Y: 0, Z: 0}
	if el := ElevationDegrees(obs, target); math.Abs(el-90) > 0.01 {
		t.Fatalf("directly overhead elevation = %f, want 90", el)
	}
}

func TestElevationHorizon(t *testing.T) {
	obs := Vec3{X: 6378, Y: 0, Z: 0}
	// Target offset purely tangentially sits on the geometric horizon.
	target := Vec3{X: 6378, Y: 1000, Z: 0}
	if el := ElevationDegrees(obs, target); math.Abs(el) > 0.01 {
		t.Fatalf("tangential target elevation = %f, want 0", el)
	}
}

func TestElevationBelowHorizon(t *testing.T) {
	obs := Vec3{X: 6378, Y: 0, Z: 0}
	target := Vec3{X: -7000, Y: 0, Z: 0}
	if el := ElevationDegrees(obs, target); el > -89 {
		t.Fatalf("antipodal target elevation = %f, want ~-90", el)
	}
}
