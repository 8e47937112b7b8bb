package omni

import (
	"math"
	"testing"

	"go.viam.com/test"

	"go.viam.com/omnidrive/components/base"
)

func TestWheelVelocities(t *testing.T) {
	g := DefaultGeometry()

	t.Run("zero command", func(t *testing.T) {
		test.That(t, WheelVelocities(base.VelocityCommand{}, g), test.ShouldResemble, []float64{0, 0, 0})
	})

	t.Run("pure rotation", func(t *testing.T) {
		omegas := WheelVelocities(base.VelocityCommand{DotTheta: 1}, g)
		for _, omega := range omegas {
			test.That(t, omega, test.ShouldAlmostEqual, g.RobotRadius/g.WheelRadius)
		}
	})

	t.Run("pure translation", func(t *testing.T) {
		omegas := WheelVelocities(base.VelocityCommand{DotX: 1}, g)
		test.That(t, omegas[0], test.ShouldAlmostEqual, 0)
		test.That(t, omegas[1], test.ShouldAlmostEqual, -math.Sin(math.Pi/3)/g.WheelRadius)
		test.That(t, omegas[2], test.ShouldAlmostEqual, math.Sin(math.Pi/3)/g.WheelRadius)

		omegas = WheelVelocities(base.VelocityCommand{DotY: 0.5}, g)
		test.That(t, omegas[0], test.ShouldAlmostEqual, 0.5/g.WheelRadius)
		test.That(t, omegas[1], test.ShouldAlmostEqual, 0.25/g.WheelRadius)
		test.That(t, omegas[2], test.ShouldAlmostEqual, 0.25/g.WheelRadius)
	})

	t.Run("heading offset rotates the request", func(t *testing.T) {
		rotated := WheelVelocities(base.VelocityCommand{DotX: 1, Theta: math.Pi / 2}, g)
		plain := WheelVelocities(base.VelocityCommand{DotY: 1}, g)
		for k := range plain {
			test.That(t, rotated[k], test.ShouldAlmostEqual, plain[k])
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		cmd := base.VelocityCommand{DotX: 0.3, DotY: -0.2, DotTheta: 0.7}
		test.That(t, WheelVelocities(cmd, g), test.ShouldResemble, WheelVelocities(cmd, g))
	})

	t.Run("120 degree spacing", func(t *testing.T) {
		g := Geometry{WheelRadius: 0.03, RobotRadius: 0.1528, MountingAngles: []float64{0, 2 * math.Pi / 3, 4 * math.Pi / 3}}
		omegas := WheelVelocities(base.VelocityCommand{DotY: 1}, g)
		test.That(t, omegas[0], test.ShouldAlmostEqual, 1/g.WheelRadius)
		test.That(t, omegas[1], test.ShouldAlmostEqual, -0.5/g.WheelRadius)
		test.That(t, omegas[2], test.ShouldAlmostEqual, -0.5/g.WheelRadius)
	})
}

func TestGeometryValidate(t *testing.T) {
	test.That(t, DefaultGeometry().Validate(), test.ShouldBeNil)

	g := DefaultGeometry()
	g.WheelRadius = 0
	test.That(t, g.Validate(), test.ShouldNotBeNil)

	g = DefaultGeometry()
	g.RobotRadius = -1
	test.That(t, g.Validate(), test.ShouldNotBeNil)

	g = DefaultGeometry()
	g.MountingAngles = nil
	test.That(t, g.Validate(), test.ShouldNotBeNil)

	g = DefaultGeometry()
	g.MountingAngles[1] = math.NaN()
	test.That(t, g.Validate(), test.ShouldNotBeNil)
}

func TestRPMConversion(t *testing.T) {
	test.That(t, RadPerSecToRPM(2*math.Pi), test.ShouldAlmostEqual, 60)
	test.That(t, RPMToRadPerSec(60), test.ShouldAlmostEqual, 2*math.Pi)
	test.That(t, RPMToRadPerSec(RadPerSecToRPM(1.25)), test.ShouldAlmostEqual, 1.25)
}
