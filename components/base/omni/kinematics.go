package omni

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/omnidrive/components/base"
)

// Geometry describes the wheel layout. Mounting angles are in radians, measured from the body x
// axis to each wheel's position on the chassis.
type Geometry struct {
	WheelRadius    float64
	RobotRadius    float64
	MountingAngles []float64
}

// DefaultGeometry returns the layout of the reference chassis: 30mm wheels on a 152.8mm radius at
// 0, 60 and -60 degrees.
func DefaultGeometry() Geometry {
	return Geometry{
		WheelRadius:    0.03,
		RobotRadius:    0.1528,
		MountingAngles: []float64{0, math.Pi / 3, -math.Pi / 3},
	}
}

// Validate checks the radii and that there is at least one wheel.
func (g Geometry) Validate() error {
	if g.WheelRadius <= 0 {
		return errors.Errorf("wheel radius must be positive, got %v", g.WheelRadius)
	}
	if g.RobotRadius <= 0 {
		return errors.Errorf("robot radius must be positive, got %v", g.RobotRadius)
	}
	if len(g.MountingAngles) == 0 {
		return errors.New("geometry needs at least one mounting angle")
	}
	for i, phi := range g.MountingAngles {
		if math.IsNaN(phi) || math.IsInf(phi, 0) {
			return errors.Errorf("mounting angle %d is not finite", i)
		}
	}
	return nil
}

// WheelVelocities solves the inverse kinematics for cmd, returning one wheel angular velocity in
// rad/s per mounting angle:
//
//	omega_k = (-sin(phi_k - theta)*dot_x + cos(phi_k - theta)*dot_y + R*dot_theta) / r
func WheelVelocities(cmd base.VelocityCommand, g Geometry) []float64 {
	n := len(g.MountingAngles)
	jacobian := mat.NewDense(n, 3, nil)
	for k, phi := range g.MountingAngles {
		sin, cos := math.Sincos(phi - cmd.Theta)
		jacobian.SetRow(k, []float64{-sin, cos, g.RobotRadius})
	}

	body := mat.NewVecDense(3, []float64{cmd.DotX, cmd.DotY, cmd.DotTheta})
	var wheels mat.VecDense
	wheels.MulVec(jacobian, body)
	wheels.ScaleVec(1/g.WheelRadius, &wheels)

	out := make([]float64, n)
	for k := range out {
		out[k] = wheels.AtVec(k)
	}
	return out
}

// RadPerSecToRPM converts an angular velocity to revolutions per minute.
func RadPerSecToRPM(omega float64) float64 {
	return omega * 60 / (2 * math.Pi)
}

// RPMToRadPerSec converts revolutions per minute to an angular velocity.
func RPMToRadPerSec(rpm float64) float64 {
	return rpm * 2 * math.Pi / 60
}
