// Package base defines the body level velocity command shared by drive bases and the links that
// deliver commands to them.
package base

import (
	"context"
	"math"

	"github.com/pkg/errors"
)

// VelocityCommand is a body frame velocity request. Theta is the heading offset used to rotate
// the request into the body frame; it is 0 for plain body frame commands.
type VelocityCommand struct {
	DotX     float64 `json:"dot_x"`
	DotY     float64 `json:"dot_y"`
	DotTheta float64 `json:"dot_theta"`
	Theta    float64 `json:"theta,omitempty"`
}

// Validate rejects non-finite components.
func (cmd VelocityCommand) Validate() error {
	for name, v := range map[string]float64{
		"dot_x": cmd.DotX, "dot_y": cmd.DotY, "dot_theta": cmd.DotTheta, "theta": cmd.Theta,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Errorf("velocity command %s is not finite: %v", name, v)
		}
	}
	return nil
}

// A Base accepts velocity commands. The latest command replaces any pending one.
type Base interface {
	ApplyCommand(cmd VelocityCommand) error
	Stop(ctx context.Context) error
	Close(ctx context.Context) error
}
