package control

import (
	"time"

	"github.com/pkg/errors"
)

// PIDConfig holds the gains of a PID loop. Output units are whatever the plant takes; here the
// output is a step pulse rate.
type PIDConfig struct {
	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`
}

// Validate ensures at least one gain is set.
func (cfg PIDConfig) Validate() error {
	if cfg.Kp == 0 && cfg.Ki == 0 && cfg.Kd == 0 {
		return errors.New("pid should have at least one of kp, ki or kd set")
	}
	return nil
}

// PID is a positional PID controller with a symmetric output clamp. Integration stops while the
// output is pinned at the clamp and the error pushes it further out.
type PID struct {
	Kp, Ki, Kd float64

	limit float64
	error float64
	int   float64
	sat   int
	y     float64
	// primed is false until the first sample after construction or Reset.
	primed bool
}

// NewPID returns a PID whose output is clamped to [-limit, limit].
func NewPID(cfg PIDConfig, limit float64) (*PID, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, errors.Errorf("pid output limit must be positive, got %v", limit)
	}
	return &PID{Kp: cfg.Kp, Ki: cfg.Ki, Kd: cfg.Kd, limit: limit}, nil
}

// Next advances the controller by dt with the given error (setpoint - measured) and returns the
// clamped output. A non-positive dt returns the previous output. The first sample has no
// derivative term.
func (p *PID) Next(err float64, dt time.Duration) float64 {
	dtS := dt.Seconds()
	if dtS <= 0 {
		return p.y
	}
	if !((p.sat > 0 && err > 0) || (p.sat < 0 && err < 0)) {
		p.int += p.Ki * err * dtS
		if p.int > p.limit {
			p.int = p.limit
		} else if p.int < -p.limit {
			p.int = -p.limit
		}
	}
	var deriv float64
	if p.primed {
		deriv = (err - p.error) / dtS
	}
	output := p.Kp*err + p.int + p.Kd*deriv
	p.error = err
	p.primed = true

	switch {
	case output > p.limit:
		output = p.limit
		p.sat = 1
	case output < -p.limit:
		output = -p.limit
		p.sat = -1
	default:
		p.sat = 0
	}
	p.y = output
	return output
}

// Integral returns the accumulated integral term.
func (p *PID) Integral() float64 {
	return p.int
}

// Saturated returns 1 or -1 when the last output was clamped high or low, 0 otherwise.
func (p *PID) Saturated() int {
	return p.sat
}

// Reset clears integral, derivative and saturation memory.
func (p *PID) Reset() {
	p.int = 0
	p.error = 0
	p.sat = 0
	p.y = 0
	p.primed = false
}
