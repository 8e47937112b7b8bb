package omni

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"go.viam.com/omnidrive/components/base"
	fakeboard "go.viam.com/omnidrive/components/board/fake"
	"go.viam.com/omnidrive/components/encoder"
	fakemotor "go.viam.com/omnidrive/components/motor/fake"
	"go.viam.com/omnidrive/control"
	"go.viam.com/omnidrive/link"
	"go.viam.com/omnidrive/logging"
)

func testConfig(mode control.Mode) Config {
	return Config{
		Geometry:            DefaultGeometry(),
		PulsesPerRevolution: 4,
		SamplePeriod:        time.Second,
		DecoderPolicy:       encoder.PolicyTransitionTable,
		Control: control.Config{
			Mode:         mode,
			PID:          control.PIDConfig{Kp: 1},
			PulsesPerRPM: 1,
			MaxPulseRate: 4000,
			Filter:       control.FilterConfig{Type: control.FilterNone},
		},
		Wheels: []Wheel{
			{ID: 1, EncoderA: "a1", EncoderB: "b1"},
			{ID: 2, EncoderA: "a2", EncoderB: "b2"},
			{ID: 3, EncoderA: "a3", EncoderB: "b3"},
		},
	}
}

type harness struct {
	base     *Base
	board    *fakeboard.Board
	actuator *fakemotor.Actuator
	sink     *link.MemorySink
	clock    *clock.Mock
}

func newHarness(t *testing.T, cfg Config, logger logging.Logger) *harness {
	t.Helper()
	h := &harness{
		board:    fakeboard.NewBoard(logger),
		actuator: fakemotor.NewActuator(logger, 1, 2, 3),
		sink:     link.NewMemorySink(),
		clock:    clock.NewMock(),
	}
	b, err := NewBase(context.Background(), cfg, Dependencies{
		Board:    h.board,
		Actuator: h.actuator,
		Sink:     h.sink,
		Clock:    h.clock,
	}, logger)
	test.That(t, err, test.ShouldBeNil)
	h.base = b
	t.Cleanup(func() {
		test.That(t, b.Close(context.Background()), test.ShouldBeNil)
	})
	return h
}

func (h *harness) waitLast(t *testing.T, wheelID int, want control.Command) {
	t.Helper()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		got, ok := h.actuator.Last(wheelID)
		test.That(tb, ok, test.ShouldBeTrue)
		test.That(tb, got, test.ShouldResemble, want)
	})
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig(control.ModeOpenLoop)
	test.That(t, cfg.Validate(), test.ShouldBeNil)

	for name, mutate := range map[string]func(*Config){
		"bad geometry":    func(c *Config) { c.Geometry.WheelRadius = 0 },
		"bad ppr":         func(c *Config) { c.PulsesPerRevolution = 0 },
		"bad period":      func(c *Config) { c.SamplePeriod = 0 },
		"bad policy":      func(c *Config) { c.DecoderPolicy = "gray" },
		"wheel count":     func(c *Config) { c.Wheels = c.Wheels[:2] },
		"duplicate id":    func(c *Config) { c.Wheels[2].ID = 1 },
		"zero id":         func(c *Config) { c.Wheels[0].ID = 0 },
		"missing encoder": func(c *Config) { c.Wheels[1].EncoderB = "" },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(control.ModeOpenLoop)
			mutate(&cfg)
			test.That(t, cfg.Validate(), test.ShouldNotBeNil)
		})
	}
}

func TestNewBaseErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cfg := testConfig(control.ModeOpenLoop)

	_, err := NewBase(context.Background(), cfg, Dependencies{Actuator: fakemotor.NewActuator(logger, 1, 2, 3)}, logger)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewBase(context.Background(), cfg, Dependencies{Board: fakeboard.NewBoard(logger)}, logger)
	test.That(t, err, test.ShouldNotBeNil)

	cfg.Control.PulsesPerRPM = 0
	_, err = NewBase(context.Background(), cfg, Dependencies{
		Board:    fakeboard.NewBoard(logger),
		Actuator: fakemotor.NewActuator(logger, 1, 2, 3),
	}, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "wheel 1")
}

func TestStatusLine(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(control.ModeOpenLoop), logging.NewTestLogger(t))

	a1 := h.board.Digitals["a1"]
	b1 := h.board.Digitals["b1"]
	// One forward cycle: 00 -> 01 -> 11 -> 10 -> 00.
	test.That(t, b1.Tick(ctx, true, 1), test.ShouldBeNil)
	test.That(t, a1.Tick(ctx, true, 2), test.ShouldBeNil)
	test.That(t, b1.Tick(ctx, false, 3), test.ShouldBeNil)
	test.That(t, a1.Tick(ctx, false, 4), test.ShouldBeNil)
	// A repeated state counts nothing; once it is received the edge before it has been counted.
	test.That(t, a1.Tick(ctx, false, 5), test.ShouldBeNil)

	h.clock.Add(time.Second)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, h.sink.Last(), test.ShouldEqual, "1:60;2:0;3:0")
	})

	h.clock.Add(time.Second)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, h.sink.Last(), test.ShouldEqual, "1:0;2:0;3:0")
	})
	test.That(t, h.base.InvalidTransitions(), test.ShouldResemble, map[int]int64{1: 0, 2: 0, 3: 0})
}

func TestFormatStatus(t *testing.T) {
	test.That(t, string(FormatStatus([]int{1, 2, 3}, []float64{3600, -45.9, 0.99})), test.ShouldEqual, "1:3600;2:-45;3:0")
	test.That(t, string(FormatStatus(nil, nil)), test.ShouldEqual, "")
}

func TestOpenLoopEmitsImmediately(t *testing.T) {
	h := newHarness(t, testConfig(control.ModeOpenLoop), logging.NewTestLogger(t))

	// R/r = 5.093 rad/s is 48.6 rpm on every wheel.
	test.That(t, h.base.ApplyVelocityCommand(0, 0, 1), test.ShouldBeNil)
	for _, id := range []int{1, 2, 3} {
		h.waitLast(t, id, control.Command{Direction: control.Forward, Magnitude: 49})
	}

	// 1 m/s along x: the front wheel idles and the others spin 275.7 rpm in opposite directions.
	test.That(t, h.base.ApplyVelocityCommand(1, 0, 0), test.ShouldBeNil)
	h.waitLast(t, 1, control.Stop)
	h.waitLast(t, 2, control.Command{Direction: control.Reverse, Magnitude: 276})
	h.waitLast(t, 3, control.Command{Direction: control.Forward, Magnitude: 276})

	test.That(t, h.base.Stop(context.Background()), test.ShouldBeNil)
	for _, id := range []int{1, 2, 3} {
		h.waitLast(t, id, control.Stop)
	}
}

func TestClosedLoop(t *testing.T) {
	h := newHarness(t, testConfig(control.ModeClosedLoop), logging.NewTestLogger(t))

	test.That(t, h.base.ApplyVelocityCommand(0, 0, 1), test.ShouldBeNil)
	h.clock.Add(time.Second)
	// Nothing measured yet, so a pure proportional loop outputs the setpoint.
	for _, id := range []int{1, 2, 3} {
		h.waitLast(t, id, control.Command{Direction: control.Forward, Magnitude: 49})
	}

	test.That(t, h.base.Stop(context.Background()), test.ShouldBeNil)
	for _, id := range []int{1, 2, 3} {
		h.waitLast(t, id, control.Stop)
	}
}

func TestSetpoints(t *testing.T) {
	h := newHarness(t, testConfig(control.ModeOpenLoop), logging.NewTestLogger(t))

	test.That(t, h.base.Setpoints(), test.ShouldResemble, []float64{0, 0, 0})

	cmd := base.VelocityCommand{DotX: 0.2, DotY: -0.1, DotTheta: 0.4}
	test.That(t, h.base.ApplyCommand(cmd), test.ShouldBeNil)
	first := h.base.Setpoints()
	for i, omega := range WheelVelocities(cmd, DefaultGeometry()) {
		test.That(t, first[i], test.ShouldAlmostEqual, RadPerSecToRPM(omega))
	}
	test.That(t, h.base.ApplyVelocityCommand(0.2, -0.1, 0.4), test.ShouldBeNil)
	test.That(t, h.base.Setpoints(), test.ShouldResemble, first)

	test.That(t, h.base.ApplyVelocityCommand(0, 0, 0), test.ShouldBeNil)
	test.That(t, h.base.Setpoints(), test.ShouldResemble, []float64{0, 0, 0})
}

func TestFailuresAreLogged(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	h := newHarness(t, testConfig(control.ModeOpenLoop), logger)

	h.actuator.SetError(errors.New("bus fault"))
	h.sink.SetError(errors.New("link down"))
	h.clock.Add(time.Second)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, logs.FilterMessage("failed to set motor speed").Len(), test.ShouldBeGreaterThan, 0)
		test.That(tb, logs.FilterMessage("failed to send telemetry").Len(), test.ShouldBeGreaterThan, 0)
	})

	// The loop keeps running and retries the write that failed.
	h.actuator.SetError(nil)
	h.sink.SetError(nil)
	h.clock.Add(time.Second)
	h.waitLast(t, 1, control.Stop)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, h.sink.Last(), test.ShouldEqual, "1:0;2:0;3:0")
	})
}

func TestClose(t *testing.T) {
	logger := logging.NewTestLogger(t)
	h := newHarness(t, testConfig(control.ModeOpenLoop), logger)

	test.That(t, h.base.ApplyVelocityCommand(0, 0, 1), test.ShouldBeNil)
	h.waitLast(t, 1, control.Command{Direction: control.Forward, Magnitude: 49})

	test.That(t, h.base.Close(context.Background()), test.ShouldBeNil)
	calls := h.actuator.Calls()
	test.That(t, calls[len(calls)-3:], test.ShouldResemble, []fakemotor.Call{
		{WheelID: 1, Command: control.Stop},
		{WheelID: 2, Command: control.Stop},
		{WheelID: 3, Command: control.Stop},
	})
	test.That(t, h.base.ApplyVelocityCommand(1, 0, 0), test.ShouldNotBeNil)

	// Closed decoders no longer listen, so ticking does not block.
	test.That(t, h.board.Digitals["a1"].Tick(context.Background(), true, 1), test.ShouldBeNil)
}
