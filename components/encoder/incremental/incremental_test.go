package incremental

import (
	"context"
	"testing"

	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	fakeboard "go.viam.com/omnidrive/components/board/fake"
	"go.viam.com/omnidrive/components/encoder"
	"go.viam.com/omnidrive/logging"
)

type levels struct{ a, b bool }

var allStates = []levels{{false, false}, {false, true}, {true, false}, {true, true}}

func stateOf(l levels) uint32 {
	return levelsToState(l.a, l.b)
}

// forward pairs written AB: 00->01, 01->11, 11->10, 10->00.
var forward = map[[2]uint32]bool{
	{0b00, 0b01}: true,
	{0b01, 0b11}: true,
	{0b11, 0b10}: true,
	{0b10, 0b00}: true,
}

func newDecoder(t *testing.T, policy encoder.DecodePolicy) (*Decoder, *encoder.CountReader) {
	t.Helper()
	counter, reader := encoder.NewChannel(1)
	d, err := NewDecoder(counter, policy, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return d, reader
}

func TestLegacyEveryPair(t *testing.T) {
	for _, from := range allStates {
		for _, to := range allStates {
			d, reader := newDecoder(t, encoder.PolicyLegacy)
			d.Edge(from.a, from.b)
			reader.ReadAndClear()

			d.Edge(to.a, to.b)
			expected := int64(-1)
			if forward[[2]uint32{stateOf(from), stateOf(to)}] {
				expected = 1
			}
			test.That(t, reader.ReadAndClear(), test.ShouldEqual, expected)
			test.That(t, d.State(), test.ShouldEqual, stateOf(to))
			test.That(t, d.InvalidTransitions(), test.ShouldEqual, int64(0))
		}
	}
}

func TestLegacyFullCycle(t *testing.T) {
	d, reader := newDecoder(t, "")
	test.That(t, d.Policy(), test.ShouldEqual, encoder.PolicyLegacy)

	// Starts at 00; one full forward cycle is four counts.
	d.Edge(false, true)
	d.Edge(true, true)
	d.Edge(true, false)
	d.Edge(false, false)
	test.That(t, reader.Peek(), test.ShouldEqual, int64(4))

	d.Edge(true, false)
	d.Edge(true, true)
	test.That(t, reader.Peek(), test.ShouldEqual, int64(2))
}

func TestTransitionTable(t *testing.T) {
	for _, from := range allStates {
		for _, to := range allStates {
			d, reader := newDecoder(t, encoder.PolicyTransitionTable)
			d.Edge(from.a, from.b)
			reader.ReadAndClear()
			invalidBefore := d.InvalidTransitions()

			d.Edge(to.a, to.b)
			fromState, toState := stateOf(from), stateOf(to)
			count := reader.ReadAndClear()
			invalid := d.InvalidTransitions() - invalidBefore
			switch {
			case forward[[2]uint32{fromState, toState}]:
				test.That(t, count, test.ShouldEqual, int64(1))
				test.That(t, invalid, test.ShouldEqual, int64(0))
			case forward[[2]uint32{toState, fromState}]:
				test.That(t, count, test.ShouldEqual, int64(-1))
				test.That(t, invalid, test.ShouldEqual, int64(0))
			case fromState == toState:
				test.That(t, count, test.ShouldEqual, int64(0))
				test.That(t, invalid, test.ShouldEqual, int64(0))
			default:
				test.That(t, count, test.ShouldEqual, int64(0))
				test.That(t, invalid, test.ShouldEqual, int64(1))
			}
			test.That(t, d.State(), test.ShouldEqual, toState)
		}
	}
}

func TestNewDecoderErrors(t *testing.T) {
	counter, _ := encoder.NewChannel(1)
	_, err := NewDecoder(counter, "gray", logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewDecoder(nil, encoder.PolicyLegacy, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestAttach(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	b := fakeboard.NewBoard(logger)
	a, err := b.DigitalInterruptByName("11")
	test.That(t, err, test.ShouldBeNil)
	bLine, err := b.DigitalInterruptByName("13")
	test.That(t, err, test.ShouldBeNil)

	d, reader := newDecoder(t, encoder.PolicyTransitionTable)
	test.That(t, d.Attach(ctx, a, bLine), test.ShouldBeNil)
	test.That(t, d.Attach(ctx, a, bLine), test.ShouldNotBeNil)

	t.Run("run forward", func(t *testing.T) {
		test.That(t, bLine.Tick(ctx, true, 1), test.ShouldBeNil)
		test.That(t, a.Tick(ctx, true, 2), test.ShouldBeNil)
		testutils.WaitForAssertion(t, func(tb testing.TB) {
			tb.Helper()
			test.That(tb, reader.Peek(), test.ShouldEqual, int64(2))
		})
	})

	t.Run("run backward", func(t *testing.T) {
		test.That(t, a.Tick(ctx, false, 3), test.ShouldBeNil)
		test.That(t, bLine.Tick(ctx, false, 4), test.ShouldBeNil)
		testutils.WaitForAssertion(t, func(tb testing.TB) {
			tb.Helper()
			test.That(tb, reader.Peek(), test.ShouldEqual, int64(0))
		})
	})

	test.That(t, d.Close(), test.ShouldBeNil)
	// Detached: ticks no longer reach the decoder and do not block.
	test.That(t, a.Tick(ctx, true, 5), test.ShouldBeNil)
	test.That(t, reader.Peek(), test.ShouldEqual, int64(0))
}
