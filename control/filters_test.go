package control

import (
	"math"
	"testing"

	"go.viam.com/test"
)

func TestButterworthCoefficients(t *testing.T) {
	f, err := NewFilter(FilterConfig{Type: FilterButterworth, CutoffHz: 0.8}, 50)
	test.That(t, err, test.ShouldBeNil)
	bw := f.(*butterworthFilter)

	k := math.Tan(math.Pi * 0.8 / 50)
	test.That(t, bw.b0, test.ShouldAlmostEqual, k/(1+k))
	test.That(t, bw.b1, test.ShouldAlmostEqual, bw.b0)
	test.That(t, bw.a1, test.ShouldAlmostEqual, (k-1)/(k+1))
	// Unity gain at DC.
	test.That(t, (bw.b0+bw.b1)/(1+bw.a1), test.ShouldAlmostEqual, 1.0)
}

func TestButterworthStep(t *testing.T) {
	f, err := NewFilter(FilterConfig{CutoffHz: 0.8}, 50)
	test.That(t, err, test.ShouldBeNil)

	var y float64
	prev := 0.0
	for i := 0; i < 500; i++ {
		y, _ = f.Next(100)
		test.That(t, y, test.ShouldBeGreaterThanOrEqualTo, prev)
		prev = y
	}
	test.That(t, y, test.ShouldAlmostEqual, 100, 0.01)

	f.Clear(42)
	y, ok := f.Next(42)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, y, test.ShouldAlmostEqual, 42)

	test.That(t, f.Reset(), test.ShouldBeNil)
	y, _ = f.Next(0)
	test.That(t, y, test.ShouldEqual, 0.0)
}

func TestButterworthRejectsBadCutoff(t *testing.T) {
	_, err := NewFilter(FilterConfig{Type: FilterButterworth, CutoffHz: 0.8}, 1)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "cutoff")
	_, err = NewFilter(FilterConfig{Type: FilterButterworth}, 50)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewFilter(FilterConfig{Type: FilterButterworth, CutoffHz: 0.8}, 0)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestMovingAverage(t *testing.T) {
	f, err := NewFilter(FilterConfig{Type: FilterMovingAverage, Size: 3}, 1)
	test.That(t, err, test.ShouldBeNil)

	y, ok := f.Next(3)
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, y, test.ShouldEqual, 3.0)
	y, ok = f.Next(6)
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, y, test.ShouldEqual, 4.5)
	y, ok = f.Next(9)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, y, test.ShouldEqual, 6.0)
	y, _ = f.Next(12)
	test.That(t, y, test.ShouldEqual, 9.0)

	f.Clear(10)
	y, ok = f.Next(10)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, y, test.ShouldEqual, 10.0)

	_, err = NewFilter(FilterConfig{Type: FilterMovingAverage}, 1)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestOtherFilters(t *testing.T) {
	f, err := NewFilter(FilterConfig{Type: FilterNone}, 1)
	test.That(t, err, test.ShouldBeNil)
	y, ok := f.Next(7)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, y, test.ShouldEqual, 7.0)

	_, err = NewFilter(FilterConfig{Type: "chebyshev"}, 1)
	test.That(t, err, test.ShouldNotBeNil)
}
