package link

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestMemorySink(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySink()
	test.That(t, s.Last(), test.ShouldEqual, "")

	test.That(t, s.Send(ctx, []byte("1:0;2:0;3:0")), test.ShouldBeNil)
	test.That(t, s.Send(ctx, []byte("1:60;2:0;3:0")), test.ShouldBeNil)
	test.That(t, s.Lines(), test.ShouldResemble, []string{"1:0;2:0;3:0", "1:60;2:0;3:0"})
	test.That(t, s.Last(), test.ShouldEqual, "1:60;2:0;3:0")

	s.SetError(errors.New("down"))
	test.That(t, s.Send(ctx, []byte("x")), test.ShouldNotBeNil)
	test.That(t, s.Lines(), test.ShouldHaveLength, 2)
}

func TestSinks(t *testing.T) {
	ctx := context.Background()
	good, bad := NewMemorySink(), NewMemorySink()
	bad.SetError(errors.New("down"))

	sinks := Sinks{bad, good}
	err := sinks.Send(ctx, []byte("1:1"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "down")
	test.That(t, good.Lines(), test.ShouldResemble, []string{"1:1"})
	test.That(t, sinks.Close(), test.ShouldBeNil)
}
