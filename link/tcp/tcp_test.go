package tcp

import (
	"context"
	"net"
	"sync"
	"testing"

	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"go.viam.com/omnidrive/components/base"
	"go.viam.com/omnidrive/logging"
)

func TestParser(t *testing.T) {
	var p Parser

	cmds := p.Feed([]byte("dot_x:0.1000 dot_y:-0.2000 dot_theta:1.5000"))
	test.That(t, cmds, test.ShouldResemble, []base.VelocityCommand{{DotX: 0.1, DotY: -0.2, DotTheta: 1.5}})

	t.Run("split across reads", func(t *testing.T) {
		test.That(t, p.Feed([]byte("dot_x:0.5000 dot_y:0.0")), test.ShouldBeEmpty)
		cmds := p.Feed([]byte("000 dot_theta:0.0000EMERGENCY_STOP"))
		test.That(t, cmds, test.ShouldResemble, []base.VelocityCommand{{DotX: 0.5}, {}})
	})

	t.Run("split inside a number", func(t *testing.T) {
		var p Parser
		test.That(t, p.Feed([]byte("dot_x:0.1000 dot_y:0.0000 dot_theta:1.")), test.ShouldBeEmpty)
		cmds := p.Feed([]byte("5000"))
		test.That(t, cmds, test.ShouldResemble, []base.VelocityCommand{{DotX: 0.1, DotTheta: 1.5}})

		test.That(t, p.Feed([]byte("dot_x:-0")), test.ShouldBeEmpty)
		test.That(t, p.Feed([]byte(".25")), test.ShouldBeEmpty)
		cmds = p.Feed([]byte("00 dot_y:2.0000 dot_theta:0.0000"))
		test.That(t, cmds, test.ShouldResemble, []base.VelocityCommand{{DotX: -0.25, DotY: 2}})
	})

	t.Run("garbage is dropped", func(t *testing.T) {
		test.That(t, p.Feed([]byte("Set PID")), test.ShouldBeEmpty)
		cmds := p.Feed([]byte("MOTOR_1_SPEED:30dot_x:0.0000 dot_y:1.0000 dot_theta:0.0000"))
		test.That(t, cmds, test.ShouldResemble, []base.VelocityCommand{{DotY: 1}})
		test.That(t, p.carry, test.ShouldBeEmpty)
	})

	t.Run("carry is bounded", func(t *testing.T) {
		junk := make([]byte, 4*maxCarry)
		for i := range junk {
			junk[i] = 'z'
		}
		test.That(t, p.Feed(junk), test.ShouldBeEmpty)
		test.That(t, len(p.carry), test.ShouldEqual, maxCarry)
	})
}

func TestNewLinkRejectsBadAddress(t *testing.T) {
	_, err := NewLink("no-port", logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestLinkRoundTrip(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	test.That(t, err, test.ShouldBeNil)
	defer listener.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	l, err := NewLink(listener.Addr().String(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	test.That(t, l.Send(ctx, []byte("1:60;2:0;3:-12")), test.ShouldBeNil)

	station := <-accepted
	defer station.Close()
	buf := make([]byte, 64)
	n, err := station.Read(buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(buf[:n]), test.ShouldEqual, "1:60;2:0;3:-12")

	var mu sync.Mutex
	var got []base.VelocityCommand
	served := make(chan error, 1)
	go func() {
		served <- l.Serve(ctx, func(cmd base.VelocityCommand) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, cmd)
		})
	}()

	_, err = station.Write([]byte("dot_x:0.2000 dot_y:0.0000 dot_theta:0.0000"))
	test.That(t, err, test.ShouldBeNil)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		mu.Lock()
		defer mu.Unlock()
		test.That(tb, got, test.ShouldResemble, []base.VelocityCommand{{DotX: 0.2}})
	})

	cancel()
	test.That(t, <-served, test.ShouldEqual, context.Canceled)
	test.That(t, l.Close(), test.ShouldBeNil)
}
