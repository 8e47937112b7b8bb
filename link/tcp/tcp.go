// Package tcp links the drive to an operator station over one TCP connection. The drive dials
// the station; status lines are written as is and commands are read back from the same socket.
//
// Commands are ASCII: "dot_x:<f> dot_y:<f> dot_theta:<f>" or "EMERGENCY_STOP", each <f>
// printed with four decimals. They carry no delimiter, so a command split across reads is
// reassembled from the tail of the previous read.
package tcp

import (
	"context"
	"net"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/omnidrive/components/base"
	"go.viam.com/omnidrive/logging"
)

const (
	defaultDialTimeout   = 3 * time.Second
	defaultWriteTimeout  = time.Second
	defaultRetryInterval = 2 * time.Second
	readBufferSize       = 512
	maxCarry             = 256
)

// Link is a TCP telemetry sink and command source sharing one connection.
type Link struct {
	address       string
	dialer        net.Dialer
	writeTimeout  time.Duration
	retryInterval time.Duration
	logger        logging.Logger

	mu   sync.Mutex
	conn net.Conn
}

// NewLink returns a link to address. Nothing is dialed until the first Send or Serve.
func NewLink(address string, logger logging.Logger) (*Link, error) {
	if _, _, err := net.SplitHostPort(address); err != nil {
		return nil, errors.Wrapf(err, "invalid tcp address %q", address)
	}
	return &Link{
		address:       address,
		dialer:        net.Dialer{Timeout: defaultDialTimeout},
		writeTimeout:  defaultWriteTimeout,
		retryInterval: defaultRetryInterval,
		logger:        logger,
	}, nil
}

func (l *Link) connection(ctx context.Context) (net.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return l.conn, nil
	}
	conn, err := l.dialer.DialContext(ctx, "tcp", l.address)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", l.address)
	}
	l.logger.Infow("connected", "address", l.address)
	l.conn = conn
	return conn, nil
}

// drop closes conn if it is still the current connection.
func (l *Link) drop(conn net.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == conn {
		utils.UncheckedError(conn.Close())
		l.conn = nil
	}
}

// Send writes line to the station, dialing first if needed. A failed write drops the
// connection; the next Send dials again.
func (l *Link) Send(ctx context.Context, line []byte) error {
	conn, err := l.connection(ctx)
	if err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(l.writeTimeout)
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		l.drop(conn)
		return errors.Wrap(err, "failed to set write deadline")
	}
	if _, err := conn.Write(line); err != nil {
		l.drop(conn)
		return errors.Wrapf(err, "failed to send to %s", l.address)
	}
	return nil
}

// Serve reads commands until ctx is done, reconnecting after failures.
func (l *Link) Serve(ctx context.Context, handler func(base.VelocityCommand)) error {
	for {
		conn, err := l.connection(ctx)
		if err == nil {
			err = l.readCommands(ctx, conn, handler)
			l.drop(conn)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.logger.Debugw("command link down, retrying", "address", l.address, "error", err)
		if !utils.SelectContextOrWait(ctx, l.retryInterval) {
			return ctx.Err()
		}
	}
}

func (l *Link) readCommands(ctx context.Context, conn net.Conn, handler func(base.VelocityCommand)) error {
	stop := make(chan struct{})
	defer close(stop)
	utils.PanicCapturingGo(func() {
		select {
		case <-ctx.Done():
			// Unblock the pending Read.
			utils.UncheckedError(conn.SetReadDeadline(time.Now()))
		case <-stop:
		}
	})

	var p Parser
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		for _, cmd := range p.Feed(buf[:n]) {
			handler(cmd)
		}
		if err != nil {
			return errors.Wrap(err, "command read failed")
		}
	}
}

// Close closes the current connection, if any.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}

// The station prints every field with four decimals, so a number cut short by a read never
// matches and stays in the carry.
var commandRE = regexp.MustCompile(
	`dot_x:(-?\d+\.\d{4})\s+dot_y:(-?\d+\.\d{4})\s+dot_theta:(-?\d+\.\d{4})|EMERGENCY_STOP`)

// Parser extracts commands from a delimiter free byte stream.
type Parser struct {
	carry []byte
}

// Feed appends chunk to any unmatched tail and returns the complete commands found, in order.
func (p *Parser) Feed(chunk []byte) []base.VelocityCommand {
	data := append(p.carry, chunk...)
	var cmds []base.VelocityCommand
	end := 0
	for _, m := range commandRE.FindAllSubmatchIndex(data, -1) {
		end = m[1]
		if m[2] < 0 {
			cmds = append(cmds, base.VelocityCommand{})
			continue
		}
		var vals [3]float64
		ok := true
		for i := range vals {
			v, err := strconv.ParseFloat(string(data[m[2+2*i]:m[3+2*i]]), 64)
			if err != nil {
				ok = false
				break
			}
			vals[i] = v
		}
		if ok {
			cmds = append(cmds, base.VelocityCommand{DotX: vals[0], DotY: vals[1], DotTheta: vals[2]})
		}
	}
	rest := data[end:]
	if len(rest) > maxCarry {
		rest = rest[len(rest)-maxCarry:]
	}
	p.carry = append([]byte(nil), rest...)
	return cmds
}
