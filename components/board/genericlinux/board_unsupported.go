//go:build !linux

package genericlinux

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/omnidrive/components/board"
	"go.viam.com/omnidrive/logging"
)

// DefaultChipDevice is the GPIO character device used when none is configured.
const DefaultChipDevice = "/dev/gpiochip0"

// NewBoard always fails outside Linux.
func NewBoard(ctx context.Context, chipDevice string, logger logging.Logger) (board.Board, error) {
	return nil, errors.New("genericlinux boards are only supported on linux")
}
