// Package timing implements the synchronization protocol between the
// lifecycle controller and the embedded test content: content resolution
// and the one-way message channel carrying measurement payloads.
package timing

import (
	"errors"
	"fmt"
)

// ErrUnknownMode is returned by ParseMode for unsupported names.
var ErrUnknownMode = errors.New("unknown measurement mode")

// Mode selects how a run's interval is bounded.
type Mode string

const (
	// ModeUser bounds the interval by two user toggles.
	ModeUser Mode = "user"
	// ModeContent stops on user toggle, then waits for the content to post
	// back a measurement payload.
	ModeContent Mode = "content"
)

// ParseMode validates a mode name. An empty name yields ModeUser.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeUser:
		return ModeUser, nil
	case ModeContent:
		return ModeContent, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownMode, s)
	}
}

// String returns the mode name.
func (m Mode) String() string {
	return string(m)
}
