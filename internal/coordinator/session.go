package coordinator

import (
	"errors"
	"time"

	"github.com/idleonweb/idleonweb/internal/bridge"
	"github.com/idleonweb/idleonweb/internal/bundle"
)

var (
	// ErrBridgeLost is returned once a session loss was confirmed by the
	// health watcher.
	ErrBridgeLost = errors.New("bridge-lost")
	// ErrNotConnected is returned by operations that need a connected session.
	ErrNotConnected = errors.New("session is not connected")
	// ErrBusy is returned when an operation is not allowed in the current state.
	ErrBusy = errors.New("session is busy")
	// ErrClosed is returned after the coordinator was closed.
	ErrClosed = errors.New("coordinator is closed")
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusLoading      Status = "loading"
	StatusConnected    Status = "connected"
	StatusReloading    Status = "reloading"
	StatusError        Status = "error"
)

// Session is the coordinator's view of the attached tab. Values are
// snapshots; the coordinator never mutates a Session it handed out.
type Session struct {
	// ID changes with every successful inject.
	ID string `json:"id"`
	// TargetID is the CDP target of the bound tab. Reload keeps it.
	TargetID   string    `json:"session_id"`
	Status     Status    `json:"status"`
	LastReason string    `json:"last_reason"`
	Since      time.Time `json:"since"`
}

func (s Session) Connected() bool { return s.Status == StatusConnected }

var reasonKinds = []error{
	bundle.ErrConflict,
	bridge.ErrNoTabs,
	bridge.ErrInject,
	bridge.ErrEval,
	bridge.ErrNoBrowser,
}

// reasonOf maps an error to the short reason shown to front-ends.
func reasonOf(err error) string {
	for _, k := range reasonKinds {
		if errors.Is(err, k) {
			return k.Error()
		}
	}
	return err.Error()
}
