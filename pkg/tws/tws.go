// Package tws controls the link between the two halves of a true wireless
// stereo pair: role and pairing, the cross-device event channel with its
// BT-clock gated queue, and the runtime hooks the APS monitor uses.
package tws

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/twsync/pkg/aps"
	"github.com/srg/twsync/pkg/manager"
	"github.com/srg/twsync/pkg/stream"
	"github.com/srg/twsync/pkg/tws/protocol"
)

var (
	ErrQueueFull   = errors.New("deferred event queue is full")
	ErrPairTimeout = errors.New("tws pairing timed out")
	ErrNoPeer      = errors.New("no tws peer connected")
)

// MaxDeferredEvents bounds the deferred event queue
const MaxDeferredEvents = 32

// Role is the local role on the TWS link
type Role uint8

const (
	RoleNone Role = iota
	RoleMaster
	RoleSlave
)

func (r Role) String() string {
	switch r {
	case RoleNone:
		return "none"
	case RoleMaster:
		return "master"
	case RoleSlave:
		return "slave"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// ParseRole maps a role name back to its value
func ParseRole(s string) (Role, error) {
	switch s {
	case "none", "":
		return RoleNone, nil
	case "master":
		return RoleMaster, nil
	case "slave":
		return RoleSlave, nil
	}
	return RoleNone, fmt.Errorf("unknown tws role %q", s)
}

// APSRole maps the link role onto the APS monitor role
func (r Role) APSRole() aps.Role {
	switch r {
	case RoleMaster:
		return aps.RoleMaster
	case RoleSlave:
		return aps.RoleSlave
	default:
		return aps.RoleNone
	}
}

// PeerInfo is what the local side knows about the peer. It is reset when the
// TWS link drops.
type PeerInfo struct {
	Version    uint8
	Features   protocol.Feature
	SourceType stream.Type
	SinkMode   protocol.TWSMode
	SinkDRC    protocol.DRCMode
	SinkVolume uint8
}

// Controller is the BT controller surface used by the TWS service
type Controller interface {
	BTClock() uint32
	SendCommand(data []byte) error
	SendCommandSync(ctx context.Context, data []byte) error
	Role() Role

	WaitPair(tries int) error
	CancelWaitPair() error
	CanPair() bool
	IsConnecting() bool
	StopAutoReconnect()
	DisconnectAll()
	DisconnectTWS() error
	ConnectedDeviceCount() int

	UpdateTWSMode(mode protocol.TWSMode, drc protocol.DRCMode)
	SetLocalPlay(bt, local bool)
	SetCodec(codec uint8)
	IsHFPMode() bool

	// RuntimeObserver returns the peer sample exchange while a TWS link is up
	RuntimeObserver() aps.PeerObserver
}

// Media is the local audio policy the service consults
type Media interface {
	StreamVolume(t stream.Type) uint8
	OutputMode() uint8
	SetOutputMode(pos uint8)
}

// StatusSink is the part of the connection state machine the service drives
type StatusSink interface {
	SetStatus(s manager.Status)
	ConnectedPhoneCount() int
}
