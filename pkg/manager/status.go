package manager

import (
	"fmt"
	"strings"
)

// Status is the externally observed Bluetooth status word.
//
// The connection group, the playback group and the call group are each
// mutually exclusive; the TWS sub-state is tracked independently and ORed in
// by Manager.StatusWord.
type Status uint32

const (
	StatusPaused     Status = 0x0001
	StatusPlaying    Status = 0x0002
	StatusIncoming   Status = 0x0004
	StatusOutgoing   Status = 0x0008
	StatusOngoing    Status = 0x0010
	StatusMultiparty Status = 0x0020
	StatusSiri       Status = 0x0040
	Status3WayIn     Status = 0x0080

	StatusNone           Status = 0x0100
	StatusWaitPair       Status = 0x0200
	StatusConnected      Status = 0x0400
	StatusDisconnected   Status = 0x0800
	StatusTwsWaitPair    Status = 0x1000
	StatusTwsPaired      Status = 0x2000
	StatusTwsUnpaired    Status = 0x4000
	StatusMasterWaitPair Status = 0x8000
)

// Group masks
const (
	PlaybackGroup   = StatusPaused | StatusPlaying
	CallGroup       = StatusIncoming | StatusOutgoing | StatusOngoing | StatusMultiparty | StatusSiri | Status3WayIn
	ConnectionGroup = StatusNone | StatusWaitPair | StatusConnected | StatusDisconnected | StatusMasterWaitPair
	TWSGroup        = StatusTwsWaitPair | StatusTwsPaired | StatusTwsUnpaired
)

var statusNames = []struct {
	bit  Status
	name string
}{
	{StatusPaused, "paused"},
	{StatusPlaying, "playing"},
	{StatusIncoming, "incoming"},
	{StatusOutgoing, "outgoing"},
	{StatusOngoing, "ongoing"},
	{StatusMultiparty, "multiparty"},
	{StatusSiri, "siri"},
	{Status3WayIn, "3way-in"},
	{StatusNone, "none"},
	{StatusWaitPair, "wait-pair"},
	{StatusConnected, "connected"},
	{StatusDisconnected, "disconnected"},
	{StatusTwsWaitPair, "tws-wait-pair"},
	{StatusTwsPaired, "tws-paired"},
	{StatusTwsUnpaired, "tws-unpaired"},
	{StatusMasterWaitPair, "master-wait-pair"},
}

func (s Status) String() string {
	if s == 0 {
		return "0"
	}
	var parts []string
	rest := s
	for _, n := range statusNames {
		if s&n.bit != 0 {
			parts = append(parts, n.name)
			rest &^= n.bit
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}
