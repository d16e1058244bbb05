// Package event defines the messages exchanged between the Bluetooth manager,
// the TWS channel and the application threads.
package event

import "fmt"

// TargetMain is the application thread that receives system and BT events
const TargetMain = "main"

// Kind is the message type
type Kind uint8

const (
	KindSysEvent Kind = iota + 1
	KindBTEvent
	KindInput
	KindVolumeSync
	KindBatterySync
	KindTWSEvent
)

func (k Kind) String() string {
	switch k {
	case KindSysEvent:
		return "sys"
	case KindBTEvent:
		return "bt"
	case KindInput:
		return "input"
	case KindVolumeSync:
		return "volume"
	case KindBatterySync:
		return "battery"
	case KindTWSEvent:
		return "tws"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// System events surfaced to the UI layer
const (
	SysEventBTConnected uint32 = iota + 1
	SysEvent2ndConnected
	SysEventBTDisconnected
	SysEventBTUnlinked
	SysEventTWSConnected
	SysEventTWSDisconnected
	SysEventTWSStartPair
	SysEventTWSPairFailed
	SysEventClearPairedList
	SysEventPowerOff
	SysEventBTEngineReady
)

// Bluetooth events. Values follow the firmware numbering so they can be
// relayed to a peer unchanged.
const (
	BTConnectionEvent        uint32 = 2
	BTDisconnectionEvent     uint32 = 3
	BTA2DPStreamStartEvent   uint32 = 6
	BTA2DPStreamSuspendEvent uint32 = 7
	BTRemoteVolumeSyncEvent  uint32 = 33
	BTTWSConnectionEvent     uint32 = 34
	BTTWSDisconnectionEvent  uint32 = 35
	BTTWSChannelModeSwitch   uint32 = 36
	BTReqRestartPlay         uint32 = 37

	// Transferred between TWS firmware versions; never renumber.
	BTTWSStartPlay uint32 = 0xE0
	BTTWSStopPlay  uint32 = 0xE1
)

// Message is one application message
type Message struct {
	Kind    Kind
	Cmd     uint32
	Value   uint32
	Payload []byte

	// Reply is set by synchronous callers and consumed by the receiver
	Reply chan<- Message
}

func (m Message) String() string {
	return fmt.Sprintf("%s cmd=0x%x value=0x%x len=%d", m.Kind, m.Cmd, m.Value, len(m.Payload))
}

// Sink accepts asynchronous messages for a named target
type Sink interface {
	SendAsync(target string, msg Message) error
}

// SysMessage builds a system event message
func SysMessage(ev uint32) Message {
	return Message{Kind: KindSysEvent, Cmd: ev}
}

// BTMessage builds a Bluetooth event message
func BTMessage(ev uint32, payload []byte) Message {
	return Message{Kind: KindBTEvent, Cmd: ev, Payload: payload}
}
