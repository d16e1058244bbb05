package manager

import (
	"bytes"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/twsync/internal/workq"
	"github.com/srg/twsync/pkg/device"
)

// LinkEventType identifies a link callback from the controller
type LinkEventType uint8

const (
	LinkConnectRequest LinkEventType = iota + 1
	LinkACLConnected
	LinkACLDisconnected
	LinkGetName
	LinkHFConnected
	LinkHFDisconnected
	LinkA2DPConnected
	LinkA2DPDisconnected
	LinkAVRCPConnected
	LinkAVRCPDisconnected
	LinkSPPConnected
	LinkSPPDisconnected
	LinkHIDConnected
	LinkHIDDisconnected
)

var linkEventNames = map[LinkEventType]string{
	LinkConnectRequest:    "connect-request",
	LinkACLConnected:      "acl-connected",
	LinkACLDisconnected:   "acl-disconnected",
	LinkGetName:           "get-name",
	LinkHFConnected:       "hf-connected",
	LinkHFDisconnected:    "hf-disconnected",
	LinkA2DPConnected:     "a2dp-connected",
	LinkA2DPDisconnected:  "a2dp-disconnected",
	LinkAVRCPConnected:    "avrcp-connected",
	LinkAVRCPDisconnected: "avrcp-disconnected",
	LinkSPPConnected:      "spp-connected",
	LinkSPPDisconnected:   "spp-disconnected",
	LinkHIDConnected:      "hid-connected",
	LinkHIDDisconnected:   "hid-disconnected",
}

func (t LinkEventType) String() string {
	if n, ok := linkEventNames[t]; ok {
		return n
	}
	return fmt.Sprintf("link-event(%d)", uint8(t))
}

// LinkEvent is delivered by the controller for every BR/EDR link change
type LinkEvent struct {
	Type    LinkEventType
	Address device.Address
	Name    string // LinkGetName
	IsTWS   bool   // LinkGetName, LinkConnectRequest
	NewDev  bool   // LinkConnectRequest
	Reason  uint8  // LinkACLDisconnected
}

// HandleLinkEvent is the link callback. It runs in controller context: it
// never blocks and only describes the work to be done.
func (m *Manager) HandleLinkEvent(ev LinkEvent) workq.Outcome {
	if ev.Type == LinkConnectRequest {
		who := "Phone"
		if ev.NewDev {
			who = "New"
		} else if ev.IsTWS {
			who = "TWS"
		}
		m.logger.WithField("address", ev.Address).Infof("%s connect request", who)
		return workq.Accepted()
	}
	return workq.Defer(func() { m.ApplyLinkEvent(ev) })
}

// ApplyLinkEvent updates the registry and the status word for ev
func (m *Manager) ApplyLinkEvent(ev LinkEvent) {
	m.logger.WithFields(logrus.Fields{
		"event":   ev.Type.String(),
		"address": ev.Address,
	}).Debug("Link event")

	var out outbox

	m.mu.Lock()
	m.applyLinkEventLocked(ev, &out)
	m.mu.Unlock()

	m.flush(&out)
}

func (m *Manager) applyLinkEventLocked(ev LinkEvent, out *outbox) {
	link := m.registry.Find(ev.Address)
	if link == nil && ev.Type != LinkACLConnected {
		m.logger.WithFields(logrus.Fields{
			"event":   ev.Type.String(),
			"address": ev.Address,
		}).Warn("Link event for unknown device")
		return
	}

	switch ev.Type {
	case LinkACLConnected:
		// registry logs duplicates and a full table; nothing else to do for either
		_, _ = m.registry.Add(ev.Address)
	case LinkACLDisconnected:
		m.checkDisconnectNotifyLocked(link, ev.Reason, out)
		_ = m.registry.Remove(ev.Address)
	case LinkGetName:
		link.Name = ev.Name
		link.IsTWS = ev.IsTWS
	case LinkHFConnected:
		m.notifyConnectedLocked(link, out)
		link.HFConnected = true
	case LinkHFDisconnected:
		link.HFConnected = false
	case LinkA2DPConnected:
		link.A2DPConnected = true
		m.notifyConnectedLocked(link, out)
	case LinkA2DPDisconnected:
		link.A2DPConnected = false
	case LinkAVRCPConnected:
		link.AVRCPConnected = true
	case LinkAVRCPDisconnected:
		link.AVRCPConnected = false
	case LinkSPPConnected:
		link.SPPConnections++
	case LinkSPPDisconnected:
		if link.SPPConnections > 0 {
			link.SPPConnections--
		}
	case LinkHIDConnected:
		link.HIDConnected = true
	case LinkHIDDisconnected:
		link.HIDConnected = false
	}
}

func (m *Manager) notifyConnectedLocked(link *device.Link, out *outbox) {
	if link.IsTWS || link.NotifyConnected {
		return
	}

	m.logger.WithFields(logrus.Fields{
		"address": link.Address,
		"name":    link.Name,
	}).Info("Phone connected")

	link.NotifyConnected = true
	m.setStatusLocked(StatusConnected, out)
	out.phoneRoles = append(out.phoneRoles, link.Address)
}

func (m *Manager) checkDisconnectNotifyLocked(link *device.Link, reason uint8, out *outbox) {
	if link.IsTWS || !link.NotifyConnected {
		return
	}

	m.logger.WithFields(logrus.Fields{
		"address": link.Address,
		"reason":  fmt.Sprintf("0x%02x", reason),
	}).Info("Phone disconnected")

	link.NotifyConnected = false
	m.disconnectReason = reason
	m.setStatusLocked(StatusDisconnected, out)
}

// CheckNewDeviceRole reports whether an incoming device is the TWS peer: its
// high MAC octets must match the configured prefix (when enabled) and its
// name must equal the local device name.
func (m *Manager) CheckNewDeviceRole(addr device.Address, name string) bool {
	if m.cfg.TWS.CompareMAC && m.macPrefix != nil {
		high := addr.HighOctets()
		if !bytes.Equal(high[:], m.macPrefix) {
			return false
		}
	}
	return name == m.cfg.Device.Name
}
