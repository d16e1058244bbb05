package tws

import (
	"bytes"

	"github.com/sirupsen/logrus"
	"github.com/srg/twsync/pkg/device"
)

// DiscoverResult is one device found during TWS discovery
type DiscoverResult struct {
	Address  device.Address
	Name     string
	DeviceID []byte
	RSSI     int8
}

// DiscoverCheckDevice reports whether a discovered device may become the TWS
// peer. The name must equal the local device name; MAC prefix and device id
// are compared when configured.
func (s *Service) DiscoverCheckDevice(r *DiscoverResult) bool {
	if r == nil || r.Name == "" {
		return false
	}

	log := s.logger.WithFields(logrus.Fields{
		"address": r.Address,
		"name":    r.Name,
		"rssi":    r.RSSI,
	})

	if s.cfg.TWS.CompareMAC && s.prefix != nil {
		high := r.Address.HighOctets()
		if !bytes.Equal(high[:], s.prefix) {
			log.Debug("Discovered device MAC prefix mismatch")
			return false
		}
	}

	if r.Name != s.cfg.Device.Name {
		log.Debug("Discovered device name mismatch")
		return false
	}

	if s.cfg.TWS.CompareDevice && s.deviceID != nil && !bytes.Equal(r.DeviceID, s.deviceID) {
		log.Debug("Discovered device id mismatch")
		return false
	}

	log.Info("Discovered tws candidate")
	return true
}
