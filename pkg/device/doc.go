// Package device tracks the BR/EDR peers currently linked to this device.
//
// The registry is a fixed-capacity table (MaxDevices entries) holding one Link
// per address together with its profile flags:
//   - Created on ACL connect, removed on ACL disconnect
//   - Profile connect/disconnect events flip the per-profile flags
//   - TWS peers are flagged so higher layers can exclude them from phone counts
package device
