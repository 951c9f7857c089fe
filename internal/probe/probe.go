// Package probe identifies what kind of device is attached to an open
// serial port by listening for NMEA sentences and by speaking AT commands.
package probe

import (
	"io"
	"time"
)

// Kind classifies the attached device.
type Kind string

const (
	KindGPS     Kind = "gps"
	KindModem   Kind = "modem"
	KindUnknown Kind = "unknown"
)

// Result is the outcome of probing one port.
type Result struct {
	Kind  Kind           `json:"kind"`
	GPS   *GPSFix        `json:"gps,omitempty"`
	Modem *ModemIdentity `json:"modem,omitempty"`
}

// Identify probes the port. GPS receivers stream unprompted, so a passive
// listen comes first; only then is the port poked with AT commands.
func Identify(rw io.ReadWriter, window time.Duration) *Result {
	if fix := ReadNMEA(rw, window); fix != nil {
		return &Result{Kind: KindGPS, GPS: fix}
	}
	if id := QueryModem(rw, window); id != nil {
		return &Result{Kind: KindModem, Modem: id}
	}
	return &Result{Kind: KindUnknown}
}
