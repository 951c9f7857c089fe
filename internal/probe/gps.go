package probe

import (
	"bufio"
	"io"
	"strings"
	"time"

	"github.com/adrianmo/go-nmea"
)

// GPSFix is the position data gathered from one listening window.
type GPSFix struct {
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Alt        float64 `json:"alt"`
	Speed      float64 `json:"speed_knots"`
	Satellites int     `json:"satellites"`
	Fix        string  `json:"fix"` // "none", "2D" or "3D"
}

// ReadNMEA listens on r for NMEA sentences and accumulates a fix. Returns
// nil if nothing resembling NMEA arrives within the window.
func ReadNMEA(r io.Reader, window time.Duration) *GPSFix {
	scanner := bufio.NewScanner(r)
	fix := &GPSFix{Fix: "none"}

	timeout := time.After(window)
	foundAny := false

	for {
		select {
		case <-timeout:
			if foundAny {
				return fix
			}
			return nil
		default:
			if !scanner.Scan() {
				if foundAny {
					return fix
				}
				return nil
			}
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "$") {
				continue
			}

			foundAny = true
			s, err := nmea.Parse(line)
			if err != nil {
				continue
			}

			switch m := s.(type) {
			case nmea.GGA:
				fix.Lat = m.Latitude
				fix.Lon = m.Longitude
				fix.Alt = m.Altitude
				fix.Satellites = int(m.NumSatellites)
				if m.FixQuality != nmea.Invalid {
					fix.Fix = "3D"
					if m.FixQuality == nmea.GPS {
						fix.Fix = "2D"
					}
				}
			case nmea.RMC:
				fix.Lat = m.Latitude
				fix.Lon = m.Longitude
				fix.Speed = m.Speed
				if m.Validity == "A" && fix.Fix == "none" {
					fix.Fix = "2D"
				}
			case nmea.GSA:
				if m.FixType == "3" {
					fix.Fix = "3D"
				} else if m.FixType == "2" {
					fix.Fix = "2D"
				}
			}
		}
	}
}
