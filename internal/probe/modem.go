package probe

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

// ModemIdentity is what an AT-speaking modem reports about itself.
type ModemIdentity struct {
	Model        string `json:"model"`
	IMEI         string `json:"imei"`
	IMSI         string `json:"imsi"`
	Operator     string `json:"operator"`
	Tech         string `json:"tech"`
	Registration string `json:"registration"`
	SignalDBm    int    `json:"signal_dbm"`
}

// QueryModem interrogates the port with a fixed AT command sequence.
// Returns nil if the far end never answers like a modem.
func QueryModem(rw io.ReadWriter, perCommand time.Duration) *ModemIdentity {
	scanner := bufio.NewScanner(rw)

	// Send one command and collect reply lines until OK/ERROR or timeout.
	sendCmd := func(cmd string) []string {
		if _, err := rw.Write([]byte(cmd + "\r\n")); err != nil {
			return nil
		}
		var lines []string
		timeout := time.After(perCommand)
		for {
			select {
			case <-timeout:
				return lines
			default:
				if !scanner.Scan() {
					return lines
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "OK" || line == "ERROR" {
					return lines
				}
				if line != "" && line != cmd {
					lines = append(lines, line)
				}
			}
		}
	}

	id := &ModemIdentity{}

	if lines := sendCmd("ATI"); len(lines) > 0 {
		id.Model = strings.Join(lines, " ")
	}
	if lines := sendCmd("AT+GSN"); len(lines) > 0 {
		id.IMEI = lines[0]
	}
	if lines := sendCmd("AT+CIMI"); len(lines) > 0 {
		id.IMSI = lines[0]
	}

	if lines := sendCmd("AT+CSQ"); len(lines) > 0 && strings.HasPrefix(lines[0], "+CSQ: ") {
		parts := strings.Split(strings.TrimPrefix(lines[0], "+CSQ: "), ",")
		if len(parts) > 0 {
			if csq, err := strconv.Atoi(parts[0]); err == nil && csq > 0 {
				// CSQ 0 = -113 dBm, CSQ 31 = -51 dBm
				id.SignalDBm = -113 + csq*2
			}
		}
	}

	if lines := sendCmd("AT+COPS?"); len(lines) > 0 && strings.HasPrefix(lines[0], "+COPS: ") {
		parts := strings.Split(lines[0], ",")
		if len(parts) >= 3 {
			id.Operator = strings.Trim(parts[2], "\"")
		}
		if len(parts) >= 4 {
			switch parts[3] {
			case "0":
				id.Tech = "GSM"
			case "2":
				id.Tech = "UMTS"
			case "7":
				id.Tech = "LTE"
			case "11":
				id.Tech = "NR5G"
			default:
				id.Tech = "Unknown"
			}
		}
	}

	if lines := sendCmd("AT+CREG?"); len(lines) > 0 && strings.HasPrefix(lines[0], "+CREG: ") {
		parts := strings.Split(lines[0], ",")
		if len(parts) >= 2 {
			switch parts[1] {
			case "1":
				id.Registration = "Home"
			case "5":
				id.Registration = "Roaming"
			default:
				id.Registration = "Not Registered"
			}
		}
	}

	if id.IMEI == "" && id.Model == "" {
		return nil
	}
	return id
}
