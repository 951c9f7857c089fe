package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"serialportd/internal/ipc"
	"serialportd/internal/probe"
	"serialportd/internal/serialport"
	"serialportd/pkg/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "list":
		handleList()
	case "watch":
		handleWatch()
	case "open":
		handleOpen()
	case "probe":
		handleProbe()
	case "dump":
		handleDump()
	case "status":
		handleStatus()
	case "version":
		fmt.Printf("%s (%s, built %s)\n", version.Version, version.Commit, version.BuildDate)
	default:
		printUsage()
		os.Exit(1)
	}
}

func handleList() {
	listCmd := flag.NewFlagSet("list", flag.ExitOnError)
	asJSON := listCmd.Bool("json", false, "Emit the port list as JSON")
	listCmd.Parse(os.Args[2:])

	ports, err := ipc.List()
	if err != nil {
		log.Fatalf("Failed to list ports: %v", err)
	}

	if *asJSON || !term.IsTerminal(int(os.Stdout.Fd())) {
		if err := json.NewEncoder(os.Stdout).Encode(ports); err != nil {
			log.Fatalf("Failed to encode port list: %v", err)
		}
		return
	}

	fmt.Printf("%-12s %-10s %-14s %-10s %-10s\n", "NAME", "SUBSYSTEM", "DRIVER TYPE", "VENDOR", "PRODUCT")
	for _, p := range ports {
		fmt.Printf("%-12s %-10s %-14s %-10s %-10s\n",
			p.Name, p.Subsystem, p.DriverType, formatID(p.VendorID), formatID(p.ProductID))
	}
}

func formatID(id int32) string {
	if id == serialport.UnknownID {
		return "-"
	}
	return fmt.Sprintf("%04x", id)
}

func handleWatch() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := ipc.Watch(ctx, uuid.New().String(), func(ev ipc.PortEvent) {
		fmt.Printf("%-12s %s\n", ev.Event, ev.Port)
	})
	if err != nil {
		log.Fatalf("Watch failed: %v", err)
	}
}

// handleOpen asks the daemon for the port descriptor and wires it to the
// terminal, raw mode while attached.
func handleOpen() {
	openCmd := flag.NewFlagSet("open", flag.ExitOnError)
	exclusive := openCmd.Bool("exclusive", false, "Lock out other opens while attached")
	openCmd.Parse(os.Args[2:])

	if len(openCmd.Args()) != 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s open [-exclusive] <port-name>\n", os.Args[0])
		os.Exit(1)
	}
	name := openCmd.Args()[0]

	port, err := ipc.OpenPort(name, os.O_RDWR, *exclusive)
	if err != nil {
		log.Fatalf("Failed to open %s: %v", name, err)
	}
	defer port.Close()

	stdin := int(os.Stdin.Fd())
	if term.IsTerminal(stdin) {
		oldState, err := term.MakeRaw(stdin)
		if err != nil {
			log.Fatalf("Failed to set raw mode: %v", err)
		}
		defer term.Restore(stdin, oldState)
	}

	go io.Copy(os.Stdout, port)
	io.Copy(port, os.Stdin)
}

// handleProbe opens a port through the daemon and tries to identify the
// attached device.
func handleProbe() {
	probeCmd := flag.NewFlagSet("probe", flag.ExitOnError)
	window := probeCmd.Duration("window", 2*time.Second, "How long to listen per probe stage")
	probeCmd.Parse(os.Args[2:])

	if len(probeCmd.Args()) != 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s probe [-window 2s] <port-name>\n", os.Args[0])
		os.Exit(1)
	}
	name := probeCmd.Args()[0]

	port, err := ipc.OpenPort(name, os.O_RDWR, false)
	if err != nil {
		log.Fatalf("Failed to open %s: %v", name, err)
	}
	defer port.Close()

	res := probe.Identify(port, *window)
	switch res.Kind {
	case probe.KindGPS:
		fmt.Printf("%s: GPS receiver (fix %s, %d satellites, %.5f %.5f)\n",
			name, res.GPS.Fix, res.GPS.Satellites, res.GPS.Lat, res.GPS.Lon)
	case probe.KindModem:
		fmt.Printf("%s: modem %s (IMEI %s, %s %s, %d dBm)\n",
			name, res.Modem.Model, res.Modem.IMEI, res.Modem.Operator, res.Modem.Tech, res.Modem.SignalDBm)
	default:
		fmt.Printf("%s: no recognizable device\n", name)
	}
}

func handleDump() {
	if err := ipc.Dump(os.Stdout); err != nil {
		log.Fatalf("Failed to dump registry: %v", err)
	}
}

func handleStatus() {
	st, err := ipc.GetStatus()
	if err != nil {
		log.Fatalf("Failed to get status: %v", err)
	}
	fmt.Printf("Agent ID:  %s\n", st.AgentID)
	fmt.Printf("Version:   %s\n", st.Version)
	fmt.Printf("PID:       %d\n", st.PID)
	fmt.Printf("Ports:     %d\n", st.Ports)
	fmt.Printf("Uptime:    %ds\n", st.UptimeSeconds)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [arguments]\n", os.Args[0])
	fmt.Fprintln(os.Stderr, "\nAvailable commands:")
	fmt.Fprintln(os.Stderr, "  list     List registered serial ports")
	fmt.Fprintln(os.Stderr, "  watch    Stream port connect/disconnect events")
	fmt.Fprintln(os.Stderr, "  open     Attach the terminal to a port")
	fmt.Fprintln(os.Stderr, "  probe    Identify the device attached to a port")
	fmt.Fprintln(os.Stderr, "  dump     Print the daemon's diagnostic registry dump")
	fmt.Fprintln(os.Stderr, "  status   Show daemon status")
	fmt.Fprintln(os.Stderr, "  version  Show version information")
}
