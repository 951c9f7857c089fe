package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"serialportd/internal/agent"
	"serialportd/internal/config"
	"serialportd/internal/daemon"
	"serialportd/pkg/version"
)

const defaultConfigPath = "/etc/serialportd/config.json"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		handleRun()
	case "install":
		handleInstall()
	case "uninstall":
		handleUninstall()
	case "version":
		printVersion()
	default:
		printUsage()
		os.Exit(1)
	}
}

func handleRun() {
	runCmd := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := runCmd.String("config", defaultConfigPath, "Path to configuration file")
	verbose := runCmd.Bool("v", false, "Enable verbose logging")
	runCmd.Parse(os.Args[2:])

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *verbose {
		cfg.Verbose = true
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	agt, err := agent.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create agent: %v", err)
	}
	if err := agt.Start(); err != nil {
		log.Fatalf("Failed to start agent: %v", err)
	}

	log.Println("Serial port daemon started successfully")

	<-sigCh
	log.Println("Received shutdown signal")

	if err := agt.Stop(); err != nil {
		log.Fatalf("Failed to stop agent: %v", err)
	}
	log.Println("Daemon stopped successfully")
}

func handleInstall() {
	installCmd := flag.NewFlagSet("install", flag.ExitOnError)
	configPath := installCmd.String("config", defaultConfigPath, "Path to configuration file")
	installCmd.Parse(os.Args[2:])

	// Write a default configuration if none exists, so the service has a
	// stable agent ID from the first boot.
	if _, err := os.Stat(*configPath); os.IsNotExist(err) {
		cfg := config.Default()
		if err := cfg.SaveToFile(*configPath); err != nil {
			log.Printf("Warning: could not write default configuration: %v", err)
		}
	}

	if err := daemon.SetupService(*configPath); err != nil {
		log.Fatalf("Failed to install service: %v", err)
	}
	log.Println("Service installed and started")
}

func handleUninstall() {
	uninstallCmd := flag.NewFlagSet("uninstall", flag.ExitOnError)
	configPath := uninstallCmd.String("config", defaultConfigPath, "Path to configuration file")
	uninstallCmd.Parse(os.Args[2:])

	if err := daemon.RemoveService(*configPath); err != nil {
		log.Fatalf("Failed to uninstall service: %v", err)
	}
	log.Println("Service uninstalled")
}

func printVersion() {
	fmt.Printf("%s (%s, built %s)\n", version.Version, version.Commit, version.BuildDate)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [arguments]\n", os.Args[0])
	fmt.Fprintln(os.Stderr, "\nAvailable commands:")
	fmt.Fprintln(os.Stderr, "  run        Run the daemon in the foreground")
	fmt.Fprintln(os.Stderr, "  install    Install and start the system service")
	fmt.Fprintln(os.Stderr, "  uninstall  Stop and remove the system service")
	fmt.Fprintln(os.Stderr, "  version    Show version information")
}
