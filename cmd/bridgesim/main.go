// cmd/bridgesim/main.go
// Copyright(c) 2025 bridgesim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// bridgesim runs the bridge simulation server or a simple terminal
// client for it.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/bridgesim/bridgesim/client"
	"github.com/bridgesim/bridgesim/log"
	"github.com/bridgesim/bridgesim/server"
	"github.com/bridgesim/bridgesim/sim"
	"github.com/bridgesim/bridgesim/station"
)

var (
	logLevel          = flag.String("loglevel", "info", "logging level: debug, info, warn, error")
	logDir            = flag.String("logdir", "", "log file directory")
	runServer         = flag.Bool("runserver", false, "run the bridge simulation server")
	serverPort        = flag.Int("port", server.DefaultServerPort, "port to listen on when running server")
	httpPort          = flag.Int("httpport", server.DefaultHTTPPort, "port for the HTTP status server (0 disables it)")
	serverAddress     = flag.String("server", net.JoinHostPort("localhost", strconv.Itoa(server.DefaultServerPort)), "address of the server to connect to")
	scenarioFilename  = flag.String("scenario", "", "filename of JSON file with a scenario definition")
	sessionTimeout    = flag.Duration("timeout", 0, "session inactivity timeout (default 5m)")
	multiClaim        = flag.Bool("multiclaim", false, "allow one client to hold multiple stations")
	clientName        = flag.String("name", "", "client name to sign on with (default: username)")
	shipID            = flag.String("ship", "", "ship to join on connect")
	stationName       = flag.String("station", "", "station to claim on connect")
	broadcastMessage  = flag.String("broadcast", "", "message to broadcast to all active clients on the server")
	broadcastPassword = flag.String("password", "", "password to authenticate with server for broadcast message")
)

func main() {
	flag.Parse()

	lg := log.New(*runServer, *logLevel, *logDir)
	defer lg.CatchAndReportCrash()

	if *serverAddress != "" && !strings.Contains(*serverAddress, ":") {
		*serverAddress = net.JoinHostPort(*serverAddress, strconv.Itoa(server.DefaultServerPort))
	}

	if *runServer {
		server.LaunchServer(server.ServerLaunchConfig{
			Port:                *serverPort,
			HTTPPort:            *httpPort,
			ScenarioFile:        *scenarioFilename,
			SessionTimeout:      *sessionTimeout,
			AllowMultipleClaims: *multiClaim,
		}, lg)
		return
	}

	if *broadcastMessage != "" {
		c, err := client.Dial(*serverAddress, "admin", lg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", *serverAddress, err)
			os.Exit(1)
		}
		defer c.Close()

		if err := c.Broadcast(*broadcastPassword, *broadcastMessage); err != nil {
			fmt.Fprintf(os.Stderr, "broadcast: %v\n", err)
			os.Exit(1)
		}
		return
	}

	runTerminalClient(lg)
}

// runTerminalClient connects to the server and turns stdin lines into
// commands: management commands by name ("claim helm", "ships",
// "status", "state") and station commands as "cmd key=value ...".
func runTerminalClient(lg *log.Logger) {
	name := *clientName
	if name == "" {
		if u := os.Getenv("USER"); u != "" {
			name = u
		} else {
			name = "crew"
		}
	}

	c, err := client.Dial(*serverAddress, name, lg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", *serverAddress, err)
		os.Exit(1)
	}
	defer c.Close()

	fmt.Printf("Connected to %s as %q\n", *serverAddress, name)

	if *shipID != "" {
		if err := c.AssignShip(sim.ShipID(*shipID)); err != nil {
			fmt.Fprintf(os.Stderr, "join %s: %v\n", *shipID, err)
			os.Exit(1)
		}
		fmt.Printf("Joined ship %s\n", *shipID)
	}
	if *stationName != "" {
		st, ok := station.Parse(*stationName)
		if !ok {
			fmt.Fprintf(os.Stderr, "%s: unknown station\n", *stationName)
			os.Exit(1)
		}
		if err := c.ClaimStation(st); err != nil {
			fmt.Fprintf(os.Stderr, "claim %s: %v\n", st, err)
			os.Exit(1)
		}
		fmt.Printf("Claimed %s station\n", st)
	}

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		if err := runCommand(c, strings.Fields(scanner.Text())); err != nil {
			fmt.Printf("error: %v\n", err)
		}
		fmt.Print("> ")
	}
}

func runCommand(c *client.Client, words []string) error {
	if len(words) == 0 {
		return nil
	}

	arg := func(i int) string {
		if i < len(words) {
			return words[i]
		}
		return ""
	}

	switch words[0] {
	case "help":
		fmt.Println(`join <ship>, claim <station>, release [station], force-release <station>,
ships, status, fleet, state, quit, or a station command as "cmd key=value ..."`)
		return nil

	case "join":
		return c.AssignShip(sim.ShipID(arg(1)))

	case "claim":
		st, ok := station.Parse(arg(1))
		if !ok {
			return fmt.Errorf("%q: unknown station", arg(1))
		}
		return c.ClaimStation(st)

	case "release":
		return c.ReleaseStation(station.Type(arg(1)))

	case "force-release":
		st, ok := station.Parse(arg(1))
		if !ok {
			return fmt.Errorf("%q: unknown station", arg(1))
		}
		return c.ForceRelease(st)

	case "ships":
		ships, err := c.ListShips()
		if err != nil {
			return err
		}
		for _, s := range ships {
			fmt.Printf("  %-12s %s (%s)\n", s.ID, s.Name, s.Class)
		}
		return nil

	case "status":
		status, err := c.MyStatus()
		if err != nil {
			return err
		}
		fmt.Printf("  %v\n", status)
		return nil

	case "fleet":
		fleet, err := c.FleetStatus()
		if err != nil {
			return err
		}
		for _, ss := range fleet {
			fmt.Printf("  %s: %v\n", ss.Ship, ss.Stations)
		}
		return nil

	case "state":
		state, err := c.GetState()
		if err != nil {
			return err
		}
		for k, v := range state.State {
			fmt.Printf("  %s: %v\n", k, v)
		}
		for _, ev := range state.Events {
			fmt.Printf("  * %s\n", ev.String())
		}
		return nil

	case "quit", "exit":
		c.Close()
		os.Exit(0)
		return nil

	default:
		// Station command: remaining words are key=value arguments;
		// numeric values go over as floats.
		args := make(map[string]any)
		for _, w := range words[1:] {
			k, v, ok := strings.Cut(w, "=")
			if !ok {
				return fmt.Errorf("%q: expected key=value", w)
			}
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				args[k] = f
			} else {
				args[k] = v
			}
		}
		response, err := c.IssueCommand(words[0], args)
		if err != nil {
			return err
		}
		if response != nil {
			fmt.Printf("  %v\n", response)
		}
		return nil
	}
}
