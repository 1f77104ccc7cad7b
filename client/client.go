// client/client.go
// Copyright(c) 2025 bridgesim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package client is the Go client for the bridge control server. It
// speaks the msgpack request/response protocol over a compressed TCP
// connection and turns failed results back into the server's sentinel
// errors.
package client

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/bridgesim/bridgesim/log"
	"github.com/bridgesim/bridgesim/server"
	"github.com/bridgesim/bridgesim/sim"
	"github.com/bridgesim/bridgesim/station"
	"github.com/bridgesim/bridgesim/util"

	"github.com/vmihailenco/msgpack/v5"
)

const requestTimeout = 5 * time.Second

type Client struct {
	conn net.Conn
	dec  *msgpack.Decoder
	enc  *msgpack.Encoder

	// One request in flight at a time; the protocol is strictly
	// request/response per connection.
	mu sync.Mutex

	token string
	lg    *log.Logger
}

// Dial connects to a server and signs on under the given name.
func Dial(address, name string, lg *log.Logger) (*Client, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, err
	}

	cc, err := util.MakeCompressedConn(util.MakeLoggingConn(conn, lg))
	if err != nil {
		conn.Close()
		return nil, err
	}

	c := &Client{
		conn: cc,
		dec:  msgpack.NewDecoder(cc),
		enc:  msgpack.NewEncoder(cc),
		lg:   lg,
	}

	result, err := c.do(&server.Request{Cmd: "sign_on", Name: name})
	if err != nil {
		cc.Close()
		return nil, err
	}
	if resp, ok := result.Response.(map[string]any); ok {
		if token, ok := resp["token"].(string); ok {
			c.token = token
		}
	}

	return c, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Token returns the session token, used as the Bearer token for the
// telemetry websocket.
func (c *Client) Token() string {
	return c.token
}

// do sends one request and waits for its response. Responses come back
// in request order, so holding the mutex across the round trip is all
// the correlation the protocol needs.
func (c *Client) do(req *server.Request) (server.CommandResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var result server.CommandResult

	c.conn.SetDeadline(time.Now().Add(requestTimeout))
	defer c.conn.SetDeadline(time.Time{})

	if err := c.enc.Encode(req); err != nil {
		return result, err
	}
	if err := c.dec.Decode(&result); err != nil {
		return result, err
	}

	if !result.OK {
		if err := server.TryDecodeErrorString(result.Message); err != nil {
			return result, err
		}
		return result, errors.New(result.Message)
	}
	return result, nil
}

///////////////////////////////////////////////////////////////////////////
// Management commands

func (c *Client) AssignShip(ship sim.ShipID) error {
	_, err := c.do(&server.Request{Cmd: "assign_ship", Ship: string(ship)})
	return err
}

func (c *Client) ClaimStation(st station.Type) error {
	_, err := c.do(&server.Request{Cmd: "claim_station", Station: string(st)})
	return err
}

// ReleaseStation with an empty station releases the client's single
// claim.
func (c *Client) ReleaseStation(st station.Type) error {
	_, err := c.do(&server.Request{Cmd: "release_station", Station: string(st)})
	return err
}

// ForceRelease revokes another client's claim; the caller must hold the
// captain station on the ship.
func (c *Client) ForceRelease(st station.Type) error {
	_, err := c.do(&server.Request{Cmd: "force_release", Station: string(st)})
	return err
}

func (c *Client) Heartbeat() error {
	_, err := c.do(&server.Request{Cmd: "heartbeat"})
	return err
}

func (c *Client) ListShips() ([]sim.ShipInfo, error) {
	result, err := c.do(&server.Request{Cmd: "list_ships"})
	if err != nil {
		return nil, err
	}
	return decodeResponse[[]sim.ShipInfo](result.Response)
}

// StationStatus reports who holds which station on a ship; with an empty
// ship it reports on the client's assigned ship.
func (c *Client) StationStatus(ship sim.ShipID) (map[string]any, error) {
	result, err := c.do(&server.Request{Cmd: "station_status", Ship: string(ship)})
	if err != nil {
		return nil, err
	}
	return decodeResponse[map[string]any](result.Response)
}

func (c *Client) MyStatus() (map[string]any, error) {
	result, err := c.do(&server.Request{Cmd: "my_status"})
	if err != nil {
		return nil, err
	}
	return decodeResponse[map[string]any](result.Response)
}

func (c *Client) FleetStatus() ([]server.ShipStatus, error) {
	result, err := c.do(&server.Request{Cmd: "fleet_status"})
	if err != nil {
		return nil, err
	}
	return decodeResponse[[]server.ShipStatus](result.Response)
}

// State is one get_state response: the ship fields the client's station
// may see plus any events since the last call.
type State struct {
	State  map[string]any `msgpack:"state" json:"state"`
	Events []sim.Event    `msgpack:"events" json:"events"`
}

func (c *Client) GetState() (*State, error) {
	result, err := c.do(&server.Request{Cmd: "get_state"})
	if err != nil {
		return nil, err
	}
	state, err := decodeResponse[State](result.Response)
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// Broadcast sends a message to everyone connected; admin only.
func (c *Client) Broadcast(password, message string) error {
	_, err := c.do(&server.Request{Cmd: "broadcast", Password: password, Message: message})
	return err
}

///////////////////////////////////////////////////////////////////////////
// Simulation commands

// IssueCommand runs a station command against the client's assigned
// ship. The server enforces that the client's claimed station owns the
// command.
func (c *Client) IssueCommand(cmd string, args map[string]any) (any, error) {
	result, err := c.do(&server.Request{Cmd: cmd, Args: args})
	if err != nil {
		return nil, err
	}
	return result.Response, nil
}

func (c *Client) SetThrust(thrust float64) error {
	_, err := c.IssueCommand("set_thrust", map[string]any{"thrust": thrust})
	return err
}

func (c *Client) SetCourse(heading float64) error {
	_, err := c.IssueCommand("set_course", map[string]any{"heading": heading})
	return err
}

func (c *Client) AllStop() error {
	_, err := c.IssueCommand("all_stop", nil)
	return err
}

func (c *Client) SetTarget(target sim.ShipID) error {
	_, err := c.IssueCommand("set_target", map[string]any{"target": string(target)})
	return err
}

func (c *Client) Fire() (any, error) {
	return c.IssueCommand("fire", nil)
}

func (c *Client) Scan(target sim.ShipID) (any, error) {
	return c.IssueCommand("scan", map[string]any{"target": string(target)})
}

// decodeResponse remarshals a response payload into its concrete type;
// the generic decode loop hands us map[string]any / []any.
func decodeResponse[T any](response any) (T, error) {
	var out T
	b, err := msgpack.Marshal(response)
	if err != nil {
		return out, err
	}
	err = msgpack.Unmarshal(b, &out)
	return out, err
}
