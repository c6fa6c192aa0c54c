package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"bot_fleet/internal/models"
	opssvc "bot_fleet/internal/modules/opsapi/service"
)

// fleetctl is the operator's console for a running fleetd: list bots with
// their health verdicts, inspect transition history, push heartbeats.
// The ops endpoint comes from FLEET_OPS_URL.

type client struct {
	base string
	http *http.Client
}

func newClient() *client {
	viper.SetEnvPrefix("FLEET")
	viper.AutomaticEnv()
	viper.SetDefault("ops_url", "http://127.0.0.1:8080")

	return &client{
		base: strings.TrimRight(viper.GetString("ops_url"), "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *client) get(path string, out any) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return errors.Wrap(err, "ops api request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return errors.Wrap(sonic.ConfigDefault.NewDecoder(resp.Body).Decode(out), "decode response")
}

func (c *client) post(path string, in, out any) error {
	body, err := sonic.Marshal(in)
	if err != nil {
		return errors.Wrap(err, "encode request")
	}
	resp, err := c.http.Post(c.base+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "ops api request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return apiError(resp)
	}
	return errors.Wrap(sonic.ConfigDefault.NewDecoder(resp.Body).Decode(out), "decode response")
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return errors.Errorf("ops api: %s: %s", resp.Status, strings.TrimSpace(string(body)))
}

func cmdBots(c *client) error {
	var bots []opssvc.BotStatusView
	if err := c.get("/api/v1/bots", &bots); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPAIR\tEXCHANGE\tSTRATEGY\tSTATUS\tHEALTH\tTRADES\tVOLUME\tLAST TRADE")
	for _, b := range bots {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%d\t%.2f\t%s\n",
			b.BotID, b.Pair, b.Exchange, b.Strategy, b.ReportedStatus, b.HealthStatus,
			b.TradesToday, b.VolumeToday, timeOrDash(b.LastTradeAt))
	}
	return w.Flush()
}

func cmdStatus(c *client, args []string) error {
	id, err := botIDArg(args)
	if err != nil {
		return err
	}

	var v opssvc.BotStatusView
	if err := c.get(fmt.Sprintf("/api/v1/bots/%d/status", id), &v); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "bot\t%d (%s %s on %s)\n", v.BotID, v.Strategy, v.Pair, v.Exchange)
	fmt.Fprintf(w, "reported status\t%s\n", v.ReportedStatus)
	fmt.Fprintf(w, "health\t%s\n", v.HealthStatus)
	if v.HealthMessage != "" {
		fmt.Fprintf(w, "reason\t%s\n", v.HealthMessage)
	}
	fmt.Fprintf(w, "last activity\t%s\n", timeOrDash(v.LastActivityAt))
	fmt.Fprintf(w, "last trade\t%s\n", timeOrDash(v.LastTradeAt))
	fmt.Fprintf(w, "today\t%d trades, %.2f volume\n", v.TradesToday, v.VolumeToday)
	if v.LastError != "" {
		fmt.Fprintf(w, "last error\t%s\n", v.LastError)
	}
	return w.Flush()
}

func cmdSummary(c *client) error {
	var s opssvc.FleetSummary
	if err := c.get("/api/v1/fleet/summary", &s); err != nil {
		return err
	}

	fmt.Printf("bots: %d (%d running, %d stopped)\n", s.Bots, s.Running, s.Stopped)
	for _, state := range []models.HealthState{
		models.HealthHealthy, models.HealthStale, models.HealthStopped,
		models.HealthError, models.HealthUnknown,
	} {
		if n := s.ByHealth[state]; n > 0 {
			fmt.Printf("  %s: %d\n", state, n)
		}
	}
	fmt.Printf("uptime: %s, ws clients: %d\n",
		(time.Duration(s.UptimeSeconds) * time.Second).String(), s.WSClients)
	if s.RunnerLastTick != nil {
		fmt.Printf("runner tick: %s\n", s.RunnerLastTick.Local().Format(time.RFC3339))
	}
	if s.MonitorLastTick != nil {
		fmt.Printf("monitor tick: %s\n", s.MonitorLastTick.Local().Format(time.RFC3339))
	}
	return nil
}

func cmdHealthLog(c *client, args []string) error {
	id, err := botIDArg(args)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/api/v1/bots/%d/health-log", id)
	if len(args) > 1 {
		limit, err := strconv.Atoi(args[1])
		if err != nil || limit <= 0 {
			return errors.New("limit must be a positive integer")
		}
		path += "?limit=" + strconv.Itoa(limit)
	}

	var entries []models.HealthLogEntry
	if err := c.get(path, &entries); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AT\tTRANSITION\tREASON")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s -> %s\t%s\n",
			e.CreatedAt.Local().Format(time.RFC3339), e.From, e.To, e.Reason)
	}
	return w.Flush()
}

func cmdHeartbeat(c *client, args []string) error {
	id, err := botIDArg(args)
	if err != nil {
		return err
	}
	status := "alive"
	if len(args) > 1 {
		status = args[1]
	}

	var hb models.Heartbeat
	if err := c.post("/api/v1/heartbeat", models.Heartbeat{BotID: id, Status: status}, &hb); err != nil {
		return err
	}
	fmt.Printf("heartbeat recorded for bot %d at %s\n", hb.BotID, hb.At.Local().Format(time.RFC3339))
	return nil
}

func botIDArg(args []string) (int64, error) {
	if len(args) == 0 {
		return 0, errors.New("bot id is required")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Errorf("invalid bot id %q", args[0])
	}
	return id, nil
}

func timeOrDash(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: fleetctl <command> [args]

commands:
  bots                     list bots with health verdicts
  status <id>              one bot's full status
  summary                  fleet-wide aggregate
  health-log <id> [limit]  health transitions, newest first
  heartbeat <id> [status]  push liveness evidence for an external bot

environment:
  FLEET_OPS_URL  fleetd ops endpoint (default http://127.0.0.1:8080)`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	c := newClient()
	var err error
	switch os.Args[1] {
	case "bots":
		err = cmdBots(c)
	case "status":
		err = cmdStatus(c, os.Args[2:])
	case "summary":
		err = cmdSummary(c)
	case "health-log":
		err = cmdHealthLog(c, os.Args[2:])
	case "heartbeat":
		err = cmdHeartbeat(c, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "fleetctl:", err)
		os.Exit(1)
	}
}
