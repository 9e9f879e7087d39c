// Command castctl is an interactive REPL for driving a cast.Channel,
// grounded on ValiantChip-osp/osp.go's ReturnWithExitCode/NewClient shape:
// a stdin-reading goroutine feeding a select loop, dispatched through a
// uniCommands handler.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	cmnd "github.com/ValiantChip/uniCommands"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/castlink/gocast/cast"
	"github.com/castlink/gocast/config"
	"github.com/castlink/gocast/discovery"
)

func main() {
	os.Exit(run())
}

func levelFromVerbosity(l int) slog.Level {
	return slog.Level((l - 1) * 4)
}

// client owns the REPL state: the current Channel (nil until "connect"
// succeeds), the command handler, and the channel used to report
// asynchronous connection-state changes back into the select loop.
type client struct {
	printer *printer
	cfg     config.Config
	logger  *slog.Logger

	channel *cast.Channel
	handler *cmnd.Handler

	exitChan  chan struct{}
	eventChan chan string
}

func newClient(cfg config.Config, logger *slog.Logger) *client {
	c := &client{
		printer:   newPrinter(),
		cfg:       cfg,
		logger:    logger,
		exitChan:  make(chan struct{}, 1),
		eventChan: make(chan string, 16),
	}

	c.handler = cmnd.NewHandler(
		cmnd.HandlerArg{
			Name:        "connect",
			Description: "Usage: connect <host>\nOpens a Channel to the receiver at <host>.",
			Runner:      c.cmdConnect,
		},
		cmnd.HandlerArg{
			Name:        "discover",
			Description: "list Cast receivers on the local network",
			Runner:      c.cmdDiscover,
		},
		cmnd.HandlerArg{
			Name:        "status",
			Description: "print the receiver's current status",
			Runner:      c.cmdStatus,
		},
		cmnd.HandlerArg{
			Name:        "launch",
			Description: "Usage: launch <appId>",
			Runner:      c.cmdLaunch,
		},
		cmnd.HandlerArg{
			Name:        "stop",
			Description: "Usage: stop <sessionId>",
			Runner:      c.cmdStop,
		},
		cmnd.HandlerArg{
			Name:        "volume",
			Description: "Usage: volume <0.0-1.0>",
			Runner:      c.cmdVolume,
		},
		cmnd.HandlerArg{
			Name:        "quit",
			Description: "exit the program",
			Runner: func(args []string) error {
				if c.channel != nil {
					c.channel.Close()
				}
				c.exitChan <- struct{}{}
				return nil
			},
		},
		cmnd.HandlerArg{
			Name:        "help",
			Description: "print this message",
			Runner: func(args []string) error {
				c.printer.Info("Available commands:\n%s", c.handler.GetDescription())
				return nil
			},
		},
	)

	return c
}

func (c *client) requireChannel() (*cast.Channel, bool) {
	if c.channel == nil {
		c.printer.Warn("not connected: run \"connect <host>\" first")
		return nil, false
	}
	return c.channel, true
}

func (c *client) cmdConnect(args []string) error {
	if len(args) < 2 {
		c.printer.Warn("usage: connect <host>")
		return nil
	}
	if c.channel != nil {
		c.printer.Warn("already connected; quit and restart to connect elsewhere")
		return nil
	}
	host := args[1]

	ch, err := cast.NewChannel(cast.Config{
		Host:               host,
		Port:               c.cfg.PortOrDefault(),
		SenderID:           c.cfg.SenderIDOrDefault(),
		RemoteName:         c.cfg.RemoteNameOrDefault(),
		RequestTimeout:     c.cfg.RequestTimeout(),
		HeartbeatPeriod:    c.cfg.HeartbeatPeriod(),
		HeartbeatFirstFire: c.cfg.HeartbeatFirstFire(),
		Metrics:            cast.NewMetrics(prometheus.DefaultRegisterer),
		Logger:             c.logger,
		Listener:           &replListener{events: c.eventChan},
	})
	if err != nil {
		c.printer.Error("config error: %s", err)
		return nil
	}
	if err := ch.Connect(); err != nil {
		c.printer.Error("connect failed: %s", err)
		return nil
	}
	c.channel = ch
	c.printer.OK("connected to %s", host)
	return nil
}

func (c *client) cmdDiscover(args []string) error {
	c.printer.Info("searching for receivers...")
	disc := discovery.NewClient(discovery.Config{}, c.logger)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	devices, err := disc.Browse(ctx)
	if err != nil {
		c.printer.Error("discovery failed: %s", err)
		return nil
	}
	if len(devices) == 0 {
		c.printer.Info("no devices found")
		return nil
	}
	for _, d := range devices {
		c.printer.Info("  %s (%s) at %s:%d", d.FriendlyName, d.ModelName, d.Address, d.Port)
	}
	return nil
}

func (c *client) cmdStatus(args []string) error {
	ch, ok := c.requireChannel()
	if !ok {
		return nil
	}
	status, err := ch.GetStatus()
	if err != nil {
		c.printer.Error("get_status failed: %s", err)
		return nil
	}
	c.printer.Info("%+v", status)
	return nil
}

func (c *client) cmdLaunch(args []string) error {
	ch, ok := c.requireChannel()
	if !ok {
		return nil
	}
	if len(args) < 2 {
		c.printer.Warn("usage: launch <appId>")
		return nil
	}
	status, err := ch.Launch(args[1])
	if err != nil {
		c.printer.Error("launch failed: %s", err)
		return nil
	}
	c.printer.OK("launched %s", args[1])
	c.printer.Info("%+v", status)
	return nil
}

func (c *client) cmdStop(args []string) error {
	ch, ok := c.requireChannel()
	if !ok {
		return nil
	}
	if len(args) < 2 {
		c.printer.Warn("usage: stop <sessionId>")
		return nil
	}
	if _, err := ch.Stop(args[1]); err != nil {
		c.printer.Error("stop failed: %s", err)
		return nil
	}
	c.printer.OK("stopped %s", args[1])
	return nil
}

func (c *client) cmdVolume(args []string) error {
	ch, ok := c.requireChannel()
	if !ok {
		return nil
	}
	if len(args) < 2 {
		c.printer.Warn("usage: volume <0.0-1.0>")
		return nil
	}
	level, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		c.printer.Warn("invalid volume level: %s", args[1])
		return nil
	}
	if _, err := ch.SetVolume(cast.NewVolumeLevel(level)); err != nil {
		c.printer.Error("set_volume failed: %s", err)
		return nil
	}
	c.printer.OK("volume set to %.2f", level)
	return nil
}

func (c *client) handleCommand(args []string) {
	err, ok := c.handler.HandleArgs(args)
	if !ok {
		c.printer.Info(c.handler.GetDescription())
		return
	}
	if err != nil {
		c.printer.Error("%s", err)
	}
}

// replListener bridges cast.Listener callbacks into the REPL's event
// channel so connection drops print without racing the input goroutine.
type replListener struct {
	cast.NopListener
	events chan<- string
}

func (l *replListener) OnConnectionState(state cast.ConnectionState, err error) {
	if err != nil {
		l.events <- fmt.Sprintf("connection state: %s (%s)", state, err)
		return
	}
	l.events <- fmt.Sprintf("connection state: %s", state)
}

func (l *replListener) OnSpontaneousEvent(event cast.SpontaneousEvent) {
	l.events <- fmt.Sprintf("event: %s %s", event.Namespace, event.ResponseType)
}

func run() int {
	configPath := flag.String("c", "./castctl.yaml", "path to the config file, must be YAML")
	explicit := flag.Bool("c-explicit", false, "treat -c as required rather than a tolerated default")
	verbosity := flag.Int("l", 3, "log level: 0=debug 1=info 2=warn 3=error 4=none")
	flag.Parse()

	if *verbosity < 0 || *verbosity > 4 {
		fmt.Println("invalid log level")
		return 1
	}

	cfg, err := config.Load(*configPath, *explicit)
	if err != nil {
		fmt.Println(err.Error())
		return 1
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: levelFromVerbosity(*verbosity)})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	c := newClient(cfg, logger)
	c.printer.Info("type help for a list of available commands")

	inputChan := make(chan string)
	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				logger.Error("error reading from stdin", "error", err)
				return
			}
			if n == 0 {
				continue
			}
			inputChan <- strings.TrimRight(string(buf[:n]), "\r\n")
		}
	}()

	for {
		select {
		case input := <-inputChan:
			if input == "" {
				continue
			}
			c.handleCommand(strings.Split(input, " "))
		case msg := <-c.eventChan:
			c.printer.Info("%s", msg)
		case <-c.exitChan:
			c.printer.Info("goodbye")
			return 0
		}
	}
}
