// Package cmd parse args to configure application.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"groupcall/broker"
	"groupcall/call"
	"groupcall/classifier"
	"groupcall/client"
	"groupcall/database/memory"
	"groupcall/groupcall"
	"groupcall/media"
	"groupcall/metric"
	"groupcall/signal"
	"groupcall/types"
	"groupcall/types/wire"
)

// Default values for the demo.
const (
	DefaultRoom     = "!demo:localhost"
	DefaultDuration = 10 * time.Second
)

// Config is the demo configuration.
type Config struct {
	Room        string
	Duration    time.Duration
	PTT         bool
	Video       bool
	Debug       bool
	MetricsPort int
	SignalPort  int
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Room == "" {
		return errors.New("room must not be empty")
	}
	if c.MetricsPort < 1 || c.MetricsPort > 65535 {
		return fmt.Errorf("metrics port must be between 1 and 65535, given %d", c.MetricsPort)
	}
	if c.SignalPort != 0 {
		if err := (signal.Config{Port: c.SignalPort}).Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Run starts the demo: two devices in one room enter the same group call
// over the in-process transport and reconcile a full mesh.
func Run() {
	config, err := SetupConfig(os.Stdout, os.Args[1:])
	if err != nil {
		os.Exit(1)
	}

	level := zerolog.InfoLevel
	if config.Debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	metrics := metric.New(metric.Config{
		Port: config.MetricsPort,
		Path: metric.DefaultMetricsPath,
	})
	metrics.RegisterMetrics()
	stop := make(chan struct{})
	go metrics.Start(stop)
	defer close(stop)

	if config.SignalPort != 0 {
		relay := signal.NewRelay(signal.Config{Port: config.SignalPort, Debug: config.Debug}, memory.New())
		go func() {
			if err := relay.Start(); err != nil {
				log.Error().Err(err).Msg("relay stopped")
			}
		}()
		defer func() { _ = relay.Stop() }()
	}

	if err := runDemo(config, metrics); err != nil {
		log.Error().Err(err).Msg("demo failed")
		os.Exit(1)
	}
}

func runDemo(config Config, metrics *metric.Metrics) error {
	roomID := types.RoomID(config.Room)
	callID := types.GroupCallID("demo-call")

	hub := client.NewLocalHub(memory.New())
	network := call.NewLocalNetwork()
	profile := classifier.Classify(classifier.DefaultConfig())

	callType := wire.CallTypeVoice
	if config.Video {
		callType = wire.CallTypeVideo
	}

	var calls []*groupcall.GroupCall
	for _, id := range []struct {
		user   types.UserID
		device types.DeviceID
	}{
		{"@alice:localhost", "ALICE1"},
		{"@bob:localhost", "BOB1"},
	} {
		hub.SetMembership(roomID, id.user, client.MembershipJoin)
		c := hub.NewClient(id.user, id.device)
		endpoint := network.Endpoint(id.user, id.device, c.SessionID())

		bus := broker.New()
		g, err := groupcall.New(groupcall.Opts{
			Client:             c,
			Room:               c.Room(roomID),
			Factory:            endpoint.Factory(roomID),
			Incoming:           endpoint,
			Media:              media.NewStaticHandler(true, config.Video),
			Broker:             bus,
			Metrics:            metrics,
			ID:                 callID,
			Type:               callType,
			Intent:             wire.IntentRoom,
			PTT:                config.PTT,
			InitWithVideoMuted: profile.StartVideoMuted,
		})
		if err != nil {
			return fmt.Errorf("create group call for %s: %w", id.user, err)
		}
		watchEvents(bus, id.user)
		calls = append(calls, g)
	}

	ctx := context.Background()
	for _, g := range calls {
		if err := g.Enter(ctx); err != nil {
			return fmt.Errorf("enter: %w", err)
		}
	}

	log.Info().Dur("duration", config.Duration).Msg("call running")
	time.Sleep(config.Duration)

	for _, g := range calls {
		g.Leave(ctx)
	}
	return calls[0].Terminate(ctx, true)
}

// watchEvents prints the coordinator's events for one device.
func watchEvents(bus *broker.Broker, user types.UserID) {
	l := log.With().Str("user", string(user)).Logger()
	bus.Subscribe(broker.StateChanged, func(ev any) {
		e := ev.(groupcall.StateChangedEvent)
		l.Info().Stringer("new", e.New).Stringer("old", e.Old).Msg("state changed")
	})
	bus.Subscribe(broker.ParticipantsChanged, func(ev any) {
		e := ev.(groupcall.ParticipantsChangedEvent)
		l.Info().Int("participants", len(e.Participants)).Msg("participants changed")
	})
	bus.Subscribe(broker.CallsChanged, func(ev any) {
		e := ev.(groupcall.CallsChangedEvent)
		l.Info().Int("peers", len(e.Calls)).Msg("call graph changed")
	})
	bus.Subscribe(broker.CallError, func(ev any) {
		l.Warn().Err(ev.(*groupcall.CallError)).Msg("call error")
	})
}

// SetupConfig sets up and returns the configuration.
func SetupConfig(w io.Writer, args []string) (Config, error) {
	config, err := Parse(w, args)
	if err != nil {
		return config, err
	}
	if err = config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

// Parse parses the command line arguments.
func Parse(w io.Writer, args []string) (Config, error) {
	con := Config{}

	fs := flag.NewFlagSet("groupcall", flag.ContinueOnError)
	fs.SetOutput(w)
	fs.StringVar(&con.Room, "room", DefaultRoom, "room id the demo call runs in")
	fs.DurationVar(&con.Duration, "duration", DefaultDuration, "how long the demo call runs")
	fs.BoolVar(&con.PTT, "ptt", false, "run the call in push-to-talk mode")
	fs.BoolVar(&con.Video, "video", false, "run a video call")
	fs.BoolVar(&con.Debug, "debug", false, "debug mode")
	fs.IntVar(&con.MetricsPort, "metrics-port", metric.DefaultMetricsPort, "metrics server port")
	fs.IntVar(&con.SignalPort, "signal-port", 0, "state relay port (0 disables the relay)")

	err := fs.Parse(args)
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse args: %w", err)
	}

	if fs.NArg() != 0 {
		return Config{}, errors.New("some args are not parsed")
	}

	return con, nil
}
