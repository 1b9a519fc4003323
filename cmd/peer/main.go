package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/mindconnect-server/internal/call"
	"github.com/vovakirdan/mindconnect-server/internal/client"
	"github.com/vovakirdan/mindconnect-server/internal/log"
	"github.com/vovakirdan/mindconnect-server/internal/media"
	"github.com/vovakirdan/mindconnect-server/internal/rtc"
	"github.com/vovakirdan/mindconnect-server/internal/signaling/remote"
)

type peerOptions struct {
	server     string
	email      string
	password   string
	signUp     bool
	logLevel   string
	iceServers []string
	video      bool
	retries    int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &peerOptions{}

	root := &cobra.Command{
		Use:          "mindconnect-peer",
		Short:        "Headless call participant for a MindConnect server",
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.server, "server", "http://localhost:8080", "server base URL")
	flags.StringVar(&opts.email, "email", "", "account email")
	flags.StringVar(&opts.password, "password", "", "account password")
	flags.BoolVar(&opts.signUp, "signup", false, "create the account before signing in")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.StringSliceVar(&opts.iceServers, "ice-server", []string{"stun:stun.l.google.com:19302"}, "ICE server URL, repeatable")
	flags.BoolVar(&opts.video, "video", false, "send a video track as well as audio")
	flags.IntVar(&opts.retries, "signaling-retries", 3, "retries for failed signaling operations")
	_ = root.MarkPersistentFlagRequired("email")
	_ = root.MarkPersistentFlagRequired("password")

	root.AddCommand(
		&cobra.Command{
			Use:   "start",
			Short: "Create a call and wait for someone to join",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd.Context(), opts, call.RoleCaller, "")
			},
		},
		&cobra.Command{
			Use:   "join <call-id>",
			Short: "Join an existing call",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd.Context(), opts, call.RoleCallee, args[0])
			},
		},
	)
	return root
}

func run(parent context.Context, opts *peerOptions, role call.Role, callID string) error {
	logger := log.New(opts.logLevel)
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := client.New(opts.server, nil)
	session := client.NewAuthSession(api, logger)
	unsubscribe := session.Subscribe(func(u *client.User) {
		if u == nil {
			logger.Debug().Msg("signed out")
			return
		}
		logger.Info().Str("email", u.Email).Int64("user_id", u.ID).Msg("authenticated")
	})
	defer unsubscribe()

	if opts.signUp {
		if err := session.CreateAccount(ctx, opts.email, opts.password); err != nil {
			return fmt.Errorf("create account: %w", err)
		}
	} else if err := session.SignIn(ctx, opts.email, opts.password); err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	defer session.SignOut()

	peers, err := rtc.NewPionFactory(opts.iceServers, logger)
	if err != nil {
		return err
	}

	coord := call.New(call.Options{
		Role: role,
		Channel: remote.New(remote.Config{
			BaseURL: api.BaseURL(),
			Token:   session.Token,
			Logger:  logger,
		}),
		Devices:     &silentDevices{Devices: media.NewVirtualDevices(), ctx: ctx, log: logger},
		Peers:       peers,
		Constraints: media.Constraints{Audio: true, Video: opts.video},
		Retries:     opts.retries,
		Logger:      logger,
	})
	defer func() {
		if err := coord.EndCall(); err != nil {
			logger.Warn().Err(err).Msg("end call")
		}
	}()

	if role == call.RoleCaller {
		id, err := coord.StartCall(ctx)
		if err != nil {
			return err
		}
		logger.Info().Str("call_id", id).Msg("call started, waiting for callee")
		fmt.Println(id)
	} else {
		if err := coord.JoinCall(ctx, callID); err != nil {
			return err
		}
		logger.Info().Str("call_id", callID).Msg("call joined")
	}

	report(ctx, coord, logger)
	return nil
}

// report logs state transitions until ctx is done.
func report(ctx context.Context, coord *call.Coordinator, logger *zerolog.Logger) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastState call.State
	var lastConn string
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		state, conn := coord.State(), coord.ConnectionState().String()
		if state == lastState && conn == lastConn {
			continue
		}
		lastState, lastConn = state, conn
		logger.Info().
			Str("state", state.String()).
			Str("connection", conn).
			Int("remote_tracks", len(coord.RemoteTracks())).
			Msg("call status")
		if state == call.StateEnded {
			return
		}
	}
}

// silentDevices feeds silence into every audio track it hands out so the
// remote side receives media.
type silentDevices struct {
	media.Devices
	ctx context.Context
	log *zerolog.Logger
}

func (d *silentDevices) RequestStream(ctx context.Context, c media.Constraints) (*media.Stream, error) {
	stream, err := d.Devices.RequestStream(ctx, c)
	if err != nil {
		return nil, err
	}
	if audio := stream.AudioTrack(); audio != nil {
		go func() {
			if err := media.PumpSilence(d.ctx, audio); err != nil && !errors.Is(err, context.Canceled) {
				d.log.Warn().Err(err).Msg("silence pump stopped")
			}
		}()
	}
	return stream, nil
}
