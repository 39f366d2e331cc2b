// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// checkin-service is the daily check-in streak daemon. It connects to
// a Matrix homeserver, listens for chat commands and thread responses
// in every community room it has joined, posts the daily prompt on
// each community's schedule, and tracks per-participant streaks in a
// persisted state snapshot. An admin Unix socket serves read-only
// observability to the checkin CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/checkin/lib/clock"
	"github.com/bureau-foundation/checkin/lib/command"
	"github.com/bureau-foundation/checkin/lib/config"
	"github.com/bureau-foundation/checkin/lib/ipc"
	"github.com/bureau-foundation/checkin/lib/ref"
	"github.com/bureau-foundation/checkin/lib/schedule"
	"github.com/bureau-foundation/checkin/lib/store"
	"github.com/bureau-foundation/checkin/lib/streak"
	"github.com/bureau-foundation/checkin/messaging"
)

// replyTimeout bounds each outbound command reply. A reply is best
// effort; the state mutation it reports has already been persisted.
const replyTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string

	flagSet := pflag.NewFlagSet("checkin-service", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to checkin.yaml (overrides CHECKIN_CONFIG)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load the persisted aggregate. A missing snapshot means first
	// boot; a corrupt one is fatal rather than silently resetting
	// every streak.
	st, err := store.Load(cfg.Storage.StatePath)
	if err != nil {
		return err
	}
	logger.Info("state loaded",
		"path", cfg.Storage.StatePath,
		"communities", len(st.Snapshot()),
	)

	session, err := openSession(ctx, cfg, logger)
	if err != nil {
		return err
	}

	clk := clock.Real()
	engine := streak.NewEngine(st, clk, logger)
	commands := command.NewHandler(st, clk)

	tickInterval, err := cfg.TickInterval()
	if err != nil {
		return err
	}
	scheduler := schedule.New(st, engine, messaging.NewAnnouncer(session), schedule.Options{
		Clock:        clk,
		TickInterval: tickInterval,
		Logger:       logger,
	})
	go scheduler.Run(ctx)

	// Admin socket for the checkin CLI.
	socketServer := ipc.NewSocketServer(cfg.Admin.SocketPath, logger)
	ipc.RegisterAdminActions(socketServer, st, ipc.ServiceInfo{
		UserID:    session.UserID(),
		StatePath: cfg.Storage.StatePath,
		StartedAt: clk.Now(),
	})
	socketDone := make(chan error, 1)
	go func() {
		socketDone <- socketServer.Serve(ctx)
	}()

	dispatch := &dispatcher{
		store:   st,
		engine:  engine,
		handler: commands,
		logger:  logger,
		reply: func(room ref.RoomID, body string) {
			replyCtx, cancel := context.WithTimeout(ctx, replyTimeout)
			defer cancel()
			if _, err := session.SendMessage(replyCtx, room, messaging.NewTextMessage(body)); err != nil {
				logger.Error("failed to send reply", "room", room, "error", err)
			}
		},
	}
	pump := messaging.NewEventPump(session, dispatch.handleEvent, logger)

	logger.Info("checkin service running",
		"user_id", session.UserID(),
		"socket", cfg.Admin.SocketPath,
		"tick_interval", tickInterval,
	)

	pumpErr := pump.Run(ctx)

	// The pump returns on cancellation or a failed initial sync;
	// either way, drain the socket server before exiting.
	stop()
	if err := <-socketDone; err != nil {
		logger.Error("socket server error", "error", err)
	}
	return pumpErr
}

// openSession authenticates against the homeserver using the access
// token from the configured token file, and verifies the token
// belongs to the configured user.
func openSession(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*messaging.Session, error) {
	tokenBytes, err := os.ReadFile(cfg.Matrix.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("reading token file: %w", err)
	}
	token := strings.TrimSpace(string(tokenBytes))
	if token == "" {
		return nil, fmt.Errorf("token file %s is empty", cfg.Matrix.TokenFile)
	}

	userID, err := ref.ParseUserID(cfg.Matrix.UserID)
	if err != nil {
		return nil, fmt.Errorf("invalid matrix.user_id: %w", err)
	}

	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: cfg.Matrix.HomeserverURL,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	session := client.SessionFromToken(userID, token)

	whoami, err := session.WhoAmI(ctx)
	if err != nil {
		return nil, fmt.Errorf("validating session: %w", err)
	}
	if whoami != userID {
		return nil, fmt.Errorf("token belongs to %s, config says %s", whoami, userID)
	}
	logger.Info("matrix session valid", "user_id", userID)
	return session, nil
}
