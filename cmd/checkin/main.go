// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// checkin is the operator CLI for the check-in service. It talks to
// the service's admin Unix socket and prints read-only views of the
// running state: overall status, configured communities, and the
// participants of one community.
package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/checkin/lib/ipc"
	"github.com/bureau-foundation/checkin/lib/ref"
)

const defaultSocketPath = "/run/checkin/admin.sock"

const requestTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var socketPath string

	flagSet := pflag.NewFlagSet("checkin", pflag.ContinueOnError)
	flagSet.StringVar(&socketPath, "socket", defaultSocketPath, "path to the service admin socket")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printUsage()
			return nil
		}
		return err
	}

	args := flagSet.Args()
	if len(args) == 0 {
		printUsage()
		return fmt.Errorf("subcommand required")
	}

	client := ipc.NewClient(socketPath)
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch args[0] {
	case "status":
		return showStatus(ctx, client)
	case "communities":
		return showCommunities(ctx, client)
	case "participants":
		if len(args) != 2 {
			return fmt.Errorf("usage: checkin participants <community-room-id>")
		}
		community, err := ref.ParseRoomID(args[1])
		if err != nil {
			return fmt.Errorf("invalid community room ID: %w", err)
		}
		return showParticipants(ctx, client, community)
	case "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand %q", args[0])
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `checkin — operator CLI for the check-in service.

Usage:
  checkin [--socket path] <command>

Commands:
  status                        service identity, uptime, and totals
  communities                   every configured community and its schedule
  participants <community-id>   streak state of one community's participants

The service listens on %s by default.
`, defaultSocketPath)
}

func showStatus(ctx context.Context, client *ipc.Client) error {
	var status ipc.StatusResponse
	if err := client.Call(ctx, "status", nil, &status); err != nil {
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintf(writer, "user\t%s\n", status.UserID)
	fmt.Fprintf(writer, "state\t%s\n", status.StatePath)
	fmt.Fprintf(writer, "started\t%s\n", status.StartedAt.Local().Format(time.RFC1123))
	fmt.Fprintf(writer, "uptime\t%s\n", (time.Duration(status.UptimeSeconds) * time.Second).String())
	fmt.Fprintf(writer, "communities\t%d\n", status.Communities)
	fmt.Fprintf(writer, "participants\t%d\n", status.Participants)
	return writer.Flush()
}

func showCommunities(ctx context.Context, client *ipc.Client) error {
	var response ipc.CommunitiesResponse
	if err := client.Call(ctx, "communities", nil, &response); err != nil {
		return err
	}

	if len(response.Communities) == 0 {
		fmt.Println("no communities configured")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintln(writer, "COMMUNITY\tSCHEDULE\tPARTICIPANTS\tLAST PROMPT")
	for _, community := range response.Communities {
		schedule := fmt.Sprintf("%s %s", community.DailyTime, community.Timezone)
		if community.AnnounceRoomID.IsZero() {
			schedule = "disabled"
		}
		lastPrompt := "never"
		if !community.CyclePostedAt.IsZero() {
			lastPrompt = community.CyclePostedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(writer, "%s\t%s\t%d/%d\t%s\n",
			community.CommunityID, schedule,
			community.ActiveParticipants, community.Participants,
			lastPrompt)
	}
	return writer.Flush()
}

func showParticipants(ctx context.Context, client *ipc.Client, community ref.RoomID) error {
	var response ipc.ParticipantsResponse
	if err := client.Call(ctx, "participants", map[string]any{"community": community}, &response); err != nil {
		return err
	}

	if len(response.Participants) == 0 {
		fmt.Printf("no participants in %s\n", community)
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintln(writer, "USER\tSTREAK\tBEST\tLAST CHECK-IN\tSTATE\tGOAL")
	for _, participant := range response.Participants {
		lastCheckin := "never"
		if !participant.LastCheckin.IsZero() {
			lastCheckin = participant.LastCheckin.String()
		}
		state := "active"
		if !participant.Active {
			state = "inactive"
		}
		fmt.Fprintf(writer, "%s\t%d\t%d\t%s\t%s\t%s\n",
			participant.UserID, participant.CurrentStreak,
			participant.LongestStreak, lastCheckin, state,
			truncate(participant.Goal, 60))
	}
	return writer.Flush()
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit-1]) + "…"
}
