// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bureau-foundation/checkin/lib/command"
	"github.com/bureau-foundation/checkin/lib/ref"
	"github.com/bureau-foundation/checkin/lib/store"
	"github.com/bureau-foundation/checkin/lib/streak"
	"github.com/bureau-foundation/checkin/messaging"
)

// commandPrefix starts every chat command addressed to the service.
const commandPrefix = "!checkin"

const helpText = `Daily check-in commands:
  !checkin register <goal>          register (or update) your daily goal
  !checkin goal <goal>              update your goal without touching your streak
  !checkin deregister               leave the daily check-in
  !checkin stats [user]             show a streak and today's deadline (defaults to yours)
  !checkin set-channel [room-id]    post daily prompts here (or in room-id)
  !checkin set-schedule <zone> <HH:MM>  set the posting time, e.g. Europe/Berlin 09:00
  !checkin help                     show this message`

// dispatcher routes pump events: thread replies go to the streak
// engine, !checkin messages to the command handler. Replies are sent
// through the reply callback so command handling stays testable
// without a homeserver.
type dispatcher struct {
	store   *store.Store
	engine  *streak.Engine
	handler *command.Handler
	logger  *slog.Logger
	reply   func(room ref.RoomID, body string)
}

func (d *dispatcher) handleEvent(event messaging.Event) {
	body := strings.TrimSpace(event.MessageBody())

	// Commands win over thread routing: "!checkin stats" typed inside
	// the response thread is still a command, not a check-in.
	if body != commandPrefix && !strings.HasPrefix(body, commandPrefix+" ") {
		if root := event.ThreadRoot(); !root.IsZero() {
			community, ok := d.communityForRoom(event.RoomID)
			if !ok {
				return
			}
			d.engine.HandleResponse(community, root, event.Sender, time.UnixMilli(event.OriginServerTS))
		}
		return
	}
	verb, rest := splitCommand(strings.TrimSpace(strings.TrimPrefix(body, commandPrefix)))

	reply, err := d.runCommand(event, verb, rest)
	if err != nil {
		var usage *command.UsageError
		if errors.As(err, &usage) {
			reply = usage.Message
		} else {
			d.logger.Error("command failed",
				"community", event.RoomID, "user", event.Sender,
				"command", verb, "error", err)
			reply = "Something went wrong handling that command. Please try again."
		}
	}
	if reply != "" {
		d.reply(event.RoomID, reply)
	}
}

func (d *dispatcher) runCommand(event messaging.Event, verb, rest string) (string, error) {
	community := event.RoomID
	user := event.Sender

	switch verb {
	case "", "help":
		return helpText, nil
	case "register":
		return d.handler.RegisterGoal(community, user, rest)
	case "goal":
		return d.handler.EditGoal(community, user, rest)
	case "deregister":
		return d.handler.Deregister(community, user)
	case "stats":
		target := ref.UserID{}
		if rest != "" {
			parsed, err := ref.ParseUserID(rest)
			if err != nil {
				return "", &command.UsageError{
					Message: fmt.Sprintf("%q is not a user ID. Usage: !checkin stats [@user:server]", rest),
				}
			}
			target = parsed
		}
		return d.handler.Stats(community, user, target)
	case "set-channel":
		room := community
		if rest != "" {
			parsed, err := ref.ParseRoomID(rest)
			if err != nil {
				return "", &command.UsageError{
					Message: fmt.Sprintf("%q is not a room ID. Use !checkin set-channel in the target room, or pass its !room:server ID.", rest),
				}
			}
			room = parsed
		}
		return d.handler.SetChannel(community, room)
	case "set-schedule":
		fields := strings.Fields(rest)
		if len(fields) != 2 {
			return "", &command.UsageError{
				Message: "Usage: !checkin set-schedule <IANA-timezone> <HH:MM>, e.g. !checkin set-schedule America/New_York 09:00",
			}
		}
		return d.handler.SetSchedule(community, fields[0], fields[1])
	default:
		return fmt.Sprintf("Unknown command %q. Try !checkin help.", verb), nil
	}
}

// communityForRoom resolves the room a thread reply arrived in to the
// community whose prompts are posted there.
func (d *dispatcher) communityForRoom(room ref.RoomID) (ref.RoomID, bool) {
	for _, config := range d.store.Snapshot() {
		if config.AnnounceRoomID == room {
			return config.CommunityID, true
		}
	}
	return ref.RoomID{}, false
}

// splitCommand separates the command verb from its argument text.
func splitCommand(input string) (verb, rest string) {
	verb, rest, _ = strings.Cut(input, " ")
	return verb, strings.TrimSpace(rest)
}
