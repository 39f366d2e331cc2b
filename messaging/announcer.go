// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"

	"github.com/bureau-foundation/checkin/lib/ref"
)

// Announcer performs the daily-cycle side effects over a Session. It
// implements the scheduler's announcer contract.
//
// Matrix threads root at an ordinary event, so "creating" the
// response thread means sending the first threaded reply under the
// prompt; the prompt's event ID is the thread ID from then on.
type Announcer struct {
	session *Session
}

// NewAnnouncer creates an Announcer over an authenticated session.
func NewAnnouncer(session *Session) *Announcer {
	return &Announcer{session: session}
}

// SendAnnouncement posts the daily prompt and returns its event ID.
func (a *Announcer) SendAnnouncement(ctx context.Context, room ref.RoomID, body string) (ref.EventID, error) {
	return a.session.SendMessage(ctx, room, NewTextMessage(body))
}

// CreateResponseThread opens the response thread under the prompt by
// sending its first threaded message, and returns the thread root ID
// (the prompt event itself).
func (a *Announcer) CreateResponseThread(ctx context.Context, room ref.RoomID, prompt ref.EventID, name string) (ref.EventID, error) {
	if _, err := a.session.SendMessage(ctx, room, NewThreadReply(prompt, name)); err != nil {
		return ref.EventID{}, err
	}
	return prompt, nil
}

// Notify pings the mentioned users inside the response thread. The
// mention list travels as structured m.mentions metadata alongside
// the body.
func (a *Announcer) Notify(ctx context.Context, room ref.RoomID, thread ref.EventID, body string, mentions []ref.UserID) error {
	content := NewThreadReply(thread, body)
	if len(mentions) > 0 {
		userIDs := make([]string, len(mentions))
		for i, user := range mentions {
			userIDs[i] = user.String()
		}
		content.Mentions = &Mentions{UserIDs: userIDs}
	}
	_, err := a.session.SendMessage(ctx, room, content)
	return err
}
