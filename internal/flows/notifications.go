package flows

import (
	"context"
	"errors"
	"strings"

	"schoolbot/internal/engine"
	"schoolbot/internal/school"
)

func (f *Flows) notifications(ctx context.Context, req engine.Request) (engine.Result, error) {
	unread, err := f.store.UnreadNotifications(ctx, req.User.ID)
	if err != nil {
		return engine.Result{}, err
	}
	if len(unread) == 0 {
		return engine.Finish(f.reply(req, f.mainMenu(req.User), "no_notifications")), nil
	}

	var b strings.Builder
	b.WriteString(f.t.Msg("notifications_header", "count", itoa(int64(len(unread)))))
	buttons := make([]engine.Button, 0, len(unread))
	for i, n := range unread {
		num := itoa(int64(i + 1))
		b.WriteString("\n\n" + num + ". [" + f.t.Msg("category_"+n.Category) + "] " +
			n.CreatedAt.Format("2006-01-02 15:04") + "\n" + n.Text)
		buttons = append(buttons, engine.Button{Text: f.t.Button("mark_read") + " " + num, Data: cbRead + n.ID})
	}
	return engine.Finish(engine.Reply(req.Event.UserID, b.String(), engine.Inline(buttons...))), nil
}

// readNotification marks one notification read. It leaves the session as it is
// so a pending workflow survives pressing an old button.
func (f *Flows) readNotification(ctx context.Context, req engine.Request) (engine.Result, error) {
	id, ok := callbackID(req.Event, cbRead)
	if !ok {
		return engine.Stay(f.reply(req, nil, "use_buttons")), nil
	}
	err := f.store.MarkNotificationRead(ctx, req.User.ID, id)
	if errors.Is(err, school.ErrNotFound) {
		return engine.Stay(f.reply(req, nil, "notification_not_found")), nil
	}
	if err != nil {
		return engine.Result{}, err
	}
	if req.Event.MessageID == "" {
		return engine.Stay(f.reply(req, nil, "notification_read")), nil
	}
	return engine.Stay(engine.Edit(req.Event.UserID, req.Event.MessageID, f.t.Msg("notification_read"))), nil
}
