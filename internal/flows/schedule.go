package flows

import (
	"context"
	"errors"
	"strings"

	"schoolbot/internal/engine"
	"schoolbot/internal/school"
)

const (
	schView = "view"
	schAdd  = "add"
	schEdit = "edit"

	recentChanges = 5
)

// schedule shows a student their group's timetable; staff get the view/add/edit menu.
func (f *Flows) schedule(ctx context.Context, req engine.Request) (engine.Result, error) {
	u := req.User
	if !u.Staff() {
		if u.Group() == "" {
			return engine.Finish(f.reply(req, f.mainMenu(u), "no_group")), nil
		}
		body, err := f.timetable(ctx, u.Group(), false)
		if err != nil {
			return engine.Result{}, err
		}
		return engine.Finish(engine.Reply(u.ID, body, f.mainMenu(u))), nil
	}
	menu := f.choices(f.t.Button("sch_view"), f.t.Button("sch_add"), f.t.Button("sch_edit"))
	return engine.Start(schAction, nil, f.reply(req, menu, "schedule_menu")), nil
}

// timetable renders a group's lessons, optionally followed by its latest changes.
func (f *Flows) timetable(ctx context.Context, group string, withChanges bool) (string, error) {
	lessons, err := f.store.Lessons(ctx, group)
	if err != nil {
		return "", err
	}
	if len(lessons) == 0 {
		return f.t.Msg("schedule_empty", "group", group), nil
	}
	var b strings.Builder
	b.WriteString(f.t.Msg("schedule_header", "group", group))
	for _, day := range f.t.Weekdays {
		for _, l := range lessons {
			if l.Weekday == day {
				b.WriteString("\n" + l.Summary())
			}
		}
	}
	if withChanges {
		changes, err := f.store.ScheduleChanges(ctx, group, recentChanges)
		if err != nil {
			return "", err
		}
		if len(changes) > 0 {
			b.WriteString("\n\n" + f.t.Msg("schedule_changes_header"))
			for _, c := range changes {
				b.WriteString("\n" + c.ChangedAt.Format("2006-01-02 15:04") + " " + f.t.Msg("change_"+c.Kind) + ": " + c.Summary)
			}
		}
	}
	return b.String(), nil
}

func (f *Flows) schAction(ctx context.Context, req engine.Request) (engine.Result, error) {
	body, _ := text(req.Event)
	var action string
	switch {
	case f.t.IsButton("sch_view", body):
		action = schView
	case f.t.IsButton("sch_add", body):
		action = schAdd
	case f.t.IsButton("sch_edit", body):
		action = schEdit
	default:
		return engine.Stay(f.reply(req, nil, "use_buttons")), nil
	}
	own, err := f.ownGroups(ctx, req.User)
	if err != nil {
		return engine.Result{}, err
	}
	if len(own) == 0 {
		return engine.Finish(f.reply(req, f.mainMenu(req.User), "no_own_groups")), nil
	}
	return engine.Next(schGroup, map[string]string{keyAction: action},
		f.reply(req, f.choices(groupCodes(own)...), "ask_schedule_group")), nil
}

func (f *Flows) schGroup(ctx context.Context, req engine.Request) (engine.Result, error) {
	code, ok, err := f.pickOwnGroup(ctx, req)
	if err != nil {
		return engine.Result{}, err
	}
	if !ok {
		return engine.Stay(f.reply(req, nil, "pick_listed_group")), nil
	}

	switch req.Session.Get(keyAction) {
	case schAdd:
		return engine.Next(schWeekday, map[string]string{keyGroup: code},
			f.reply(req, f.choices(f.t.Weekdays...), "ask_weekday")), nil
	case schEdit:
		lessons, err := f.store.Lessons(ctx, code)
		if err != nil {
			return engine.Result{}, err
		}
		if len(lessons) == 0 {
			return engine.Finish(f.reply(req, f.mainMenu(req.User), "schedule_empty", "group", code)), nil
		}
		buttons := make([]engine.Button, 0, len(lessons))
		for _, l := range lessons {
			buttons = append(buttons, engine.Button{Text: l.Summary(), Data: cbLesson + l.ID})
		}
		return engine.Next(schLesson, map[string]string{keyGroup: code},
			f.reply(req, engine.Inline(buttons...), "ask_lesson")), nil
	}

	body, err := f.timetable(ctx, code, true)
	if err != nil {
		return engine.Result{}, err
	}
	return engine.Finish(engine.Reply(req.Event.UserID, body, f.mainMenu(req.User))), nil
}

func (f *Flows) schLesson(ctx context.Context, req engine.Request) (engine.Result, error) {
	id, ok := callbackID(req.Event, cbLesson)
	if !ok {
		return engine.Stay(f.reply(req, nil, "use_buttons")), nil
	}
	l, err := f.store.GetLesson(ctx, id)
	if err != nil {
		return engine.Result{}, err
	}
	if l == nil || l.GroupCode != req.Session.Get(keyGroup) {
		return engine.Stay(f.reply(req, nil, "lesson_not_found")), nil
	}
	menu := f.choices(f.t.Button("sch_change"), f.t.Button("sch_delete"))
	return engine.Next(schLessonAction, map[string]string{keyLesson: l.ID},
		f.reply(req, menu, "lesson_selected", "lesson", l.Summary())), nil
}

func (f *Flows) schLessonAction(ctx context.Context, req engine.Request) (engine.Result, error) {
	body, _ := text(req.Event)
	switch {
	case f.t.IsButton("sch_change", body):
		return engine.Next(schWeekday, nil, f.reply(req, f.choices(f.t.Weekdays...), "ask_weekday")), nil
	case f.t.IsButton("sch_delete", body):
		l, err := f.selectedLesson(ctx, req)
		if err != nil {
			return engine.Result{}, err
		}
		if l == nil {
			return engine.Finish(f.reply(req, f.mainMenu(req.User), "lesson_not_found")), nil
		}
		return engine.Next(schDeleteConfirm, nil,
			f.reply(req, f.confirmMenu(), "confirm_lesson_delete", "lesson", l.Summary(), "group", l.GroupCode)), nil
	}
	return engine.Stay(f.reply(req, nil, "use_buttons")), nil
}

func (f *Flows) selectedLesson(ctx context.Context, req engine.Request) (*school.Lesson, error) {
	return f.store.GetLesson(ctx, req.Session.Get(keyLesson))
}

func (f *Flows) schWeekday(ctx context.Context, req engine.Request) (engine.Result, error) {
	body, ok := text(req.Event)
	if !ok || !f.t.Weekday(body) {
		return engine.Stay(f.reply(req, nil, "weekday_invalid")), nil
	}
	return engine.Next(schTime, map[string]string{keyWeekday: body}, f.reply(req, f.choices(), "ask_time")), nil
}

func (f *Flows) schTime(ctx context.Context, req engine.Request) (engine.Result, error) {
	body, _ := text(req.Event)
	hhmm, ok := school.ParseLessonTime(body)
	if !ok {
		return engine.Stay(f.reply(req, nil, "time_invalid")), nil
	}
	return engine.Next(schSubject, map[string]string{keyTime: hhmm},
		f.reply(req, f.choices(f.t.Subjects...), "ask_subject")), nil
}

func (f *Flows) schSubject(ctx context.Context, req engine.Request) (engine.Result, error) {
	body, ok := text(req.Event)
	if !ok || !f.t.Subject(body) {
		return engine.Stay(f.reply(req, nil, "subject_invalid")), nil
	}
	l := f.draftLesson(req)
	l.Subject = body
	msg := "confirm_lesson_add"
	if l.ID != "" {
		msg = "confirm_lesson_update"
	}
	return engine.Next(schConfirm, map[string]string{keySubject: body},
		f.reply(req, f.confirmMenu(), msg, "lesson", l.Summary(), "group", l.GroupCode)), nil
}

// draftLesson assembles the lesson being added or edited from scratch data.
func (f *Flows) draftLesson(req engine.Request) school.Lesson {
	return school.Lesson{
		ID:        req.Session.Get(keyLesson),
		GroupCode: req.Session.Get(keyGroup),
		Weekday:   req.Session.Get(keyWeekday),
		StartsAt:  req.Session.Get(keyTime),
		Subject:   req.Session.Get(keySubject),
	}
}

func (f *Flows) schConfirm(ctx context.Context, req engine.Request) (engine.Result, error) {
	if !f.confirmed(req.Event) {
		return f.askConfirm(req)
	}
	l := f.draftLesson(req)
	notice := "notify_lesson_added"
	if l.ID == "" {
		if _, err := f.store.AddLesson(ctx, l, req.User.ID); err != nil {
			return engine.Result{}, err
		}
	} else {
		notice = "notify_lesson_updated"
		err := f.store.UpdateLesson(ctx, l, req.User.ID)
		if errors.Is(err, school.ErrNotFound) {
			return engine.Finish(f.reply(req, f.mainMenu(req.User), "lesson_not_found")), nil
		}
		if err != nil {
			return engine.Result{}, err
		}
	}
	return f.scheduleChanged(ctx, req, l, notice)
}

func (f *Flows) schDeleteConfirm(ctx context.Context, req engine.Request) (engine.Result, error) {
	if !f.confirmed(req.Event) {
		return f.askConfirm(req)
	}
	l, err := f.selectedLesson(ctx, req)
	if err != nil {
		return engine.Result{}, err
	}
	if l == nil {
		return engine.Finish(f.reply(req, f.mainMenu(req.User), "lesson_not_found")), nil
	}
	err = f.store.DeleteLesson(ctx, l.ID, req.User.ID)
	if errors.Is(err, school.ErrNotFound) {
		return engine.Finish(f.reply(req, f.mainMenu(req.User), "lesson_not_found")), nil
	}
	if err != nil {
		return engine.Result{}, err
	}
	return f.scheduleChanged(ctx, req, *l, "notify_lesson_deleted")
}

// scheduleChanged confirms a committed change to the teacher and notifies the group's students.
func (f *Flows) scheduleChanged(ctx context.Context, req engine.Request, l school.Lesson, notice string) (engine.Result, error) {
	actions := []engine.Outbound{f.reply(req, f.mainMenu(req.User), "schedule_saved", "group", l.GroupCode)}
	students, err := f.store.StudentsInGroup(ctx, l.GroupCode)
	if err != nil {
		// the change is committed; only the fan-out is lost
		f.log.Errorf("schedule: list students of %s for notification: %v", l.GroupCode, err)
		return engine.Finish(actions...), nil
	}
	msg := f.t.Msg(notice, "lesson", l.Summary(), "group", l.GroupCode)
	for _, s := range students {
		actions = append(actions, engine.Notify(s.ID, school.NotifySchedule, msg))
	}
	return engine.Finish(actions...), nil
}
