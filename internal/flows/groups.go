package flows

import (
	"context"
	"errors"
	"strings"

	"schoolbot/internal/engine"
	"schoolbot/internal/school"
)

const (
	grpAdd      = "add"
	grpDelete   = "delete"
	grpTransfer = "transfer"
)

func (f *Flows) groups(ctx context.Context, req engine.Request) (engine.Result, error) {
	menu := f.choices(f.t.Button("grp_view"), f.t.Button("grp_add"), f.t.Button("grp_delete"), f.t.Button("grp_transfer"))
	return engine.Start(grpAction, nil, f.reply(req, menu, "groups_menu")), nil
}

func (f *Flows) grpAction(ctx context.Context, req engine.Request) (engine.Result, error) {
	body, _ := text(req.Event)
	switch {
	case f.t.IsButton("grp_view", body):
		return f.viewGroups(ctx, req)
	case f.t.IsButton("grp_add", body):
		return engine.Next(grpNewCode, map[string]string{keyAction: grpAdd}, f.reply(req, f.choices(), "ask_new_group_code")), nil
	case f.t.IsButton("grp_delete", body), f.t.IsButton("grp_transfer", body):
		own, err := f.ownGroups(ctx, req.User)
		if err != nil {
			return engine.Result{}, err
		}
		if len(own) == 0 {
			return engine.Finish(f.reply(req, f.mainMenu(req.User), "no_own_groups")), nil
		}
		if f.t.IsButton("grp_delete", body) {
			return engine.Next(grpDeletePick, map[string]string{keyAction: grpDelete},
				f.reply(req, f.choices(groupCodes(own)...), "ask_group_to_delete")), nil
		}
		return engine.Next(grpSource, map[string]string{keyAction: grpTransfer},
			f.reply(req, f.choices(groupCodes(own)...), "ask_source_group")), nil
	}
	return engine.Stay(f.reply(req, nil, "use_buttons")), nil
}

func (f *Flows) viewGroups(ctx context.Context, req engine.Request) (engine.Result, error) {
	own, err := f.ownGroups(ctx, req.User)
	if err != nil {
		return engine.Result{}, err
	}
	if len(own) == 0 {
		return engine.Finish(f.reply(req, f.mainMenu(req.User), "no_own_groups")), nil
	}
	var b strings.Builder
	for _, g := range own {
		members, err := f.store.StudentsInGroup(ctx, g.Code)
		if err != nil {
			return engine.Result{}, err
		}
		b.WriteString(f.t.Msg("group_line", "group", g.Code, "count", itoa(int64(len(members)))))
		for _, m := range members {
			b.WriteString("\n  " + m.FullName)
		}
		b.WriteString("\n")
	}
	return engine.Finish(engine.Reply(req.Event.UserID, strings.TrimSpace(b.String()), f.mainMenu(req.User))), nil
}

func (f *Flows) grpNewCode(ctx context.Context, req engine.Request) (engine.Result, error) {
	body, _ := text(req.Event)
	code := school.NormalizeGroupCode(body)
	if !school.ValidGroupCode(code) {
		return engine.Stay(f.reply(req, nil, "group_code_invalid")), nil
	}
	existing, err := f.store.GetGroup(ctx, code)
	if err != nil {
		return engine.Result{}, err
	}
	if existing != nil {
		return engine.Stay(f.reply(req, nil, "group_exists", "group", code)), nil
	}
	return engine.Next(grpAddConfirm, map[string]string{keyGroup: code},
		f.reply(req, f.confirmMenu(), "confirm_group_add", "group", code)), nil
}

func (f *Flows) grpAddConfirm(ctx context.Context, req engine.Request) (engine.Result, error) {
	if !f.confirmed(req.Event) {
		return f.askConfirm(req)
	}
	g := school.Group{Code: req.Session.Get(keyGroup)}
	if req.User.Role == school.RoleTeacher {
		owner := req.User.ID
		g.OwnerID = &owner
	}
	err := f.store.CreateGroup(ctx, g)
	if errors.Is(err, school.ErrGroupExists) {
		return engine.Finish(f.reply(req, f.mainMenu(req.User), "group_exists", "group", g.Code)), nil
	}
	if err != nil {
		return engine.Result{}, err
	}
	return engine.Finish(f.reply(req, f.mainMenu(req.User), "group_added", "group", g.Code)), nil
}

// pickOwnGroup resolves a free-text group choice among the groups the caller manages.
func (f *Flows) pickOwnGroup(ctx context.Context, req engine.Request) (string, bool, error) {
	body, ok := text(req.Event)
	if !ok {
		return "", false, nil
	}
	code := school.NormalizeGroupCode(body)
	own, err := f.ownGroups(ctx, req.User)
	if err != nil {
		return "", false, err
	}
	return code, hasGroup(own, code), nil
}

func (f *Flows) grpDeletePick(ctx context.Context, req engine.Request) (engine.Result, error) {
	code, ok, err := f.pickOwnGroup(ctx, req)
	if err != nil {
		return engine.Result{}, err
	}
	if !ok {
		return engine.Stay(f.reply(req, nil, "pick_listed_group")), nil
	}
	members, err := f.store.StudentsInGroup(ctx, code)
	if err != nil {
		return engine.Result{}, err
	}
	if len(members) > 0 {
		return engine.Stay(f.reply(req, nil, "group_not_empty", "group", code, "count", itoa(int64(len(members))))), nil
	}
	pending, err := f.store.PendingStudents(ctx)
	if err != nil {
		return engine.Result{}, err
	}
	waiting := 0
	for _, u := range pending {
		if u.Group() == code {
			waiting++
		}
	}
	if waiting > 0 {
		return engine.Stay(f.reply(req, nil, "group_has_requests", "group", code, "count", itoa(int64(waiting)))), nil
	}
	return engine.Next(grpDeleteConfirm, map[string]string{keyGroup: code},
		f.reply(req, f.confirmMenu(), "confirm_group_delete", "group", code)), nil
}

func (f *Flows) grpDeleteConfirm(ctx context.Context, req engine.Request) (engine.Result, error) {
	if !f.confirmed(req.Event) {
		return f.askConfirm(req)
	}
	code := req.Session.Get(keyGroup)
	err := f.store.DeleteGroup(ctx, code)
	switch {
	case errors.Is(err, school.ErrGroupNotEmpty):
		return engine.Finish(f.reply(req, f.mainMenu(req.User), "group_not_empty_now", "group", code)), nil
	case errors.Is(err, school.ErrNotFound):
		return engine.Finish(f.reply(req, f.mainMenu(req.User), "group_not_found", "group", code)), nil
	case err != nil:
		return engine.Result{}, err
	}
	return engine.Finish(f.reply(req, f.mainMenu(req.User), "group_deleted", "group", code)), nil
}

func (f *Flows) grpSource(ctx context.Context, req engine.Request) (engine.Result, error) {
	code, ok, err := f.pickOwnGroup(ctx, req)
	if err != nil {
		return engine.Result{}, err
	}
	if !ok {
		return engine.Stay(f.reply(req, nil, "pick_listed_group")), nil
	}
	members, err := f.store.StudentsInGroup(ctx, code)
	if err != nil {
		return engine.Result{}, err
	}
	if len(members) == 0 {
		return engine.Stay(f.reply(req, nil, "group_has_no_students", "group", code)), nil
	}
	buttons := make([]engine.Button, 0, len(members))
	for _, m := range members {
		buttons = append(buttons, engine.Button{Text: m.FullName, Data: cbStudent + itoa(m.ID)})
	}
	return engine.Next(grpStudent, map[string]string{keyGroup: code},
		f.reply(req, engine.Inline(buttons...), "ask_student_to_transfer", "group", code)), nil
}

func (f *Flows) grpStudent(ctx context.Context, req engine.Request) (engine.Result, error) {
	id, ok := callbackInt(req.Event, cbStudent)
	if !ok {
		return engine.Stay(f.reply(req, nil, "use_buttons")), nil
	}
	source := req.Session.Get(keyGroup)
	student, err := f.store.GetUser(ctx, id)
	if err != nil {
		return engine.Result{}, err
	}
	if student == nil || student.Group() != source {
		return engine.Stay(f.reply(req, nil, "student_not_in_group", "group", source)), nil
	}
	all, err := f.store.ListGroups(ctx)
	if err != nil {
		return engine.Result{}, err
	}
	var targets []string
	for _, g := range all {
		if g.Code != source {
			targets = append(targets, g.Code)
		}
	}
	if len(targets) == 0 {
		return engine.Finish(f.reply(req, f.mainMenu(req.User), "no_target_groups")), nil
	}
	return engine.Next(grpTarget, map[string]string{keyStudent: itoa(id), keyName: student.FullName},
		f.reply(req, f.choices(targets...), "ask_target_group", "name", student.FullName)), nil
}

func (f *Flows) grpTarget(ctx context.Context, req engine.Request) (engine.Result, error) {
	body, ok := text(req.Event)
	if !ok {
		return engine.Stay(f.reply(req, nil, "ask_target_group", "name", req.Session.Get(keyName))), nil
	}
	code := school.NormalizeGroupCode(body)
	if code == req.Session.Get(keyGroup) {
		return engine.Stay(f.reply(req, nil, "target_same_as_source")), nil
	}
	g, err := f.store.GetGroup(ctx, code)
	if err != nil {
		return engine.Result{}, err
	}
	if g == nil {
		return engine.Stay(f.reply(req, nil, "group_not_found", "group", code)), nil
	}
	return engine.Next(grpTransferConfirm, map[string]string{keyTarget: code},
		f.reply(req, f.confirmMenu(), "confirm_transfer",
			"name", req.Session.Get(keyName), "from", req.Session.Get(keyGroup), "to", code)), nil
}

func (f *Flows) grpTransferConfirm(ctx context.Context, req engine.Request) (engine.Result, error) {
	if !f.confirmed(req.Event) {
		return f.askConfirm(req)
	}
	id, _ := req.Session.Int64(keyStudent)
	target := req.Session.Get(keyTarget)
	err := f.store.MoveStudent(ctx, id, target)
	if errors.Is(err, school.ErrNotFound) {
		return engine.Finish(f.reply(req, f.mainMenu(req.User), "transfer_failed")), nil
	}
	if err != nil {
		return engine.Result{}, err
	}
	return engine.Finish(
		f.reply(req, f.mainMenu(req.User), "student_transferred", "name", req.Session.Get(keyName), "to", target),
		engine.Notify(id, school.NotifyGroup, f.t.Msg("notify_transferred", "from", req.Session.Get(keyGroup), "to", target)),
	), nil
}
