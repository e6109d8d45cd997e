package flows

import (
	"context"
	"errors"
	"strings"

	"schoolbot/internal/engine"
	"schoolbot/internal/school"
)

func (f *Flows) start(ctx context.Context, req engine.Request) (engine.Result, error) {
	u := req.User
	switch {
	case u == nil:
		return f.beginRegistration(req, "welcome")
	case u.Status == school.StatusPending:
		return engine.Finish(f.reply(req, engine.RemoveKeyboard(), "status_pending")), nil
	case u.Status == school.StatusRejected:
		return engine.Finish(f.reply(req, engine.Keyboard(f.t.Button("reregister")), "status_rejected")), nil
	default:
		return engine.Finish(f.reply(req, f.mainMenu(u), "welcome_back", "name", u.FullName)), nil
	}
}

func (f *Flows) reregister(ctx context.Context, req engine.Request) (engine.Result, error) {
	if req.User != nil && req.User.Status != school.StatusRejected {
		return engine.Stay(f.reply(req, nil, "already_registered")), nil
	}
	return f.beginRegistration(req, "choose_role")
}

func (f *Flows) beginRegistration(req engine.Request, msg string) (engine.Result, error) {
	menu := f.choices(f.t.Button("role_student"), f.t.Button("role_teacher"))
	return engine.Start(regRole, nil, f.reply(req, menu, msg)), nil
}

func (f *Flows) regRole(ctx context.Context, req engine.Request) (engine.Result, error) {
	body, _ := text(req.Event)
	var role school.Role
	switch {
	case f.t.IsButton("role_student", body):
		role = school.RoleStudent
	case f.t.IsButton("role_teacher", body):
		role = school.RoleTeacher
	default:
		return engine.Stay(f.reply(req, nil, "choose_role")), nil
	}
	return engine.Next(regName, map[string]string{keyRole: string(role)},
		f.reply(req, f.choices(), "ask_full_name")), nil
}

func (f *Flows) regName(ctx context.Context, req engine.Request) (engine.Result, error) {
	body, ok := text(req.Event)
	name := strings.Join(strings.Fields(body), " ")
	if !ok || len(strings.Fields(name)) < 2 {
		return engine.Stay(f.reply(req, nil, "full_name_invalid")), nil
	}
	data := map[string]string{keyName: name}

	if school.Role(req.Session.Get(keyRole)) != school.RoleStudent {
		return engine.Next(regCode, data, f.reply(req, f.choices(), "ask_access_code")), nil
	}
	groups, err := f.store.ListGroups(ctx)
	if err != nil {
		return engine.Result{}, err
	}
	if len(groups) == 0 {
		return engine.Finish(f.reply(req, engine.RemoveKeyboard(), "no_groups_yet")), nil
	}
	return engine.Next(regGroup, data, f.reply(req, f.choices(groupCodes(groups)...), "ask_group")), nil
}

func (f *Flows) regGroup(ctx context.Context, req engine.Request) (engine.Result, error) {
	body, ok := text(req.Event)
	if !ok {
		return engine.Stay(f.reply(req, nil, "ask_group")), nil
	}
	code := school.NormalizeGroupCode(body)
	g, err := f.store.GetGroup(ctx, code)
	if err != nil {
		return engine.Result{}, err
	}
	if g == nil {
		return engine.Stay(f.reply(req, nil, "group_not_found", "group", code)), nil
	}
	return engine.Next(regConfirm, map[string]string{keyGroup: code},
		f.reply(req, f.confirmMenu(), "confirm_student_registration",
			"name", req.Session.Get(keyName), "group", code)), nil
}

func (f *Flows) regCode(ctx context.Context, req engine.Request) (engine.Result, error) {
	body, _ := text(req.Event)
	var role school.Role
	switch {
	case f.adminCode != "" && body == f.adminCode:
		role = school.RoleAdmin
	case f.teacherCode != "" && body == f.teacherCode:
		role = school.RoleTeacher
	default:
		return engine.Stay(f.reply(req, nil, "access_code_invalid")), nil
	}
	return engine.Next(regConfirm, map[string]string{keyRole: string(role)},
		f.reply(req, f.confirmMenu(), "confirm_staff_registration",
			"name", req.Session.Get(keyName), "role", f.t.Msg("role_"+string(role)))), nil
}

func (f *Flows) regConfirm(ctx context.Context, req engine.Request) (engine.Result, error) {
	if !f.confirmed(req.Event) {
		return f.askConfirm(req)
	}
	u := school.User{
		ID:       req.Event.UserID,
		FullName: req.Session.Get(keyName),
		Role:     school.Role(req.Session.Get(keyRole)),
		Status:   school.StatusApproved,
	}
	if u.Role == school.RoleStudent {
		code := req.Session.Get(keyGroup)
		u.GroupCode = &code
		u.Status = school.StatusPending
	}
	if err := f.store.SaveUser(ctx, u); err != nil {
		return engine.Result{}, err
	}

	if u.Role != school.RoleStudent {
		return engine.Finish(f.reply(req, f.mainMenu(&u), "registered_staff", "name", u.FullName)), nil
	}
	actions := []engine.Outbound{f.reply(req, engine.RemoveKeyboard(), "registered_student", "group", u.Group())}
	g, err := f.store.GetGroup(ctx, u.Group())
	if err != nil {
		f.log.Warnf("registration: owner lookup for group %s: %v", u.Group(), err)
	} else if g != nil && g.OwnerID != nil {
		actions = append(actions, engine.Notify(*g.OwnerID, school.NotifyStatus,
			f.t.Msg("notify_new_request", "name", u.FullName, "group", u.Group())))
	}
	return engine.Finish(actions...), nil
}

// requests lists the pending students the caller may decide on: those of
// groups the caller owns or that have no owner yet. Admins see everyone.
func (f *Flows) requests(ctx context.Context, req engine.Request) (engine.Result, error) {
	pending, err := f.visiblePending(ctx, req.User)
	if err != nil {
		return engine.Result{}, err
	}
	if len(pending) == 0 {
		return engine.Finish(f.reply(req, f.mainMenu(req.User), "no_pending_requests")), nil
	}
	menu := &engine.Menu{Inline: true}
	for _, s := range pending {
		menu.Rows = append(menu.Rows, []engine.Button{
			{Text: f.t.Button("approve") + " " + s.FullName + " (" + s.Group() + ")", Data: cbApprove + itoa(s.ID)},
			{Text: f.t.Button("reject"), Data: cbReject + itoa(s.ID)},
		})
	}
	return engine.Start(reqChoose, nil, f.reply(req, menu, "pending_requests", "count", itoa(int64(len(pending))))), nil
}

func (f *Flows) visiblePending(ctx context.Context, u *school.User) ([]school.User, error) {
	all, err := f.store.PendingStudents(ctx)
	if err != nil {
		return nil, err
	}
	if u.Role == school.RoleAdmin {
		return all, nil
	}
	owners := make(map[string]*school.Group)
	var out []school.User
	for _, s := range all {
		g, seen := owners[s.Group()]
		if !seen {
			if g, err = f.store.GetGroup(ctx, s.Group()); err != nil {
				return nil, err
			}
			owners[s.Group()] = g
		}
		if g != nil && (g.OwnerID == nil || g.OwnedBy(u.ID)) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *Flows) reqChoose(ctx context.Context, req engine.Request) (engine.Result, error) {
	decision := "approve"
	id, ok := callbackInt(req.Event, cbApprove)
	if !ok {
		decision = "reject"
		id, ok = callbackInt(req.Event, cbReject)
	}
	if !ok {
		return engine.Stay(f.reply(req, nil, "use_buttons")), nil
	}
	pending, err := f.visiblePending(ctx, req.User)
	if err != nil {
		return engine.Result{}, err
	}
	var student *school.User
	for i := range pending {
		if pending[i].ID == id {
			student = &pending[i]
		}
	}
	if student == nil {
		return engine.Stay(f.reply(req, nil, "request_unavailable")), nil
	}
	return engine.Next(reqConfirm, map[string]string{keyStudent: itoa(id), keyDecision: decision},
		f.reply(req, f.confirmMenu(), "confirm_"+decision, "name", student.FullName, "group", student.Group())), nil
}

func (f *Flows) reqConfirm(ctx context.Context, req engine.Request) (engine.Result, error) {
	if !f.confirmed(req.Event) {
		return f.askConfirm(req)
	}
	id, _ := req.Session.Int64(keyStudent)
	student, err := f.store.GetUser(ctx, id)
	if err != nil {
		return engine.Result{}, err
	}
	if student == nil {
		return engine.Finish(f.reply(req, f.mainMenu(req.User), "request_unavailable")), nil
	}

	approve := req.Session.Get(keyDecision) == "approve"
	if approve {
		err = f.store.ApproveStudent(ctx, id, req.User.ID)
	} else {
		err = f.store.RejectStudent(ctx, id)
	}
	if errors.Is(err, school.ErrNotPending) || errors.Is(err, school.ErrNotFound) {
		return engine.Finish(f.reply(req, f.mainMenu(req.User), "request_unavailable")), nil
	}
	if err != nil {
		return engine.Result{}, err
	}

	if approve {
		return engine.Finish(
			f.reply(req, f.mainMenu(req.User), "request_approved", "name", student.FullName),
			engine.Notify(id, school.NotifyStatus, f.t.Msg("notify_approved", "group", student.Group())),
		), nil
	}
	return engine.Finish(
		f.reply(req, f.mainMenu(req.User), "request_rejected", "name", student.FullName),
		engine.Notify(id, school.NotifyStatus, f.t.Msg("notify_rejected")),
	), nil
}
