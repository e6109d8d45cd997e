// Package flows holds the conversational workflows and the routing table that
// binds them to the engine.
package flows

import (
	"context"
	"strconv"
	"strings"

	"schoolbot/internal/access"
	"schoolbot/internal/attendance"
	"schoolbot/internal/engine"
	"schoolbot/internal/logging"
	"schoolbot/internal/school"
	"schoolbot/internal/session"
	"schoolbot/internal/texts"
)

// ImageHost publishes an image and returns a URL the transport can send.
type ImageHost interface {
	UploadPNG(ctx context.Context, png []byte, name string) (string, error)
}

// Deps are the collaborators of the workflows.
type Deps struct {
	Store    school.Store
	Verifier *attendance.Verifier
	Issuer   *attendance.Issuer
	// Images is optional.
	Images      ImageHost
	Texts       *texts.Catalog
	Logger      logging.Logger
	TeacherCode string
	AdminCode   string
}

// Flows implements every workflow handler.
type Flows struct {
	store       school.Store
	verifier    *attendance.Verifier
	issuer      *attendance.Issuer
	images      ImageHost
	t           *texts.Catalog
	log         logging.Logger
	teacherCode string
	adminCode   string
}

// New creates the workflows.
func New(d Deps) *Flows {
	if d.Texts == nil {
		d.Texts = texts.Default()
	}
	if d.Logger == nil {
		d.Logger = logging.Nop()
	}
	if d.Issuer == nil {
		d.Issuer = attendance.NewIssuer(nil)
	}
	return &Flows{
		store:       d.Store,
		verifier:    d.Verifier,
		issuer:      d.Issuer,
		images:      d.Images,
		t:           d.Texts,
		log:         d.Logger,
		teacherCode: d.TeacherCode,
		adminCode:   d.AdminCode,
	}
}

// Router builds the routing table. Wildcard routes come first and are tried
// in the order listed here.
func (f *Flows) Router() *engine.Router {
	r := engine.NewRouter()
	cmd := func(name, button string) engine.Matcher {
		return engine.Or(engine.OnCommand(name), engine.OnText(f.t.Button(button)))
	}

	r.Add(
		engine.Route{Name: "cancel", State: engine.AnyState, Match: cmd("cancel", "cancel"), Handle: f.cancel},
		engine.Route{Name: "start", State: engine.AnyState, Match: engine.OnCommand("start"), Gate: access.Registration, Handle: f.start},
		engine.Route{Name: "reregister", State: engine.AnyState, Match: cmd("register", "reregister"), Gate: access.Registration, Handle: f.reregister},
		engine.Route{Name: "help", State: engine.AnyState, Match: engine.OnCommand("help"), Handle: f.help},
		engine.Route{Name: "schedule", State: engine.AnyState, Match: cmd("schedule", "menu_schedule"), Gate: access.ScheduleView, Handle: f.schedule},
		engine.Route{Name: "grades", State: engine.AnyState, Match: cmd("grades", "menu_grades"), Gate: access.GradesView, Handle: f.grades},
		engine.Route{Name: "notifications", State: engine.AnyState, Match: cmd("notifications", "menu_notifications"), Gate: access.Notifications, Handle: f.notifications},
		engine.Route{Name: "groups", State: engine.AnyState, Match: cmd("groups", "menu_groups"), Gate: access.GroupManagement, Handle: f.groups},
		engine.Route{Name: "requests", State: engine.AnyState, Match: cmd("requests", "menu_requests"), Gate: access.Requests, Handle: f.requests},
		engine.Route{Name: "qr", State: engine.AnyState, Match: cmd("qr", "menu_qr"), Gate: access.TokenIssue, Handle: f.qr},
		engine.Route{Name: "checkin", State: engine.AnyState, Match: cmd("checkin", "menu_checkin"), Gate: access.CheckIn, Handle: f.checkin},
		engine.Route{Name: "delete_profile", State: engine.AnyState, Match: cmd("delete_profile", "menu_profile_delete"), Gate: access.ProfileDelete, Handle: f.deleteProfile},
		engine.Route{Name: "read_notification", State: engine.AnyState, Match: engine.OnCallback(cbRead), Gate: access.Notifications, Handle: f.readNotification},
	)

	r.Add(engine.Route{Name: "submit_attendance", State: session.Idle, Match: engine.OnPhoto, Gate: access.CheckIn, Handle: f.submitAttendance})

	scoped := []struct {
		state session.State
		gate  access.Workflow
		h     engine.Handler
	}{
		{regRole, access.Registration, f.regRole},
		{regName, access.Registration, f.regName},
		{regGroup, access.Registration, f.regGroup},
		{regCode, access.Registration, f.regCode},
		{regConfirm, access.Registration, f.regConfirm},

		{reqChoose, access.Requests, f.reqChoose},
		{reqConfirm, access.Requests, f.reqConfirm},

		{grpAction, access.GroupManagement, f.grpAction},
		{grpNewCode, access.GroupManagement, f.grpNewCode},
		{grpAddConfirm, access.GroupManagement, f.grpAddConfirm},
		{grpDeletePick, access.GroupManagement, f.grpDeletePick},
		{grpDeleteConfirm, access.GroupManagement, f.grpDeleteConfirm},
		{grpSource, access.GroupManagement, f.grpSource},
		{grpStudent, access.GroupManagement, f.grpStudent},
		{grpTarget, access.GroupManagement, f.grpTarget},
		{grpTransferConfirm, access.GroupManagement, f.grpTransferConfirm},

		{schAction, access.ScheduleView, f.schAction},
		{schGroup, access.ScheduleView, f.schGroup},
		{schLesson, access.ScheduleEdit, f.schLesson},
		{schLessonAction, access.ScheduleEdit, f.schLessonAction},
		{schWeekday, access.ScheduleEdit, f.schWeekday},
		{schTime, access.ScheduleEdit, f.schTime},
		{schSubject, access.ScheduleEdit, f.schSubject},
		{schConfirm, access.ScheduleEdit, f.schConfirm},
		{schDeleteConfirm, access.ScheduleEdit, f.schDeleteConfirm},

		{grdAction, access.GradesView, f.grdAction},
		{grdGroup, access.GradeEntry, f.grdGroup},
		{grdStudent, access.GradeEntry, f.grdStudent},
		{grdSubject, access.GradeEntry, f.grdSubject},
		{grdValue, access.GradeEntry, f.grdValue},
		{grdComment, access.GradeEntry, f.grdComment},
		{grdConfirm, access.GradeEntry, f.grdConfirm},

		{qrGroup, access.TokenIssue, f.qrGroup},
		{qrSubject, access.TokenIssue, f.qrSubject},

		{profConfirm, access.ProfileDelete, f.profConfirm},
	}
	for _, s := range scoped {
		r.Add(engine.Route{Name: string(s.state), State: s.state, Gate: s.gate, Handle: s.h})
	}

	r.Fallback("unknown", f.unknown)
	return r
}

// reply answers the caller with a catalog message.
func (f *Flows) reply(req engine.Request, menu *engine.Menu, id string, kv ...string) engine.Outbound {
	return engine.Reply(req.Event.UserID, f.t.Msg(id, kv...), menu)
}

// choices is a reply keyboard of labels followed by the cancel button.
func (f *Flows) choices(labels ...string) *engine.Menu {
	return engine.Keyboard(append(append([]string(nil), labels...), f.t.Button("cancel"))...)
}

func (f *Flows) confirmMenu() *engine.Menu {
	return engine.Keyboard(f.t.Button("confirm"), f.t.Button("cancel"))
}

// confirmed reports whether the event is the affirmative answer of a confirmation step.
func (f *Flows) confirmed(ev engine.Event) bool {
	return ev.Kind == engine.KindText && f.t.IsButton("confirm", ev.Body)
}

// askConfirm keeps the session in its confirmation state until the caller confirms or cancels.
func (f *Flows) askConfirm(req engine.Request) (engine.Result, error) {
	return engine.Stay(f.reply(req, f.confirmMenu(), "confirm_prompt")), nil
}

func text(ev engine.Event) (string, bool) {
	if ev.Kind != engine.KindText {
		return "", false
	}
	return strings.TrimSpace(ev.Body), true
}

// callbackID extracts the value of a "prefix<value>" callback token.
func callbackID(ev engine.Event, prefix string) (string, bool) {
	if ev.Kind != engine.KindCallback || !strings.HasPrefix(ev.Body, prefix) {
		return "", false
	}
	v := strings.TrimPrefix(ev.Body, prefix)
	return v, v != ""
}

func callbackInt(ev engine.Event, prefix string) (int64, bool) {
	v, ok := callbackID(ev, prefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	return n, err == nil
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

// mainMenu is the reply keyboard of the workflows u may enter.
func (f *Flows) mainMenu(u *school.User) *engine.Menu {
	buttons := map[access.Workflow]string{
		access.ScheduleView:    "menu_schedule",
		access.GradesView:      "menu_grades",
		access.Notifications:   "menu_notifications",
		access.CheckIn:         "menu_checkin",
		access.GroupManagement: "menu_groups",
		access.Requests:        "menu_requests",
		access.TokenIssue:      "menu_qr",
		access.ProfileDelete:   "menu_profile_delete",
	}
	var labels []string
	for _, w := range access.Workflows(u) {
		if id, ok := buttons[w]; ok {
			labels = append(labels, f.t.Button(id))
		}
	}
	if len(labels) == 0 {
		return engine.RemoveKeyboard()
	}
	return engine.Keyboard(labels...)
}

// ownGroups lists the groups u manages: every group for admins, owned ones for teachers.
func (f *Flows) ownGroups(ctx context.Context, u *school.User) ([]school.Group, error) {
	if u != nil && u.Role == school.RoleAdmin {
		return f.store.ListGroups(ctx)
	}
	return f.store.GroupsOwnedBy(ctx, u.ID)
}

func groupCodes(gs []school.Group) []string {
	out := make([]string, 0, len(gs))
	for _, g := range gs {
		out = append(out, g.Code)
	}
	return out
}

func hasGroup(gs []school.Group, code string) bool {
	for _, g := range gs {
		if g.Code == code {
			return true
		}
	}
	return false
}

func (f *Flows) cancel(_ context.Context, req engine.Request) (engine.Result, error) {
	if req.Session.IsIdle() {
		return engine.Stay(f.reply(req, nil, "nothing_to_cancel")), nil
	}
	return engine.Finish(f.reply(req, f.mainMenu(req.User), "cancelled")), nil
}

func (f *Flows) help(_ context.Context, req engine.Request) (engine.Result, error) {
	key := "help_guest"
	switch {
	case req.User.Approved() && req.User.Staff():
		key = "help_teacher"
	case req.User.Approved():
		key = "help_student"
	}
	return engine.Stay(f.reply(req, nil, key)), nil
}

func (f *Flows) unknown(_ context.Context, req engine.Request) (engine.Result, error) {
	if !req.Session.IsIdle() {
		return engine.Stay(f.reply(req, nil, "unexpected_input")), nil
	}
	var menu *engine.Menu
	if req.User.Approved() {
		menu = f.mainMenu(req.User)
	}
	return engine.Stay(f.reply(req, menu, "unknown_command")), nil
}
