package flows

import (
	"context"
	"strconv"
	"strings"

	"schoolbot/internal/engine"
	"schoolbot/internal/school"
)

const (
	minGrade = 0
	maxGrade = 100

	// latest grades shown per student in a teacher's listing
	givenPerStudent = 3

	noComment = "-"
)

func (f *Flows) grades(ctx context.Context, req engine.Request) (engine.Result, error) {
	u := req.User
	if u.Staff() {
		menu := f.choices(f.t.Button("grd_given"), f.t.Button("grd_set"))
		return engine.Start(grdAction, nil, f.reply(req, menu, "grades_menu")), nil
	}

	list, err := f.store.StudentGrades(ctx, u.ID)
	if err != nil {
		return engine.Result{}, err
	}
	if len(list) == 0 {
		return engine.Finish(f.reply(req, f.mainMenu(u), "no_grades")), nil
	}
	var b strings.Builder
	b.WriteString(f.t.Msg("grades_header"))
	subject := ""
	for _, g := range list {
		if g.Subject != subject {
			subject = g.Subject
			b.WriteString("\n\n" + subject + ":")
		}
		b.WriteString("\n  " + formatGrade(g))
	}
	return engine.Finish(engine.Reply(u.ID, b.String(), f.mainMenu(u))), nil
}

func formatGrade(g school.Grade) string {
	s := g.GivenAt.Format("2006-01-02") + " " + strconv.Itoa(g.Value)
	if g.Comment != "" {
		s += " (" + g.Comment + ")"
	}
	return s
}

func (f *Flows) grdAction(ctx context.Context, req engine.Request) (engine.Result, error) {
	body, _ := text(req.Event)
	switch {
	case f.t.IsButton("grd_given", body):
		return f.gradesGiven(ctx, req)
	case f.t.IsButton("grd_set", body):
		own, err := f.ownGroups(ctx, req.User)
		if err != nil {
			return engine.Result{}, err
		}
		if len(own) == 0 {
			return engine.Finish(f.reply(req, f.mainMenu(req.User), "no_own_groups")), nil
		}
		return engine.Next(grdGroup, nil, f.reply(req, f.choices(groupCodes(own)...), "ask_grade_group")), nil
	}
	return engine.Stay(f.reply(req, nil, "use_buttons")), nil
}

func (f *Flows) gradesGiven(ctx context.Context, req engine.Request) (engine.Result, error) {
	given, err := f.store.GradesGivenBy(ctx, req.User.ID, givenPerStudent)
	if err != nil {
		return engine.Result{}, err
	}
	if len(given) == 0 {
		return engine.Finish(f.reply(req, f.mainMenu(req.User), "no_grades_given")), nil
	}
	var b strings.Builder
	b.WriteString(f.t.Msg("grades_given_header"))
	for _, g := range given {
		b.WriteString("\n" + g.StudentName + ", " + g.Subject + ": " + formatGrade(g.Grade))
	}
	return engine.Finish(engine.Reply(req.Event.UserID, b.String(), f.mainMenu(req.User))), nil
}

func (f *Flows) grdGroup(ctx context.Context, req engine.Request) (engine.Result, error) {
	code, ok, err := f.pickOwnGroup(ctx, req)
	if err != nil {
		return engine.Result{}, err
	}
	if !ok {
		return engine.Stay(f.reply(req, nil, "pick_listed_group")), nil
	}
	students, err := f.store.StudentsInGroup(ctx, code)
	if err != nil {
		return engine.Result{}, err
	}
	if len(students) == 0 {
		return engine.Stay(f.reply(req, nil, "group_has_no_students", "group", code)), nil
	}
	buttons := make([]engine.Button, 0, len(students))
	for _, s := range students {
		buttons = append(buttons, engine.Button{Text: s.FullName, Data: cbGradeStudent + itoa(s.ID)})
	}
	return engine.Next(grdStudent, map[string]string{keyGroup: code},
		f.reply(req, engine.Inline(buttons...), "ask_grade_student", "group", code)), nil
}

func (f *Flows) grdStudent(ctx context.Context, req engine.Request) (engine.Result, error) {
	id, ok := callbackInt(req.Event, cbGradeStudent)
	if !ok {
		return engine.Stay(f.reply(req, nil, "use_buttons")), nil
	}
	student, err := f.store.GetUser(ctx, id)
	if err != nil {
		return engine.Result{}, err
	}
	group := req.Session.Get(keyGroup)
	if student == nil || !student.Approved() || student.Group() != group {
		return engine.Stay(f.reply(req, nil, "student_not_in_group", "group", group)), nil
	}
	return engine.Next(grdSubject, map[string]string{keyStudent: itoa(id), keyName: student.FullName},
		f.reply(req, f.choices(f.t.Subjects...), "ask_subject")), nil
}

func (f *Flows) grdSubject(ctx context.Context, req engine.Request) (engine.Result, error) {
	body, ok := text(req.Event)
	if !ok || !f.t.Subject(body) {
		return engine.Stay(f.reply(req, nil, "subject_invalid")), nil
	}
	return engine.Next(grdValue, map[string]string{keySubject: body}, f.reply(req, f.choices(), "ask_grade_value")), nil
}

func (f *Flows) grdValue(ctx context.Context, req engine.Request) (engine.Result, error) {
	body, _ := text(req.Event)
	v, err := strconv.Atoi(body)
	if err != nil || v < minGrade || v > maxGrade {
		return engine.Stay(f.reply(req, nil, "grade_value_invalid")), nil
	}
	return engine.Next(grdComment, map[string]string{keyValue: strconv.Itoa(v)},
		f.reply(req, f.choices(noComment), "ask_grade_comment")), nil
}

func (f *Flows) grdComment(ctx context.Context, req engine.Request) (engine.Result, error) {
	body, ok := text(req.Event)
	if !ok || body == "" {
		return engine.Stay(f.reply(req, nil, "ask_grade_comment")), nil
	}
	comment := body
	shown := body
	if body == noComment {
		shown = f.t.Msg("no_comment")
	}
	return engine.Next(grdConfirm, map[string]string{keyComment: comment},
		f.reply(req, f.confirmMenu(), "confirm_grade",
			"name", req.Session.Get(keyName),
			"subject", req.Session.Get(keySubject),
			"value", req.Session.Get(keyValue),
			"comment", shown)), nil
}

func (f *Flows) grdConfirm(ctx context.Context, req engine.Request) (engine.Result, error) {
	if !f.confirmed(req.Event) {
		return f.askConfirm(req)
	}
	studentID, _ := req.Session.Int64(keyStudent)
	value, _ := strconv.Atoi(req.Session.Get(keyValue))
	comment := req.Session.Get(keyComment)
	if comment == noComment {
		comment = ""
	}
	g, err := f.store.AddGrade(ctx, school.Grade{
		StudentID: studentID,
		TeacherID: req.User.ID,
		Subject:   req.Session.Get(keySubject),
		Value:     value,
		Comment:   comment,
	})
	if err != nil {
		return engine.Result{}, err
	}
	return engine.Finish(
		f.reply(req, f.mainMenu(req.User), "grade_saved", "name", req.Session.Get(keyName)),
		engine.Notify(studentID, school.NotifyGrade, f.t.Msg("notify_grade",
			"subject", g.Subject, "value", strconv.Itoa(g.Value), "teacher", req.User.FullName)),
	), nil
}
