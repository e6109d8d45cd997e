package flows

import (
	"context"
	"fmt"

	"schoolbot/internal/attendance"
	"schoolbot/internal/engine"
	"schoolbot/internal/metrics"
	"schoolbot/internal/school"
)

func (f *Flows) qr(ctx context.Context, req engine.Request) (engine.Result, error) {
	own, err := f.ownGroups(ctx, req.User)
	if err != nil {
		return engine.Result{}, err
	}
	if len(own) == 0 {
		return engine.Finish(f.reply(req, f.mainMenu(req.User), "no_own_groups")), nil
	}
	buttons := make([]engine.Button, 0, len(own))
	for _, g := range own {
		buttons = append(buttons, engine.Button{Text: g.Code, Data: cbQRGroup + g.Code})
	}
	return engine.Start(qrGroup, nil, f.reply(req, engine.Inline(buttons...), "ask_qr_group")), nil
}

func (f *Flows) qrGroup(ctx context.Context, req engine.Request) (engine.Result, error) {
	code, ok := callbackID(req.Event, cbQRGroup)
	if !ok {
		return engine.Stay(f.reply(req, nil, "use_buttons")), nil
	}
	own, err := f.ownGroups(ctx, req.User)
	if err != nil {
		return engine.Result{}, err
	}
	if !hasGroup(own, code) {
		return engine.Stay(f.reply(req, nil, "pick_listed_group")), nil
	}
	subjects, err := f.store.SubjectsForGroup(ctx, code)
	if err != nil {
		return engine.Result{}, err
	}
	if len(subjects) == 0 {
		subjects = f.t.Subjects
	}
	buttons := make([]engine.Button, 0, len(subjects))
	for _, s := range subjects {
		buttons = append(buttons, engine.Button{Text: s, Data: cbQRSubject + s})
	}
	return engine.Next(qrSubject, map[string]string{keyGroup: code},
		f.reply(req, engine.Inline(buttons...), "ask_qr_subject", "group", code)), nil
}

func (f *Flows) qrSubject(ctx context.Context, req engine.Request) (engine.Result, error) {
	subject, ok := callbackID(req.Event, cbQRSubject)
	if !ok {
		return engine.Stay(f.reply(req, nil, "use_buttons")), nil
	}
	group := req.Session.Get(keyGroup)
	issued, err := f.issuer.Issue(group, subject)
	if err != nil {
		return engine.Result{}, err
	}

	var url string
	if f.images != nil {
		name := fmt.Sprintf("%s-%d", group, issued.Token.IssuedAt.Unix())
		if url, err = f.images.UploadPNG(ctx, issued.PNG, name); err != nil {
			f.log.Warnf("qr: upload image for %s: %v", group, err)
			url = ""
		}
	}
	png := issued.PNG
	if url != "" {
		png = nil
	}
	validity := attendance.DefaultValidity
	if f.verifier != nil {
		validity = f.verifier.Validity()
	}
	caption := f.t.Msg("qr_issued",
		"group", group,
		"subject", subject,
		"issued_at", issued.Token.IssuedAt.Format("15:04:05"),
		"minutes", itoa(int64(validity.Minutes())))
	f.log.Infof("qr: user %d issued token for %s/%s", req.User.ID, group, subject)
	return engine.Finish(engine.PhotoReply(req.Event.UserID, caption, png, url)), nil
}

func (f *Flows) checkin(ctx context.Context, req engine.Request) (engine.Result, error) {
	return engine.Finish(f.reply(req, f.mainMenu(req.User), "checkin_instructions")), nil
}

var attendanceReplies = map[school.AttendanceStatus]string{
	school.Present:            "att_present",
	school.ErrorInvalid:       "att_invalid",
	school.ErrorExpired:       "att_expired",
	school.ErrorGroupMismatch: "att_group_mismatch",
	school.ErrorDuplicate:     "att_duplicate",
}

// submitAttendance verifies a scanned token. Every outcome has its own reply.
func (f *Flows) submitAttendance(ctx context.Context, req engine.Request) (engine.Result, error) {
	out, err := f.verifier.Verify(ctx, req.Event.UserID, req.Event.Body)
	if err != nil {
		return engine.Result{}, err
	}
	metrics.Attendance.WithLabelValues(string(out.Status)).Inc()
	if out.Status != school.Present {
		f.log.Infof("checkin: user %d rejected with %s", req.Event.UserID, out.Status)
	}
	return engine.Stay(f.reply(req, nil, attendanceReplies[out.Status],
		"subject", out.Record.Subject,
		"group", out.Token.GroupRef,
		"minutes", itoa(int64(f.verifier.Validity().Minutes())))), nil
}
