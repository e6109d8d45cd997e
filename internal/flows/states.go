package flows

import "schoolbot/internal/session"

const (
	regRole    session.State = "registration.role"
	regName    session.State = "registration.full_name"
	regGroup   session.State = "registration.group"
	regCode    session.State = "registration.access_code"
	regConfirm session.State = "registration.confirm"

	reqChoose  session.State = "requests.choose"
	reqConfirm session.State = "requests.confirm"

	grpAction          session.State = "groups.action"
	grpNewCode         session.State = "groups.new_code"
	grpAddConfirm      session.State = "groups.add_confirm"
	grpDeletePick      session.State = "groups.delete_pick"
	grpDeleteConfirm   session.State = "groups.delete_confirm"
	grpSource          session.State = "groups.transfer_source"
	grpStudent         session.State = "groups.transfer_student"
	grpTarget          session.State = "groups.transfer_target"
	grpTransferConfirm session.State = "groups.transfer_confirm"

	schAction        session.State = "schedule.action"
	schGroup         session.State = "schedule.group"
	schLesson        session.State = "schedule.lesson"
	schLessonAction  session.State = "schedule.lesson_action"
	schWeekday       session.State = "schedule.weekday"
	schTime          session.State = "schedule.time"
	schSubject       session.State = "schedule.subject"
	schConfirm       session.State = "schedule.confirm"
	schDeleteConfirm session.State = "schedule.delete_confirm"

	grdAction  session.State = "grades.action"
	grdGroup   session.State = "grades.group"
	grdStudent session.State = "grades.student"
	grdSubject session.State = "grades.subject"
	grdValue   session.State = "grades.value"
	grdComment session.State = "grades.comment"
	grdConfirm session.State = "grades.confirm"

	qrGroup   session.State = "qr.group"
	qrSubject session.State = "qr.subject"

	profConfirm session.State = "profile.delete_confirm"
)

// Scratch data keys.
const (
	keyRole     = "role"
	keyName     = "full_name"
	keyGroup    = "group"
	keyTarget   = "target"
	keyStudent  = "student"
	keyDecision = "decision"
	keyAction   = "action"
	keyLesson   = "lesson"
	keyWeekday  = "weekday"
	keyTime     = "time"
	keySubject  = "subject"
	keyValue    = "value"
	keyComment  = "comment"
)

// Callback token prefixes.
const (
	cbApprove      = "approve:"
	cbReject       = "reject:"
	cbStudent      = "student:"
	cbGradeStudent = "grade_student:"
	cbLesson       = "lesson:"
	cbQRGroup      = "qr_group:"
	cbQRSubject    = "qr_subject:"
	cbRead         = "read:"
)

// AllStates lists every non-idle state of every workflow.
var AllStates = []session.State{
	regRole, regName, regGroup, regCode, regConfirm,
	reqChoose, reqConfirm,
	grpAction, grpNewCode, grpAddConfirm, grpDeletePick, grpDeleteConfirm,
	grpSource, grpStudent, grpTarget, grpTransferConfirm,
	schAction, schGroup, schLesson, schLessonAction, schWeekday, schTime, schSubject, schConfirm, schDeleteConfirm,
	grdAction, grdGroup, grdStudent, grdSubject, grdValue, grdComment, grdConfirm,
	qrGroup, qrSubject,
	profConfirm,
}
