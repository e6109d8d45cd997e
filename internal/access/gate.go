package access

import "schoolbot/internal/school"

// Workflow names an entry point guarded by the gate.
type Workflow string

const (
	Registration    Workflow = "registration"
	Requests        Workflow = "requests"
	GroupManagement Workflow = "group_management"
	ScheduleView    Workflow = "schedule_view"
	ScheduleEdit    Workflow = "schedule_edit"
	GradesView      Workflow = "grades_view"
	GradeEntry      Workflow = "grade_entry"
	TokenIssue      Workflow = "token_issue"
	CheckIn         Workflow = "check_in"
	Notifications   Workflow = "notifications"
	ProfileDelete   Workflow = "profile_delete"
)

type roleSet map[school.Role]bool

var (
	students = roleSet{school.RoleStudent: true}
	staff    = roleSet{school.RoleTeacher: true, school.RoleAdmin: true}
	everyone = roleSet{school.RoleStudent: true, school.RoleTeacher: true, school.RoleAdmin: true}
)

// table lists, per workflow, the roles an approved user needs.
var table = map[Workflow]roleSet{
	Requests:        staff,
	GroupManagement: staff,
	ScheduleView:    everyone,
	ScheduleEdit:    staff,
	GradesView:      everyone,
	GradeEntry:      staff,
	TokenIssue:      staff,
	CheckIn:         students,
	Notifications:   everyone,
	ProfileDelete:   students,
}

// Allowed reports whether u may enter w. Registration is open to everyone,
// including unregistered callers (u == nil); every other workflow requires an
// approved user with a matching role.
func Allowed(u *school.User, w Workflow) bool {
	if w == Registration {
		return true
	}
	if !u.Approved() {
		return false
	}
	roles, ok := table[w]
	return ok && roles[u.Role]
}

// Workflows returns the workflows u may enter, in declaration order.
func Workflows(u *school.User) []Workflow {
	all := []Workflow{
		Registration, Requests, GroupManagement, ScheduleView, ScheduleEdit,
		GradesView, GradeEntry, TokenIssue, CheckIn, Notifications, ProfileDelete,
	}
	var out []Workflow
	for _, w := range all {
		if Allowed(u, w) {
			out = append(out, w)
		}
	}
	return out
}
