package access

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"schoolbot/internal/school"
)

func TestAllowed(t *testing.T) {
	student := &school.User{ID: 1, Role: school.RoleStudent, Status: school.StatusApproved}
	teacher := &school.User{ID: 2, Role: school.RoleTeacher, Status: school.StatusApproved}
	admin := &school.User{ID: 3, Role: school.RoleAdmin, Status: school.StatusApproved}
	pending := &school.User{ID: 4, Role: school.RoleStudent, Status: school.StatusPending}
	rejected := &school.User{ID: 5, Role: school.RoleStudent, Status: school.StatusRejected}

	tests := []struct {
		name string
		user *school.User
		flow Workflow
		want bool
	}{
		{"guest registers", nil, Registration, true},
		{"rejected registers again", rejected, Registration, true},
		{"guest sees no schedule", nil, ScheduleView, false},
		{"pending sees no schedule", pending, ScheduleView, false},
		{"student schedule", student, ScheduleView, true},
		{"student cannot edit schedule", student, ScheduleEdit, false},
		{"teacher edits schedule", teacher, ScheduleEdit, true},
		{"student cannot issue tokens", student, TokenIssue, false},
		{"teacher issues tokens", teacher, TokenIssue, true},
		{"admin issues tokens", admin, TokenIssue, true},
		{"student checks in", student, CheckIn, true},
		{"teacher cannot check in", teacher, CheckIn, false},
		{"student cannot review requests", student, Requests, false},
		{"admin reviews requests", admin, Requests, true},
		{"teacher manages groups", teacher, GroupManagement, true},
		{"student enters no grades", student, GradeEntry, false},
		{"teacher enters grades", teacher, GradeEntry, true},
		{"everyone reads notifications", admin, Notifications, true},
		{"student deletes profile", student, ProfileDelete, true},
		{"teacher cannot delete profile", teacher, ProfileDelete, false},
		{"unknown workflow", admin, Workflow("nope"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Allowed(tt.user, tt.flow))
		})
	}
}

func TestWorkflows(t *testing.T) {
	assert.Equal(t, []Workflow{Registration}, Workflows(nil))

	student := &school.User{Role: school.RoleStudent, Status: school.StatusApproved}
	assert.Equal(t, []Workflow{Registration, ScheduleView, GradesView, CheckIn, Notifications, ProfileDelete}, Workflows(student))
}
