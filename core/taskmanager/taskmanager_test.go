package taskmanager_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/backoffice/apps/api/di"
	"github.com/trezcool/backoffice/core/communicating"
	"github.com/trezcool/backoffice/core/crud"
	"github.com/trezcool/backoffice/core/taskmanager"
	"github.com/trezcool/backoffice/core/user"
	"github.com/trezcool/backoffice/storage/database/gormrepos"
	"github.com/trezcool/backoffice/tests"
)

func TestService_notifyAssignee(t *testing.T) {
	c := testutil.NewContainer(t, di.Overrides{})
	repo := gormrepos.NewUserRepository(c.DB)
	creator := testutil.CreateUser(t, repo, "Creator", "creator", "creator@test.cd", "pwd", []string{user.RoleTeacher}, true)
	assignee := testutil.CreateUser(t, repo, "Assignee", "assignee", "assignee@test.cd", "pwd", []string{user.RoleTeacher}, true)
	creatorCtx, assigneeCtx := testutil.ActorContext(creator), testutil.ActorContext(assignee)
	tasks := c.TaskSvc.Tasks()

	notifications := func(t *testing.T, usr user.User) []communicating.Notification {
		t.Helper()
		page, err := c.CommunicatingSvc.MyNotifications(testutil.ActorContext(usr), crud.ListQuery{})
		require.NoError(t, err)
		return page.Data
	}

	task := &taskmanager.Task{Title: "Grade the exams", Description: "before friday", AssigneeID: null.IntFrom(assignee.ID)}
	require.NoError(t, tasks.AddOrUpdate(creatorCtx, task))

	got := notifications(t, assignee)
	require.Len(t, got, 1)
	assert.Equal(t, "New task: Grade the exams", got[0].Title)
	assert.Equal(t, "before friday", got[0].Body)
	assert.Equal(t, fmt.Sprintf("/tasks/%d", task.ID), got[0].Link)

	task.Status = taskmanager.StatusInProgress
	require.NoError(t, tasks.AddOrUpdate(creatorCtx, task))
	assert.Len(t, notifications(t, assignee), 1, "same assignee")

	own := &taskmanager.Task{Title: "Mine", AssigneeID: null.IntFrom(assignee.ID)}
	require.NoError(t, tasks.AddOrUpdate(assigneeCtx, own))
	assert.Len(t, notifications(t, assignee), 1, "self assigned")

	task.AssigneeID = null.IntFrom(creator.ID)
	require.NoError(t, tasks.AddOrUpdate(assigneeCtx, task))
	assert.Len(t, notifications(t, creator), 1, "reassigned")

	task.AssigneeID = null.Int{}
	require.NoError(t, tasks.AddOrUpdate(assigneeCtx, task))
	assert.Len(t, notifications(t, creator), 1, "unassigned")
}
