package chat_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/backoffice/apps/api/di"
	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/core/chat"
	"github.com/trezcool/backoffice/core/taskmanager"
	"github.com/trezcool/backoffice/core/user"
	"github.com/trezcool/backoffice/storage/database/gormrepos"
	"github.com/trezcool/backoffice/tests"
)

func setup(t *testing.T) (*di.Container, user.User, taskmanager.Task) {
	c := testutil.NewContainer(t, di.Overrides{})
	usr := testutil.CreateUser(t, gormrepos.NewUserRepository(c.DB), "Admin", "admin", "admin@test.cd", "pwd", []string{user.RoleAdmin}, true)
	task := &taskmanager.Task{Title: "Write the syllabus"}
	require.NoError(t, c.TaskSvc.Tasks().AddOrUpdate(testutil.ActorContext(usr), task))
	return c, usr, *task
}

func TestService_Room(t *testing.T) {
	c, _, task := setup(t)
	ctx := context.Background()

	id, err := c.ChatSvc.Room(ctx, strconv.Itoa(task.ID))
	require.NoError(t, err)
	assert.Equal(t, task.ID, id)

	for _, name := range []string{"", "lobby", "-1", "0", "42"} {
		_, err := c.ChatSvc.Room(ctx, name)
		assert.Equal(t, core.ErrNotFound, err, name)
	}
}

func TestService_Post(t *testing.T) {
	c, usr, task := setup(t)
	svc := c.ChatSvc
	ctx := testutil.ActorContext(usr)

	_, err := svc.Post(context.Background(), task.ID, "anonymous")
	assert.Equal(t, core.ErrPermissionDenied, err)

	_, err = svc.Post(ctx, task.ID, "   ")
	var verrs validator.ValidationErrors
	require.True(t, errors.As(err, &verrs), "want validation errors, got %v", err)
	assert.Equal(t, "message", verrs[0].Field())
	assert.Equal(t, "required", verrs[0].Tag())

	_, err = svc.Post(ctx, 42, "hello")
	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []core.FieldError{{Field: "task_id", Error: core.MsgRelatedNotFound}}, verr.Fields)

	subCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := svc.Subscribe(subCtx, task.ID)
	require.NoError(t, err)

	msg, err := svc.Post(ctx, task.ID, " hello ")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Message)
	assert.Equal(t, usr.ID, msg.UserID)

	select {
	case got := <-sub:
		assert.Equal(t, msg.ID, got.ID)
		assert.Equal(t, "hello", got.Message)
	case <-time.After(5 * time.Second):
		t.Fatal("message not broadcast")
	}

	_, err = svc.Post(ctx, task.ID, "second")
	require.NoError(t, err)
	history, err := svc.History(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "hello", history[0].Message)
	assert.Equal(t, "second", history[1].Message)

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-sub:
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond, "closed with its context")
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "chat.room.7", chat.Topic(7))
}
