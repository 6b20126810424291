package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/core/user"
	"github.com/trezcool/backoffice/storage/database/gormrepos"
	"github.com/trezcool/backoffice/tests"
)

var usrRepo user.Repository

func setup(t *testing.T) *commandLine {
	// set up DB & repos
	conf := testutil.NewConfig(t)
	db := testutil.PrepareDB(t, conf)
	usrRepo = gormrepos.NewUserRepository(db)

	// start CLI
	return &commandLine{
		conf:    conf,
		db:      db,
		usrRepo: usrRepo,
	}
}

type cliTest struct {
	name    string
	args    []string // without program name
	wantErr error
	extra   interface{}
}

type extra struct {
	pwd string
}

func mockPassword(tt cliTest) {
	readPasswordFunc = func(fd int) ([]byte, error) {
		if extra, ok := tt.extra.(extra); ok {
			return []byte(extra.pwd), nil
		}
		return nil, nil
	}
}

func Test_commandLine_help(t *testing.T) {
	cli := setup(t)

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "adduser: no args", args: []string{"adduser"}, wantErr: errHelp},
		{name: "adduser: no password", args: []string{"adduser", "-u", "awe"}, wantErr: errHelp},
		{name: "resetpassword: no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "resetpassword: no password", args: []string{"resetpassword", "-u", "awe"}, wantErr: errHelp},
	}
	for _, tt := range tests {
		mockPassword(tt)
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantErr, cli.run(args))
		})
	}

	t.Run("unknown command", func(t *testing.T) {
		assert.Error(t, cli.run([]string{"admin", "lol"}))
	})
}

func Test_commandLine_createdb(t *testing.T) {
	cli := setup(t)

	var called bool
	createDatabaseFunc = func(conf *core.Config) error {
		called = conf == cli.conf
		return nil
	}
	require.NoError(t, cli.run([]string{"admin", "createdb"}))
	assert.True(t, called)
}

func Test_commandLine_migrate(t *testing.T) {
	cli := setup(t)
	assert.NoError(t, cli.run([]string{"admin", "migrate"}))
	assert.Error(t, cli.run([]string{"admin", "migrate", "lol"}))
}

func Test_commandLine_addUser(t *testing.T) {
	cli := setup(t)
	ctx := context.Background()

	existing := testutil.CreateUser(t, usrRepo, "User", "awe", "awe@test.cd", "mdr", nil, true)
	other := testutil.CreateUser(t, usrRepo, "Other", "other", "other@test.cd", "", nil, false)

	tests := []cliTest{
		{name: "create admin", args: []string{"adduser", "-u", "Boss", "-e", "boss@test.cd", "--admin"}, extra: extra{pwd: "lol"}},
		{name: "update existing", args: []string{"adduser", "-e", existing.Email, "-n", "Awe"}, extra: extra{pwd: "lmao"}},
		{name: "username taken", args: []string{"adduser", "-u", other.Username}, extra: extra{pwd: "lol"}, wantErr: user.ErrUsernameExists},
	}
	for _, tt := range tests {
		mockPassword(tt)
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantErr, cli.run(args))
		})
	}

	boss, err := usrRepo.GetUser(ctx, user.GetFilter{UsernameOrEmail: []string{"boss"}})
	require.NoError(t, err)
	assert.Equal(t, "boss", boss.Name)
	assert.True(t, boss.IsActive)
	assert.True(t, boss.IsAdmin())
	assert.NoError(t, boss.CheckPassword("lol"))

	updated, err := usrRepo.GetUser(ctx, user.GetFilter{ID: existing.ID})
	require.NoError(t, err)
	assert.Equal(t, "Awe", updated.Name)
	assert.NoError(t, updated.CheckPassword("lmao"))
	assert.False(t, updated.IsAdmin())
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli := setup(t)

	usr := testutil.CreateUser(t, usrRepo, "User", "awe", "awe@test.cd", "mdr", nil, true)

	tests := []cliTest{
		{name: "user not found", args: []string{"resetpassword", "-u", "lol"}, extra: extra{pwd: "lol"}, wantErr: core.ErrNotFound},
		{name: "reset with username", args: []string{"resetpassword", "-u", usr.Username}, extra: extra{pwd: "lol"}},
		{name: "reset with email", args: []string{"resetpassword", "--username", "AWE@test.cd"}, extra: extra{pwd: "lmao"}},
	}
	for _, tt := range tests {
		mockPassword(tt)
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, errors.Cause(err))
				return
			}
			require.NoError(t, err)
			refreshedUsr, err := usrRepo.GetUser(context.Background(), user.GetFilter{ID: usr.ID})
			require.NoError(t, err)
			assert.False(t, bytes.Equal(refreshedUsr.PasswordHash, usr.PasswordHash), "failed to update new password")
			assert.NoError(t, refreshedUsr.CheckPassword(tt.extra.(extra).pwd))
		})
	}
}
