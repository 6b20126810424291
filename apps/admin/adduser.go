package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/core/user"
)

// addUser updates or creates an active user.User
func (cli *commandLine) addUser(name, uname, email, pwd string, isAdmin bool) error {
	ctx := context.Background()
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)

	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{UsernameOrEmail: lo.Compact([]string{uname, email})})
	if err != nil {
		if errors.Cause(err) != core.ErrNotFound {
			return err
		}
		usr = user.User{Username: uname, Email: email}
		if err = cli.usrRepo.CheckUniqueness(ctx, usr); err != nil {
			return err
		}
	}
	if name = core.CleanString(name); name != "" {
		usr.Name = name
	} else if usr.Name == "" {
		usr.Name = lo.Ternary(uname != "", uname, email)
	}
	if isAdmin {
		usr.Roles = user.AllRoles
	}
	usr.IsActive = true
	if err = usr.SetPassword(pwd); err != nil {
		return err
	}
	_, err = cli.usrRepo.UpdateOrCreateUser(ctx, usr)
	return err
}
