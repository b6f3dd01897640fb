package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/iroils/evalapp/core"
	"github.com/iroils/evalapp/core/user"
)

var errNoInstitution = errors.New("evaluators must belong to an institution")

type newUserArgs struct {
	name, uname, email, institution, roles, pwd string
}

func parseRoles(s string) ([]string, error) {
	roles := make([]string, 0)
	for _, r := range core.SplitList(core.CleanString(s, true /* lower */)) {
		valid := false
		for _, role := range user.AllRoles {
			if r == role {
				valid = true
				break
			}
		}
		if !valid {
			return nil, fmt.Errorf("unknown role %q", r)
		}
		roles = append(roles, r)
	}
	return roles, nil
}

// addUser updates or creates a user.User
func (cli *commandLine) addUser(args newUserArgs) error {
	ctx := context.Background()
	uname := core.CleanString(args.uname, true /* lower */)
	email := core.CleanString(args.email, true /* lower */)

	roles, err := parseRoles(args.roles)
	if err != nil {
		return err
	}
	inst := core.NormalizeInstitution(args.institution)
	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Username: uname})
	if err != nil {
		if errors.Cause(err) != user.ErrNotFound {
			return err
		}
		now := time.Now().UTC()
		usr = user.User{Username: uname, CreatedAt: now}
	}
	usr.Email = email
	usr.Roles = roles
	usr.IsActive = true
	usr.UpdatedAt = time.Now().UTC()
	if name := core.CleanString(args.name); name != "" {
		usr.Name = name
	}
	if inst != "" {
		usr.Institution = inst
	}
	if usr.IsEvaluator() && usr.Institution == "" {
		return errNoInstitution
	}
	if err := cli.usrRepo.CheckUsernameUniqueness(ctx, usr.Username, usr.Email, []user.User{usr}); err != nil {
		return err
	}
	if err := usr.SetPassword(args.pwd); err != nil {
		return err
	}
	if usr, err = cli.usrRepo.UpdateOrCreateUser(ctx, usr); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "user %q saved (id: %s)\n", usr.Username, usr.ID)
	return nil
}
