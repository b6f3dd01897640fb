package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"

	"golang.org/x/term"

	"github.com/iroils/evalapp/core/analysis"
	"github.com/iroils/evalapp/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db          *sql.DB
	usrRepo     user.Repository
	analysisSvc analysis.Service
	out         io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate COMMAND [ARGS] - run a goose command (up, down, status, redo, version...)")
	fmt.Println("  adduser -username USERNAME -email EMAIL [-name NAME] [-institution INSTITUTION] [-roles admin,evaluator] - create or update a user")
	fmt.Println("  resetpassword -username USERNAME|EMAIL - reset user's password")
	fmt.Println("  resetinstitution -institution INSTITUTION - delete every entry and evaluation of an institution")
	fmt.Println("  rebuildstats -institution INSTITUTION - recompute the running totals of an institution")
	fmt.Println("  snapshot -institution INSTITUTION [-restore] - save (or restore) the selection of an institution")
}

// promptPassword reads a password from the terminal without echoing it.
func promptPassword() (string, error) {
	fmt.Print("Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ExitOnError)
	addUserUname := addUserCmd.String("username", "", "The user's username. The password will be prompted next.")
	addUserEmail := addUserCmd.String("email", "", "The user's email.")
	addUserName := addUserCmd.String("name", "", "The user's full name.")
	addUserInst := addUserCmd.String("institution", "", "The user's institution. Required for evaluators.")
	addUserRoles := addUserCmd.String("roles", "", "Comma separated roles (admin, evaluator).")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ExitOnError)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The user's username or email. The password will be prompted next.")

	resetInstCmd := flag.NewFlagSet("resetinstitution", flag.ExitOnError)
	resetInstName := resetInstCmd.String("institution", "", "The institution to reset.")

	rebuildStatsCmd := flag.NewFlagSet("rebuildstats", flag.ExitOnError)
	rebuildStatsInst := rebuildStatsCmd.String("institution", "", "The institution whose stats are rebuilt.")

	snapshotCmd := flag.NewFlagSet("snapshot", flag.ExitOnError)
	snapshotInst := snapshotCmd.String("institution", "", "The institution whose selection is saved.")
	snapshotRestore := snapshotCmd.Bool("restore", false, "Restore the last snapshot instead of taking one.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserUname == "" || *addUserEmail == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(newUserArgs{
			name:        *addUserName,
			uname:       *addUserUname,
			email:       *addUserEmail,
			institution: *addUserInst,
			roles:       *addUserRoles,
			pwd:         pwd,
		})

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*resetPasswordUname, pwd)

	case "resetinstitution":
		if err := resetInstCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetInstName == "" {
			resetInstCmd.Usage()
			return errHelp
		}
		return cli.resetInstitution(*resetInstName)

	case "rebuildstats":
		if err := rebuildStatsCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *rebuildStatsInst == "" {
			rebuildStatsCmd.Usage()
			return errHelp
		}
		return cli.rebuildStats(*rebuildStatsInst)

	case "snapshot":
		if err := snapshotCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *snapshotInst == "" {
			snapshotCmd.Usage()
			return errHelp
		}
		return cli.snapshot(*snapshotInst, *snapshotRestore)

	default:
		cli.printUsage()
		return errHelp
	}
}
