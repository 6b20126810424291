package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gorm.io/gorm"

	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/core/user"
	"github.com/trezcool/backoffice/storage/database"
	"github.com/trezcool/backoffice/storage/database/gormrepos"
)

var (
	readPasswordFunc   = term.ReadPassword         // mockable
	createDatabaseFunc = database.CreateIfNotExist // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	conf    *core.Config
	db      *gorm.DB
	usrRepo user.Repository
}

// connect opens the database on first use: createdb must run before it exists.
func (cli *commandLine) connect() error {
	if cli.db != nil {
		return nil
	}
	db, err := database.Open(cli.conf)
	if err != nil {
		return err
	}
	cli.db = db
	cli.usrRepo = gormrepos.NewUserRepository(db)
	return nil
}

func (cli *commandLine) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "back-office administration tool",
		SilenceUsage:  true,
		SilenceErrors: true,
		Example: `admin createdb
admin migrate
admin adduser -u USERNAME -e EMAIL --admin
admin resetpassword -u USERNAME|EMAIL`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return errHelp
		},
	}
	root.CompletionOptions.HiddenDefaultCmd = true
	cobra.EnableCommandSorting = false

	root.AddCommand(cli.createDBCmd(), cli.migrateCmd(), cli.addUserCmd(), cli.resetPasswordCmd())
	return root
}

func (cli *commandLine) createDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "createdb",
		Short: "Create the database and its user when they do not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return createDatabaseFunc(cli.conf)
		},
	}
}

func (cli *commandLine) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or alter the tables of the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.connect(); err != nil {
				return err
			}
			return database.Migrate(cli.db)
		},
	}
}

func (cli *commandLine) addUserCmd() *cobra.Command {
	var uname, email, name string
	var isAdmin bool
	command := &cobra.Command{
		Use:   "adduser",
		Short: "Create or update an active user; the password is prompted next",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if uname == "" && email == "" {
				_ = cmd.Usage()
				return errHelp
			}
			pwd, err := promptPassword()
			if err != nil {
				return err
			}
			if pwd == "" {
				_ = cmd.Usage()
				return errHelp
			}
			if err := cli.connect(); err != nil {
				return err
			}
			return cli.addUser(name, uname, email, pwd, isAdmin)
		},
	}
	command.Flags().StringVarP(&uname, "username", "u", "", "The user's username")
	command.Flags().StringVarP(&email, "email", "e", "", "The user's email")
	command.Flags().StringVarP(&name, "name", "n", "", "The user's name (defaults to the username)")
	command.Flags().BoolVar(&isAdmin, "admin", false, "Grant all roles")
	return command
}

func (cli *commandLine) resetPasswordCmd() *cobra.Command {
	var uname string
	command := &cobra.Command{
		Use:   "resetpassword",
		Short: "Reset a user's password; the password is prompted next",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if uname == "" {
				_ = cmd.Usage()
				return errHelp
			}
			pwd, err := promptPassword()
			if err != nil {
				return err
			}
			if pwd == "" {
				_ = cmd.Usage()
				return errHelp
			}
			if err := cli.connect(); err != nil {
				return err
			}
			return cli.resetPassword(uname, pwd)
		},
	}
	command.Flags().StringVarP(&uname, "username", "u", "", "The user's username or email")
	return command
}

func (cli *commandLine) run(args []string) error {
	root := cli.rootCmd()
	root.SetArgs(args[1:])
	return root.Execute()
}

func promptPassword() (string, error) {
	fmt.Print("Enter password:")
	pwd, err := readPasswordFunc(int(os.Stdin.Fd()))
	fmt.Println()
	return string(pwd), err
}
