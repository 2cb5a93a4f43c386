package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"qrattendance/internal/auth"
	"qrattendance/internal/config"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	cfg config.App
	out io.Writer
	// accounts is opened lazily; only adduser needs the database.
	accounts func() (auth.AccountStore, error)
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  adduser -email EMAIL -role teacher|student [-student-id ID] - create a login; the password is prompted next")
	fmt.Fprintln(cli.out, "  token -subject ID -role teacher|student [-ttl 1h]          - print a bearer token signed with JWT_SIGNING_KEY")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserCmd.SetOutput(cli.out)
	addUserEmail := addUserCmd.String("email", "", "Login email.")
	addUserRole := addUserCmd.String("role", auth.RoleTeacher, "teacher or student.")
	addUserStudent := addUserCmd.String("student-id", "", "Student id the login acts for (students only).")

	tokenCmd := flag.NewFlagSet("token", flag.ContinueOnError)
	tokenCmd.SetOutput(cli.out)
	tokenSubject := tokenCmd.String("subject", "", "Token subject: the student id for students.")
	tokenRole := tokenCmd.String("role", auth.RoleTeacher, "teacher or student.")
	tokenTTL := tokenCmd.Duration("ttl", time.Hour, "Token lifetime.")

	switch args[1] {
	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *addUserEmail == "" {
			addUserCmd.Usage()
			return errHelp
		}
		fmt.Fprint(cli.out, "Enter password:")
		pwd, err := readPasswordFunc(int(os.Stdin.Fd()))
		fmt.Fprintln(cli.out)
		if err != nil {
			return err
		}
		if len(pwd) == 0 {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(*addUserEmail, *addUserRole, *addUserStudent, string(pwd))
	case "token":
		if err := tokenCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *tokenSubject == "" {
			tokenCmd.Usage()
			return errHelp
		}
		return cli.token(*tokenSubject, *tokenRole, *tokenTTL)
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) addUser(email, role, studentID, pwd string) error {
	store, err := cli.accounts()
	if err != nil {
		return err
	}
	acct := auth.Account{
		ID:    uuid.NewString(),
		Email: strings.ToLower(strings.TrimSpace(email)),
		Role:  role,
	}
	if studentID != "" {
		acct.StudentID = &studentID
	}
	svc := auth.NewService(store, cli.cfg.JWTIssuer, cli.cfg.JWTSigningKey, cli.cfg.AccessTTL)
	if err := svc.Register(context.Background(), acct, pwd); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "created %s %s (%s)\n", role, acct.Email, acct.ID)
	return nil
}

func (cli *commandLine) token(subject, role string, ttl time.Duration) error {
	if role != auth.RoleTeacher && role != auth.RoleStudent {
		return fmt.Errorf("unknown role %q", role)
	}
	tok, err := auth.Issue(subject, role, cli.cfg.JWTIssuer, cli.cfg.JWTSigningKey, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cli.out, tok.Token)
	return nil
}
