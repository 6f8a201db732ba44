// Command authctl exposes the token and password primitives on the
// command line and talks to a running server.
//
//	authctl keygen [--data-dir DIR]
//	authctl hash [--preset high|interactive]          < password
//	authctl verify-password HASH                      < password
//	authctl sign --key HEX|--key-file FILE [--claims FILE]
//	authctl verify --key HEX|--key-file FILE TOKEN
//	authctl login --server URL --username NAME        < password
//	authctl whoami --server URL --token TOKEN
//	authctl keys --server URL
//	authctl version
//
// Secrets are read from stdin so they never appear in the process list.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/pflag"
)

// Exit statuses.
const (
	exitOK       = 0
	exitError    = 1
	exitMismatch = 2 // verify-password: well-formed hash, wrong password
)

// exitCodeError carries a non-default exit status out of a command.
type exitCodeError struct {
	code int
	msg  string
}

func (e *exitCodeError) Error() string { return e.msg }
func (e *exitCodeError) ExitCode() int { return e.code }

// env is the process surface a command may touch.
type env struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

type command struct {
	summary string
	run     func(e *env, args []string) error
}

var commands = map[string]command{
	"keygen":          {"generate an Ed25519 signing keypair", runKeygen},
	"hash":            {"hash a password read from stdin", runHash},
	"verify-password": {"check a password from stdin against a PHC hash", runVerifyPassword},
	"sign":            {"sign JSON claims into a token", runSign},
	"verify":          {"verify a token and print its claims", runVerify},
	"login":           {"log in to a server and print the token", runLogin},
	"whoami":          {"show the profile a token belongs to", runWhoami},
	"keys":            {"list a server's verifying keys", runKeys},
	"version":         {"print version information", runVersion},
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	e := &env{stdin: stdin, stdout: stdout, stderr: stderr}

	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage(stderr)
		if len(args) == 0 {
			return exitError
		}
		return exitOK
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "error: unknown command %q\n\n", args[0])
		printUsage(stderr)
		return exitError
	}

	if err := cmd.run(e, args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		var coded *exitCodeError
		if errors.As(err, &coded) {
			if coded.msg != "" {
				fmt.Fprintln(stderr, coded.msg)
			}
			return coded.ExitCode()
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}
	return exitOK
}

func printUsage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(w, "Usage: authctl <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, name := range names {
		fmt.Fprintf(w, "  %-16s %s\n", name, commands[name].summary)
	}
}

// newFlagSet returns a flag set whose errors and help go to e.stderr.
func newFlagSet(e *env, name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("authctl "+name, pflag.ContinueOnError)
	fs.SetOutput(e.stderr)
	return fs
}

// readSecret reads the first line of stdin, without its line ending.
func readSecret(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	line, _, _ := strings.Cut(string(data), "\n")
	line = strings.TrimSuffix(line, "\r")
	if line == "" {
		return "", errors.New("no input on stdin")
	}
	return line, nil
}
