package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/agentmux/agentmux/internal/term"
)

// exitOnError prints the error to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// requireService returns a client for the terminal service, exiting
// when it is unreachable.
func requireService(apiBase string) *term.Client {
	client := term.NewClient(apiBase)
	if err := client.Health(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error: terminal service unreachable (start it with 'agentmux serve')")
		os.Exit(1)
	}
	return client
}

// setFlagEnv maps a set CLI flag onto its environment override so flag
// values share one precedence chain with AMX_* variables.
func setFlagEnv(flags *pflag.FlagSet, name, env, value string) {
	if flags.Changed(name) {
		os.Setenv(env, value)
	}
}

// boolEnv renders a boolean in its environment form.
func boolEnv(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// askUserConfirmation prompts user for yes/no confirmation
func askUserConfirmation(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

// getCwd returns current working directory or "unknown".
func getCwd() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "unknown"
	}
	return cwd
}
