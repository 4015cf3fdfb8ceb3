// Package cli runs line oriented consoles: go-prompt on terminal, plain lines from pipe.
package cli

import (
	"bytes"
	"io"
	"io/ioutil"
	"os"
	"os/signal"
	"syscall"

	"github.com/c-bata/go-prompt"
	"github.com/mattn/go-isatty"
)

type Executor func(line string)
type Completer func(d prompt.Document) []prompt.Suggest

// MainLoop blocks until stdin is closed, or forever on terminal where signals exit the process.
func MainLoop(tag string, exec Executor, complete Completer) error {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return ExecLines(os.Stdin, exec)
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-signalCh
		os.Exit(1)
	}()
	prompt.New(prompt.Executor(exec), prompt.Completer(complete),
		prompt.OptionPrefix(tag+"> "),
		prompt.OptionTitle(tag),
	).Run()
	return nil
}

// ExecLines feeds every non-empty trimmed line to exec, for `mosquitto_sub | aquanode console`.
func ExecLines(r io.Reader, exec Executor) error {
	all, err := ioutil.ReadAll(r)
	if err != nil {
		return err
	}
	for _, lineb := range bytes.Split(all, []byte{'\n'}) {
		if line := string(bytes.TrimSpace(lineb)); line != "" {
			exec(line)
		}
	}
	return nil
}

// FilterCommands suggests commands matching word before cursor.
func FilterCommands(commands []prompt.Suggest) Completer {
	return func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterHasPrefix(commands, d.GetWordBeforeCursor(), true)
	}
}
