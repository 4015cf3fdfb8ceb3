package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/aquanode/aquanode/cmd/aquanode/console"
	"github.com/aquanode/aquanode/cmd/aquanode/run"
	"github.com/aquanode/aquanode/cmd/aquanode/subcmd"
	"github.com/aquanode/aquanode/config"
	"github.com/aquanode/aquanode/log2"
	"github.com/juju/errors"
)

var modules = []subcmd.Mod{
	run.Mod,
	console.SampleMod,
	console.Mod,
}

func main() {
	flagConfig := flag.String("config", "aquanode.hcl", "")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-config FILE] [command]\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Fprintln(flag.CommandLine.Output(), "Commands:")
		for _, m := range modules {
			fmt.Fprintf(flag.CommandLine.Output(), "  %-8s %s\n", m.Name, m.Usage)
		}
	}
	flag.Parse()

	log := log2.NewStderr(log2.LInfo)
	if subcmd.SdNotify("STATUS=starting") {
		// we're under systemd, assume systemd journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}

	command := flag.Arg(0)
	if command == "" {
		command = run.Mod.Name
	}
	mod, err := subcmd.Parse(command, modules)
	if err != nil {
		log.Error(err)
		flag.Usage()
		os.Exit(2)
	}

	c := config.MustRead(log, config.NewOsFullReader(), *flagConfig)
	if c.Node.LogDebug {
		log.SetLevel(log2.LDebug)
	}

	if err := mod.Main(context.Background(), c, log); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}
