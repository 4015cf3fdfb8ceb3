// Package console is bench tooling: one-shot sample and interactive sensor console.
package console

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/aquanode/aquanode/cmd/aquanode/subcmd"
	"github.com/aquanode/aquanode/config"
	"github.com/aquanode/aquanode/frame"
	"github.com/aquanode/aquanode/helpers/cli"
	"github.com/aquanode/aquanode/log2"
	"github.com/aquanode/aquanode/node"
	"github.com/aquanode/aquanode/payload"
	"github.com/c-bata/go-prompt"
	"github.com/juju/errors"
)

const modName = "console"

const usage = `commands:
- sample          build, encode and print one payload
- sensors         read every configured sensor once
- set NAME VALUE  change simulated sensor reading
- decode JSON     parse payload line, lines starting with { are decoded too
- help
`

var Mod = subcmd.Mod{Name: modName, Usage: "interactive sensor console, decodes payloads piped from mosquitto_sub", Main: Main}
var SampleMod = subcmd.Mod{Name: "sample", Usage: "print one payload and exit", Main: SampleMain}

func Main(ctx context.Context, c *config.Config, log *log2.Log) error {
	sys, err := node.OpenSampler(c, log, nil)
	if err != nil {
		return errors.Annotate(err, "console open")
	}
	defer sys.Close()
	return cli.MainLoop("aquanode", NewExecutor(sys, os.Stdout), newCompleter())
}

func SampleMain(ctx context.Context, c *config.Config, log *log2.Log) error {
	sys, err := node.OpenSampler(c, log, nil)
	if err != nil {
		return errors.Annotate(err, "sample open")
	}
	defer sys.Close()
	return sample(sys, os.Stdout)
}

func newCompleter() cli.Completer {
	return cli.FilterCommands([]prompt.Suggest{
		{Text: "sample", Description: "print one payload"},
		{Text: "sensors", Description: "read every sensor"},
		{Text: "set", Description: "set simulated reading"},
		{Text: "decode", Description: "parse payload JSON"},
		{Text: "help"},
	})
}

// NewExecutor errors are printed, console keeps running.
func NewExecutor(sys *node.System, w io.Writer) cli.Executor {
	return func(line string) {
		if err := exec(sys, w, line); err != nil {
			fmt.Fprintf(w, "error: %v\n", err)
		}
	}
}

func exec(sys *node.System, w io.Writer, line string) error {
	if strings.HasPrefix(line, "{") {
		return decode(sys, w, line)
	}
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	switch parts[0] {
	case "sample":
		return sample(sys, w)
	case "sensors":
		return sensors(sys, w)
	case "set":
		if len(parts) != 3 {
			return errors.NotValidf("syntax: set NAME VALUE")
		}
		return set(sys, parts[1], parts[2])
	case "decode":
		return decode(sys, w, strings.TrimSpace(strings.TrimPrefix(line, "decode")))
	case "help":
		_, err := io.WriteString(w, usage)
		return err
	}
	return errors.NotFoundf("command=%s", parts[0])
}

func sample(sys *node.System, w io.Writer) error {
	b, err := sys.Encoder.Encode(sys.Builder.Build())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}

func sensors(sys *node.System, w io.Writer) error {
	names := make([]string, 0, len(sys.Bank.Readers))
	for name := range sys.Bank.Readers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v, err := sys.Bank.Readers[name].Read()
		if err != nil {
			fmt.Fprintf(w, "%s error=%v\n", name, err)
			continue
		}
		fmt.Fprintf(w, "%s=%v\n", name, v)
	}
	return nil
}

func set(sys *node.System, name, value string) error {
	sim, ok := sys.Bank.Sims[name]
	if !ok {
		return errors.NotFoundf("simulated sensor=%s", name)
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsInf(v, 0) {
		return errors.NotValidf("value=%q", value)
	}
	sim.Set(v)
	return nil
}

func decode(sys *node.System, w io.Writer, line string) error {
	r, err := payload.Decode(sys.Builder.Schema(), []byte(line))
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s=%s bytes=%d/%d\n", frame.TimestampLabel, r.TimestampText(), len(line), sys.Encoder.Budget())
	for i := 0; i < r.Len(); i++ {
		f, v := r.At(i)
		fmt.Fprintf(w, "  %-24s %-12s %v\n", f.Label, f.Sensor, v)
	}
	return nil
}
