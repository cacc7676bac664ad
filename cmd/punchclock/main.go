/*
punchclock clocks in or out on the NUEIP attendance portal by driving a
real browser session.

Have a look at the README.md for more information.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/jakopako/punchclock/internal/browser"
	"github.com/jakopako/punchclock/internal/config"
	"github.com/jakopako/punchclock/internal/log"
	"github.com/jakopako/punchclock/internal/output"
	"github.com/jakopako/punchclock/internal/report"
	"github.com/jakopako/punchclock/internal/workflow"
	"github.com/miekg/king"
)

var version = "dev"

const name = "punchclock"

type VersionFlag string

func (v VersionFlag) Decode(_ *kong.DecodeContext) error { return nil }
func (v VersionFlag) IsBool() bool                       { return true }
func (v VersionFlag) BeforeApply(app *kong.Kong, vars kong.Vars) error {
	fmt.Println(vars["version"])
	app.Exit(0)
	return nil
}

type cli struct {
	Version VersionFlag `short:"v" long:"version" help:"Print the version and exit."`
	Debug   bool        `short:"d" long:"debug" help:"Set log level to 'debug'."`

	Completion CompletionCommand `cmd:"" help:"Generate autocompletion file."`

	Run    RunCmd    `cmd:"" default:"withargs" help:"Log in and punch (default command)"`
	Env    EnvCmd    `cmd:"" help:"List the environment variables that configure a run"`
	Config ConfigCmd `cmd:"" help:"Print the effective configuration with secrets redacted"`
}

type ShellType string

const (
	BASH ShellType = "bash"
	ZSH  ShellType = "zsh"
	FISH ShellType = "fish"
)

var shellTypes = []string{string(BASH), string(ZSH), string(FISH)}

type CompletionCommand struct {
	Shell ShellType `short:"s" help:"The shell that you want to create the autocompletion file for." required:"" enum:"bash,zsh,fish"`
}

func (acc *CompletionCommand) Run() error {
	cli := &cli{}
	parser := kong.Must(cli)

	switch acc.Shell {
	case BASH:
		b := &king.Bash{}
		b.Completion(parser.Model.Node, name)
		return b.Write()
	case ZSH:
		z := &king.Zsh{}
		z.Completion(parser.Model.Node, name)
		return z.Write()
	case FISH:
		f := &king.Fish{}
		f.Completion(parser.Model.Node, name)
		return f.Write()
	default:
		// should not happen due to enum constraint
		return fmt.Errorf("shell type not supported: %s. Must be one of [%s].", acc.Shell, strings.Join(shellTypes, ", "))
	}
}

// Source holds the flags every command needs to find its configuration.
type Source struct {
	Config  string `short:"c" help:"Optional yaml configuration file. Environment variables take precedence." completion:"<file>"`
	EnvFile string `short:"e" long:"env-file" default:".env" help:"File with KEY=value lines loaded into the environment if present." completion:"<file>"`
}

func (s Source) load() (*config.Config, error) {
	c, err := config.Load(s.Config, s.EnvFile)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

type RunCmd struct {
	Source `embed:""`

	Action  string `short:"a" help:"Overrides PUNCH_TYPE. One of clock-in, clock-out, 上班, 下班." completion:"clock-in clock-out"`
	Headful bool   `short:"H" help:"Show the browser window even when IS_PRODUCTION is set."`
	DryRun  bool   `short:"D" help:"Locate the punch button without clicking it."`
}

// exitError ends the process with a specific status and no further message.
type exitError int

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", int(e))
}

func (rc *RunCmd) Run() error {
	if rc.Action != "" {
		os.Setenv("PUNCH_TYPE", rc.Action)
	}
	c, err := rc.load()
	if err != nil {
		slog.Error(err.Error())
		return err
	}
	if rc.DryRun {
		c.DryRun = true
	}
	applyLogSettings(c)

	writer, err := output.NewWriter(&c.Writer)
	if err != nil {
		slog.Error(err.Error())
		return fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := workflow.NewRunner(browser.ChromeLauncher{}, c.Options(rc.Headful), report.NewAnnotations(os.Stdout))
	rep := runner.Run(ctx, c.Request())

	if err := writer.Write(context.WithoutCancel(ctx), rep); err != nil {
		slog.Error(fmt.Sprintf("error while writing outcome: %v", err))
	}
	if code := rep.ExitCode(); code != 0 {
		return exitError(code)
	}
	return nil
}

type EnvCmd struct{}

func (ec *EnvCmd) Run() error {
	d, err := config.Description()
	if err != nil {
		slog.Error(err.Error())
		return err
	}
	fmt.Println(d)
	return nil
}

type ConfigCmd struct {
	Source `embed:""`
}

func (cc *ConfigCmd) Run() error {
	c, err := cc.load()
	if err != nil {
		slog.Error(err.Error())
		return err
	}
	data, err := c.YAML()
	if err != nil {
		slog.Error(fmt.Sprintf("error while marshalling. %v", err))
		return err
	}
	fmt.Print(string(data))
	return nil
}

// applyLogSettings reinstalls the default logger once the configuration
// is known. Outside production every run logs at debug level.
func applyLogSettings(c *config.Config) {
	log.JSON = c.LogFormat == "json"
	if !c.IsProduction {
		log.Debug = true
	}
	log.InitializeDefaultLogger()
}

func getVersion() string {
	buildInfo, ok := debug.ReadBuildInfo()
	if ok {
		if buildInfo.Main.Version != "" && buildInfo.Main.Version != "(devel)" {
			return buildInfo.Main.Version
		}
	}
	return version
}

func main() {
	cli := cli{
		Version: VersionFlag(getVersion()),
	}

	ctx := kong.Parse(&cli,
		kong.Vars{
			"version": string(cli.Version),
		})

	log.Debug = cli.Debug
	log.InitializeDefaultLogger()

	err := ctx.Run()
	if status, ok := exitStatus(err); ok {
		os.Exit(status)
	}
	ctx.FatalIfErrorf(err)
}

// exitStatus maps the result of a command to a process status. Errors it
// does not know are left to kong.
func exitStatus(err error) (int, bool) {
	var code exitError
	switch {
	case err == nil:
		return 0, true
	case errors.As(err, &code):
		return int(code), true
	case errors.Is(err, config.ErrInvalid):
		return 2, true
	default:
		return 1, false
	}
}
