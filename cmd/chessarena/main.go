package main

import (
	"os"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
)

// version is set by ldflags during build
var version = "dev"

type CLI struct {
	Version          kong.VersionFlag    `short:"v" help:"Show version"`
	Server           ServerCmd           `cmd:"" help:"Run the arena server"`
	Init             InitCmd             `cmd:"" help:"Create the database and seed it from the config"`
	CreateTournament CreateTournamentCmd `cmd:"create-tournament" help:"Schedule an arena tournament"`
	Selfplay         SelfplayCmd         `cmd:"" help:"Play built-in engines against each other in-process"`
	Watch            WatchCmd            `cmd:"" help:"Watch a running arena in the terminal"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("chessarena"),
		kong.Description("Arena chess tournament server for bots and humans"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version,
		},
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}

// newLogger builds the process logger. An empty file logs to stderr;
// the level falls back to info when unrecognized.
func newLogger(level, file string) (*log.Logger, error) {
	w := os.Stderr
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		w = f
	}
	logger := log.New(w)
	switch level {
	case "debug":
		logger.SetLevel(log.DebugLevel)
	case "info":
		logger.SetLevel(log.InfoLevel)
	case "warn":
		logger.SetLevel(log.WarnLevel)
	case "error":
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}
	return logger, nil
}
