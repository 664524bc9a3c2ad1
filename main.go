package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/anicoll/gasmeter/cmd"
	"github.com/anicoll/gasmeter/internal/pkg/controller"
)

var version = "dev"

// exitRestart asks the service manager to start us again.
const exitRestart = 3

func main() {
	app := &cli.App{
		Name:    "gasmeter",
		Usage:   "gas meter pulse counter with mqtt and http",
		Version: version,
		Action:  cmd.GasmeterCommand,
		Commands: []*cli.Command{
			{
				Name:      "hash-password",
				Usage:     "print a bcrypt hash for --http-password-hash",
				ArgsUsage: "<password>",
				Action:    cmd.HashPasswordCommand,
			},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "INFO",
			},
			&cli.StringFlag{
				Name:    "store",
				EnvVars: []string{"STORE"},
				Usage:   "file, sqlite or postgres",
				Value:   "file",
			},
			&cli.StringFlag{
				Name:    "data-dir",
				EnvVars: []string{"DATA_DIR"},
				Value:   "/var/lib/gasmeter",
			},
			&cli.StringFlag{
				Name:    "database-url",
				EnvVars: []string{"DATABASE_URL"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "http-addr",
				EnvVars: []string{"HTTP_ADDR"},
				Value:   ":80",
			},
			&cli.StringFlag{
				Name:    "http-password-hash",
				EnvVars: []string{"HTTP_PASSWORD_HASH"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "sensor-path",
				EnvVars: []string{"SENSOR_PATH"},
				Value:   "/sys/bus/iio/devices/iio:device0/in_voltage0_raw",
			},
			&cli.StringFlag{
				Name:    "link-interface",
				EnvVars: []string{"LINK_INTERFACE"},
				Usage:   "network interface to watch, empty for any",
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "link-reconnect-cmd",
				EnvVars: []string{"LINK_RECONNECT_CMD"},
				Usage:   "command run when the link is down, e.g. \"wpa_cli -i wlan0 reconnect\"",
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "link-reset-cmd",
				EnvVars: []string{"LINK_RESET_CMD"},
				Usage:   "command that forgets the link credentials, run from the panel before a restart",
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "button1-path",
				EnvVars: []string{"BUTTON1_PATH"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "button2-path",
				EnvVars: []string{"BUTTON2_PATH"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "defaults-file",
				EnvVars: []string{"DEFAULTS_FILE"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "client-id",
				EnvVars: []string{"CLIENT_ID"},
				Value:   "",
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := app.RunContext(ctx, os.Args)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, controller.ErrRestartRequested):
		stop()
		os.Exit(exitRestart)
	default:
		log.Fatal(err)
	}
}
