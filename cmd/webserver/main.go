// Command webserver builds the configuration record from CLI flags and
// hands it to reactor.New; everything else lives in internal/.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/xtaci/goreactor/internal/asynclog"
	"github.com/xtaci/goreactor/internal/config"
	"github.com/xtaci/goreactor/internal/reactor"
)

func main() {
	app := &cli.App{
		Name:  "webserver",
		Usage: "a single-reactor HTTP/1.1 server",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Value: 1316, Usage: "listen port"},
			&cli.StringFlag{Name: "srcdir", Value: "./resources", Usage: "static content root"},
			&cli.IntFlag{Name: "trigmode", Value: int(config.ETListenETConn), Usage: "0=LT/LT 1=LT/ET 2=ET/LT 3=ET/ET"},
			&cli.Int64Flag{Name: "timeout-ms", Value: 60_000, Usage: "idle connection timeout; 0 disables"},
			&cli.BoolFlag{Name: "opt-linger", Value: false},
			&cli.IntFlag{Name: "threads", Value: 4, Usage: "worker pool size"},
			&cli.IntFlag{Name: "max-fd", Value: 65536},
			&cli.IntFlag{Name: "accept-cap", Value: 64},

			&cli.StringFlag{Name: "db-host", Value: "127.0.0.1"},
			&cli.IntFlag{Name: "db-port", Value: 5432},
			&cli.StringFlag{Name: "db-user"},
			&cli.StringFlag{Name: "db-pwd"},
			&cli.StringFlag{Name: "db-name"},
			&cli.IntFlag{Name: "db-pool-size", Value: 0, Usage: "0 disables the DB-backed form action"},

			&cli.BoolFlag{Name: "log", Value: true},
			&cli.IntFlag{Name: "log-level", Value: int(asynclog.Info)},
			&cli.StringFlag{Name: "log-dir", Value: "./log"},
			&cli.IntFlag{Name: "log-queue-cap", Value: 1024, Usage: "0 forces synchronous log writes"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := config.Default()
	cfg.Port = c.Int("port")
	cfg.SrcDir = c.String("srcdir")
	cfg.TrigMode = config.TriggerMode(c.Int("trigmode"))
	cfg.TimeoutMS = c.Int64("timeout-ms")
	cfg.OptLinger = c.Bool("opt-linger")
	cfg.ThreadNum = c.Int("threads")
	cfg.MaxFD = c.Int("max-fd")
	cfg.AcceptCap = c.Int("accept-cap")

	cfg.DB.Host = c.String("db-host")
	cfg.DB.Port = c.Int("db-port")
	cfg.DB.User = c.String("db-user")
	cfg.DB.Password = c.String("db-pwd")
	cfg.DB.DBName = c.String("db-name")
	cfg.DB.PoolSize = c.Int("db-pool-size")

	cfg.Log.Enabled = c.Bool("log")
	cfg.Log.Level = c.Int("log-level")
	cfg.Log.Dir = c.String("log-dir")
	cfg.Log.AsyncQueueCap = c.Int("log-queue-cap")

	srv, err := reactor.New(cfg)
	if err != nil {
		return fmt.Errorf("webserver: init: %w", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		srv.Stop()
	}()

	return srv.Run()
}
