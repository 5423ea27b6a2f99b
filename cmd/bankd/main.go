package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/generousbank/bankd/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:   "bankd",
		Usage:  "event-sourced account ledger daemon",
		Flags:  config.Flags,
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.LoadConfig(c)
	if err != nil {
		log.Fatalf("invalid config: %s", err)
	}

	log.SetLevel(log.Level(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		log.Fatalf("failed to init service dependencies: %s", err)
	}

	svc, err := cfg.AppService()
	if err != nil {
		log.Fatalf("failed to create app service: %s", err)
	}

	log.Infof("bankd config: %s", cfg)

	log.Info("starting service...")
	if err := svc.Start(); err != nil {
		log.Fatalf("failed to start service: %s", err)
	}

	log.RegisterExitHandler(func() {
		svc.Stop()
		cfg.RepoManager().Close()
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(
		sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGHUP, os.Interrupt,
	)
	<-sigChan

	log.Info("shutting down service...")
	log.Exit(0)
	return nil
}
