package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"tradeexecutor/cmd/accounts"
	"tradeexecutor/cmd/sweeper"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "Trade Executor CMD"
	app.Usage = "The trade executor command line interface"

	app.Commands = []cli.Command{
		sweeperCMD,
		accountsCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	sweeperCMD = cli.Command{
		Name:        "sweeper",
		Usage:       "run the background sweeper",
		Action:      sweeperAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run limit triggers, SL/TP monitoring and reconciliation sweeps`,
	}
	accountsCMD = cli.Command{
		Name:        "accounts",
		Usage:       "run the admin CLI",
		Action:      accountsAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Seed exchange accounts, vaults and webhook sources`,
	}
)

func sweeperAction(_ *cli.Context) error {

	logrus.Info("Starting sweeper CMD")
	logrus.WithField("cmd", "sweeper")

	loop := &sweeper.Sweeper{}
	err := loop.Start()
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}

func accountsAction(_ *cli.Context) error {

	logrus.Info("Starting accounts admin CMD")
	logrus.WithField("cmd", "accounts")

	admin := &accounts.Admin{}
	err := admin.Start()
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}
