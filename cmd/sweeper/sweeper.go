package sweeper

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"tradeexecutor/src/database"
	"tradeexecutor/src/executors"
)

type Sweeper struct{}

func (t *Sweeper) Start() error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)

	defer stop()

	// Initialize main (read/write) database
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to main database")
		return err
	}

	logrus.Info("Starting background sweeper")

	if err := executors.StartLoop(ctx); err != nil {
		logrus.WithError(err).Error("Failed to start sweeper loop")
		return err
	}

	return nil
}
