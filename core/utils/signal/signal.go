package signal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// ShutdownSignals returns all the signals that are being watched for to shut down services.
func ShutdownSignals() []os.Signal {
	return []os.Signal{
		syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT,
	}
}

func WaitShutdown() os.Signal {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, ShutdownSignals()...)
	defer signal.Stop(signals)
	return <-signals
}

// ShutdownContext is cancelled on the first shutdown signal.
func ShutdownContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, ShutdownSignals()...)
}
