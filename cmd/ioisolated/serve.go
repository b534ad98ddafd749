package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joeycumines/ioisolate/alert"
	"github.com/joeycumines/ioisolate/event"
	"github.com/joeycumines/ioisolate/fileio"
	"github.com/joeycumines/ioisolate/isolate"
)

func runServe(cmd *cobra.Command, args []string) error {
	mgr := isolate.New(isolate.Config{
		HighCapacity:   viper.GetInt("high_capacity"),
		MediumCapacity: viper.GetInt("medium_capacity"),
		LowCapacity:    viper.GetInt("low_capacity"),
		IOPoolSize:     viper.GetInt("io_threads"),
		FileIO:         fileio.Config{MaxConcurrentOps: viper.GetInt("max_concurrent_ops")},
		Logger:         logger,
	})
	defer mgr.Close()

	alertCh := make(chan alert.Alert, 64)
	unsubscribe := mgr.Alerts().Subscribe(alertCh)
	defer unsubscribe()
	go func() {
		for a := range alertCh {
			logger.Warning().Str(`alert`, string(a.Type)).Log(a.Message)
		}
	}()

	mgr.RegisterWorker(event.TypeCacheUpdate, func(ctx context.Context, e *event.Event) error {
		return nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "shutting down")
			return nil
		case <-ticker.C:
			stats := mgr.Stats()
			logger.Info().Int(`active_resources`, stats.ActiveResources).Log(`isolation runtime stats`)
		}
	}
}
