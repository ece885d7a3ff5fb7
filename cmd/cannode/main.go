package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/roffe/cannode/cmd/cannode/cmd"

	// Init adapters and panels
	_ "github.com/roffe/cannode/adapter"
	_ "github.com/roffe/cannode/panel"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel() // Setup interupt handler for ctrl-c
	quitChan := make(chan os.Signal, 1)
	signal.Notify(quitChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-quitChan
		glog.Infof("got %v, exiting", s)
		cancel()
		// Failsafe if there is deadlocks
		<-time.After(45 * time.Second)
		glog.Fatal("took to long to shutdown, forcefully exiting")
	}()
	err := cmd.Execute(ctx)
	glog.Flush()
	if err != nil {
		os.Exit(1)
	}
}
