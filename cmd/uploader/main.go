package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/gophupload/internal/client/cli"
	"github.com/dmitrijs2005/gophupload/internal/client/config"
	"github.com/dmitrijs2005/gophupload/internal/flagx"
)

func main() {

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	cfg := config.LoadConfig()
	app, err := cli.NewApp(ctx, cfg)

	if err != nil {
		stop()
		log.Fatalf("%v", err)
		return
	}

	code := app.Run(ctx, flagx.Positional(os.Args[1:], config.ValueFlags))

	app.Close()
	stop()
	os.Exit(code)
}
