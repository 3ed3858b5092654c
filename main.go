package main

import (
	"context"
	"log/slog"
	"medvoice/app/api"
	"medvoice/app/client/cerba"
	"medvoice/app/client/knowledge"
	"medvoice/app/client/sorting"
	"medvoice/app/client/talkdesk"
	"medvoice/app/config"
	"medvoice/app/service/booking"
	"medvoice/app/service/llm"
	"medvoice/app/service/session"
	"medvoice/app/service/store"
	"medvoice/app/util/mylog"
	"os"
	"os/signal"

	"github.com/gofiber/fiber/v2/log"
	"github.com/samber/do"
)

func main() {
	di := do.New()
	defer di.Shutdown()
	defer log.Info("Waiting for services to finish...")

	mylog.Preinit()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	do.ProvideValue(di, appCtx)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	do.ProvideValue(di, cfg)

	if err = mylog.Init(cfg); err != nil {
		log.Fatalf("logging init failed: %v", err)
	}

	do.Provide(di, cerba.NewClient)
	do.Provide(di, sorting.NewClient)
	do.Provide(di, talkdesk.NewClient)
	do.Provide(di, knowledge.NewClient)
	do.Provide(di, llm.New)
	do.Provide(di, store.New)
	do.Provide(di, booking.New)
	do.Provide(di, session.New)
	do.Provide(di, api.New)

	slog.Info("Service started")

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt)
		<-sigint

		log.Info("Shutting down...")

		cancel()
	}()

	go do.MustInvoke[*session.Service](di).Run(appCtx)

	go func() {
		if err := do.MustInvoke[*api.Server](di).Run(appCtx); err != nil {
			log.Errorf("http server failed: %v", err)
			cancel()
		}
	}()

	<-appCtx.Done()
}
