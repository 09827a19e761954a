package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/hanflix/billing/internal/pkg/billing"
	"github.com/hanflix/billing/internal/pkg/cache"
	"github.com/hanflix/billing/internal/pkg/database"
	"github.com/hanflix/billing/internal/pkg/env"
	"github.com/hanflix/billing/internal/pkg/router"
)

func main() {
	app, scheduler := NewApplication()

	scheduler.Start()
	defer scheduler.Stop()

	// graceful shutdown on SIGINT/SIGTERM
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		scheduler.Stop()
		_ = app.Shutdown()
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4100")))
	log.Fatal(err)
}

func NewApplication() (*fiber.App, *billing.Scheduler) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	app := fiber.New(fiber.Config{
		AppName: "hanflix-billing",
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// ROUTER
	router.InstallRouter(app)

	scheduler := billing.NewSchedulerFromDB(database.GetDB())
	return app, scheduler
}
