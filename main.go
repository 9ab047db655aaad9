package main

import (
	"embed"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/wailsapp/wails/v3/pkg/application"
	"github.com/wailsapp/wails/v3/pkg/events"

	"go.mozhi.app/mozhi/internal/app"
)

//go:embed all:frontend/dist
var assets embed.FS

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// A .env file is a convenience for development; absence is not an error.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("load .env", "error", err)
	}

	slog.Info("starting app", "version", version, "commit", commit, "date", date)
	appService := app.New(version)

	wailsApp := application.New(application.Options{
		Name:        "Mozhi",
		Description: "Live speech to Malayalam translation",
		Services: []application.Service{
			application.NewService(appService),
		},
		Assets: application.AssetOptions{
			Handler: application.BundledAssetFileServer(assets),
		},
		Mac: application.MacOptions{
			ApplicationShouldTerminateAfterLastWindowClosed: true,
		},
	})

	mainWindow := wailsApp.Window.NewWithOptions(application.WebviewWindowOptions{
		Title:  "Mozhi",
		Width:  900,
		Height: 640,
		URL:    "/",
		Mac: application.MacWindow{
			TitleBar:                application.MacTitleBarHiddenInsetUnified,
			InvisibleTitleBarHeight: 38,
		},
		DevToolsEnabled: true,
	})

	// Stop recording before the window goes away so a partial turn is
	// committed rather than lost.
	mainWindow.RegisterHook(events.Common.WindowClosing, func(e *application.WindowEvent) {
		if err := appService.StopRecording(); err != nil {
			slog.Error("stop recording on close", "error", err)
		}
	})

	appService.Init(wailsApp, mainWindow)
	defer appService.Shutdown()

	if err := wailsApp.Run(); err != nil {
		slog.Error("run app", "error", err)
		os.Exit(1)
	}
}
