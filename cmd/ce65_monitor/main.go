package main

import (
	"embed"
	"os"

	"github.com/user/ce65_converter_go/internal/logging"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
)

//go:embed all:frontend/public
var assets embed.FS

func main() {
	if err := wails.Run(appOptions(NewApp())); err != nil {
		logging.Errorf("ce65_monitor: %v", err)
		os.Exit(1)
	}
}

// appOptions lays out the monitor window; a run report needs the full plot width.
func appOptions(app *App) *options.App {
	return &options.App{
		Title:     "CE65 Monitor",
		Width:     760,
		Height:    640,
		MinWidth:  640,
		MinHeight: 480,
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		BackgroundColour: &options.RGBA{R: 46, G: 46, B: 46, A: 255}, // #2e2e2e
		OnStartup:        app.Startup,
		OnShutdown:       app.Shutdown,
		Bind:             []interface{}{app},
	}
}
