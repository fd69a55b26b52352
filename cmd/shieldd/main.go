package main

import (
	"flag"

	"github.com/joho/godotenv"
	"go.uber.org/fx"

	"github.com/shieldsms/shield/internal/daemon"
	"github.com/shieldsms/shield/internal/paths"
)

func main() {
	configFlag := flag.String("config", "", "config file path (overrides default)")
	socketFlag := flag.String("socket", "", "unix socket path (overrides default)")
	flag.Parse()

	// Local .env is optional.
	_ = godotenv.Load()

	configPath := *configFlag
	if configPath == "" {
		configPath = paths.ConfigPath()
	}
	socketPath := *socketFlag
	if socketPath == "" {
		socketPath = paths.SocketPath()
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			ConfigPath: configPath,
			SocketPath: socketPath,
		}),
	)

	app.Run()
}
