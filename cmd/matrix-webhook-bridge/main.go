// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command matrix-webhook-bridge relays messages from a single Matrix room
// to an n8n webhook. It logs in as a regular Matrix user, joins the
// configured room, and POSTs each new text, image, audio, and file message
// as a JSON payload to the webhook URL.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.mau.fi/util/exzerolog"
	flag "maunium.net/go/mauflag"

	"github.com/aiku/matrix-webhook-bridge/pkg/bridge"
)

const version = "0.1.0"

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath     = flag.MakeFull("c", "config", "The path to your config file.", "config.yaml").String()
	generateConfig = flag.MakeFull("e", "generate-example-config", "Write the example config to the config path and quit.", "false").Bool()
	showVersion    = flag.MakeFull("v", "version", "View bridge version and quit.", "false").Bool()
	wantHelp, _    = flag.MakeHelpFlag()
)

// describeVersion formats the version like a release when the build tag
// matches and as a dev build otherwise.
func describeVersion() string {
	if Tag == version {
		return fmt.Sprintf("%s (%s)", version, BuildTime)
	}
	if len(Commit) >= 8 {
		return fmt.Sprintf("%s+dev.%s (%s)", version, Commit[:8], BuildTime)
	}
	return fmt.Sprintf("%s+dev.unknown (%s)", version, BuildTime)
}

func main() {
	flag.SetHelpTitles(
		"matrix-webhook-bridge - A Matrix room to n8n webhook relay.",
		"matrix-webhook-bridge [-h] [-c <path>] [-e] [-v]",
	)
	if err := flag.Parse(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.PrintHelp()
		os.Exit(1)
	} else if *wantHelp {
		flag.PrintHelp()
		os.Exit(0)
	} else if *showVersion {
		fmt.Println("matrix-webhook-bridge", describeVersion())
		os.Exit(0)
	} else if *generateConfig {
		if err := os.WriteFile(*configPath, []byte(bridge.ExampleConfig), 0o600); err != nil {
			fmt.Fprintln(os.Stderr, "Failed to write example config:", err)
			os.Exit(1)
		}
		fmt.Println("Wrote example config to", *configPath)
		os.Exit(0)
	}

	cfg, err := bridge.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		os.Exit(2)
	}

	log, err := cfg.Logging.Compile()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to set up logging:", err)
		os.Exit(2)
	}
	exzerolog.SetupDefaults(log)

	br, err := bridge.New(cfg, *log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize bridge")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := br.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Matrix")
	}
	defer br.Stop()

	log.Info().Str("version", describeVersion()).Msg("Bridge started")
	if err := br.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Bridge exited with error")
	}
	log.Info().Msg("Shutting down")
}
