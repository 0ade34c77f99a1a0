package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/harborquant/cta-engine/internal/engine"
	"github.com/harborquant/cta-engine/internal/event"
	"github.com/harborquant/cta-engine/internal/gateway"
	"github.com/harborquant/cta-engine/internal/logger"
	"github.com/harborquant/cta-engine/internal/strategy"
	"github.com/harborquant/cta-engine/internal/version"
	"github.com/urfave/cli/v3"
)

// runAction loads the engine configuration, starts the engine and blocks
// until the process receives an interrupt or termination signal.
func runAction(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	cfg, err := engine.LoadConfig(configPath)
	if err != nil {
		return err
	}

	log, err := logger.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	eng, err := engine.New(cfg, simFactory, log)
	if err != nil {
		return err
	}

	if err := eng.Start(); err != nil {
		eng.Stop()
		return err
	}

	log.Info("engine started, press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Info("shutting down")
	eng.Stop()

	return nil
}

// simFactory builds the simulated broker gateway. Real counter connections
// plug in here without touching the rest of the wiring.
func simFactory(bus *event.Bus, log *logger.Logger) gateway.Gateway {
	return gateway.NewSimGateway(bus, log)
}

// strategiesAction lists the built-in strategy templates.
func strategiesAction(ctx context.Context, cmd *cli.Command) error {
	for _, name := range strategy.Builtins() {
		fmt.Println(name)
	}

	return nil
}

// schemaAction prints the JSON schema for a template's parameters.
func schemaAction(ctx context.Context, cmd *cli.Command) error {
	name := cmd.Args().First()
	if name == "" {
		return fmt.Errorf("usage: schema <strategy-name>")
	}

	schema, err := strategy.ParamsSchema(name)
	if err != nil {
		return err
	}

	fmt.Println(schema)

	return nil
}

func newRootCmd() *cli.Command {
	return &cli.Command{
		Name:    "cta-engine",
		Usage:   "Multi-account CTA futures strategy engine",
		Version: version.GetVersion(),
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run the strategy engine against the configured accounts",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "config",
						Aliases:  []string{"c"},
						Usage:    "Path to the engine YAML configuration file",
						Value:    "config.yaml",
						Required: false,
					},
				},
				Action: runAction,
			},
			{
				Name:   "strategies",
				Usage:  "List the built-in strategy templates",
				Action: strategiesAction,
			},
			{
				Name:      "schema",
				Usage:     "Print the parameter JSON schema for a strategy template",
				ArgsUsage: "<strategy-name>",
				Action:    schemaAction,
			},
		},
	}
}

func main() {
	if err := newRootCmd().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
