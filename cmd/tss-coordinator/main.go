package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"tss-coordinator/api"
	"tss-coordinator/internal/auth"
	"tss-coordinator/internal/config"
	"tss-coordinator/internal/crypto/sharecipher"
	"tss-coordinator/internal/engine"
	"tss-coordinator/internal/keyshare"
	"tss-coordinator/internal/logger"
	"tss-coordinator/internal/network"
	"tss-coordinator/internal/party"
	"tss-coordinator/internal/storage"
	"tss-coordinator/internal/tss"
)

var flagConfig = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Value:   "config.json",
	Usage:   "Path to the configuration file",
	EnvVars: []string{"TSS_CONFIG"},
}

func main() {
	app := &cli.App{
		Name:           "tss-coordinator",
		Usage:          "threshold signing coordinator",
		DefaultCommand: "serve",
		Flags:          []cli.Flag{flagConfig},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "Migrate the schema and seed key-share nodes from the configuration",
				Action: migrate,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup(cCtx *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(cCtx.String(flagConfig.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := logger.InitLogger(cfg.Logger); err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	return cfg, nil
}

func serve(cCtx *cli.Context) error {
	cfg, err := setup(cCtx)
	if err != nil {
		return err
	}

	db, err := storage.InitDB(cfg.Database)
	if err != nil {
		return err
	}

	masterKey, err := cfg.MasterKey()
	if err != nil {
		return err
	}
	fragments, err := sharecipher.New(masterKey, sharecipher.FragmentInfo)
	if err != nil {
		return err
	}
	sealKey, err := cfg.Engine.SealKey()
	if err != nil {
		return err
	}
	sealer, err := sharecipher.New(sealKey, engine.KeyShareInfo)
	if err != nil {
		return err
	}
	tokens, err := auth.NewIssuer([]byte(cfg.JWT.Secret), cfg.JWT.Issuer, cfg.JWT.TTL())
	if err != nil {
		return err
	}

	transport := network.NewHTTPTransport(nil, nil)
	svc, err := tss.NewService(tss.Deps{
		Sessions:  storage.NewSessionStore(db),
		Wallets:   storage.NewWalletStore(db),
		KeyShares: keyshare.NewClient(transport, cfg.KeyShare.Timeout()),
		Engine:    engine.NewClient(transport, cfg.Engine.URL, cfg.Engine.Timeout(), sealer),
		Fragments: fragments,
		Tokens:    tokens,
	})
	if err != nil {
		return err
	}

	router := api.SetupRouter(api.Options{Service: svc, Tokens: tokens, APIKeys: cfg.APIKeys})
	logger.Log.Infof("tss-coordinator listening on %s", cfg.ServerPort)
	return router.Run(cfg.ServerPort)
}

func migrate(cCtx *cli.Context) error {
	cfg, err := setup(cCtx)
	if err != nil {
		return err
	}

	db, err := storage.InitDB(cfg.Database)
	if err != nil {
		return err
	}
	if err := storage.Migrate(db); err != nil {
		return err
	}

	nodes := make([]party.Node, len(cfg.KeyShare.Nodes))
	for i, n := range cfg.KeyShare.Nodes {
		nodes[i] = party.Node{Name: n.Name, Endpoint: n.Endpoint, Active: true}
	}
	if err := storage.NewWalletStore(db).SeedNodes(cCtx.Context, nodes, cfg.KeyShare.Threshold); err != nil {
		return fmt.Errorf("failed to seed key-share nodes: %w", err)
	}
	logger.Log.Infof("Seeded %d key-share nodes, threshold %d", len(nodes), cfg.KeyShare.Threshold)
	return nil
}
