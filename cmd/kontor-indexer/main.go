package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli"

	"github.com/ouziel-slama/kontor/params"
)

var (
	configFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	storageDSNFlag = cli.StringFlag{
		Name:  "storage.dsn",
		Usage: "storage DSN (sqlite file path or :memory:)",
	}
	startHeightFlag = cli.Uint64Flag{
		Name:  "start-height",
		Usage: "block height the reconciler seeks from when the store is empty",
	}

	commonFlags = []cli.Flag{configFileFlag, storageDSNFlag, startHeightFlag}
)

func main() {
	app := cli.NewApp()
	app.Name = "kontor-indexer"
	app.Usage = "Bitcoin-anchored smart-contract indexer"
	app.Flags = commonFlags
	app.Commands = []cli.Command{
		dumpConfigCommand,
		serveCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var dumpConfigCommand = cli.Command{
	Name:      "dumpconfig",
	Usage:     "Show configuration values",
	ArgsUsage: "",
	Flags:     commonFlags,
	Action:    dumpConfig,
}

// dumpConfig loads defaults, applies a TOML file and flag overrides, and
// prints the result back out as TOML.
func dumpConfig(ctx *cli.Context) error {
	cfg := makeConfig(ctx)

	out, err := params.Marshal(&cfg)
	if err != nil {
		return err
	}
	io.WriteString(os.Stdout, "# kontor-indexer effective configuration\n\n")
	os.Stdout.Write(out)
	return nil
}

func makeConfig(ctx *cli.Context) params.ChainConfig {
	cfg := params.DefaultConfig

	if file := ctx.GlobalString(configFileFlag.Name); file != "" {
		if err := params.LoadFile(file, &cfg); err != nil {
			fmt.Fprintln(os.Stderr, "config:", err)
			os.Exit(1)
		}
	}
	if dsn := ctx.GlobalString(storageDSNFlag.Name); dsn != "" {
		cfg.StorageDSN = dsn
	}
	if h := ctx.GlobalUint64(startHeightFlag.Name); h != 0 {
		cfg.StartHeight = h
	}
	return cfg
}

var serveCommand = cli.Command{
	Name:      "serve",
	Usage:     "Load the configuration and exit with an error (no chain.RPC/PushTransport is wired into this binary)",
	ArgsUsage: "",
	Flags:     commonFlags,
	Action:    serve,
}

// serve loads the configuration and returns an error without building an
// App or starting anything: this binary has no chain.RPC/
// chain.PushTransport/chain.ParseFunc of its own, since the Bitcoin RPC
// client and ZMQ transport are left for the operator to supply through
// New. It fails fast with a clear message rather than silently running
// against nothing.
func serve(ctx *cli.Context) error {
	cfg := makeConfig(ctx)
	return fmt.Errorf("kontor-indexer serve: no chain.RPC/chain.PushTransport/chain.ParseFunc implementation is wired into this binary (network=%s); link one in with cmd/kontor-indexer.New before running serve", cfg.Network)
}
