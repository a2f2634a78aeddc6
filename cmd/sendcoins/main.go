package main

import (
	"fmt"
	"os"

	"github.com/lightninglabs/sendcoins/client"
	"github.com/urfave/cli"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[sendcoins] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()
	app.Name = "sendcoins"
	app.Usage = "send bitcoin from a BIP84 wallet"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "configfile",
			Value: defaultConfigFile,
			Usage: "path of the config file",
		},
		cli.StringFlag{
			Name:  "network, n",
			Value: defaultNetwork,
			Usage: "the network to use; mainnet, testnet, signet " +
				"or regtest",
		},
		cli.StringFlag{
			Name:  "datadir",
			Value: defaultDataDir,
			Usage: "the directory holding key state and the " +
				"address book",
		},
		cli.StringSliceFlag{
			Name: "mempoolurl",
			Usage: "a mempool.space compatible API endpoint, " +
				"may be given multiple times",
		},
		cli.StringFlag{
			Name:  "keystore",
			Usage: "path of the encrypted keystore",
		},
		cli.StringFlag{
			Name:  "seed",
			Usage: "hex encoded seed of an unencrypted wallet",
		},
		cli.StringFlag{
			Name:  "debuglevel",
			Value: defaultDebugLevel,
			Usage: "logging level of all subsystems",
		},
	}
	app.Commands = []cli.Command{
		createCommand,
		payCommand,
		balanceCommand,
		receiveCommand,
		feesCommand,
		labelCommands,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

// getConfig loads the config and sets up logging.
func getConfig(ctx *cli.Context) (*config, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	if err := setupLoggers(cfg.DebugLevel); err != nil {
		return nil, err
	}

	return cfg, nil
}

// getClient returns a started client and a function stopping it.
func getClient(ctx *cli.Context) (*client.Client, func(), error) {
	cfg, err := getConfig(ctx)
	if err != nil {
		return nil, nil, err
	}

	clientCfg, err := cfg.clientConfig()
	if err != nil {
		return nil, nil, err
	}

	c, err := client.New(clientCfg)
	if err != nil {
		return nil, nil, err
	}
	if err := c.Start(); err != nil {
		return nil, nil, err
	}

	cleanUp := func() {
		if err := c.Stop(); err != nil {
			log.Errorf("Unable to stop client: %v", err)
		}
	}

	return c, cleanUp, nil
}
