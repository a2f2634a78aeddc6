package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	flags "github.com/jessevdk/go-flags"
	"github.com/lightninglabs/sendcoins/client"
	"github.com/lightninglabs/sendcoins/db"
	"github.com/lightninglabs/sendcoins/wallet/hdwallet"
	"github.com/urfave/cli"
)

const (
	defaultConfigFilename   = "sendcoins.conf"
	defaultKeystoreFilename = "keystore.json"
	defaultNetwork          = "testnet"
	defaultDebugLevel       = "info"
	defaultFeeRefresh       = 5 * time.Minute
)

var (
	defaultDataDir    = btcutil.AppDataDir("sendcoins", false)
	defaultConfigFile = filepath.Join(defaultDataDir, defaultConfigFilename)

	// defaultMempoolURLs are the public endpoints used when none are
	// configured. Regtest has no public endpoint.
	defaultMempoolURLs = map[string]string{
		"mainnet": "https://mempool.space/api",
		"testnet": "https://mempool.space/testnet/api",
		"signet":  "https://mempool.space/signet/api",
	}
)

// dbConfig configures the address book.
type dbConfig struct {
	Backend     string `long:"backend" description:"The address book backend" choice:"sqlite" choice:"postgres"`
	PostgresDSN string `long:"postgresdsn" description:"The postgres connection string"`
}

// config is the configuration of the command line tool. It is read from an
// ini file, global command line flags take precedence.
type config struct {
	Network      string        `long:"network" description:"The network to use" choice:"mainnet" choice:"testnet" choice:"signet" choice:"regtest"`
	DataDir      string        `long:"datadir" description:"The directory holding key state and the address book"`
	MempoolURLs  []string      `long:"mempoolurl" description:"A mempool.space compatible API endpoint, may be given multiple times"`
	KeystorePath string        `long:"keystore" description:"The path of the encrypted keystore"`
	Seed         string        `long:"seed" description:"The hex encoded seed of an unencrypted wallet"`
	WorkFactor   uint64        `long:"workfactor" description:"The scrypt work factor of the keystore"`
	FeeRefresh   time.Duration `long:"feerefresh" description:"How often fee rates are refreshed"`
	DebugLevel   string        `long:"debuglevel" description:"The logging level of all subsystems"`

	DB *dbConfig `group:"db" namespace:"db"`
}

func defaultConfig() *config {
	return &config{
		Network:    defaultNetwork,
		DataDir:    defaultDataDir,
		WorkFactor: hdwallet.DefaultWorkFactor,
		FeeRefresh: defaultFeeRefresh,
		DebugLevel: defaultDebugLevel,
		DB: &dbConfig{
			Backend: db.BackendTypeSqlite.String(),
		},
	}
}

// loadConfig reads the config file, if there is one, and applies the
// global flags set on the command line.
func loadConfig(ctx *cli.Context) (*config, error) {
	cfg := defaultConfig()

	configFile := ctx.GlobalString("configfile")
	switch _, err := os.Stat(configFile); {
	case err == nil:
		parser := flags.NewParser(cfg, flags.Default)
		err := flags.NewIniParser(parser).ParseFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("unable to parse %v: %w",
				configFile, err)
		}

	case errors.Is(err, os.ErrNotExist):
		// An explicitly named config file must exist.
		if ctx.GlobalIsSet("configfile") {
			return nil, err
		}

	default:
		return nil, err
	}

	if ctx.GlobalIsSet("network") {
		cfg.Network = ctx.GlobalString("network")
	}
	if ctx.GlobalIsSet("datadir") {
		cfg.DataDir = ctx.GlobalString("datadir")
	}
	if ctx.GlobalIsSet("mempoolurl") {
		cfg.MempoolURLs = ctx.GlobalStringSlice("mempoolurl")
	}
	if ctx.GlobalIsSet("keystore") {
		cfg.KeystorePath = ctx.GlobalString("keystore")
	}
	if ctx.GlobalIsSet("seed") {
		cfg.Seed = ctx.GlobalString("seed")
	}
	if ctx.GlobalIsSet("debuglevel") {
		cfg.DebugLevel = ctx.GlobalString("debuglevel")
	}

	return cfg, cfg.validate()
}

// validate fills in network dependent defaults and checks the config.
func (c *config) validate() error {
	if _, err := client.NetParams(c.Network); err != nil {
		return err
	}

	c.DataDir = cleanAndExpandPath(c.DataDir)
	if c.DataDir != "" {
		c.DataDir = filepath.Join(c.DataDir, c.Network)
	}
	if c.KeystorePath == "" {
		c.KeystorePath = filepath.Join(
			c.DataDir, defaultKeystoreFilename,
		)
	}
	c.KeystorePath = cleanAndExpandPath(c.KeystorePath)

	if len(c.MempoolURLs) == 0 {
		url, ok := defaultMempoolURLs[c.Network]
		if !ok {
			return fmt.Errorf("mempoolurl required on %v", c.Network)
		}
		c.MempoolURLs = []string{url}
	}

	if c.DB == nil {
		c.DB = &dbConfig{Backend: db.BackendTypeSqlite.String()}
	}
	if c.DB.Backend == db.BackendTypePostgres.String() &&
		c.DB.PostgresDSN == "" {

		return fmt.Errorf("db.postgresdsn required for the postgres " +
			"backend")
	}

	return nil
}

// clientConfig turns the config into a client configuration. The keystore
// is only loaded when no plain seed is given.
func (c *config) clientConfig() (*client.Config, error) {
	cfg := &client.Config{
		Network:            c.Network,
		DataDir:            c.DataDir,
		KeystorePath:       c.KeystorePath,
		MempoolURLs:        c.MempoolURLs,
		FeeRefreshInterval: c.FeeRefresh,
		WorkFactor:         c.WorkFactor,
		OnKeyUpgraded: func() {
			log.Infof("Keystore %v upgraded", c.KeystorePath)
		},
	}

	if c.Seed != "" {
		seed, err := hex.DecodeString(c.Seed)
		if err != nil {
			return nil, fmt.Errorf("invalid seed: %w", err)
		}
		cfg.Seed = seed
	} else {
		ks, err := hdwallet.LoadKeystore(c.KeystorePath)
		if err != nil {
			return nil, fmt.Errorf("unable to load keystore, run "+
				"`sendcoins create` first: %w", err)
		}
		cfg.Keystore = ks
	}

	if c.DB.Backend == db.BackendTypePostgres.String() {
		dbCfg := db.DefaultConfig("")
		dbCfg.Backend = db.BackendTypePostgres
		dbCfg.PostgresDSN = c.DB.PostgresDSN
		cfg.AddressBook = dbCfg
	}

	if err := os.MkdirAll(c.DataDir, 0700); err != nil {
		return nil, err
	}

	return cfg, nil
}

// cleanAndExpandPath expands a leading ~ and environment variables and
// cleans the result.
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}

	return filepath.Clean(os.ExpandEnv(path))
}
