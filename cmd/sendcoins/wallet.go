package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/lightninglabs/sendcoins/client"
	"github.com/lightninglabs/sendcoins/feetable"
	"github.com/lightninglabs/sendcoins/wallet"
	"github.com/lightninglabs/sendcoins/wallet/hdwallet"
	"github.com/urfave/cli"
	"golang.org/x/term"
)

var createCommand = cli.Command{
	Name:  "create",
	Usage: "create a new encrypted wallet",
	Description: `
	Creates a new wallet from a fresh seed, or from the seed given with
	--fromseed, and stores it in a keystore encrypted with a passphrase.
	`,
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "fromseed",
			Usage: "hex encoded seed to restore instead of " +
				"generating one",
		},
	},
	Action: create,
}

func create(ctx *cli.Context) error {
	cfg, err := getConfig(ctx)
	if err != nil {
		return err
	}
	params, err := client.NetParams(cfg.Network)
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfg.KeystorePath); err == nil {
		return fmt.Errorf("keystore %v already exists",
			cfg.KeystorePath)
	}

	var seed []byte
	if ctx.IsSet("fromseed") {
		seed, err = hex.DecodeString(ctx.String("fromseed"))
	} else {
		seed, err = hdkeychain.GenerateSeed(
			hdkeychain.RecommendedSeedLen,
		)
	}
	if err != nil {
		return fmt.Errorf("invalid seed: %w", err)
	}

	pass, err := readPassword("Input new wallet passphrase: ")
	if err != nil {
		return err
	}
	confirmPass, err := readPassword("Confirm passphrase: ")
	if err != nil {
		return err
	}
	if pass != confirmPass {
		return errors.New("passphrases don't match")
	}
	if pass == "" {
		return errors.New("passphrase must not be empty")
	}

	ks, err := hdwallet.NewKeystore(seed, pass, params, cfg.WorkFactor)
	if err != nil {
		return err
	}
	err = os.MkdirAll(filepath.Dir(cfg.KeystorePath), 0700)
	if err != nil {
		return err
	}
	if err := ks.Save(cfg.KeystorePath); err != nil {
		return err
	}

	if !ctx.IsSet("fromseed") {
		fmt.Printf("Wallet seed, write it down:\n\n%x\n\n", seed)
	}
	fmt.Printf("Keystore written to %v\n", cfg.KeystorePath)

	return nil
}

var balanceCommand = cli.Command{
	Name:   "balance",
	Usage:  "show the wallet balance",
	Action: balance,
}

func balance(ctx *cli.Context) error {
	c, cleanUp, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer cleanUp()

	ctxb := context.Background()
	if err := c.Wallet().Sync(ctxb); err != nil {
		return err
	}

	available, err := c.Wallet().Balance(ctxb, wallet.BalanceAvailable)
	if err != nil {
		return err
	}
	estimated, err := c.Wallet().Balance(ctxb, wallet.BalanceEstimated)
	if err != nil {
		return err
	}

	fmt.Printf("available: %v\n", available)
	fmt.Printf("estimated: %v\n", estimated)

	return nil
}

var receiveCommand = cli.Command{
	Name:   "receive",
	Usage:  "show the current receive address",
	Action: receive,
}

func receive(ctx *cli.Context) error {
	c, cleanUp, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer cleanUp()

	if err := c.Wallet().Sync(context.Background()); err != nil {
		return err
	}

	addr, err := c.Wallet().CurrentReceiveAddress()
	if err != nil {
		return err
	}
	fmt.Println(addr.EncodeAddress())

	return nil
}

var feesCommand = cli.Command{
	Name:   "fees",
	Usage:  "show the current fee rate of every category",
	Action: fees,
}

func fees(ctx *cli.Context) error {
	c, cleanUp, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer cleanUp()

	rates, ok := c.Fees().Rates()
	if !ok {
		return errors.New("no fee rates available")
	}
	for _, category := range feetable.AllCategories {
		rate, ok := rates.Rate(category)
		if !ok {
			continue
		}
		fmt.Printf("%-10s %v\n", category, rate)
	}

	return nil
}

// readPassword reads a passphrase from the terminal without echo.
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}

	return string(pw), nil
}

var stdin = bufio.NewReader(os.Stdin)

// promptYesNo asks a yes or no question, defaulting to no.
func promptYesNo(question string) (bool, error) {
	fmt.Printf("%s [y/N]: ", question)

	answer, err := stdin.ReadString('\n')
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(strings.TrimSpace(answer))

	return answer == "y" || answer == "yes", nil
}
