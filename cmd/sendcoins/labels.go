package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/urfave/cli"
)

var labelCommands = cli.Command{
	Name:  "labels",
	Usage: "manage the address book",
	Subcommands: []cli.Command{
		addLabelCommand,
		listLabelsCommand,
		deleteLabelCommand,
	},
}

var addLabelCommand = cli.Command{
	Name:      "add",
	Usage:     "label an address",
	ArgsUsage: "address label",
	Action:    addLabel,
}

func addLabel(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return cli.ShowCommandHelp(ctx, "add")
	}

	c, cleanUp, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer cleanUp()

	addr, err := btcutil.DecodeAddress(ctx.Args().Get(0), c.NetParams())
	if err != nil {
		return err
	}
	if !addr.IsForNet(c.NetParams()) {
		return fmt.Errorf("address %v is not for %v", addr,
			c.NetParams().Name)
	}

	return c.AddressBook().AddLabel(
		context.Background(), addr.EncodeAddress(), ctx.Args().Get(1),
	)
}

var listLabelsCommand = cli.Command{
	Name:   "list",
	Usage:  "list all labelled addresses",
	Action: listLabels,
}

func listLabels(ctx *cli.Context) error {
	c, cleanUp, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer cleanUp()

	labels, err := c.AddressBook().Labels(context.Background())
	if err != nil {
		return err
	}
	for _, l := range labels {
		fmt.Printf("%s %s\n", l.Address, l.Label)
	}

	return nil
}

var deleteLabelCommand = cli.Command{
	Name:      "delete",
	Usage:     "remove the label of an address",
	ArgsUsage: "address",
	Action:    deleteLabel,
}

func deleteLabel(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return errors.New("address required")
	}

	c, cleanUp, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer cleanUp()

	return c.AddressBook().DeleteLabel(
		context.Background(), ctx.Args().First(),
	)
}
