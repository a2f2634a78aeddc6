package main

import (
	"fmt"
	"os"

	"github.com/btcsuite/btclog"
	"github.com/lightninglabs/sendcoins/chain/mempool"
	"github.com/lightninglabs/sendcoins/db"
	"github.com/lightninglabs/sendcoins/directpay"
	"github.com/lightninglabs/sendcoins/dryrun"
	"github.com/lightninglabs/sendcoins/feetable"
	"github.com/lightninglabs/sendcoins/keyring"
	"github.com/lightninglabs/sendcoins/paymentproto"
	"github.com/lightninglabs/sendcoins/payreq"
	"github.com/lightninglabs/sendcoins/sending"
	"github.com/lightninglabs/sendcoins/transport"
	"github.com/lightninglabs/sendcoins/wallet/hdwallet"
)

// Subsystem defines the logging code for the command line tool.
const Subsystem = "SCLI"

var (
	// logBackend writes every subsystem to stderr so stdout only carries
	// command output.
	logBackend = btclog.NewBackend(os.Stderr)

	log = logBackend.Logger(Subsystem)
)

// subsystemLoggers maps each subsystem to the function installing its
// logger.
var subsystemLoggers = map[string]func(btclog.Logger){
	Subsystem:              func(l btclog.Logger) { log = l },
	db.Subsystem:           db.UseLogger,
	directpay.Subsystem:    directpay.UseLogger,
	dryrun.Subsystem:       dryrun.UseLogger,
	feetable.Subsystem:     feetable.UseLogger,
	hdwallet.Subsystem:     hdwallet.UseLogger,
	keyring.Subsystem:      keyring.UseLogger,
	mempool.Subsystem:      mempool.UseLogger,
	paymentproto.Subsystem: paymentproto.UseLogger,
	payreq.Subsystem:       payreq.UseLogger,
	sending.Subsystem:      sending.UseLogger,
	transport.Subsystem:    transport.UseLogger,
}

// setupLoggers sets every subsystem to the given level.
func setupLoggers(level string) error {
	lvl, ok := btclog.LevelFromString(level)
	if !ok {
		return fmt.Errorf("invalid debug level %q", level)
	}

	for subsystem, useLogger := range subsystemLoggers {
		logger := logBackend.Logger(subsystem)
		logger.SetLevel(lvl)
		useLogger(logger)
	}

	return nil
}
