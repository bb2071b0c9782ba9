package commands

import (
	"path/filepath"

	"github.com/mosaicnetworks/parley/src/net/signal/wamp"
	"github.com/spf13/cobra"
)

//NewSignalCmd returns the command that starts a WAMP signaling server
func NewSignalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "signal",
		Short:   "Run a WAMP signaling server",
		PreRunE: loadServerConfig,
		RunE:    runSignal,
	}

	cmd.Flags().String("datadir", _config.Parley.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.Parley.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("listen", _config.Listen, "Listen IP:Port of the signaling server")
	cmd.Flags().String("signal-realm", _config.Parley.SignalRealm, "Administrative routing domain within the WAMP router")
	cmd.Flags().String("cert", _config.CertFile, "File containing the TLS certificate. Defaults to cert.pem in the datadir")
	cmd.Flags().String("key", _config.KeyFile, "File containing the TLS private key. Defaults to key.pem in the datadir")

	return cmd
}

func runSignal(cmd *cobra.Command, args []string) error {
	logger := _config.Parley.Logger().WithField("component", "signal-server")

	certFile := _config.CertFile
	if certFile == "" {
		certFile = _config.Parley.CertFile()
	}

	keyFile := _config.KeyFile
	if keyFile == "" {
		keyFile = filepath.Join(_config.Parley.DataDir, "key.pem")
	}

	server, err := wamp.NewServer(
		_config.Listen,
		_config.Parley.SignalRealm,
		certFile,
		keyFile,
		logger,
	)
	if err != nil {
		return err
	}

	go server.Run()

	logger.WithField("address", server.Addr()).Info("Signaling server started")

	waitForSignal()

	server.Shutdown()

	return nil
}

func loadServerConfig(cmd *cobra.Command, args []string) error {
	return bindFlagsLoadViper(cmd)
}
