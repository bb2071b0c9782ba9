package commands

import (
	"context"
	"time"

	"github.com/mosaicnetworks/parley/src/net/signal/ws"
	"github.com/spf13/cobra"
)

const relayShutdownTimeout = 5 * time.Second

//NewRelayCmd returns the command that starts a websocket signaling relay
func NewRelayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "relay",
		Short:   "Run a websocket signaling relay",
		PreRunE: loadServerConfig,
		RunE:    runRelay,
	}

	cmd.Flags().String("datadir", _config.Parley.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.Parley.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("listen", DefaultRelayAddr, "Listen IP:Port of the relay")
	cmd.Flags().String("redis", _config.Redis, "Optional address of a redis server mirroring room presence")
	cmd.Flags().String("redis-password", _config.RedisPassword, "Password of the redis server")
	cmd.Flags().Int("redis-db", _config.RedisDB, "Redis database number")

	return cmd
}

func runRelay(cmd *cobra.Command, args []string) error {
	logger := _config.Parley.Logger().WithField("component", "relay")

	var presence ws.Presence
	if _config.Redis != "" {
		rp, err := ws.NewRedisPresence(
			context.Background(),
			_config.Redis,
			_config.RedisPassword,
			_config.RedisDB,
		)
		if err != nil {
			logger.WithError(err).Error("Cannot connect to redis")
			return err
		}
		defer rp.Close()
		presence = rp
	}

	relay := ws.NewRelay(_config.Listen, presence, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- relay.Run()
	}()

	logger.WithField("address", _config.Listen).Info("Relay started")

	sigCh := make(chan struct{})
	go func() {
		waitForSignal()
		close(sigCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
	}

	ctx, cancel := context.WithTimeout(context.Background(), relayShutdownTimeout)
	defer cancel()

	return relay.Shutdown(ctx)
}
