package mongodriver

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const defaultConnectTimeout = 10 * time.Second

// ConnConfig holds the connection settings of the CLI
type ConnConfig struct {
	URI            string        `mapstructure:"uri" json:"uri" yaml:"uri"`
	Database       string        `mapstructure:"database" json:"database" yaml:"database"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" json:"connect_timeout" yaml:"connect_timeout"`
}

// Connect opens a client and checks the server is reachable. The caller
// disconnects the returned client.
func Connect(ctx context.Context, conf ConnConfig) (*mongo.Client, *mongo.Database, error) {
	if conf.URI == "" {
		return nil, nil, fmt.Errorf("mongodriver: uri is required")
	}
	if conf.Database == "" {
		return nil, nil, fmt.Errorf("mongodriver: database is required")
	}

	timeout := conf.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	client, err := mongo.Connect(options.Client().
		ApplyURI(conf.URI).
		SetConnectTimeout(timeout))
	if err != nil {
		return nil, nil, fmt.Errorf("mongodriver: connect: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Ping(pctx, nil); err != nil {
		client.Disconnect(ctx) //nolint:errcheck
		return nil, nil, fmt.Errorf("mongodriver: ping: %w", err)
	}
	return client, client.Database(conf.Database), nil
}
