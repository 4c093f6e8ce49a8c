package cache

import (
	"crypto/tls"

	"github.com/redis/go-redis/v9"
)

// Options configures the Redis connection.
type Options struct {
	// Redis server address.
	Address string
	// Password required when connecting to the Redis server.
	Password string
	// DB to connect to.
	DB int
	// TLS config. Nil disables TLS.
	TLSConfig *tls.Config
}

// Connection contains the Redis client and the Options used to open it.
// The cache, history, lock and realtime packages share one Connection.
type Connection struct {
	Client  *redis.Client
	Options Options
}

// OpenConnection creates a client for the given options. No I/O happens
// until the first command.
func OpenConnection(options Options) *Connection {
	client := redis.NewClient(&redis.Options{
		TLSConfig: options.TLSConfig,
		Addr:      options.Address,
		Password:  options.Password,
		DB:        options.DB,
	})
	return &Connection{Client: client, Options: options}
}

// Close the connection if open.
func (c *Connection) Close() error {
	if c == nil || c.Client == nil {
		return nil
	}
	err := c.Client.Close()
	c.Client = nil
	return err
}

// keyNotFound will detect whether error signifies key not found by Redis.
func keyNotFound(err error) bool {
	return err == redis.Nil
}
