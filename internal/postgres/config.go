package postgres

import (
	"database/sql"

	"github.com/go-kit/kit/log"
)

// NewClient returns a new Postgres client to manage repositories.
func NewClient(options ...ConfigOption) *Client {
	c := Client{
		logger: log.NewNopLogger(),
	}

	for _, opt := range options {
		opt(&c)
	}

	c.createQueries()
	c.attachRepositories()

	return &c
}

// ConfigOption configures the Client.
type ConfigOption func(*Client)

// WithLogger configures the client with a Logger.
func WithLogger(l log.Logger) ConfigOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithDB configures the client with a Postgres DB.
func WithDB(db *sql.DB) ConfigOption {
	return func(c *Client) {
		c.db = db
	}
}
