package config

import (
	"fmt"
	"net/url"
	"regexp"
)

// identifierRE matches unquoted PostgreSQL identifiers. Schema and table
// names are interpolated into SQL text and must pass this check.
var identifierRE = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Validate checks the configuration for invalid values.
// Returns the first error found; errors wrap package sentinels so callers
// can match with errors.Is.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder model must not be empty", ErrInvalidEmbedderModel)
	}
	if c.EmbedderDim <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidEmbedderDimension, c.EmbedderDim)
	}

	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: must be in [0, 1], got %g", ErrInvalidSimilarityThreshold, c.SimilarityThreshold)
	}

	if c.IngestWorkers < 1 || c.IngestWorkers > 64 {
		return fmt.Errorf("%w: must be in [1, 64], got %d", ErrInvalidWorkers, c.IngestWorkers)
	}

	if err := validatePostsURL(c.PostsURL); err != nil {
		return err
	}

	if !identifierRE.MatchString(c.Schema) {
		return fmt.Errorf("%w: schema %q", ErrInvalidIdentifier, c.Schema)
	}
	if !identifierRE.MatchString(c.TableName) {
		return fmt.Errorf("%w: table %q", ErrInvalidIdentifier, c.TableName)
	}

	if len(c.FilterKeys) == 0 {
		return ErrNoFilterKeys
	}
	for _, key := range c.FilterKeys {
		if key == "" {
			return fmt.Errorf("%w: empty filter key", ErrNoFilterKeys)
		}
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port must be in [1, 65535], got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDBName)
	}

	return nil
}

func validatePostsURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: must not be empty", ErrInvalidPostsURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPostsURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https, got %q", ErrInvalidPostsURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidPostsURL)
	}
	return nil
}
