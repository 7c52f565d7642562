package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/pindrop/internal/flagx"
	"github.com/dmitrijs2005/pindrop/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Durations accept both
// "24h" style strings and integer nanoseconds. Absent fields keep whatever
// value the Config already had.
type JsonConfig struct {
	EndpointAddrGRPC            *string         `json:"endpoint_addr_grpc"`
	TrustedProxies              []string        `json:"trusted_proxies"`
	DatabaseDSN                 *string         `json:"database_dsn"`
	SecretKey                   *string         `json:"secret_key"`
	AccessTokenValidityDuration *timex.Duration `json:"access_token_validity_duration"`
	PinEncryptionKey            *string         `json:"pin_encryption_key"`
	PinHashKey                  *string         `json:"pin_hash_key"`
	S3RootUser                  *string         `json:"s3_root_user"`
	S3RootPassword              *string         `json:"s3_root_password"`
	S3Bucket                    *string         `json:"s3_bucket"`
	S3Region                    *string         `json:"s3_region"`
	S3BaseEndpoint              *string         `json:"s3_base_endpoint"`
	PresignTTL                  *timex.Duration `json:"presign_ttl"`
	BlobTimeout                 *timex.Duration `json:"blob_timeout"`
	RedisAddr                   *string         `json:"redis_addr"`
	ChallengeVerifyURL          *string         `json:"challenge_verify_url"`
	ChallengeSecret             *string         `json:"challenge_secret"`
	OrphanQueueURL              *string         `json:"orphan_queue_url"`
	SweepInterval               *timex.Duration `json:"sweep_interval"`
	QuotaBytes                  *int64          `json:"quota_bytes"`
	MaxObjectBytes              *int64          `json:"max_object_bytes"`
	CacheTTL                    *timex.Duration `json:"cache_ttl"`
	CacheSize                   *int            `json:"cache_size"`
	LogLevel                    *string         `json:"log_level"`
}

// parseJson overlays the file named by -c/-config, if any. A missing or
// malformed file is a startup error, so it panics like flag parsing does.
func parseJson(config *Config, args []string) {
	path := flagx.ConfigPath(args)
	if path == "" {
		return
	}
	if err := applyJSONFile(config, path); err != nil {
		panic(err)
	}
}

func applyJSONFile(config *Config, path string) error {
	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	if c.TrustedProxies != nil {
		config.TrustedProxies = c.TrustedProxies
	}
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setString(&config.PinEncryptionKey, c.PinEncryptionKey)
	setString(&config.PinHashKey, c.PinHashKey)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setDuration(&config.PresignTTL, c.PresignTTL)
	setDuration(&config.BlobTimeout, c.BlobTimeout)
	setString(&config.RedisAddr, c.RedisAddr)
	setString(&config.ChallengeVerifyURL, c.ChallengeVerifyURL)
	setString(&config.ChallengeSecret, c.ChallengeSecret)
	setString(&config.OrphanQueueURL, c.OrphanQueueURL)
	setDuration(&config.SweepInterval, c.SweepInterval)
	if c.QuotaBytes != nil {
		config.QuotaBytes = *c.QuotaBytes
	}
	if c.MaxObjectBytes != nil {
		config.MaxObjectBytes = *c.MaxObjectBytes
	}
	setDuration(&config.CacheTTL, c.CacheTTL)
	if c.CacheSize != nil {
		config.CacheSize = *c.CacheSize
	}
	setString(&config.LogLevel, c.LogLevel)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
