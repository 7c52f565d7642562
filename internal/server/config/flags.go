package config

import (
	"flag"
	"strings"
	"time"

	"github.com/dmitrijs2005/pindrop/internal/flagx"
)

// parseFlags overlays Config fields from command-line flags.
//
// Supported flags:
//
//	-a string            gRPC bind address (e.g. ":50051")
//	-trusted-proxies string comma-separated proxy CIDRs
//	-d string            PostgreSQL DSN
//	-s string            JWT HMAC secret key
//	-t int               owner access token validity, minutes
//	-u string            S3 root user
//	-p string            S3 root password
//	-b string            S3 bucket name
//	-g string            S3 region
//	-e string            S3 base endpoint
//	-pin-enc-key string  PIN encryption secret
//	-pin-hash-key string PIN hashing secret
//	-redis string        redis address for the shared attempt ledger
//	-challenge-url string, -challenge-secret string
//	-orphan-queue string SQS queue URL for orphaned blobs
//	-sweep int           sweep interval, minutes (0 disables)
//	-quota int           per-owner quota, bytes
//	-max-object int      per-object ceiling, bytes
//	-log-level string
//
// Only the flags above are picked out of args, so unrelated flags (-c) pass through.
func parseFlags(config *Config, args []string) {
	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	fs.Func("trusted-proxies", "comma-separated CIDRs of trusted proxies", func(v string) error {
		config.TrustedProxies = splitList(v)
		return nil
	})
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	accessTokenValidity := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access token validity (in minutes)")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	fs.StringVar(&config.PinEncryptionKey, "pin-enc-key", config.PinEncryptionKey, "PIN encryption secret")
	fs.StringVar(&config.PinHashKey, "pin-hash-key", config.PinHashKey, "PIN hashing secret")
	fs.StringVar(&config.RedisAddr, "redis", config.RedisAddr, "redis address for the attempt ledger")
	fs.StringVar(&config.ChallengeVerifyURL, "challenge-url", config.ChallengeVerifyURL, "challenge verification endpoint")
	fs.StringVar(&config.ChallengeSecret, "challenge-secret", config.ChallengeSecret, "challenge verification secret")
	fs.StringVar(&config.OrphanQueueURL, "orphan-queue", config.OrphanQueueURL, "SQS queue URL for orphaned blobs")
	sweep := fs.Int("sweep", int(config.SweepInterval.Minutes()), "lifecycle sweep interval (in minutes, 0 disables)")
	fs.Int64Var(&config.QuotaBytes, "quota", config.QuotaBytes, "per-owner storage quota (bytes)")
	fs.Int64Var(&config.MaxObjectBytes, "max-object", config.MaxObjectBytes, "per-object size ceiling (bytes)")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "log level")

	if err := fs.Parse(flagx.FilterArgs(args, flagx.Names(fs))); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenValidity) * time.Minute
	config.SweepInterval = time.Duration(*sweep) * time.Minute
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
