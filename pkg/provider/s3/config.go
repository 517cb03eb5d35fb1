// Package s3 implements the provider interface for AWS S3 and S3-compatible
// storage, so data spaces can live in a bucket.
package s3

// Config configures an S3 provider.
//
// Credentials follow the AWS SDK v2 default chain (environment, shared
// files, instance/task roles) unless AccessKeyID and SecretAccessKey are both
// set. For S3-compatible stores (MinIO, moto) set Endpoint and usually
// ForcePathStyle; no default region is applied when Endpoint is set.
type Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string

	Region   string
	Endpoint string
	Profile  string

	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle puts the bucket in the URL path instead of the host.
	ForcePathStyle bool

	// DetectRegion asks the EC2 instance metadata service for the region
	// when neither the config nor the SDK chain provides one.
	DetectRegion bool

	// MaxKeys is the default page size for List operations.
	// Zero uses DefaultMaxKeys. Values over MaxAllowedKeys are clamped.
	MaxKeys int
}

const (
	// DefaultMaxKeys is the default page size for List operations.
	DefaultMaxKeys = 1000

	// MaxAllowedKeys is the maximum page size allowed by S3.
	MaxAllowedKeys = 1000

	// DefaultAWSRegion is the fallback region for AWS S3 when not specified.
	DefaultAWSRegion = "us-east-1"
)

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}
