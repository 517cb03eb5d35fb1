package dataspace

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/3leaps/jobsync/pkg/match"
	"github.com/3leaps/jobsync/pkg/provider"
	"github.com/3leaps/jobsync/pkg/provider/file"
	"github.com/3leaps/jobsync/pkg/provider/s3"
	"github.com/3leaps/jobsync/pkg/transfer"
)

// Client is the remote data-space API used for staging and transfers.
//
// All calls block on I/O; callers on an event path must dispatch them through
// a transfer.Executor.
type Client interface {
	// CreateFolder materializes an empty folder at url.
	CreateFolder(ctx context.Context, url string) error

	// DeleteFolder removes url and everything below it.
	DeleteFolder(ctx context.Context, url string) error

	// Upload copies files below localDir matching selectors to remoteURL and
	// returns how many were copied. No selectors means every file.
	Upload(ctx context.Context, localDir, remoteURL string, selectors []string) (int, error)

	// Download copies files below remoteURL matching selectors into localDir.
	Download(ctx context.Context, remoteURL string, selectors []string, localDir string) (int, error)
}

// S3Config holds settings shared by every S3 data space.
type S3Config struct {
	Region         string
	Endpoint       string
	Profile        string
	ForcePathStyle bool
	DetectRegion   bool
}

// Config configures a ProviderClient.
type Config struct {
	S3 S3Config

	// Concurrency bounds parallel object copies within one transfer.
	Concurrency int

	RetryBufferMaxMemoryBytes int64

	// Excludes are glob patterns never transferred in either direction.
	Excludes []string

	Logger *zap.Logger
}

// ProviderClient implements Client on top of storage providers.
//
// S3 providers are created lazily per bucket and reused.
type ProviderClient struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	buckets map[string]*s3.Provider
}

var _ Client = (*ProviderClient)(nil)

// NewClient creates a provider-backed client.
func NewClient(cfg Config) *ProviderClient {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProviderClient{cfg: cfg, logger: logger, buckets: make(map[string]*s3.Provider)}
}

// Open returns the provider serving loc and the key prefix of loc within it.
func (c *ProviderClient) Open(ctx context.Context, loc *Location) (provider.Provider, string, error) {
	switch loc.Type {
	case provider.ProviderFile:
		p, err := file.New(file.Config{BaseDir: loc.Path})
		if err != nil {
			return nil, "", err
		}
		return p, "", nil
	case provider.ProviderS3:
		p, err := c.bucket(ctx, loc.Bucket)
		if err != nil {
			return nil, "", err
		}
		return p, loc.Path, nil
	default:
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedScheme, loc.Type)
	}
}

func (c *ProviderClient) bucket(ctx context.Context, name string) (*s3.Provider, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.buckets[name]; ok {
		return p, nil
	}
	p, err := s3.New(ctx, s3.Config{
		Bucket:         name,
		Region:         c.cfg.S3.Region,
		Endpoint:       c.cfg.S3.Endpoint,
		Profile:        c.cfg.S3.Profile,
		ForcePathStyle: c.cfg.S3.ForcePathStyle,
		DetectRegion:   c.cfg.S3.DetectRegion,
	})
	if err != nil {
		return nil, err
	}
	c.buckets[name] = p
	return p, nil
}

func (c *ProviderClient) CreateFolder(ctx context.Context, url string) error {
	loc, err := ParseURL(url)
	if err != nil {
		return err
	}
	p, prefix, err := c.Open(ctx, loc)
	if err != nil {
		return err
	}
	fc, ok := p.(provider.FolderCreator)
	if !ok {
		return fmt.Errorf("%s provider cannot create folders", loc.Type)
	}
	if err := fc.CreateFolder(ctx, prefix); err != nil {
		return err
	}
	c.logger.Debug("Data space folder created", zap.String("url", loc.String()))
	return nil
}

func (c *ProviderClient) DeleteFolder(ctx context.Context, url string) error {
	loc, err := ParseURL(url)
	if err != nil {
		return err
	}
	p, prefix, err := c.Open(ctx, loc)
	if err != nil {
		return err
	}
	deleter, ok := p.(provider.ObjectDeleter)
	if !ok {
		return fmt.Errorf("%s provider cannot delete objects", loc.Type)
	}

	listPrefix := prefix
	if listPrefix != "" {
		listPrefix += "/"
	}
	objs, err := provider.ListAll(ctx, p, listPrefix)
	if err != nil {
		return err
	}
	for _, obj := range objs {
		if err := deleter.DeleteObject(ctx, obj.Key); err != nil {
			return err
		}
	}

	switch loc.Type {
	case provider.ProviderS3:
		if prefix != "" {
			if err := deleter.DeleteObject(ctx, prefix+"/"); err != nil {
				return err
			}
		}
	case provider.ProviderFile:
		if err := os.RemoveAll(loc.Path); err != nil {
			return fmt.Errorf("remove %s: %w", loc.Path, err)
		}
	}
	c.logger.Debug("Data space folder deleted", zap.String("url", loc.String()), zap.Int("objects", len(objs)))
	return nil
}

func (c *ProviderClient) Upload(ctx context.Context, localDir, remoteURL string, selectors []string) (int, error) {
	st, err := os.Stat(localDir)
	if err != nil {
		return 0, fmt.Errorf("local input folder: %w", err)
	}
	if !st.IsDir() {
		return 0, fmt.Errorf("local input folder %s is not a directory", localDir)
	}
	local, err := file.New(file.Config{BaseDir: localDir})
	if err != nil {
		return 0, err
	}

	loc, err := ParseURL(remoteURL)
	if err != nil {
		return 0, err
	}
	remote, prefix, err := c.Open(ctx, loc)
	if err != nil {
		return 0, err
	}
	return c.copy(ctx, local, "", remote, prefix, selectors, "upload", localDir, loc.String())
}

func (c *ProviderClient) Download(ctx context.Context, remoteURL string, selectors []string, localDir string) (int, error) {
	loc, err := ParseURL(remoteURL)
	if err != nil {
		return 0, err
	}
	remote, prefix, err := c.Open(ctx, loc)
	if err != nil {
		return 0, err
	}

	local, err := file.New(file.Config{BaseDir: localDir})
	if err != nil {
		return 0, err
	}
	if err := local.CreateFolder(ctx, ""); err != nil {
		return 0, err
	}
	return c.copy(ctx, remote, prefix, local, "", selectors, "download", loc.String(), localDir)
}

func (c *ProviderClient) copy(ctx context.Context, src provider.Provider, srcPrefix string, dst provider.Provider, dstPrefix string, selectors []string, op, from, to string) (int, error) {
	m, err := match.New(match.Config{Includes: selectors, Excludes: c.cfg.Excludes})
	if err != nil {
		return 0, err
	}
	sum, err := transfer.CopyTree(ctx, src, srcPrefix, dst, dstPrefix, m, transfer.TreeOptions{
		Concurrency:               c.cfg.Concurrency,
		RetryBufferMaxMemoryBytes: c.cfg.RetryBufferMaxMemoryBytes,
	})
	n := int(sum.ObjectsTransferred)
	if err != nil {
		return n, err
	}
	c.logger.Debug("Data space transfer complete",
		zap.String("op", op),
		zap.String("source", from),
		zap.String("destination", to),
		zap.Int("files", n),
		zap.Int64("bytes", sum.BytesTransferred),
		zap.Duration("duration", sum.Duration),
	)
	return n, nil
}

// Close releases cached providers.
func (c *ProviderClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, p := range c.buckets {
		_ = p.Close()
		delete(c.buckets, name)
	}
	return nil
}
