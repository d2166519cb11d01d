package artifacts

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStoreConfig describes an S3-compatible bucket for published artifacts.
type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region,omitempty"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix,omitempty"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Enabled reports whether an endpoint has been configured.
func (cfg ObjectStoreConfig) Enabled() bool {
	return strings.TrimSpace(cfg.Endpoint) != ""
}

// Validate checks that the settings needed to connect are present.
func (cfg ObjectStoreConfig) Validate() error {
	var missing []string
	if strings.TrimSpace(cfg.Endpoint) == "" {
		missing = append(missing, "endpoint")
	}
	if strings.TrimSpace(cfg.AccessKey) == "" {
		missing = append(missing, "access_key")
	}
	if strings.TrimSpace(cfg.SecretKey) == "" {
		missing = append(missing, "secret_key")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		missing = append(missing, "bucket")
	}
	if len(missing) > 0 {
		return fmt.Errorf("object store config missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// ObjectKey returns the key an artifact file is stored under.
func (cfg ObjectStoreConfig) ObjectKey(fileName string) string {
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		return fileName
	}
	return path.Join(prefix, fileName)
}

// ObjectStore uploads local artifacts to an S3-compatible bucket.
type ObjectStore struct {
	Config ObjectStoreConfig
	client *minio.Client
}

// NewObjectStore connects a publisher for cfg.
func NewObjectStore(cfg ObjectStoreConfig) (*ObjectStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	return &ObjectStore{Config: cfg, client: client}, nil
}

// Publish uploads a file:// artifact and returns it with an s3:// URI. The
// local file is left in place.
func (s *ObjectStore) Publish(ctx context.Context, artifact Artifact) (Artifact, error) {
	if s == nil || s.client == nil {
		return Artifact{}, errors.New("object store is not configured")
	}

	localPath, err := PathFromURI(artifact.URI)
	if err != nil {
		return Artifact{}, err
	}

	if err := s.ensureBucket(ctx); err != nil {
		return Artifact{}, err
	}

	key := s.Config.ObjectKey(filepath.Base(localPath))
	userMetadata := map[string]string{"artifact-id": artifact.ID}
	if artifact.Checksum != nil {
		userMetadata["checksum"] = *artifact.Checksum
	}

	info, err := s.client.FPutObject(ctx, s.Config.Bucket, key, localPath, minio.PutObjectOptions{
		ContentType:  artifact.ContentType,
		UserMetadata: userMetadata,
	})
	if err != nil {
		return Artifact{}, fmt.Errorf("upload %s: %w", key, err)
	}

	published := artifact
	published.URI = fmt.Sprintf("s3://%s/%s", s.Config.Bucket, key)
	published.Metadata = cloneMetadata(artifact.Metadata)
	if published.Metadata == nil {
		published.Metadata = map[string]any{}
	}
	published.Metadata["local_uri"] = artifact.URI
	published.Metadata["etag"] = info.ETag
	published.Metadata["size"] = info.Size
	return published, nil
}

func (s *ObjectStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.Config.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.Config.Bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.Config.Bucket, minio.MakeBucketOptions{Region: s.Config.Region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.Config.Bucket, err)
	}
	return nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
