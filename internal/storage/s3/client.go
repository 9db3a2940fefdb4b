package s3

import (
	"context"
	"fmt"
	"sync"

	"github.com/apex/log"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awsconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"
)

// API is the part of the S3 client the filesystem uses.
type API interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient

	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// ClientManager owns the S3 client of one filesystem and the CargoShip
// transporters built on it, one per bucket.
type ClientManager struct {
	api    API
	client *s3.Client
	config *Config
	logger log.Interface

	mu           sync.Mutex
	transporters map[string]*cargoships3.Transporter
}

// NewClientManager builds an S3 client from cfg.
func NewClientManager(ctx context.Context, cfg *Config, logger log.Interface) (*ClientManager, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithRetryMaxAttempts(cfg.MaxRetries + 1),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	cm := newClientManager(client, cfg, logger)
	cm.client = client
	return cm, nil
}

func newClientManager(api API, cfg *Config, logger log.Interface) *ClientManager {
	if logger == nil {
		logger = log.Log
	}
	return &ClientManager{
		api:          api,
		config:       cfg,
		logger:       logger,
		transporters: make(map[string]*cargoships3.Transporter),
	}
}

// GetClient returns the S3 API client
func (cm *ClientManager) GetClient() API {
	return cm.api
}

// GetTransporter returns the CargoShip transporter for bucket, or nil when
// CargoShip is disabled or the client is not a real S3 client.
func (cm *ClientManager) GetTransporter(bucket string) *cargoships3.Transporter {
	if !cm.IsCargoShipEnabled() {
		return nil
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()
	if t, ok := cm.transporters[bucket]; ok {
		return t
	}

	cargoConfig := awsconfig.S3Config{
		Bucket:             bucket,
		StorageClass:       ConvertTierToCargoShipStorageClass(cm.config.StorageClass),
		MultipartThreshold: 32 * 1024 * 1024,
		MultipartChunkSize: cm.config.PartSize,
		Concurrency:        4,
	}
	t := cargoships3.NewTransporter(cm.client, cargoConfig)
	cm.transporters[bucket] = t
	cm.logger.WithFields(log.Fields{
		"bucket":     bucket,
		"chunk_size": cm.config.PartSize,
	}).Info("CargoShip transporter enabled")
	return t
}

// IsCargoShipEnabled returns whether CargoShip optimization is enabled
func (cm *ClientManager) IsCargoShipEnabled() bool {
	return cm.config.EnableCargoShipOptimization && cm.client != nil
}
