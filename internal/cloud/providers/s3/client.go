// Package s3 provides the AWS S3 implementation of the engine's object
// client, built from backend-issued temporary credentials.
package s3

import (
	"context"
	"fmt"
	"io"
	nethttp "net/http"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/medviewlabs/signal-uplink/internal/cloud"
	inthttp "github.com/medviewlabs/signal-uplink/internal/http"
	"github.com/medviewlabs/signal-uplink/internal/models"
)

// sharedHTTPClient is reused across credential refreshes so the connection
// pool survives client rebuilds.
var (
	sharedHTTPClient     *nethttp.Client
	sharedHTTPClientOnce sync.Once
)

func transferClient() *nethttp.Client {
	sharedHTTPClientOnce.Do(func() {
		sharedHTTPClient = inthttp.NewTransferClient()
	})
	return sharedHTTPClient
}

// Client wraps the AWS S3 client behind the engine's ObjectClient
// interface. Credentials are fixed at construction; the credential
// manager builds a new Client when they rotate.
type Client struct {
	client *awss3.Client
	region string
}

// NewClient builds an S3 client from temporary credentials. The region is
// fixed at construction, credentials are static (no IMDS or environment
// discovery), payload signing is disabled, and connect/request timeouts
// come from the shared transfer client.
func NewClient(ctx context.Context, region string, creds *models.S3Credentials) (cloud.ObjectClient, error) {
	if region == "" {
		return nil, fmt.Errorf("region is required")
	}
	if creds == nil {
		return nil, fmt.Errorf("credentials are required")
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithHTTPClient(transferClient()),
		config.WithEC2IMDSClientEnableState(imds.ClientDisabled),
		config.WithCredentialsProvider(awscreds.NewStaticCredentialsProvider(
			creds.AccessKeyID,
			creds.SecretAccessKey,
			creds.SessionToken,
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		o.APIOptions = append(o.APIOptions, v4.SwapComputePayloadSHA256ForUnsignedPayloadMiddleware)
	})

	return &Client{client: client, region: region}, nil
}

// PutObject stores one whole object.
func (c *Client) PutObject(ctx context.Context, bucket, key string, body io.Reader, contentLength int64) error {
	_, err := c.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(contentLength),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("put object %s/%s failed: %w", bucket, key, err)
	}
	return nil
}
