// Package identity resolves the log stream name a shipper instance should
// use when one is not supplied by configuration.
//
// # Resolution Order
//
//  1. Fetch the instance ID from the cloud provider's link-local metadata
//     endpoint (3s total timeout).
//  2. Describe that instance and extract its "Name" tag.
//  3. If the describe call fails but the instance ID was obtained, fall
//     back to the raw instance ID.
//  4. If the metadata fetch itself fails, fall back to "not-ec2".
//
// Resolution happens once at startup. Failures are logged but never fatal:
// a log stream name is always produced.
package identity

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
)

const (
	metadataURL = "http://169.254.169.254/latest/meta-data/instance-id"

	// fallbackNoInstanceID is used when the metadata endpoint itself
	// cannot be reached (not running on EC2, or the hop is blocked).
	fallbackNoInstanceID = "not-ec2"

	// nameTagKey is the EC2 tag whose value becomes the log stream name.
	nameTagKey = "Name"
)

// EC2DescribeInstancesAPI is the subset of the EC2 client this resolver
// depends on; satisfied by *ec2.Client and by test doubles.
type EC2DescribeInstancesAPI interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// Resolver discovers the log stream name to use for this instance.
type Resolver struct {
	httpClient *http.Client
	ec2Client  EC2DescribeInstancesAPI
	metaURL    string
	logger     *slog.Logger
}

// Config configures a Resolver.
type Config struct {
	HTTPClient      *http.Client
	EC2Client       EC2DescribeInstancesAPI
	MetadataTimeout time.Duration
	Logger          *slog.Logger
}

// New creates a Resolver.
func New(cfg Config) *Resolver {
	timeout := cfg.MetadataTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		httpClient: httpClient,
		ec2Client:  cfg.EC2Client,
		metaURL:    metadataURL,
		logger:     logger,
	}
}

// ResolveLogStreamName runs the resolution chain described above,
// returning a usable name even when every remote call fails.
func (r *Resolver) ResolveLogStreamName(ctx context.Context) string {
	instanceID, err := r.fetchInstanceID(ctx)
	if err != nil {
		r.logger.Warn("resolving instance id failed", "error", err)
		return fallbackNoInstanceID
	}

	if r.ec2Client == nil {
		return instanceID
	}

	name, err := r.fetchInstanceNameTag(ctx, instanceID)
	if err != nil {
		r.logger.Warn("resolving instance name tag failed", "instance_id", instanceID, "error", err)
		return instanceID
	}

	return name
}

// fetchInstanceID performs the single HTTP GET against the link-local
// metadata endpoint.
func (r *Resolver) fetchInstanceID(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.metaURL, nil)
	if err != nil {
		return "", fmt.Errorf("building metadata request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching instance id: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("metadata endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", fmt.Errorf("reading instance id response: %w", err)
	}

	return string(body), nil
}

// fetchInstanceNameTag describes the instance and extracts its Name tag.
func (r *Resolver) fetchInstanceNameTag(ctx context.Context, instanceID string) (string, error) {
	out, err := r.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return "", fmt.Errorf("describing instance %s: %w", instanceID, err)
	}

	for _, reservation := range out.Reservations {
		for _, instance := range reservation.Instances {
			for _, tag := range instance.Tags {
				if aws.ToString(tag.Key) == nameTagKey {
					return aws.ToString(tag.Value), nil
				}
			}
		}
	}

	return "", fmt.Errorf("instance %s has no %s tag", instanceID, nameTagKey)
}
