package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeEC2Client struct {
	output *ec2.DescribeInstancesOutput
	err    error
}

func (f *fakeEC2Client) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	return f.output, f.err
}

func withMetadataServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestResolveLogStreamName_FullChain(t *testing.T) {
	server := withMetadataServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("i-0123456789abcdef0"))
	})

	ec2Client := &fakeEC2Client{
		output: &ec2.DescribeInstancesOutput{
			Reservations: []types.Reservation{
				{
					Instances: []types.Instance{
						{
							Tags: []types.Tag{
								{Key: aws.String("Name"), Value: aws.String("web-01")},
							},
						},
					},
				},
			},
		},
	}

	r := New(Config{EC2Client: ec2Client, Logger: testLogger()})
	r.metaURL = server.URL

	name := r.ResolveLogStreamName(context.Background())
	if name != "web-01" {
		t.Errorf("expected web-01, got %q", name)
	}
}

func TestResolveLogStreamName_DescribeFailsFallsBackToInstanceID(t *testing.T) {
	server := withMetadataServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("i-fallback"))
	})

	ec2Client := &fakeEC2Client{err: errors.New("access denied")}

	r := New(Config{EC2Client: ec2Client, Logger: testLogger()})
	r.metaURL = server.URL

	name := r.ResolveLogStreamName(context.Background())
	if name != "i-fallback" {
		t.Errorf("expected i-fallback, got %q", name)
	}
}

func TestResolveLogStreamName_NoNameTagFallsBackToInstanceID(t *testing.T) {
	server := withMetadataServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("i-noname"))
	})

	ec2Client := &fakeEC2Client{
		output: &ec2.DescribeInstancesOutput{
			Reservations: []types.Reservation{{Instances: []types.Instance{{}}}},
		},
	}

	r := New(Config{EC2Client: ec2Client, Logger: testLogger()})
	r.metaURL = server.URL

	name := r.ResolveLogStreamName(context.Background())
	if name != "i-noname" {
		t.Errorf("expected i-noname, got %q", name)
	}
}

func TestResolveLogStreamName_MetadataUnreachableFallsBackToNotEC2(t *testing.T) {
	server := withMetadataServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	r := New(Config{EC2Client: &fakeEC2Client{}, Logger: testLogger()})
	r.metaURL = server.URL

	name := r.ResolveLogStreamName(context.Background())
	if name != fallbackNoInstanceID {
		t.Errorf("expected %q, got %q", fallbackNoInstanceID, name)
	}
}

func TestResolveLogStreamName_NoEC2ClientUsesInstanceID(t *testing.T) {
	server := withMetadataServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("i-noclient"))
	})

	r := New(Config{Logger: testLogger()})
	r.metaURL = server.URL

	name := r.ResolveLogStreamName(context.Background())
	if name != "i-noclient" {
		t.Errorf("expected i-noclient, got %q", name)
	}
}
