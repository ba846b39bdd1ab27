// Package secrets resolves AWS credentials from a 1Password Connect
// vault, as an alternative to the default credential chain (environment
// variables, shared config, instance role).
//
// It exists for hosts that keep long-lived AWS access keys in 1Password
// rather than relying on an attached instance role; most deployments
// should leave LOG_SHIPPER_SECRET_SOURCE unset and let the AWS SDK's
// default chain do its job.
package secrets

import (
	"context"
	"fmt"

	"github.com/1Password/connect-sdk-go/connect"
	"github.com/1Password/connect-sdk-go/onepassword"
	"github.com/aws/aws-sdk-go-v2/aws"
)

const (
	fieldAccessKeyID     = "access_key_id"
	fieldSecretAccessKey = "secret_access_key"
)

// Config configures a Resolver.
type Config struct {
	ConnectHost  string // OP_CONNECT_HOST
	ConnectToken string // OP_CONNECT_TOKEN
	VaultID      string // vault holding the item
	ItemTitle    string // title of the item holding the AWS key pair
}

// itemAPI is the subset of connect.Client this package depends on,
// letting tests supply a fake vault without a live Connect server.
type itemAPI interface {
	GetItemsByTitle(title string, vaultUUID string) ([]onepassword.Item, error)
	GetItem(itemUUID string, vaultUUID string) (*onepassword.Item, error)
}

// Resolver is an aws.CredentialsProvider backed by a 1Password Connect
// vault item with access_key_id and secret_access_key fields.
type Resolver struct {
	client    itemAPI
	vaultID   string
	itemTitle string
}

// New validates cfg and constructs a Resolver. It does not contact
// 1Password until Retrieve is called.
func New(cfg Config) (*Resolver, error) {
	if cfg.ConnectHost == "" || cfg.ConnectToken == "" || cfg.VaultID == "" {
		return nil, fmt.Errorf("secrets: connect host, token, and vault id are all required")
	}
	itemTitle := cfg.ItemTitle
	if itemTitle == "" {
		itemTitle = "journald-to-cloudwatch aws credentials"
	}
	client := connect.NewClientWithUserAgent(cfg.ConnectHost, cfg.ConnectToken, "journald-to-cloudwatch")
	return &Resolver{client: client, vaultID: cfg.VaultID, itemTitle: itemTitle}, nil
}

// Retrieve implements aws.CredentialsProvider by looking up the
// configured item and reading its access key fields.
func (r *Resolver) Retrieve(ctx context.Context) (aws.Credentials, error) {
	items, err := r.client.GetItemsByTitle(r.itemTitle, r.vaultID)
	if err != nil {
		return aws.Credentials{}, fmt.Errorf("secrets: listing items: %w", err)
	}
	if len(items) == 0 {
		return aws.Credentials{}, fmt.Errorf("secrets: item %q not found in vault", r.itemTitle)
	}

	item, err := r.client.GetItem(items[0].ID, r.vaultID)
	if err != nil {
		return aws.Credentials{}, fmt.Errorf("secrets: fetching item: %w", err)
	}

	creds, err := fieldsToCredentials(item)
	if err != nil {
		return aws.Credentials{}, err
	}
	creds.Source = "1PasswordConnect"
	return creds, nil
}

func fieldsToCredentials(item *onepassword.Item) (aws.Credentials, error) {
	var accessKeyID, secretAccessKey string
	for _, field := range item.Fields {
		switch field.ID {
		case fieldAccessKeyID:
			accessKeyID = field.Value
		case fieldSecretAccessKey:
			secretAccessKey = field.Value
		}
	}
	if accessKeyID == "" || secretAccessKey == "" {
		return aws.Credentials{}, fmt.Errorf("secrets: item is missing %s or %s field", fieldAccessKeyID, fieldSecretAccessKey)
	}
	return aws.Credentials{AccessKeyID: accessKeyID, SecretAccessKey: secretAccessKey}, nil
}
