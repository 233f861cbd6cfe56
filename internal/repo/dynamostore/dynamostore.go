// Package dynamostore is a two-tier DynamoDB + S3 backing for the policy
// engine's PolicyBundleRepo: DynamoDB holds bundle metadata (id, version,
// applicability keys) for fast resolution scans, while the full rule body
// is fetched from S3 only when a candidate bundle is actually selected.
package dynamostore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"invarity/internal/policy"
	"invarity/internal/types"
)

// bundleMetadata is the DynamoDB item: just enough to resolve candidates
// without pulling every bundle's full rule body off S3.
type bundleMetadata struct {
	BundleID               string   `dynamodbav:"bundle_id"`
	Version                string   `dynamodbav:"version"`
	Enabled                bool     `dynamodbav:"enabled"`
	ApplicableDomains      []string `dynamodbav:"applicable_domains"`
	ApplicableEnvironments []string `dynamodbav:"applicable_environments"`
	Jurisdictions          []string `dynamodbav:"jurisdictions"`
	DataClassification     []string `dynamodbav:"data_classification"`
	S3Key                  string   `dynamodbav:"s3_key"`
}

// Store implements policy.Store against DynamoDB metadata and S3 bundle
// bodies.
type Store struct {
	ddb    *dynamodb.Client
	s3     *s3.Client
	table  string
	bucket string
}

// New builds a Store against the given DynamoDB table and S3 bucket.
func New(ddb *dynamodb.Client, s3c *s3.Client, table, bucket string) *Store {
	return &Store{ddb: ddb, s3: s3c, table: table, bucket: bucket}
}

var _ policy.Store = (*Store)(nil)

// Resolve scans the metadata table (a full scan is acceptable at the
// bundle counts a real deployment carries; a GSI on applicable_domains
// would be the next step past this scale) and fetches the rule body for
// every metadata row whose applicability keys match.
func (s *Store) Resolve(ctx context.Context, key policy.Key) ([]types.PolicyBundle, error) {
	out, err := s.ddb.Scan(ctx, &dynamodb.ScanInput{TableName: aws.String(s.table)})
	if err != nil {
		return nil, fmt.Errorf("dynamostore: scan: %w", err)
	}

	var bundles []types.PolicyBundle
	for _, item := range out.Items {
		var meta bundleMetadata
		if err := attributevalue.UnmarshalMap(item, &meta); err != nil {
			continue
		}
		if !meta.Enabled || !metadataMatches(meta, key) {
			continue
		}
		bundle, err := s.fetchBody(ctx, meta.S3Key)
		if err != nil {
			continue
		}
		bundles = append(bundles, *bundle)
	}
	if len(bundles) == 0 {
		return nil, policy.ErrPolicyNotFound
	}
	return bundles, nil
}

func metadataMatches(m bundleMetadata, key policy.Key) bool {
	if !stringSetMatches(m.ApplicableDomains, key.Domain) {
		return false
	}
	if !stringSetMatches(m.ApplicableEnvironments, key.Environment) {
		return false
	}
	if len(m.Jurisdictions) > 0 {
		found := false
		for _, want := range key.Jurisdictions {
			for _, have := range m.Jurisdictions {
				if have == want {
					found = true
				}
			}
		}
		if !found {
			return false
		}
	}
	if len(m.DataClassification) > 0 {
		found := false
		for _, c := range m.DataClassification {
			if c == string(key.DataSensitivity) {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func stringSetMatches(set []string, want string) bool {
	if len(set) == 0 {
		return true
	}
	for _, v := range set {
		if v == want || v == "*" {
			return true
		}
	}
	return false
}

func (s *Store) fetchBody(ctx context.Context, key string) (*types.PolicyBundle, error) {
	obj, err := s.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamostore: get object %s: %w", key, err)
	}
	defer obj.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, obj.Body); err != nil {
		return nil, err
	}

	var bundle types.PolicyBundle
	if err := json.Unmarshal(buf.Bytes(), &bundle); err != nil {
		return nil, fmt.Errorf("dynamostore: decode bundle %s: %w", key, err)
	}
	return &bundle, nil
}

// PutBundle uploads bundle's body to S3 and writes its metadata row to
// DynamoDB. Metadata is written last so a reader never observes a
// metadata row pointing at a not-yet-written S3 key.
func (s *Store) PutBundle(ctx context.Context, bundle types.PolicyBundle) error {
	body, err := json.Marshal(bundle)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("bundles/%s/%s.json", bundle.BundleID, bundle.Version)

	if _, err := s.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}); err != nil {
		return fmt.Errorf("dynamostore: put object: %w", err)
	}

	classes := make([]string, len(bundle.DataClassification))
	for i, c := range bundle.DataClassification {
		classes[i] = string(c)
	}

	meta := bundleMetadata{
		BundleID:               bundle.BundleID,
		Version:                bundle.Version,
		Enabled:                bundle.Enabled,
		ApplicableDomains:      bundle.ApplicableDomains,
		ApplicableEnvironments: bundle.ApplicableEnvironments,
		Jurisdictions:          bundle.Jurisdictions,
		DataClassification:     classes,
		S3Key:                  key,
	}
	item, err := attributevalue.MarshalMap(meta)
	if err != nil {
		return err
	}

	_, err = s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("dynamostore: put item: %w", err)
	}
	return nil
}

// EnsureTable creates the metadata table if it doesn't already exist,
// with bundle_id as the partition key. Intended for local/dev bootstrap;
// production tables are provisioned out of band.
func EnsureTable(ctx context.Context, ddb *dynamodb.Client, table string) error {
	_, err := ddb.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(table),
		AttributeDefinitions: []ddbtypes.AttributeDefinition{
			{AttributeName: aws.String("bundle_id"), AttributeType: ddbtypes.ScalarAttributeTypeS},
		},
		KeySchema: []ddbtypes.KeySchemaElement{
			{AttributeName: aws.String("bundle_id"), KeyType: ddbtypes.KeyTypeHash},
		},
		BillingMode: ddbtypes.BillingModePayPerRequest,
	})
	var inUse *ddbtypes.ResourceInUseException
	if err != nil && !errors.As(err, &inUse) {
		return err
	}
	return nil
}
