package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3RepositorySink mirrors FilesystemSink's full/partial match layout onto
// an S3-compatible object store, keyed the same way
// (contracts/{full|partial}_match/{chainId}/{address}/metadata.json). No
// corpus repo wires aws-sdk-go to an S3 client directly, so the
// constructor follows the teacher's own NewClient conventions (functional
// validation, no implicit retries beyond the SDK default) rather than any
// single example file.
type S3RepositorySink struct {
	client *s3.S3
	bucket string
}

// S3Config configures the backing bucket and session region.
type S3Config struct {
	Bucket string
	Region string
}

// NewS3RepositorySink builds an S3-backed sink from a shared AWS session.
func NewS3RepositorySink(cfg S3Config) (*S3RepositorySink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 sink: bucket cannot be empty")
	}
	sess, err := session.NewSession(&aws.Config{Region: aws.String(cfg.Region)})
	if err != nil {
		return nil, fmt.Errorf("s3 sink: new session: %w", err)
	}
	return &S3RepositorySink{client: s3.New(sess), bucket: cfg.Bucket}, nil
}

// Identifier implements WriteSink.
func (s *S3RepositorySink) Identifier() Identifier { return IdentifierS3Repository }

// Init implements WriteSink; bucket lifecycle is managed out of band, so
// this only validates reachability.
func (s *S3RepositorySink) Init(ctx context.Context) error {
	_, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("s3 sink: bucket unreachable: %w", err)
	}
	return nil
}

// StoreVerification implements WriteSink by uploading the same metadata
// document the filesystem sink writes, under an equivalent key layout.
func (s *S3RepositorySink) StoreVerification(ctx context.Context, result *VerificationResult, jobCtx *JobContext) error {
	matchDir := "partial_match"
	if result.RuntimeMatch == "perfect" {
		matchDir = "full_match"
	}
	key := fmt.Sprintf("contracts/%s/%s/%s/metadata.json", matchDir, sanitizeSegment(result.ChainID), sanitizeSegment(result.Address))

	body, err := json.Marshal(map[string]any{
		"compiler":        result.CompiledContract.Compiler,
		"compilerVersion": result.CompiledContract.CompilerVersion,
		"language":        result.CompiledContract.Language,
		"runtimeMatch":    result.RuntimeMatch,
		"creationMatch":   result.CreationMatch,
	})
	if err != nil {
		return fmt.Errorf("s3 sink: marshal: %w", err)
	}

	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("s3 sink: put object: %w", err)
	}
	return nil
}

// UploadDebugArtifact uploads a failed verification's raw input, keyed
// failed-verification-inputs/{verificationId}.json, per spec.md §4.6's
// debug-dump side effect. Failure here is always warned by the caller,
// never propagated as a job failure.
func (s *S3RepositorySink) UploadDebugArtifact(ctx context.Context, verificationID string, payload []byte) error {
	key := fmt.Sprintf("failed-verification-inputs/%s.json", sanitizeSegment(verificationID))
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(payload),
	})
	return err
}
