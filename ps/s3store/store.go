// Package s3store implements ps.Store over an S3-compatible bucket using
// conditional writes for optimistic concurrency.
//
// Layout under the configured prefix:
//
//	refs/{branch}          branch marker; its existence is the branch
//	trees/{branch}/{path}  document contents
//
// Content hashes are object ETags.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/rs/zerolog"

	"github.com/nickyhof/BranchDB/ps"
)

// API is the subset of the S3 client the store uses.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string // S3-compatible endpoint, enables path-style addressing
	AccessKey string
	SecretKey string
}

type Store struct {
	api    API
	bucket string
	prefix string
	logger zerolog.Logger
}

var _ ps.Store = (*Store)(nil)

// New creates a store with an S3 client built from cfg and the default
// AWS credential chain.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewWithAPI(client, cfg.Bucket, cfg.Prefix, logger), nil
}

func NewWithAPI(api API, bucket, prefix string, logger zerolog.Logger) *Store {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Store{api: api, bucket: bucket, prefix: prefix, logger: logger}
}

// newClient creates an S3 client with the given configuration
func newClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	var opts []func(*config.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		opts = append(opts, config.WithCredentialsProvider(creds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // For S3-compatible services
		})
	}

	return s3.NewFromConfig(awsCfg, clientOpts...), nil
}

func (s *Store) refKey(branch string) string {
	return s.prefix + "refs/" + branch
}

func (s *Store) treePrefix(branch string) string {
	return s.prefix + "trees/" + branch + "/"
}

func quoteETag(hash string) string {
	return `"` + hash + `"`
}

func unquoteETag(etag *string) string {
	return strings.Trim(aws.ToString(etag), `"`)
}

// classify maps S3 failures onto the ps error taxonomy
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return fmt.Errorf("%w: %v", ps.ErrNotFound, err)
		case "PreconditionFailed", "ConditionalRequestConflict":
			return fmt.Errorf("%w: %v", ps.ErrConflict, err)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return fmt.Errorf("%w: %v", ps.ErrUnauthorized, err)
		case "SlowDown", "ServiceUnavailable", "InternalError", "RequestTimeout":
			return fmt.Errorf("%w: %v", ps.ErrUnavailable, err)
		}
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch status := respErr.HTTPStatusCode(); {
		case status == http.StatusNotFound:
			return fmt.Errorf("%w: %v", ps.ErrNotFound, err)
		case status == http.StatusPreconditionFailed || status == http.StatusConflict:
			return fmt.Errorf("%w: %v", ps.ErrConflict, err)
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return fmt.Errorf("%w: %v", ps.ErrUnauthorized, err)
		case status >= 500:
			return fmt.Errorf("%w: %v", ps.ErrUnavailable, err)
		}
	}

	return fmt.Errorf("%w: %v", ps.ErrUnavailable, err)
}

func (s *Store) fail(op, branch, filePath string, err error) error {
	event := s.logger.Error()
	switch {
	case errors.Is(err, ps.ErrNotFound):
		event = s.logger.Debug()
	case errors.Is(err, ps.ErrConflict), errors.Is(err, ps.ErrBranchExists):
		event = s.logger.Warn()
	}
	event.Str("op", op).Str("branch", branch).Str("path", filePath).Err(err).Msg("s3 store operation failed")
	return ps.NewOpError(op, branch, filePath, err)
}

func (s *Store) BranchExists(ctx context.Context, branch string) (bool, error) {
	_, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.refKey(branch)),
	})
	err = classify(err)
	if errors.Is(err, ps.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, s.fail("branch_exists", branch, "", err)
	}
	return true, nil
}

// CreateOrphanBranch writes the placeholder document and then the branch
// marker with If-None-Match, so exactly one concurrent creator wins.
func (s *Store) CreateOrphanBranch(ctx context.Context, branch string) error {
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.treePrefix(branch) + ps.PlaceholderFile),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return s.fail("create_branch", branch, "", classify(err))
	}

	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.refKey(branch)),
		Body:        bytes.NewReader([]byte(branch)),
		IfNoneMatch: aws.String("*"),
	})
	err = classify(err)
	if errors.Is(err, ps.ErrConflict) {
		return s.fail("create_branch", branch, "", ps.ErrBranchExists)
	}
	if err != nil {
		return s.fail("create_branch", branch, "", err)
	}

	s.logger.Debug().Str("branch", branch).Msg("created orphan branch")
	return nil
}

func (s *Store) ReadFile(ctx context.Context, branch, filePath string, opts ...ps.ReadOption) (ps.File, error) {
	cleaned, err := ps.CleanPath(filePath)
	if err != nil {
		return ps.File{}, s.fail("read", branch, filePath, err)
	}

	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.treePrefix(branch) + cleaned),
	})
	if err != nil {
		return ps.File{}, s.fail("read", branch, cleaned, classify(err))
	}
	defer out.Body.Close()

	content, err := io.ReadAll(out.Body)
	if err != nil {
		return ps.File{}, s.fail("read", branch, cleaned, fmt.Errorf("%w: failed to read object: %v", ps.ErrUnavailable, err))
	}

	return ps.File{Path: cleaned, Content: content, Hash: unquoteETag(out.ETag)}, nil
}

// WriteFile creates with If-None-Match or replaces with If-Match. Writes to
// a branch without a marker fail with ps.ErrNotFound.
func (s *Store) WriteFile(ctx context.Context, branch, filePath string, content []byte, hash string, change ps.Change) (string, error) {
	cleaned, err := ps.CleanPath(filePath)
	if err != nil {
		return "", s.fail("write", branch, filePath, err)
	}

	if err := s.requireBranch(ctx, "write", branch, cleaned); err != nil {
		return "", err
	}

	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.treePrefix(branch) + cleaned),
		Body:        bytes.NewReader(content),
		ContentType: aws.String("application/json"),
		Metadata:    commitMetadata(change),
	}
	if hash == "" {
		in.IfNoneMatch = aws.String("*")
	} else {
		in.IfMatch = aws.String(quoteETag(hash))
	}

	out, err := s.api.PutObject(ctx, in)
	err = classify(err)
	if hash != "" && errors.Is(err, ps.ErrNotFound) {
		err = fmt.Errorf("%w: document no longer exists", ps.ErrConflict)
	}
	if err != nil {
		return "", s.fail("write", branch, cleaned, err)
	}

	return unquoteETag(out.ETag), nil
}

// DeleteFile checks the current ETag before deleting; the delete itself is
// also conditional so a concurrent replace is not lost.
func (s *Store) DeleteFile(ctx context.Context, branch, filePath, hash string, change ps.Change) error {
	cleaned, err := ps.CleanPath(filePath)
	if err != nil {
		return s.fail("delete", branch, filePath, err)
	}

	key := s.treePrefix(branch) + cleaned
	head, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return s.fail("delete", branch, cleaned, classify(err))
	}
	if current := unquoteETag(head.ETag); current != hash {
		return s.fail("delete", branch, cleaned, fmt.Errorf("%w: expected %s, have %s", ps.ErrConflict, hash, current))
	}

	_, err = s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket:  aws.String(s.bucket),
		Key:     aws.String(key),
		IfMatch: aws.String(quoteETag(hash)),
	})
	if err != nil {
		return s.fail("delete", branch, cleaned, classify(err))
	}

	s.logger.Debug().Str("branch", branch).Str("path", cleaned).Str("message", change.Message).Msg("deleted document")
	return nil
}

func (s *Store) ListFiles(ctx context.Context, branch, dir string) ([]ps.Entry, error) {
	cleaned := ps.CleanDir(dir)

	prefix := s.treePrefix(branch)
	listPrefix := prefix
	if cleaned != "" {
		listPrefix += cleaned + "/"
	}

	entries := []ps.Entry{}
	paginator := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(listPrefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, s.fail("list", branch, cleaned, classify(err))
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			entries = append(entries, ps.Entry{
				Name: strings.TrimPrefix(key, listPrefix),
				Path: strings.TrimPrefix(key, prefix),
				Hash: unquoteETag(obj.ETag),
			})
		}
		for _, cp := range page.CommonPrefixes {
			p := strings.TrimSuffix(aws.ToString(cp.Prefix), "/")
			entries = append(entries, ps.Entry{
				Name:  strings.TrimPrefix(p, strings.TrimSuffix(listPrefix, "/")+"/"),
				Path:  strings.TrimPrefix(p, prefix),
				IsDir: true,
			})
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (s *Store) ListBranches(ctx context.Context, prefix string) ([]string, error) {
	refPrefix := s.prefix + "refs/"

	branches := []string{}
	paginator := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(refPrefix + prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, s.fail("list_branches", prefix, "", classify(err))
		}
		for _, obj := range page.Contents {
			branches = append(branches, strings.TrimPrefix(aws.ToString(obj.Key), refPrefix))
		}
	}

	sort.Strings(branches)
	return branches, nil
}

func (s *Store) requireBranch(ctx context.Context, op, branch, filePath string) error {
	exists, err := s.BranchExists(ctx, branch)
	if err != nil {
		return err
	}
	if !exists {
		return s.fail(op, branch, filePath, fmt.Errorf("%w: branch %s", ps.ErrNotFound, branch))
	}
	return nil
}

// commitMetadata carries the change description as object metadata.
// Values are escaped since metadata travels as HTTP headers.
func commitMetadata(change ps.Change) map[string]string {
	md := map[string]string{}
	if change.Message != "" {
		md["message"] = url.QueryEscape(change.Message)
	}
	if !change.Author.IsZero() {
		md["author"] = url.QueryEscape(change.Author.String())
	}
	return md
}
