// Package s3gw is a Remote Gateway that keeps one JSON object per document
// in an S3-compatible bucket, at "<collection>/<id>.json".
package s3gw

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/mittimoney/mittimoney/internal/client/remote"
	"github.com/mittimoney/mittimoney/internal/logging"
)

var loadDefaultAWSConfig = config.LoadDefaultConfig

// objectAPI is the part of *s3.Client the gateway uses.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

type Config struct {
	Bucket    string
	Region    string
	Endpoint  string // empty for AWS itself
	AccessKey string
	SecretKey string
}

type Gateway struct {
	api    objectAPI
	bucket string
	logger logging.Logger
	poll   time.Duration
}

// New builds a gateway from cfg. Without an access key the SDK's default
// credential chain is used.
func New(ctx context.Context, cfg Config, logger logging.Logger) (*Gateway, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: aws config: %w", remote.ErrNotConfigured, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newWithAPI(client, cfg.Bucket, logger), nil
}

func newWithAPI(api objectAPI, bucket string, logger logging.Logger) *Gateway {
	return &Gateway{api: api, bucket: bucket, logger: logger.With("module", "s3gw"), poll: 10 * time.Second}
}

// SetPollInterval sets how often Subscribe re-lists the collection.
func (g *Gateway) SetPollInterval(d time.Duration) { g.poll = d }

var _ remote.Gateway = (*Gateway)(nil)

func objectKey(collection, id string) string {
	return collection + "/" + id + ".json"
}

func apiCode(err error) string {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return ae.ErrorCode()
	}
	return ""
}

func httpStatus(err error) int {
	var re interface{ HTTPStatusCode() int }
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}

func isMissing(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	code := apiCode(err)
	return code == "NoSuchKey" || code == "NotFound"
}

// classify sorts SDK errors. Credential and bucket problems mean the backend
// is not usable as configured.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	err = fmt.Errorf("s3 %s: %w", op, err)
	switch apiCode(err) {
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "NoSuchBucket":
		return fmt.Errorf("%w: %w", remote.ErrNotConfigured, err)
	case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable":
		return remote.Retryable(err)
	}
	switch code := httpStatus(err); {
	case code == 429 || code >= 500:
		return remote.Retryable(err)
	case code >= 400:
		return remote.Terminal(err)
	}
	return remote.Retryable(err)
}

func (g *Gateway) Apply(ctx context.Context, m remote.Mutation) error {
	return remote.ApplyMutation(ctx, g, m)
}

func (g *Gateway) put(ctx context.Context, key string, doc remote.Document, ifAbsent bool) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return remote.Terminal(fmt.Errorf("encode %s: %w", key, err))
	}
	in := &s3.PutObjectInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	}
	if ifAbsent {
		in.IfNoneMatch = aws.String("*")
	}
	_, err = g.api.PutObject(ctx, in)
	return err
}

// Create writes the object only if it does not exist yet.
func (g *Gateway) Create(ctx context.Context, collection string, doc remote.Document) (string, error) {
	id := remote.DocumentID(doc)
	stored := make(remote.Document, len(doc)+1)
	for k, v := range doc {
		stored[k] = v
	}
	stored["id"] = id

	err := g.put(ctx, objectKey(collection, id), stored, true)
	if code := apiCode(err); code == "PreconditionFailed" || code == "ConditionalRequestConflict" {
		g.logger.Debug(ctx, "object exists, create skipped", "collection", collection, "id", id)
		return id, nil
	}
	if err != nil {
		return "", classify("put", err)
	}
	return id, nil
}

func (g *Gateway) Get(ctx context.Context, collection, id string) (remote.Document, error) {
	return g.get(ctx, objectKey(collection, id))
}

func (g *Gateway) get(ctx context.Context, key string) (remote.Document, error) {
	out, err := g.api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(g.bucket), Key: aws.String(key)})
	if isMissing(err) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get", err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, remote.Retryable(err)
	}
	doc := remote.Document{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, remote.Terminal(fmt.Errorf("decode %s: %w", key, err))
	}
	return doc, nil
}

// Update merges patch into the stored object, creating it when absent.
func (g *Gateway) Update(ctx context.Context, collection, id string, patch remote.Document) error {
	key := objectKey(collection, id)
	doc, err := g.get(ctx, key)
	if err != nil {
		return err
	}
	if doc == nil {
		doc = remote.Document{}
	}
	for k, v := range patch {
		doc[k] = v
	}
	doc["id"] = id
	return classify("put", g.put(ctx, key, doc, false))
}

func (g *Gateway) Delete(ctx context.Context, collection, id string) error {
	_, err := g.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(g.bucket), Key: aws.String(objectKey(collection, id))})
	if isMissing(err) {
		return nil
	}
	return classify("delete", err)
}

// Query lists the collection prefix and filters client-side. Results are
// ordered by id.
func (g *Gateway) Query(ctx context.Context, collection string, filters ...remote.Filter) ([]remote.Document, error) {
	p := s3.NewListObjectsV2Paginator(g.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(g.bucket),
		Prefix: aws.String(collection + "/"),
	})

	var keys []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, classify("list", err)
		}
		for _, obj := range page.Contents {
			if k := aws.ToString(obj.Key); strings.HasSuffix(k, ".json") {
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)

	docs := []remote.Document{}
	for _, k := range keys {
		doc, err := g.get(ctx, k)
		if err != nil {
			return nil, err
		}
		if doc != nil && remote.Matches(doc, filters) {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (g *Gateway) Subscribe(ctx context.Context, collection string, filters []remote.Filter, fn func([]remote.Document)) (func(), error) {
	return remote.PollSubscribe(ctx, g, collection, filters, g.poll, fn), nil
}

func (g *Gateway) Ping(ctx context.Context) error {
	_, err := g.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(g.bucket)})
	return classify("head bucket", err)
}

func (g *Gateway) Close() error { return nil }
