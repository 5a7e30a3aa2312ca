package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

const (
	resultPrefix = "tryon/results/"
	maxMirror    = 20 << 20
)

// PresignTTL is how long a presigned result URL stays valid. S3 caps SigV4
// presigned URLs at seven days.
const PresignTTL = 7 * 24 * time.Hour

var ErrEmptyObject = errors.New("empty object")

type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// ResultStore keeps generated try-on images in an S3 bucket.
type ResultStore struct {
	api           objectAPI
	presign       func(ctx context.Context, key string) (string, error)
	bucket        string
	publicBaseURL string
	httpClient    *http.Client
}

func NewResultStore(ctx context.Context, region, bucket, publicBaseURL string) (*ResultStore, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	pc := s3.NewPresignClient(client)
	st := &ResultStore{
		api:           client,
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		httpClient:    &http.Client{Timeout: 30 * time.Second},
	}
	st.presign = func(ctx context.Context, key string) (string, error) {
		req, err := pc.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(PresignTTL))
		if err != nil {
			return "", err
		}
		return req.URL, nil
	}
	return st, nil
}

// ObjectKey returns the key a task's result image is stored under.
func ObjectKey(taskID uuid.UUID, contentType string) string {
	ext := ".png"
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mt {
		case "image/jpeg":
			ext = ".jpg"
		case "image/webp":
			ext = ".webp"
		}
	}
	return resultPrefix + taskID.String() + ext
}

// Put uploads data under key and returns a URL clients can load it from.
func (s *ResultStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyObject
	}
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return s.URL(ctx, key)
}

func (s *ResultStore) URL(ctx context.Context, key string) (string, error) {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + key, nil
	}
	u, err := s.presign(ctx, key)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u, nil
}

// Mirror downloads sourceURL and stores it as the result image for taskID.
// It returns the object key and the URL of the stored copy.
func (s *ResultStore) Mirror(ctx context.Context, taskID uuid.UUID, sourceURL string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", "", err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch %s: %w", sourceURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("fetch %s: status %d", sourceURL, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMirror))
	if err != nil {
		return "", "", err
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	key := ObjectKey(taskID, contentType)
	u, err := s.Put(ctx, key, contentType, data)
	if err != nil {
		return "", "", err
	}
	return key, u, nil
}

func (s *ResultStore) Delete(ctx context.Context, key string) error {
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}
