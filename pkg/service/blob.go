package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/docuflow/ingest-backend/config"
	errorsx "github.com/docuflow/ingest-backend/pkg/errors"
	"github.com/docuflow/ingest-backend/pkg/logger"
)

type minioBlobStore struct {
	client *minio.Client
	bucket string
}

// NewMinioBlobStore connects to the chunk bucket, creating it when absent.
func NewMinioBlobStore(ctx context.Context, cfg config.MinioConfig) (BlobStore, error) {
	log, _ := logger.GetZapLogger(ctx)

	client, err := minio.New(cfg.Host+":"+cfg.Port, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.RootUser, cfg.RootPwd, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		log.Error("cannot connect to minio",
			zap.String("host:port", cfg.Host+":"+cfg.Port), zap.Error(err))
		return nil, err
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("checking chunk bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("creating chunk bucket: %w", err)
		}
		log.Info("created chunk bucket", zap.String("bucket", cfg.BucketName))
	}

	return &minioBlobStore{client: client, bucket: cfg.BucketName}, nil
}

// ChunkKey is the object key for one chunk of a document.
func ChunkKey(documentID string, chunkIndex int) string {
	return fmt.Sprintf("%s/chunk-%05d.txt", documentID, chunkIndex)
}

func (s *minioBlobStore) PutChunk(ctx context.Context, key string, content []byte, metadata map[string]string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key,
		bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{
			ContentType:  "text/plain",
			UserMetadata: metadata,
		})
	if err != nil {
		return errorsx.Classify(fmt.Errorf("storing chunk %s: %w", key, err), errorsx.Transient)
	}
	return nil
}

func (s *minioBlobStore) GetChunk(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errorsx.Classify(fmt.Errorf("reading chunk %s: %w", key, err), errorsx.Transient)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, errorsx.Classify(fmt.Errorf("reading chunk %s: %w", key, err), errorsx.Transient)
	}
	return data, nil
}

func (s *minioBlobStore) ListChunks(ctx context.Context, documentID string) ([]string, error) {
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    documentID + "/",
		Recursive: true,
	})
	var keys []string
	for obj := range objects {
		if obj.Err != nil {
			return nil, errorsx.Classify(fmt.Errorf("listing chunks for %s: %w", documentID, obj.Err), errorsx.Transient)
		}
		keys = append(keys, obj.Key)
	}
	// Zero-padded chunk indexes make lexical order chunk order.
	sort.Strings(keys)
	return keys, nil
}

func (s *minioBlobStore) DeleteDocument(ctx context.Context, documentID string) error {
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    documentID + "/",
		Recursive: true,
	})
	for obj := range objects {
		if obj.Err != nil {
			return errorsx.Classify(fmt.Errorf("listing chunks for %s: %w", documentID, obj.Err), errorsx.Transient)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return errorsx.Classify(fmt.Errorf("removing chunk %s: %w", obj.Key, err), errorsx.Transient)
		}
	}
	return nil
}
