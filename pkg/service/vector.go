package service

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/docuflow/ingest-backend/config"
	errorsx "github.com/docuflow/ingest-backend/pkg/errors"
	"github.com/docuflow/ingest-backend/pkg/logger"
)

// Milvus implementation constants
const (
	scanNList  = 1024
	metricType = entity.COSINE
	withRaw    = true

	chunkFieldEmbeddingUID = "embedding_uid"
	chunkFieldDocumentUID  = "document_uid"
	chunkFieldChunkIndex   = "chunk_index"
	chunkFieldEmbedding    = "embedding"
)

type milvusVectorIndex struct {
	c          client.Client
	collection string
}

// NewMilvusVectorIndex connects to milvus and ensures the chunk collection
// and its indexes exist.
func NewMilvusVectorIndex(ctx context.Context, cfg config.MilvusConfig) (VectorIndex, func() error, error) {
	c, err := client.NewGrpcClient(ctx, cfg.Host+":"+cfg.Port)
	if err != nil {
		return nil, nil, err
	}
	idx := &milvusVectorIndex{c: c, collection: cfg.Collection}
	if err := idx.ensureCollection(ctx); err != nil {
		c.Close()
		return nil, nil, err
	}
	return idx, c.Close, nil
}

func (m *milvusVectorIndex) ensureCollection(ctx context.Context) error {
	log, _ := logger.GetZapLogger(ctx)
	log = log.With(zap.String("collection_name", m.collection))

	has, err := m.c.HasCollection(ctx, m.collection)
	if err != nil {
		return fmt.Errorf("checking collection existence: %w", err)
	}
	if has {
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.collection,
		Fields: []*entity.Field{
			{Name: chunkFieldEmbeddingUID, DataType: entity.FieldTypeVarChar, PrimaryKey: true, TypeParams: map[string]string{"max_length": "255"}},
			{Name: chunkFieldDocumentUID, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "255"}},
			{Name: chunkFieldChunkIndex, DataType: entity.FieldTypeInt64},
			{Name: chunkFieldEmbedding, DataType: entity.FieldTypeFloatVector, TypeParams: map[string]string{"dim": fmt.Sprintf("%d", EmbeddingDimension)}},
		},
	}
	if err := m.c.CreateCollection(ctx, schema, 1); err != nil {
		return fmt.Errorf("creating collection: %w", err)
	}

	vectorIdx, err := entity.NewIndexSCANN(metricType, scanNList, withRaw)
	if err != nil {
		return fmt.Errorf("building index: %w", err)
	}
	for field, idx := range map[string]entity.Index{
		chunkFieldEmbedding:   vectorIdx,
		chunkFieldDocumentUID: entity.NewScalarIndexWithType(entity.Inverted),
	} {
		if err := m.c.CreateIndex(ctx, m.collection, field, idx, false); err != nil {
			return fmt.Errorf("creating index for field %s: %w", field, err)
		}
	}

	log.Info("Collection created successfully.")
	return nil
}

func (m *milvusVectorIndex) Upsert(ctx context.Context, entries []VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}

	count := len(entries)
	embeddingUIDs := make([]string, count)
	documentUIDs := make([]string, count)
	chunkIndexes := make([]int64, count)
	vectors := make([][]float32, count)
	for i, entry := range entries {
		embeddingUIDs[i] = entry.ID
		documentUIDs[i] = entry.DocumentID
		chunkIndexes[i] = int64(entry.ChunkIndex)
		vectors[i] = entry.Vector
	}

	columns := []entity.Column{
		entity.NewColumnVarChar(chunkFieldEmbeddingUID, embeddingUIDs),
		entity.NewColumnVarChar(chunkFieldDocumentUID, documentUIDs),
		entity.NewColumnInt64(chunkFieldChunkIndex, chunkIndexes),
		entity.NewColumnFloatVector(chunkFieldEmbedding, EmbeddingDimension, vectors),
	}
	if _, err := m.c.Upsert(ctx, m.collection, "", columns...); err != nil {
		return errorsx.Classify(fmt.Errorf("upserting %d vectors: %w", count, err), errorsx.Transient)
	}
	return nil
}

func (m *milvusVectorIndex) DeleteDocument(ctx context.Context, documentID string) error {
	expr := fmt.Sprintf(`%s == "%s"`, chunkFieldDocumentUID, documentID)
	if err := m.c.Delete(ctx, m.collection, "", expr); err != nil {
		return errorsx.Classify(fmt.Errorf("deleting vectors for %s: %w", documentID, err), errorsx.Transient)
	}
	return nil
}
