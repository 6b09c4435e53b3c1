// Copyright 2025 James Ross
package reportformat

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/flyingrobots/reportgen/internal/reporterr"
)

func TestPaginatedDocumentRowLimitExceeded(t *testing.T) {
	it := rowsOf(
		bson.D{{Key: "a", Value: 1}},
		bson.D{{Key: "a", Value: 2}},
	)
	res := PaginatedDocument(context.Background(), it, Options{DocumentMaxRows: 1})
	_, err := io.ReadAll(res.Body)
	require.Error(t, err)
	require.True(t, reporterr.IsKind(err, reporterr.KindDocumentRowLimitExceeded))
}

func TestPaginatedDocumentWithinLimitProducesBytes(t *testing.T) {
	it := rowsOf(bson.D{{Key: "a", Value: 1}})
	res := PaginatedDocument(context.Background(), it, Options{DocumentMaxRows: 5})
	require.Equal(t, "application/pdf", res.ContentType)
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.NotEmpty(t, b)
}
