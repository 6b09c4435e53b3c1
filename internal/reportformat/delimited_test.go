// Copyright 2025 James Ross
package reportformat

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func rowsOf(docs ...bson.D) RowIterator {
	return NewSliceIterator(docs)
}

func TestDelimitedHeaderAndRows(t *testing.T) {
	it := rowsOf(
		bson.D{{Key: "status", Value: "paid"}, {Key: "amount", Value: 10}},
		bson.D{{Key: "status", Value: "pending"}, {Key: "amount", Value: 20}},
	)
	res := Delimited(context.Background(), it, Options{})
	require.Equal(t, "text/csv", res.ContentType)
	require.Equal(t, "csv", res.Extension)
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Equal(t, "status,amount\npaid,10\npending,20\n", string(b))
}

func TestDelimitedQuotesSpecialCharacters(t *testing.T) {
	it := rowsOf(bson.D{{Key: "note", Value: "a,b\"c\nd"}})
	res := Delimited(context.Background(), it, Options{})
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Equal(t, "note\n\"a,b\"\"c\nd\"\n", string(b))
}

func TestDelimitedMissingKeysSubstituteEmpty(t *testing.T) {
	it := rowsOf(
		bson.D{{Key: "a", Value: 1}, {Key: "b", Value: 2}},
		bson.D{{Key: "a", Value: 3}},
	)
	res := Delimited(context.Background(), it, Options{})
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Equal(t, "a,b\n1,2\n3,\n", string(b))
}

func TestDelimitedEmptyInput(t *testing.T) {
	res := Delimited(context.Background(), rowsOf(), Options{})
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Empty(t, b)
}
