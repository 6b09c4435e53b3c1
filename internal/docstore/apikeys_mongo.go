// Copyright 2025 James Ross
package docstore

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// apiKeyDoc is the persisted API key record: the key is never stored in the
// clear, only its SHA-256 hash, per the unique (tenantId, keyHash) index.
type apiKeyDoc struct {
	TenantID string `bson:"tenantId"`
	KeyHash  string `bson:"keyHash"`
}

func hashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Authenticate reports whether apiKey hashes to a record registered for
// tenantID. Comparison of the looked-up hash happens in constant time to
// avoid leaking hash-prefix information through response timing.
func (s *MongoStore) Authenticate(ctx context.Context, tenantID, apiKey string) (bool, error) {
	var doc apiKeyDoc
	err := s.apiKeys().FindOne(ctx, bson.D{{Key: "tenantId", Value: tenantID}, {Key: "keyHash", Value: hashAPIKey(apiKey)}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(doc.KeyHash), []byte(hashAPIKey(apiKey))) == 1, nil
}
