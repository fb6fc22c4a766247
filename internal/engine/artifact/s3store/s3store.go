// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package s3store implements the artifact.Store contract on an
// S3-compatible object store, using the same key layout as fsstore:
// <storage-root>/<hash[0:2]>/<hash>/<kind>.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/soliplex/ingester/internal/engine/model"
	ingestererrors "github.com/soliplex/ingester/pkg/errors"
)

// Store is an S3-backed artifact.Store.
type Store struct {
	client      *s3.Client
	bucket      string
	storageRoot string
}

// New returns a Store that writes objects into bucket under storageRoot.
func New(client *s3.Client, bucket, storageRoot string) *Store {
	return &Store{client: client, bucket: bucket, storageRoot: storageRoot}
}

func (s *Store) StorageRoot() string { return s.storageRoot }

func (s *Store) key(hash string, kind model.ArtifactKind) string {
	prefix := hash
	if len(hash) >= 2 {
		prefix = hash[:2]
	}
	return strings.Join([]string{s.storageRoot, prefix, hash, string(kind)}, "/")
}

func (s *Store) Put(ctx context.Context, hash string, kind model.ArtifactKind, data []byte) error {
	// put is overwrite-idempotent: skip the round-trip if the object is
	// already there with the same size, the cheapest idempotence check
	// S3 offers without a HEAD + checksum comparison.
	if head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(hash, kind)),
	}); err == nil && head.ContentLength != nil && *head.ContentLength == int64(len(data)) {
		return nil
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(hash, kind)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return ingestererrors.Wrapf(err, "putting artifact %s/%s to s3://%s", hash, kind, s.bucket)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, hash string, kind model.ArtifactKind) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(hash, kind)),
	})
	if isNotFound(err) {
		return nil, &ingestererrors.NotFoundError{Resource: "artifact", ID: string(kind) + ":" + hash}
	}
	if err != nil {
		return nil, ingestererrors.Wrapf(err, "getting artifact %s/%s from s3://%s", hash, kind, s.bucket)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *Store) Exists(ctx context.Context, hash string, kind model.ArtifactKind) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(hash, kind)),
	})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, ingestererrors.Wrapf(err, "checking artifact %s/%s in s3://%s", hash, kind, s.bucket)
	}
	return true, nil
}

func (s *Store) DeleteAllFor(ctx context.Context, hash string) (int, error) {
	prefix := hash
	if len(hash) >= 2 {
		prefix = hash[:2]
	}
	listPrefix := strings.Join([]string{s.storageRoot, prefix, hash}, "/") + "/"

	var (
		count      int
		continueAt *string
	)
	for {
		page, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(listPrefix),
			ContinuationToken: continueAt,
		})
		if err != nil {
			return count, ingestererrors.Wrapf(err, "listing artifacts for %s in s3://%s", hash, s.bucket)
		}
		if len(page.Contents) == 0 {
			break
		}
		objects := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			objects = append(objects, types.ObjectIdentifier{Key: obj.Key})
		}
		if _, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objects},
		}); err != nil {
			return count, ingestererrors.Wrapf(err, "deleting artifacts for %s in s3://%s", hash, s.bucket)
		}
		count += len(objects)
		if page.IsTruncated == nil || !*page.IsTruncated {
			break
		}
		continueAt = page.NextContinuationToken
	}
	return count, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	return errors.As(err, &nf)
}
