// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

package access

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/memoria-archive/memoria/lib/memory"
)

// ObjectStoreVerifier probes an S3-compatible object store. The
// locator is "bucket/key"; the probe is a HeadObject, so the object
// body is never transferred.
//
// The client is taken as s3iface.S3API so tests can inject a fake
// without a live endpoint.
type ObjectStoreVerifier struct {
	s3 s3iface.S3API
}

// NewObjectStoreVerifier creates a verifier over the given S3 client.
func NewObjectStoreVerifier(client s3iface.S3API) *ObjectStoreVerifier {
	return &ObjectStoreVerifier{s3: client}
}

// Verify issues a HeadObject for the locator's bucket and key. A 404
// or 403 from the store is a denial; any other failure means the
// probe could not complete.
func (v *ObjectStoreVerifier) Verify(ctx context.Context, ref memory.Reference) error {
	bucket, key, found := strings.Cut(ref.Locator, "/")
	if !found || bucket == "" || key == "" {
		return fmt.Errorf("object-store locator %q is not bucket/key: %w", ref.Locator, ErrAccessDenied)
	}

	_, err := v.s3.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return nil
	}

	if requestErr, ok := err.(awserr.RequestFailure); ok {
		switch requestErr.StatusCode() {
		case http.StatusNotFound:
			return fmt.Errorf("object %s does not exist: %w", ref.Locator, ErrAccessDenied)
		case http.StatusForbidden:
			return fmt.Errorf("object %s is forbidden: %w", ref.Locator, ErrAccessDenied)
		}
	}
	return fmt.Errorf("probing object %s: %w", ref.Locator, err)
}
