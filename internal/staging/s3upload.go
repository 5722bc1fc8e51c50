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

package staging

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Uploader uploads staged output files to S3, mirroring the client
// setup the Fetcher uses for the s3:// input scheme (SPEC_FULL.md
// §4.1/§4.9).
type S3Uploader struct {
	client *s3.Client
}

// NewS3Uploader returns an S3Uploader backed by client.
func NewS3Uploader(client *s3.Client) *S3Uploader {
	return &S3Uploader{client: client}
}

// Upload puts the contents of localPath at s3://bucket/key.
func (u *S3Uploader) Upload(ctx context.Context, bucket, key, localPath, mediaType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   f,
	}
	if mediaType != "" {
		input.ContentType = aws.String(mediaType)
	}
	_, err = u.client.PutObject(ctx, input)
	return err
}
