/*
Copyright 2011 The Perkeep Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package s3sub fetches a dataset's blob files from an S3 bucket using the
// host's configured AWS profile, materializes them into the cache layout,
// and opens the resulting directory as a localfile.Engine -- the S3
// branch of the sub-engine factory's dispatch table.
package s3sub

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"campaignfs.dev/federated/cachelayout"
	"campaignfs.dev/federated/catalog"
	"campaignfs.dev/federated/ferrors"
	"campaignfs.dev/federated/subengine"
	"campaignfs.dev/federated/subengine/localfile"
)

// Options configures how a dataset's blobs are located in S3.
type Options struct {
	Bucket          string
	Prefix          string // object key prefix, usually the dataset UUID
	AWSProfile      string
	IsAWSEC2        bool
	RecheckMetadata bool
}

// Open downloads ds's blob files from S3 into the cache layout, then opens
// them as a localfile.Engine. An env-var pair is set before the SDK
// config is resolved so the chosen profile and (lack of) EC2 metadata
// probing take effect process wide.
func Open(ctx context.Context, opts Options, ds catalog.Dataset, files []catalog.BlobFile, cache *cachelayout.Layout) (subengine.Engine, error) {
	setAWSEnv(opts)

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithSharedConfigProfile(opts.AWSProfile))
	if err != nil {
		return nil, fmt.Errorf("%w: loading AWS config for profile %q: %v", ferrors.RemoteEndpointUnreachable, opts.AWSProfile, err)
	}
	client := s3.NewFromConfig(cfg)

	dir := cache.PathFor(ds.UUID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %v", ferrors.CacheIOError, dir, err)
	}

	for _, f := range files {
		key := opts.Prefix + f.Name
		if err := downloadObject(ctx, client, opts.Bucket, key, dir, f.Name); err != nil {
			return nil, err
		}
	}

	return localfile.Open(dir)
}

// setAWSEnv sets the process-wide env vars the AWS SDK's default config
// loader reads, so the chosen profile and (lack of) EC2 metadata probing
// take effect before LoadDefaultConfig runs.
func setAWSEnv(opts Options) {
	if !opts.IsAWSEC2 {
		os.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	}
	if opts.AWSProfile != "" {
		os.Setenv("AWS_PROFILE", opts.AWSProfile)
	}
}

func downloadObject(ctx context.Context, client *s3.Client, bucket, key, destDir, destName string) error {
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("%w: fetching s3://%s/%s: %v", ferrors.RemoteRequestFailed, bucket, key, err)
	}
	defer out.Body.Close()

	f, err := os.Create(destDir + string(os.PathSeparator) + destName)
	if err != nil {
		return fmt.Errorf("%w: creating %s: %v", ferrors.CacheIOError, destName, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, out.Body); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ferrors.CacheIOError, destName, err)
	}
	return nil
}
