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

// Command campaignfed-ls opens a campaign catalog and lists every
// variable in its merged namespace.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"campaignfs.dev/federated/cachelayout"
	"campaignfs.dev/federated/campaignparams"
	"campaignfs.dev/federated/catalog"
	"campaignfs.dev/federated/federated"
	"campaignfs.dev/federated/hostconfig"
	"campaignfs.dev/federated/keyservice"
	"campaignfs.dev/federated/subengine"
	"campaignfs.dev/federated/subengine/localfile"
	"campaignfs.dev/federated/subengine/s3sub"
)

var (
	storePath = flag.String("campaignstorepath", "", "root directory campaign file paths are resolved against")
	cachePath = flag.String("cachepath", "", "directory used to cache remote dataset blobs")
	hostFile  = flag.String("hostconfig", "", "JSON file describing per-host options (S3 profile, endpoint, ...)")
	keySvcURL = flag.String("keyservice", "", "base URL of the key resolution service")
	verbose   = flag.Int("verbose", 0, "verbosity level, 0-5")
)

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: campaignfed-ls [flags] <campaign-file>")
		os.Exit(2)
	}

	logger := log.New(os.Stderr, "campaignfed-ls: ", 0)
	if err := run(flag.Arg(0), logger); err != nil {
		logger.Fatal(err)
	}
}

func run(path string, logger *log.Logger) error {
	ctx := context.Background()

	store := catalog.NewStore(*storePath, logger)

	hosts := hostconfig.Table{}
	if *hostFile != "" {
		var err error
		hosts, err = hostconfig.Load(*hostFile)
		if err != nil {
			return err
		}
	}

	cache := cachelayout.New(*cachePath, store)

	var keys *keyservice.Client
	if *keySvcURL != "" {
		keys = keyservice.New(*keySvcURL, nil)
	}

	hostname, err := os.Hostname()
	if err != nil {
		return err
	}

	factory := &subengine.Factory{
		LocalHost: hostname,
		Hosts:     hosts,
		Cache:     cache,
		Keys:      keys,
		Store:     store,
		Logger:    logger,
		OpenLocal: func(dir string) (subengine.Engine, error) { return localfile.Open(dir) },
		OpenS3: func(ctx context.Context, bucket, prefix, profile string, isEC2, recheck bool, ds catalog.Dataset, files []catalog.BlobFile, cache *cachelayout.Layout) (subengine.Engine, error) {
			return s3sub.Open(ctx, s3sub.Options{
				Bucket:          bucket,
				Prefix:          prefix,
				AWSProfile:      profile,
				IsAWSEC2:        isEC2,
				RecheckMetadata: recheck,
			}, ds, files, cache)
		},
	}

	params := campaignparams.New(map[string]string{"verbose": strconv.Itoa(*verbose)})
	eng, err := federated.Open(ctx, store, path, factory, params, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	for _, name := range eng.Variables() {
		fmt.Println(name)
	}
	return nil
}
