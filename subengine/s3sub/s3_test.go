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

package s3sub

import (
	"os"
	"testing"
)

func TestSetAWSEnvDisablesMetadataWhenNotEC2(t *testing.T) {
	os.Unsetenv("AWS_EC2_METADATA_DISABLED")
	os.Unsetenv("AWS_PROFILE")
	defer os.Unsetenv("AWS_EC2_METADATA_DISABLED")
	defer os.Unsetenv("AWS_PROFILE")

	setAWSEnv(Options{IsAWSEC2: false, AWSProfile: "campaign-reader"})

	if got := os.Getenv("AWS_EC2_METADATA_DISABLED"); got != "true" {
		t.Errorf("AWS_EC2_METADATA_DISABLED = %q, want true", got)
	}
	if got := os.Getenv("AWS_PROFILE"); got != "campaign-reader" {
		t.Errorf("AWS_PROFILE = %q, want campaign-reader", got)
	}
}

func TestSetAWSEnvLeavesMetadataAloneOnEC2(t *testing.T) {
	os.Unsetenv("AWS_EC2_METADATA_DISABLED")
	os.Unsetenv("AWS_PROFILE")
	defer os.Unsetenv("AWS_EC2_METADATA_DISABLED")

	setAWSEnv(Options{IsAWSEC2: true})

	if got := os.Getenv("AWS_EC2_METADATA_DISABLED"); got != "" {
		t.Errorf("AWS_EC2_METADATA_DISABLED = %q, want unset on EC2", got)
	}
	if got := os.Getenv("AWS_PROFILE"); got != "" {
		t.Errorf("AWS_PROFILE = %q, want unset with no profile", got)
	}
}
