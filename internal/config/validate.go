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

package config

import "fmt"

// Validate checks internal consistency of a resolved Settings record.
func Validate(s *Settings) error {
	switch s.Configuration {
	case ModeDefault, ModeEMS, ModeADES, ModeHybrid:
	default:
		return fmt.Errorf("config: invalid weaver.configuration %q", s.Configuration)
	}

	if s.WPSOutputDir == "" {
		return fmt.Errorf("config: weaver.wps_output_dir must not be empty")
	}
	if s.ExecuteSyncMaxWait <= 0 {
		return fmt.Errorf("config: weaver.execute_sync_max_wait must be positive")
	}
	if s.WPSMaxRequestSize <= 0 {
		return fmt.Errorf("config: weaver.wps_max_request_size must be positive")
	}
	if s.WPSMaxSingleInputSize <= 0 {
		return fmt.Errorf("config: weaver.wps_max_single_input_size must be positive")
	}
	if s.WPSOutputS3Bucket != "" && s.WPSOutputS3Region == "" {
		return fmt.Errorf("config: weaver.wps_output_s3_region is required when wps_output_s3_bucket is set")
	}
	return nil
}
