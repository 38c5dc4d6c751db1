// Copyright 2025 The GrepWise Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sources

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/compute/metadata"
	"cloud.google.com/go/logging"
	"cloud.google.com/go/logging/logadmin"
	"github.com/mitchellh/mapstructure"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/grepwise/grepwise/record"
)

// gcpOptions is the provider handle decoded from CloudSettings.Options.
type gcpOptions struct {
	ProjectID       string `mapstructure:"project_id"`
	Filter          string `mapstructure:"filter"`
	CredentialsFile string `mapstructure:"credentials_file"`
	// MaxEntries bounds one poll; the next poll resumes from the watermark.
	MaxEntries int `mapstructure:"max_entries"`
}

const defaultGCPMaxEntries = 1000

// gcpPuller reads Cloud Logging entries through the logadmin API.
type gcpPuller struct {
	client   *logadmin.Client
	sourceID string
	opts     gcpOptions
}

// NewGCPPuller is the PullerFactory for provider "gcp". The project id
// falls back to the metadata server when running on GCE.
func NewGCPPuller(ctx context.Context, cfg *Config) (Puller, error) {
	var opts gcpOptions
	if err := mapstructure.Decode(cfg.Cloud.Options, &opts); err != nil {
		return nil, fmt.Errorf("sources: %q: decoding gcp options: %w", cfg.Name, err)
	}
	if opts.ProjectID == "" {
		if !metadata.OnGCE() {
			return nil, fmt.Errorf("sources: %q: gcp options need a project_id outside GCE", cfg.Name)
		}
		project, err := metadata.ProjectIDWithContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("sources: %q: resolving project from metadata server: %w", cfg.Name, err)
		}
		opts.ProjectID = project
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = defaultGCPMaxEntries
	}

	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	client, err := logadmin.NewClient(ctx, opts.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("sources: %q: creating logadmin client: %w", cfg.Name, err)
	}
	return &gcpPuller{client: client, sourceID: cfg.ID, opts: opts}, nil
}

// Pull fetches entries newer than since, oldest first.
func (p *gcpPuller) Pull(ctx context.Context, since time.Time) ([]*record.LogRecord, error) {
	filter := fmt.Sprintf(`timestamp > %q`, since.UTC().Format(time.RFC3339Nano))
	if p.opts.Filter != "" {
		filter = fmt.Sprintf("(%s) AND %s", p.opts.Filter, filter)
	}

	var out []*record.LogRecord
	it := p.client.Entries(ctx, logadmin.Filter(filter))
	for len(out) < p.opts.MaxEntries {
		entry, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("sources: listing entries: %w", err)
		}
		out = append(out, p.convert(entry))
	}
	return out, nil
}

func (p *gcpPuller) Close() error {
	return p.client.Close()
}

// convert maps one Cloud Logging entry onto a normalized record.
func (p *gcpPuller) convert(entry *logging.Entry) *record.LogRecord {
	message := fmt.Sprintf("%v", entry.Payload)
	r := record.New(message, "cloud:"+p.sourceID)
	if !entry.Timestamp.IsZero() {
		r.Timestamp = record.TimeToMillis(entry.Timestamp)
	}
	r.Level = gcpSeverityLevel(entry.Severity)
	if entry.LogName != "" {
		r.Metadata["log_name"] = entry.LogName
	}
	if entry.InsertID != "" {
		r.Metadata["insert_id"] = entry.InsertID
	}
	for k, v := range entry.Labels {
		r.Metadata["label_"+k] = v
	}
	return r
}

// gcpSeverityLevel collapses Cloud Logging's severity ladder onto the
// normalized levels.
func gcpSeverityLevel(severity logging.Severity) record.Level {
	switch {
	case severity >= logging.Critical:
		return record.LevelFatal
	case severity >= logging.Error:
		return record.LevelError
	case severity >= logging.Warning:
		return record.LevelWarn
	case severity >= logging.Info:
		return record.LevelInfo
	case severity >= logging.Debug:
		return record.LevelDebug
	}
	return record.LevelUnknown
}
