// Package storagemixpanel streams files from cloud object storage into
// Mixpanel.
//
// A job names a storage path pattern (gs://, s3://, minio:// or a local
// directory), the file format, column mappings and a destination record
// type: events, user profiles, group profiles or a lookup table. The job
// runner lists the matching objects, then downloads, parses and transforms
// them while an upload coordinator batches records into the Mixpanel
// ingestion APIs.
//
// # Packages
//
//   - internal/pipeline: job runner, download stage, upload coordinator, run summary
//   - pkg/config: job configuration, loading and validation
//   - pkg/storage: object stores (GCS, S3, MinIO, local, memory) and path enumeration
//   - pkg/parser: ndjson, json, csv, tsv and avro decoding
//   - pkg/transform: row to Mixpanel record mapping and time normalization
//   - pkg/sink: Mixpanel HTTP sink and an in-memory sink
//   - pkg/events: per-run lifecycle event bus
//   - pkg/clients: HTTP client, retry policy, rate limiting
//   - pkg/metrics, pkg/observability: Prometheus metrics and OpenTelemetry spans
//
// # Quick Start
//
//	# job.yaml
//	path: gs://my-bucket/events/2024-*.ndjson.gz
//	mixpanel:
//	  api_secret: ${MP_SECRET}
//	  type: event
//	mappings:
//	  insert_id_col: uuid
//	options:
//	  workers: 20
//
//	storage-mixpanel run --config job.yaml --log-file summary.json
package storagemixpanel
