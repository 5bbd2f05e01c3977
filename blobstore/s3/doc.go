// Package s3 stores published archives in an Amazon S3 bucket.
//
//	store, err := s3.New(ctx, s3.ClientConfig{Region: "eu-central-1"}, "my-bucket", "archives")
//	if err != nil {
//		return err
//	}
//	m, err := a.Publish(ctx, store, "faces-2024")
//
// Bundles stream through a multipart upload whose parts carry CRC32C
// checksums; manifests go up in a single PutObject. Reads are ranged GETs.
// ClientConfig.Endpoint points the client at an S3-compatible gateway and
// switches to path-style addressing.
package s3
