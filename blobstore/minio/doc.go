// Package minio stores published archives on MinIO and other S3-compatible
// servers (Ceph RGW, SeaweedFS, Garage) through minio-go, without the AWS SDK.
//
//	store, err := minio.New(minio.Config{
//		Endpoint:  "localhost:9000",
//		AccessKey: "minioadmin",
//		SecretKey: "minioadmin",
//	}, "archives", "team/")
//	if err != nil {
//		return err
//	}
//	if err := store.EnsureBucket(ctx); err != nil {
//		return err
//	}
//	m, err := a.Publish(ctx, store, "faces-2024")
//
// Bundles are streamed with PutObject; a writer that is aborted never
// creates the object. NewStore wraps an existing *minio.Client.
package minio
