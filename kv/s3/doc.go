// Package s3 provides a kv.Store backed by Amazon S3.
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	store := s3kv.NewStore(s3.NewFromConfig(cfg), "my-bucket", "aviladb/")
//
// Documents are bounded at a few MiB, so every value is a single PutObject
// call.
package s3
