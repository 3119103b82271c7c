package archiver

import "github.com/streamhouse/broker/internal/brokererr"

// S3Archiver is config-validated but not yet implemented: every call fails
// with ArchiverFailed, the same "not yet" treatment the spec gives
// compression (spec §9 Open questions; config §6 archiver.kind).
type S3Archiver struct {
	Bucket    string
	Region    string
	Endpoint  string
}

// NewS3Archiver constructs an S3Archiver from validated configuration.
func NewS3Archiver(bucket, region, endpoint string) *S3Archiver {
	return &S3Archiver{Bucket: bucket, Region: region, Endpoint: endpoint}
}

func (a *S3Archiver) Init() error { return brokererr.New(brokererr.KindArchiverFailed) }

func (a *S3Archiver) IsArchived(file string, baseDir string) (bool, error) {
	return false, brokererr.New(brokererr.KindArchiverFailed)
}

func (a *S3Archiver) Archive(files []string, baseDir string) error {
	return brokererr.New(brokererr.KindArchiverFailed)
}
