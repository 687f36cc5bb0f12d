// Package media issues pre-signed upload URLs for story and message
// attachments, fronting S3-compatible object storage. The core itself
// never touches blob bytes; clients upload directly and messages carry
// only the resulting URL.
package media

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"

	"github.com/tinode/fanout/internal/corerr"
)

// Config configures the bucket, region, public URL prefix and URL
// lifetime used for presigned uploads.
type Config struct {
	Bucket  string
	Region  string
	BaseURL string // public URL prefix the uploaded object is reachable at, e.g. https://cdn.example.com
	URLTTL  time.Duration
}

// DefaultURLTTL is how long a presigned upload URL stays valid.
const DefaultURLTTL = 15 * time.Minute

// Signer issues presigned PUT URLs for direct-to-storage uploads.
type Signer struct {
	cfg Config
	svc *s3.S3
}

// New builds a Signer from cfg, establishing an AWS session using the
// environment's standard credential chain.
func New(cfg Config) (*Signer, error) {
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = DefaultURLTTL
	}
	sess, err := session.NewSession(&aws.Config{Region: aws.String(cfg.Region)})
	if err != nil {
		return nil, corerr.New(corerr.Internal, err)
	}
	return &Signer{cfg: cfg, svc: s3.New(sess)}, nil
}

// UploadURL is the response shape of the upload-url endpoint.
type UploadURL struct {
	UploadURL string `json:"uploadUrl"`
	MediaURL  string `json:"mediaUrl"`
}

// Sign issues a presigned PUT URL for an object keyed "<fresh id>-<fileName>"
// (the whole file name, not only its extension), and the public URL that object
// will be reachable at once the client finishes the upload.
func (s *Signer) Sign(fileName, fileType string) (UploadURL, error) {
	key := fmt.Sprintf("%s-%s", uuid.NewString(), fileName)

	req, _ := s.svc.PutObjectRequest(&s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(fileType),
	})

	signedURL, err := req.Presign(s.cfg.URLTTL)
	if err != nil {
		return UploadURL{}, corerr.New(corerr.Internal, err)
	}

	return UploadURL{
		UploadURL: signedURL,
		MediaURL:  s.cfg.BaseURL + "/" + key,
	}, nil
}
