// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package s3 implements objdev.Store on top of S3 protocol. It uses aws api
// v1.
package s3

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"golang.org/x/net/http2"

	"github.com/asch/raid0/internal/device/objdev"
)

const (
	// Format string for the object key. The index is split into halves
	// and the lower half is used as s3 prefix and the upper half as the
	// object name. Objects with the same prefix share s3 rate limit, and
	// neighbouring objects are the ones accessed together.
	keyFmt = "%08x/%08x"
)

// Implementation of objdev.Store using AWS S3 as a backend. Parameters of
// http connection are tuned for the AWS environment.
type S3 struct {
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	client     *s3.S3
	bucket     string

	// Key prefix separating devices sharing one bucket.
	prefix string
}

// Options to use in New() function due to high number of parameters. There is
// lower chance of ordering mistake with named parameters.
type Options struct {
	Remote    string
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
}

// Helper struct used for tuning the http connection.
type httpClientSettings struct {
	connect          time.Duration
	connKeepAlive    time.Duration
	expectContinue   time.Duration
	idleConn         time.Duration
	maxAllIdleConns  int
	maxHostIdleConns int
	responseHeader   time.Duration
	tlsHandshake     time.Duration
}

// Returns http client with configured parameters and added http2 support.
func newHTTPClientWithSettings(httpSettings httpClientSettings) *http.Client {
	tr := &http.Transport{
		ResponseHeaderTimeout: httpSettings.responseHeader,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: httpSettings.connKeepAlive,
			Timeout:   httpSettings.connect,
		}).DialContext,
		MaxIdleConns:          httpSettings.maxAllIdleConns,
		IdleConnTimeout:       httpSettings.idleConn,
		TLSHandshakeTimeout:   httpSettings.tlsHandshake,
		MaxIdleConnsPerHost:   httpSettings.maxHostIdleConns,
		ExpectContinueTimeout: httpSettings.expectContinue,
	}

	http2.ConfigureTransport(tr)

	return &http.Client{
		Transport: tr,
	}
}

func New(o Options) (*S3, error) {
	s := new(S3)
	s.bucket = o.Bucket
	s.prefix = strings.Trim(o.Prefix, "/")

	httpClient := newHTTPClientWithSettings(httpClientSettings{
		connect:          5 * time.Second,
		expectContinue:   1 * time.Second,
		idleConn:         90 * time.Second,
		connKeepAlive:    30 * time.Second,
		maxAllIdleConns:  100,
		maxHostIdleConns: 10,
		responseHeader:   5 * time.Second,
		tlsHandshake:     5 * time.Second,
	})

	sess, err := session.NewSession(&aws.Config{
		Endpoint:                      aws.String(o.Remote),
		Region:                        aws.String(o.Region),
		Credentials:                   credentials.NewStaticCredentials(o.AccessKey, o.SecretKey, ""),
		S3ForcePathStyle:              aws.Bool(true),
		S3DisableContentMD5Validation: aws.Bool(true),
		HTTPClient:                    httpClient,
	})

	if err != nil {
		return nil, err
	}

	s.client = s3.New(sess)
	s.uploader = s3manager.NewUploader(sess)
	s.downloader = s3manager.NewDownloader(sess)

	// Objects are at most a few blocks, multipart transfers would only
	// add latency.
	s.uploader.Concurrency = 1
	s3manager.WithUploaderRequestOptions(request.Option(func(r *request.Request) {
		r.HTTPRequest.Header.Add("X-Amz-Content-Sha256", "UNSIGNED-PAYLOAD")
	}))(s.uploader)
	s.downloader.Concurrency = 1

	err = s.makeBucketExist()

	return s, err
}

// Upload function implemented through s3 api.
func (s *S3) Upload(key int64, buf []byte) error {
	_, err := s.uploader.Upload(&s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.encode(key)),
		Body:   bytes.NewReader(buf),
	})

	return err
}

// DownloadAt function implemented through s3 api. Missing object is reported
// as objdev.ErrNotFound.
func (s *S3) DownloadAt(key int64, buf []byte, offset int64) error {
	to := offset + int64(len(buf)) - 1
	rng := fmt.Sprintf("bytes=%d-%d", offset, to)
	b := aws.NewWriteAtBuffer(buf)

	_, err := s.downloader.Download(b, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.encode(key)),
		Range:  &rng,
	})

	if isNotFound(err) {
		return objdev.ErrNotFound
	}

	return err
}

// Delete function implemented through s3 api.
func (s *S3) Delete(key int64) error {
	_, err := s.client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.encode(key)),
	})

	return err
}

// Check whether bucket exist and if not, create it and wait until it appears.
func (s *S3) makeBucketExist() error {
	_, err := s.client.HeadBucket(&s3.HeadBucketInput{Bucket: aws.String(s.bucket)})

	if err != nil {
		_, err = s.client.CreateBucket(&s3.CreateBucketInput{
			Bucket: aws.String(s.bucket)})

		if err == nil {
			err = s.client.WaitUntilBucketExists(&s3.HeadBucketInput{
				Bucket: aws.String(s.bucket)})
		}
	}

	return err
}

func isNotFound(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}

	switch aerr.Code() {
	case s3.ErrCodeNoSuchKey, "NotFound":
		return true
	}

	return false
}

// Lower half of the key bits is used as s3 prefix and upper half as the object
// name, everything under the device prefix.
func (s *S3) encode(key int64) string {
	left := (key >> 32) & 0xffffffff
	right := key & 0xffffffff

	k := fmt.Sprintf(keyFmt, right, left)
	if s.prefix == "" {
		return k
	}

	return s.prefix + "/" + k
}

