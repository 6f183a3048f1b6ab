// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package s3

import (
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/stretchr/testify/assert"
)

func TestEncodeSplitsKey(t *testing.T) {
	s := &S3{prefix: "dev0"}

	assert.Equal(t, "dev0/00000001/00000000", s.encode(1))
	assert.Equal(t, "dev0/00000002/00000001", s.encode(1<<32+2))

	s = &S3{}
	assert.Equal(t, "0000abcd/00000000", s.encode(0xabcd))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(awserr.New(s3.ErrCodeNoSuchKey, "gone", nil)))
	assert.True(t, isNotFound(awserr.New("NotFound", "gone", nil)))
	assert.False(t, isNotFound(awserr.New("AccessDenied", "no", nil)))
	assert.False(t, isNotFound(errors.New("plain")))
	assert.False(t, isNotFound(nil))
}
