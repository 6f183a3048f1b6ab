// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package nbd

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpenWithoutServerFails(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "nbd.sock")

	d, err := Open("nbd+unix:///?socket=" + socket)
	assert.Error(t, err)
	assert.Nil(t, d)
}
