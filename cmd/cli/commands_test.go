package main

import (
	"testing"

	"github.com/dvloznov/intranet-sync/internal/auth"
	"github.com/dvloznov/intranet-sync/internal/gcsarchive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePermissions(t *testing.T) {
	perms, err := parsePermissions([]string{"financial=edit", "whatsapp=VIEW"})
	require.NoError(t, err)
	assert.Equal(t, map[string]auth.Level{"financial": auth.LevelEdit, "whatsapp": auth.LevelView}, perms)

	none, err := parsePermissions(nil)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = parsePermissions([]string{"financial"})
	assert.Error(t, err)
	_, err = parsePermissions([]string{"financial=owner"})
	assert.Error(t, err)
}

func TestArchiveURI(t *testing.T) {
	a := gcsarchive.New(nil, "raw", "")

	uri, err := archiveURI(a, "raw", []string{"gs://other/x.json"})
	require.NoError(t, err)
	assert.Equal(t, "gs://other/x.json", uri)

	uri, err = archiveURI(a, "raw", []string{"run-1", "100"})
	require.NoError(t, err)
	assert.Equal(t, "gs://raw/advbox/financial/run-1/000100.json", uri)

	_, err = archiveURI(a, "", []string{"run-1", "100"})
	assert.Error(t, err)
	_, err = archiveURI(a, "raw", []string{"run-1", "abc"})
	assert.Error(t, err)
	_, err = archiveURI(a, "raw", nil)
	assert.Error(t, err)
}
