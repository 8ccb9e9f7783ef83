package recording

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/httpmockd/httpmockd/pkg/matching"
)

func sampleEntries() []RecordedEntry {
	return []RecordedEntry{
		{
			CapturedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			Method:          "GET",
			Path:            "/a",
			Headers:         []matching.KV{{Key: "X-Test", Value: "1"}},
			ResponseStatus:  200,
			ResponseHeaders: []matching.KV{{Key: "Content-Type", Value: "text/plain"}},
			ResponseBody:    []byte("hello"),
		},
		{
			CapturedAt:     time.Date(2026, 1, 2, 3, 4, 6, 0, time.UTC),
			Method:         "POST",
			Path:           "/b",
			Body:           []byte(`{"k":1}`),
			ResponseStatus: 201,
			ResponseBody:   []byte(`{"ok":true}`),
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	entries := sampleEntries()

	data, err := Encode(entries)
	require.NoError(t, err)
	require.Contains(t, string(data), "---\n")

	decoded, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	require.Equal(t, entries[0].Method, decoded[0].Method)
	require.Equal(t, entries[0].Path, decoded[0].Path)
	require.Equal(t, entries[0].ResponseBody, decoded[0].ResponseBody)
	require.Equal(t, entries[1].Body, decoded[1].Body)
	require.Equal(t, entries[1].ResponseBody, decoded[1].ResponseBody)
}

func TestEncodeDecodeBinaryBodyUsesBase64(t *testing.T) {
	entries := []RecordedEntry{{
		Method:       "POST",
		Path:         "/bin",
		Body:         []byte{0xff, 0xfe, 0x00, 0x01},
		ResponseBody: []byte{0x00, 0x10, 0x20},
	}}

	data, err := Encode(entries)
	require.NoError(t, err)
	require.Contains(t, string(data), "body_encoding: base64")

	decoded, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, entries[0].Body, decoded[0].Body)
	require.Equal(t, entries[0].ResponseBody, decoded[0].ResponseBody)
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	entries := sampleEntries()

	path, err := Save(dir, "session", entries, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.FileExists(t, path)

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
}

func TestLoadDirectoryOrdersLexicographicallyAndIgnoresOtherExtensions(t *testing.T) {
	dir := t.TempDir()
	zData, err := Encode([]RecordedEntry{{Method: "GET", Path: "/z"}})
	require.NoError(t, err)
	aData, err := Encode([]RecordedEntry{{Method: "GET", Path: "/a"}})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "z.yaml"), zData, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yml"), aData, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("ignore me"), 0o600))

	specs, err := LoadDirectory(dir)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	require.Equal(t, "/a", specs[0].When.Path)
	require.Equal(t, "/z", specs[1].When.Path)
}

func TestEntryToMockSpecReproducesResponse(t *testing.T) {
	e := RecordedEntry{
		Method:          "GET",
		Path:            "/widgets",
		Query:           []matching.KV{{Key: "color", Value: "red"}},
		Headers:         []matching.KV{{Key: "X-Api-Key", Value: "secret"}},
		ResponseStatus:  200,
		ResponseHeaders: []matching.KV{{Key: "X-From", Value: "recording"}},
		ResponseBody:    []byte("widget list"),
	}

	spec := EntryToMockSpec(e)
	require.Equal(t, "GET", spec.When.Method)
	require.Equal(t, "/widgets", spec.When.Path)
	require.Equal(t, map[string]string{"color": "red"}, spec.When.QueryExact)
	require.Equal(t, map[string]string{"X-Api-Key": "secret"}, spec.When.HeaderExact)
	require.Equal(t, 200, spec.Then.Status)
	require.Equal(t, "widget list", spec.Then.Body)
	require.Len(t, spec.Then.Headers, 1)
	require.Equal(t, "X-From", spec.Then.Headers[0].Name)
}

func TestEntryToMockSpecOmitsExactMapsWhenNoneCaptured(t *testing.T) {
	e := RecordedEntry{Method: "GET", Path: "/bare", ResponseStatus: 200}

	spec := EntryToMockSpec(e)
	require.Nil(t, spec.When.QueryExact)
	require.Nil(t, spec.When.HeaderExact)
}
