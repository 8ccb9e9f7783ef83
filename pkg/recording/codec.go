package recording

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/httpmockd/httpmockd/pkg/matching"
)

// docEntry is the on-disk shape of one RecordedEntry: a `when`/`then` pair
// with bodies tagged plain or base64 depending on whether they are valid
// UTF-8, per spec.md §4.7 "body_encoding: plain | base64".
type docEntry struct {
	CapturedAt time.Time  `yaml:"captured_at"`
	When       docWhen    `yaml:"when"`
	Then       docThen    `yaml:"then"`
}

type docWhen struct {
	Method  string     `yaml:"method"`
	Scheme  string     `yaml:"scheme,omitempty"`
	Host    string     `yaml:"host,omitempty"`
	Port    string     `yaml:"port,omitempty"`
	Path    string     `yaml:"path"`
	Query   []docKV    `yaml:"query,omitempty"`
	Headers []docKV    `yaml:"headers,omitempty"`
	Body        string `yaml:"body,omitempty"`
	BodyEncoding string `yaml:"body_encoding,omitempty"`
}

type docThen struct {
	Status      int     `yaml:"status"`
	Headers     []docKV `yaml:"headers,omitempty"`
	Body        string  `yaml:"body,omitempty"`
	BodyEncoding string `yaml:"body_encoding,omitempty"`
}

type docKV struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// encodeBody returns the text representation and its encoding tag.
func encodeBody(b []byte) (string, string) {
	if len(b) == 0 {
		return "", ""
	}
	if utf8.Valid(b) {
		return string(b), "plain"
	}
	return base64.StdEncoding.EncodeToString(b), "base64"
}

func decodeBody(text, encoding string) ([]byte, error) {
	if text == "" {
		return nil, nil
	}
	if encoding == "base64" {
		return base64.StdEncoding.DecodeString(text)
	}
	return []byte(text), nil
}

func toDocEntry(e RecordedEntry) docEntry {
	body, bodyEnc := encodeBody(e.Body)
	respBody, respEnc := encodeBody(e.ResponseBody)
	return docEntry{
		CapturedAt: e.CapturedAt,
		When: docWhen{
			Method: e.Method, Scheme: e.Scheme, Host: e.Host, Port: e.Port, Path: e.Path,
			Query:        kvToDoc(e.Query),
			Headers:      kvToDoc(e.Headers),
			Body:         body,
			BodyEncoding: bodyEnc,
		},
		Then: docThen{
			Status:       e.ResponseStatus,
			Headers:      kvToDoc(e.ResponseHeaders),
			Body:         respBody,
			BodyEncoding: respEnc,
		},
	}
}

func fromDocEntry(d docEntry) (RecordedEntry, error) {
	body, err := decodeBody(d.When.Body, d.When.BodyEncoding)
	if err != nil {
		return RecordedEntry{}, fmt.Errorf("decode request body: %w", err)
	}
	respBody, err := decodeBody(d.Then.Body, d.Then.BodyEncoding)
	if err != nil {
		return RecordedEntry{}, fmt.Errorf("decode response body: %w", err)
	}
	return RecordedEntry{
		CapturedAt:      d.CapturedAt,
		Method:          d.When.Method,
		Scheme:          d.When.Scheme,
		Host:            d.When.Host,
		Port:            d.When.Port,
		Path:            d.When.Path,
		Query:           docToKV(d.When.Query),
		Headers:         docToKV(d.When.Headers),
		Body:            body,
		ResponseStatus:  d.Then.Status,
		ResponseHeaders: docToKV(d.Then.Headers),
		ResponseBody:    respBody,
	}, nil
}

func kvToDoc(kvs []matching.KV) []docKV {
	if len(kvs) == 0 {
		return nil
	}
	out := make([]docKV, len(kvs))
	for i, kv := range kvs {
		out[i] = docKV{Name: kv.Key, Value: kv.Value}
	}
	return out
}

func docToKV(kvs []docKV) []matching.KV {
	if len(kvs) == 0 {
		return nil
	}
	out := make([]matching.KV, len(kvs))
	for i, kv := range kvs {
		out[i] = matching.KV{Key: kv.Name, Value: kv.Value}
	}
	return out
}

// Encode renders entries as a `---`-separated multi-document YAML stream,
// one document per entry, in sequence order.
func Encode(entries []RecordedEntry) ([]byte, error) {
	var out []byte
	for i, e := range entries {
		if i > 0 {
			out = append(out, []byte("---\n")...)
		}
		b, err := yaml.Marshal(toDocEntry(e))
		if err != nil {
			return nil, fmt.Errorf("encode entry %d: %w", i, err)
		}
		out = append(out, b...)
	}
	return out, nil
}

// Decode parses a `---`-separated YAML stream back into RecordedEntry values,
// preserving document order.
func Decode(data []byte) ([]RecordedEntry, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var entries []RecordedEntry
	for {
		var d docEntry
		if err := dec.Decode(&d); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return entries, fmt.Errorf("decode document %d: %w", len(entries), err)
		}
		e, err := fromDocEntry(d)
		if err != nil {
			return entries, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Save writes entries atomically to <dir>/<name>_<unix_ms>.yaml: the file is
// written to a temp path in the same directory and renamed into place, so a
// reader never observes a partial document (spec.md §4.7).
func Save(dir, name string, entries []RecordedEntry, now time.Time) (string, error) {
	data, err := Encode(entries)
	if err != nil {
		return "", err
	}
	filename := fmt.Sprintf("%s_%d.yaml", name, now.UnixMilli())
	finalPath := filepath.Join(dir, filename)

	tmp, err := os.CreateTemp(dir, ".tmp-"+name+"-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename into place: %w", err)
	}
	return finalPath, nil
}

// Load reads and decodes a single recording file.
func Load(path string) ([]RecordedEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Decode(data)
}
