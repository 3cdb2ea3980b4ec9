package objectstore

import (
	"bytes"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeS3 answers the subset of the S3 REST API the stores use:
// HeadBucket, ListObjectsV2 (with pagination) and ranged GetObject.
type fakeS3 struct {
	bucket   string
	pageSize int

	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3(t *testing.T, bucket string, objects map[string][]byte) (*fakeS3, *httptest.Server) {
	t.Helper()
	f := &fakeS3{bucket: bucket, pageSize: 2, objects: objects}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

var fakeModTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if bucket != f.bucket {
		writeS3Error(w, r, http.StatusNotFound, "NoSuchBucket")
		return
	}

	if key == "" {
		switch {
		case r.Method == http.MethodHead:
			w.WriteHeader(http.StatusOK)
		case r.URL.Query().Get("list-type") == "2":
			f.list(w, r)
		default:
			writeS3Error(w, r, http.StatusBadRequest, "InvalidRequest")
		}
		return
	}

	f.mu.Lock()
	data, ok := f.objects[key]
	f.mu.Unlock()
	if !ok {
		writeS3Error(w, r, http.StatusNotFound, "NoSuchKey")
		return
	}
	w.Header().Set("ETag", `"fake-etag"`)
	http.ServeContent(w, r, key, fakeModTime, bytes.NewReader(data))
}

type listBucketResult struct {
	XMLName               xml.Name       `xml:"ListBucketResult"`
	Xmlns                 string         `xml:"xmlns,attr"`
	Name                  string         `xml:"Name"`
	Prefix                string         `xml:"Prefix"`
	Delimiter             string         `xml:"Delimiter,omitempty"`
	KeyCount              int            `xml:"KeyCount"`
	MaxKeys               int            `xml:"MaxKeys"`
	IsTruncated           bool           `xml:"IsTruncated"`
	ContinuationToken     string         `xml:"ContinuationToken,omitempty"`
	NextContinuationToken string         `xml:"NextContinuationToken,omitempty"`
	Contents              []listContent  `xml:"Contents"`
	CommonPrefixes        []commonPrefix `xml:"CommonPrefixes"`
}

type listContent struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int    `xml:"Size"`
	StorageClass string `xml:"StorageClass"`
}

type commonPrefix struct {
	Prefix string `xml:"Prefix"`
}

func (f *fakeS3) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	prefix, delimiter, token := q.Get("prefix"), q.Get("delimiter"), q.Get("continuation-token")

	f.mu.Lock()
	keys := make([]string, 0, len(f.objects))
	sizes := make(map[string]int, len(f.objects))
	for k, v := range f.objects {
		keys = append(keys, k)
		sizes[k] = len(v)
	}
	f.mu.Unlock()
	sort.Strings(keys)

	type entry struct {
		name     string
		isPrefix bool
	}
	var entries []entry
	seen := make(map[string]bool)
	for _, k := range keys {
		rest, ok := strings.CutPrefix(k, prefix)
		if !ok {
			continue
		}
		if i := strings.Index(rest, delimiter); delimiter != "" && i >= 0 {
			p := prefix + rest[:i+len(delimiter)]
			if !seen[p] {
				seen[p] = true
				entries = append(entries, entry{name: p, isPrefix: true})
			}
			continue
		}
		entries = append(entries, entry{name: k})
	}

	start := 0
	if token != "" {
		start, _ = strconv.Atoi(token)
	}
	end := min(start+f.pageSize, len(entries))

	result := listBucketResult{
		Xmlns:             "http://s3.amazonaws.com/doc/2006-03-01/",
		Name:              f.bucket,
		Prefix:            prefix,
		Delimiter:         delimiter,
		MaxKeys:           f.pageSize,
		ContinuationToken: token,
	}
	for _, e := range entries[start:end] {
		if e.isPrefix {
			result.CommonPrefixes = append(result.CommonPrefixes, commonPrefix{Prefix: e.name})
		} else {
			result.Contents = append(result.Contents, listContent{
				Key:          e.name,
				LastModified: fakeModTime.Format("2006-01-02T15:04:05.000Z"),
				ETag:         `"fake-etag"`,
				Size:         sizes[e.name],
				StorageClass: "STANDARD",
			})
		}
	}
	result.KeyCount = end - start
	if end < len(entries) {
		result.IsTruncated = true
		result.NextContinuationToken = strconv.Itoa(end)
	}

	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(xml.Header))
	xml.NewEncoder(w).Encode(result)
}

func writeS3Error(w http.ResponseWriter, r *http.Request, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}
	w.Write([]byte(xml.Header + "<Error><Code>" + code + "</Code><Message>" + code + "</Message>" +
		"<Resource>" + r.URL.Path + "</Resource><RequestId>fake</RequestId></Error>"))
}
