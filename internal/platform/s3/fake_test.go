package s3

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// testClient creates a Client backed by a test HTTP server.
// The handler receives real S3 XML-protocol requests.
func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := s3.New(s3.Options{
		Region:           "fsn1",
		BaseEndpoint:     aws.String(server.URL),
		UsePathStyle:     true,
		RetryMaxAttempts: 1,
		Credentials:      credentials.NewStaticCredentialsProvider("test-key", "test-secret", ""),
		HTTPClient: &http.Client{
			Transport: &http.Transport{},
		},
	})

	return &Client{s3: client, region: "fsn1"}
}

// xmlResponse is a helper to write S3-style XML responses.
func xmlResponse(w http.ResponseWriter, statusCode int, body string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(statusCode)
	_, _ = w.Write([]byte(body))
}

func s3Error(w http.ResponseWriter, statusCode int, code string) {
	xmlResponse(w, statusCode, fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>%s</Code><Message>%s</Message></Error>`, code, code))
}

type storedObject struct {
	data     []byte
	metadata map[string]string
	encoding string
}

// fakeS3 is an in-memory, path-style S3 endpoint.
type fakeS3 struct {
	mu      sync.Mutex
	buckets map[string]map[string]storedObject
	created []string
	failPut bool
}

func newFakeS3() *fakeS3 {
	return &fakeS3{buckets: make(map[string]map[string]storedObject)}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	objects, exists := f.buckets[bucket]

	switch {
	case key == "" && r.Method == http.MethodHead:
		if !exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case key == "" && r.Method == http.MethodPut:
		f.buckets[bucket] = make(map[string]storedObject)
		f.created = append(f.created, bucket)
		xmlResponse(w, http.StatusOK, `<?xml version="1.0" encoding="UTF-8"?><CreateBucketResult/>`)
	case key == "" && r.Method == http.MethodGet:
		if !exists {
			s3Error(w, http.StatusNotFound, "NoSuchBucket")
			return
		}
		f.list(w, objects, r.URL.Query().Get("prefix"))
	case !exists:
		s3Error(w, http.StatusNotFound, "NoSuchBucket")
	case r.Method == http.MethodPut:
		if f.failPut {
			s3Error(w, http.StatusForbidden, "AccessDenied")
			return
		}
		body, _ := io.ReadAll(r.Body)
		meta := make(map[string]string)
		for name, values := range r.Header {
			if k, ok := strings.CutPrefix(strings.ToLower(name), "x-amz-meta-"); ok {
				meta[k] = values[0]
			}
		}
		objects[key] = storedObject{data: body, metadata: meta, encoding: r.Header.Get("Content-Encoding")}
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet:
		obj, ok := objects[key]
		if !ok {
			s3Error(w, http.StatusNotFound, "NoSuchKey")
			return
		}
		for k, v := range obj.metadata {
			w.Header().Set("x-amz-meta-"+k, v)
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(obj.data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(obj.data)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) list(w http.ResponseWriter, objects map[string]storedObject, prefix string) {
	var keys []string
	for k := range objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
	fmt.Fprintf(&b, "<KeyCount>%d</KeyCount><MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>", len(keys))
	for _, k := range keys {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size></Contents>", k, len(objects[k].data))
	}
	b.WriteString("</ListBucketResult>")
	xmlResponse(w, http.StatusOK, b.String())
}

func (f *fakeS3) object(bucket, key string) (storedObject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.buckets[bucket][key]
	return obj, ok
}

func (f *fakeS3) corrupt(bucket, key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj := f.buckets[bucket][key]
	obj.data = data
	f.buckets[bucket][key] = obj
}
