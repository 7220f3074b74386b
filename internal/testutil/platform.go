package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/vk/orgmigrate/internal/entity"
)

// FakeToken is the bearer token the fake platform accepts.
const FakeToken = "test-token"

// FakePlatform is an httptest server that imitates the data API endpoints
// the tool uses. Tests script it by filling the exported maps before the
// first request; access after that goes through the accessor methods.
type FakePlatform struct {
	Server *httptest.Server

	// Describes maps an sobject name to its fields.
	Describes map[string][]entity.Field
	// Counts maps an sobject name to the values of COUNT(Id) followed by one
	// value per counted field.
	Counts map[string][]int64

	// IngestStates is the sequence of states returned by successive status
	// polls of the ingest job for an sobject. The last state repeats.
	IngestStates map[string][]entity.JobState
	// RecordsFailed is reported as numberRecordsFailed for an sobject.
	RecordsFailed map[string]int64
	// UploadStatus is the status answered to data uploads. Defaults to 201.
	UploadStatus int
	SuccessCSV   map[string]string
	FailedCSV    map[string]string

	// QueryStates is the sequence of states returned for the query job of an
	// sobject. Defaults to JobComplete.
	QueryStates map[string][]entity.JobState
	// QueryPages is the list of result pages of an sobject's query job.
	QueryPages map[string][]string
	// NullLocator makes the last page carry the literal "null" locator
	// instead of omitting the header.
	NullLocator bool

	mu       sync.Mutex
	requests []string
	polls    map[string]int
	uploads  map[string][]byte
	jobs     map[string]string
	queries  map[string]string
}

var fromClause = regexp.MustCompile(`(?i)\bFROM\s+(\w+)`)

// NewFakePlatform starts a fake platform that is closed when the test ends.
func NewFakePlatform(t *testing.T) *FakePlatform {
	t.Helper()

	p := &FakePlatform{
		Describes:     map[string][]entity.Field{},
		Counts:        map[string][]int64{},
		IngestStates:  map[string][]entity.JobState{},
		RecordsFailed: map[string]int64{},
		SuccessCSV:    map[string]string{},
		FailedCSV:     map[string]string{},
		QueryStates:   map[string][]entity.JobState{},
		QueryPages:    map[string][]string{},
		polls:         map[string]int{},
		uploads:       map[string][]byte{},
		jobs:          map[string]string{},
		queries:       map[string]string{},
	}

	const base = "/services/data/v57.0"
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+base+"/sobjects/{name}/describe", p.describe)
	mux.HandleFunc("GET "+base+"/query", p.aggregate)
	mux.HandleFunc("POST "+base+"/jobs/ingest", p.createIngest)
	mux.HandleFunc("PUT "+base+"/jobs/ingest/{id}/batches", p.upload)
	mux.HandleFunc("PATCH "+base+"/jobs/ingest/{id}", p.closeIngest)
	mux.HandleFunc("GET "+base+"/jobs/ingest/{id}", p.ingestStatus)
	mux.HandleFunc("GET "+base+"/jobs/ingest/{id}/successfulResults", p.successful)
	mux.HandleFunc("GET "+base+"/jobs/ingest/{id}/failedResults", p.failed)
	mux.HandleFunc("POST "+base+"/jobs/query", p.createQuery)
	mux.HandleFunc("GET "+base+"/jobs/query/{id}", p.queryStatus)
	mux.HandleFunc("GET "+base+"/jobs/query/{id}/results", p.queryResults)

	p.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+FakeToken {
			http.Error(w, `[{"errorCode":"INVALID_SESSION_ID"}]`, http.StatusUnauthorized)
			return
		}
		p.mu.Lock()
		p.requests = append(p.requests, r.Method+" "+strings.TrimPrefix(r.URL.Path, base))
		p.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(p.Server.Close)
	return p
}

// URL returns the instance URL of the fake platform.
func (p *FakePlatform) URL() string {
	return p.Server.URL
}

// Requests returns "METHOD path" for every request served so far, with the
// API prefix removed.
func (p *FakePlatform) Requests() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.requests...)
}

// Polls returns how many status requests the job of the given sobject has
// received.
func (p *FakePlatform) Polls(kind entity.JobKind, object string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls[jobID(kind, object)]
}

// Uploaded returns the payload uploaded for the sobject's ingest job.
func (p *FakePlatform) Uploaded(object string) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uploads[object]
}

// Query returns the query submitted for the sobject.
func (p *FakePlatform) Query(object string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queries[object]
}

func jobID(kind entity.JobKind, object string) string {
	return string(kind) + "-" + object
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (p *FakePlatform) describe(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	fields, ok := p.Describes[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, []map[string]string{{"errorCode": "NOT_FOUND"}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "fields": fields})
}

func (p *FakePlatform) aggregate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	m := fromClause.FindStringSubmatch(q)
	if m == nil {
		writeJSON(w, http.StatusBadRequest, []map[string]string{{"errorCode": "MALFORMED_QUERY"}})
		return
	}
	record := map[string]any{"attributes": map[string]string{"type": "AggregateResult"}}
	for i, v := range p.Counts[m[1]] {
		record[fmt.Sprintf("expr%d", i)] = v
	}
	writeJSON(w, http.StatusOK, map[string]any{"totalSize": 1, "done": true, "records": []any{record}})
}

func (p *FakePlatform) status(kind entity.JobKind, object string, states []entity.JobState) entity.JobStatus {
	id := jobID(kind, object)
	p.mu.Lock()
	p.polls[id]++
	n := p.polls[id]
	p.mu.Unlock()

	state := entity.StateJobComplete
	if len(states) > 0 {
		state = states[min(n, len(states))-1]
	}
	status := entity.JobStatus{ID: id, Object: object, State: state}
	if kind == entity.KindIngest {
		status.Operation = "upsert"
		status.NumberRecordsFailed = p.RecordsFailed[object]
	} else {
		status.Operation = "query"
	}
	return status
}

func (p *FakePlatform) objectOf(id string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jobs[id]
}

func (p *FakePlatform) createIngest(w http.ResponseWriter, r *http.Request) {
	var cfg entity.UpsertConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, []map[string]string{{"errorCode": "JSON_PARSER_ERROR"}})
		return
	}
	id := jobID(entity.KindIngest, cfg.Object)
	p.mu.Lock()
	p.jobs[id] = cfg.Object
	p.mu.Unlock()
	writeJSON(w, http.StatusOK, entity.JobStatus{
		ID:                  id,
		Object:              cfg.Object,
		Operation:           cfg.Operation,
		State:               entity.StateOpen,
		ExternalIDFieldName: cfg.ExternalIDFieldName,
	})
}

func (p *FakePlatform) upload(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	object := p.objectOf(r.PathValue("id"))
	p.mu.Lock()
	p.uploads[object] = body
	p.mu.Unlock()

	status := p.UploadStatus
	if status == 0 {
		status = http.StatusCreated
	}
	if status != http.StatusCreated {
		http.Error(w, "upload rejected", status)
		return
	}
	w.WriteHeader(status)
}

func (p *FakePlatform) closeIngest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	writeJSON(w, http.StatusOK, entity.JobStatus{ID: id, Object: p.objectOf(id), State: entity.StateUploadComplete})
}

func (p *FakePlatform) ingestStatus(w http.ResponseWriter, r *http.Request) {
	object := p.objectOf(r.PathValue("id"))
	writeJSON(w, http.StatusOK, p.status(entity.KindIngest, object, p.IngestStates[object]))
}

func (p *FakePlatform) successful(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	_, _ = io.WriteString(w, p.SuccessCSV[p.objectOf(r.PathValue("id"))])
}

func (p *FakePlatform) failed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	_, _ = io.WriteString(w, p.FailedCSV[p.objectOf(r.PathValue("id"))])
}

func (p *FakePlatform) createQuery(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Operation string `json:"operation"`
		Query     string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Operation != "query" {
		writeJSON(w, http.StatusBadRequest, []map[string]string{{"errorCode": "INVALIDJOB"}})
		return
	}
	m := fromClause.FindStringSubmatch(body.Query)
	if m == nil {
		writeJSON(w, http.StatusBadRequest, []map[string]string{{"errorCode": "MALFORMED_QUERY"}})
		return
	}
	object := m[1]
	id := jobID(entity.KindQuery, object)
	p.mu.Lock()
	p.jobs[id] = object
	p.queries[object] = body.Query
	p.mu.Unlock()
	writeJSON(w, http.StatusOK, entity.JobStatus{ID: id, Object: object, Operation: "query", State: entity.StateUploadComplete})
}

func (p *FakePlatform) queryStatus(w http.ResponseWriter, r *http.Request) {
	object := p.objectOf(r.PathValue("id"))
	writeJSON(w, http.StatusOK, p.status(entity.KindQuery, object, p.QueryStates[object]))
}

// queryResults serves page i for locator "L<i>" (page 0 without a locator).
func (p *FakePlatform) queryResults(w http.ResponseWriter, r *http.Request) {
	object := p.objectOf(r.PathValue("id"))
	pages := p.QueryPages[object]

	if r.URL.Query().Get("maxRecords") == "" {
		http.Error(w, "maxRecords missing", http.StatusBadRequest)
		return
	}

	index := 0
	if loc := r.URL.Query().Get("locator"); loc != "" {
		if _, err := fmt.Sscanf(loc, "L%d", &index); err != nil || index >= len(pages) {
			http.Error(w, "bad locator", http.StatusBadRequest)
			return
		}
	}

	w.Header().Set("Content-Type", "text/csv")
	switch {
	case index+1 < len(pages):
		w.Header().Set("Sforce-Locator", fmt.Sprintf("L%d", index+1))
	case p.NullLocator:
		w.Header().Set("Sforce-Locator", "null")
	}
	if index < len(pages) {
		_, _ = io.WriteString(w, pages[index])
	}
}
