package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"toxfetch/internal/model"
	"toxfetch/internal/pubchem"
)

// --- Mocks and Helpers ---

type stubProvider struct {
	mu        sync.Mutex
	cids      map[string]int64
	bodies    map[model.ViewType]string
	fetchErr  map[model.ViewType]error
	resolveAt map[string]time.Time
	delay     time.Duration
	active    int
	maxActive int
	fetches   int
}

func newStub() *stubProvider {
	return &stubProvider{
		cids:      map[string]int64{},
		bodies:    map[model.ViewType]string{},
		fetchErr:  map[model.ViewType]error{},
		resolveAt: map[string]time.Time{},
	}
}

func (s *stubProvider) ResolveCID(ctx context.Context, cas string) (int64, error) {
	s.mu.Lock()
	s.resolveAt[cas] = time.Now()
	s.active++
	if s.active > s.maxActive {
		s.maxActive = s.active
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
	}()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	cid, ok := s.cids[cas]
	if !ok {
		return 0, &pubchem.ResolutionError{CAS: cas, Err: pubchem.ErrNotFound}
	}
	return cid, nil
}

func (s *stubProvider) Fetch(ctx context.Context, cid int64, view model.ViewType) (model.RawView, error) {
	s.mu.Lock()
	s.fetches++
	s.mu.Unlock()
	if err := s.fetchErr[view]; err != nil {
		return model.RawView{}, err
	}
	return model.RawView{View: view, CID: cid, Body: []byte(s.bodies[view])}, nil
}

func inputs(cas ...string) []model.InputRecord {
	out := make([]model.InputRecord, len(cas))
	for i, c := range cas {
		out[i] = model.InputRecord{Index: i, CAS: c}
	}
	return out
}

func noSleep(p Processor) *processorImpl {
	impl := p.(*processorImpl)
	impl.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return impl
}

const ghsBody = `{"Record":{"Section":[{"TOCHeading":"GHS Classification","Information":[{"Value":{"StringWithMarkup":[{"String":"H225 Highly flammable"},{"String":"P210 Keep away from heat"}]}}]}]}}`

// TestNewProcessor validates the constructor's defaults.
func TestNewProcessor(t *testing.T) {
	testCases := []struct {
		name string
		cfg  Config
		want Config
	}{
		{name: "zero config", cfg: Config{}, want: Config{Mode: model.ModeFull, BatchSize: DefaultBatchSize}},
		{name: "negative pause", cfg: Config{Mode: model.ModeGHS, BatchSize: 3, Pause: -time.Second}, want: Config{Mode: model.ModeGHS, BatchSize: 3}},
		{name: "explicit", cfg: Config{Mode: model.ModeGHS, BatchSize: 2, Pause: time.Second}, want: Config{Mode: model.ModeGHS, BatchSize: 2, Pause: time.Second}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, ok := NewProcessor(newStub(), tc.cfg).(*processorImpl)
			if !ok {
				t.Fatalf("NewProcessor returned unexpected type")
			}
			if p.cfg != tc.want {
				t.Errorf("cfg = %+v, want %+v", p.cfg, tc.want)
			}
		})
	}
}

func TestRunPreservesOrderAndMapsErrors(t *testing.T) {
	stub := newStub()
	stub.cids["50-00-0"] = 712
	stub.cids["64-17-5"] = 702
	stub.bodies[model.ViewGHS] = ghsBody

	in := inputs("50-00-0", "00-00-0", "64-17-5")
	in = append(in, model.InputRecord{Index: 3, CAS: "", Skip: "empty CAS"})
	p := noSleep(NewProcessor(stub, Config{Mode: model.ModeGHS, BatchSize: 2}))

	got := p.Run(context.Background(), in)

	if len(got) != len(in) {
		t.Fatalf("len(results) = %d, want %d", len(got), len(in))
	}
	wantCAS := []string{"50-00-0", "00-00-0", "64-17-5", ""}
	wantStatus := []model.Status{model.StatusOK, model.StatusNotFound, model.StatusOK, model.StatusSkipped}
	for i := range got {
		if got[i].CAS != wantCAS[i] || got[i].Status != wantStatus[i] {
			t.Errorf("result[%d] = %s/%s, want %s/%s", i, got[i].CAS, got[i].Status, wantCAS[i], wantStatus[i])
		}
	}
	if got[0].PubChemCID != 712 || got[2].PubChemCID != 702 {
		t.Errorf("CIDs = %d, %d", got[0].PubChemCID, got[2].PubChemCID)
	}
	if !strings.Contains(got[1].Error, "could not find PubChem CID for CAS 00-00-0") {
		t.Errorf("not found error = %q", got[1].Error)
	}
	if !reflect.DeepEqual(got[0].Hazards, []string{"H225"}) || !reflect.DeepEqual(got[0].Precautions, []string{"P210"}) {
		t.Errorf("codes = %v / %v", got[0].Hazards, got[0].Precautions)
	}

	want := Summary{Total: 4, OK: 2, NotFound: 1, Skipped: 1, Batches: 2}
	if s := p.Summary(); s != want {
		t.Errorf("Summary() = %+v, want %+v", s, want)
	}
	if p.Summary().ItemErrors() != 1 {
		t.Errorf("ItemErrors() = %d, want 1", p.Summary().ItemErrors())
	}
}

func TestSkippedInputsMakeNoRequests(t *testing.T) {
	stub := newStub()
	in := []model.InputRecord{
		{Index: 0, CAS: "50-00-0", Skip: "filtered out"},
		{Index: 1, CAS: "", Skip: "empty CAS"},
	}
	got := noSleep(NewProcessor(stub, Config{Mode: model.ModeGHS})).Run(context.Background(), in)

	if len(stub.resolveAt) != 0 || stub.fetches != 0 {
		t.Errorf("skipped inputs reached the provider: resolves=%d fetches=%d", len(stub.resolveAt), stub.fetches)
	}
	for i, rec := range got {
		if rec.Status != model.StatusSkipped || rec.Error != in[i].Skip {
			t.Errorf("result[%d] = %+v", i, rec)
		}
	}
}

func TestBatchPacing(t *testing.T) {
	const pause = 60 * time.Millisecond
	stub := newStub()
	cas := []string{"1-1-1", "2-2-2", "3-3-3", "4-4-4", "5-5-5"}
	for i, c := range cas {
		stub.cids[c] = int64(i + 1)
	}
	stub.bodies[model.ViewGHS] = ghsBody

	p := NewProcessor(stub, Config{Mode: model.ModeGHS, BatchSize: 2, Pause: pause})
	p.Run(context.Background(), inputs(cas...))

	if got := p.Summary().Batches; got != 3 {
		t.Fatalf("Batches = %d, want 3", got)
	}
	batchStart := func(members ...string) time.Time {
		first := stub.resolveAt[members[0]]
		for _, m := range members[1:] {
			if ts := stub.resolveAt[m]; ts.Before(first) {
				first = ts
			}
		}
		return first
	}
	starts := []time.Time{
		batchStart(cas[0], cas[1]),
		batchStart(cas[2], cas[3]),
		batchStart(cas[4]),
	}
	for i := 1; i < len(starts); i++ {
		if gap := starts[i].Sub(starts[i-1]); gap < pause {
			t.Errorf("batch %d started %v after batch %d, want at least %v", i+1, gap, i, pause)
		}
	}
}

func TestPauseCountAndConcurrency(t *testing.T) {
	stub := newStub()
	stub.delay = 20 * time.Millisecond
	for i := 0; i < 5; i++ {
		stub.cids[fmt.Sprintf("%d-00-0", i)] = int64(100 + i)
	}
	stub.bodies[model.ViewGHS] = ghsBody

	p := NewProcessor(stub, Config{Mode: model.ModeGHS, BatchSize: 2, Pause: time.Hour}).(*processorImpl)
	var pauses []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		pauses = append(pauses, d)
		return nil
	}
	p.Run(context.Background(), inputs("0-00-0", "1-00-0", "2-00-0", "3-00-0", "4-00-0"))

	if len(pauses) != 2 || pauses[0] != time.Hour {
		t.Errorf("pauses = %v, want two of 1h", pauses)
	}
	if stub.maxActive > 2 {
		t.Errorf("max concurrent lookups = %d, want at most the batch size", stub.maxActive)
	}
	if stub.maxActive < 2 {
		t.Errorf("max concurrent lookups = %d, want items of a batch to overlap", stub.maxActive)
	}
}

func TestViewFailures(t *testing.T) {
	exhausted := &pubchem.FetchError{View: model.ViewCompound, StatusCode: 503, Class: pubchem.ErrorClassServer, Attempts: 3, Err: pubchem.ErrRetryExhausted}
	notFound := &pubchem.FetchError{StatusCode: 404, Class: pubchem.ErrorClassClient, Err: pubchem.ErrNotFound}

	testCases := []struct {
		name        string
		mode        model.Mode
		fetchErr    map[model.ViewType]error
		bodies      map[model.ViewType]string
		wantStatus  model.Status
		wantHazards []string
		wantErrSub  string
	}{
		{
			name:       "compound view exhausted",
			mode:       model.ModeFull,
			fetchErr:   map[model.ViewType]error{model.ViewCompound: exhausted},
			wantStatus: model.StatusFailed,
			wantErrSub: "retry attempts exhausted",
		},
		{
			name:        "property view missing degrades",
			mode:        model.ModeFull,
			fetchErr:    map[model.ViewType]error{model.ViewProperties: exhausted},
			bodies:      map[model.ViewType]string{model.ViewCompound: `{"Record":{"Section":[]}}`},
			wantStatus:  model.StatusOK,
			wantHazards: []string{model.NoDataFound},
		},
		{
			name:       "compound body without record",
			mode:       model.ModeFull,
			bodies:     map[model.ViewType]string{model.ViewCompound: `{}`, model.ViewProperties: `{}`},
			wantStatus: model.StatusFailed,
			wantErrSub: "could not find compound data",
		},
		{
			name:        "ghs view not found gives sentinel",
			mode:        model.ModeGHS,
			fetchErr:    map[model.ViewType]error{model.ViewGHS: notFound},
			wantStatus:  model.StatusOK,
			wantHazards: []string{model.NoDataFound},
		},
		{
			name:       "ghs view exhausted fails item",
			mode:       model.ModeGHS,
			fetchErr:   map[model.ViewType]error{model.ViewGHS: exhausted},
			wantStatus: model.StatusFailed,
			wantErrSub: "HTTP 503",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			stub := newStub()
			stub.cids["50-00-0"] = 712
			if tc.fetchErr != nil {
				stub.fetchErr = tc.fetchErr
			}
			if tc.bodies != nil {
				stub.bodies = tc.bodies
			}
			got := noSleep(NewProcessor(stub, Config{Mode: tc.mode})).Run(context.Background(), inputs("50-00-0"))[0]

			if got.Status != tc.wantStatus {
				t.Fatalf("status = %s, want %s (error %q)", got.Status, tc.wantStatus, got.Error)
			}
			if got.PubChemCID != 712 {
				t.Errorf("PubChemCID = %d, want 712 once resolved", got.PubChemCID)
			}
			if tc.wantErrSub != "" && !strings.Contains(got.Error, tc.wantErrSub) {
				t.Errorf("error = %q, want substring %q", got.Error, tc.wantErrSub)
			}
			if tc.wantHazards != nil && !reflect.DeepEqual(got.Hazards, tc.wantHazards) {
				t.Errorf("Hazards = %v, want %v", got.Hazards, tc.wantHazards)
			}
		})
	}
}

func TestCancelledRunReturnsEveryRecord(t *testing.T) {
	stub := newStub()
	stub.cids["1-1-1"] = 1
	stub.bodies[model.ViewGHS] = ghsBody
	ctx, cancel := context.WithCancel(context.Background())

	p := NewProcessor(stub, Config{Mode: model.ModeGHS, BatchSize: 1, Pause: time.Hour}).(*processorImpl)
	p.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return context.Canceled
	}
	got := p.Run(ctx, inputs("1-1-1", "2-2-2", "3-3-3"))

	if len(got) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(got))
	}
	if got[0].Status != model.StatusOK {
		t.Errorf("first record = %+v, want ok", got[0])
	}
	for _, rec := range got[1:] {
		if rec.Status != model.StatusFailed || !strings.Contains(rec.Error, "not processed") {
			t.Errorf("record %s = %s %q, want failed/not processed", rec.CAS, rec.Status, rec.Error)
		}
	}
	if len(stub.resolveAt) != 1 {
		t.Errorf("resolved %d inputs after cancel, want 1", len(stub.resolveAt))
	}
}

// TestEndToEndAgainstStubServer runs the real client against an httptest PubChem.
func TestEndToEndAgainstStubServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/pug/compound/name/50-00-0/cids/JSON":
			fmt.Fprint(w, `{"IdentifierList":{"CID":[712]}}`)
		case "/rest/pug/compound/name/64-17-5/cids/JSON":
			fmt.Fprint(w, `{"IdentifierList":{"CID":[702]}}`)
		case "/rest/pug_view/data/compound/712/JSON":
			fmt.Fprint(w, `{"Record":{"Section":[{"TOCHeading":"GHS Classification","Information":[{"Value":{"StringWithMarkup":[{"String":"H301, H311, H331, H314, H317, H341, H350, H370"},{"String":"P201 P202 P260"}]}}]}]}}`)
		case "/rest/pug_view/data/compound/702/JSON":
			fmt.Fprint(w, `{"Record":{"Section":[{"TOCHeading":"GHS Classification","Information":[{"Value":{"StringWithMarkup":[{"String":"H225 (100%): Highly Flammable liquid and vapor"},{"String":"P210"}]}}]}]}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := pubchem.New(pubchem.Config{BaseURL: srv.URL + "/rest/pug", ViewURL: srv.URL + "/rest/pug_view", Retry: pubchem.RetryPolicy{MaxAttempts: 1}})
	defer client.Close()

	got := NewProcessor(client, Config{Mode: model.ModeGHS, BatchSize: 5}).Run(context.Background(), inputs("50-00-0", "64-17-5"))

	data, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if strings.Contains(string(data), "null") {
		t.Errorf("output contains null: %s", data)
	}
	var decoded []map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("records = %d, want 2", len(decoded))
	}
	for i, want := range []float64{712, 702} {
		if decoded[i]["PubChemCID"] != want {
			t.Errorf("record %d PubChemCID = %v, want %v", i, decoded[i]["PubChemCID"], want)
		}
		if _, ok := decoded[i]["Synonyms"].([]interface{}); !ok {
			t.Errorf("record %d Synonyms = %#v, want empty list", i, decoded[i]["Synonyms"])
		}
	}
	if !reflect.DeepEqual(got[1].Hazards, []string{"H225"}) {
		t.Errorf("ethanol hazards = %v", got[1].Hazards)
	}
	if len(got[0].Hazards) != 8 || got[0].Hazards[0] != "H301" {
		t.Errorf("formaldehyde hazards = %v", got[0].Hazards)
	}
}

func TestStatusFor(t *testing.T) {
	if got := statusFor(fmt.Errorf("wrapped: %w", pubchem.ErrNotFound)); got != model.StatusNotFound {
		t.Errorf("statusFor(not found) = %s", got)
	}
	if got := statusFor(errors.New("boom")); got != model.StatusFailed {
		t.Errorf("statusFor(other) = %s", got)
	}
}
