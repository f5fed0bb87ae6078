package trends

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/FranksOps/seedling/pkg/httpclient"
)

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name      string
		series    []int
		direction string
		seasonal  bool
	}{
		{"empty", nil, Unknown, false},
		{"single point", []int{50}, Unknown, false},
		{"rising", []int{10, 10, 10, 10, 10, 10, 20, 20, 20, 20}, Rising, false},
		{"declining", []int{50, 50, 50, 50, 50, 50, 20, 20, 20, 20}, Declining, false},
		{"stable", []int{40, 42, 41, 39, 40, 41, 40, 42}, Stable, false},
		{"seasonal spike", []int{10, 10, 100, 10, 10, 10, 10, 10, 10, 10}, Declining, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Analyze(tt.series)
			if got.Direction != tt.direction {
				t.Errorf("expected direction %s, got %s", tt.direction, got.Direction)
			}
			if got.Seasonal != tt.seasonal {
				t.Errorf("expected seasonal=%v, got %v (peak %d, avg %d)", tt.seasonal, got.Seasonal, got.Peak, got.Average)
			}
		})
	}

	got := Analyze([]int{10, 20, 30})
	if got.Current != 30 || got.Peak != 30 || got.Average != 20 {
		t.Errorf("unexpected summary %+v", got)
	}
}

func TestClient_FetchAndParse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("geo") != "US" || r.URL.Query().Get("time") != defaultTimeframe {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(")]}',\n" + `{"default":{"timelineData":[
			{"time":"1","value":[20]},{"time":"2","value":[20]},{"time":"3","value":[20]},
			{"time":"4","value":[20]},{"time":"5","value":[40]},{"time":"6","value":[40]},
			{"time":"7","value":[40]},{"time":"8","value":[40]},{"time":"9","value":[99],"isPartial":true}]}}`))
	}))
	defer ts.Close()

	hc, _ := httpclient.New(httpclient.Config{})
	c := New(hc, ts.URL)

	raw, err := c.RawCall(context.Background(), Request{Query: "air fryer", Geo: "us"})
	if err != nil {
		t.Fatalf("RawCall: %v", err)
	}
	trend, err := c.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(trend.Series) != 8 {
		t.Errorf("expected partial point dropped, got %v", trend.Series)
	}
	if trend.Direction != Rising || trend.Current != 40 {
		t.Errorf("unexpected trend %+v", trend)
	}

	if _, err := c.Parse([]byte("not json")); err == nil {
		t.Errorf("expected parse error")
	}
}

func TestRequest_CacheKey(t *testing.T) {
	a := Request{Query: "Air Fryer", Geo: "us"}
	b := Request{Query: "air  fryer", Geo: "US", Timeframe: defaultTimeframe}
	if a.CacheKey() != b.CacheKey() {
		t.Errorf("expected equal keys, got %q and %q", a.CacheKey(), b.CacheKey())
	}
}
