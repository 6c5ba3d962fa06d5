package krakensim

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"signal-engine/internal/model"
)

func newTestServer(t *testing.T, failEvery int) (*Server, *httptest.Server) {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	sim := New(Config{
		Pairs:     []model.Pair{model.NewPair("XBT", "EUR", "")},
		Now:       func() time.Time { return now },
		FailEvery: failEvery,
	})
	ts := httptest.NewServer(sim)
	t.Cleanup(ts.Close)
	return sim, ts
}

func getJSON(t *testing.T, url string) map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestTime(t *testing.T) {
	_, ts := newTestServer(t, 0)
	out := getJSON(t, ts.URL+"/0/public/Time")
	res := out["result"].(map[string]any)
	if res["unixtime"].(float64) != 1_700_000_000 {
		t.Errorf("unixtime = %v", res["unixtime"])
	}
}

func TestOHLC_SinceAndDeterminism(t *testing.T) {
	_, ts := newTestServer(t, 0)

	full := getJSON(t, ts.URL+"/0/public/OHLC?pair=XBTEUR&interval=5")
	rows := full["result"].(map[string]any)["XXBTZEUR"].([]any)
	if len(rows) != maxCandles {
		t.Fatalf("rows = %d, want %d", len(rows), maxCandles)
	}

	lastRow := rows[len(rows)-1].([]any)
	current := int64(lastRow[0].(float64))
	if current%300 != 0 {
		t.Errorf("bucket %d not aligned to 5m", current)
	}

	since := current - 3*300
	part := getJSON(t, ts.URL+"/0/public/OHLC?pair=XBTEUR&interval=5&since="+itoa(since))
	partRows := part["result"].(map[string]any)["XXBTZEUR"].([]any)
	if len(partRows) != 3 {
		t.Fatalf("rows after since = %d, want 3", len(partRows))
	}
	// same bucket, same candle
	a, _ := json.Marshal(partRows[2])
	b, _ := json.Marshal(lastRow)
	if string(a) != string(b) {
		t.Errorf("bucket not deterministic: %s vs %s", a, b)
	}
	if int64(part["result"].(map[string]any)["last"].(float64)) != current-300 {
		t.Errorf("last = %v", part["result"].(map[string]any)["last"])
	}
}

func TestOHLC_Errors(t *testing.T) {
	_, ts := newTestServer(t, 0)
	out := getJSON(t, ts.URL+"/0/public/OHLC?pair=FOOBAR&interval=5")
	if errs := out["error"].([]any); len(errs) != 1 || errs[0] != "EQuery:Unknown asset pair" {
		t.Errorf("unexpected error %v", out["error"])
	}
	out = getJSON(t, ts.URL+"/0/public/OHLC?pair=XBTEUR&interval=7")
	if errs := out["error"].([]any); len(errs) != 1 {
		t.Errorf("unsupported interval accepted: %v", out)
	}
}

func TestFailEvery(t *testing.T) {
	sim, ts := newTestServer(t, 2)
	codes := []int{}
	for i := 0; i < 4; i++ {
		resp, err := http.Get(ts.URL + "/0/public/Time")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	if codes[0] != 200 || codes[1] != 503 || codes[2] != 200 || codes[3] != 503 {
		t.Errorf("codes = %v", codes)
	}
	if sim.Requests() != 4 {
		t.Errorf("Requests = %d", sim.Requests())
	}
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
