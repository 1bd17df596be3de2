package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newInstrumentedMux builds the middleware around a mux mimicking the app's
// operational surface: /status plus the health and scrape endpoints.
func newInstrumentedMux(t *testing.T) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"state":"idle"}`))
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /degraded", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	return Middleware(m)(mux), reader, exp
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
	return rec
}

func TestMiddlewareTracesStatusRequests(t *testing.T) {
	h, _, exp := newInstrumentedMux(t)

	rec := get(t, h, "/status")

	cid := rec.Header().Get("X-Correlation-ID")
	if len(cid) != 32 {
		t.Fatalf("X-Correlation-ID = %q, want a 32-char trace ID", cid)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "GET /status" {
		t.Fatalf("span name = %q, want %q", spans[0].Name, "GET /status")
	}
	if spans[0].SpanContext.TraceID().String() != cid {
		t.Fatalf("span trace ID %s != correlation header %s",
			spans[0].SpanContext.TraceID(), cid)
	}
}

func TestMiddlewareKeepsHealthChecksOutOfTraces(t *testing.T) {
	h, reader, exp := newInstrumentedMux(t)

	rec := get(t, h, "/healthz")

	if got := rec.Header().Get("X-Correlation-ID"); got != "" {
		t.Fatalf("health check response carries X-Correlation-ID %q, want none", got)
	}
	if spans := exp.GetSpans(); len(spans) != 0 {
		t.Fatalf("health check produced %d spans, want 0", len(spans))
	}

	// The health check still counts towards the duration histogram.
	if n := durationCount(t, reader, "/healthz"); n != 1 {
		t.Fatalf("health check duration samples = %d, want 1", n)
	}
}

func TestMiddlewareTimesEveryRoute(t *testing.T) {
	h, reader, _ := newInstrumentedMux(t)

	get(t, h, "/status")
	get(t, h, "/status")
	get(t, h, "/healthz")

	if n := durationCount(t, reader, "/status"); n != 2 {
		t.Fatalf("/status duration samples = %d, want 2", n)
	}
	if n := durationCount(t, reader, "/healthz"); n != 1 {
		t.Fatalf("/healthz duration samples = %d, want 1", n)
	}
}

func TestMiddlewareRecordsResponseStatusOnSpan(t *testing.T) {
	h, _, exp := newInstrumentedMux(t)

	rec := get(t, h, "/degraded")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	var got int64
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "http.response.status_code" {
			got = a.Value.AsInt64()
		}
	}
	if got != http.StatusServiceUnavailable {
		t.Fatalf("span http.response.status_code = %d, want 503", got)
	}
}

func TestMiddlewareJoinsIncomingTraceContext(t *testing.T) {
	h, _, _ := newInstrumentedMux(t)

	const upstream = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest("GET", "/status", nil)
	req.Header.Set("traceparent", "00-"+upstream+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Correlation-ID"); got != upstream {
		t.Fatalf("X-Correlation-ID = %q, want upstream trace %q", got, upstream)
	}
}

// durationCount sums the request-duration histogram samples attributed to path.
func durationCount(t *testing.T, reader *sdkmetric.ManualReader, path string) uint64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "voicetalk.http.request.duration")
	if met == nil {
		return 0
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("voicetalk.http.request.duration is %T, want float64 histogram", met.Data)
	}

	var total uint64
	for _, dp := range hist.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == "path" && kv.Value.AsString() == path {
				total += dp.Count
			}
		}
	}
	return total
}
