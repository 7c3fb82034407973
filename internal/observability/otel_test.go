package observability

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/tbourn/checkin-kiosk/internal/config"
)

// seams swaps the package seams for the duration of a test and restores
// them, along with the otel globals, on cleanup.
type seams struct {
	exporterErr error
	resourceErr error

	gotServiceName string
	gotVersion     string
	clientCalls    int
}

func installSeams(t *testing.T, s *seams) {
	t.Helper()
	prevClient, prevExp, prevRes := newOTLPClient, newOTLPExporterFn, newServiceResourceFn
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		newOTLPClient, newOTLPExporterFn, newServiceResourceFn = prevClient, prevExp, prevRes
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})

	newOTLPClient = func(opts ...otlptracegrpc.Option) otlptrace.Client {
		s.clientCalls++
		return prevClient(opts...)
	}
	newOTLPExporterFn = func(ctx context.Context, c otlptrace.Client) (*otlptrace.Exporter, error) {
		if s.exporterErr != nil {
			return nil, s.exporterErr
		}
		// Unstarted exporter: nothing dials the collector.
		return otlptrace.NewUnstarted(c), nil
	}
	newServiceResourceFn = func(ctx context.Context, name, version string) (*resource.Resource, error) {
		s.gotServiceName, s.gotVersion = name, version
		if s.resourceErr != nil {
			return nil, s.resourceErr
		}
		return resource.Empty(), nil
	}
}

func enabledOTEL(name string) config.OTELConfig {
	return config.OTELConfig{
		Enabled:     true,
		Endpoint:    "collector.rec.local:4317",
		Insecure:    true,
		ServiceName: name,
		SampleRatio: 0.25,
	}
}

func TestSetupOTel_DisabledTouchesNothing(t *testing.T) {
	s := &seams{}
	installSeams(t, s)
	before := otel.GetTracerProvider()

	shutdown, err := SetupOTel(context.Background(), config.OTELConfig{Enabled: false}, "1.0.0")
	if err != nil || shutdown == nil {
		t.Fatalf("disabled setup: shutdown=%v err=%v", shutdown != nil, err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("no-op shutdown: %v", err)
	}
	if s.clientCalls != 0 {
		t.Fatalf("disabled tracing must not build an OTLP client")
	}
	if otel.GetTracerProvider() != before {
		t.Fatalf("disabled tracing replaced the global provider")
	}
}

func TestSetupOTel_Installs(t *testing.T) {
	cases := []struct {
		name     string
		cfg      config.OTELConfig
		wantName string
	}{
		{"insecure", enabledOTEL("kiosk-east"), "kiosk-east"},
		{"tls", func() config.OTELConfig { c := enabledOTEL("kiosk-west"); c.Insecure = false; return c }(), "kiosk-west"},
		{"default service name", enabledOTEL(""), defaultServiceName},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &seams{}
			installSeams(t, s)

			shutdown, err := SetupOTel(context.Background(), tc.cfg, "2.3.4")
			if err != nil {
				t.Fatalf("setup: %v", err)
			}
			defer func() { _ = shutdown(context.Background()) }()

			if s.gotServiceName != tc.wantName || s.gotVersion != "2.3.4" {
				t.Fatalf("resource got (%q,%q)", s.gotServiceName, s.gotVersion)
			}
			if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
				t.Fatalf("global provider is %T", otel.GetTracerProvider())
			}
			fields := otel.GetTextMapPropagator().Fields()
			if !contains(fields, "traceparent") || !contains(fields, "baggage") {
				t.Fatalf("propagator fields = %v", fields)
			}
		})
	}
}

func TestSetupOTel_FailuresLeaveGlobalsAlone(t *testing.T) {
	cases := []struct {
		name   string
		s      *seams
		prefix string
	}{
		{"exporter", &seams{exporterErr: errors.New("dial refused")}, "otlp exporter"},
		{"resource", &seams{resourceErr: errors.New("no host")}, "otel resource"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			installSeams(t, tc.s)
			sentinelProp := propagation.Baggage{}
			otel.SetTextMapPropagator(sentinelProp)
			before := otel.GetTracerProvider()

			shutdown, err := SetupOTel(context.Background(), enabledOTEL("kiosk"), "v")
			if err == nil || shutdown != nil {
				t.Fatalf("expected failure, got shutdown=%v err=%v", shutdown != nil, err)
			}
			if !strings.HasPrefix(err.Error(), tc.prefix) {
				t.Fatalf("error %q should start with %q", err, tc.prefix)
			}
			if otel.GetTracerProvider() != before {
				t.Fatalf("provider replaced after failure")
			}
			if _, ok := otel.GetTextMapPropagator().(propagation.Baggage); !ok {
				t.Fatalf("propagator replaced after failure")
			}
		})
	}
}

func TestSampler(t *testing.T) {
	cases := []struct {
		ratio float64
		want  string
	}{
		{1, "AlwaysOnSampler"},
		{3, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{-1, "AlwaysOffSampler"},
		{0.5, "TraceIDRatioBased{0.5}"},
	}
	for _, tc := range cases {
		got := Sampler(tc.ratio).Description()
		if !strings.HasPrefix(got, "ParentBased{root:"+tc.want) {
			t.Fatalf("Sampler(%v) = %q; want root %s", tc.ratio, got, tc.want)
		}
	}
}

func TestShutdownWithTimeout(t *testing.T) {
	ShutdownWithTimeout(nil, time.Second)

	var sawDeadline bool
	ShutdownWithTimeout(func(ctx context.Context) error {
		_, sawDeadline = ctx.Deadline()
		return errors.New("collector gone")
	}, 50*time.Millisecond)
	if !sawDeadline {
		t.Fatalf("shutdown context must carry a deadline")
	}
}

func contains(xs []string, want string) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}
