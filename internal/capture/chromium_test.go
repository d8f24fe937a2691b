package capture

import (
	"context"
	"errors"
	"testing"
)

func TestOptionsDefaults(t *testing.T) {
	o, err := Options{URL: "http://127.0.0.1:8080/agenda", OutputPath: "out.png"}.withDefaults()
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if o.Width != DefaultWidth || o.Height != DefaultHeight || o.Timeout != DefaultTimeout {
		t.Fatalf("unexpected defaults %+v", o)
	}
}

func TestAgendaPNGValidatesBeforeLaunching(t *testing.T) {
	if err := AgendaPNG(context.Background(), Options{OutputPath: "x.png"}); !errors.Is(err, ErrNoURL) {
		t.Fatalf("expect ErrNoURL, got %v", err)
	}
	if err := AgendaPNG(context.Background(), Options{URL: "http://x"}); !errors.Is(err, ErrNoOutput) {
		t.Fatalf("expect ErrNoOutput, got %v", err)
	}
}
