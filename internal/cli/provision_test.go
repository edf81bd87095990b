package cli

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"bsdci/internal/cache"
)

// scriptedFlow records which path actions run, in order.
func scriptedFlow(calls *[]string) *provisionFlow {
	return &provisionFlow{
		fetchBase: func(context.Context) (string, error) {
			*calls = append(*calls, "fetch-base")
			return "base.img", nil
		},
		copyDisk: func(string) (string, error) {
			*calls = append(*calls, "copy-disk")
			return "work.img", nil
		},
		extract: func() (string, error) {
			*calls = append(*calls, "extract")
			return "work.img", nil
		},
		setup: func(_ context.Context, diskPath string, full bool) error {
			if full {
				*calls = append(*calls, "setup-full")
			} else {
				*calls = append(*calls, "setup-update")
			}
			return nil
		},
		archive: func() error {
			*calls = append(*calls, "archive")
			return nil
		},
		record: func(mode string) {
			*calls = append(*calls, "record-"+mode)
		},
	}
}

func TestProvisionFlowReuseOnlyExtracts(t *testing.T) {
	var calls []string
	f := scriptedFlow(&calls)

	if err := f.run(context.Background(), cache.DecisionReuse); err != nil {
		t.Fatalf("run: %v", err)
	}

	// The reuse path must not touch the guest or rewrite the archive.
	want := []string{"extract"}
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestProvisionFlowFullPath(t *testing.T) {
	var calls []string
	f := scriptedFlow(&calls)

	if err := f.run(context.Background(), cache.DecisionFull); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []string{"fetch-base", "copy-disk", "setup-full", "archive", "record-full"}
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestProvisionFlowUpdatePath(t *testing.T) {
	var calls []string
	f := scriptedFlow(&calls)

	if err := f.run(context.Background(), cache.DecisionUpdate); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []string{"extract", "setup-update", "archive", "record-update"}
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestProvisionFlowStopsWhenSetupFails(t *testing.T) {
	var calls []string
	f := scriptedFlow(&calls)
	f.setup = func(context.Context, string, bool) error {
		calls = append(calls, "setup")
		return fmt.Errorf("console timeout")
	}

	err := f.run(context.Background(), cache.DecisionFull)
	if err == nil {
		t.Fatal("expected setup error")
	}

	// A failed setup must not archive a half-provisioned disk.
	for _, c := range calls {
		if c == "archive" || c == "record-full" {
			t.Errorf("ran %q after setup failure", c)
		}
	}
}

func TestProvisionFlowStopsWhenExtractFails(t *testing.T) {
	var calls []string
	f := scriptedFlow(&calls)
	f.extract = func() (string, error) {
		return "", fmt.Errorf("checksum mismatch")
	}

	if err := f.run(context.Background(), cache.DecisionUpdate); err == nil {
		t.Fatal("expected extract error")
	}
	if len(calls) != 0 {
		t.Errorf("no further actions expected, got %v", calls)
	}
}
