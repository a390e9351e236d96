package app

import (
	"context"
	"testing"

	"github.com/aquamarinepk/aqm"
)

func TestNewRequiresConfig(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Error("New() without config should fail")
	}
}

func TestInitializeWiresComponents(t *testing.T) {
	a, err := New(aqm.NewConfig(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := a.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	if a.Store == nil || a.Sessions == nil || a.Queue == nil || a.Engine == nil {
		t.Errorf("components not wired: %+v", a)
	}
	if a.micro == nil {
		t.Error("micro not built")
	}
}

func TestRunBeforeInitialize(t *testing.T) {
	a, _ := New(aqm.NewConfig(), nil)
	if err := a.Run(context.Background()); err == nil {
		t.Error("Run() before Initialize should fail")
	}
}
