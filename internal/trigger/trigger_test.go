package trigger

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	logx "remindd/pkg/logx"
)

func TestAddIntervalValidation(t *testing.T) {
	tr := New(logx.Nop())
	if err := tr.AddInterval("bad", 0, func() {}); err == nil {
		t.Error("zero interval accepted")
	}
	if err := tr.AddInterval("bad", -time.Second, func() {}); err == nil {
		t.Error("negative interval accepted")
	}
}

func TestIntervalJobFires(t *testing.T) {
	tr := New(logx.Nop())
	var fired atomic.Int32
	if err := tr.AddInterval("tick", 20*time.Millisecond, func() { fired.Add(1) }); err != nil {
		t.Fatal(err)
	}
	tr.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := tr.Stop(ctx); err != nil {
			t.Fatal(err)
		}
	}()

	deadline := time.After(2 * time.Second)
	for fired.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("job never fired")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestReregisterReplacesJob(t *testing.T) {
	tr := New(logx.Nop())
	var first, second atomic.Int32
	if err := tr.AddInterval("job", 20*time.Millisecond, func() { first.Add(1) }); err != nil {
		t.Fatal(err)
	}
	if err := tr.AddInterval("job", 20*time.Millisecond, func() { second.Add(1) }); err != nil {
		t.Fatal(err)
	}
	tr.Start()
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tr.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if first.Load() != 0 {
		t.Errorf("replaced job fired %d times", first.Load())
	}
	if second.Load() == 0 {
		t.Error("replacement job never fired")
	}
}
