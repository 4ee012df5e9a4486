package channel

import (
	"context"
	"testing"
	"time"

	"calibflow/models"
)

func TestSendAndReceive(t *testing.T) {
	c := NewChannels(2)
	defer c.Close()

	batch := models.SurfaceBatch{BatchID: "b1", RecordCount: 1, Records: []models.SurfaceRecord{{CellIndex: 0}}}
	if !c.SendBatch(context.Background(), batch) {
		t.Fatal("send failed on empty buffer")
	}

	got := <-c.Records
	if got.BatchID != "b1" || got.RecordCount != 1 {
		t.Fatalf("received %+v, want %+v", got, batch)
	}

	stats := c.GetStats()
	if stats.Sent != 1 || stats.Dropped != 0 {
		t.Fatalf("stats = %+v, want 1 sent 0 dropped", stats)
	}
}

func TestSendBlocksUntilDrained(t *testing.T) {
	c := NewChannels(1)
	defer c.Close()

	ctx := context.Background()
	if !c.SendBatch(ctx, models.SurfaceBatch{BatchID: "fill"}) {
		t.Fatal("first send failed")
	}

	done := make(chan bool)
	go func() {
		done <- c.SendBatch(ctx, models.SurfaceBatch{BatchID: "blocked"})
	}()

	select {
	case <-done:
		t.Fatal("send completed against a full buffer before drain")
	case <-time.After(20 * time.Millisecond):
	}

	<-c.Records
	select {
	case ok := <-done:
		if !ok {
			t.Fatal("blocked send reported failure after drain")
		}
	case <-time.After(time.Second):
		t.Fatal("blocked send never completed after drain")
	}
}

func TestSendAbandonedOnCancel(t *testing.T) {
	c := NewChannels(1)
	defer c.Close()

	if !c.SendBatch(context.Background(), models.SurfaceBatch{BatchID: "fill"}) {
		t.Fatal("first send failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if c.SendBatch(ctx, models.SurfaceBatch{BatchID: "late"}) {
		t.Fatal("send succeeded against full buffer with cancelled context")
	}

	stats := c.GetStats()
	if stats.Dropped != 1 {
		t.Fatalf("dropped = %d, want 1", stats.Dropped)
	}
}

func TestStartMetricsReporting(t *testing.T) {
	c := NewChannels(10)
	ctx, cancel := context.WithCancel(context.Background())
	c.StartMetricsReporting(ctx, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	cancel()
	c.Close()
}

func TestHighWaterMark(t *testing.T) {
	c := NewChannels(4)
	defer c.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		c.SendBatch(ctx, models.SurfaceBatch{})
	}
	if hw := c.GetStats().HighWater; hw != 3 {
		t.Fatalf("high water = %d, want 3", hw)
	}
	if c.Len() != 3 || c.Cap() != 4 {
		t.Fatalf("len/cap = %d/%d, want 3/4", c.Len(), c.Cap())
	}
}
