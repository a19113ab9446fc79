package messaging

import "testing"

func TestMapProviderStatus(t *testing.T) {
	tests := []struct {
		raw   string
		want  Status
		known bool
	}{
		{"sent", StatusSent, true},
		{"delivered", StatusDelivered, true},
		{"read", StatusSeen, true},
		{"READ", StatusSeen, true},
		{"seen", StatusSeen, true},
		{"failed", StatusFailed, true},
		{"undelivered", StatusFailed, true},
		{" delivered ", StatusDelivered, true},
		{"warning", Status("warning"), false},
		{"Processing", Status("Processing"), false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, known := MapProviderStatus(tt.raw)
			if got != tt.want || known != tt.known {
				t.Fatalf("MapProviderStatus(%q) = (%q, %v), want (%q, %v)", tt.raw, got, known, tt.want, tt.known)
			}
		})
	}
}

func TestStatusSupersedes(t *testing.T) {
	tests := []struct {
		name    string
		next    Status
		current Status
		want    bool
	}{
		{"sent after received", StatusSent, StatusReceived, true},
		{"delivered after sent", StatusDelivered, StatusSent, true},
		{"seen after delivered", StatusSeen, StatusDelivered, true},
		{"delivered after seen is stale", StatusDelivered, StatusSeen, false},
		{"sent after delivered is stale", StatusSent, StatusDelivered, false},
		{"same status reapplies", StatusDelivered, StatusDelivered, true},
		{"failed after seen", StatusFailed, StatusSeen, true},
		{"delivered after failed is stale", StatusDelivered, StatusFailed, false},
		{"unknown always applies", Status("warning"), StatusSeen, true},
		{"known after unknown applies", StatusSent, Status("warning"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.next.Supersedes(tt.current); got != tt.want {
				t.Fatalf("%q.Supersedes(%q) = %v, want %v", tt.next, tt.current, got, tt.want)
			}
		})
	}
}

func TestComputeStats(t *testing.T) {
	msgs := []Message{
		{Direction: DirectionInbound, Status: StatusReceived},
		{Direction: DirectionInbound, Status: StatusReceived},
		{Direction: DirectionOutbound, Status: StatusSent},
		{Direction: DirectionOutbound, Status: StatusDelivered},
		{Direction: DirectionOutbound, Status: StatusSeen},
		{Direction: DirectionOutbound, Status: StatusFailed},
	}
	s := ComputeStats(msgs)
	if s.Total != 6 || s.Received != 2 || s.Sent != 4 {
		t.Fatalf("unexpected totals %+v", s)
	}
	if s.Delivered != 2 || s.Seen != 1 || s.Failed != 1 {
		t.Fatalf("unexpected status counts %+v", s)
	}
	if s.DeliveryRate != 50 || s.ReadRate != 25 {
		t.Fatalf("unexpected rates %+v", s)
	}
	if empty := ComputeStats(nil); empty.DeliveryRate != 0 || empty.Total != 0 {
		t.Fatalf("expected zero stats, got %+v", empty)
	}
}

func TestSurrogateIDs(t *testing.T) {
	a, b := NewSurrogateID(), NewSurrogateID()
	if a == b {
		t.Fatal("surrogate IDs must not repeat")
	}
	if !IsSurrogateID(a) || IsSurrogateID("wamid.HBgM") {
		t.Fatalf("unexpected surrogate detection for %q", a)
	}
}
