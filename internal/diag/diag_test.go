package diag

import "testing"

func TestRequireLoopbackAcceptsLoopbackAddresses(t *testing.T) {
	for _, addr := range []string{"127.0.0.1:8732", "localhost:8732", "[::1]:8732"} {
		if err := requireLoopback(addr); err != nil {
			t.Errorf("requireLoopback(%q): unexpected error: %v", addr, err)
		}
	}
}

func TestRequireLoopbackRejectsNonLoopbackAddresses(t *testing.T) {
	for _, addr := range []string{"0.0.0.0:8732", "10.0.0.5:8732", "example.com:8732"} {
		if err := requireLoopback(addr); err == nil {
			t.Errorf("requireLoopback(%q): expected an error, got nil", addr)
		}
	}
}

func TestRequireLoopbackRejectsMalformedAddress(t *testing.T) {
	if err := requireLoopback("not-a-host-port"); err == nil {
		t.Fatal("expected an error for an address missing a port")
	}
}
