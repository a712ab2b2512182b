package keys

import "testing"

func TestDerive_Deterministic(t *testing.T) {
	a := Derive(SeedTransfer, "alice", 1)
	b := Derive(SeedTransfer, "alice", 1)
	if a != b {
		t.Errorf("same inputs produced %q and %q", a, b)
	}
	if a == "" {
		t.Error("derived address should not be empty")
	}
}

func TestDerive_DistinctInputs(t *testing.T) {
	base := Derive(SeedTransfer, "alice", 1)

	cases := map[string]string{
		"different seed":  Derive(SeedGroupPayment, "alice", 1),
		"different owner": Derive(SeedTransfer, "bob", 1),
		"different id":    Derive(SeedTransfer, "alice", 2),
	}
	for name, got := range cases {
		if got == base {
			t.Errorf("%s collided with base address %q", name, base)
		}
	}
}

func TestDerive_IDEncoding(t *testing.T) {
	// IDs that share low bytes must still derive distinct addresses.
	a := Derive(SeedTransfer, "alice", 1)
	b := Derive(SeedTransfer, "alice", 1<<32|1)
	if a == b {
		t.Error("ids differing only in high bytes collided")
	}
}

func TestTransferAndGroupPayment(t *testing.T) {
	if Transfer("alice", 7) != Derive(SeedTransfer, "alice", 7) {
		t.Error("Transfer should use the transfer seed")
	}
	if GroupPayment("alice", 7) != Derive(SeedGroupPayment, "alice", 7) {
		t.Error("GroupPayment should use the group payment seed")
	}
	if Transfer("alice", 7) == GroupPayment("alice", 7) {
		t.Error("transfer and group payment addresses must not collide")
	}
}

func TestProfile(t *testing.T) {
	a := Profile("alice")
	if a == "" {
		t.Fatal("profile address should not be empty")
	}
	if a != Profile("alice") {
		t.Error("profile address should be deterministic")
	}
	if a == Profile("bob") {
		t.Error("different owners should derive different profile addresses")
	}
}
