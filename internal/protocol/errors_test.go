package protocol

import "testing"

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrProtoBadRequest,
		ErrProtoVersion,
		ErrMachineNotFound,
		ErrMenuNotOpen,
		ErrMenuBusy,
		ErrBadRequest,
		ErrNoPermission,
		ErrInvalidTarget,
		ErrUnsupported,
		ErrInternal,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}

func TestNewAck(t *testing.T) {
	ok := NewAck("R1", 9, "", "")
	if !ok.Accepted || ok.Type != TypeAck || ok.ServerTick != 9 {
		t.Fatalf("ack=%+v", ok)
	}
	bad := NewAck("R2", 9, ErrNoPermission, "private machine")
	if bad.Accepted || !IsKnownCode(bad.Code) {
		t.Fatalf("ack=%+v", bad)
	}
}
