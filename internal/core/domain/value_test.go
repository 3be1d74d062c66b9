package domain

import (
	"testing"
	"time"
)

func TestNewSlippageToleranceBounds(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"0.5", false},
		{"100", false},
		{"0.01", false},
		{"0", true},
		{"-1", true},
		{"100.01", true},
		{"abc", true},
		{"", true},
	}

	for _, tt := range tests {
		_, err := NewSlippageTolerance(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewSlippageTolerance(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}

func TestSlippageApplyTo(t *testing.T) {
	tests := []struct {
		pct    string
		quoted string
		want   string
	}{
		{"1", "1000000", "990000"},
		{"0.5", "1000000", "995000"},
		{"100", "1000000", "0"},
		{"5", "200", "190"},
	}

	for _, tt := range tests {
		s, err := NewSlippageTolerance(tt.pct)
		if err != nil {
			t.Fatalf("NewSlippageTolerance(%q): %v", tt.pct, err)
		}
		quoted, err := NewAmount(tt.quoted)
		if err != nil {
			t.Fatalf("NewAmount(%q): %v", tt.quoted, err)
		}
		if got := s.ApplyTo(quoted); got.String() != tt.want {
			t.Errorf("ApplyTo(%s%%, %s) = %s, want %s", tt.pct, tt.quoted, got, tt.want)
		}
	}
}

func TestNewAddress(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"0x00112233445566778899aabbccddeeff00112233", false},
		{"0x00112233445566778899AABBCCDDEEFF00112233", false},
		{"0x0011", true},
		{"00112233445566778899aabbccddeeff00112233", true},
		{"", true},
	}

	for _, tt := range tests {
		_, err := NewAddress(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewAddress(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}

func TestDeadlineMustBeFuture(t *testing.T) {
	now := time.Now()
	if _, err := NewDeadline(now.Add(-time.Second), now); err == nil {
		t.Error("past deadline accepted")
	}
	if _, err := NewDeadline(now, now); err == nil {
		t.Error("present deadline accepted")
	}
	d, err := NewDeadline(now.Add(time.Minute), now)
	if err != nil {
		t.Fatalf("future deadline rejected: %v", err)
	}
	if d.Passed(now) {
		t.Error("future deadline reported as passed")
	}
	if !d.Passed(now.Add(2 * time.Minute)) {
		t.Error("expired deadline not reported as passed")
	}
}

func TestRouteValidate(t *testing.T) {
	a := Address("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	b := Address("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	c := Address("0xcccccccccccccccccccccccccccccccccccccccc")
	pool := Address("0xdddddddddddddddddddddddddddddddddddddddd")

	good := Route{
		{Pool: pool, TokenIn: a, TokenOut: b, BinStep: 20, Version: PoolV2},
		{Pool: pool, TokenIn: b, TokenOut: c, BinStep: 10, Version: PoolV2},
	}
	if err := good.Validate(a, c); err != nil {
		t.Errorf("valid route rejected: %v", err)
	}

	if err := (Route{}).Validate(a, c); err == nil {
		t.Error("empty route accepted")
	}
	if err := good.Validate(b, c); err == nil {
		t.Error("route with wrong first token accepted")
	}
	if err := good.Validate(a, b); err == nil {
		t.Error("route with wrong last token accepted")
	}

	broken := Route{
		{Pool: pool, TokenIn: a, TokenOut: b},
		{Pool: pool, TokenIn: c, TokenOut: c},
	}
	if err := broken.Validate(a, c); err == nil {
		t.Error("discontiguous route accepted")
	}
}
