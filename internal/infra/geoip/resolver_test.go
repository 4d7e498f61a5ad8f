package geoip

import (
	"errors"
	"testing"
)

type stubResolver struct {
	code string
	err  error
}

func (s stubResolver) CountryCode(string) (string, error) { return s.code, s.err }

func TestCountry(t *testing.T) {
	var missing *Resolver
	cases := []struct {
		name     string
		resolver CountryResolver
		ip       string
		want     string
	}{
		{"nil interface", nil, "1.2.3.4", ""},
		{"nil resolver", missing, "1.2.3.4", ""},
		{"empty ip", stubResolver{code: "id"}, "", ""},
		{"lookup error", stubResolver{err: errors.New("boom")}, "1.2.3.4", ""},
		{"found", stubResolver{code: "id"}, "1.2.3.4", "ID"},
	}
	for _, tc := range cases {
		if got := Country(tc.resolver, tc.ip); got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.name, got, tc.want)
		}
	}
}

func TestNewResolverEmptyPath(t *testing.T) {
	r, err := NewResolver("  ")
	if err != nil || r != nil {
		t.Fatalf("expected nil resolver without error, got %v %v", r, err)
	}
	if _, err := r.CountryCode("1.2.3.4"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
