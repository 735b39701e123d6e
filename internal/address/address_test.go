package address

import (
	"errors"
	"testing"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name  string
		input string
		own   string
		want  string
	}{
		{name: "bare number", input: "5511999999999", want: "5511999999999@s.whatsapp.net"},
		{name: "bare number with own set", input: "5511999999999", own: "5511000000000", want: "5511999999999@s.whatsapp.net"},
		{name: "qualified passes through", input: "5511999999999@s.whatsapp.net", want: "5511999999999@s.whatsapp.net"},
		{name: "group passes through", input: "120363025246125486@g.us", want: "120363025246125486@g.us"},
		{name: "formatted number", input: "+55 (11) 99999-9999", want: "5511999999999@s.whatsapp.net"},
		{name: "empty uses own", input: "", own: "5511000000000", want: "5511000000000@s.whatsapp.net"},
		{name: "me uses own", input: "me", own: "+5511000000000", want: "5511000000000@s.whatsapp.net"},
		{name: "empty without own", input: "", want: ""},
		{name: "garbage unchanged", input: "not-a-valid-jid", want: "not-a-valid-jid"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Resolve(tc.input, tc.own); got != tc.want {
				t.Fatalf("Resolve(%q,%q) = %q want %q", tc.input, tc.own, got, tc.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := []string{
		"5511999999999@s.whatsapp.net",
		"120363025246125486@g.us",
	}
	for _, jid := range valid {
		if err := Validate(jid); err != nil {
			t.Fatalf("expected %q valid, got %v", jid, err)
		}
	}

	invalid := []string{
		"not-a-valid-jid",
		"",
		"@s.whatsapp.net",
		"5511999999999@",
		"status@broadcast",
		"5511999999999@lid",
		"a@b@s.whatsapp.net",
	}
	for _, jid := range invalid {
		if err := Validate(jid); !errors.Is(err, ErrInvalid) {
			t.Fatalf("expected ErrInvalid for %q, got %v", jid, err)
		}
	}
}

func TestClassifiers(t *testing.T) {
	if !IsBroadcast(StatusBroadcast) {
		t.Fatalf("status broadcast not recognised")
	}
	if IsPrivate(StatusBroadcast) {
		t.Fatalf("status broadcast treated as private")
	}
	if !IsPrivate("5511999999999:12@s.whatsapp.net") {
		t.Fatalf("device-suffixed jid should be private")
	}
	if got := Phone("5511999999999:12@s.whatsapp.net"); got != "5511999999999" {
		t.Fatalf("unexpected phone: %q", got)
	}
}
