package translit

import "testing"

func TestASCII(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Thank you Ada", "Thank you Ada"},
		{"Kaduna Nördliche", "Kaduna Nordliche"},
		{"Café São Tomé", "Cafe Sao Tome"},
		{"Straße", "Strasse"},
		{"Łódź", "Lodz"},
		{"“quoted” – dash…", "\"quoted\" - dash..."},
		{"ﬁeld", "field"},
		{"日本", "??"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ASCII(tt.in); got != tt.want {
			t.Errorf("ASCII(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
