package wifi

import (
	"strings"
	"testing"
)

func TestEncoders(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"reset", Reset(), "AT+RST"},
		{"attention", Attention(), "AT"},
		{"station mode", StationMode(), "AT+CWMODE=1"},
		{"join", Join("ssid", "pass"), `AT+CWJAP="ssid","pass"`},
		{"join escapes", Join(`my"net`, `a,b\c`), `AT+CWJAP="my\"net","a\,b\\c"`},
		{"ip query", IPQuery(), "AT+CIFSR"},
		{"start", Start("embedapi.botechgida.com", 80), `AT+CIPSTART="TCP","embedapi.botechgida.com",80`},
		{"send length", SendLength(187), "AT+CIPSEND=187"},
		{"close", Close(), "AT+CIPCLOSE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestLine(t *testing.T) {
	if got := string(Line("AT")); got != "AT\r\n" {
		t.Errorf("Line() = %q", got)
	}
}

func TestHTTPRequest(t *testing.T) {
	body := []byte(`{"device_id":"k64f-monitor"}`)
	req := string(HTTPRequest("example.com", "/api/predict", body))

	want := "POST /api/predict HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Content-Type: application/json\r\n" +
		"Content-Length: 28\r\n" +
		"Connection: close\r\n\r\n" +
		`{"device_id":"k64f-monitor"}`
	if req != want {
		t.Errorf("HTTPRequest() =\n%q\nwant\n%q", req, want)
	}

	head, gotBody, found := strings.Cut(req, "\r\n\r\n")
	if !found || !strings.Contains(head, "Content-Length: 28") || len(gotBody) != 28 {
		t.Error("Content-Length must equal the body length")
	}
}

func TestParseStationIP(t *testing.T) {
	resp := "AT+CIFSR\r\n+CIFSR:STAIP,\"192.168.1.42\"\r\n+CIFSR:STAMAC,\"5c:cf:7f:00:00:01\"\r\n\r\nOK\r\n"
	ip, ok := ParseStationIP(resp)
	if !ok || ip != "192.168.1.42" {
		t.Errorf("ParseStationIP() = %q, %v", ip, ok)
	}

	if _, ok := ParseStationIP("ERROR\r\n"); ok {
		t.Error("ParseStationIP() should fail without STAIP")
	}
}

func TestParseHTTPStatus(t *testing.T) {
	tests := []struct {
		resp string
		code int
		ok   bool
	}{
		{"SEND OK\r\n+IPD,120:HTTP/1.1 200 OK\r\n", 200, true},
		{"+IPD,80:HTTP/1.0 503 Service Unavailable", 503, true},
		{"SEND OK\r\n", 0, false},
	}
	for _, tt := range tests {
		code, ok := ParseHTTPStatus(tt.resp)
		if code != tt.code || ok != tt.ok {
			t.Errorf("ParseHTTPStatus(%q) = %d, %v, want %d, %v", tt.resp, code, ok, tt.code, tt.ok)
		}
	}
}
