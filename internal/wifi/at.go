package wifi

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Response markers of the ESP8266 AT firmware
const (
	RespOK      = "OK"
	RespReady   = "ready"
	RespGotIP   = "WIFI GOT IP"
	RespConnect = "CONNECT"
	RespPrompt  = ">"
)

const lineEnd = "\r\n"

// Line terminates a command for the wire
func Line(cmd string) []byte {
	return []byte(cmd + lineEnd)
}

// Reset restarts the module
func Reset() string { return "AT+RST" }

// Attention is the liveness probe
func Attention() string { return "AT" }

// StationMode selects WiFi client mode
func StationMode() string { return "AT+CWMODE=1" }

// Join associates with an access point
func Join(ssid, password string) string {
	return fmt.Sprintf("AT+CWJAP=%s,%s", quote(ssid), quote(password))
}

// IPQuery asks for the local addresses
func IPQuery() string { return "AT+CIFSR" }

// Start opens a TCP connection
func Start(host string, port int) string {
	return fmt.Sprintf("AT+CIPSTART=\"TCP\",%s,%d", quote(host), port)
}

// SendLength announces the byte count of the next raw write
func SendLength(n int) string {
	return "AT+CIPSEND=" + strconv.Itoa(n)
}

// Close closes the TCP connection
func Close() string { return "AT+CIPCLOSE" }

// quote wraps s in double quotes, escaping the characters the AT parser treats specially
func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, `,`, `\,`)
	return `"` + r.Replace(s) + `"`
}

// HTTPRequest builds a raw HTTP/1.1 POST carrying a JSON body
func HTTPRequest(host, path string, body []byte) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "POST %s HTTP/1.1\r\n", path)
	fmt.Fprintf(&b, "Host: %s\r\n", host)
	b.WriteString("Content-Type: application/json\r\n")
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(body))
	b.WriteString("Connection: close\r\n\r\n")
	b.Write(body)
	return []byte(b.String())
}

var (
	stationIPRe  = regexp.MustCompile(`STAIP,"([0-9.]+)"`)
	httpStatusRe = regexp.MustCompile(`HTTP/1\.[01] (\d{3})`)
)

// ParseStationIP extracts the station address from an AT+CIFSR response
func ParseStationIP(resp string) (string, bool) {
	m := stationIPRe.FindStringSubmatch(resp)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ParseHTTPStatus extracts the status code of the first HTTP status line in resp
func ParseHTTPStatus(resp string) (int, bool) {
	m := httpStatusRe.FindStringSubmatch(resp)
	if m == nil {
		return 0, false
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return code, true
}
